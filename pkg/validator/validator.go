package validator

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// RSA-2048 OAEP ciphertext is 256 bytes; leave headroom up to 4096-bit keys.
const (
	minWrappedKeySize = 128
	maxWrappedKeySize = 512
)

func ValidateRegister(email, username, displayName, password string) ValidationErrors {
	errs := make(ValidationErrors)

	// Email
	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}

	// Username
	username = strings.TrimSpace(username)
	if username == "" {
		errs.Add("username", "Username is required")
	} else if len(username) < 3 {
		errs.Add("username", "Username must be at least 3 characters")
	} else if len(username) > 50 {
		errs.Add("username", "Username is too long")
	} else if !usernameRegex.MatchString(username) {
		errs.Add("username", "Username can only contain letters, numbers, _ and -")
	}

	// Display name
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		errs.Add("display_name", "Display name is required")
	} else if len(displayName) < 2 {
		errs.Add("display_name", "Display name must be at least 2 characters")
	} else if len(displayName) > 100 {
		errs.Add("display_name", "Display name is too long")
	}

	// Password
	validatePassword(password, errs)

	return errs
}

func ValidateLogin(email, password string) ValidationErrors {
	errs := make(ValidationErrors)

	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}

	if password == "" {
		errs.Add("password", "Password is required")
	}

	return errs
}

func ValidateGroup(name string) ValidationErrors {
	errs := make(ValidationErrors)

	name = strings.TrimSpace(name)
	if name == "" {
		errs.Add("name", "Group name is required")
	} else if len(name) < 2 {
		errs.Add("name", "Group name must be at least 2 characters")
	} else if len(name) > 100 {
		errs.Add("name", "Group name is too long")
	}

	return errs
}

// ValidateWrappedKey checks size bounds only; the blob is opaque ciphertext
// and the server cannot (and must not) look inside.
func ValidateWrappedKey(field string, key []byte, errs ValidationErrors) {
	if len(key) == 0 {
		errs.Add(field, "Wrapped session key is required")
	} else if len(key) < minWrappedKeySize || len(key) > maxWrappedKeySize {
		errs.Add(field, fmt.Sprintf("Wrapped session key must be between %d and %d bytes", minWrappedKeySize, maxWrappedKeySize))
	}
}

// ValidateEnvelope checks the AES-GCM envelope fields of a group message.
func ValidateEnvelope(ciphertext, iv, authTag []byte) ValidationErrors {
	errs := make(ValidationErrors)

	if len(ciphertext) == 0 {
		errs.Add("ciphertext", "Ciphertext is required")
	} else if len(ciphertext) > 64*1024 {
		errs.Add("ciphertext", "Ciphertext is too large")
	}

	if len(iv) != 12 && len(iv) != 16 {
		errs.Add("iv", "IV must be 12 or 16 bytes")
	}

	if len(authTag) != 16 {
		errs.Add("auth_tag", "Auth tag must be 16 bytes")
	}

	return errs
}

func validatePassword(password string, errs ValidationErrors) {
	if len(password) < 8 {
		errs.Add("password", "Password must be at least 8 characters")
		return
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	missing := []string{}
	if !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if !hasDigit {
		missing = append(missing, "one number")
	}

	if len(missing) > 0 {
		errs.Add("password", fmt.Sprintf("Password must contain at least %s", strings.Join(missing, ", ")))
	}
}
