package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/tajnachat/tajna/internal/domain"
	"github.com/tajnachat/tajna/internal/service"
	"github.com/tajnachat/tajna/internal/transport/http/middleware"
)

type KeyHandler struct {
	authService  *service.AuthService
	groupService *service.GroupService
	notices      service.NoticeQueue
}

func NewKeyHandler(authService *service.AuthService, groupService *service.GroupService, notices service.NoticeQueue) *KeyHandler {
	return &KeyHandler{authService: authService, groupService: groupService, notices: notices}
}

// GetPublicKey serves another user's RSA public key so a client can wrap a
// session key for them.
func (h *KeyHandler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	key, err := h.authService.PublicKey(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		case errors.Is(err, service.ErrNoPublicKey):
			writeError(w, http.StatusNotFound, "NO_PUBLIC_KEY", "User has not registered a public key")
		default:
			log.Printf("ERROR get public key: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"public_key": string(key),
	})
}

func (h *KeyHandler) SetPublicKey(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var body struct {
		PublicKey string `json:"public_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if err := h.authService.SetPublicKey(r.Context(), userID, body.PublicKey); err != nil {
		if errors.Is(err, service.ErrBadPublicKey) {
			writeError(w, http.StatusBadRequest, "INVALID_PUBLIC_KEY", "Public key must be a PEM-encoded RSA key")
		} else {
			log.Printf("ERROR set public key: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetGroupKey returns the caller's own wrapped session key for a group plus
// the group's current key version, so the client can detect a stale copy.
func (h *KeyHandler) GetGroupKey(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	mk, groupVersion, err := h.groupService.GetMemberKey(r.Context(), userID, groupID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGroupNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		case errors.Is(err, service.ErrNotMember):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "You are not a member of this group")
		default:
			log.Printf("ERROR get group key: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"wrapped_key":       mk.WrappedKey,
		"key_version":       mk.KeyVersion,
		"group_key_version": groupVersion,
		"pending":           mk.Pending(),
	})
}

// PendingNotices drains the caller's queued rotation notices. A client that
// was offline during a rotation calls this on startup, then refetches each
// listed group's key.
func (h *KeyHandler) PendingNotices(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	notices, err := h.notices.Drain(r.Context(), userID)
	if err != nil {
		log.Printf("ERROR drain rotation notices: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	if notices == nil {
		notices = []domain.RotationNotice{}
	}

	writeJSON(w, http.StatusOK, notices)
}
