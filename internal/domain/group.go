package domain

import (
	"time"

	"github.com/google/uuid"
)

// Group is a multi-party E2EE conversation. The server tracks distribution
// metadata only; the session key itself exists solely on clients.
type Group struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	AvatarURL    *string   `json:"avatar_url,omitempty"`
	OwnerID      uuid.UUID `json:"owner_id"`
	PasswordHash *string   `json:"-"`
	// KeyVersion identifies the current session-key generation. It only ever
	// increases; a bump invalidates every older wrapped copy.
	KeyVersion int       `json:"key_version"`
	MaxMembers int       `json:"max_members"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (g *Group) IsPasswordProtected() bool {
	return g.PasswordHash != nil
}

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Member record lifecycle: invited (key provisioned, not yet joined) →
// active → inactive (kicked or left; kept for history).
const (
	MemberStateInvited  = "invited"
	MemberStateActive   = "active"
	MemberStateInactive = "inactive"
)

// MemberKey is one member's wrapped copy of a group's session key. The
// wrapped key is opaque ciphertext produced client-side with the member's
// RSA public key; it is usable only while its version matches the group's.
type MemberKey struct {
	GroupID    uuid.UUID  `json:"group_id"`
	UserID     uuid.UUID  `json:"user_id"`
	WrappedKey []byte     `json:"wrapped_key,omitempty"`
	KeyVersion int        `json:"key_version"`
	Role       string     `json:"role"`
	State      string     `json:"state"`
	JoinedAt   time.Time  `json:"joined_at"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
	// Joined fields
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Live reports whether the record counts toward current membership.
func (m *MemberKey) Live() bool {
	return m.State != MemberStateInactive
}

// Pending reports whether the member was admitted without a wrapped key
// (public-group join) and still waits for a grant.
func (m *MemberKey) Pending() bool {
	return len(m.WrappedKey) == 0
}

func (m *MemberKey) HasLatestKey(groupVersion int) bool {
	return m.KeyVersion == groupVersion
}

// RotationNotice tells a member that their group's session key was rotated
// while they were offline and a fresh wrapped copy awaits them.
type RotationNotice struct {
	GroupID    uuid.UUID `json:"group_id"`
	KeyVersion int       `json:"key_version"`
}
