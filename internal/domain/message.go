package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is an AES-256-GCM envelope encrypted client-side with the group's
// session key. The server stores and relays it without being able to read it.
type Message struct {
	ID         uuid.UUID `json:"id"`
	GroupID    uuid.UUID `json:"group_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	Ciphertext []byte    `json:"ciphertext"`
	IV         []byte    `json:"iv"`
	AuthTag    []byte    `json:"auth_tag"`
	// KeyVersion records which session-key generation encrypted this message,
	// so members holding a stale key know to refetch before decrypting.
	KeyVersion int       `json:"key_version"`
	CreatedAt  time.Time `json:"created_at"`
	// Joined fields
	SenderUsername string `json:"sender_username,omitempty"`
}
