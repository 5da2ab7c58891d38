package domain

import (
	"time"

	"github.com/google/uuid"
)

// DMConversation pairs two users for direct messaging. User1ID sorts before
// User2ID lexically, so the same pair always maps to a single row.
type DMConversation struct {
	ID        uuid.UUID `json:"id"`
	User1ID   uuid.UUID `json:"user1_id"`
	User2ID   uuid.UUID `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
	// Joined fields, filled when listing from the perspective of one user
	OtherUserID       uuid.UUID `json:"other_user_id,omitempty"`
	OtherUserUsername string    `json:"other_user_username,omitempty"`
}

// Participant reports whether userID is one of the two sides.
func (c *DMConversation) Participant(userID uuid.UUID) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// Other returns the participant that is not userID.
func (c *DMConversation) Other(userID uuid.UUID) uuid.UUID {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// DMMessage is an AES-256-GCM envelope encrypted client-side with a fresh
// per-message key. The key travels alongside, wrapped twice with RSA-OAEP:
// once for the recipient and once for the sender, so both sides can reopen
// the thread later. The server relays the blobs without reading any of them.
type DMMessage struct {
	ID                  uuid.UUID `json:"id"`
	ConversationID      uuid.UUID `json:"conversation_id"`
	SenderID            uuid.UUID `json:"sender_id"`
	RecipientID         uuid.UUID `json:"recipient_id"`
	Ciphertext          []byte    `json:"ciphertext"`
	IV                  []byte    `json:"iv"`
	AuthTag             []byte    `json:"auth_tag"`
	WrappedKeySender    []byte    `json:"wrapped_key_sender"`
	WrappedKeyRecipient []byte    `json:"wrapped_key_recipient"`
	CreatedAt           time.Time `json:"created_at"`
	// Joined fields
	SenderUsername string `json:"sender_username,omitempty"`
}
