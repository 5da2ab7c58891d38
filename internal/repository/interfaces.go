package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tajnachat/tajna/internal/domain"
)

var (
	// ErrVersionConflict means a rotation commit lost the compare-and-swap on
	// the group's key version to a concurrent rotation. Callers retry with a
	// fresh membership snapshot.
	ErrVersionConflict = errors.New("group key version changed concurrently")
	// ErrDuplicateActiveMember means an insert would create a second live
	// record for the same (group, user) pair.
	ErrDuplicateActiveMember = errors.New("member already has a live record")
	// ErrDuplicateConversation means both sides opened the same DM pair at
	// once. Callers re-read and use the row that won.
	ErrDuplicateConversation = errors.New("conversation already exists for this pair")
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdatePublicKey(ctx context.Context, id uuid.UUID, publicKey []byte) error
}

type GroupRepository interface {
	Create(ctx context.Context, group *domain.Group) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Group, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Group, error)
	// Delete removes the group, its member-key records and its messages in a
	// single transaction. Owner-only; the check lives in the service.
	Delete(ctx context.Context, id uuid.UUID) error
}

// MemberKeyRepository persists one wrapped-key record per (group, member).
// Nothing outside this interface and the rotation commit writes wrapped keys
// or key versions.
type MemberKeyRepository interface {
	// Put inserts a new live record. A live record already in place surfaces
	// as ErrDuplicateActiveMember.
	Put(ctx context.Context, mk *domain.MemberKey) error
	// Get returns the live (invited or active) record, or (nil, nil).
	Get(ctx context.Context, groupID, userID uuid.UUID) (*domain.MemberKey, error)
	// ListLive returns invited and active records, ascending join time.
	ListLive(ctx context.Context, groupID uuid.UUID) ([]domain.MemberKey, error)
	CountLive(ctx context.Context, groupID uuid.UUID) (int, error)
	// Activate flips an invited record to active and stamps the join time.
	Activate(ctx context.Context, groupID, userID uuid.UUID) error
	// UpdateKey replaces the wrapped key on the live record, stamping it with
	// the group's version read under a share lock in the same transaction, and
	// returns that version. Single-member path (granting a pending joiner);
	// rotations go through CommitRotation.
	UpdateKey(ctx context.Context, groupID, userID uuid.UUID, wrappedKey []byte) (int, error)
	// Deactivate marks the live record inactive. Idempotent: succeeds, and
	// changes nothing, when no live record exists.
	Deactivate(ctx context.Context, groupID, userID uuid.UUID) error
	// CommitRotation atomically deactivates the departing member, installs a
	// new wrapped key at expectedVersion+1 for every entry in keys, and bumps
	// the group's key version - conditioned on the version still being
	// expectedVersion. A concurrent bump surfaces as ErrVersionConflict and
	// nothing is applied. Readers never observe a half-applied batch.
	CommitRotation(ctx context.Context, groupID, departingID uuid.UUID, expectedVersion int, keys map[uuid.UUID][]byte) error
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	ListRecent(ctx context.Context, groupID uuid.UUID, limit int) ([]domain.Message, error)
}

// DMRepository persists direct-message conversations and their envelopes.
type DMRepository interface {
	CreateConversation(ctx context.Context, c *domain.DMConversation) error
	// GetConversationByUsers expects the canonically ordered pair and returns
	// (nil, nil) when no conversation exists.
	GetConversationByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.DMConversation, error)
	GetConversationByID(ctx context.Context, id uuid.UUID) (*domain.DMConversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.DMConversation, error)
	CreateMessage(ctx context.Context, m *domain.DMMessage) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.DMMessage, error)
}
