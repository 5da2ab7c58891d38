package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tajnachat/tajna/internal/domain"
	"github.com/tajnachat/tajna/internal/repository"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("user is not part of this conversation")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
)

// DMService handles 1:1 conversations. Unlike groups there is no shared
// session key to rotate: every message carries its own key, wrapped for both
// participants, so membership never changes and nothing needs re-encryption.
type DMService struct {
	dmRepo   repository.DMRepository
	userRepo repository.UserRepository
	notifier Notifier
}

func NewDMService(dmRepo repository.DMRepository, userRepo repository.UserRepository) *DMService {
	return &DMService{
		dmRepo:   dmRepo,
		userRepo: userRepo,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *DMService) SetNotifier(n Notifier) {
	s.notifier = n
}

// GetOrCreateConversation returns the conversation between the two users,
// creating it if this is their first contact. The other user must have a
// registered public key, otherwise the caller cannot wrap message keys for
// them and the conversation would be write-only.
func (s *DMService) GetOrCreateConversation(ctx context.Context, userID, otherID uuid.UUID) (*domain.DMConversation, error) {
	if userID == otherID {
		return nil, ErrSelfConversation
	}

	other, err := s.userRepo.GetByID(ctx, otherID)
	if err != nil {
		return nil, err
	}
	if other == nil {
		return nil, ErrUserNotFound
	}
	if len(other.PublicKey) == 0 {
		return nil, ErrNoPublicKey
	}

	u1, u2 := userID, otherID
	if u1.String() > u2.String() {
		u1, u2 = u2, u1
	}

	existing, err := s.dmRepo.GetConversationByUsers(ctx, u1, u2)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	conv := &domain.DMConversation{
		ID:        uuid.New(),
		User1ID:   u1,
		User2ID:   u2,
		CreatedAt: time.Now(),
	}
	err = s.dmRepo.CreateConversation(ctx, conv)
	if errors.Is(err, repository.ErrDuplicateConversation) {
		// Both sides opened the pair at once; the other insert won.
		return s.dmRepo.GetConversationByUsers(ctx, u1, u2)
	}
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

func (s *DMService) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.DMConversation, error) {
	return s.dmRepo.ListConversations(ctx, userID)
}

type SendDMInput struct {
	Ciphertext          []byte `json:"ciphertext"`
	IV                  []byte `json:"iv"`
	AuthTag             []byte `json:"auth_tag"`
	WrappedKeySender    []byte `json:"wrapped_key_sender"`
	WrappedKeyRecipient []byte `json:"wrapped_key_recipient"`
}

// Send stores a direct-message envelope. The recipient is derived from the
// conversation, never taken from the client.
func (s *DMService) Send(ctx context.Context, senderID, conversationID uuid.UUID, input SendDMInput) (*domain.DMMessage, error) {
	conv, err := s.dmRepo.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.Participant(senderID) {
		return nil, ErrNotParticipant
	}

	msg := &domain.DMMessage{
		ID:                  uuid.New(),
		ConversationID:      conversationID,
		SenderID:            senderID,
		RecipientID:         conv.Other(senderID),
		Ciphertext:          input.Ciphertext,
		IV:                  input.IV,
		AuthTag:             input.AuthTag,
		WrappedKeySender:    input.WrappedKeySender,
		WrappedKeyRecipient: input.WrappedKeyRecipient,
		CreatedAt:           time.Now(),
	}

	if err := s.dmRepo.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("storing dm: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyNewDM(msg)
	}
	return msg, nil
}

// ListRecent returns the newest messages first, capped at the same window as
// group messages.
func (s *DMService) ListRecent(ctx context.Context, userID, conversationID uuid.UUID, limit int) ([]domain.DMMessage, error) {
	conv, err := s.dmRepo.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.Participant(userID) {
		return nil, ErrNotParticipant
	}

	if limit <= 0 || limit > defaultMessageWindow {
		limit = defaultMessageWindow
	}
	return s.dmRepo.ListMessages(ctx, conversationID, limit)
}
