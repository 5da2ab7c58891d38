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
	ErrNoSessionKey = errors.New("member has no wrapped session key yet")
	ErrStaleKey     = errors.New("member's key version lags the group, refetch the key first")
)

const defaultMessageWindow = 50

// MessageService stores and relays encrypted envelopes. Content never gets
// inspected; the only server-side checks are membership and key-version
// consistency.
type MessageService struct {
	messageRepo repository.MessageRepository
	groupRepo   repository.GroupRepository
	memberRepo  repository.MemberKeyRepository
	notifier    Notifier
}

func NewMessageService(
	messageRepo repository.MessageRepository,
	groupRepo repository.GroupRepository,
	memberRepo repository.MemberKeyRepository,
) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		groupRepo:   groupRepo,
		memberRepo:  memberRepo,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

type SendMessageInput struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	AuthTag    []byte `json:"auth_tag"`
}

// Send accepts an envelope encrypted with the sender's current session key.
// A sender still on an old key version gets rejected: a message readable
// only by stale-key holders would split the group.
func (s *MessageService) Send(ctx context.Context, userID, groupID uuid.UUID, input SendMessageInput) (*domain.Message, error) {
	g, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGroupNotFound
	}

	m, err := s.memberRepo.Get(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotMember
	}
	if m.Pending() {
		return nil, ErrNoSessionKey
	}
	if !m.HasLatestKey(g.KeyVersion) {
		return nil, ErrStaleKey
	}

	msg := &domain.Message{
		ID:         uuid.New(),
		GroupID:    groupID,
		SenderID:   userID,
		Ciphertext: input.Ciphertext,
		IV:         input.IV,
		AuthTag:    input.AuthTag,
		KeyVersion: m.KeyVersion,
		CreatedAt:  time.Now(),
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("storing message: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyNewMessage(msg)
	}
	return msg, nil
}

// ListRecent returns the newest messages first, capped at a small window.
func (s *MessageService) ListRecent(ctx context.Context, userID, groupID uuid.UUID, limit int) ([]domain.Message, error) {
	g, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGroupNotFound
	}

	m, err := s.memberRepo.Get(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotMember
	}

	if limit <= 0 || limit > defaultMessageWindow {
		limit = defaultMessageWindow
	}
	return s.messageRepo.ListRecent(ctx, groupID, limit)
}
