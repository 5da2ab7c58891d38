package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/tajnachat/tajna/internal/domain"
)

// Notifier broadcasts real-time events to connected clients. The services
// emit events; delivery (and delivery failures) belong to the transport.
type Notifier interface {
	NotifyNewMessage(msg *domain.Message)
	// NotifyNewDM goes to both participants individually; DMs have no group
	// channel.
	NotifyNewDM(msg *domain.DMMessage)
	NotifyMemberJoined(groupID, userID uuid.UUID)
	NotifyMemberAdded(groupID, userID uuid.UUID)
	NotifyMemberLeft(groupID, userID uuid.UUID)
	NotifyMemberKicked(groupID, userID uuid.UUID)
	// NotifyKeyRotated is delivered per-member, never broadcast to the group
	// channel, so a kicked member's live socket learns nothing about the new
	// key generation beyond its own removal.
	NotifyKeyRotated(groupID uuid.UUID, keyVersion int, memberIDs []uuid.UUID)
	NotifyGroupDeleted(groupID uuid.UUID)
}

// NoticeQueue persists rotation notices for members who are offline when a
// rotation commits.
type NoticeQueue interface {
	Push(ctx context.Context, userID uuid.UUID, n domain.RotationNotice) error
	Drain(ctx context.Context, userID uuid.UUID) ([]domain.RotationNotice, error)
}
