package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/tajnachat/tajna/internal/domain"
	"github.com/tajnachat/tajna/internal/repository"
)

var (
	ErrSelfKick              = errors.New("cannot kick yourself")
	ErrOwnerLeave            = errors.New("owner cannot leave, transfer ownership first")
	ErrIncompleteRotationSet = errors.New("rotation requires a wrapped key for exactly the remaining members")
	// ErrVersionConflict is retryable: refetch the membership and resubmit.
	ErrVersionConflict = repository.ErrVersionConflict
)

// RotationService coordinates session-key rotation on member departure.
//
// A kick always rotates: the kicked member keeps whatever key material they
// already downloaded, so the guarantee is forward secrecy only - they can
// still read messages from before the rotation, never after it. A voluntary
// leave rotates only when rotateOnLeave is set. The default (off) matches
// the long-standing behavior this service replaced, and it is a known gap:
// a departed member can decrypt everything sent after their exit until the
// next kick finally rotates the key. See README.
//
// The expensive part of a rotation - wrapping the new key once per remaining
// member - happens on the initiating client before the request is made. The
// server-side critical section is a single database transaction.
type RotationService struct {
	groupRepo     repository.GroupRepository
	memberRepo    repository.MemberKeyRepository
	rotateOnLeave bool
	notifier      Notifier
	notices       NoticeQueue
}

func NewRotationService(
	groupRepo repository.GroupRepository,
	memberRepo repository.MemberKeyRepository,
	notices NoticeQueue,
	rotateOnLeave bool,
) *RotationService {
	return &RotationService{
		groupRepo:     groupRepo,
		memberRepo:    memberRepo,
		notices:       notices,
		rotateOnLeave: rotateOnLeave,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *RotationService) SetNotifier(n Notifier) {
	s.notifier = n
}

type RotationInput struct {
	// WrappedKeys carries the new session key wrapped for every remaining
	// member, owner included. Computed by the initiating client.
	WrappedKeys []WrappedKeyEntry `json:"wrapped_keys"`
}

// Kick removes a member and rotates the group's session key. Owner only.
func (s *RotationService) Kick(ctx context.Context, requesterID, groupID, targetID uuid.UUID, input RotationInput) (*domain.Group, error) {
	g, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGroupNotFound
	}

	if g.OwnerID != requesterID {
		return nil, ErrNotGroupOwner
	}
	if targetID == requesterID {
		return nil, ErrSelfKick
	}

	target, err := s.memberRepo.Get(ctx, groupID, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrNotMember
	}

	if err := s.rotate(ctx, g, targetID, input.WrappedKeys); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.NotifyMemberKicked(groupID, targetID)
	}
	return g, nil
}

// Leave removes the caller from the group. Policy decides whether the key
// rotates; when it does, the leaver submits the wrapped-key set exactly like
// a kick initiator would.
func (s *RotationService) Leave(ctx context.Context, userID, groupID uuid.UUID, input RotationInput) error {
	g, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if g == nil {
		return ErrGroupNotFound
	}

	if g.OwnerID == userID {
		return ErrOwnerLeave
	}

	m, err := s.memberRepo.Get(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNotMember
	}

	if s.rotateOnLeave {
		if err := s.rotate(ctx, g, userID, input.WrappedKeys); err != nil {
			return err
		}
	} else {
		// Version untouched: the remaining members keep their current key
		// and the leaver keeps the ability to decrypt until the next kick
		if err := s.memberRepo.Deactivate(ctx, groupID, userID); err != nil {
			return fmt.Errorf("deactivating member: %w", err)
		}
	}

	if s.notifier != nil {
		s.notifier.NotifyMemberLeft(groupID, userID)
	}
	return nil
}

// rotate validates the submitted key set against the live membership minus
// the departing member, then commits. Either every remaining record moves to
// the new version and the group version follows, or nothing changes.
func (s *RotationService) rotate(ctx context.Context, g *domain.Group, departingID uuid.UUID, entries []WrappedKeyEntry) error {
	members, err := s.memberRepo.ListLive(ctx, g.ID)
	if err != nil {
		return err
	}

	remaining := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if m.UserID != departingID {
			remaining = append(remaining, m.UserID)
		}
	}

	keys := make(map[uuid.UUID][]byte, len(entries))
	for _, e := range entries {
		if len(e.Key) == 0 {
			return ErrIncompleteRotationSet
		}
		keys[e.UserID] = e.Key
	}

	// Exact cover or nothing. A partial rotation is worse than none: members
	// left behind on the old version could no longer decrypt at all.
	if len(keys) != len(remaining) {
		return ErrIncompleteRotationSet
	}
	for _, id := range remaining {
		if _, ok := keys[id]; !ok {
			return ErrIncompleteRotationSet
		}
	}

	if err := s.memberRepo.CommitRotation(ctx, g.ID, departingID, g.KeyVersion, keys); err != nil {
		return err
	}
	g.KeyVersion++

	if s.notifier != nil {
		s.notifier.NotifyKeyRotated(g.ID, g.KeyVersion, remaining)
	}
	if s.notices != nil {
		notice := domain.RotationNotice{GroupID: g.ID, KeyVersion: g.KeyVersion}
		for _, id := range remaining {
			if err := s.notices.Push(ctx, id, notice); err != nil {
				// Advisory only; the client discovers the new version on
				// its next key fetch anyway
				log.Printf("WARN rotation notice for %s: %v", id, err)
			}
		}
	}

	return nil
}
