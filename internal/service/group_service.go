package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tajnachat/tajna/internal/domain"
	"github.com/tajnachat/tajna/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrGroupNotFound         = errors.New("group not found")
	ErrNotGroupOwner         = errors.New("only the group owner can perform this action")
	ErrNotGroupAdmin         = errors.New("only the group owner or an admin can perform this action")
	ErrNotMember             = errors.New("user is not a member of this group")
	ErrAlreadyMember         = errors.New("user is already a member")
	ErrNotInvited            = errors.New("user has no provisioned key for this group")
	ErrPasswordRequired      = errors.New("group password is required")
	ErrWrongPassword         = errors.New("incorrect group password")
	ErrGroupFull             = errors.New("group has reached its member limit")
	ErrMissingWrappedKey     = errors.New("wrapped session key is required")
	ErrWrappedKeySetMismatch = errors.New("wrapped keys must cover exactly the initial members")
	ErrKeyAlreadyGranted     = errors.New("member already holds a wrapped key")
)

// GroupService owns group metadata and membership. Key versions are only
// ever advanced by the RotationService; everything here reads them.
type GroupService struct {
	groupRepo  repository.GroupRepository
	memberRepo repository.MemberKeyRepository
	userRepo   repository.UserRepository
	maxMembers int
	notifier   Notifier
}

func NewGroupService(
	groupRepo repository.GroupRepository,
	memberRepo repository.MemberKeyRepository,
	userRepo repository.UserRepository,
	maxMembers int,
) *GroupService {
	return &GroupService{
		groupRepo:  groupRepo,
		memberRepo: memberRepo,
		userRepo:   userRepo,
		maxMembers: maxMembers,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *GroupService) SetNotifier(n Notifier) {
	s.notifier = n
}

// WrappedKeyEntry pairs a member with a session key wrapped for them. The
// wrapping always happened on the submitting client.
type WrappedKeyEntry struct {
	UserID uuid.UUID `json:"user_id"`
	Key    []byte    `json:"key"`
}

type CreateGroupInput struct {
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	AvatarURL      string            `json:"avatar_url"`
	Password       string            `json:"password"`
	InitialMembers []uuid.UUID       `json:"initial_members"`
	WrappedKeys    []WrappedKeyEntry `json:"wrapped_keys"`
}

// Create makes a new group at key version 1. The creator must supply exactly
// one wrapped copy of the session key per initial member, themselves
// included. Initial members other than the owner start as invited and
// activate on their first join.
func (s *GroupService) Create(ctx context.Context, ownerID uuid.UUID, input CreateGroupInput) (*domain.Group, error) {
	// Owner je uvijek član; dedup initial members
	members := []uuid.UUID{ownerID}
	seen := map[uuid.UUID]bool{ownerID: true}
	for _, id := range input.InitialMembers {
		if !seen[id] {
			seen[id] = true
			members = append(members, id)
		}
	}

	if len(members) > s.maxMembers {
		return nil, ErrGroupFull
	}

	keyByUser := make(map[uuid.UUID][]byte, len(input.WrappedKeys))
	for _, entry := range input.WrappedKeys {
		keyByUser[entry.UserID] = entry.Key
	}
	if len(keyByUser) != len(members) {
		return nil, ErrWrappedKeySetMismatch
	}
	for _, id := range members {
		if len(keyByUser[id]) == 0 {
			return nil, ErrWrappedKeySetMismatch
		}
	}

	var passwordHash *string
	if input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing group password: %w", err)
		}
		h := string(hash)
		passwordHash = &h
	}

	var desc, avatar *string
	if input.Description != "" {
		desc = &input.Description
	}
	if input.AvatarURL != "" {
		avatar = &input.AvatarURL
	}

	now := time.Now()
	g := &domain.Group{
		ID:           uuid.New(),
		Name:         input.Name,
		Description:  desc,
		AvatarURL:    avatar,
		OwnerID:      ownerID,
		PasswordHash: passwordHash,
		KeyVersion:   1,
		MaxMembers:   s.maxMembers,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.groupRepo.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}

	for _, id := range members {
		role := domain.RoleMember
		state := domain.MemberStateInvited
		if id == ownerID {
			role = domain.RoleOwner
			state = domain.MemberStateActive
		}
		mk := &domain.MemberKey{
			GroupID:    g.ID,
			UserID:     id,
			WrappedKey: keyByUser[id],
			KeyVersion: g.KeyVersion,
			Role:       role,
			State:      state,
			JoinedAt:   now,
		}
		if err := s.memberRepo.Put(ctx, mk); err != nil {
			return nil, fmt.Errorf("storing member key: %w", err)
		}
	}

	return g, nil
}

// Join admits a user into a group. Invited members pass the password gate
// (if any) and activate their provisioned record. Users without a record get
// in only when the group is open, and then as pending: admitted at the
// current version, but with no wrapped key until an admin grants one.
func (s *GroupService) Join(ctx context.Context, userID, groupID uuid.UUID, password string) (*domain.MemberKey, error) {
	g, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGroupNotFound
	}

	existing, err := s.memberRepo.Get(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.State == domain.MemberStateActive {
		return nil, ErrAlreadyMember
	}

	if g.IsPasswordProtected() {
		if password == "" {
			return nil, ErrPasswordRequired
		}
		if bcrypt.CompareHashAndPassword([]byte(*g.PasswordHash), []byte(password)) != nil {
			return nil, ErrWrongPassword
		}
	}

	if existing != nil {
		// Invited: aktiviraj postojeći zapis
		if err := s.memberRepo.Activate(ctx, groupID, userID); err != nil {
			return nil, fmt.Errorf("activating member: %w", err)
		}
		existing.State = domain.MemberStateActive
		existing.JoinedAt = time.Now()
		s.notifyJoined(groupID, userID)
		return existing, nil
	}

	// No provisioned record. A correct password alone does not get anyone a
	// key: protected groups stay invite-only past the gate.
	if g.IsPasswordProtected() {
		return nil, ErrNotInvited
	}

	count, err := s.memberRepo.CountLive(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if count >= g.MaxMembers {
		return nil, ErrGroupFull
	}

	mk := &domain.MemberKey{
		GroupID:    groupID,
		UserID:     userID,
		WrappedKey: nil, // pending until an admin grants a wrapped copy
		KeyVersion: g.KeyVersion,
		Role:       domain.RoleMember,
		State:      domain.MemberStateActive,
		JoinedAt:   time.Now(),
	}
	if err := s.memberRepo.Put(ctx, mk); err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveMember) {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("storing member record: %w", err)
	}

	s.notifyJoined(groupID, userID)
	return mk, nil
}

// AddMember provisions a wrapped key for a new member at the current
// version. No rotation: the newcomer had no access before, so handing them
// the current key leaks nothing.
func (s *GroupService) AddMember(ctx context.Context, requesterID, groupID, userID uuid.UUID, wrappedKey []byte) (*domain.MemberKey, error) {
	g, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGroupNotFound
	}

	requester, err := s.memberRepo.Get(ctx, groupID, requesterID)
	if err != nil {
		return nil, err
	}
	if requester == nil {
		return nil, ErrNotMember
	}
	if requester.Role != domain.RoleOwner && requester.Role != domain.RoleAdmin {
		return nil, ErrNotGroupAdmin
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	existing, err := s.memberRepo.Get(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyMember
	}

	count, err := s.memberRepo.CountLive(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if count >= g.MaxMembers {
		return nil, ErrGroupFull
	}

	if len(wrappedKey) == 0 {
		return nil, ErrMissingWrappedKey
	}

	mk := &domain.MemberKey{
		GroupID:    groupID,
		UserID:     userID,
		WrappedKey: wrappedKey,
		KeyVersion: g.KeyVersion,
		Role:       domain.RoleMember,
		State:      domain.MemberStateInvited,
		JoinedAt:   time.Now(),
	}
	if err := s.memberRepo.Put(ctx, mk); err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveMember) {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("storing member key: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyMemberAdded(groupID, userID)
	}
	return mk, nil
}

// GrantKey completes a public join: an owner or admin supplies the wrapped
// key a pending member is still missing, at the group's current version.
func (s *GroupService) GrantKey(ctx context.Context, requesterID, groupID, userID uuid.UUID, wrappedKey []byte) error {
	g, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if g == nil {
		return ErrGroupNotFound
	}

	requester, err := s.memberRepo.Get(ctx, groupID, requesterID)
	if err != nil {
		return err
	}
	if requester == nil {
		return ErrNotMember
	}
	if requester.Role != domain.RoleOwner && requester.Role != domain.RoleAdmin {
		return ErrNotGroupAdmin
	}

	target, err := s.memberRepo.Get(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrNotMember
	}
	if !target.Pending() {
		return ErrKeyAlreadyGranted
	}

	if len(wrappedKey) == 0 {
		return ErrMissingWrappedKey
	}

	// Version comes from the repo, read under the group row lock: a rotation
	// committing after the GetByID above must not strand the grant at the
	// old generation
	version, err := s.memberRepo.UpdateKey(ctx, groupID, userID, wrappedKey)
	if err != nil {
		return fmt.Errorf("granting key: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyKeyRotated(groupID, version, []uuid.UUID{userID})
	}
	return nil
}

// GetMemberKey returns the caller's own wrapped key record together with the
// group's current key version, so the client can tell a stale copy apart.
func (s *GroupService) GetMemberKey(ctx context.Context, userID, groupID uuid.UUID) (*domain.MemberKey, int, error) {
	g, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, 0, err
	}
	if g == nil {
		return nil, 0, ErrGroupNotFound
	}

	mk, err := s.memberRepo.Get(ctx, groupID, userID)
	if err != nil {
		return nil, 0, err
	}
	if mk == nil {
		return nil, 0, ErrNotMember
	}

	return mk, g.KeyVersion, nil
}

func (s *GroupService) Get(ctx context.Context, userID, groupID uuid.UUID) (*domain.Group, []domain.MemberKey, error) {
	g, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	if g == nil {
		return nil, nil, ErrGroupNotFound
	}

	caller, err := s.memberRepo.Get(ctx, groupID, userID)
	if err != nil {
		return nil, nil, err
	}
	if caller == nil {
		return nil, nil, ErrNotMember
	}

	members, err := s.memberRepo.ListLive(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	// Wrapped keys are per-recipient; nobody needs to see anyone else's
	for i := range members {
		if members[i].UserID != userID {
			members[i].WrappedKey = nil
		}
	}

	return g, members, nil
}

func (s *GroupService) ListMine(ctx context.Context, userID uuid.UUID) ([]domain.Group, error) {
	return s.groupRepo.ListByUser(ctx, userID)
}

func (s *GroupService) Delete(ctx context.Context, requesterID, groupID uuid.UUID) error {
	g, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if g == nil {
		return ErrGroupNotFound
	}
	if g.OwnerID != requesterID {
		return ErrNotGroupOwner
	}

	if err := s.groupRepo.Delete(ctx, groupID); err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyGroupDeleted(groupID)
	}
	return nil
}

func (s *GroupService) notifyJoined(groupID, userID uuid.UUID) {
	if s.notifier != nil {
		s.notifier.NotifyMemberJoined(groupID, userID)
	}
}
