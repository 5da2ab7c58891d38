package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tajnachat/tajna/internal/domain"
	"github.com/tajnachat/tajna/internal/repository"
)

// fakeStore is an in-memory stand-in for the postgres repositories. It
// mirrors the real CommitRotation semantics: compare-and-swap on the group's
// key version, exact cover of the live membership, all-or-nothing apply.
type fakeStore struct {
	groups  map[uuid.UUID]*domain.Group
	members map[uuid.UUID]map[uuid.UUID]*domain.MemberKey
	users   map[uuid.UUID]*domain.User

	// beforeCommit, when set, runs at the top of CommitRotation. Tests use it
	// to interleave a concurrent rotation.
	beforeCommit func()
	// beforeUpdateKey runs at the top of UpdateKey, before the group version
	// is read. Same purpose.
	beforeUpdateKey func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		groups:  make(map[uuid.UUID]*domain.Group),
		members: make(map[uuid.UUID]map[uuid.UUID]*domain.MemberKey),
		users:   make(map[uuid.UUID]*domain.User),
	}
}

// --- GroupRepository ---

func (f *fakeStore) Create(ctx context.Context, g *domain.Group) error {
	cp := *g
	f.groups[g.ID] = &cp
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (f *fakeStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Group, error) {
	var out []domain.Group
	for gid, byUser := range f.members {
		if m, ok := byUser[userID]; ok && m.Live() {
			if g, ok := f.groups[gid]; ok {
				out = append(out, *g)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.groups, id)
	delete(f.members, id)
	return nil
}

// --- MemberKeyRepository ---

func (f *fakeStore) Put(ctx context.Context, mk *domain.MemberKey) error {
	byUser := f.members[mk.GroupID]
	if byUser == nil {
		byUser = make(map[uuid.UUID]*domain.MemberKey)
		f.members[mk.GroupID] = byUser
	}
	if existing, ok := byUser[mk.UserID]; ok && existing.Live() {
		return repository.ErrDuplicateActiveMember
	}
	cp := *mk
	byUser[mk.UserID] = &cp
	return nil
}

func (f *fakeStore) Get(ctx context.Context, groupID, userID uuid.UUID) (*domain.MemberKey, error) {
	if m, ok := f.members[groupID][userID]; ok && m.Live() {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) ListLive(ctx context.Context, groupID uuid.UUID) ([]domain.MemberKey, error) {
	var out []domain.MemberKey
	for _, m := range f.members[groupID] {
		if m.Live() {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) CountLive(ctx context.Context, groupID uuid.UUID) (int, error) {
	n := 0
	for _, m := range f.members[groupID] {
		if m.Live() {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Activate(ctx context.Context, groupID, userID uuid.UUID) error {
	if m, ok := f.members[groupID][userID]; ok && m.State == domain.MemberStateInvited {
		m.State = domain.MemberStateActive
		m.JoinedAt = time.Now()
	}
	return nil
}

func (f *fakeStore) UpdateKey(ctx context.Context, groupID, userID uuid.UUID, wrappedKey []byte) (int, error) {
	if f.beforeUpdateKey != nil {
		hook := f.beforeUpdateKey
		f.beforeUpdateKey = nil
		hook()
	}

	g, ok := f.groups[groupID]
	if !ok {
		return 0, errors.New("no such group")
	}
	if m, ok := f.members[groupID][userID]; ok && m.Live() {
		m.WrappedKey = wrappedKey
		m.KeyVersion = g.KeyVersion
	}
	return g.KeyVersion, nil
}

func (f *fakeStore) Deactivate(ctx context.Context, groupID, userID uuid.UUID) error {
	if m, ok := f.members[groupID][userID]; ok && m.Live() {
		now := time.Now()
		m.State = domain.MemberStateInactive
		m.LeftAt = &now
	}
	return nil
}

func (f *fakeStore) CommitRotation(ctx context.Context, groupID, departingID uuid.UUID, expectedVersion int, keys map[uuid.UUID][]byte) error {
	if f.beforeCommit != nil {
		hook := f.beforeCommit
		f.beforeCommit = nil
		hook()
	}

	g, ok := f.groups[groupID]
	if !ok || g.KeyVersion != expectedVersion {
		return repository.ErrVersionConflict
	}

	byUser := f.members[groupID]
	if m, ok := byUser[departingID]; ok && m.Live() {
		now := time.Now()
		m.State = domain.MemberStateInactive
		m.LeftAt = &now
	}

	var remaining []uuid.UUID
	for id, m := range byUser {
		if m.Live() {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) != len(keys) {
		return repository.ErrVersionConflict
	}
	for _, id := range remaining {
		if _, ok := keys[id]; !ok {
			return repository.ErrVersionConflict
		}
	}

	for id, key := range keys {
		m := byUser[id]
		m.WrappedKey = key
		m.KeyVersion = expectedVersion + 1
	}
	g.KeyVersion = expectedVersion + 1
	return nil
}

// --- UserRepository ---

func (f *fakeStore) CreateUser(ctx context.Context, u *domain.User) error {
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// fakeUserRepo adapts fakeStore to repository.UserRepository; the method
// names collide with GroupRepository's otherwise.
type fakeUserRepo struct {
	store *fakeStore
}

func (f *fakeUserRepo) Create(ctx context.Context, u *domain.User) error {
	return f.store.CreateUser(ctx, u)
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return f.store.GetUserByID(ctx, id)
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, u := range f.store.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, u := range f.store.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) UpdatePublicKey(ctx context.Context, id uuid.UUID, publicKey []byte) error {
	if u, ok := f.store.users[id]; ok {
		u.PublicKey = publicKey
	}
	return nil
}

// --- MessageRepository ---

type fakeMessageRepo struct {
	messages []domain.Message
}

func (f *fakeMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeMessageRepo) ListRecent(ctx context.Context, groupID uuid.UUID, limit int) ([]domain.Message, error) {
	var out []domain.Message
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if f.messages[i].GroupID == groupID {
			out = append(out, f.messages[i])
		}
	}
	return out, nil
}

// --- DMRepository ---

type fakeDMRepo struct {
	conversations map[uuid.UUID]*domain.DMConversation
	dmMessages    []domain.DMMessage
}

func newFakeDMRepo() *fakeDMRepo {
	return &fakeDMRepo{conversations: make(map[uuid.UUID]*domain.DMConversation)}
}

func (f *fakeDMRepo) CreateConversation(ctx context.Context, c *domain.DMConversation) error {
	for _, existing := range f.conversations {
		if existing.User1ID == c.User1ID && existing.User2ID == c.User2ID {
			return repository.ErrDuplicateConversation
		}
	}
	cp := *c
	f.conversations[c.ID] = &cp
	return nil
}

func (f *fakeDMRepo) GetConversationByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.DMConversation, error) {
	for _, c := range f.conversations {
		if c.User1ID == user1ID && c.User2ID == user2ID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeDMRepo) GetConversationByID(ctx context.Context, id uuid.UUID) (*domain.DMConversation, error) {
	if c, ok := f.conversations[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeDMRepo) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.DMConversation, error) {
	var out []domain.DMConversation
	for _, c := range f.conversations {
		if c.Participant(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeDMRepo) CreateMessage(ctx context.Context, m *domain.DMMessage) error {
	f.dmMessages = append(f.dmMessages, *m)
	return nil
}

func (f *fakeDMRepo) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.DMMessage, error) {
	var out []domain.DMMessage
	for i := len(f.dmMessages) - 1; i >= 0 && len(out) < limit; i-- {
		if f.dmMessages[i].ConversationID == conversationID {
			out = append(out, f.dmMessages[i])
		}
	}
	return out, nil
}

// --- Notifier / NoticeQueue spies ---

type rotationEvent struct {
	groupID    uuid.UUID
	keyVersion int
	memberIDs  []uuid.UUID
}

type spyNotifier struct {
	messages []uuid.UUID // group IDs of NotifyNewMessage calls
	dms      []*domain.DMMessage
	joined   []uuid.UUID
	added    []uuid.UUID
	left     []uuid.UUID
	kicked   []uuid.UUID
	rotated  []rotationEvent
	deleted  []uuid.UUID
}

func (s *spyNotifier) NotifyNewMessage(msg *domain.Message) {
	s.messages = append(s.messages, msg.GroupID)
}

func (s *spyNotifier) NotifyNewDM(msg *domain.DMMessage) {
	s.dms = append(s.dms, msg)
}

func (s *spyNotifier) NotifyMemberJoined(groupID, userID uuid.UUID) {
	s.joined = append(s.joined, userID)
}

func (s *spyNotifier) NotifyMemberAdded(groupID, userID uuid.UUID) {
	s.added = append(s.added, userID)
}

func (s *spyNotifier) NotifyMemberLeft(groupID, userID uuid.UUID) {
	s.left = append(s.left, userID)
}

func (s *spyNotifier) NotifyMemberKicked(groupID, userID uuid.UUID) {
	s.kicked = append(s.kicked, userID)
}

func (s *spyNotifier) NotifyKeyRotated(groupID uuid.UUID, keyVersion int, memberIDs []uuid.UUID) {
	s.rotated = append(s.rotated, rotationEvent{groupID: groupID, keyVersion: keyVersion, memberIDs: memberIDs})
}

func (s *spyNotifier) NotifyGroupDeleted(groupID uuid.UUID) {
	s.deleted = append(s.deleted, groupID)
}

type spyQueue struct {
	pushed map[uuid.UUID][]domain.RotationNotice
}

func newSpyQueue() *spyQueue {
	return &spyQueue{pushed: make(map[uuid.UUID][]domain.RotationNotice)}
}

func (q *spyQueue) Push(ctx context.Context, userID uuid.UUID, n domain.RotationNotice) error {
	q.pushed[userID] = append(q.pushed[userID], n)
	return nil
}

func (q *spyQueue) Drain(ctx context.Context, userID uuid.UUID) ([]domain.RotationNotice, error) {
	out := q.pushed[userID]
	delete(q.pushed, userID)
	return out, nil
}

// seedGroup creates a group at key version 1 with the given active members,
// the first of which is the owner. Every member starts with a wrapped key at
// version 1.
func seedGroup(store *fakeStore, memberIDs ...uuid.UUID) *domain.Group {
	g := &domain.Group{
		ID:         uuid.New(),
		Name:       "test-group",
		OwnerID:    memberIDs[0],
		KeyVersion: 1,
		MaxMembers: 100,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	store.groups[g.ID] = g

	byUser := make(map[uuid.UUID]*domain.MemberKey)
	for i, id := range memberIDs {
		role := domain.RoleMember
		if i == 0 {
			role = domain.RoleOwner
		}
		byUser[id] = &domain.MemberKey{
			GroupID:    g.ID,
			UserID:     id,
			WrappedKey: []byte("wrapped-v1-" + id.String()),
			KeyVersion: 1,
			Role:       role,
			State:      domain.MemberStateActive,
			JoinedAt:   time.Now(),
		}
	}
	store.members[g.ID] = byUser
	return g
}

func keysFor(ids ...uuid.UUID) []WrappedKeyEntry {
	entries := make([]WrappedKeyEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, WrappedKeyEntry{UserID: id, Key: []byte("wrapped-next-" + id.String())})
	}
	return entries
}
