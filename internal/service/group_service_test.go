package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tajnachat/tajna/internal/domain"
)

func newGroupService(store *fakeStore) *GroupService {
	return NewGroupService(store, store, &fakeUserRepo{store: store}, 100)
}

func TestCreateGroupProvisionsEveryInitialMember(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, bob, carol := uuid.New(), uuid.New(), uuid.New()

	g, err := svc.Create(context.Background(), owner, CreateGroupInput{
		Name:           "planning",
		InitialMembers: []uuid.UUID{bob, carol},
		WrappedKeys:    keysFor(owner, bob, carol),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, g.KeyVersion)
	assert.Equal(t, owner, g.OwnerID)

	ownerRec := store.members[g.ID][owner]
	require.NotNil(t, ownerRec)
	assert.Equal(t, domain.RoleOwner, ownerRec.Role)
	assert.Equal(t, domain.MemberStateActive, ownerRec.State)

	// Other initial members wait as invited until their first join.
	for _, id := range []uuid.UUID{bob, carol} {
		rec := store.members[g.ID][id]
		require.NotNil(t, rec)
		assert.Equal(t, domain.MemberStateInvited, rec.State)
		assert.Equal(t, 1, rec.KeyVersion)
		assert.False(t, rec.Pending())
	}
}

func TestCreateGroupRequiresExactKeyCover(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, bob := uuid.New(), uuid.New()

	tests := []struct {
		name string
		keys []WrappedKeyEntry
	}{
		{"missing a member's key", keysFor(owner)},
		{"missing the creator's key", keysFor(bob)},
		{"key for a stranger", keysFor(owner, bob, uuid.New())},
		{"empty key", []WrappedKeyEntry{{UserID: owner, Key: []byte("k")}, {UserID: bob, Key: nil}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), owner, CreateGroupInput{
				Name:           "planning",
				InitialMembers: []uuid.UUID{bob},
				WrappedKeys:    tt.keys,
			})
			assert.ErrorIs(t, err, ErrWrappedKeySetMismatch)
		})
	}
}

func TestCreateGroupDedupsInitialMembers(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, bob := uuid.New(), uuid.New()

	// Owner listed again and bob twice; one key each is still an exact cover.
	g, err := svc.Create(context.Background(), owner, CreateGroupInput{
		Name:           "planning",
		InitialMembers: []uuid.UUID{owner, bob, bob},
		WrappedKeys:    keysFor(owner, bob),
	})
	require.NoError(t, err)
	assert.Len(t, store.members[g.ID], 2)
}

func TestJoinActivatesInvitedMember(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, bob := uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)
	store.members[g.ID][bob].State = domain.MemberStateInvited

	mk, err := svc.Join(context.Background(), bob, g.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.MemberStateActive, mk.State)
	assert.Equal(t, domain.MemberStateActive, store.members[g.ID][bob].State)
	assert.False(t, mk.Pending())
}

func TestJoinPasswordGate(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, bob := uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)
	store.members[g.ID][bob].State = domain.MemberStateInvited

	hash, err := bcrypt.GenerateFromPassword([]byte("lozinka123"), bcrypt.MinCost)
	require.NoError(t, err)
	h := string(hash)
	store.groups[g.ID].PasswordHash = &h

	_, err = svc.Join(context.Background(), bob, g.ID, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = svc.Join(context.Background(), bob, g.ID, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)

	mk, err := svc.Join(context.Background(), bob, g.ID, "lozinka123")
	require.NoError(t, err)
	assert.Equal(t, domain.MemberStateActive, mk.State)
}

func TestJoinProtectedGroupWithoutProvisionedKey(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner := uuid.New()
	g := seedGroup(store, owner)

	hash, err := bcrypt.GenerateFromPassword([]byte("lozinka123"), bcrypt.MinCost)
	require.NoError(t, err)
	h := string(hash)
	store.groups[g.ID].PasswordHash = &h

	// Correct password, but nobody wrapped a key for this user: the gate
	// alone never grants access to a protected group.
	_, err = svc.Join(context.Background(), uuid.New(), g.ID, "lozinka123")
	assert.ErrorIs(t, err, ErrNotInvited)
}

func TestJoinOpenGroupAdmitsPendingMember(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, newcomer := uuid.New(), uuid.New()
	g := seedGroup(store, owner)

	mk, err := svc.Join(context.Background(), newcomer, g.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.MemberStateActive, mk.State)
	assert.True(t, mk.Pending())
	assert.Equal(t, 1, mk.KeyVersion)
}

func TestJoinAlreadyActive(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, bob := uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)

	_, err := svc.Join(context.Background(), bob, g.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func TestAddMemberProvisionsAtCurrentVersion(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, bob, dave := uuid.New(), uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)
	store.CreateUser(context.Background(), &domain.User{ID: dave, Username: "dave"})

	// Rotate once so the current version is 2.
	require.NoError(t, store.CommitRotation(context.Background(), g.ID, bob, 1, map[uuid.UUID][]byte{
		owner: []byte("v2-owner"),
	}))

	mk, err := svc.AddMember(context.Background(), owner, g.ID, dave, []byte("wrapped-for-dave"))
	require.NoError(t, err)
	assert.Equal(t, 2, mk.KeyVersion)
	assert.Equal(t, domain.MemberStateInvited, mk.State)
	// No rotation happened; the group version is untouched.
	assert.Equal(t, 2, store.groups[g.ID].KeyVersion)
}

func TestAddMemberRequiresOwnerOrAdmin(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, bob, dave := uuid.New(), uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)
	store.CreateUser(context.Background(), &domain.User{ID: dave, Username: "dave"})

	_, err := svc.AddMember(context.Background(), bob, g.ID, dave, []byte("wrapped-for-dave"))
	assert.ErrorIs(t, err, ErrNotGroupAdmin)

	store.members[g.ID][bob].Role = domain.RoleAdmin
	_, err = svc.AddMember(context.Background(), bob, g.ID, dave, []byte("wrapped-for-dave"))
	assert.NoError(t, err)
}

func TestAddMemberRejectsExistingMember(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, bob := uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)
	store.CreateUser(context.Background(), &domain.User{ID: bob, Username: "bob"})

	_, err := svc.AddMember(context.Background(), owner, g.ID, bob, []byte("key"))
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func TestGrantKeyFillsPendingMember(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, newcomer := uuid.New(), uuid.New()
	g := seedGroup(store, owner)

	_, err := svc.Join(context.Background(), newcomer, g.ID, "")
	require.NoError(t, err)

	err = svc.GrantKey(context.Background(), owner, g.ID, newcomer, []byte("wrapped-for-newcomer"))
	require.NoError(t, err)

	rec := store.members[g.ID][newcomer]
	assert.False(t, rec.Pending())
	assert.Equal(t, 1, rec.KeyVersion)

	// A second grant would overwrite key material the member may already use.
	err = svc.GrantKey(context.Background(), owner, g.ID, newcomer, []byte("another"))
	assert.ErrorIs(t, err, ErrKeyAlreadyGranted)
}

func TestGrantKeyDuringRotationLandsAtNewVersion(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	notifier := &spyNotifier{}
	svc.SetNotifier(notifier)
	owner, bob, newcomer := uuid.New(), uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)

	_, err := svc.Join(context.Background(), newcomer, g.ID, "")
	require.NoError(t, err)

	// A kick of bob commits between the grant's group read and the key
	// write. The grant must land at the rotated version, not the stale one
	// read before the rotation.
	store.beforeUpdateKey = func() {
		err := store.CommitRotation(context.Background(), g.ID, bob, 1, map[uuid.UUID][]byte{
			owner:    []byte("wrapped-next-" + owner.String()),
			newcomer: []byte("wrapped-next-" + newcomer.String()),
		})
		require.NoError(t, err)
	}

	err = svc.GrantKey(context.Background(), owner, g.ID, newcomer, []byte("wrapped-for-newcomer"))
	require.NoError(t, err)

	rec := store.members[g.ID][newcomer]
	assert.Equal(t, 2, store.groups[g.ID].KeyVersion)
	assert.Equal(t, 2, rec.KeyVersion)
	assert.Equal(t, []byte("wrapped-for-newcomer"), rec.WrappedKey)

	require.Len(t, notifier.rotated, 1)
	assert.Equal(t, 2, notifier.rotated[0].keyVersion)
}

func TestGetStripsOtherMembersKeys(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, bob := uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)

	_, members, err := svc.Get(context.Background(), bob, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	for _, m := range members {
		if m.UserID == bob {
			assert.NotEmpty(t, m.WrappedKey)
		} else {
			assert.Empty(t, m.WrappedKey)
		}
	}
}

func TestGetRequiresMembership(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner := uuid.New()
	g := seedGroup(store, owner)

	_, _, err := svc.Get(context.Background(), uuid.New(), g.ID)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestDeleteGroupOwnerOnly(t *testing.T) {
	store := newFakeStore()
	svc := newGroupService(store)
	owner, bob := uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)

	err := svc.Delete(context.Background(), bob, g.ID)
	assert.ErrorIs(t, err, ErrNotGroupOwner)

	notifier := &spyNotifier{}
	svc.SetNotifier(notifier)
	require.NoError(t, svc.Delete(context.Background(), owner, g.ID))
	assert.Nil(t, store.groups[g.ID])
	assert.Equal(t, []uuid.UUID{g.ID}, notifier.deleted)
}
