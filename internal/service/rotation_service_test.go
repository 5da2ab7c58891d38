package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tajnachat/tajna/internal/domain"
)

func TestKickRotatesKeyForRemainingMembers(t *testing.T) {
	store := newFakeStore()
	owner, bob, carol := uuid.New(), uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob, carol)

	notifier := &spyNotifier{}
	queue := newSpyQueue()
	svc := NewRotationService(store, store, queue, false)
	svc.SetNotifier(notifier)

	updated, err := svc.Kick(context.Background(), owner, g.ID, bob, RotationInput{
		WrappedKeys: keysFor(owner, carol),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.KeyVersion)
	assert.Equal(t, 2, store.groups[g.ID].KeyVersion)

	// Kicked member is inactive and keeps only the old generation.
	kicked := store.members[g.ID][bob]
	assert.Equal(t, domain.MemberStateInactive, kicked.State)
	assert.Equal(t, 1, kicked.KeyVersion)
	assert.NotNil(t, kicked.LeftAt)

	// Remaining members hold fresh wrapped copies at the new version.
	for _, id := range []uuid.UUID{owner, carol} {
		m := store.members[g.ID][id]
		assert.Equal(t, 2, m.KeyVersion)
		assert.Equal(t, []byte("wrapped-next-"+id.String()), m.WrappedKey)
	}

	require.Len(t, notifier.rotated, 1)
	assert.Equal(t, 2, notifier.rotated[0].keyVersion)
	assert.ElementsMatch(t, []uuid.UUID{owner, carol}, notifier.rotated[0].memberIDs)
	assert.Equal(t, []uuid.UUID{bob}, notifier.kicked)

	// Offline members find the notice queued.
	require.Len(t, queue.pushed[carol], 1)
	assert.Equal(t, 2, queue.pushed[carol][0].KeyVersion)
	assert.Empty(t, queue.pushed[bob])
}

func TestKickOnlyOwner(t *testing.T) {
	store := newFakeStore()
	owner, bob, carol := uuid.New(), uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob, carol)

	svc := NewRotationService(store, store, newSpyQueue(), false)

	_, err := svc.Kick(context.Background(), bob, g.ID, carol, RotationInput{
		WrappedKeys: keysFor(owner, bob),
	})
	assert.ErrorIs(t, err, ErrNotGroupOwner)
	assert.Equal(t, 1, store.groups[g.ID].KeyVersion)
}

func TestKickSelfRejected(t *testing.T) {
	store := newFakeStore()
	owner, bob := uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)

	svc := NewRotationService(store, store, newSpyQueue(), false)

	_, err := svc.Kick(context.Background(), owner, g.ID, owner, RotationInput{
		WrappedKeys: keysFor(bob),
	})
	assert.ErrorIs(t, err, ErrSelfKick)
}

func TestKickNonMember(t *testing.T) {
	store := newFakeStore()
	owner, bob := uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)

	svc := NewRotationService(store, store, newSpyQueue(), false)

	_, err := svc.Kick(context.Background(), owner, g.ID, uuid.New(), RotationInput{
		WrappedKeys: keysFor(owner, bob),
	})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestKickIncompleteKeySetLeavesEverythingUnchanged(t *testing.T) {
	store := newFakeStore()
	owner, bob, carol := uuid.New(), uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob, carol)

	svc := NewRotationService(store, store, newSpyQueue(), false)

	// Missing carol's key.
	_, err := svc.Kick(context.Background(), owner, g.ID, bob, RotationInput{
		WrappedKeys: keysFor(owner),
	})
	assert.ErrorIs(t, err, ErrIncompleteRotationSet)

	assert.Equal(t, 1, store.groups[g.ID].KeyVersion)
	assert.Equal(t, domain.MemberStateActive, store.members[g.ID][bob].State)
	assert.Equal(t, []byte("wrapped-v1-"+owner.String()), store.members[g.ID][owner].WrappedKey)
}

func TestKickRejectsKeyForDepartingMember(t *testing.T) {
	store := newFakeStore()
	owner, bob, carol := uuid.New(), uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob, carol)

	svc := NewRotationService(store, store, newSpyQueue(), false)

	// A wrapped key for the kicked member would hand them the new generation.
	_, err := svc.Kick(context.Background(), owner, g.ID, bob, RotationInput{
		WrappedKeys: keysFor(owner, bob, carol),
	})
	assert.ErrorIs(t, err, ErrIncompleteRotationSet)
	assert.Equal(t, 1, store.groups[g.ID].KeyVersion)
}

func TestConcurrentRotationsOneWins(t *testing.T) {
	store := newFakeStore()
	owner, bob, carol, dave := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob, carol, dave)

	svc := NewRotationService(store, store, newSpyQueue(), false)

	// Another kick commits between this request's membership read and its
	// commit, bumping the version out from under it.
	store.beforeCommit = func() {
		require.NoError(t, store.CommitRotation(context.Background(), g.ID, dave, 1, map[uuid.UUID][]byte{
			owner: []byte("other-1"),
			bob:   []byte("other-2"),
			carol: []byte("other-3"),
		}))
	}

	_, err := svc.Kick(context.Background(), owner, g.ID, bob, RotationInput{
		WrappedKeys: keysFor(owner, carol, dave),
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	// Only the interleaved rotation applied.
	assert.Equal(t, 2, store.groups[g.ID].KeyVersion)
	assert.Equal(t, domain.MemberStateActive, store.members[g.ID][bob].State)
	assert.Equal(t, []byte("other-2"), store.members[g.ID][bob].WrappedKey)
}

func TestLeaveDefaultKeepsKeyVersion(t *testing.T) {
	store := newFakeStore()
	owner, bob := uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)

	notifier := &spyNotifier{}
	queue := newSpyQueue()
	svc := NewRotationService(store, store, queue, false)
	svc.SetNotifier(notifier)

	err := svc.Leave(context.Background(), bob, g.ID, RotationInput{})
	require.NoError(t, err)

	assert.Equal(t, 1, store.groups[g.ID].KeyVersion)
	assert.Equal(t, domain.MemberStateInactive, store.members[g.ID][bob].State)
	assert.Equal(t, []uuid.UUID{bob}, notifier.left)
	assert.Empty(t, notifier.rotated)
	assert.Empty(t, queue.pushed)
}

func TestLeaveWithRotationPolicy(t *testing.T) {
	store := newFakeStore()
	owner, bob, carol := uuid.New(), uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob, carol)

	svc := NewRotationService(store, store, newSpyQueue(), true)

	// Leaving without the wrapped-key set fails under the policy.
	err := svc.Leave(context.Background(), bob, g.ID, RotationInput{})
	assert.ErrorIs(t, err, ErrIncompleteRotationSet)
	assert.Equal(t, domain.MemberStateActive, store.members[g.ID][bob].State)

	err = svc.Leave(context.Background(), bob, g.ID, RotationInput{
		WrappedKeys: keysFor(owner, carol),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, store.groups[g.ID].KeyVersion)
	assert.Equal(t, domain.MemberStateInactive, store.members[g.ID][bob].State)
}

func TestLeaveOwnerRejected(t *testing.T) {
	store := newFakeStore()
	owner, bob := uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)

	svc := NewRotationService(store, store, newSpyQueue(), false)

	err := svc.Leave(context.Background(), owner, g.ID, RotationInput{})
	assert.ErrorIs(t, err, ErrOwnerLeave)
}

func TestLeaveNonMember(t *testing.T) {
	store := newFakeStore()
	owner := uuid.New()
	g := seedGroup(store, owner)

	svc := NewRotationService(store, store, newSpyQueue(), false)

	err := svc.Leave(context.Background(), uuid.New(), g.ID, RotationInput{})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestLeaveDeactivateIsIdempotent(t *testing.T) {
	store := newFakeStore()
	owner, bob := uuid.New(), uuid.New()
	g := seedGroup(store, owner, bob)

	svc := NewRotationService(store, store, newSpyQueue(), false)

	require.NoError(t, svc.Leave(context.Background(), bob, g.ID, RotationInput{}))

	// Already inactive: the member record no longer reads as live.
	err := svc.Leave(context.Background(), bob, g.ID, RotationInput{})
	assert.ErrorIs(t, err, ErrNotMember)
}
