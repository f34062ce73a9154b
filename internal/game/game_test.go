package game

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsBadRegistrations(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(nil))

	require.NoError(t, r.Register(GroupGame{}))
	assert.Error(t, r.Register(GroupGame{}), "duplicate kind must be rejected")
}

func TestRegistryGetUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("prisoner_dilemma")
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestDefaultRegistryKinds(t *testing.T) {
	r := DefaultRegistry()
	for _, kind := range []string{KindGroup, KindTwoPersonAsymmetric, KindOffer} {
		def, err := r.Get(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, def.Kind())
	}
}

func TestStateIsFull(t *testing.T) {
	cases := []struct {
		name     string
		occupied int
		capacity int
		full     bool
	}{
		{"empty", 0, 2, false},
		{"partial", 1, 2, false},
		{"at capacity", 2, 2, true},
		{"over capacity", 3, 2, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := State{Capacity: tc.capacity, Occupied: tc.occupied}
			assert.Equal(t, tc.full, s.IsFull())
		})
	}
}

func TestTwoPersonAsymmetricReadiness(t *testing.T) {
	def := TwoPersonAsymmetricGame{}

	cases := []struct {
		name  string
		state State
		ready bool
	}{
		{"empty match", State{Capacity: 2}, false},
		{"p1 joined, not finished", State{Capacity: 2, Occupied: 1, Participant1Set: true}, false},
		{"p1 finished, p2 empty", State{Capacity: 2, Occupied: 1, Participant1Set: true, Participant1Finished: true}, true},
		{"p1 finished, p2 taken", State{Capacity: 2, Occupied: 2, Participant1Set: true, Participant1Finished: true, Participant2Set: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ready, def.ReadyForNextParticipant(tc.state))
		})
	}
}

func TestTwoPersonAsymmetricNextSlot(t *testing.T) {
	def := TwoPersonAsymmetricGame{}

	slot, ok := def.NextSlot(State{Capacity: 2})
	require.True(t, ok)
	assert.Equal(t, SlotParticipant1, slot)

	slot, ok = def.NextSlot(State{Capacity: 2, Occupied: 1, Participant1Set: true, Participant1Finished: true})
	require.True(t, ok)
	assert.Equal(t, SlotParticipant2, slot)

	_, ok = def.NextSlot(State{Capacity: 2, Occupied: 2, Participant1Set: true, Participant2Set: true})
	assert.False(t, ok)
}

func TestGroupGame(t *testing.T) {
	def := GroupGame{}

	assert.True(t, def.ReadyForNextParticipant(State{Capacity: 4, Occupied: 3}))
	assert.False(t, def.ReadyForNextParticipant(State{Capacity: 4, Occupied: 4}))

	slot, ok := def.NextSlot(State{Capacity: 4, Occupied: 3})
	require.True(t, ok)
	assert.Equal(t, SlotMember, slot)

	_, ok = def.NextSlot(State{Capacity: 4, Occupied: 4})
	assert.False(t, ok)
}

func TestOfferGameInheritsAsymmetricRules(t *testing.T) {
	def := OfferGame{}
	assert.Equal(t, KindOffer, def.Kind())
	assert.True(t, def.ReadyForNextParticipant(State{Capacity: 2, Occupied: 1, Participant1Set: true, Participant1Finished: true}))
	assert.False(t, def.ReadyForNextParticipant(State{Capacity: 2}))
}
