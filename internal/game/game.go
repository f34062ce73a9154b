// Package game defines the playable game kinds and the readiness rules
// that decide when a match can accept another participant.
//
// Each kind is a Definition registered up front; creating a match of an
// unknown kind fails at construction, never at call time.
package game

import (
	"errors"
	"fmt"
)

// Slot names the role a joining participant takes inside a match.
type Slot int

const (
	// SlotMember is an undifferentiated seat in a symmetric game.
	SlotMember Slot = iota
	// SlotParticipant1 is the first mover in an asymmetric game.
	SlotParticipant1
	// SlotParticipant2 is the responder in an asymmetric game.
	SlotParticipant2
)

func (s Slot) String() string {
	switch s {
	case SlotParticipant1:
		return "participant_1"
	case SlotParticipant2:
		return "participant_2"
	default:
		return "member"
	}
}

// State is a snapshot of a match handed to readiness predicates.
// Capacity comes from the match's treatment; the rest is derived from
// the match row and its members.
type State struct {
	Capacity             int
	Occupied             int
	Participant1Set      bool
	Participant2Set      bool
	Participant1Finished bool
}

// IsFull reports whether no more participants can be assigned.
func (s State) IsFull() bool {
	return s.Occupied >= s.Capacity
}

// Definition describes one game kind. ReadyForNextParticipant decides
// whether the match can take another participant; NextSlot picks the
// role the joiner occupies, returning false when no slot is open.
type Definition interface {
	Kind() string
	ReadyForNextParticipant(State) bool
	NextSlot(State) (Slot, bool)
}

// ErrUnknownKind is returned by Registry.Get for kinds that were never
// registered.
var ErrUnknownKind = errors.New("game: unknown kind")

// Registry maps kind names to their definitions.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. Nil definitions, empty kind names and
// duplicates are rejected so a misconfigured kind fails at startup.
func (r *Registry) Register(def Definition) error {
	if def == nil {
		return errors.New("game: nil definition")
	}
	kind := def.Kind()
	if kind == "" {
		return errors.New("game: empty kind name")
	}
	if _, exists := r.defs[kind]; exists {
		return fmt.Errorf("game: kind %q already registered", kind)
	}
	r.defs[kind] = def
	return nil
}

// Get returns the definition for kind or ErrUnknownKind.
func (r *Registry) Get(kind string) (Definition, error) {
	def, ok := r.defs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return def, nil
}

// Kinds lists the registered kind names.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.defs))
	for k := range r.defs {
		kinds = append(kinds, k)
	}
	return kinds
}

// DefaultRegistry returns a registry with all built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range []Definition{
		GroupGame{},
		TwoPersonAsymmetricGame{},
		OfferGame{},
	} {
		// Built-ins are statically valid; a failure here is a
		// programming error.
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}
