package game

// Built-in game kind names.
const (
	KindGroup               = "group"
	KindTwoPersonAsymmetric = "two_person_asymmetric"
	KindOffer               = "offer"
)

// GroupGame is a symmetric N-person game: the match accepts
// participants until it reaches its treatment's capacity and every seat
// is interchangeable.
type GroupGame struct{}

func (GroupGame) Kind() string { return KindGroup }

func (GroupGame) ReadyForNextParticipant(s State) bool {
	return !s.IsFull()
}

func (GroupGame) NextSlot(s State) (Slot, bool) {
	if s.IsFull() {
		return SlotMember, false
	}
	return SlotMember, true
}

// TwoPersonAsymmetricGame is a sequential two-role game. The match is
// open for the second participant only once the first participant has
// finished playing, so the responder never waits on the first mover.
type TwoPersonAsymmetricGame struct{}

func (TwoPersonAsymmetricGame) Kind() string { return KindTwoPersonAsymmetric }

func (TwoPersonAsymmetricGame) ReadyForNextParticipant(s State) bool {
	return s.Participant1Set && s.Participant1Finished && !s.Participant2Set
}

func (TwoPersonAsymmetricGame) NextSlot(s State) (Slot, bool) {
	switch {
	case !s.Participant1Set:
		return SlotParticipant1, true
	case !s.Participant2Set:
		return SlotParticipant2, true
	default:
		return SlotMember, false
	}
}

// OfferGame is a two-person asymmetric game where the first participant
// records an amount offered to the second (e.g. a dictator or ultimatum
// game). Readiness and role assignment follow the asymmetric rules; the
// offer itself is stored on the match.
type OfferGame struct {
	TwoPersonAsymmetricGame
}

func (OfferGame) Kind() string { return KindOffer }
