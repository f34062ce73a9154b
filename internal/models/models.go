// Package models defines the persistent entities of the experiment
// platform: sequences of experiments, the experiments and treatments
// inside them, participants and their per-experiment progress records,
// and matches (played game instances).
package models

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Query parameter names embedded in participant-facing URLs. These are
// part of the external interface and must stay stable.
const (
	SequenceCodeParam    = "sequence_of_experiments_code"
	ParticipantCodeParam = "participant_in_sequence_of_experiments_code"
)

// Sequence is one run of a study: an ordered chain of experiments that
// a cohort of participants passes through together.
type Sequence struct {
	ID                     int64     `json:"id"`
	Code                   string    `json:"code"`
	ExperimenterAccessCode string    `json:"experimenter_access_code"`
	Label                  *string   `json:"label"`
	IsForMTurk             bool      `json:"is_for_mturk"`
	PaymentWasSent         bool      `json:"payment_was_sent"`
	PreassignMatches       bool      `json:"preassign_matches"`
	StartViewName          string    `json:"start_view_name"`
	EndViewName            string    `json:"end_view_name"`
	TimeCreated            time.Time `json:"time_created"`
}

// StartURL is the URL a participant is redirected to in order to start
// the sequence.
func (s *Sequence) StartURL() string {
	return fmt.Sprintf("/InitializeSequence/?%s=%s", SequenceCodeParam, s.Code)
}

// ExperimenterURL is the monitor URL for the experimenter running this
// sequence.
func (s *Sequence) ExperimenterURL() string {
	return fmt.Sprintf("/api/monitor/sequence?access_code=%s", s.ExperimenterAccessCode)
}

// DisplayName labels the sequence for admin listings: the label when
// set, otherwise the comma-joined experiment names, otherwise a
// placeholder. Always prefixed with the id.
func (s *Sequence) DisplayName(experiments []Experiment) string {
	var postfix string
	switch {
	case s.Label != nil && *s.Label != "":
		postfix = *s.Label
	case len(experiments) > 0:
		names := make([]string, len(experiments))
		for i, e := range experiments {
			names[i] = e.Name
		}
		postfix = strings.Join(names, ", ")
	default:
		postfix = "[empty sequence]"
	}
	return fmt.Sprintf("%d: %s", s.ID, postfix)
}

// Experiment is one stage in a sequence. Order within the sequence is
// index-addressed via Position; traversal is a single ordered query
// rather than pointer chasing.
type Experiment struct {
	ID          int64     `json:"id"`
	SequenceID  int64     `json:"sequence_id"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	Position    int       `json:"position"`
	TimeCreated time.Time `json:"time_created"`
}

// Treatment is a configuration variant of a game within an experiment.
// Its code is carried in participant sessions and filtered on when
// claiming a match.
type Treatment struct {
	ID                   int64           `json:"id"`
	ExperimentID         int64           `json:"experiment_id"`
	Code                 string          `json:"code"`
	ParticipantsPerMatch int             `json:"participants_per_match"`
	BasePay              decimal.Decimal `json:"base_pay"`
}

// Participant is a person's identity across one sequence. The label is
// an external id (e.g. a lab roster number); it is unique within a
// sequence but may recur across sequences.
type Participant struct {
	ID                int64       `json:"id"`
	SequenceID        int64       `json:"sequence_id"`
	Code              string      `json:"code"`
	Label             *string     `json:"label"`
	Visited           bool        `json:"visited"`
	WasTerminated     bool        `json:"was_terminated"`
	MTurkAssignmentID *string     `json:"mturk_assignment_id"`
	MTurkWorkerID     *string     `json:"mturk_worker_id"`
	IPAddress         *netip.Addr `json:"ip_address"`
	TimeCreated       time.Time   `json:"time_created"`
}

// StartURL appends the participant's code to the sequence start URL.
func (p *Participant) StartURL(seq *Sequence) string {
	return fmt.Sprintf("%s&%s=%s", seq.StartURL(), ParticipantCodeParam, url.QueryEscape(p.Code))
}

// DisplayName labels the participant for admin listings.
func (p *Participant) DisplayName() string {
	if p.Label != nil && *p.Label != "" {
		return fmt.Sprintf("%d (%s)", p.ID, *p.Label)
	}
	return fmt.Sprintf("%d", p.ID)
}

// ExperimentParticipant is a participant's progress record inside one
// experiment. Records are created unlinked (slot-addressed) when the
// experiment is added and stitched to a global participant later; the
// record for the same participant in the next experiment is the row
// with the same participant id at position+1.
type ExperimentParticipant struct {
	ID            int64           `json:"id"`
	ExperimentID  int64           `json:"experiment_id"`
	ParticipantID *int64          `json:"participant_id"`
	Slot          int             `json:"slot"`
	MatchID       *int64          `json:"match_id"`
	TreatmentID   *int64          `json:"treatment_id"`
	IsFinished    bool            `json:"is_finished"`
	Payoff        decimal.Decimal `json:"payoff"`
}

// Match is one played instance of a game. Kind selects the game
// definition from the registry; Participant1ID/Participant2ID are the
// role slots used by two-person asymmetric kinds, and AmountOffered is
// the offer-game amount recorded by participant 1.
type Match struct {
	ID             int64     `json:"id"`
	ExperimentID   int64     `json:"experiment_id"`
	TreatmentID    int64     `json:"treatment_id"`
	Kind           string    `json:"kind"`
	Participant1ID *int64    `json:"participant_1_id"`
	Participant2ID *int64    `json:"participant_2_id"`
	AmountOffered  *int64    `json:"amount_offered"`
	TimeStarted    time.Time `json:"time_started"`
}

// StubModel is an empty placeholder record backing formless views. A
// single row is ensured idempotently at migration time.
type StubModel struct {
	ID int64 `json:"id"`
}
