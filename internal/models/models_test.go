package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestSequenceStartURL(t *testing.T) {
	seq := &Sequence{ID: 7, Code: "abcdwxyz"}
	assert.Equal(t, "/InitializeSequence/?sequence_of_experiments_code=abcdwxyz", seq.StartURL())
}

func TestParticipantStartURL(t *testing.T) {
	seq := &Sequence{ID: 7, Code: "abcdwxyz"}
	p := &Participant{ID: 3, Code: "p1p1p1p1"}
	assert.Equal(t,
		"/InitializeSequence/?sequence_of_experiments_code=abcdwxyz&participant_in_sequence_of_experiments_code=p1p1p1p1",
		p.StartURL(seq))
}

func TestSequenceDisplayName(t *testing.T) {
	t.Run("label wins", func(t *testing.T) {
		seq := &Sequence{ID: 2, Label: strPtr("pilot study")}
		assert.Equal(t, "2: pilot study", seq.DisplayName([]Experiment{{Name: "dictator"}}))
	})

	t.Run("experiment names", func(t *testing.T) {
		seq := &Sequence{ID: 2}
		got := seq.DisplayName([]Experiment{{Name: "dictator"}, {Name: "ultimatum"}})
		assert.Equal(t, "2: dictator, ultimatum", got)
	})

	t.Run("empty sequence", func(t *testing.T) {
		seq := &Sequence{ID: 2}
		assert.Equal(t, "2: [empty sequence]", seq.DisplayName(nil))
	})
}

func TestParticipantDisplayName(t *testing.T) {
	p := &Participant{ID: 11}
	assert.Equal(t, "11", p.DisplayName())

	p.Label = strPtr("W-42")
	assert.Equal(t, "11 (W-42)", p.DisplayName())
}
