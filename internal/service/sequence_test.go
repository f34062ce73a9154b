package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/CQNKZX/otree-core/internal/errs"
	"github.com/CQNKZX/otree-core/internal/game"
	"github.com/CQNKZX/otree-core/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func groupSpec(name string, ppm int) repository.ExperimentSpec {
	return repository.ExperimentSpec{
		Kind: game.KindGroup,
		Name: name,
		Treatments: []repository.TreatmentSpec{
			{Code: name + "-t1", ParticipantsPerMatch: ppm, BasePay: decimal.NewFromInt(5)},
		},
	}
}

func TestSequenceCreate(t *testing.T) {
	m := newMemStore()
	svc := testSequenceService(m)
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateSequenceParams{
		Label:           strPtr("pilot"),
		NumParticipants: 3,
		Labels:          []string{"a", "b", "c"},
		StartViewName:   "Start",
		EndViewName:     "End",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, detail.Code)
	assert.NotEmpty(t, detail.ExperimenterAccessCode)
	assert.Contains(t, detail.StartURL, detail.Code)
	assert.Contains(t, detail.DisplayName, "[empty sequence]")

	participants, err := svc.Participants(ctx, detail.Code)
	require.NoError(t, err)
	require.Len(t, participants, 3)
	assert.Equal(t, "a", *participants[0].Label)
	assert.Contains(t, participants[0].StartURL, participants[0].Code)
}

func TestAddExperimentsUnknownKind(t *testing.T) {
	m := newMemStore()
	svc := testSequenceService(m)
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateSequenceParams{NumParticipants: 2})
	require.NoError(t, err)

	_, err = svc.AddExperiments(ctx, detail.Code, []repository.ExperimentSpec{
		groupSpec("first", 2),
		{Kind: "auction", Name: "second"},
	})

	var httpErr *errs.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
	assert.Equal(t, "UNKNOWN_GAME_KIND", httpErr.Code)

	experiments, err := svc.Experiments(ctx, detail.Code)
	require.NoError(t, err)
	assert.Empty(t, experiments, "nothing may be persisted when any kind is unknown")
}

func TestAddExperimentsKeepsOrder(t *testing.T) {
	m := newMemStore()
	svc := testSequenceService(m)
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateSequenceParams{NumParticipants: 2})
	require.NoError(t, err)

	_, err = svc.AddExperiments(ctx, detail.Code, []repository.ExperimentSpec{groupSpec("first", 2)})
	require.NoError(t, err)
	_, err = svc.AddExperiments(ctx, detail.Code, []repository.ExperimentSpec{
		groupSpec("second", 2),
		groupSpec("third", 2),
	})
	require.NoError(t, err)

	experiments, err := svc.Experiments(ctx, detail.Code)
	require.NoError(t, err)
	require.Len(t, experiments, 3)
	for i, name := range []string{"first", "second", "third"} {
		assert.Equal(t, name, experiments[i].Name)
		assert.Equal(t, i, experiments[i].Position)
	}
}

func TestConnectParticipantsPairsBySlot(t *testing.T) {
	m := newMemStore()
	svc := testSequenceService(m)
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateSequenceParams{NumParticipants: 2})
	require.NoError(t, err)
	_, err = svc.AddExperiments(ctx, detail.Code, []repository.ExperimentSpec{
		groupSpec("first", 2),
		groupSpec("second", 2),
	})
	require.NoError(t, err)

	require.NoError(t, svc.ConnectParticipants(ctx, detail.Code))

	participants, err := svc.Participants(ctx, detail.Code)
	require.NoError(t, err)

	experiments, err := svc.Experiments(ctx, detail.Code)
	require.NoError(t, err)

	// Slot i of every experiment belongs to participant i.
	for _, exp := range experiments {
		slots, err := m.ListExperimentParticipants(ctx, exp.ID)
		require.NoError(t, err)
		require.Len(t, slots, 2)
		for i, slot := range slots {
			require.NotNil(t, slot.ParticipantID)
			assert.Equal(t, participants[i].ID, *slot.ParticipantID)
		}
	}

	chain, err := m.ChainFor(ctx, participants[0].ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, 0, chain[0].Position)
	assert.Equal(t, 1, chain[1].Position)
}

func TestConnectParticipantsCountMismatch(t *testing.T) {
	m := newMemStore()
	svc := testSequenceService(m)
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateSequenceParams{NumParticipants: 2})
	require.NoError(t, err)
	_, err = svc.AddExperiments(ctx, detail.Code, []repository.ExperimentSpec{groupSpec("first", 2)})
	require.NoError(t, err)

	// Grow the cohort after the experiment's slots were created.
	_, err = m.CreateBatch(ctx, detail.ID, 1, nil)
	require.NoError(t, err)

	err = svc.ConnectParticipants(ctx, detail.Code)

	var httpErr *errs.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
	assert.Equal(t, "PARTICIPANT_COUNT_MISMATCH", httpErr.Code)
	require.Len(t, httpErr.Errors, 1)
	assert.Equal(t, "first", httpErr.Errors[0].Field)

	experiments, err := svc.Experiments(ctx, detail.Code)
	require.NoError(t, err)
	slots, err := m.ListExperimentParticipants(ctx, experiments[0].ID)
	require.NoError(t, err)
	for _, slot := range slots {
		assert.Nil(t, slot.ParticipantID, "no link may be written on mismatch")
	}
}

func TestPreassignMatches(t *testing.T) {
	m := newMemStore()
	svc := testSequenceService(m)
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateSequenceParams{
		NumParticipants:  5,
		PreassignMatches: true,
	})
	require.NoError(t, err)
	_, err = svc.AddExperiments(ctx, detail.Code, []repository.ExperimentSpec{groupSpec("first", 2)})
	require.NoError(t, err)
	require.NoError(t, svc.ConnectParticipants(ctx, detail.Code))

	report, err := svc.PreassignMatches(ctx, detail.Code)
	require.NoError(t, err)
	assert.Equal(t, 2, report.MatchesCreated)
	assert.Equal(t, 4, report.ParticipantsUsed)
	assert.Equal(t, 1, report.LeftOver)

	experiments, err := svc.Experiments(ctx, detail.Code)
	require.NoError(t, err)
	matches, err := m.ListMatchesByExperiment(ctx, experiments[0].ID)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	seated := 0
	slots, err := m.ListExperimentParticipants(ctx, experiments[0].ID)
	require.NoError(t, err)
	for _, slot := range slots {
		if slot.MatchID != nil {
			seated++
			assert.NotNil(t, slot.TreatmentID)
		}
	}
	assert.Equal(t, 4, seated)
}

func TestPreassignMatchesDisabled(t *testing.T) {
	m := newMemStore()
	svc := testSequenceService(m)
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateSequenceParams{NumParticipants: 2})
	require.NoError(t, err)

	_, err = svc.PreassignMatches(ctx, detail.Code)

	var httpErr *errs.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "PREASSIGN_DISABLED", httpErr.Code)
}

func TestTerminateParticipant(t *testing.T) {
	m := newMemStore()
	svc := testSequenceService(m)
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateSequenceParams{NumParticipants: 1})
	require.NoError(t, err)
	participants, err := svc.Participants(ctx, detail.Code)
	require.NoError(t, err)

	require.NoError(t, svc.TerminateParticipant(ctx, detail.Code, participants[0].Code))
	assert.True(t, m.participants[participants[0].ID].WasTerminated)

	other, err := svc.Create(ctx, CreateSequenceParams{NumParticipants: 1})
	require.NoError(t, err)
	err = svc.TerminateParticipant(ctx, other.Code, participants[0].Code)
	var httpErr *errs.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
}

func TestMonitorByAccessCode(t *testing.T) {
	m := newMemStore()
	svc := testSequenceService(m)
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateSequenceParams{NumParticipants: 2})
	require.NoError(t, err)
	_, err = svc.AddExperiments(ctx, detail.Code, []repository.ExperimentSpec{groupSpec("first", 2)})
	require.NoError(t, err)

	view, err := svc.Monitor(ctx, detail.ExperimenterAccessCode)
	require.NoError(t, err)
	assert.Equal(t, detail.Code, view.Sequence.Code)
	assert.Len(t, view.Participants, 2)
	assert.Empty(t, view.Matches)

	_, err = svc.Monitor(ctx, "bogus")
	assert.Error(t, err)
}
