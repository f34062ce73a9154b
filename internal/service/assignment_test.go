package service

import (
	"context"
	"net/http"
	"net/netip"
	"testing"

	"github.com/CQNKZX/otree-core/internal/errs"
	"github.com/CQNKZX/otree-core/internal/game"
	"github.com/CQNKZX/otree-core/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offerSpec(name string) repository.ExperimentSpec {
	return repository.ExperimentSpec{
		Kind: game.KindOffer,
		Name: name,
		Treatments: []repository.TreatmentSpec{
			{Code: name + "-t1", ParticipantsPerMatch: 2, BasePay: decimal.NewFromInt(10)},
		},
	}
}

// setupSequence builds a connected sequence and returns its detail and
// participant views.
func setupSequence(t *testing.T, m *memStore, n int, specs ...repository.ExperimentSpec) (*SequenceDetail, []ParticipantView) {
	t.Helper()
	svc := testSequenceService(m)
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateSequenceParams{
		NumParticipants: n,
		StartViewName:   "Start",
		EndViewName:     "End",
	})
	require.NoError(t, err)
	_, err = svc.AddExperiments(ctx, detail.Code, specs)
	require.NoError(t, err)
	require.NoError(t, svc.ConnectParticipants(ctx, detail.Code))

	participants, err := svc.Participants(ctx, detail.Code)
	require.NoError(t, err)
	return detail, participants
}

func TestInitializeParticipant(t *testing.T) {
	m := newMemStore()
	svc := testAssignmentService(m)
	ctx := context.Background()

	seq, participants := setupSequence(t, m, 2, groupSpec("first", 2))

	ip := netip.MustParseAddr("203.0.113.9")
	worker := "W123"
	res, err := svc.InitializeParticipant(ctx, InitializeParams{
		SequenceCode:    seq.Code,
		ParticipantCode: participants[0].Code,
		IPAddress:       &ip,
		MTurkWorkerID:   &worker,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "/Start/", res.RedirectURL)
	assert.Equal(t, 0, res.Session.ExperimentPosition)
	assert.Equal(t, participants[0].ID, res.Session.ParticipantID)

	stored := m.participants[participants[0].ID]
	assert.True(t, stored.Visited)
	require.NotNil(t, stored.MTurkWorkerID)
	assert.Equal(t, "W123", *stored.MTurkWorkerID)

	sess, err := m.GetSession(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, seq.ID, sess.SequenceID)
}

func TestInitializeParticipantWrongSequence(t *testing.T) {
	m := newMemStore()
	svc := testAssignmentService(m)
	ctx := context.Background()

	seqA, _ := setupSequence(t, m, 1, groupSpec("first", 2))
	_, participantsB := setupSequence(t, m, 1, groupSpec("other", 2))

	_, err := svc.InitializeParticipant(ctx, InitializeParams{
		SequenceCode:    seqA.Code,
		ParticipantCode: participantsB[0].Code,
	})

	var httpErr *errs.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
}

func TestInitializeParticipantTerminated(t *testing.T) {
	m := newMemStore()
	svc := testAssignmentService(m)
	ctx := context.Background()

	seq, participants := setupSequence(t, m, 1, groupSpec("first", 2))
	require.NoError(t, m.Terminate(ctx, participants[0].ID))

	_, err := svc.InitializeParticipant(ctx, InitializeParams{
		SequenceCode:    seq.Code,
		ParticipantCode: participants[0].Code,
	})

	var httpErr *errs.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.Status)
}

func initialize(t *testing.T, svc *AssignmentService, seq *SequenceDetail, p ParticipantView) *InitializeResult {
	t.Helper()
	res, err := svc.InitializeParticipant(context.Background(), InitializeParams{
		SequenceCode:    seq.Code,
		ParticipantCode: p.Code,
	})
	require.NoError(t, err)
	return res
}

func TestNextOpenMatchNoneAvailable(t *testing.T) {
	m := newMemStore()
	svc := testAssignmentService(m)
	ctx := context.Background()

	seq, participants := setupSequence(t, m, 1, groupSpec("first", 2))
	res := initialize(t, svc, seq, participants[0])

	_, err := svc.NextOpenMatch(ctx, res.Token, res.Session)

	var httpErr *errs.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Equal(t, "NO_OPEN_MATCH", httpErr.Code)
	assert.Empty(t, m.matches, "looking must never create a match")
}

func TestJoinMatchFillsBeforeOpeningAnother(t *testing.T) {
	m := newMemStore()
	svc := testAssignmentService(m)
	ctx := context.Background()

	seq, participants := setupSequence(t, m, 3, groupSpec("first", 2))

	a := initialize(t, svc, seq, participants[0])
	b := initialize(t, svc, seq, participants[1])
	c := initialize(t, svc, seq, participants[2])

	viewA, err := svc.JoinMatch(ctx, a.Token, a.Session)
	require.NoError(t, err)
	assert.False(t, viewA.IsFull)

	viewB, err := svc.JoinMatch(ctx, b.Token, b.Session)
	require.NoError(t, err)
	assert.Equal(t, viewA.Match.ID, viewB.Match.ID, "second participant fills the open match")
	assert.True(t, viewB.IsFull)

	viewC, err := svc.JoinMatch(ctx, c.Token, c.Session)
	require.NoError(t, err)
	assert.NotEqual(t, viewA.Match.ID, viewC.Match.ID, "full matches are skipped")
}

func TestJoinMatchIsIdempotentPerParticipant(t *testing.T) {
	m := newMemStore()
	svc := testAssignmentService(m)
	ctx := context.Background()

	seq, participants := setupSequence(t, m, 1, groupSpec("first", 2))
	res := initialize(t, svc, seq, participants[0])

	first, err := svc.JoinMatch(ctx, res.Token, res.Session)
	require.NoError(t, err)
	again, err := svc.JoinMatch(ctx, res.Token, res.Session)
	require.NoError(t, err)

	assert.Equal(t, first.Match.ID, again.Match.ID)
	assert.Len(t, m.matches, 1)
}

func TestAsymmetricMatchWaitsForParticipant1(t *testing.T) {
	m := newMemStore()
	svc := testAssignmentService(m)
	ctx := context.Background()

	seq, participants := setupSequence(t, m, 2, offerSpec("offers"))

	p1 := initialize(t, svc, seq, participants[0])
	p2 := initialize(t, svc, seq, participants[1])

	view1, err := svc.JoinMatch(ctx, p1.Token, p1.Session)
	require.NoError(t, err)
	assert.Equal(t, game.SlotParticipant1, view1.Slot)

	// Participant 1 has not finished, so the match is not claimable.
	_, err = svc.NextOpenMatch(ctx, p2.Token, p2.Session)
	var httpErr *errs.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "NO_OPEN_MATCH", httpErr.Code)

	view1, err = svc.SetOffer(ctx, p1.Session, 40)
	require.NoError(t, err)
	require.NotNil(t, view1.Match.AmountOffered)
	assert.Equal(t, int64(40), *view1.Match.AmountOffered)

	require.NoError(t, svc.FinishPlaying(ctx, p1.Session, nil))

	view2, err := svc.NextOpenMatch(ctx, p2.Token, p2.Session)
	require.NoError(t, err)
	assert.Equal(t, view1.Match.ID, view2.Match.ID)
	assert.Equal(t, game.SlotParticipant2, view2.Slot)
	assert.True(t, view2.IsFull)
}

func TestSetOfferRules(t *testing.T) {
	m := newMemStore()
	svc := testAssignmentService(m)
	ctx := context.Background()

	t.Run("non-offer kind rejected", func(t *testing.T) {
		seq, participants := setupSequence(t, m, 1, groupSpec("plain", 2))
		res := initialize(t, svc, seq, participants[0])
		_, err := svc.JoinMatch(ctx, res.Token, res.Session)
		require.NoError(t, err)

		_, err = svc.SetOffer(ctx, res.Session, 10)
		var httpErr *errs.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, "OFFER_NOT_SUPPORTED", httpErr.Code)
	})

	t.Run("only once and only participant 1", func(t *testing.T) {
		seq, participants := setupSequence(t, m, 2, offerSpec("offers"))
		p1 := initialize(t, svc, seq, participants[0])
		p2 := initialize(t, svc, seq, participants[1])

		_, err := svc.JoinMatch(ctx, p1.Token, p1.Session)
		require.NoError(t, err)
		_, err = svc.SetOffer(ctx, p1.Session, 40)
		require.NoError(t, err)

		_, err = svc.SetOffer(ctx, p1.Session, 60)
		var httpErr *errs.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusForbidden, httpErr.Status)

		require.NoError(t, svc.FinishPlaying(ctx, p1.Session, nil))
		_, err = svc.NextOpenMatch(ctx, p2.Token, p2.Session)
		require.NoError(t, err)

		_, err = svc.SetOffer(ctx, p2.Session, 5)
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusForbidden, httpErr.Status)
	})
}

func TestAdvanceThroughChain(t *testing.T) {
	m := newMemStore()
	svc := testAssignmentService(m)
	ctx := context.Background()

	seq, participants := setupSequence(t, m, 2, groupSpec("first", 2), groupSpec("second", 2))
	res := initialize(t, svc, seq, participants[0])

	_, err := svc.JoinMatch(ctx, res.Token, res.Session)
	require.NoError(t, err)
	require.NoError(t, svc.FinishPlaying(ctx, res.Session, nil))

	step, err := svc.Advance(ctx, res.Token, res.Session)
	require.NoError(t, err)
	assert.False(t, step.Done)
	assert.Equal(t, "/Start/", step.RedirectURL)
	assert.Equal(t, 1, step.Session.ExperimentPosition)
	assert.Zero(t, step.Session.TreatmentID, "treatment does not carry over between experiments")

	require.NoError(t, svc.FinishPlaying(ctx, step.Session, nil))

	end, err := svc.Advance(ctx, res.Token, step.Session)
	require.NoError(t, err)
	assert.True(t, end.Done)
	assert.Equal(t, "/End/", end.RedirectURL)

	_, err = m.GetSession(ctx, res.Token)
	assert.Error(t, err, "session is torn down at the end of the chain")
}

func TestFinishPlayingDefaultsToBasePay(t *testing.T) {
	m := newMemStore()
	svc := testAssignmentService(m)
	ctx := context.Background()

	seq, participants := setupSequence(t, m, 1, groupSpec("first", 2))
	res := initialize(t, svc, seq, participants[0])
	_, err := svc.JoinMatch(ctx, res.Token, res.Session)
	require.NoError(t, err)

	require.NoError(t, svc.FinishPlaying(ctx, res.Session, nil))

	ep := m.eps[res.Session.ExperimentParticipantID]
	assert.True(t, ep.IsFinished)
	assert.True(t, ep.Payoff.Equal(decimal.NewFromInt(5)), "payoff %s", ep.Payoff)
}

func TestProgressSumsPayoffs(t *testing.T) {
	m := newMemStore()
	svc := testAssignmentService(m)
	ctx := context.Background()

	seq, participants := setupSequence(t, m, 2, groupSpec("first", 2), groupSpec("second", 2))
	res := initialize(t, svc, seq, participants[0])

	pay1 := decimal.NewFromFloat(12.50)
	require.NoError(t, svc.FinishPlaying(ctx, res.Session, &pay1))
	step, err := svc.Advance(ctx, res.Token, res.Session)
	require.NoError(t, err)

	pay2 := decimal.NewFromFloat(7.25)
	require.NoError(t, svc.FinishPlaying(ctx, step.Session, &pay2))

	progress, err := svc.Progress(ctx, step.Session)
	require.NoError(t, err)
	require.Len(t, progress.Chain, 2)
	assert.True(t, progress.TotalPay.Equal(decimal.NewFromFloat(19.75)), "total %s", progress.TotalPay)
}
