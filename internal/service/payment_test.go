package service

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/CQNKZX/otree-core/internal/errs"
	"github.com/CQNKZX/otree-core/internal/lib/job"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payoutFixture finishes both participants of a two-person sequence
// with fixed payoffs and returns the sequence detail.
func payoutFixture(t *testing.T, m *memStore) *SequenceDetail {
	t.Helper()
	ctx := context.Background()
	svc := testAssignmentService(m)

	seq, participants := setupSequence(t, m, 2, groupSpec("first", 2))

	amounts := []decimal.Decimal{decimal.NewFromFloat(12.50), decimal.NewFromFloat(7.50)}
	for i, p := range participants {
		res := initialize(t, svc, seq, p)
		_, err := svc.JoinMatch(ctx, res.Token, res.Session)
		require.NoError(t, err)
		require.NoError(t, svc.FinishPlaying(ctx, res.Session, &amounts[i]))
	}
	return seq
}

func TestPaymentPreview(t *testing.T) {
	m := newMemStore()
	seq := payoutFixture(t, m)
	svc := testPaymentService(m, &fakeEnqueuer{})

	preview, err := svc.Preview(context.Background(), seq.Code)
	require.NoError(t, err)

	require.Len(t, preview.Rows, 2)
	assert.False(t, preview.PaymentWasSent)
	assert.True(t, preview.Total.Equal(decimal.NewFromInt(20)), "total %s", preview.Total)
	assert.True(t, preview.Rows[0].Total.Equal(decimal.NewFromFloat(12.50)))
	assert.True(t, preview.Rows[1].Total.Equal(decimal.NewFromFloat(7.50)))
}

func TestPaymentExportCSV(t *testing.T) {
	m := newMemStore()
	seq := payoutFixture(t, m)
	svc := testPaymentService(m, &fakeEnqueuer{})

	body, filename, err := svc.ExportCSV(context.Background(), seq.Code)
	require.NoError(t, err)

	assert.Equal(t, "payments_"+seq.Code+".csv", filename)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "participant_code,label,mturk_worker_id,total_pay", lines[0])
	assert.Contains(t, lines[1], "12.50")
	assert.Contains(t, lines[2], "7.50")
}

func TestPaymentSendQueuesOnce(t *testing.T) {
	m := newMemStore()
	seq := payoutFixture(t, m)
	enq := &fakeEnqueuer{}
	svc := testPaymentService(m, enq)
	ctx := context.Background()

	res, err := svc.Send(ctx, seq.Code, "lab@example.org")
	require.NoError(t, err)
	assert.Equal(t, seq.Code, res.SequenceCode)
	assert.NotEmpty(t, res.TaskID)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, job.TaskPaymentsSend, enq.tasks[0].Type())

	// Worker side: flips the flag and reports the totals.
	summary, err := svc.ProcessPayout(ctx, seq.Code)
	require.NoError(t, err)
	assert.Equal(t, "20.00", summary.TotalPaid)
	assert.Equal(t, 2, summary.ParticipantCount)

	// A second send is refused outright with a conflict.
	_, err = svc.Send(ctx, seq.Code, "")
	var httpErr *errs.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusConflict, httpErr.Status)
	assert.Equal(t, "PAYMENTS_ALREADY_SENT", httpErr.Code)
	assert.Len(t, enq.tasks, 1)
}

func TestProcessPayoutIsOneShot(t *testing.T) {
	m := newMemStore()
	seq := payoutFixture(t, m)
	svc := testPaymentService(m, &fakeEnqueuer{})
	ctx := context.Background()

	_, err := svc.ProcessPayout(ctx, seq.Code)
	require.NoError(t, err)

	// A duplicate task loses the flag flip and pays nothing.
	_, err = svc.ProcessPayout(ctx, seq.Code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already sent")
}
