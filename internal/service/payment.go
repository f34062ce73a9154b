package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/CQNKZX/otree-core/internal/errs"
	"github.com/CQNKZX/otree-core/internal/lib/job"
	"github.com/CQNKZX/otree-core/internal/repository"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TaskEnqueuer is the slice of the Asynq client the payment service
// needs. Satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PaymentService computes payouts for a finished sequence and runs the
// one-shot send. It implements job.PayoutProcessor; the actual send
// happens on the worker, guarded by the sequence's payment flag.
type PaymentService struct {
	sequences    SequenceStore
	participants ParticipantStore
	enqueuer     TaskEnqueuer
	logger       *zerolog.Logger
}

func NewPaymentService(
	sequences SequenceStore,
	participants ParticipantStore,
	enqueuer TaskEnqueuer,
	logger *zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		sequences:    sequences,
		participants: participants,
		enqueuer:     enqueuer,
		logger:       logger,
	}
}

// PaymentPreview is the experimenter's pre-send view of a sequence's
// payouts.
type PaymentPreview struct {
	SequenceCode   string                  `json:"sequence_code"`
	IsForMTurk     bool                    `json:"is_for_mturk"`
	PaymentWasSent bool                    `json:"payment_was_sent"`
	Rows           []repository.PaymentRow `json:"rows"`
	Total          decimal.Decimal         `json:"total"`
}

// Preview returns every participant's payout line and the grand total
// without changing anything.
func (s *PaymentService) Preview(ctx context.Context, seqCode string) (*PaymentPreview, error) {
	seq, err := s.sequences.GetByCode(ctx, seqCode)
	if err != nil {
		return nil, err
	}

	rows, err := s.participants.PaymentRows(ctx, seq.ID)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Total)
	}

	return &PaymentPreview{
		SequenceCode:   seq.Code,
		IsForMTurk:     seq.IsForMTurk,
		PaymentWasSent: seq.PaymentWasSent,
		Rows:           rows,
		Total:          total,
	}, nil
}

// ExportCSV renders the payout rows as a CSV file for offline payment
// systems. Returns the file body and a suggested filename.
func (s *PaymentService) ExportCSV(ctx context.Context, seqCode string) ([]byte, string, error) {
	preview, err := s.Preview(ctx, seqCode)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"participant_code", "label", "mturk_worker_id", "total_pay"}); err != nil {
		return nil, "", err
	}
	for _, row := range preview.Rows {
		record := []string{row.Code, "", "", row.Total.StringFixed(2)}
		if row.Label != nil {
			record[1] = *row.Label
		}
		if row.MTurkWorkerID != nil {
			record[2] = *row.MTurkWorkerID
		}
		if err := w.Write(record); err != nil {
			return nil, "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("payments_%s.csv", preview.SequenceCode)
	return buf.Bytes(), filename, nil
}

// SendResult acknowledges that the payout was queued.
type SendResult struct {
	SequenceCode string `json:"sequence_code"`
	TaskID       string `json:"task_id"`
}

// Send queues the sequence's payout for background processing. A
// sequence that already had its payments sent is rejected with a 409;
// the worker re-checks the flag transactionally, so a race between two
// sends still pays at most once.
func (s *PaymentService) Send(ctx context.Context, seqCode, notifyEmail string) (*SendResult, error) {
	seq, err := s.sequences.GetByCode(ctx, seqCode)
	if err != nil {
		return nil, err
	}
	if seq.PaymentWasSent {
		code := "PAYMENTS_ALREADY_SENT"
		return nil, errs.NewConflictError("Payments for this sequence were already sent", true, &code)
	}

	task, err := job.NewSendPaymentsTask(seq.Code, notifyEmail)
	if err != nil {
		return nil, err
	}

	info, err := s.enqueuer.EnqueueContext(ctx, task)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("sequence_code", seq.Code).
		Str("task_id", info.ID).
		Msg("payout queued")

	return &SendResult{SequenceCode: seq.Code, TaskID: info.ID}, nil
}

// ProcessPayout runs on the worker. It flips the sequence's payment
// flag first; only the call that wins the flip proceeds to pay, so
// duplicate tasks are no-ops that fail loudly.
func (s *PaymentService) ProcessPayout(ctx context.Context, sequenceCode string) (*job.PayoutSummary, error) {
	seq, err := s.sequences.GetByCode(ctx, sequenceCode)
	if err != nil {
		return nil, err
	}

	won, err := s.sequences.MarkPaymentsSent(ctx, seq.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("payments for sequence %s were already sent", seq.Code)
	}

	rows, err := s.participants.PaymentRows(ctx, seq.ID)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Total)

		entry := s.logger.Info().
			Str("sequence_code", seq.Code).
			Str("participant_code", row.Code).
			Str("amount", row.Total.StringFixed(2))
		if seq.IsForMTurk && row.MTurkWorkerID != nil {
			entry = entry.Str("mturk_worker_id", *row.MTurkWorkerID)
		}
		entry.Msg("participant paid")
	}

	name := seq.Code
	if seq.Label != nil && *seq.Label != "" {
		name = *seq.Label
	}

	return &job.PayoutSummary{
		SequenceName:     name,
		TotalPaid:        total.StringFixed(2),
		ParticipantCount: len(rows),
	}, nil
}
