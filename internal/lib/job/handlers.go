package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CQNKZX/otree-core/internal/config"
	"github.com/CQNKZX/otree-core/internal/lib/email"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// PayoutSummary reports what a processed payout did, for the receipt
// email and the logs.
type PayoutSummary struct {
	SequenceName     string
	TotalPaid        string
	ParticipantCount int
}

// PayoutProcessor performs the actual payout for a sequence. The
// payment service implements it; the indirection keeps the job package
// from importing the service layer.
type PayoutProcessor interface {
	ProcessPayout(ctx context.Context, sequenceCode string) (*PayoutSummary, error)
}

var (
	emailClient     *email.Client
	payoutProcessor PayoutProcessor
)

// InitHandlers initializes dependencies required by job handlers. Must
// run before the worker server starts processing.
func (j *JobService) InitHandlers(cfg *config.Config, logger *zerolog.Logger) {
	emailClient = email.NewClient(cfg, logger)
}

// SetPayoutProcessor wires the payout implementation in after the
// service layer is constructed.
func (j *JobService) SetPayoutProcessor(p PayoutProcessor) {
	payoutProcessor = p
}

// handleSendPaymentsTask processes a sequence's payouts and, when a
// notify address is set, chains the receipt email task.
func (j *JobService) handleSendPaymentsTask(ctx context.Context, t *asynq.Task) error {
	var p SendPaymentsPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal send payments payload: %w", err)
	}

	if payoutProcessor == nil {
		return fmt.Errorf("payout processor not configured")
	}

	j.logger.Info().
		Str("type", "payments").
		Str("sequence_code", p.SequenceCode).
		Msg("processing payout task")

	summary, err := payoutProcessor.ProcessPayout(ctx, p.SequenceCode)
	if err != nil {
		j.logger.Error().
			Str("type", "payments").
			Str("sequence_code", p.SequenceCode).
			Err(err).
			Msg("failed to process payouts")
		return err
	}

	j.logger.Info().
		Str("type", "payments").
		Str("sequence_code", p.SequenceCode).
		Str("total_paid", summary.TotalPaid).
		Int("participant_count", summary.ParticipantCount).
		Msg("payouts processed")

	if p.NotifyEmail != "" {
		task, err := NewPaymentReceiptTask(p.NotifyEmail, summary.SequenceName, summary.TotalPaid, summary.ParticipantCount)
		if err != nil {
			return err
		}
		if _, err := j.Client.EnqueueContext(ctx, task); err != nil {
			j.logger.Error().
				Str("type", "payments").
				Str("sequence_code", p.SequenceCode).
				Err(err).
				Msg("failed to enqueue payment receipt")
			return err
		}
	}

	return nil
}

// handlePaymentReceiptTask sends the payout receipt email.
func (j *JobService) handlePaymentReceiptTask(ctx context.Context, t *asynq.Task) error {
	var p PaymentReceiptPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal payment receipt payload: %w", err)
	}

	j.logger.Info().
		Str("type", "payment_receipt").
		Str("to", p.To).
		Msg("processing payment receipt task")

	err := emailClient.SendPaymentReceipt(p.To, p.SequenceName, p.TotalPaid, fmt.Sprintf("%d", p.ParticipantCount))
	if err != nil {
		j.logger.Error().
			Str("type", "payment_receipt").
			Str("to", p.To).
			Err(err).
			Msg("failed to send payment receipt")
		return err
	}

	j.logger.Info().
		Str("type", "payment_receipt").
		Str("to", p.To).
		Msg("payment receipt sent")

	return nil
}
