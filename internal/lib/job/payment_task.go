package job

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskPaymentsSend processes a sequence's payouts.
	TaskPaymentsSend = "payments:send"

	// TaskPaymentReceipt emails the experimenter a payout receipt.
	TaskPaymentReceipt = "email:payment_receipt"
)

// SendPaymentsPayload is the payload for TaskPaymentsSend. NotifyEmail
// may be empty when no receipt is wanted.
type SendPaymentsPayload struct {
	SequenceCode string `json:"sequence_code"`
	NotifyEmail  string `json:"notify_email"`
}

// PaymentReceiptPayload is the payload for TaskPaymentReceipt.
type PaymentReceiptPayload struct {
	To               string `json:"to"`
	SequenceName     string `json:"sequence_name"`
	TotalPaid        string `json:"total_paid"`
	ParticipantCount int    `json:"participant_count"`
}

// NewSendPaymentsTask constructs the payout task. Payouts run on the
// critical queue: money movement should not starve behind email.
func NewSendPaymentsTask(sequenceCode, notifyEmail string) (*asynq.Task, error) {
	payload, err := json.Marshal(SendPaymentsPayload{
		SequenceCode: sequenceCode,
		NotifyEmail:  notifyEmail,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskPaymentsSend,
		payload,
		asynq.MaxRetry(3),
		asynq.Queue("critical"),
		asynq.Timeout(2*time.Minute),
	), nil
}

// NewPaymentReceiptTask constructs the receipt email task.
func NewPaymentReceiptTask(to, sequenceName, totalPaid string, participantCount int) (*asynq.Task, error) {
	payload, err := json.Marshal(PaymentReceiptPayload{
		To:               to,
		SequenceName:     sequenceName,
		TotalPaid:        totalPaid,
		ParticipantCount: participantCount,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskPaymentReceipt,
		payload,
		asynq.MaxRetry(3),
		asynq.Queue("default"),
		asynq.Timeout(30*time.Second),
	), nil
}
