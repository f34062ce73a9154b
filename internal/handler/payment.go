package handler

import (
	"github.com/CQNKZX/otree-core/internal/server"
	"github.com/CQNKZX/otree-core/internal/service"
	"github.com/CQNKZX/otree-core/internal/validation"
	"github.com/labstack/echo/v4"
)

// PaymentHandler exposes the experimenter payout endpoints: preview,
// CSV export and the one-shot send.
type PaymentHandler struct {
	Handler
	payments *service.PaymentService
}

func NewPaymentHandler(s *server.Server, payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		Handler:  NewHandler(s),
		payments: payments,
	}
}

func (h *PaymentHandler) Preview(c echo.Context, req *SequenceCodeRequest) (*service.PaymentPreview, error) {
	return h.payments.Preview(c.Request().Context(), req.Code)
}

func (h *PaymentHandler) ExportCSV(c echo.Context, req *SequenceCodeRequest) ([]byte, error) {
	body, _, err := h.payments.ExportCSV(c.Request().Context(), req.Code)
	return body, err
}

// SendPaymentsRequest queues the payout. NotifyEmail, when set, gets a
// receipt once the worker is done.
type SendPaymentsRequest struct {
	Code        string `param:"code" validate:"required"`
	NotifyEmail string `json:"notify_email" validate:"omitempty,email"`
}

func (r *SendPaymentsRequest) Validate() error {
	return validation.Struct(r)
}

func (h *PaymentHandler) Send(c echo.Context, req *SendPaymentsRequest) (*service.SendResult, error) {
	return h.payments.Send(c.Request().Context(), req.Code, req.NotifyEmail)
}
