package handler

import (
	"net/netip"

	"github.com/CQNKZX/otree-core/internal/middleware"
	"github.com/CQNKZX/otree-core/internal/server"
	"github.com/CQNKZX/otree-core/internal/service"
	"github.com/CQNKZX/otree-core/internal/validation"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// PlayHandler exposes the participant-facing play loop: entry through
// the start URL, match claiming, offers and advancing through the
// chain. All routes except the entry point require a live session.
type PlayHandler struct {
	Handler
	assignments *service.AssignmentService
}

func NewPlayHandler(s *server.Server, assignments *service.AssignmentService) *PlayHandler {
	return &PlayHandler{
		Handler:     NewHandler(s),
		assignments: assignments,
	}
}

// InitializeSequenceRequest carries the start URL query parameters.
// The parameter names are part of the participant-facing URL surface
// and must not change.
type InitializeSequenceRequest struct {
	SequenceCode      string  `query:"sequence_of_experiments_code" validate:"required"`
	ParticipantCode   string  `query:"participant_in_sequence_of_experiments_code" validate:"required"`
	MTurkAssignmentID *string `query:"assignmentId"`
	MTurkWorkerID     *string `query:"workerId"`
}

func (r *InitializeSequenceRequest) Validate() error {
	return validation.Struct(r)
}

func (h *PlayHandler) Initialize(c echo.Context, req *InitializeSequenceRequest) (*service.InitializeResult, error) {
	var ip *netip.Addr
	if addr, err := netip.ParseAddr(c.RealIP()); err == nil {
		ip = &addr
	}

	return h.assignments.InitializeParticipant(c.Request().Context(), service.InitializeParams{
		SequenceCode:      req.SequenceCode,
		ParticipantCode:   req.ParticipantCode,
		IPAddress:         ip,
		MTurkAssignmentID: req.MTurkAssignmentID,
		MTurkWorkerID:     req.MTurkWorkerID,
	})
}

func (h *PlayHandler) NextOpenMatch(c echo.Context, req *validation.StubRequest) (*service.MatchView, error) {
	return h.assignments.NextOpenMatch(c.Request().Context(), middleware.GetSessionToken(c), middleware.GetSession(c))
}

func (h *PlayHandler) JoinMatch(c echo.Context, req *validation.StubRequest) (*service.MatchView, error) {
	return h.assignments.JoinMatch(c.Request().Context(), middleware.GetSessionToken(c), middleware.GetSession(c))
}

func (h *PlayHandler) CurrentMatch(c echo.Context, req *validation.StubRequest) (*service.MatchView, error) {
	return h.assignments.CurrentMatch(c.Request().Context(), middleware.GetSession(c))
}

type SetOfferRequest struct {
	Amount int64 `json:"amount" validate:"gte=0"`
}

func (r *SetOfferRequest) Validate() error {
	return validation.Struct(r)
}

func (h *PlayHandler) SetOffer(c echo.Context, req *SetOfferRequest) (*service.MatchView, error) {
	return h.assignments.SetOffer(c.Request().Context(), middleware.GetSession(c), req.Amount)
}

// FinishPlayingRequest optionally overrides the payoff; when absent
// the treatment's base pay is recorded.
type FinishPlayingRequest struct {
	Payoff *decimal.Decimal `json:"payoff"`
}

func (r *FinishPlayingRequest) Validate() error {
	if r.Payoff != nil && r.Payoff.IsNegative() {
		return validation.CustomValidationErrors{{
			Field:   "payoff",
			Message: "must not be negative",
		}}
	}
	return nil
}

func (h *PlayHandler) FinishPlaying(c echo.Context, req *FinishPlayingRequest) error {
	return h.assignments.FinishPlaying(c.Request().Context(), middleware.GetSession(c), req.Payoff)
}

func (h *PlayHandler) Advance(c echo.Context, req *validation.StubRequest) (*service.AdvanceResult, error) {
	return h.assignments.Advance(c.Request().Context(), middleware.GetSessionToken(c), middleware.GetSession(c))
}

func (h *PlayHandler) Progress(c echo.Context, req *validation.StubRequest) (*service.ProgressView, error) {
	return h.assignments.Progress(c.Request().Context(), middleware.GetSession(c))
}
