package handler

import (
	"github.com/CQNKZX/otree-core/internal/repository"
	"github.com/CQNKZX/otree-core/internal/server"
	"github.com/CQNKZX/otree-core/internal/service"
	"github.com/CQNKZX/otree-core/internal/validation"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// SequenceHandler exposes the experimenter-facing sequence admin API.
type SequenceHandler struct {
	Handler
	sequences *service.SequenceService
}

func NewSequenceHandler(s *server.Server, sequences *service.SequenceService) *SequenceHandler {
	return &SequenceHandler{
		Handler:   NewHandler(s),
		sequences: sequences,
	}
}

type CreateSequenceRequest struct {
	Label            *string  `json:"label"`
	IsForMTurk       bool     `json:"is_for_mturk"`
	PreassignMatches bool     `json:"preassign_matches"`
	StartViewName    string   `json:"start_view_name" validate:"required"`
	EndViewName      string   `json:"end_view_name" validate:"required"`
	NumParticipants  int      `json:"num_participants" validate:"gte=0"`
	Labels           []string `json:"labels"`
}

func (r *CreateSequenceRequest) Validate() error {
	if err := validation.Struct(r); err != nil {
		return err
	}
	if len(r.Labels) > 0 && len(r.Labels) != r.NumParticipants {
		return validation.CustomValidationErrors{{
			Field:   "labels",
			Message: "must be empty or have one label per participant",
		}}
	}
	return nil
}

func (h *SequenceHandler) Create(c echo.Context, req *CreateSequenceRequest) (*service.SequenceDetail, error) {
	return h.sequences.Create(c.Request().Context(), service.CreateSequenceParams{
		Label:            req.Label,
		IsForMTurk:       req.IsForMTurk,
		PreassignMatches: req.PreassignMatches,
		StartViewName:    req.StartViewName,
		EndViewName:      req.EndViewName,
		NumParticipants:  req.NumParticipants,
		Labels:           req.Labels,
	})
}

// SequenceCodeRequest addresses a sequence by its public code.
type SequenceCodeRequest struct {
	Code string `param:"code" validate:"required"`
}

func (r *SequenceCodeRequest) Validate() error {
	return validation.Struct(r)
}

func (h *SequenceHandler) Get(c echo.Context, req *SequenceCodeRequest) (*service.SequenceDetail, error) {
	return h.sequences.Get(c.Request().Context(), req.Code)
}

func (h *SequenceHandler) ListParticipants(c echo.Context, req *SequenceCodeRequest) ([]service.ParticipantView, error) {
	return h.sequences.Participants(c.Request().Context(), req.Code)
}

func (h *SequenceHandler) ListExperiments(c echo.Context, req *SequenceCodeRequest) (interface{}, error) {
	return h.sequences.Experiments(c.Request().Context(), req.Code)
}

type TreatmentInput struct {
	Code                 string          `json:"code" validate:"required"`
	ParticipantsPerMatch int             `json:"participants_per_match" validate:"gte=1"`
	BasePay              decimal.Decimal `json:"base_pay"`
}

type ExperimentInput struct {
	Kind       string           `json:"kind" validate:"required"`
	Name       string           `json:"name" validate:"required"`
	Treatments []TreatmentInput `json:"treatments" validate:"required,min=1,dive"`
}

type AddExperimentsRequest struct {
	Code        string            `param:"code" validate:"required"`
	Experiments []ExperimentInput `json:"experiments" validate:"required,min=1,dive"`
}

func (r *AddExperimentsRequest) Validate() error {
	return validation.Struct(r)
}

func (h *SequenceHandler) AddExperiments(c echo.Context, req *AddExperimentsRequest) (interface{}, error) {
	specs := make([]repository.ExperimentSpec, len(req.Experiments))
	for i, exp := range req.Experiments {
		spec := repository.ExperimentSpec{
			Kind: exp.Kind,
			Name: exp.Name,
		}
		for _, t := range exp.Treatments {
			spec.Treatments = append(spec.Treatments, repository.TreatmentSpec{
				Code:                 t.Code,
				ParticipantsPerMatch: t.ParticipantsPerMatch,
				BasePay:              t.BasePay,
			})
		}
		specs[i] = spec
	}

	return h.sequences.AddExperiments(c.Request().Context(), req.Code, specs)
}

func (h *SequenceHandler) ConnectParticipants(c echo.Context, req *SequenceCodeRequest) error {
	return h.sequences.ConnectParticipants(c.Request().Context(), req.Code)
}

func (h *SequenceHandler) PreassignMatches(c echo.Context, req *SequenceCodeRequest) (*service.PreassignReport, error) {
	return h.sequences.PreassignMatches(c.Request().Context(), req.Code)
}

type TerminateParticipantRequest struct {
	Code            string `param:"code" validate:"required"`
	ParticipantCode string `param:"participant_code" validate:"required"`
}

func (r *TerminateParticipantRequest) Validate() error {
	return validation.Struct(r)
}

func (h *SequenceHandler) TerminateParticipant(c echo.Context, req *TerminateParticipantRequest) error {
	return h.sequences.TerminateParticipant(c.Request().Context(), req.Code, req.ParticipantCode)
}

type ListMatchesRequest struct {
	ExperimentID int64 `param:"experiment_id" validate:"required"`
}

func (r *ListMatchesRequest) Validate() error {
	return validation.Struct(r)
}

func (h *SequenceHandler) ListMatches(c echo.Context, req *ListMatchesRequest) (interface{}, error) {
	return h.sequences.MatchesByExperiment(c.Request().Context(), req.ExperimentID)
}

// MonitorRequest guards the read-only monitor view with the
// experimenter access code, for lab machines without a Clerk login.
type MonitorRequest struct {
	AccessCode string `query:"access_code" validate:"required"`
}

func (r *MonitorRequest) Validate() error {
	return validation.Struct(r)
}

func (h *SequenceHandler) Monitor(c echo.Context, req *MonitorRequest) (*service.MonitorView, error) {
	return h.sequences.Monitor(c.Request().Context(), req.AccessCode)
}
