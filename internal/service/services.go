package service

import (
	"github.com/CQNKZX/otree-core/internal/game"
	"github.com/CQNKZX/otree-core/internal/lib/job"
	"github.com/CQNKZX/otree-core/internal/repository"
	"github.com/CQNKZX/otree-core/internal/server"
)

// Services bundles every service for injection into the handlers.
type Services struct {
	Auth       *AuthService
	Sequence   *SequenceService
	Assignment *AssignmentService
	Payment    *PaymentService
	Registry   *game.Registry
	Job        *job.JobService
}

// NewService wires the services against the server's resources and the
// repositories, and hands the payment service to the job worker as its
// payout processor.
func NewService(s *server.Server, repos *repository.Repositories) (*Services, error) {
	registry := game.DefaultRegistry()
	logger := s.Logger

	sequenceService := NewSequenceService(
		repos.Sequences, repos.Experiments, repos.Participants,
		repos.Treatments, repos.Matches, registry, logger)

	assignmentService := NewAssignmentService(
		repos.Sequences, repos.Experiments, repos.Participants,
		repos.Treatments, repos.Matches, s.Sessions, registry, logger)

	paymentService := NewPaymentService(
		repos.Sequences, repos.Participants, s.Job.Client, logger)
	s.Job.SetPayoutProcessor(paymentService)

	return &Services{
		Auth:       NewAuthService(s),
		Sequence:   sequenceService,
		Assignment: assignmentService,
		Payment:    paymentService,
		Registry:   registry,
		Job:        s.Job,
	}, nil
}
