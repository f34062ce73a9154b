package repository

import (
	"github.com/CQNKZX/otree-core/internal/server"
)

// Repositories is the container for all repository instances, built
// once at startup and handed to the service layer.
type Repositories struct {
	Sequences    *SequenceRepository
	Experiments  *ExperimentRepository
	Participants *ParticipantRepository
	Treatments   *TreatmentRepository
	Matches      *MatchRepository
	Stubs        *StubRepository
}

// NewRepositories constructs the repository container on the shared
// connection pool.
func NewRepositories(s *server.Server) *Repositories {
	pool := s.DB.Pool
	return &Repositories{
		Sequences:    NewSequenceRepository(pool),
		Experiments:  NewExperimentRepository(pool),
		Participants: NewParticipantRepository(pool),
		Treatments:   NewTreatmentRepository(pool),
		Matches:      NewMatchRepository(pool),
		Stubs:        NewStubRepository(pool),
	}
}
