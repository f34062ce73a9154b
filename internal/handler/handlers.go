package handler

import (
	"github.com/CQNKZX/otree-core/internal/server"
	"github.com/CQNKZX/otree-core/internal/service"
)

// Handlers groups all HTTP handlers so router setup passes one object
// around instead of many.
type Handlers struct {
	Health   *HealthHandler
	OpenAPI  *OpenAPIHandler
	Sequence *SequenceHandler
	Play     *PlayHandler
	Payment  *PaymentHandler
}

// NewHandlers constructs the handler container against the application
// container and the business layer.
func NewHandlers(s *server.Server, services *service.Services) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(s),
		OpenAPI:  NewOpenAPIHandler(s),
		Sequence: NewSequenceHandler(s, services.Sequence),
		Play:     NewPlayHandler(s, services.Assignment),
		Payment:  NewPaymentHandler(s, services.Payment),
	}
}
