package service

import (
	"github.com/CQNKZX/otree-core/internal/server"
	"github.com/clerk/clerk-sdk-go/v2"
)

// AuthService initializes the Clerk SDK for experimenter auth. Token
// verification itself happens in the auth middleware.
type AuthService struct {
	server *server.Server
}

func NewAuthService(s *server.Server) *AuthService {
	clerk.SetKey(s.Config.Auth.SecretKey)
	return &AuthService{
		server: s,
	}
}
