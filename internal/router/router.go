// Package router initializes the HTTP router (using Echo).
//
// It registers the middlewares and defines the API route groups,
// mapping specific paths to their corresponding handlers.
package router

import (
	"net/http"

	"github.com/CQNKZX/otree-core/internal/handler"
	"github.com/CQNKZX/otree-core/internal/middleware"
	"github.com/CQNKZX/otree-core/internal/server"
	"github.com/labstack/echo/v4"
)

// New builds the Echo instance: global middleware chain, error
// handler, and all route groups.
func New(s *server.Server, mw *middleware.Middlewares, h *handler.Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.HTTPErrorHandler = mw.Global.GlobalErrorHandler

	// Order matters: the New Relic transaction must exist before the
	// context enhancer reads it, and the request ID before anything
	// that logs.
	e.Use(mw.Tracing.NewRelicMiddleware())
	e.Use(middleware.RequestID())
	e.Use(mw.ContextEnhancer.EnhanceContext())
	e.Use(mw.Tracing.EnhanceTracing())
	e.Use(mw.Global.CORS())
	e.Use(mw.Global.Secure())
	e.Use(mw.Global.RequestLogger())
	e.Use(mw.Global.Recover())

	registerSystemRoutes(e, h)
	registerPlayRoutes(e, h, mw)
	registerAdminRoutes(e, h, mw)

	return e
}

// registerPlayRoutes wires the participant-facing surface. The entry
// point is rate limited; everything behind it requires a live session.
func registerPlayRoutes(e *echo.Echo, h *handler.Handlers, mw *middleware.Middlewares) {
	// Participant start URL. The trailing slash and query parameter
	// names are a stable public surface printed on lab hand-outs.
	e.GET("/InitializeSequence/",
		handler.Handle(h.Play.Handler, h.Play.Initialize, http.StatusOK),
		mw.RateLimit.Limit())

	play := e.Group("/api/play", mw.RateLimit.Limit(), mw.Session.RequireSession)

	play.GET("/match", handler.Handle(h.Play.Handler, h.Play.CurrentMatch, http.StatusOK))
	play.GET("/match/next", handler.Handle(h.Play.Handler, h.Play.NextOpenMatch, http.StatusOK))
	play.POST("/match/join", handler.Handle(h.Play.Handler, h.Play.JoinMatch, http.StatusOK))
	play.POST("/match/offer", handler.Handle(h.Play.Handler, h.Play.SetOffer, http.StatusOK))
	play.POST("/finish", handler.HandleNoContent(h.Play.Handler, h.Play.FinishPlaying, http.StatusNoContent))
	play.POST("/advance", handler.Handle(h.Play.Handler, h.Play.Advance, http.StatusOK))
	play.GET("/progress", handler.Handle(h.Play.Handler, h.Play.Progress, http.StatusOK))
}

// registerAdminRoutes wires the experimenter surface. Everything under
// /api/sequences requires a Clerk login; the monitor view is guarded
// by the experimenter access code instead, so lab machines can show it
// without an account.
func registerAdminRoutes(e *echo.Echo, h *handler.Handlers, mw *middleware.Middlewares) {
	sequences := e.Group("/api/sequences", mw.Auth.RequireAuth)

	sequences.POST("", handler.Handle(h.Sequence.Handler, h.Sequence.Create, http.StatusCreated))
	sequences.GET("/:code", handler.Handle(h.Sequence.Handler, h.Sequence.Get, http.StatusOK))
	sequences.GET("/:code/experiments", handler.Handle(h.Sequence.Handler, h.Sequence.ListExperiments, http.StatusOK))
	sequences.POST("/:code/experiments", handler.Handle(h.Sequence.Handler, h.Sequence.AddExperiments, http.StatusCreated))
	sequences.GET("/:code/participants", handler.Handle(h.Sequence.Handler, h.Sequence.ListParticipants, http.StatusOK))
	sequences.POST("/:code/connect", handler.HandleNoContent(h.Sequence.Handler, h.Sequence.ConnectParticipants, http.StatusNoContent))
	sequences.POST("/:code/preassign", handler.Handle(h.Sequence.Handler, h.Sequence.PreassignMatches, http.StatusOK))
	sequences.DELETE("/:code/participants/:participant_code",
		handler.HandleNoContent(h.Sequence.Handler, h.Sequence.TerminateParticipant, http.StatusNoContent))

	sequences.GET("/:code/payments", handler.Handle(h.Payment.Handler, h.Payment.Preview, http.StatusOK))
	sequences.GET("/:code/payments/csv",
		handler.HandleFile(h.Payment.Handler, h.Payment.ExportCSV, http.StatusOK, "payments.csv", "text/csv"))
	sequences.POST("/:code/payments/send", handler.Handle(h.Payment.Handler, h.Payment.Send, http.StatusAccepted))

	e.GET("/api/experiments/:experiment_id/matches",
		handler.Handle(h.Sequence.Handler, h.Sequence.ListMatches, http.StatusOK),
		mw.Auth.RequireAuth)

	e.GET("/api/monitor/sequence",
		handler.Handle(h.Sequence.Handler, h.Sequence.Monitor, http.StatusOK),
		mw.RateLimit.Limit())
}
