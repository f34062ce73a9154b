// Package logger configures application logging and observability.
//
// It builds the zerolog root logger (console output locally, JSON in
// production), initializes the New Relic agent, and forwards logs to
// New Relic when app log forwarding is enabled.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/CQNKZX/otree-core/internal/config"
	"github.com/newrelic/go-agent/v3/integrations/logcontext-v2/zerologWriter"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// LoggerService owns the root logger and the optional New Relic
// application instance. A nil nrApp means telemetry is disabled and all
// instrumentation degrades to no-ops.
type LoggerService struct {
	logger *zerolog.Logger
	nrApp  *newrelic.Application
}

// NewLoggerService builds the root logger from observability config and
// starts the New Relic agent when a license key is configured.
func NewLoggerService(cfg *config.Config) (*LoggerService, error) {
	obs := cfg.Observability

	level, err := zerolog.ParseLevel(obs.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	var nrApp *newrelic.Application
	if obs.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(obs.ServiceName),
			newrelic.ConfigLicense(obs.NewRelic.LicenseKey),
			newrelic.ConfigAppLogForwardingEnabled(obs.NewRelic.AppLogForwardingEnabled),
			newrelic.ConfigDistributedTracerEnabled(obs.NewRelic.DistributedTracingEnabled),
			func(c *newrelic.Config) {
				c.Labels = map[string]string{"environment": obs.Environment}
				if obs.NewRelic.DebugLogging {
					c.Logger = newrelic.NewDebugLogger(os.Stderr)
				}
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize new relic application: %w", err)
		}
	}

	var out io.Writer = os.Stdout
	if obs.Logging.Format == "console" || cfg.Primary.Env == "local" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	} else if nrApp != nil && obs.NewRelic.AppLogForwardingEnabled {
		// zerologWriter decorates each line with linking metadata and
		// forwards it to New Relic alongside stdout.
		out = zerologWriter.New(os.Stdout, nrApp)
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", obs.ServiceName).
		Str("env", obs.Environment).
		Logger()

	return &LoggerService{
		logger: &logger,
		nrApp:  nrApp,
	}, nil
}

// Logger returns the root application logger.
func (s *LoggerService) Logger() *zerolog.Logger {
	return s.logger
}

// GetApplication returns the New Relic application, or nil when
// telemetry is disabled.
func (s *LoggerService) GetApplication() *newrelic.Application {
	if s == nil {
		return nil
	}
	return s.nrApp
}

// Shutdown flushes pending telemetry. Safe to call with telemetry
// disabled.
func (s *LoggerService) Shutdown(timeout time.Duration) {
	if s != nil && s.nrApp != nil {
		s.nrApp.Shutdown(timeout)
	}
}

// WithTraceContext attaches New Relic trace/span ids to a logger so log
// lines correlate with distributed traces.
func WithTraceContext(logger zerolog.Logger, txn *newrelic.Transaction) zerolog.Logger {
	if txn == nil {
		return logger
	}
	md := txn.GetTraceMetadata()
	builder := logger.With()
	if md.TraceID != "" {
		builder = builder.Str("trace.id", md.TraceID)
	}
	if md.SpanID != "" {
		builder = builder.Str("span.id", md.SpanID)
	}
	return builder.Logger()
}

// NewPgxLogger returns the logger handed to the pgx tracelog adapter.
// SQL statements log at debug; the component field keeps them easy to
// filter out of the request logs.
func NewPgxLogger(level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Str("component", "pgx").
		Logger()
}

// GetPgxTraceLogLevel converts a zerolog level into the pgx tracelog
// level scale (tracelog counts up from none=0 to trace=6).
func GetPgxTraceLogLevel(level zerolog.Level) int {
	switch level {
	case zerolog.TraceLevel:
		return 6 // tracelog.LogLevelTrace
	case zerolog.DebugLevel:
		return 5 // tracelog.LogLevelDebug
	case zerolog.InfoLevel:
		return 4 // tracelog.LogLevelInfo
	case zerolog.WarnLevel:
		return 3 // tracelog.LogLevelWarn
	case zerolog.ErrorLevel:
		return 2 // tracelog.LogLevelError
	default:
		return 0 // tracelog.LogLevelNone
	}
}
