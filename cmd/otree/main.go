package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CQNKZX/otree-core/internal/config"
	"github.com/CQNKZX/otree-core/internal/database"
	"github.com/CQNKZX/otree-core/internal/handler"
	"github.com/CQNKZX/otree-core/internal/logger"
	"github.com/CQNKZX/otree-core/internal/middleware"
	"github.com/CQNKZX/otree-core/internal/repository"
	"github.com/CQNKZX/otree-core/internal/router"
	"github.com/CQNKZX/otree-core/internal/server"
	"github.com/CQNKZX/otree-core/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:   "otree",
	Short: "Experiment platform for social science sequences",
	Long: `otree-core runs sequences of economics experiments: sequence and
participant administration, match assignment during play, and payout
processing once a sequence is done.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run database migrations and start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, loggerService, err := bootstrap()
		if err != nil {
			return err
		}
		defer loggerService.Shutdown(5 * time.Second)

		return database.Migrate(cmd.Context(), loggerService.Logger(), cfg)
	},
}

func bootstrap() (*config.Config, *logger.LoggerService, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	loggerService, err := logger.NewLoggerService(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, loggerService, nil
}

func serve(ctx context.Context) error {
	cfg, loggerService, err := bootstrap()
	if err != nil {
		return err
	}
	defer loggerService.Shutdown(5 * time.Second)

	log := loggerService.Logger()

	if err := database.Migrate(ctx, log, cfg); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s, err := server.New(cfg, log, loggerService)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	repos := repository.NewRepositories(s)

	// The stub row backs formless pages; ensure it exists up front so
	// play never has to create it mid-request.
	if _, err := repos.Stubs.Ensure(ctx); err != nil {
		return fmt.Errorf("failed to ensure stub row: %w", err)
	}

	services, err := service.NewService(s, repos)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	middlewares := middleware.NewMiddlewares(s)
	handlers := handler.NewHandlers(s, services)

	e := router.New(s, middlewares, handlers)
	s.SetupHTTPServer(e)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Start()
	})

	g.Go(func() error {
		<-gctx.Done()

		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return s.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
