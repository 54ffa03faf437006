package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/sport-scheduler/internal/application"
	"github.com/example/sport-scheduler/internal/auth"
	"github.com/example/sport-scheduler/internal/config"
	httptransport "github.com/example/sport-scheduler/internal/http"
	"github.com/example/sport-scheduler/internal/persistence"
	"github.com/example/sport-scheduler/internal/persistence/memory"
	"github.com/example/sport-scheduler/internal/persistence/postgres"
	"github.com/example/sport-scheduler/internal/persistence/sqlite"
	"github.com/example/sport-scheduler/internal/recurrence"
	"github.com/example/sport-scheduler/internal/scheduler"
)

const (
	shutdownTimeout = 10 * time.Second
	extendInterval  = time.Hour
)

const usage = `usage: scheduler [-config file] <command> [flags]

commands:
  serve             run the HTTP API (default)
  extend-sessions   generate sessions that entered the booking horizon and exit
  issue-token       print a bearer token: issue-token -user ID [-admin]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "scheduler:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	global := flag.NewFlagSet("scheduler", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	configPath := global.String("config", "", "path to a config file")
	if err := global.Parse(args); err != nil {
		return fmt.Errorf("%w\n%s", err, usage)
	}

	command := "serve"
	rest := global.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := newLogger(os.Stderr, cfg.LogLevel)

	switch command {
	case "serve":
		return serve(ctx, cfg, logger)
	case "extend-sessions":
		return extendSessions(ctx, cfg, logger, stdout)
	case "issue-token":
		return issueToken(cfg, rest, stdout)
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// app wires the store and services for one process.
type app struct {
	cfg            config.Config
	logger         *slog.Logger
	store          persistence.Store
	validator      *scheduler.Validator
	engine         *recurrence.Engine
	activities     *application.ActivityService
	participations *application.ParticipationService
	tokens         *auth.Tokens
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL, time.Now)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	now := time.Now
	constraints := scheduler.DefaultConstraints()
	validator := scheduler.NewValidator(constraints, now, cfg.Location)
	engine := recurrence.NewEngine(cfg.Location, now, constraints.MaxAdvance)
	codes := application.NewJoinCodes(cfg.JoinCodeSecret, application.DefaultArgon2idParams)
	retry := application.DefaultRetryPolicy()
	retry.Attempts = cfg.JoinMaxAttempts

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		validator: validator,
		engine:    engine,
		activities: application.NewActivityServiceWithLogger(store, validator, engine, codes, uuid.NewString, now, logger,
			application.WithActivityRetryPolicy(retry),
			application.WithExtendConcurrency(cfg.ExtendConcurrency),
		),
		participations: application.NewParticipationServiceWithLogger(store, now, logger,
			application.WithRetryPolicy(retry),
		),
		tokens: tokens,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) handler() http.Handler {
	return httptransport.NewRouter(httptransport.RouterConfig{
		Matches:        httptransport.NewMatchHandler(a.validator, a.engine, a.logger),
		Activities:     httptransport.NewActivityHandler(a.activities, a.logger),
		Participations: httptransport.NewParticipationHandler(a.participations, a.logger),
		Verifier:       a.tokens,
		Logger:         a.logger,
	})
}

// openStore opens and migrates the configured backend.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		logger.WarnContext(ctx, "using in-memory storage; data is lost on exit")
		return memory.New(), nil
	case config.DriverSQLite:
		storage, err := sqlite.Open(ctx, sqlite.Config{DSN: cfg.SQLiteDSN, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := storage.Migrate(ctx); err != nil {
			_ = storage.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return storage, nil
	case config.DriverPostgres:
		storage, err := postgres.Open(ctx, postgres.Config{DSN: cfg.PostgresDSN, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := storage.Migrate(ctx); err != nil {
			_ = storage.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("scheduler API listening", "addr", server.Addr, "storage", cfg.StorageDriver, "timezone", cfg.Timezone)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server", "error", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		runExtender(gctx, a.activities, extendInterval, logger)
		return nil
	})

	return g.Wait()
}

type sessionExtender interface {
	ExtendAllSessions(ctx context.Context) (application.ExtendSummary, error)
}

// runExtender extends sessions immediately and then on every tick until ctx ends.
func runExtender(ctx context.Context, extender sessionExtender, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := extender.ExtendAllSessions(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "background session extension failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func extendSessions(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout io.Writer) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.activities.ExtendAllSessions(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(stdout).Encode(map[string]int{
		"activities": summary.Activities,
		"created":    summary.Created,
		"failed":     summary.Failed,
	})
}

func issueToken(cfg config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	user := fs.String("user", "", "user ID placed in the token subject")
	admin := fs.Bool("admin", false, "grant admin rights")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("issue-token: %w", err)
	}
	if *user == "" {
		return errors.New("issue-token: -user is required")
	}

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL, time.Now)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(application.Principal{UserID: *user, IsAdmin: *admin})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
