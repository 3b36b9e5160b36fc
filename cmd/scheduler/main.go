package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/class-scheduler/internal/application"
	"github.com/example/class-scheduler/internal/config"
	"github.com/example/class-scheduler/internal/directory"
	httptransport "github.com/example/class-scheduler/internal/http"
	"github.com/example/class-scheduler/internal/lock"
	"github.com/example/class-scheduler/internal/logging"
	"github.com/example/class-scheduler/internal/persistence"
	"github.com/example/class-scheduler/internal/persistence/memory"
	"github.com/example/class-scheduler/internal/persistence/sqlite"
	"github.com/example/class-scheduler/internal/recurrence"
)

const usage = `usage: scheduler [serve | migrate | hash-key [secret]]`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "hash-key":
		return hashKey(args, stdout)
	case "serve", "migrate":
	default:
		return errors.New(usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := logging.New(stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	if command == "migrate" {
		return migrate(ctx, cfg.Storage, logger)
	}
	return serve(ctx, cfg, logger)
}

// hashKey prints an argon2id hash for a staff key secret, generating the
// secret when none is given.
func hashKey(args []string, stdout io.Writer) error {
	secret := ""
	if len(args) > 0 {
		secret = strings.TrimSpace(args[0])
	}
	if secret == "" {
		secret = randomHex(24)
	}
	hashed, err := application.CreateKeyHash(secret, application.DefaultArgon2idParams)
	if err != nil {
		return fmt.Errorf("failed to hash key: %w", err)
	}
	fmt.Fprintf(stdout, "secret: %s\nhash:   %s\n", secret, hashed)
	return nil
}

func migrate(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) error {
	if cfg.Backend != "sqlite" {
		return fmt.Errorf("migrate requires the sqlite storage backend, got %q", cfg.Backend)
	}
	_, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.InfoContext(ctx, "database migrations completed successfully", "dsn", cfg.SQLiteDSN)
	return nil
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := newLocker(ctx, cfg.Lock, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newHandler(cfg, store, locker, uuid.NewString, time.Now, logger),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("scheduler API listening",
		"addr", server.Addr,
		"storage", cfg.Storage.Backend,
		"lock", cfg.Lock.Backend,
		"staff_keys", len(cfg.Auth.StaffKeys),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server encountered error: %w", err)
	}
	return nil
}

// newHandler wires the services behind the HTTP router.
func newHandler(cfg config.Config, store persistence.Store, locker lock.Locker, idGenerator func() string, now func() time.Time, logger *slog.Logger) http.Handler {
	expander := recurrence.NewExpander(cfg.Scheduling.MaxSessions)
	coaches := directory.NewCoaches(store, cfg.Cache.CoachTTL)

	schedules := application.NewScheduleServiceWithLogger(store, coaches, expander, idGenerator, now, logger)
	schedules.SetLowSeatThreshold(cfg.Scheduling.LowSeatThreshold)
	capacity := application.NewCapacityTrackerWithLogger(store, locker, idGenerator, now, logger)
	capacity.SetLowSeatThreshold(cfg.Scheduling.LowSeatThreshold)
	ledger := application.NewAttendanceLedgerWithLogger(store, locker, idGenerator, now, logger)
	reconciler := application.NewScheduleReconcilerWithLogger(store, locker, coaches, expander, idGenerator, now, logger)
	catalog := application.NewCatalogServiceWithLogger(store, idGenerator, now, logger)
	auth := application.NewAuthServiceWithLogger(staffKeys(cfg.Auth.StaffKeys), application.VerifyKey, cfg.Cache.AuthTTL, logger)

	return httptransport.NewRouter(httptransport.RouterConfig{
		Schedules:   httptransport.NewScheduleHandler(schedules, reconciler, logger),
		Occurrences: httptransport.NewOccurrenceHandler(capacity, ledger, logger),
		Catalog:     httptransport.NewCatalogHandler(catalog, coaches, logger),
		Auth:        httptransport.RequireStaff(auth, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		},
	})
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (persistence.Store, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "memory":
		store := memory.New()
		return store, func() { _ = store.Close() }, nil
	case "sqlite":
		sqlCfg := sqlite.DefaultConfig(cfg.SQLiteDSN)
		if cfg.MaxOpenConns > 0 {
			sqlCfg.MaxOpenConns = cfg.MaxOpenConns
		}
		if cfg.BusyTimeout > 0 {
			sqlCfg.BusyTimeout = cfg.BusyTimeout
		}
		sqlCfg.Retry.MaxRetries = cfg.BusyRetries

		store, err := sqlite.Open(ctx, sqlCfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open storage: %w", err)
		}
		closeStore := func() {
			if cerr := store.Close(); cerr != nil {
				logger.Error("failed to close storage", "error", cerr)
			}
		}
		if err := store.Migrate(ctx); err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		return store, closeStore, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newLocker(ctx context.Context, cfg config.LockConfig, logger *slog.Logger) (lock.Locker, func(), error) {
	switch cfg.Backend {
	case "memory":
		return lock.NewMemoryLocker(), func() {}, nil
	case "redis":
		locker, err := lock.NewRedisLocker(ctx, lock.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.Prefix + "lock:",
			TTL:      cfg.TTL,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return locker, func() { _ = locker.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

func staffKeys(keys []config.StaffKey) []application.StaffKey {
	out := make([]application.StaffKey, 0, len(keys))
	for _, key := range keys {
		out = append(out, application.StaffKey{
			StaffID:  key.StaffID,
			Role:     application.Role(key.Role),
			Hash:     key.Hash,
			Disabled: key.Disabled,
		})
	}
	return out
}

func randomHex(bytes int) string {
	if bytes <= 0 {
		bytes = 16
	}
	buf := make([]byte, bytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
