package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/class-scheduler/internal/application"
	"github.com/example/class-scheduler/internal/config"
	"github.com/example/class-scheduler/internal/lock"
	"github.com/example/class-scheduler/internal/persistence"
	"github.com/example/class-scheduler/internal/persistence/memory"
	"github.com/example/class-scheduler/internal/testfixtures"
)

var cheapParams = application.Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

func TestRun_HashKey(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"hash-key", "s3cret"}, &out))

	var hashed string
	for _, line := range strings.Split(out.String(), "\n") {
		if rest, ok := strings.CutPrefix(line, "hash:"); ok {
			hashed = strings.TrimSpace(rest)
		}
	}
	require.NotEmpty(t, hashed, out.String())
	assert.NoError(t, application.VerifyKey(hashed, "s3cret"))
	assert.ErrorIs(t, application.VerifyKey(hashed, "other"), application.ErrInvalidCredentials)
}

func TestRun_UnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"explode"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage")
}

func TestRun_Migrate(t *testing.T) {
	hashed, err := application.CreateKeyHash("secret", cheapParams)
	require.NoError(t, err)
	t.Setenv("SCHEDULER_CONFIG", "")
	t.Setenv("SCHEDULER_STORAGE", "sqlite")
	t.Setenv("SCHEDULER_SQLITE_DSN", filepath.Join(t.TempDir(), "scheduler.db"))
	t.Setenv("SCHEDULER_STAFF_KEYS", "alice:admin:"+hashed)
	t.Setenv("SCHEDULER_LOG_FORMAT", "text")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"migrate"}, &out))
	assert.Contains(t, out.String(), "database migrations completed successfully")

	// Applying again is a no-op.
	require.NoError(t, run(context.Background(), []string{"migrate"}, &out))
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	t.Run("sqlite survives reopening", func(t *testing.T) {
		t.Parallel()
		cfg := config.Defaults().Storage
		cfg.SQLiteDSN = filepath.Join(t.TempDir(), "scheduler.db")
		ctx := context.Background()

		store, closeStore, err := openStore(ctx, cfg, nil)
		require.NoError(t, err)
		coach := testfixtures.NewCoach()
		testfixtures.Seed(t, store, func(ctx context.Context, tx persistence.Tx) error {
			return tx.SaveCoach(ctx, coach)
		})
		closeStore()

		store, closeStore, err = openStore(ctx, cfg, nil)
		require.NoError(t, err)
		defer closeStore()
		err = store.ReadOnly(ctx, func(tx persistence.Tx) error {
			stored, err := tx.GetCoach(ctx, coach.ID)
			if err != nil {
				return err
			}
			assert.Equal(t, coach.Name, stored.Name)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("unknown backends are rejected", func(t *testing.T) {
		t.Parallel()
		_, _, err := openStore(context.Background(), config.StorageConfig{Backend: "postgres"}, nil)
		assert.Error(t, err)
		_, _, err = newLocker(context.Background(), config.LockConfig{Backend: "etcd"}, nil)
		assert.Error(t, err)
	})
}

func TestNewHandler(t *testing.T) {
	t.Parallel()

	hashed, err := application.CreateKeyHash("secret", cheapParams)
	require.NoError(t, err)
	cfg := config.Defaults()
	cfg.Auth.StaffKeys = []config.StaffKey{
		{StaffID: "alice", Role: "admin", Hash: hashed},
		{StaffID: "bob", Role: "front_desk", Hash: hashed, Disabled: true},
	}

	clock := testfixtures.NewClock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	handler := newHandler(cfg, memory.New(), lock.NewMemoryLocker(),
		testfixtures.NewIDGenerator("id").NextFunc(), clock.NowFunc(), nil)

	call := func(method, path, token, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/healthz", "", ""))
	assert.Equal(t, http.StatusUnauthorized, call(http.MethodPost, "/coaches", "", `{"name":"Aiko"}`))
	assert.Equal(t, http.StatusUnauthorized, call(http.MethodPost, "/coaches", "alice.wrong", `{"name":"Aiko"}`))
	assert.Equal(t, http.StatusUnauthorized, call(http.MethodPost, "/coaches", "bob.secret", `{"name":"Aiko"}`))
	assert.Equal(t, http.StatusCreated, call(http.MethodPost, "/coaches", "alice.secret", `{"id":"coach-1","name":"Aiko"}`))
	assert.Equal(t, http.StatusCreated, call(http.MethodPost, "/schedules", "alice.secret", `{
		"class_name": "Spin",
		"coach_id": "coach-1",
		"capacity": 12,
		"duration_minutes": 45,
		"start_date_time": "2024-01-31 18:30",
		"schedule_type": "RECURRING",
		"recurring_interval": "MONTHLY",
		"number_of_sessions": 3
	}`))
}
