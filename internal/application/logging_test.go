package application

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/example/class-scheduler/internal/logging"
)

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	buf.Reset()
	return entry
}

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	t.Parallel()

	var base, request bytes.Buffer
	baseLogger := slog.New(slog.NewJSONHandler(&base, nil))
	requestLogger := slog.New(slog.NewJSONHandler(&request, nil)).With("request_id", "req-7")

	serviceLogger(context.Background(), baseLogger, "ScheduleReconciler", "Reconcile", "schedule_id", "s-1").Info("reconciled")
	entry := decodeLogLine(t, &base)
	if entry["service"] != "ScheduleReconciler" || entry["operation"] != "Reconcile" || entry["schedule_id"] != "s-1" {
		t.Fatalf("unexpected attributes %v", entry)
	}

	ctx := logging.ContextWithLogger(context.Background(), requestLogger)
	serviceLogger(ctx, baseLogger, "CapacityTracker", "", "occurrence_id", "o-1").Info("enrolled")
	if base.Len() != 0 {
		t.Fatalf("base logger should be bypassed when the context carries one, got %q", base.String())
	}
	entry = decodeLogLine(t, &request)
	if entry["request_id"] != "req-7" || entry["service"] != "CapacityTracker" || entry["occurrence_id"] != "o-1" {
		t.Fatalf("unexpected attributes %v", entry)
	}
	if _, ok := entry["operation"]; ok {
		t.Fatalf("empty operation should be omitted, got %v", entry)
	}
}
