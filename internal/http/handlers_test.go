package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/class-scheduler/internal/application"
	"github.com/example/class-scheduler/internal/testfixtures"
)

type stubAuthenticator map[string]application.Principal

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (application.Principal, error) {
	principal, ok := s[token]
	if !ok {
		return application.Principal{}, application.ErrInvalidCredentials
	}
	return principal, nil
}

type spyCoachCache struct {
	invalidated []string
}

func (s *spyCoachCache) Invalidate(id string) {
	s.invalidated = append(s.invalidated, id)
}

type apiHarness struct {
	t       *testing.T
	handler http.Handler
	coaches *spyCoachCache
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	factory := testfixtures.NewServiceFactory(t)
	svc := factory.Build(nil)
	coaches := &spyCoachCache{}

	auth := stubAuthenticator{
		"admin-key":   testfixtures.Admin,
		"trainer-key": testfixtures.Trainer,
		"desk-key":    testfixtures.FrontDesk,
	}
	handler := NewRouter(RouterConfig{
		Schedules:   NewScheduleHandler(svc.Schedules, svc.Reconciler, factory.Logger),
		Occurrences: NewOccurrenceHandler(svc.Capacity, svc.Ledger, factory.Logger),
		Catalog:     NewCatalogHandler(svc.Catalog, coaches, factory.Logger),
		Auth:        RequireStaff(auth, factory.Logger),
		Middleware:  []func(http.Handler) http.Handler{RequestLogger(factory.Logger)},
	})
	return &apiHarness{t: t, handler: handler, coaches: coaches}
}

func (h *apiHarness) do(method, path, key string, body any) (*httptest.ResponseRecorder, map[string]any) {
	h.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func (h *apiHarness) createSchedule(body map[string]any) (string, []string) {
	h.t.Helper()
	rec, resp := h.do(http.MethodPost, "/schedules", "admin-key", body)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	schedule := resp["schedule"].(map[string]any)
	var ids []string
	for _, occ := range resp["occurrences"].([]any) {
		ids = append(ids, occ.(map[string]any)["id"].(string))
	}
	return schedule["id"].(string), ids
}

func (h *apiHarness) seedCoach() {
	h.t.Helper()
	rec, _ := h.do(http.MethodPost, "/coaches", "admin-key", map[string]any{"id": "coach-1", "name": "Aiko"})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func scheduleBody(overrides map[string]any) map[string]any {
	body := map[string]any{
		"class_name":         "Morning Yoga",
		"coach_id":           "coach-1",
		"capacity":           10,
		"duration_minutes":   60,
		"start_date_time":    "2024-01-01T08:00",
		"schedule_type":      "RECURRING",
		"recurring_interval": "WEEKLY",
		"number_of_sessions": 4,
	}
	for k, v := range overrides {
		body[k] = v
	}
	return body
}

func TestScheduleHandlers(t *testing.T) {
	t.Parallel()

	t.Run("create returns generated occurrences", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()

		rec, resp := h.do(http.MethodPost, "/schedules", "admin-key", scheduleBody(nil))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		occurrences := resp["occurrences"].([]any)
		require.Len(t, occurrences, 4)
		assert.Equal(t, "2024-01-01T08:00:00", occurrences[0].(map[string]any)["start"])
		assert.Equal(t, "2024-01-22T08:00:00", occurrences[3].(map[string]any)["start"])
		assert.Equal(t, "2024-01-22T09:00:00", occurrences[3].(map[string]any)["end"])
		assert.Equal(t, "available", occurrences[0].(map[string]any)["capacity_status"])

		id := resp["schedule"].(map[string]any)["id"].(string)
		rec, resp = h.do(http.MethodGet, "/schedules/"+id, "desk-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Morning Yoga", resp["schedule"].(map[string]any)["class_name"])

		rec, resp = h.do(http.MethodGet, "/schedules/"+id+"/occurrences", "trainer-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, resp["occurrences"], 4)
	})

	t.Run("schedule type accepts the numeric dashboard codes", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()

		rec, resp := h.do(http.MethodPost, "/schedules", "admin-key", scheduleBody(map[string]any{"schedule_type": 2}))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "RECURRING", resp["schedule"].(map[string]any)["schedule_type"])
		assert.Len(t, resp["occurrences"], 4)

		rec, resp = h.do(http.MethodPost, "/schedules", "admin-key", scheduleBody(map[string]any{
			"schedule_type":      1,
			"recurring_interval": "",
			"number_of_sessions": 1,
		}))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "ONE_TIME", resp["schedule"].(map[string]any)["schedule_type"])

		rec, resp = h.do(http.MethodPost, "/schedules", "admin-key", scheduleBody(map[string]any{"schedule_type": 3}))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "指定されたスケジュール種別には対応していません。", resp["errors"].(map[string]any)["schedule_type"])

		rec, _ = h.do(http.MethodPost, "/schedules", "admin-key", scheduleBody(map[string]any{"schedule_type": true}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list pages through schedules with filters", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()
		for _, s := range []struct{ name, start string }{
			{"Morning Yoga", "2024-01-01T08:00"},
			{"Spin", "2024-01-02T08:00"},
			{"Evening Yoga", "2024-01-03T08:00"},
		} {
			h.createSchedule(scheduleBody(map[string]any{"class_name": s.name, "start_date_time": s.start}))
		}

		rec, resp := h.do(http.MethodGet, "/schedules?pagelimit=2", "desk-key", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		schedules := resp["schedules"].([]any)
		require.Len(t, schedules, 2)
		assert.Equal(t, "Morning Yoga", schedules[0].(map[string]any)["class_name"])
		pagination := resp["pagination"].(map[string]any)
		assert.Equal(t, float64(1), pagination["current_page"])
		assert.Equal(t, float64(2), pagination["last_page"])
		assert.Equal(t, float64(2), pagination["per_page"])
		assert.Equal(t, float64(3), pagination["total"])
		assert.Equal(t, float64(1), pagination["from"])
		assert.Equal(t, float64(2), pagination["to"])

		rec, resp = h.do(http.MethodGet, "/schedules?page=2&per_page=2", "desk-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, resp["schedules"], 1)
		assert.Equal(t, "Evening Yoga", resp["schedules"].([]any)[0].(map[string]any)["class_name"])
		assert.Equal(t, float64(3), resp["pagination"].(map[string]any)["from"])

		rec, resp = h.do(http.MethodGet, "/schedules?className=yoga&coachId=coach-1", "trainer-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, resp["schedules"], 2)

		rec, resp = h.do(http.MethodGet, "/schedules?page=0", "desk-key", nil)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "ページ番号は正の整数で指定してください。", resp["errors"].(map[string]any)["page"])
	})

	t.Run("delete keeps occurrences with records", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()
		id, occ := h.createSchedule(scheduleBody(nil))

		rec, _ := h.do(http.MethodPost, "/occurrences/"+occ[1]+"/enrollments", "desk-key", map[string]any{"member_id": "m1"})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec, _ = h.do(http.MethodDelete, "/schedules/"+id, "desk-key", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec, resp := h.do(http.MethodDelete, "/schedules/"+id, "admin-key", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, id, resp["schedule_id"])
		assert.Equal(t, true, resp["retained"])
		deleted := resp["deleted"].([]any)
		require.Len(t, deleted, 4)
		assert.Equal(t, true, deleted[1].(map[string]any)["soft_cancelled"])
		assert.Nil(t, deleted[0].(map[string]any)["soft_cancelled"])

		rec, _ = h.do(http.MethodGet, "/schedules/"+id, "admin-key", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec, resp = h.do(http.MethodGet, "/schedules", "admin-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, resp["schedules"])

		rec, resp = h.do(http.MethodGet, "/occurrences/"+occ[1]+"/attendance", "admin-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		history := resp["history"].([]any)
		assert.Equal(t, "reconcile-cancel", history[len(history)-1].(map[string]any)["action"])
	})

	t.Run("unparsable fields return localized validation errors", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)

		rec, resp := h.do(http.MethodPost, "/schedules", "admin-key", scheduleBody(map[string]any{
			"start_date_time":    "tomorrow",
			"recurring_interval": "DAILY",
		}))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		errs := resp["errors"].(map[string]any)
		assert.Equal(t, "開始日時の形式が不正です。", errs["start_date_time"])
		assert.Equal(t, "指定された繰り返し間隔には対応していません。", errs["recurring_interval"])
	})

	t.Run("service validation reports every field", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()

		rec, resp := h.do(http.MethodPost, "/schedules", "admin-key", scheduleBody(map[string]any{
			"class_name": "",
			"capacity":   0,
			"coach_id":   "ghost",
		}))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		errs := resp["errors"].(map[string]any)
		assert.Equal(t, "クラス名は必須です。", errs["class_name"])
		assert.Equal(t, "定員は正の整数で指定してください。", errs["capacity"])
		assert.Equal(t, "指定されたコーチは存在しません。", errs["coach_id"])
	})

	t.Run("malformed json is a bad request", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		req := httptest.NewRequest(http.MethodPost, "/schedules", bytes.NewBufferString("{"))
		req.Header.Set("Authorization", "Bearer admin-key")
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("front desk cannot create schedules", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()

		rec, resp := h.do(http.MethodPost, "/schedules", "desk-key", scheduleBody(nil))
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "AUTH_FORBIDDEN", resp["error_code"])
	})

	t.Run("missing resources and methods", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)

		rec, _ := h.do(http.MethodGet, "/schedules/missing", "admin-key", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec, _ = h.do(http.MethodDelete, "/schedules/missing", "admin-key", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec, _ = h.do(http.MethodPatch, "/schedules/missing", "admin-key", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "GET, PUT, DELETE", rec.Header().Get("Allow"))
		rec, _ = h.do(http.MethodPut, "/schedules", "admin-key", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
		rec, _ = h.do(http.MethodGet, "/occurrences/missing/seats", "admin-key", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec, _ = h.do(http.MethodGet, "/occurrences/missing/unknown", "admin-key", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("reconcile reports deletions and truncation", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()
		id, occ := h.createSchedule(scheduleBody(nil))

		rec, _ := h.do(http.MethodPost, "/occurrences/"+occ[3]+"/enrollments", "desk-key", map[string]any{"member_id": "m1"})
		require.Equal(t, http.StatusCreated, rec.Code)
		rec, _ = h.do(http.MethodPost, "/occurrences/"+occ[3]+"/attendance", "trainer-key", map[string]any{"member_id": "m1", "status": "NO_SHOW"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, resp := h.do(http.MethodPut, "/schedules/"+id, "admin-key", scheduleBody(map[string]any{"number_of_sessions": 2}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotContains(t, resp, "truncation_warning")
		warnings := resp["warnings"].([]any)
		require.Len(t, warnings, 1)
		truncation := warnings[0].(map[string]any)
		assert.Equal(t, "PARTIAL_TRUNCATION", truncation["type"])
		assert.Equal(t, id, truncation["schedule_id"])
		assert.NotEmpty(t, truncation["message"])
		assert.Equal(t, []any{float64(3)}, truncation["blocking_indices"])
		assert.Equal(t, []any{float64(2), float64(3)}, truncation["retained_indices"])
		assert.Empty(t, resp["deleted"])
		assert.Equal(t, float64(2), resp["schedule"].(map[string]any)["number_of_sessions"])

		rec, resp = h.do(http.MethodPut, "/schedules/"+id, "admin-key", scheduleBody(map[string]any{"number_of_sessions": 2}))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, resp["updated"])
		assert.Empty(t, resp["created"])
	})

	t.Run("reconcile failures carry structured details", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()
		id, occ := h.createSchedule(scheduleBody(map[string]any{"capacity": 3}))
		for _, member := range []string{"m1", "m2"} {
			rec, _ := h.do(http.MethodPost, "/occurrences/"+occ[0]+"/enrollments", "desk-key", map[string]any{"member_id": member})
			require.Equal(t, http.StatusCreated, rec.Code)
		}

		rec, resp := h.do(http.MethodPut, "/schedules/"+id, "admin-key", scheduleBody(map[string]any{"capacity": 1}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		failures := resp["failures"].([]any)
		require.Len(t, failures, 1)
		failure := failures[0].(map[string]any)
		assert.Equal(t, occ[0], failure["occurrence_id"])
		errBody := failure["error"].(map[string]any)
		assert.Equal(t, "CAPACITY_BELOW_ENROLLMENT", errBody["error_code"])
		assert.Equal(t, float64(2), errBody["details"].(map[string]any)["seats_held"])
		assert.Len(t, resp["updated"], 3)
	})
}

func TestOccurrenceHandlers(t *testing.T) {
	t.Parallel()

	t.Run("enrollment respects capacity", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()
		_, occ := h.createSchedule(scheduleBody(map[string]any{"capacity": 1}))
		base := "/occurrences/" + occ[0]

		rec, resp := h.do(http.MethodPost, base+"/enrollments", "desk-key", map[string]any{"member_id": "m1"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, float64(0), resp["remaining_seats"])
		assert.Equal(t, "ENROLLED", resp["record"].(map[string]any)["status"])

		rec, resp = h.do(http.MethodPost, base+"/enrollments", "desk-key", map[string]any{"member_id": "m2"})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "CAPACITY_EXCEEDED", resp["error_code"])
		assert.Equal(t, float64(1), resp["details"].(map[string]any)["capacity"])

		rec, resp = h.do(http.MethodPost, base+"/enrollments", "desk-key", map[string]any{"member_id": "m1"})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "DUPLICATE_ENROLLMENT", resp["error_code"])

		rec, resp = h.do(http.MethodGet, base+"/seats", "trainer-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "full", resp["capacity_status"])

		rec, resp = h.do(http.MethodDelete, base+"/enrollments/m1", "desk-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "CANCELLED", resp["record"].(map[string]any)["status"])

		rec, resp = h.do(http.MethodGet, base+"/seats", "trainer-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), resp["remaining_seats"])
	})

	t.Run("attendance deducts packages and can be reopened", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()
		_, occ := h.createSchedule(scheduleBody(nil))

		rec, resp := h.do(http.MethodPost, "/members/m1/packages", "admin-key", map[string]any{"sessions": 1})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, float64(1), resp["package"].(map[string]any)["remaining_sessions"])

		first := "/occurrences/" + occ[0]
		second := "/occurrences/" + occ[1]
		for _, base := range []string{first, second} {
			rec, _ = h.do(http.MethodPost, base+"/enrollments", "desk-key", map[string]any{"member_id": "m1"})
			require.Equal(t, http.StatusCreated, rec.Code)
		}

		rec, resp = h.do(http.MethodPost, first+"/attendance", "trainer-key", map[string]any{"member_id": "m1", "status": "attended"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, true, resp["record"].(map[string]any)["package_deduction_applied"])

		rec, resp = h.do(http.MethodGet, "/members/m1/package", "desk-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(0), resp["package"].(map[string]any)["remaining_sessions"])

		rec, resp = h.do(http.MethodPost, second+"/attendance", "trainer-key", map[string]any{"member_id": "m1", "status": "ATTENDED"})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "INSUFFICIENT_PACKAGE_BALANCE", resp["error_code"])

		rec, resp = h.do(http.MethodPost, first+"/attendance", "trainer-key", map[string]any{"member_id": "m1", "status": "NO_SHOW"})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "INVALID_TRANSITION", resp["error_code"])

		rec, resp = h.do(http.MethodPost, first+"/attendance/m1/reopen", "trainer-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ENROLLED", resp["record"].(map[string]any)["status"])

		rec, resp = h.do(http.MethodGet, first+"/attendance", "admin-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		history := resp["history"].([]any)
		require.Len(t, history, 3)
		assert.Equal(t, "reopen", history[2].(map[string]any)["action"])
	})

	t.Run("marking a member without a record", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()
		_, occ := h.createSchedule(scheduleBody(nil))

		rec, resp := h.do(http.MethodPost, "/occurrences/"+occ[0]+"/attendance", "trainer-key", map[string]any{"member_id": "ghost", "status": "ATTENDED"})
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_ENROLLED", resp["error_code"])

		rec, _ = h.do(http.MethodPost, "/occurrences/"+occ[0]+"/attendance", "desk-key", map[string]any{"member_id": "ghost", "status": "ATTENDED"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestCatalogHandlers(t *testing.T) {
	t.Parallel()

	t.Run("deactivating a coach drops the cached entry", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()

		rec, resp := h.do(http.MethodPatch, "/coaches/coach-1", "admin-key", map[string]any{"active": false})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, false, resp["coach"].(map[string]any)["active"])
		assert.Equal(t, []string{"coach-1"}, h.coaches.invalidated)

		rec, resp = h.do(http.MethodPost, "/schedules", "admin-key", scheduleBody(nil))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "指定されたコーチは現在無効です。", resp["errors"].(map[string]any)["coach_id"])
	})

	t.Run("list coaches hides inactive ones by default", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()
		rec, _ := h.do(http.MethodPost, "/coaches", "admin-key", map[string]any{"id": "coach-2", "name": "Ben"})
		require.Equal(t, http.StatusCreated, rec.Code)
		rec, _ = h.do(http.MethodPatch, "/coaches/coach-2", "admin-key", map[string]any{"active": false})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, resp := h.do(http.MethodGet, "/coaches", "desk-key", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		coaches := resp["coaches"].([]any)
		require.Len(t, coaches, 1)
		assert.Equal(t, "coach-1", coaches[0].(map[string]any)["id"])

		rec, resp = h.do(http.MethodGet, "/coaches?include_inactive=true", "desk-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		coaches = resp["coaches"].([]any)
		require.Len(t, coaches, 2)
		assert.Equal(t, "Aiko", coaches[0].(map[string]any)["name"])
		assert.Equal(t, "Ben", coaches[1].(map[string]any)["name"])
	})

	t.Run("duplicate coach and missing active flag", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.seedCoach()

		rec, resp := h.do(http.MethodPost, "/coaches", "admin-key", map[string]any{"id": "coach-1", "name": "Again"})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "ALREADY_EXISTS", resp["error_code"])

		rec, _ = h.do(http.MethodPatch, "/coaches/coach-1", "admin-key", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, h.coaches.invalidated)
	})

	t.Run("package grants are admin only", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)

		rec, _ := h.do(http.MethodPost, "/members/m1/packages", "trainer-key", map[string]any{"sessions": 5})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec, resp := h.do(http.MethodPost, "/members/m1/packages", "admin-key", map[string]any{"sessions": 0})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "セッション数は正の整数で指定してください。", resp["errors"].(map[string]any)["sessions"])
	})
}
