package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/class-scheduler/internal/application"
	"github.com/example/class-scheduler/internal/logging"
	"github.com/example/class-scheduler/internal/recurrence"
)

type scheduleService interface {
	CreateSchedule(ctx context.Context, params application.CreateScheduleParams) (application.CreateScheduleResult, error)
	GetSchedule(ctx context.Context, principal application.Principal, id string) (application.Schedule, error)
	ListSchedules(ctx context.Context, params application.ListSchedulesParams) (application.ListSchedulesResult, error)
	ListOccurrences(ctx context.Context, params application.ListOccurrencesParams) ([]application.Occurrence, error)
}

type scheduleReconciler interface {
	Reconcile(ctx context.Context, params application.ReconcileParams) (application.ReconcileResult, error)
	DeleteSchedule(ctx context.Context, principal application.Principal, scheduleID string) (application.DeleteScheduleResult, error)
}

type ScheduleHandler struct {
	service    scheduleService
	reconciler scheduleReconciler
	responder  responder
	logger     *slog.Logger
}

func NewScheduleHandler(service scheduleService, reconciler scheduleReconciler, logger *slog.Logger) *ScheduleHandler {
	base := logging.OrDefault(logger)
	return &ScheduleHandler{service: service, reconciler: reconciler, responder: newResponder(base), logger: base}
}

func (h *ScheduleHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ScheduleHandler", operation, attrs...)
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode schedule request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	spec, parseErr := req.toSpec()
	if parseErr != nil {
		h.responder.handleServiceError(r.Context(), w, parseErr)
		return
	}

	result, err := h.service.CreateSchedule(r.Context(), application.CreateScheduleParams{
		Principal: principal,
		Spec:      spec,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Create", "schedule_id", result.Schedule.ID).InfoContext(r.Context(), "schedule created",
		"occurrences", len(result.Occurrences), "conflicts", len(result.Conflicts))

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, createScheduleResponse{
		Schedule:    toScheduleDTO(result.Schedule),
		Occurrences: toOccurrenceDTOs(result.Occurrences),
		Warnings:    conflictWarnings(result.Conflicts),
	})
}

// List returns one page of schedules. Both snake_case and the dashboard's
// camelCase query names are accepted.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	fields := make(map[string]string)
	page, ok := positiveQueryInt(query.Get("page"))
	if !ok {
		fields["page"] = "page must be a positive integer"
	}
	perPage, ok := positiveQueryInt(firstQueryValue(query, "per_page", "pagelimit"))
	if !ok {
		fields["per_page"] = "per page must be a positive integer"
	}
	if len(fields) > 0 {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: fields})
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.ListSchedules(r.Context(), application.ListSchedulesParams{
		Principal: principal,
		CoachID:   firstQueryValue(query, "coach_id", "coachId"),
		ClassName: firstQueryValue(query, "class_name", "className"),
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	schedules := make([]scheduleDTO, 0, len(result.Schedules))
	for _, schedule := range result.Schedules {
		schedules = append(schedules, toScheduleDTO(schedule))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listSchedulesResponse{
		Schedules:  schedules,
		Pagination: paginationDTO(result.Pagination),
	})
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	scheduleID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	schedule, err := h.service.GetSchedule(r.Context(), principal, scheduleID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, scheduleResponse{Schedule: toScheduleDTO(schedule)})
}

// Reconcile applies an edited series definition to an existing schedule.
func (h *ScheduleHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.reconciler == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	scheduleID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Reconcile", "schedule_id", scheduleID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode schedule request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	spec, parseErr := req.toSpec()
	if parseErr != nil {
		h.responder.handleServiceError(r.Context(), w, parseErr)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.reconciler.Reconcile(r.Context(), application.ReconcileParams{
		Principal:  principal,
		ScheduleID: scheduleID,
		Spec:       spec,
	})
	if err != nil {
		if result.Changed() {
			// Partially applied: report what was committed alongside the error.
			status, body := errorBody(err)
			h.responder.writeJSON(r.Context(), w, status, reconcileErrorResponse{
				errorResponse: body,
				Result:        toReconcileDTO(result),
			})
			return
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toReconcileDTO(result))
}

// Delete removes a schedule. Occurrences holding attendance records are
// cancelled instead of deleted and keep the schedule visible to history.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.reconciler == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	scheduleID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.reconciler.DeleteSchedule(r.Context(), principal, scheduleID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Delete", "schedule_id", scheduleID).InfoContext(r.Context(), "schedule deleted",
		"occurrences", len(result.Deleted), "retained", result.Retained)

	h.responder.writeJSON(r.Context(), w, http.StatusOK, deleteScheduleResponse{
		ScheduleID: result.ScheduleID,
		Deleted:    toChangeDTOs(result.Deleted),
		Retained:   result.Retained,
	})
}

func (h *ScheduleHandler) Occurrences(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	scheduleID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	includeCancelled, _ := strconv.ParseBool(r.URL.Query().Get("include_cancelled"))
	principal, _ := PrincipalFromContext(r.Context())
	occurrences, err := h.service.ListOccurrences(r.Context(), application.ListOccurrencesParams{
		Principal:        principal,
		ScheduleID:       scheduleID,
		IncludeCancelled: includeCancelled,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listOccurrencesResponse{Occurrences: toOccurrenceDTOs(occurrences)})
}

type scheduleRequest struct {
	ClassName         string `json:"class_name"`
	Description       string `json:"description"`
	CoachID           string `json:"coach_id"`
	Capacity          int    `json:"capacity"`
	DurationMinutes   int    `json:"duration_minutes"`
	StartDateTime     string `json:"start_date_time"`
	ScheduleType      scheduleTypeValue `json:"schedule_type"`
	RecurringInterval string            `json:"recurring_interval"`
	NumberOfSessions  int               `json:"number_of_sessions"`
}

// scheduleTypeValue holds the schedule type as sent, either an enum name
// such as "RECURRING" or the dashboard's numeric code (1 or 2).
type scheduleTypeValue string

func (v *scheduleTypeValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*v = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*v = scheduleTypeValue(text)
		return nil
	}
	var code json.Number
	if err := json.Unmarshal(trimmed, &code); err != nil {
		return fmt.Errorf("schedule_type must be a string or a number: %w", err)
	}
	*v = scheduleTypeValue(code.String())
	return nil
}

// toSpec converts the request, reporting fields that could not be parsed.
// Everything else is left to the service's validation.
func (r scheduleRequest) toSpec() (application.ScheduleSpec, error) {
	fields := make(map[string]string)
	spec := application.ScheduleSpec{
		ClassName:        r.ClassName,
		Description:      r.Description,
		CoachID:          r.CoachID,
		Capacity:         r.Capacity,
		DurationMinutes:  r.DurationMinutes,
		NumberOfSessions: r.NumberOfSessions,
	}

	if strings.TrimSpace(r.StartDateTime) != "" {
		start, err := recurrence.ParseStart(r.StartDateTime)
		if err != nil {
			fields["start_date_time"] = "start date time is invalid"
		}
		spec.Start = start
	}
	if strings.TrimSpace(string(r.ScheduleType)) != "" {
		scheduleType, err := recurrence.ParseScheduleType(string(r.ScheduleType))
		if err != nil {
			fields["schedule_type"] = "schedule type is invalid"
		}
		spec.Type = scheduleType
	}
	interval, err := recurrence.ParseInterval(r.RecurringInterval)
	if err != nil {
		fields["recurring_interval"] = "recurring interval is invalid"
	}
	spec.Interval = interval

	if len(fields) > 0 {
		return spec, &application.ValidationError{FieldErrors: fields}
	}
	return spec, nil
}

const wallClockLayout = "2006-01-02T15:04:05"

type scheduleDTO struct {
	ID                string `json:"id"`
	ClassName         string `json:"class_name"`
	Description       string `json:"description,omitempty"`
	CoachID           string `json:"coach_id"`
	Capacity          int    `json:"capacity"`
	DurationMinutes   int    `json:"duration_minutes"`
	StartDateTime     string `json:"start_date_time"`
	ScheduleType      string `json:"schedule_type"`
	RecurringInterval string `json:"recurring_interval,omitempty"`
	NumberOfSessions  int    `json:"number_of_sessions"`
	CreatedBy         string `json:"created_by"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func toScheduleDTO(schedule application.Schedule) scheduleDTO {
	return scheduleDTO{
		ID:                schedule.ID,
		ClassName:         schedule.Spec.ClassName,
		Description:       schedule.Spec.Description,
		CoachID:           schedule.Spec.CoachID,
		Capacity:          schedule.Spec.Capacity,
		DurationMinutes:   schedule.Spec.DurationMinutes,
		StartDateTime:     schedule.Spec.Start.Format(wallClockLayout),
		ScheduleType:      string(schedule.Spec.Type),
		RecurringInterval: string(schedule.Spec.Interval),
		NumberOfSessions:  schedule.Spec.NumberOfSessions,
		CreatedBy:         schedule.CreatedBy,
		CreatedAt:         schedule.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:         schedule.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

type occurrenceDTO struct {
	ID              string  `json:"id"`
	ScheduleID      string  `json:"schedule_id"`
	SequenceIndex   int     `json:"sequence_index"`
	Start           string  `json:"start"`
	End             string  `json:"end"`
	Capacity        int     `json:"capacity"`
	CancelledAt     *string `json:"cancelled_at,omitempty"`
	AttendanceCount int     `json:"attendance_count"`
	SeatsHeld       int     `json:"seats_held"`
	RemainingSeats  int     `json:"remaining_seats"`
	CapacityStatus  string  `json:"capacity_status"`
}

func toOccurrenceDTOs(occurrences []application.Occurrence) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(occurrences))
	for _, occurrence := range occurrences {
		dto := occurrenceDTO{
			ID:              occurrence.ID,
			ScheduleID:      occurrence.ScheduleID,
			SequenceIndex:   occurrence.SequenceIndex,
			Start:           occurrence.Start.Format(wallClockLayout),
			End:             occurrence.End.Format(wallClockLayout),
			Capacity:        occurrence.Capacity,
			AttendanceCount: occurrence.AttendanceCount,
			SeatsHeld:       occurrence.SeatsHeld,
			RemainingSeats:  occurrence.RemainingSeats,
			CapacityStatus:  occurrence.CapacityStatus,
		}
		if occurrence.CancelledAt != nil {
			cancelled := occurrence.CancelledAt.UTC().Format(time.RFC3339Nano)
			dto.CancelledAt = &cancelled
		}
		out = append(out, dto)
	}
	return out
}

const truncationMessage = "受講記録のある開催回があるため、一部の開催回を削除せずに残しました。"

// warningDTO is one entry of a "warnings" array. Type selects which of the
// remaining fields are present.
type warningDTO struct {
	Type    string `json:"type"`
	Message string `json:"message"`

	// PARTIAL_TRUNCATION
	ScheduleID      string `json:"schedule_id,omitempty"`
	RetainedIndices []int  `json:"retained_indices,omitempty"`
	BlockingIndices []int  `json:"blocking_indices,omitempty"`

	// COACH_CONFLICT
	*conflictDTO
}

type conflictDTO struct {
	SequenceIndex         int    `json:"sequence_index"`
	Start                 string `json:"start"`
	End                   string `json:"end"`
	CoachID               string `json:"coach_id"`
	ConflictingScheduleID string `json:"conflicting_schedule_id"`
	ConflictingOccurrence string `json:"conflicting_occurrence_id"`
	ConflictingClassName  string `json:"conflicting_class_name"`
}

func toConflictWarning(conflict application.ConflictWarning) warningDTO {
	return warningDTO{
		Type:    application.WarningCoachConflict,
		Message: "担当コーチの他の開催回と時間が重複しています。",
		conflictDTO: &conflictDTO{
			SequenceIndex:         conflict.SequenceIndex,
			Start:                 conflict.Start.Format(wallClockLayout),
			End:                   conflict.End.Format(wallClockLayout),
			CoachID:               conflict.CoachID,
			ConflictingScheduleID: conflict.ConflictingScheduleID,
			ConflictingOccurrence: conflict.ConflictingOccurrence,
			ConflictingClassName:  conflict.ConflictingClassName,
		},
	}
}

func conflictWarnings(conflicts []application.ConflictWarning) []warningDTO {
	if len(conflicts) == 0 {
		return nil
	}
	out := make([]warningDTO, 0, len(conflicts))
	for _, conflict := range conflicts {
		out = append(out, toConflictWarning(conflict))
	}
	return out
}

func toWarningDTOs(warnings []application.Warning) []warningDTO {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]warningDTO, 0, len(warnings))
	for _, warning := range warnings {
		switch {
		case warning.Kind == application.WarningPartialTruncation && warning.Truncation != nil:
			out = append(out, warningDTO{
				Type:            warning.Kind,
				Message:         truncationMessage,
				ScheduleID:      warning.Truncation.ScheduleID,
				RetainedIndices: warning.Truncation.RetainedIndices,
				BlockingIndices: warning.Truncation.BlockingIndices,
			})
		case warning.Kind == application.WarningCoachConflict && warning.Conflict != nil:
			out = append(out, toConflictWarning(*warning.Conflict))
		}
	}
	return out
}

type changeDTO struct {
	OccurrenceID  string `json:"occurrence_id"`
	SequenceIndex int    `json:"sequence_index"`
	SoftCancelled bool   `json:"soft_cancelled,omitempty"`
	Revived       bool   `json:"revived,omitempty"`
}

func toChangeDTOs(changes []application.OccurrenceChange) []changeDTO {
	out := make([]changeDTO, 0, len(changes))
	for _, change := range changes {
		out = append(out, changeDTO(change))
	}
	return out
}

type failureDTO struct {
	OccurrenceID  string        `json:"occurrence_id"`
	SequenceIndex int           `json:"sequence_index"`
	Error         errorResponse `json:"error"`
}

type reconcileDTO struct {
	Schedule scheduleDTO  `json:"schedule"`
	Updated  []changeDTO  `json:"updated"`
	Created  []changeDTO  `json:"created"`
	Deleted  []changeDTO  `json:"deleted"`
	Warnings []warningDTO `json:"warnings,omitempty"`
	Failures []failureDTO `json:"failures,omitempty"`
}

func toReconcileDTO(result application.ReconcileResult) reconcileDTO {
	dto := reconcileDTO{
		Schedule: toScheduleDTO(result.Schedule),
		Updated:  toChangeDTOs(result.Updated),
		Created:  toChangeDTOs(result.Created),
		Deleted:  toChangeDTOs(result.Deleted),
		Warnings: toWarningDTOs(result.Warnings),
	}
	for _, failure := range result.Failures {
		_, body := errorBody(failure.Err)
		dto.Failures = append(dto.Failures, failureDTO{
			OccurrenceID:  failure.OccurrenceID,
			SequenceIndex: failure.SequenceIndex,
			Error:         body,
		})
	}
	return dto
}

type createScheduleResponse struct {
	Schedule    scheduleDTO     `json:"schedule"`
	Occurrences []occurrenceDTO `json:"occurrences"`
	Warnings    []warningDTO    `json:"warnings,omitempty"`
}

type scheduleResponse struct {
	Schedule scheduleDTO `json:"schedule"`
}

type paginationResponse struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
	From        int `json:"from"`
	To          int `json:"to"`
}

func paginationDTO(p application.Pagination) paginationResponse {
	return paginationResponse(p)
}

type listSchedulesResponse struct {
	Schedules  []scheduleDTO      `json:"schedules"`
	Pagination paginationResponse `json:"pagination"`
}

type deleteScheduleResponse struct {
	ScheduleID string      `json:"schedule_id"`
	Deleted    []changeDTO `json:"deleted"`
	Retained   bool        `json:"retained"`
}

// positiveQueryInt parses an optional positive integer; empty means zero.
func positiveQueryInt(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, true
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func firstQueryValue(query url.Values, names ...string) string {
	for _, name := range names {
		if value := strings.TrimSpace(query.Get(name)); value != "" {
			return value
		}
	}
	return ""
}

type listOccurrencesResponse struct {
	Occurrences []occurrenceDTO `json:"occurrences"`
}

type reconcileErrorResponse struct {
	errorResponse
	Result reconcileDTO `json:"result"`
}
