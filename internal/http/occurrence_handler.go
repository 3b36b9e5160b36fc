package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/class-scheduler/internal/application"
	"github.com/example/class-scheduler/internal/logging"
)

type capacityTracker interface {
	Enroll(ctx context.Context, req application.EnrollRequest) (application.EnrollResult, error)
	Unenroll(ctx context.Context, req application.UnenrollRequest) (application.AttendanceRecord, error)
	Seats(ctx context.Context, principal application.Principal, occurrenceID string) (application.Seats, error)
}

type attendanceLedger interface {
	MarkAttendance(ctx context.Context, req application.AttendanceMarkRequest) (application.AttendanceRecord, error)
	Reopen(ctx context.Context, req application.ReopenRequest) (application.AttendanceRecord, error)
	History(ctx context.Context, principal application.Principal, occurrenceID string) ([]application.AuditEntry, error)
}

// OccurrenceHandler serves enrollment and attendance for a single occurrence.
type OccurrenceHandler struct {
	capacity  capacityTracker
	ledger    attendanceLedger
	responder responder
	logger    *slog.Logger
}

func NewOccurrenceHandler(capacity capacityTracker, ledger attendanceLedger, logger *slog.Logger) *OccurrenceHandler {
	base := logging.OrDefault(logger)
	return &OccurrenceHandler{capacity: capacity, ledger: ledger, responder: newResponder(base), logger: base}
}

func (h *OccurrenceHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "OccurrenceHandler", operation, attrs...)
}

func (h *OccurrenceHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.capacity == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	occurrenceID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Enroll", "occurrence_id", occurrenceID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode enrollment request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.capacity.Enroll(r.Context(), application.EnrollRequest{
		Principal:    principal,
		OccurrenceID: occurrenceID,
		MemberID:     strings.TrimSpace(req.MemberID),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, enrollResponse{
		Record:         toRecordDTO(result.Record),
		RemainingSeats: result.RemainingSeats,
		Reenrolled:     result.Reenrolled,
	})
}

func (h *OccurrenceHandler) Unenroll(w http.ResponseWriter, r *http.Request, memberID string) {
	if h == nil || h.capacity == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	occurrenceID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	record, err := h.capacity.Unenroll(r.Context(), application.UnenrollRequest{
		Principal:    principal,
		OccurrenceID: occurrenceID,
		MemberID:     memberID,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, recordResponse{Record: toRecordDTO(record)})
}

func (h *OccurrenceHandler) Seats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.capacity == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	occurrenceID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	seats, err := h.capacity.Seats(r.Context(), principal, occurrenceID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, seatsDTO(seats))
}

func (h *OccurrenceHandler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.ledger == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	occurrenceID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	var req attendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "MarkAttendance", "occurrence_id", occurrenceID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode attendance request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	record, err := h.ledger.MarkAttendance(r.Context(), application.AttendanceMarkRequest{
		Principal:    principal,
		OccurrenceID: occurrenceID,
		MemberID:     strings.TrimSpace(req.MemberID),
		Status:       req.Status,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, recordResponse{Record: toRecordDTO(record)})
}

func (h *OccurrenceHandler) Reopen(w http.ResponseWriter, r *http.Request, memberID string) {
	if h == nil || h.ledger == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	occurrenceID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	record, err := h.ledger.Reopen(r.Context(), application.ReopenRequest{
		Principal:    principal,
		OccurrenceID: occurrenceID,
		MemberID:     memberID,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, recordResponse{Record: toRecordDTO(record)})
}

func (h *OccurrenceHandler) History(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.ledger == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	occurrenceID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	entries, err := h.ledger.History(r.Context(), principal, occurrenceID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]auditDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, auditDTO{
			ID:         entry.ID,
			MemberID:   entry.MemberID,
			Action:     entry.Action,
			FromStatus: entry.FromStatus,
			ToStatus:   entry.ToStatus,
			MarkedAt:   entry.MarkedAt.UTC().Format(time.RFC3339Nano),
			MarkedBy:   entry.MarkedBy,
			Note:       entry.Note,
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, historyResponse{History: out})
}

type memberRequest struct {
	MemberID string `json:"member_id"`
}

type attendanceRequest struct {
	MemberID string `json:"member_id"`
	Status   string `json:"status"`
}

type recordDTO struct {
	ID                      string `json:"id"`
	OccurrenceID            string `json:"occurrence_id"`
	MemberID                string `json:"member_id"`
	Status                  string `json:"status"`
	MarkedAt                string `json:"marked_at"`
	MarkedBy                string `json:"marked_by"`
	PackageDeductionApplied bool   `json:"package_deduction_applied"`
}

func toRecordDTO(record application.AttendanceRecord) recordDTO {
	return recordDTO{
		ID:                      record.ID,
		OccurrenceID:            record.OccurrenceID,
		MemberID:                record.MemberID,
		Status:                  record.Status,
		MarkedAt:                record.MarkedAt.UTC().Format(time.RFC3339Nano),
		MarkedBy:                record.MarkedBy,
		PackageDeductionApplied: record.PackageDeductionApplied,
	}
}

type seatsDTO struct {
	OccurrenceID    string `json:"occurrence_id"`
	Capacity        int    `json:"capacity"`
	SeatsHeld       int    `json:"seats_held"`
	AttendanceCount int    `json:"attendance_count"`
	RemainingSeats  int    `json:"remaining_seats"`
	CapacityStatus  string `json:"capacity_status"`
}

type auditDTO struct {
	ID         string `json:"id"`
	MemberID   string `json:"member_id"`
	Action     string `json:"action"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	MarkedAt   string `json:"marked_at"`
	MarkedBy   string `json:"marked_by"`
	Note       string `json:"note,omitempty"`
}

type enrollResponse struct {
	Record         recordDTO `json:"record"`
	RemainingSeats int       `json:"remaining_seats"`
	Reenrolled     bool      `json:"reenrolled,omitempty"`
}

type recordResponse struct {
	Record recordDTO `json:"record"`
}

type historyResponse struct {
	History []auditDTO `json:"history"`
}
