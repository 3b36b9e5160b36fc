package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/example/class-scheduler/internal/application"
	"github.com/example/class-scheduler/internal/logging"
)

type catalogService interface {
	CreateCoach(ctx context.Context, params application.CreateCoachParams) (application.Coach, error)
	SetCoachActive(ctx context.Context, principal application.Principal, id string, active bool) (application.Coach, error)
	GrantPackage(ctx context.Context, params application.GrantPackageParams) (application.TrainingPackage, error)
	ActivePackage(ctx context.Context, principal application.Principal, memberID string) (application.TrainingPackage, error)
	ListCoaches(ctx context.Context, principal application.Principal, includeInactive bool) ([]application.Coach, error)
}

// coachCache is notified when a coach changes so cached lookups are dropped.
type coachCache interface {
	Invalidate(id string)
}

// CatalogHandler serves coach registration and training package grants.
type CatalogHandler struct {
	service   catalogService
	coaches   coachCache
	responder responder
	logger    *slog.Logger
}

func NewCatalogHandler(service catalogService, coaches coachCache, logger *slog.Logger) *CatalogHandler {
	base := logging.OrDefault(logger)
	return &CatalogHandler{service: service, coaches: coaches, responder: newResponder(base), logger: base}
}

func (h *CatalogHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "CatalogHandler", operation, attrs...)
}

func (h *CatalogHandler) CreateCoach(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req coachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "CreateCoach", "principal_id", principal.StaffID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode coach request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	coach, err := h.service.CreateCoach(r.Context(), application.CreateCoachParams{
		Principal: principal,
		ID:        req.ID,
		Name:      req.Name,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, coachResponse{Coach: toCoachDTO(coach)})
}

func (h *CatalogHandler) ListCoaches(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
	principal, _ := PrincipalFromContext(r.Context())
	coaches, err := h.service.ListCoaches(r.Context(), principal, includeInactive)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]coachDTO, 0, len(coaches))
	for _, coach := range coaches {
		out = append(out, toCoachDTO(coach))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listCoachesResponse{Coaches: out})
}

func (h *CatalogHandler) SetCoachActive(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	coachID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	var req coachActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		h.log(r.Context(), "SetCoachActive", "coach_id", coachID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode coach request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	coach, err := h.service.SetCoachActive(r.Context(), principal, coachID, *req.Active)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if h.coaches != nil {
		h.coaches.Invalidate(coach.ID)
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, coachResponse{Coach: toCoachDTO(coach)})
}

func (h *CatalogHandler) GrantPackage(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	memberID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	var req packageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "GrantPackage", "member_id", memberID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode package request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	pkg, err := h.service.GrantPackage(r.Context(), application.GrantPackageParams{
		Principal: principal,
		MemberID:  memberID,
		Sessions:  req.Sessions,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, packageResponse{Package: toPackageDTO(pkg)})
}

func (h *CatalogHandler) ActivePackage(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	memberID, ok := PathIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	pkg, err := h.service.ActivePackage(r.Context(), principal, memberID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, packageResponse{Package: toPackageDTO(pkg)})
}

type coachRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type coachActiveRequest struct {
	Active *bool `json:"active"`
}

type packageRequest struct {
	Sessions int `json:"sessions"`
}

type coachDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

func toCoachDTO(coach application.Coach) coachDTO {
	return coachDTO{
		ID:        coach.ID,
		Name:      coach.Name,
		Active:    coach.Active,
		CreatedAt: coach.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

type packageDTO struct {
	ID                string `json:"id"`
	MemberID          string `json:"member_id"`
	TotalSessions     int    `json:"total_sessions"`
	RemainingSessions int    `json:"remaining_sessions"`
	Active            bool   `json:"active"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func toPackageDTO(pkg application.TrainingPackage) packageDTO {
	return packageDTO{
		ID:                pkg.ID,
		MemberID:          pkg.MemberID,
		TotalSessions:     pkg.TotalSessions,
		RemainingSessions: pkg.RemainingSessions,
		Active:            pkg.Active,
		CreatedAt:         pkg.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:         pkg.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

type coachResponse struct {
	Coach coachDTO `json:"coach"`
}

type listCoachesResponse struct {
	Coaches []coachDTO `json:"coaches"`
}

type packageResponse struct {
	Package packageDTO `json:"package"`
}
