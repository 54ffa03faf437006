package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/sport-scheduler/internal/application"
	"github.com/example/sport-scheduler/internal/persistence"
)

type activityService interface {
	CreateActivity(ctx context.Context, params application.CreateActivityParams) (application.ActivityCreated, error)
	GetVisibleActivity(ctx context.Context, principal application.Principal, id string) (persistence.Activity, error)
	ListActivities(ctx context.Context, principal application.Principal, filter application.ActivityListFilter) ([]persistence.Activity, error)
	FindActivityByJoinCode(ctx context.Context, code string) (persistence.Activity, error)
	RotateJoinCode(ctx context.Context, principal application.Principal, activityID string) (string, error)
	DeleteActivity(ctx context.Context, principal application.Principal, activityID string) error
	ListSessions(ctx context.Context, activityID string) ([]application.SessionView, error)
	ExtendOwnedSessions(ctx context.Context, principal application.Principal, activityID string) ([]persistence.Session, error)
	GetSession(ctx context.Context, sessionID string) (application.SessionView, error)
	CancelSession(ctx context.Context, principal application.Principal, sessionID string) (persistence.Session, error)
	UpdateSessionCapacity(ctx context.Context, principal application.Principal, sessionID string, maxPlayers int) (application.CapacityUpdate, error)
}

// ActivityHandler serves activities and the sessions generated from them.
type ActivityHandler struct {
	service   activityService
	responder responder
}

func NewActivityHandler(service activityService, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{service: service, responder: newResponder(logger)}
}

type activityRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Sport         string   `json:"sport"`
	MinPlayers    int      `json:"minPlayers"`
	MaxPlayers    int      `json:"maxPlayers"`
	RecurringType string   `json:"recurringType"`
	RecurringDays []string `json:"recurringDays"`
	StartTime     string   `json:"startTime"`
	IsPublic      *bool    `json:"isPublic"`
}

func (req activityRequest) toInput() (application.ActivityInput, *application.ValidationError) {
	days := make([]time.Weekday, 0, len(req.RecurringDays))
	for _, name := range req.RecurringDays {
		day, ok := parseWeekday(name)
		if !ok {
			return application.ActivityInput{}, fieldError("recurringDays", "Unknown day: "+name)
		}
		days = append(days, day)
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}
	return application.ActivityInput{
		Name:          req.Name,
		Description:   req.Description,
		Sport:         req.Sport,
		MinPlayers:    req.MinPlayers,
		MaxPlayers:    req.MaxPlayers,
		RecurringType: req.RecurringType,
		RecurringDays: days,
		StartTime:     req.StartTime,
		IsPublic:      isPublic,
	}, nil
}

type activityDTO struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Sport         string    `json:"sport"`
	MinPlayers    int       `json:"minPlayers"`
	MaxPlayers    int       `json:"maxPlayers"`
	RecurringType string    `json:"recurringType"`
	RecurringDays []string  `json:"recurringDays"`
	StartTime     string    `json:"startTime"`
	CreatedBy     string    `json:"createdBy"`
	IsPublic      bool      `json:"isPublic"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func newActivityDTO(a persistence.Activity) activityDTO {
	days := make([]string, 0, len(a.RecurringDays))
	for _, day := range a.RecurringDays {
		days = append(days, strings.ToLower(day.String()))
	}
	return activityDTO{
		ID:            a.ID,
		Name:          a.Name,
		Description:   a.Description,
		Sport:         string(a.Sport),
		MinPlayers:    a.MinPlayers,
		MaxPlayers:    a.MaxPlayers,
		RecurringType: a.RecurringType,
		RecurringDays: days,
		StartTime:     a.StartTime,
		CreatedBy:     a.CreatedBy,
		IsPublic:      a.IsPublic,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

type createActivityResponse struct {
	Activity activityDTO  `json:"activity"`
	JoinCode string       `json:"joinCode"`
	Sessions []sessionDTO `json:"sessions"`
}

type joinCodeResponse struct {
	JoinCode string `json:"joinCode"`
}

type statsDTO struct {
	ConfirmedCount int `json:"confirmedCount"`
	WaitingCount   int `json:"waitingCount"`
	TotalCount     int `json:"totalCount"`
	AvailableSpots int `json:"availableSpots"`
}

func newStatsDTO(s application.SessionStats) statsDTO {
	return statsDTO{
		ConfirmedCount: s.ConfirmedCount,
		WaitingCount:   s.WaitingCount,
		TotalCount:     s.TotalCount,
		AvailableSpots: s.AvailableSpots,
	}
}

type sessionDTO struct {
	ID          string    `json:"id"`
	ActivityID  string    `json:"activityId"`
	StartsAt    time.Time `json:"startsAt"`
	MaxPlayers  int       `json:"maxPlayers"`
	IsCancelled bool      `json:"isCancelled"`
	Status      string    `json:"status,omitempty"`
	Stats       *statsDTO `json:"stats,omitempty"`
}

func newSessionDTO(s persistence.Session) sessionDTO {
	return sessionDTO{
		ID:          s.ID,
		ActivityID:  s.ActivityID,
		StartsAt:    s.StartsAt,
		MaxPlayers:  s.MaxPlayers,
		IsCancelled: s.IsCancelled,
	}
}

func newSessionViewDTO(v application.SessionView) sessionDTO {
	dto := newSessionDTO(v.Session)
	stats := newStatsDTO(v.Stats)
	dto.Status = string(v.Status)
	dto.Stats = &stats
	return dto
}

type capacityRequest struct {
	MaxPlayers int `json:"maxPlayers"`
}

type capacityResponse struct {
	Session  sessionDTO       `json:"session"`
	Promoted []participantDTO `json:"promoted"`
}

func (h *ActivityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	input, vErr := req.toInput()
	if vErr != nil {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	created, err := h.service.CreateActivity(r.Context(), application.CreateActivityParams{
		Principal: principal,
		Input:     input,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	sessions := make([]sessionDTO, 0, len(created.Sessions))
	for _, s := range created.Sessions {
		sessions = append(sessions, newSessionDTO(s))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, createActivityResponse{
		Activity: newActivityDTO(created.Activity),
		JoinCode: created.JoinCode,
		Sessions: sessions,
	})
}

func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()
	activities, err := h.service.ListActivities(r.Context(), principal, application.ActivityListFilter{
		Sport: query.Get("sport"),
		Mine:  query.Get("mine") == "true",
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]activityDTO, 0, len(activities))
	for _, a := range activities {
		out = append(out, newActivityDTO(a))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, out)
}

func (h *ActivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	activity, err := h.service.GetVisibleActivity(r.Context(), principal, chi.URLParam(r, "activityID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, newActivityDTO(activity))
}

func (h *ActivityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteActivity(r.Context(), principal, chi.URLParam(r, "activityID")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *ActivityHandler) RotateJoinCode(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	code, err := h.service.RotateJoinCode(r.Context(), principal, chi.URLParam(r, "activityID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, joinCodeResponse{JoinCode: code})
}

func (h *ActivityHandler) FindByJoinCode(w http.ResponseWriter, r *http.Request) {
	activity, err := h.service.FindActivityByJoinCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, newActivityDTO(activity))
}

func (h *ActivityHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	activityID := chi.URLParam(r, "activityID")
	if _, err := h.service.GetVisibleActivity(r.Context(), principal, activityID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	views, err := h.service.ListSessions(r.Context(), activityID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]sessionDTO, 0, len(views))
	for _, v := range views {
		out = append(out, newSessionViewDTO(v))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, out)
}

func (h *ActivityHandler) ExtendSessions(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	created, err := h.service.ExtendOwnedSessions(r.Context(), principal, chi.URLParam(r, "activityID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]sessionDTO, 0, len(created))
	for _, s := range created {
		out = append(out, newSessionDTO(s))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, out)
}

func (h *ActivityHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, newSessionViewDTO(view))
}

func (h *ActivityHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	session, err := h.service.CancelSession(r.Context(), principal, chi.URLParam(r, "sessionID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, newSessionDTO(session))
}

func (h *ActivityHandler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	var req capacityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	update, err := h.service.UpdateSessionCapacity(r.Context(), principal, chi.URLParam(r, "sessionID"), req.MaxPlayers)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	promoted := make([]participantDTO, 0, len(update.Promoted))
	for _, p := range update.Promoted {
		promoted = append(promoted, newParticipantDTO(p))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, capacityResponse{
		Session:  newSessionDTO(update.Session),
		Promoted: promoted,
	})
}

func parseWeekday(name string) (time.Weekday, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for day := time.Sunday; day <= time.Saturday; day++ {
		full := strings.ToLower(day.String())
		if normalized == full || normalized == full[:3] {
			return day, true
		}
	}
	return 0, false
}
