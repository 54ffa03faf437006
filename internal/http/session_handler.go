package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/sport-scheduler/internal/application"
	"github.com/example/sport-scheduler/internal/persistence"
)

type participationService interface {
	JoinSession(ctx context.Context, sessionID, userID string) (persistence.Participant, error)
	LeaveSession(ctx context.Context, sessionID, userID string) (application.LeaveResult, error)
	GetSessionStats(ctx context.Context, sessionID string) (application.SessionStats, error)
	CanUserJoinSession(ctx context.Context, sessionID, userID string) (application.JoinEligibility, error)
	GetUserParticipationStatus(ctx context.Context, sessionID, userID string) (persistence.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]persistence.Participant, error)
	ListUserParticipations(ctx context.Context, userID string) ([]persistence.Participant, error)
}

// ParticipationHandler serves session enrollment for the calling user.
type ParticipationHandler struct {
	service   participationService
	responder responder
}

func NewParticipationHandler(service participationService, logger *slog.Logger) *ParticipationHandler {
	return &ParticipationHandler{service: service, responder: newResponder(logger)}
}

type participantDTO struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	JoinedAt  time.Time `json:"joinedAt"`
}

func newParticipantDTO(p persistence.Participant) participantDTO {
	return participantDTO{
		SessionID: p.SessionID,
		UserID:    p.UserID,
		Status:    string(p.Status),
		JoinedAt:  p.JoinedAt,
	}
}

type leaveResponse struct {
	Promoted *participantDTO `json:"promoted"`
}

type eligibilityResponse struct {
	CanJoin        bool   `json:"canJoin"`
	WouldBeWaiting bool   `json:"wouldBeWaiting"`
	Reason         string `json:"reason,omitempty"`
}

func (h *ParticipationHandler) Join(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")
	participant, err := h.service.JoinSession(r.Context(), sessionID, principal.UserID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.responder.logger, "ParticipationHandler", "Join", "session_id", sessionID).
		InfoContext(r.Context(), "participant joined", "status", participant.Status)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, newParticipantDTO(participant))
}

func (h *ParticipationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.LeaveSession(r.Context(), chi.URLParam(r, "sessionID"), principal.UserID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	var resp leaveResponse
	if result.Promoted != nil {
		dto := newParticipantDTO(*result.Promoted)
		resp.Promoted = &dto
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *ParticipationHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	participant, err := h.service.GetUserParticipationStatus(r.Context(), chi.URLParam(r, "sessionID"), principal.UserID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, newParticipantDTO(participant))
}

func (h *ParticipationHandler) List(w http.ResponseWriter, r *http.Request) {
	participants, err := h.service.ListParticipants(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, participantDTOs(participants))
}

func (h *ParticipationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetSessionStats(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, newStatsDTO(stats))
}

func (h *ParticipationHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	eligibility, err := h.service.CanUserJoinSession(r.Context(), chi.URLParam(r, "sessionID"), principal.UserID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, eligibilityResponse{
		CanJoin:        eligibility.CanJoin,
		WouldBeWaiting: eligibility.WouldBeWaiting,
		Reason:         eligibility.Reason,
	})
}

func (h *ParticipationHandler) MyParticipations(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	participants, err := h.service.ListUserParticipations(r.Context(), principal.UserID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, participantDTOs(participants))
}

func participantDTOs(participants []persistence.Participant) []participantDTO {
	out := make([]participantDTO, 0, len(participants))
	for _, p := range participants {
		out = append(out, newParticipantDTO(p))
	}
	return out
}
