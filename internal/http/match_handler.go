package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/sport-scheduler/internal/application"
	"github.com/example/sport-scheduler/internal/recurrence"
	"github.com/example/sport-scheduler/internal/scheduler"
)

const dateLayout = "2006-01-02"

// MatchHandler serves the stateless scheduling helpers.
type MatchHandler struct {
	validator *scheduler.Validator
	engine    *recurrence.Engine
	responder responder
}

func NewMatchHandler(validator *scheduler.Validator, engine *recurrence.Engine, logger *slog.Logger) *MatchHandler {
	return &MatchHandler{validator: validator, engine: engine, responder: newResponder(logger)}
}

type timeSlotsResponse struct {
	TimeSlots   []string `json:"timeSlots"`
	WindowStart string   `json:"windowStart"`
	WindowEnd   string   `json:"windowEnd"`
	Weekdays    []string `json:"weekdays"`
	Timezone    string   `json:"timezone"`
}

type validateMatchRequest struct {
	Date       string `json:"date"`
	StartTime  string `json:"startTime"`
	MinPlayers int    `json:"minPlayers"`
	MaxPlayers int    `json:"maxPlayers"`
}

type violationDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type validateMatchResponse struct {
	IsValid    bool           `json:"isValid"`
	Errors     []string       `json:"errors"`
	Violations []violationDTO `json:"violations"`
}

type previewRequest struct {
	StartDate string `json:"startDate"`
	Kind      string `json:"kind"`
	Count     int    `json:"count"`
}

type previewResponse struct {
	Dates []string `json:"dates"`
}

func (h *MatchHandler) TimeSlots(w http.ResponseWriter, r *http.Request) {
	constraints := h.validator.Constraints()
	weekdays := make([]string, 0, len(constraints.Weekdays))
	for _, day := range constraints.Weekdays {
		weekdays = append(weekdays, strings.ToLower(day.String()))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, timeSlotsResponse{
		TimeSlots:   h.validator.AvailableTimeSlots(),
		WindowStart: formatOffset(constraints.WindowStart),
		WindowEnd:   formatOffset(constraints.WindowEnd),
		Weekdays:    weekdays,
		Timezone:    h.validator.Location().String(),
	})
}

func (h *MatchHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	date, err := time.ParseInLocation(dateLayout, strings.TrimSpace(req.Date), h.validator.Location())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, fieldError("date", "Date must be in YYYY-MM-DD format"))
		return
	}

	result := h.validator.ValidateMatchCreation(scheduler.Candidate{
		Date:       date,
		StartTime:  req.StartTime,
		MinPlayers: req.MinPlayers,
		MaxPlayers: req.MaxPlayers,
	})

	handlerLogger(r.Context(), h.responder.logger, "MatchHandler", "Validate",
		"date", req.Date, "start_time", req.StartTime,
	).DebugContext(r.Context(), "match validated", "valid", result.IsValid, "violations", len(result.Violations))

	violations := make([]violationDTO, 0, len(result.Violations))
	for _, v := range result.Violations {
		violations = append(violations, violationDTO{Field: v.Field, Message: v.Message})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, validateMatchResponse{
		IsValid:    result.IsValid,
		Errors:     result.Messages(),
		Violations: violations,
	})
}

func (h *MatchHandler) PreviewRecurrence(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	start, err := time.ParseInLocation(dateLayout, strings.TrimSpace(req.StartDate), h.validator.Location())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, fieldError("startDate", "Start date must be in YYYY-MM-DD format"))
		return
	}
	kind, err := recurrence.ParseKind(req.Kind)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, fieldError("kind", "Kind must be day, week or month"))
		return
	}

	dates, err := h.engine.CalculateRecurringDates(start, kind, req.Count)
	if err != nil {
		if errors.Is(err, recurrence.ErrInvalidCount) {
			h.responder.handleServiceError(r.Context(), w,
				fieldError("count", fmt.Sprintf("Count must be between 0 and %d", recurrence.MaxCount)))
			return
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(dateLayout))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, previewResponse{Dates: out})
}

func fieldError(field, message string) *application.ValidationError {
	return &application.ValidationError{
		FieldErrors: map[string]string{field: message},
		Reasons:     []string{message},
	}
}

func formatOffset(offset time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(offset/time.Hour), int((offset%time.Hour)/time.Minute))
}
