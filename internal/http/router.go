package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	Matches        *MatchHandler
	Activities     *ActivityHandler
	Participations *ParticipationHandler
	Verifier       TokenVerifier
	Logger         *slog.Logger
	Middleware     []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	for _, mw := range cfg.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		newResponder(cfg.Logger).writeJSON(req.Context(), w, http.StatusNotFound,
			errorResponse{ErrorCode: "NOT_FOUND", Message: "Resource not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		newResponder(cfg.Logger).writeJSON(req.Context(), w, http.StatusMethodNotAllowed,
			errorResponse{Message: http.StatusText(http.StatusMethodNotAllowed)})
	})

	r.Group(func(r chi.Router) {
		if cfg.Verifier != nil {
			r.Use(RequireBearer(cfg.Verifier, cfg.Logger))
		}

		if cfg.Matches != nil {
			r.Get("/time-slots", cfg.Matches.TimeSlots)
			r.Post("/matches/validate", cfg.Matches.Validate)
			r.Post("/recurrences/preview", cfg.Matches.PreviewRecurrence)
		}

		if cfg.Activities != nil {
			r.Route("/activities", func(r chi.Router) {
				r.Get("/", cfg.Activities.List)
				r.Post("/", cfg.Activities.Create)
				r.Get("/by-code/{code}", cfg.Activities.FindByJoinCode)
				r.Route("/{activityID}", func(r chi.Router) {
					r.Get("/", cfg.Activities.Get)
					r.Delete("/", cfg.Activities.Delete)
					r.Post("/join-code", cfg.Activities.RotateJoinCode)
					r.Get("/sessions", cfg.Activities.ListSessions)
					r.Post("/sessions/extend", cfg.Activities.ExtendSessions)
				})
			})
		}

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			if cfg.Activities != nil {
				r.Get("/", cfg.Activities.GetSession)
				r.Post("/cancel", cfg.Activities.CancelSession)
				r.Put("/capacity", cfg.Activities.UpdateCapacity)
			}
			if cfg.Participations != nil {
				r.Get("/stats", cfg.Participations.Stats)
				r.Get("/eligibility", cfg.Participations.Eligibility)
				r.Get("/participants", cfg.Participations.List)
				r.Post("/participants", cfg.Participations.Join)
				r.Get("/participants/me", cfg.Participations.Me)
				r.Delete("/participants/me", cfg.Participations.Leave)
			}
		})

		if cfg.Participations != nil {
			r.Get("/me/participations", cfg.Participations.MyParticipations)
		}
	})

	return r
}
