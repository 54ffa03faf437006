// Package http exposes the scheduler over a JSON API routed with chi.
//
// Every route requires an `Authorization: Bearer <token>` header whose subject
// is the calling user's ID. The router exposes:
//   - GET /time-slots, POST /matches/validate, POST /recurrences/preview:
//     stateless scheduling helpers backed by the validator and recurrence engine.
//   - POST /activities, GET /activities, GET /activities/{id}, DELETE /activities/{id},
//     POST /activities/{id}/join-code, GET /activities/by-code/{code}: activity
//     templates exchanging the `activityDTO` payload defined in activity_handler.go.
//   - GET /activities/{id}/sessions, POST /activities/{id}/sessions/extend,
//     GET /sessions/{id}, GET /sessions/{id}/stats, POST /sessions/{id}/cancel,
//     PUT /sessions/{id}/capacity: generated sessions with derived status.
//   - GET /sessions/{id}/eligibility, GET|POST /sessions/{id}/participants,
//     GET|DELETE /sessions/{id}/participants/me, GET /me/participations:
//     enrollment with waiting-list promotion.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
