// Package api serves the authenticated JSON and ICS endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jw6ventures/calsync/internal/auth"
	"github.com/jw6ventures/calsync/internal/engine"
	apperrors "github.com/jw6ventures/calsync/internal/http/errors"
	"github.com/jw6ventures/calsync/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// Syncer is the orchestrator surface used by the sync endpoints.
type Syncer interface {
	SyncAll(ctx context.Context, userID string) ([]engine.Outcome, error)
	SyncConnection(ctx context.Context, conn store.Connection) engine.Outcome
}

// Options configures a Handler.
type Options struct {
	// WindowDays is the default listing range. Zero means 90.
	WindowDays int
	// SyncWorkers and SyncRequestTimeout mirror the engine settings and
	// size the deadline of interactive syncs.
	SyncWorkers        int
	SyncRequestTimeout time.Duration
}

// Handler serves the API routes.
type Handler struct {
	events      store.EventRepository
	connections store.ConnectionRepository
	syncer      Syncer
	windowDays  int
	syncWorkers int
	syncTimeout time.Duration
	now         func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(events store.EventRepository, connections store.ConnectionRepository, syncer Syncer, opts Options) *Handler {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 90
	}
	if opts.SyncWorkers < 1 {
		opts.SyncWorkers = 4
	}
	if opts.SyncRequestTimeout <= 0 {
		opts.SyncRequestTimeout = 30 * time.Second
	}
	return &Handler{
		events:      events,
		connections: connections,
		syncer:      syncer,
		windowDays:  opts.WindowDays,
		syncWorkers: opts.SyncWorkers,
		syncTimeout: opts.SyncRequestTimeout,
		now:         time.Now,
	}
}

// Routes mounts the API on r. Callers must install authentication first.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/events", h.ListEvents)
	r.Get("/events.ics", h.ExportEvents)
	r.Post("/events", h.CreateEvent)
	r.Delete("/events/{id}", h.DeleteEvent)

	r.Get("/connections", h.ListConnections)
	r.Post("/connections", h.CreateConnection)
	r.Put("/connections/{id}", h.UpdateConnection)
	r.Delete("/connections/{id}", h.DeleteConnection)
	r.Post("/connections/{id}/sync", h.SyncConnection)

	r.Post("/sync", h.SyncAll)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// currentUser returns the authenticated user or writes a 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperrors.Write(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return user, true
}

func connectionIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apperrors.BadRequestError(w, r, err, "invalid connection id")
		return 0, false
	}
	return id, true
}
