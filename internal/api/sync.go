package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jw6ventures/calsync/internal/engine"
	apperrors "github.com/jw6ventures/calsync/internal/http/errors"
	"github.com/jw6ventures/calsync/internal/store"
)

type outcomeView struct {
	engine.Outcome
	Message string `json:"message,omitempty"`
}

// outcomeMessages are safe to show users; raw errors stay in the logs.
var outcomeMessages = map[engine.Status]string{
	engine.StatusAuthExpired:       "needs reauthorization",
	engine.StatusUnavailable:       "sync failed, will retry",
	engine.StatusMalformed:         "provider returned unreadable data",
	engine.StatusPersistenceFailed: "sync failed, will retry",
	engine.StatusCancelled:         "sync cancelled",
}

func viewOutcome(o engine.Outcome) outcomeView {
	return outcomeView{Outcome: o, Message: outcomeMessages[o.Status]}
}

const (
	// syncSlack covers loading and persisting around the provider fetches.
	syncSlack = 10 * time.Second
	// writeSlack leaves room to encode the response after the sync deadline.
	writeSlack = 5 * time.Second
)

// syncDeadline bounds a sync of n connections run workers at a time, each
// fetch allowed perFetch.
func syncDeadline(n, workers int, perFetch time.Duration) time.Duration {
	if workers < 1 {
		workers = 1
	}
	rounds := (n + workers - 1) / workers
	if rounds < 1 {
		rounds = 1
	}
	return time.Duration(rounds)*perFetch + syncSlack
}

// withSyncDeadline bounds the request context by the sync deadline and moves
// the connection write deadline past it, overriding the server-wide timeout.
func withSyncDeadline(w http.ResponseWriter, r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	// Recorders and some wrappers do not support deadlines; the context still bounds the run.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(d + writeSlack))
	return context.WithTimeout(r.Context(), d)
}

// SyncAll runs an interactive sync of every caller connection. The run is
// bound to the request and stops if the client disconnects.
func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	conns, err := h.connections.ListByUser(r.Context(), user.ID)
	if err != nil {
		apperrors.InternalError(w, r, err, "list connections")
		return
	}
	ctx, cancel := withSyncDeadline(w, r, syncDeadline(len(conns), h.syncWorkers, h.syncTimeout))
	defer cancel()

	outcomes, err := h.syncer.SyncAll(ctx, user.ID)
	if err != nil {
		apperrors.InternalError(w, r, err, "sync all")
		return
	}
	views := make([]outcomeView, len(outcomes))
	for i, o := range outcomes {
		views[i] = viewOutcome(o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": views})
}

// SyncConnection runs an interactive sync of one connection.
func (h *Handler) SyncConnection(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := connectionIDParam(w, r)
	if !ok {
		return
	}
	conn, err := h.connections.GetByID(r.Context(), user.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		apperrors.NotFoundError(w, r, "connection")
		return
	}
	if err != nil {
		apperrors.InternalError(w, r, err, "load connection")
		return
	}
	ctx, cancel := withSyncDeadline(w, r, syncDeadline(1, 1, h.syncTimeout))
	defer cancel()
	writeJSON(w, http.StatusOK, viewOutcome(h.syncer.SyncConnection(ctx, *conn)))
}
