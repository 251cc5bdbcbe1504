package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/jw6ventures/calsync/internal/http/errors"
	"github.com/jw6ventures/calsync/internal/store"
)

type connectionView struct {
	store.Connection
	Status string `json:"status"`
}

func viewOf(c store.Connection) connectionView {
	return connectionView{Connection: c, Status: c.StatusText()}
}

type connectionConfigRequest struct {
	RefreshToken string `json:"refreshToken"`
	CalendarID   string `json:"calendarId"`
	URL          string `json:"url"`
}

func (req connectionConfigRequest) config() store.ConnectionConfig {
	return store.ConnectionConfig{
		RefreshToken: strings.TrimSpace(req.RefreshToken),
		CalendarID:   strings.TrimSpace(req.CalendarID),
		URL:          strings.TrimSpace(req.URL),
	}
}

type createConnectionRequest struct {
	Provider store.ProviderKind `json:"provider"`
	connectionConfigRequest
}

// ListConnections returns the caller's connections with display status.
func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	conns, err := h.connections.ListByUser(r.Context(), user.ID)
	if err != nil {
		apperrors.InternalError(w, r, err, "list connections")
		return
	}
	views := make([]connectionView, len(conns))
	for i, c := range conns {
		views[i] = viewOf(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": views})
}

// CreateConnection links a provider for the caller.
func (h *Handler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createConnectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apperrors.BadRequestError(w, r, err, "invalid request body")
		return
	}
	if !req.Provider.Valid() {
		err := fmt.Errorf("unknown provider %q", req.Provider)
		apperrors.BadRequestError(w, r, err, err.Error())
		return
	}
	cfg := req.config()
	if err := cfg.Validate(req.Provider); err != nil {
		apperrors.BadRequestError(w, r, err, err.Error())
		return
	}

	created, err := h.connections.Create(r.Context(), store.Connection{UserID: user.ID, Provider: req.Provider, Config: cfg})
	if err != nil {
		apperrors.InternalError(w, r, err, "create connection")
		return
	}
	apperrors.LogInfo(r, fmt.Sprintf("linked %s connection %d", created.Provider, created.ID))
	writeJSON(w, http.StatusCreated, viewOf(*created))
}

// UpdateConnection replaces the stored credential, e.g. after the user
// re-authorizes an expired connection.
func (h *Handler) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := connectionIDParam(w, r)
	if !ok {
		return
	}
	var req connectionConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apperrors.BadRequestError(w, r, err, "invalid request body")
		return
	}

	existing, err := h.connections.GetByID(r.Context(), user.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		apperrors.NotFoundError(w, r, "connection")
		return
	}
	if err != nil {
		apperrors.InternalError(w, r, err, "load connection")
		return
	}
	cfg := req.config()
	if err := cfg.Validate(existing.Provider); err != nil {
		apperrors.BadRequestError(w, r, err, err.Error())
		return
	}

	if err := h.connections.UpdateConfig(r.Context(), user.ID, id, cfg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apperrors.NotFoundError(w, r, "connection")
			return
		}
		apperrors.InternalError(w, r, err, "update connection")
		return
	}
	updated, err := h.connections.GetByID(r.Context(), user.ID, id)
	if err != nil {
		apperrors.InternalError(w, r, err, "reload connection")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*updated))
}

// DeleteConnection unlinks a provider; its synced events go with it.
func (h *Handler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := connectionIDParam(w, r)
	if !ok {
		return
	}
	err := h.connections.Delete(r.Context(), user.ID, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		apperrors.NotFoundError(w, r, "connection")
	case err != nil:
		apperrors.InternalError(w, r, err, "delete connection")
	default:
		apperrors.LogInfo(r, fmt.Sprintf("unlinked connection %d", id))
		w.WriteHeader(http.StatusNoContent)
	}
}
