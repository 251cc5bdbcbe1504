package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jw6ventures/calsync/internal/export"
	apperrors "github.com/jw6ventures/calsync/internal/http/errors"
	"github.com/jw6ventures/calsync/internal/store"
)

// maxRange bounds a single listing request.
const maxRange = 366 * 24 * time.Hour

// ListEvents returns the caller's events from every source ordered by start.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	events, ok := h.listRange(w, r, user.ID)
	if !ok {
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ExportEvents renders the same listing as text/calendar.
func (h *Handler) ExportEvents(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	events, ok := h.listRange(w, r, user.ID)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calsync.ics"`)
	if err := export.Write(w, events, "calsync", h.now()); err != nil {
		apperrors.LogError(r, "write ics export", err)
	}
}

func (h *Handler) listRange(w http.ResponseWriter, r *http.Request, userID string) ([]store.Event, bool) {
	from, to, err := h.parseRange(r)
	if err != nil {
		apperrors.BadRequestError(w, r, err, err.Error())
		return nil, false
	}
	events, err := h.events.ListRange(r.Context(), userID, from, to)
	if err != nil {
		apperrors.InternalError(w, r, err, "list events")
		return nil, false
	}
	return events, true
}

// parseRange reads from/to as RFC 3339 timestamps or YYYY-MM-DD dates. A
// missing from is the start of today; a missing to is the listing window.
func (h *Handler) parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	now := h.now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		t, err := store.ParseEventTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from: use RFC 3339 or YYYY-MM-DD")
		}
		from = t.Time
	}
	to := from.AddDate(0, 0, h.windowDays)
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		t, err := store.ParseEventTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid to: use RFC 3339 or YYYY-MM-DD")
		}
		to = t.Time
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	if to.Sub(from) > maxRange {
		return time.Time{}, time.Time{}, fmt.Errorf("range may not exceed %d days", int(maxRange.Hours()/24))
	}
	return from, to, nil
}

type createEventRequest struct {
	Title       string          `json:"title"`
	Start       store.EventTime `json:"startAt"`
	End         store.EventTime `json:"endAt"`
	Description string          `json:"description"`
	Location    string          `json:"location"`
}

func (req createEventRequest) validate() error {
	switch {
	case strings.TrimSpace(req.Title) == "":
		return errors.New("title is required")
	case req.Start.IsZero():
		return errors.New("startAt is required")
	case !req.End.IsZero() && req.End.AllDay != req.Start.AllDay:
		return errors.New("startAt and endAt must both be dates or both be timestamps")
	case !req.End.IsZero() && req.End.Time.Before(req.Start.Time):
		return errors.New("endAt must not be before startAt")
	}
	return nil
}

// CreateEvent stores a local event.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apperrors.BadRequestError(w, r, err, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		apperrors.BadRequestError(w, r, err, err.Error())
		return
	}

	created, err := h.events.CreateLocal(r.Context(), store.Event{
		UserID:      user.ID,
		Title:       strings.TrimSpace(req.Title),
		Start:       req.Start,
		End:         req.End,
		Description: req.Description,
		Location:    req.Location,
		UpdatedAt:   h.now().UTC(),
	})
	if err != nil {
		apperrors.InternalError(w, r, err, "create local event")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// DeleteEvent removes a local event. Synced events cannot be deleted here;
// they belong to their provider.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	err := h.events.DeleteLocal(r.Context(), user.ID, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		apperrors.NotFoundError(w, r, "local event")
	case err != nil:
		apperrors.InternalError(w, r, err, "delete local event")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
