// Package reconcile computes the writes that bring a connection's stored
// events in line with what its provider currently reports.
package reconcile

import (
	"log"
	"time"

	"github.com/jw6ventures/calsync/internal/provider"
	"github.com/jw6ventures/calsync/internal/store"
)

// Scope identifies the event namespace being reconciled.
type Scope struct {
	UserID       string
	Source       store.Source
	ConnectionID int64
}

// ScopeOf returns the namespace owned by conn.
func ScopeOf(conn store.Connection) Scope {
	return Scope{UserID: conn.UserID, Source: conn.Provider.Source(), ConnectionID: conn.ID}
}

// Reconcile matches stored and fetched events by SourceEventID. The provider
// is authoritative: new ids are inserted, changed content is replaced, and
// stored ids it no longer reports are deleted. Only stored events that
// overlap window are eligible for deletion, since the provider says nothing
// about the rest. Local events never appear in the result.
//
// stored holds the whole (user, source) namespace. A source id belongs to
// the connection that stored it first; another connection of the same
// provider reporting that id leaves the row alone. Updates and deletes only
// touch rows owned by scope.ConnectionID.
func Reconcile(scope Scope, stored, fetched []store.Event, window provider.Window, now time.Time) store.Changeset {
	var cs store.Changeset

	// kept maps a source id to the index of the stored row that represents it.
	kept := make(map[string]int, len(stored))
	for i, ev := range stored {
		if !managed(scope, ev) {
			continue
		}
		if _, dup := kept[ev.SourceEventID]; dup {
			// Only one row per source id may survive.
			if owned(scope, ev) {
				cs.Delete = append(cs.Delete, ev)
			}
			continue
		}
		kept[ev.SourceEventID] = i
	}

	seen := make(map[string]bool, len(fetched))
	for _, ev := range fetched {
		if ev.SourceEventID == "" {
			log.Printf("[WARN] reconcile connection %d: dropping fetched event without source id (title %q)", scope.ConnectionID, ev.Title)
			continue
		}
		if seen[ev.SourceEventID] {
			continue
		}
		seen[ev.SourceEventID] = true

		i, ok := kept[ev.SourceEventID]
		if !ok {
			cs.Insert = append(cs.Insert, stamp(scope, ev, "", now))
			continue
		}
		if cur := stored[i]; owned(scope, cur) && !cur.SameContent(ev) {
			cs.Update = append(cs.Update, stamp(scope, ev, cur.ID, now))
		}
	}

	for i, ev := range stored {
		if !owned(scope, ev) || seen[ev.SourceEventID] || kept[ev.SourceEventID] != i {
			continue
		}
		if ev.Overlaps(window.Start, window.End) {
			cs.Delete = append(cs.Delete, ev)
		}
	}
	return cs
}

// managed reports whether ev belongs to the scope's provider namespace.
func managed(scope Scope, ev store.Event) bool {
	return ev.Source != store.SourceLocal &&
		ev.Source == scope.Source &&
		ev.SourceEventID != ""
}

// owned reports whether ev is a managed row of the scope's connection.
func owned(scope Scope, ev store.Event) bool {
	return managed(scope, ev) && ev.ConnectionID != nil && *ev.ConnectionID == scope.ConnectionID
}

func stamp(scope Scope, ev store.Event, id string, now time.Time) store.Event {
	connID := scope.ConnectionID
	ev.ID = id
	ev.UserID = scope.UserID
	ev.Source = scope.Source
	ev.ConnectionID = &connID
	ev.UpdatedAt = now
	return ev
}
