package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source identifies where an event came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceGoogle Source = "google"
	SourceICloud Source = "icloud"
)

// Valid reports whether s is a known event source.
func (s Source) Valid() bool {
	switch s {
	case SourceLocal, SourceGoogle, SourceICloud:
		return true
	}
	return false
}

// ProviderKind is the tagged variant selecting a provider adapter for a connection.
type ProviderKind string

const (
	ProviderGoogle ProviderKind = "google"
	ProviderICS    ProviderKind = "icloud_ics"
)

// Source returns the event source written by connections of this kind.
func (p ProviderKind) Source() Source {
	switch p {
	case ProviderGoogle:
		return SourceGoogle
	case ProviderICS:
		return SourceICloud
	}
	return ""
}

// Valid reports whether p is a known provider kind.
func (p ProviderKind) Valid() bool {
	return p.Source() != ""
}

const dateLayout = "2006-01-02"

// EventTime is either a zoned timestamp or a date without time of day.
// All-day values keep their calendar date at midnight UTC and render as
// YYYY-MM-DD.
type EventTime struct {
	Time   time.Time
	AllDay bool
}

// At builds a timestamp EventTime.
func At(t time.Time) EventTime {
	return EventTime{Time: t}
}

// Date builds an all-day EventTime.
func Date(year int, month time.Month, day int) EventTime {
	return EventTime{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), AllDay: true}
}

// ParseEventTime parses either an RFC 3339 timestamp or a YYYY-MM-DD date.
func ParseEventTime(s string) (EventTime, error) {
	if len(s) == len(dateLayout) {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return EventTime{}, fmt.Errorf("parse date %q: %w", s, err)
		}
		return EventTime{Time: t, AllDay: true}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return EventTime{}, fmt.Errorf("parse date-time %q: %w", s, err)
	}
	return EventTime{Time: t}, nil
}

func (t EventTime) String() string {
	if t.Time.IsZero() {
		return ""
	}
	if t.AllDay {
		return t.Time.Format(dateLayout)
	}
	return t.Time.Format(time.RFC3339)
}

// IsZero reports whether no time was set.
func (t EventTime) IsZero() bool {
	return t.Time.IsZero()
}

// Equal compares instants for timestamps and calendar dates for all-day values.
func (t EventTime) Equal(o EventTime) bool {
	if t.AllDay != o.AllDay {
		return false
	}
	if t.AllDay {
		return t.Time.Format(dateLayout) == o.Time.Format(dateLayout)
	}
	return t.Time.Equal(o.Time)
}

func (t EventTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EventTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEventTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Event is a normalized calendar event owned by one user.
type Event struct {
	ID            string    `json:"id"`
	UserID        string    `json:"-"`
	ConnectionID  *int64    `json:"connectionId,omitempty"`
	Title         string    `json:"title"`
	Start         EventTime `json:"startAt"`
	End           EventTime `json:"endAt"`
	Description   string    `json:"description,omitempty"`
	Location      string    `json:"location,omitempty"`
	Source        Source    `json:"source"`
	SourceEventID string    `json:"sourceEventId,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// SameContent reports whether the user-visible fields of two events match.
func (e Event) SameContent(o Event) bool {
	return e.Title == o.Title &&
		e.Start.Equal(o.Start) &&
		e.End.Equal(o.End) &&
		e.Description == o.Description &&
		e.Location == o.Location
}

// Overlaps reports whether the event intersects [from, to).
func (e Event) Overlaps(from, to time.Time) bool {
	end := e.End.Time
	if end.IsZero() || end.Before(e.Start.Time) {
		end = e.Start.Time
	}
	if !to.IsZero() && !e.Start.Time.Before(to) {
		return false
	}
	if !from.IsZero() && end.Before(from) {
		return false
	}
	return true
}

// ConnectionConfig holds provider specific settings. It is sealed before it
// reaches the database.
type ConnectionConfig struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	CalendarID   string `json:"calendar_id,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Validate checks that cfg carries what the provider needs.
func (c ConnectionConfig) Validate(kind ProviderKind) error {
	switch kind {
	case ProviderGoogle:
		if c.RefreshToken == "" {
			return fmt.Errorf("google connection requires a refresh token")
		}
	case ProviderICS:
		if c.URL == "" {
			return fmt.Errorf("ics connection requires a feed url")
		}
	default:
		return fmt.Errorf("unknown provider %q", kind)
	}
	return nil
}

// SyncStatus is the persisted result of the most recent sync attempt.
type SyncStatus string

const (
	StatusNever             SyncStatus = ""
	StatusSuccess           SyncStatus = "success"
	StatusAuthExpired       SyncStatus = "auth_expired"
	StatusUnavailable       SyncStatus = "unavailable"
	StatusPersistenceFailed SyncStatus = "persistence_failed"
)

// Connection links a user to one external calendar provider.
type Connection struct {
	ID            int64            `json:"id"`
	UserID        string           `json:"-"`
	Provider      ProviderKind     `json:"provider"`
	Config        ConnectionConfig `json:"-"`
	LastSyncedAt  *time.Time       `json:"lastSyncedAt,omitempty"`
	LastAttemptAt *time.Time       `json:"lastAttemptAt,omitempty"`
	LastStatus    SyncStatus       `json:"lastStatus,omitempty"`
	LastError     string           `json:"-"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// StatusText describes the connection state for display.
func (c Connection) StatusText() string {
	switch c.LastStatus {
	case StatusAuthExpired:
		return "needs reauthorization"
	case StatusUnavailable, StatusPersistenceFailed:
		return "sync failed, will retry"
	}
	if c.LastSyncedAt != nil {
		return "last synced " + c.LastSyncedAt.UTC().Format(time.RFC3339)
	}
	return "never synced"
}

// Changeset is the set of writes that brings one connection's stored events
// in line with its provider.
type Changeset struct {
	Insert []Event
	Update []Event
	Delete []Event
}

// Len returns the number of changed events.
func (c Changeset) Len() int {
	return len(c.Insert) + len(c.Update) + len(c.Delete)
}

// Empty reports whether the changeset has no writes.
func (c Changeset) Empty() bool {
	return c.Len() == 0
}
