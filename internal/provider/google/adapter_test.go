package google

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/jw6ventures/calsync/internal/provider"
	"github.com/jw6ventures/calsync/internal/store"
)

type fakeGoogle struct {
	tokenStatus  int
	eventsStatus int
	pages        []string
	eventsCalls  atomic.Int32
	lastQuery    atomic.Value
	lastPath     atomic.Value
}

func (f *fakeGoogle) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token":
			if f.tokenStatus != 0 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(f.tokenStatus)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"access","token_type":"Bearer","expires_in":3600}`))
		case strings.HasSuffix(r.URL.Path, "/events"):
			if got := r.Header.Get("Authorization"); got != "Bearer access" {
				t.Errorf("expected bearer token, got %q", got)
			}
			f.lastQuery.Store(r.URL.Query())
			f.lastPath.Store(r.URL.Path)
			idx := int(f.eventsCalls.Add(1)) - 1
			w.Header().Set("Content-Type", "application/json")
			if f.eventsStatus != 0 {
				w.WriteHeader(f.eventsStatus)
				_, _ = w.Write([]byte(`{"error":{"code":503,"message":"backend error"}}`))
				return
			}
			if idx >= len(f.pages) {
				_, _ = w.Write([]byte(`{"items":[]}`))
				return
			}
			_, _ = w.Write([]byte(f.pages[idx]))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAdapter(srv *httptest.Server) *Adapter {
	return New(Options{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     srv.URL + "/calendar/v3/",
		TokenURL:     srv.URL + "/token",
		HTTPClient:   srv.Client(),
	})
}

func testConn() store.Connection {
	return store.Connection{ID: 1, UserID: "u", Provider: store.ProviderGoogle, Config: store.ConnectionConfig{RefreshToken: "refresh"}}
}

func testWindow() provider.Window {
	return provider.WindowFrom(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 90)
}

func TestFetchNormalizesEvents(t *testing.T) {
	fake := &fakeGoogle{pages: []string{`{
		"items": [
			{"id": "1", "summary": "Meeting", "start": {"dateTime": "2024-01-01T10:00:00Z"}, "end": {"dateTime": "2024-01-01T11:00:00Z"}, "location": "Room 1"},
			{"id": "2", "start": {"date": "2024-01-03"}, "end": {"date": "2024-01-04"}}
		]
	}`}}
	adapter := newTestAdapter(fake.server(t))

	events, err := adapter.Fetch(context.Background(), testConn(), testWindow())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	meeting := events[0]
	if meeting.Title != "Meeting" || meeting.SourceEventID != "1" || meeting.Source != store.SourceGoogle {
		t.Fatalf("unexpected meeting: %+v", meeting)
	}
	if meeting.Start.AllDay || meeting.Start.String() != "2024-01-01T10:00:00Z" || meeting.Location != "Room 1" {
		t.Fatalf("unexpected meeting times: %+v", meeting)
	}

	allDay := events[1]
	if allDay.Title != "(No title)" {
		t.Fatalf("expected missing summary fallback, got %q", allDay.Title)
	}
	if !allDay.Start.AllDay || allDay.Start.String() != "2024-01-03" {
		t.Fatalf("expected all-day start 2024-01-03, got %q", allDay.Start.String())
	}
	if allDay.End.String() != "2024-01-04" {
		t.Fatalf("expected all-day end 2024-01-04, got %q", allDay.End.String())
	}

	q := fake.lastQuery.Load().(url.Values)
	if q["singleEvents"][0] != "true" || q["orderBy"][0] != "startTime" {
		t.Fatalf("expected expanded ordered query, got %v", q)
	}
	if q["timeMin"][0] != "2024-01-01T00:00:00Z" || q["timeMax"][0] != "2024-03-31T00:00:00Z" {
		t.Fatalf("unexpected window %v / %v", q["timeMin"], q["timeMax"])
	}
	if path := fake.lastPath.Load().(string); !strings.Contains(path, "/calendars/primary/events") {
		t.Fatalf("expected primary calendar, got %s", path)
	}
}

func TestFetchFollowsPages(t *testing.T) {
	fake := &fakeGoogle{pages: []string{
		`{"items":[{"id":"a","summary":"A","start":{"dateTime":"2024-01-02T09:00:00Z"},"end":{"dateTime":"2024-01-02T10:00:00Z"}}],"nextPageToken":"p2"}`,
		`{"items":[{"id":"b","summary":"B","start":{"dateTime":"2024-01-05T09:00:00Z"},"end":{"dateTime":"2024-01-05T10:00:00Z"}}]}`,
	}}
	adapter := newTestAdapter(fake.server(t))

	events, err := adapter.Fetch(context.Background(), testConn(), testWindow())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 2 || events[1].SourceEventID != "b" {
		t.Fatalf("expected both pages, got %+v", events)
	}
	if fake.eventsCalls.Load() != 2 {
		t.Fatalf("expected 2 page requests, got %d", fake.eventsCalls.Load())
	}
	q := fake.lastQuery.Load().(url.Values)
	if q["pageToken"][0] != "p2" {
		t.Fatalf("expected page token on second request, got %v", q)
	}
}

func TestFetchUsesConfiguredCalendar(t *testing.T) {
	fake := &fakeGoogle{}
	adapter := newTestAdapter(fake.server(t))
	conn := testConn()
	conn.Config.CalendarID = "team@example.com"

	if _, err := adapter.Fetch(context.Background(), conn, testWindow()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if path := fake.lastPath.Load().(string); !strings.Contains(path, "team@example.com") {
		t.Fatalf("expected configured calendar in path, got %s", path)
	}
}

func TestFetchRevokedRefreshTokenIsAuthExpired(t *testing.T) {
	fake := &fakeGoogle{tokenStatus: http.StatusBadRequest}
	adapter := newTestAdapter(fake.server(t))

	_, err := adapter.Fetch(context.Background(), testConn(), testWindow())
	if !errors.Is(err, provider.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if fake.eventsCalls.Load() != 0 {
		t.Fatalf("events endpoint must not be called without a token")
	}
}

func TestFetchUpstreamFailureIsUnavailable(t *testing.T) {
	fake := &fakeGoogle{eventsStatus: http.StatusServiceUnavailable}
	adapter := newTestAdapter(fake.server(t))

	_, err := adapter.Fetch(context.Background(), testConn(), testWindow())
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if provider.StatusCode(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", provider.StatusCode(err))
	}
}

func TestFetchMalformedTimeIsMalformed(t *testing.T) {
	fake := &fakeGoogle{pages: []string{`{"items":[{"id":"x","summary":"Bad","start":{"dateTime":"yesterday"},"end":{"dateTime":"today"}}]}`}}
	adapter := newTestAdapter(fake.server(t))

	_, err := adapter.Fetch(context.Background(), testConn(), testWindow())
	if !errors.Is(err, provider.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestFetchWithoutRefreshToken(t *testing.T) {
	adapter := New(Options{})
	conn := testConn()
	conn.Config.RefreshToken = ""
	if _, err := adapter.Fetch(context.Background(), conn, testWindow()); !errors.Is(err, provider.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestParseEventDateTimeKeepsDateOnly(t *testing.T) {
	got, err := parseEventDateTime(&calendar.EventDateTime{Date: "2024-01-03"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.AllDay || got.String() != "2024-01-03" {
		t.Fatalf("expected date-only value, got %q", got.String())
	}
	if _, err := parseEventDateTime(&calendar.EventDateTime{}); err == nil {
		t.Fatalf("expected error for empty time")
	}
}
