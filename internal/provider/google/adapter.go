// Package google fetches events from the Google Calendar API using a stored
// OAuth refresh token.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jw6ventures/calsync/internal/provider"
	"github.com/jw6ventures/calsync/internal/store"
)

// DefaultCalendarID is queried when a connection does not name a calendar.
const DefaultCalendarID = "primary"

// untitled replaces a missing summary.
const untitled = "(No title)"

// Options configures the adapter.
type Options struct {
	ClientID     string
	ClientSecret string
	// Endpoint overrides the Calendar API base URL.
	Endpoint string
	// TokenURL overrides Google's token endpoint.
	TokenURL string
	// HTTPClient is the base client for token refresh and API calls.
	HTTPClient *http.Client
}

// Adapter implements provider.Adapter for Google Calendar.
type Adapter struct {
	oauth    *oauth2.Config
	endpoint string
	client   *http.Client
}

// New builds a Google adapter.
func New(opts Options) *Adapter {
	endpoint := endpoints.Google
	if opts.TokenURL != "" {
		endpoint.TokenURL = opts.TokenURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{calendar.CalendarReadonlyScope},
		},
		endpoint: opts.Endpoint,
		client:   client,
	}
}

func (a *Adapter) Kind() store.ProviderKind { return store.ProviderGoogle }

// Fetch lists every event instance in the window, following pagination.
// Recurring events are expanded server-side into single instances.
func (a *Adapter) Fetch(ctx context.Context, conn store.Connection, window provider.Window) ([]store.Event, error) {
	if conn.Config.RefreshToken == "" {
		return nil, provider.AuthExpired(a.Kind(), 0, errors.New("connection has no refresh token"))
	}

	svc, err := a.service(ctx, conn.Config.RefreshToken)
	if err != nil {
		return nil, provider.Unavailable(a.Kind(), 0, err)
	}

	calendarID := conn.Config.CalendarID
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	tMin := window.Start.Format(time.RFC3339)
	tMax := window.End.Format(time.RFC3339)

	var results []store.Event
	pageToken := ""
	for {
		req := svc.Events.List(calendarID).
			ShowDeleted(false).
			SingleEvents(true).
			TimeMin(tMin).
			TimeMax(tMax).
			OrderBy("startTime").
			Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		page, err := req.Do()
		if err != nil {
			return nil, a.classify(err)
		}

		for _, item := range page.Items {
			if item.Id == "" {
				log.Printf("[WARN] google connection %d: skipping event without id", conn.ID)
				continue
			}
			ev, err := normalize(item)
			if err != nil {
				return nil, provider.Malformed(a.Kind(), fmt.Errorf("event %s: %w", item.Id, err))
			}
			results = append(results, ev)
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return results, nil
}

func (a *Adapter) service(ctx context.Context, refreshToken string) (*calendar.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	ts := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	return calendar.NewService(ctx, opts...)
}

// classify maps a failed API call onto the provider error taxonomy.
func (a *Adapter) classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		if retrieveErr.ErrorCode == "invalid_grant" || status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return provider.AuthExpired(a.Kind(), status, err)
		}
		return provider.Unavailable(a.Kind(), status, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized {
			return provider.AuthExpired(a.Kind(), apiErr.Code, err)
		}
		return provider.Unavailable(a.Kind(), apiErr.Code, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return provider.Malformed(a.Kind(), err)
	}

	return provider.Transport(a.Kind(), err)
}

func normalize(item *calendar.Event) (store.Event, error) {
	start, err := parseEventDateTime(item.Start)
	if err != nil {
		return store.Event{}, fmt.Errorf("start: %w", err)
	}
	end := start
	if item.End != nil {
		if end, err = parseEventDateTime(item.End); err != nil {
			return store.Event{}, fmt.Errorf("end: %w", err)
		}
	}

	title := item.Summary
	if title == "" {
		title = untitled
	}

	return store.Event{
		Title:         title,
		Start:         start,
		End:           end,
		Description:   item.Description,
		Location:      item.Location,
		Source:        store.SourceGoogle,
		SourceEventID: item.Id,
	}, nil
}

// parseEventDateTime prefers dateTime and falls back to the all-day date,
// keeping the date-only form intact.
func parseEventDateTime(dt *calendar.EventDateTime) (store.EventTime, error) {
	if dt == nil {
		return store.EventTime{}, errors.New("missing time")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return store.EventTime{}, err
		}
		return store.At(t), nil
	}
	if dt.Date != "" {
		t, err := time.Parse("2006-01-02", dt.Date)
		if err != nil {
			return store.EventTime{}, err
		}
		return store.Date(t.Year(), t.Month(), t.Day()), nil
	}
	return store.EventTime{}, errors.New("neither date nor dateTime set")
}
