// Package ics reads events from a published iCalendar feed, such as an
// iCloud public calendar link.
package ics

import (
	"context"
	"errors"
	"net/http"

	"github.com/jw6ventures/calsync/internal/provider"
	"github.com/jw6ventures/calsync/internal/store"
)

// Options configures the adapter.
type Options struct {
	HTTPClient *http.Client
	// MaxBytes caps the feed size. Zero means DefaultMaxBytes.
	MaxBytes int64
	// MaxOccurrences caps expanded instances per recurring event.
	MaxOccurrences int
}

// Adapter implements provider.Adapter for ICS feeds.
type Adapter struct {
	fetcher        *Fetcher
	maxOccurrences int
}

// New builds an ICS adapter.
func New(opts Options) *Adapter {
	return &Adapter{
		fetcher:        NewFetcher(opts.HTTPClient, opts.MaxBytes),
		maxOccurrences: opts.MaxOccurrences,
	}
}

func (a *Adapter) Kind() store.ProviderKind { return store.ProviderICS }

// Fetch downloads the feed and returns the event instances in the window.
func (a *Adapter) Fetch(ctx context.Context, conn store.Connection, window provider.Window) ([]store.Event, error) {
	if conn.Config.URL == "" {
		return nil, provider.Malformed(a.Kind(), errors.New("connection has no feed url"))
	}

	body, err := a.fetcher.Fetch(ctx, conn.Config.URL)
	if err != nil {
		return nil, err
	}

	parsed, err := parseFeed(body)
	if err != nil {
		return nil, provider.Malformed(a.Kind(), err)
	}

	events, err := expand(ctx, parsed, window, a.maxOccurrences)
	if err != nil {
		if ctx.Err() != nil {
			return nil, provider.Transport(a.Kind(), err)
		}
		return nil, provider.Malformed(a.Kind(), err)
	}
	return events, nil
}
