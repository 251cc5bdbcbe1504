package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jw6ventures/calsync/internal/provider"
	"github.com/jw6ventures/calsync/internal/store"
)

// DefaultMaxBytes caps a feed body when no limit is configured.
const DefaultMaxBytes int64 = 10 << 20

// cacheEntry holds HTTP validators and the body they describe.
type cacheEntry struct {
	etag         string
	lastModified string
	body         []byte
}

// Fetcher downloads ICS feeds with conditional requests. Validators are kept
// in memory per URL; a restart simply costs one full download per feed.
type Fetcher struct {
	client   *http.Client
	maxBytes int64

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewFetcher creates a Fetcher. A nil client gets a 30 second timeout.
func NewFetcher(client *http.Client, maxBytes int64) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		client:   client,
		maxBytes: maxBytes,
		cache:    make(map[string]cacheEntry),
	}
}

// Fetch returns the current feed body. A 304 reuses the cached body. It never
// falls back to a cached body on failure: an unreachable feed fails the sync.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	feedURL, err := normalizeURL(rawURL)
	if err != nil {
		return nil, provider.Malformed(store.ProviderICS, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, provider.Malformed(store.ProviderICS, err)
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	f.mu.Lock()
	cached, hasCache := f.cache[feedURL]
	f.mu.Unlock()
	if hasCache {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, provider.Transport(store.ProviderICS, fmt.Errorf("fetch %s: %w", redactURL(feedURL), stripURL(err)))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if !hasCache {
			return nil, provider.Unavailable(store.ProviderICS, resp.StatusCode, errors.New("not modified without a cached body"))
		}
		log.Printf("[INFO] ics feed %s not modified", redactURL(feedURL))
		return cached.body, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, provider.AuthExpired(store.ProviderICS, resp.StatusCode, fmt.Errorf("fetch %s: %s", redactURL(feedURL), resp.Status))

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, provider.Unavailable(store.ProviderICS, resp.StatusCode, fmt.Errorf("fetch %s: %s", redactURL(feedURL), resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, provider.Transport(store.ProviderICS, fmt.Errorf("read %s: %w", redactURL(feedURL), err))
	}
	if int64(len(body)) > f.maxBytes {
		return nil, provider.Malformed(store.ProviderICS, fmt.Errorf("feed %s exceeds %d bytes", redactURL(feedURL), f.maxBytes))
	}

	entry := cacheEntry{
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
		body:         body,
	}
	f.mu.Lock()
	if entry.etag != "" || entry.lastModified != "" {
		f.cache[feedURL] = entry
	} else {
		delete(f.cache, feedURL)
	}
	f.mu.Unlock()

	return body, nil
}

// normalizeURL rewrites webcal links, which calendar apps publish for
// subscriptions, to https.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		// url.Parse echoes the input, which may hold a secret token.
		return "", errors.New("invalid feed url")
	}
	switch strings.ToLower(u.Scheme) {
	case "webcal", "webcals":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported feed url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("feed url has no host")
	}
	return u.String(), nil
}

// redactURL keeps only the scheme and host. Private feed URLs carry their
// access token in the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}

// stripURL drops the request URL that *url.Error adds to its message.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
