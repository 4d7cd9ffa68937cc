//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

// Package credential defines the credential loader consumed by the engine.
// The store itself (and OAuth token refresh) lives outside the engine; this
// package only fixes the contract and ships loaders useful for embedding and
// testing.
package credential

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RefreshWindow is the safety margin before expiry at which a cached
// credential is considered stale. Loaders backing OAuth2 tokens must return
// records valid at least this long.
const RefreshWindow = 5 * time.Minute

// Record is an immutable credential snapshot valid for the duration of a
// single plugin call. For OAuth2 records it includes a valid access token.
type Record map[string]any

// ExpiresAt returns the record's expiry when present. Recognized shapes are
// an RFC3339 string or a unix-seconds number under "expires_at".
func (r Record) ExpiresAt() (time.Time, bool) {
	raw, ok := r["expires_at"]
	if !ok {
		return time.Time{}, false
	}
	switch v := raw.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	default:
		return time.Time{}, false
	}
}

// Loader resolves stored credential ids to usable records.
type Loader interface {
	Load(ctx context.Context, credentialID string) (Record, error)
}

// StaticLoader serves records from a fixed map. Useful for embedding the
// engine in tests and single-tenant tools.
type StaticLoader struct {
	records map[string]Record
}

// NewStaticLoader creates a loader over the given records.
func NewStaticLoader(records map[string]Record) *StaticLoader {
	if records == nil {
		records = make(map[string]Record)
	}
	return &StaticLoader{records: records}
}

// Load returns the record for the id.
func (l *StaticLoader) Load(_ context.Context, credentialID string) (Record, error) {
	rec, ok := l.records[credentialID]
	if !ok {
		return nil, fmt.Errorf("credential %s not found", credentialID)
	}
	return rec, nil
}

// CachingLoader decorates a Loader with an in-memory cache. Cached records
// are re-loaded once their expiry falls inside the refresh window, so
// callers always observe records valid for at least RefreshWindow.
type CachingLoader struct {
	inner Loader

	mu    sync.Mutex
	cache map[string]Record

	// now is overridable for tests.
	now func() time.Time
}

// NewCachingLoader wraps a loader with caching.
func NewCachingLoader(inner Loader) *CachingLoader {
	return &CachingLoader{
		inner: inner,
		cache: make(map[string]Record),
		now:   time.Now,
	}
}

// Load returns a cached record when it is still comfortably valid,
// otherwise delegates to the inner loader and refreshes the cache.
func (l *CachingLoader) Load(ctx context.Context, credentialID string) (Record, error) {
	l.mu.Lock()
	cached, ok := l.cache[credentialID]
	l.mu.Unlock()

	if ok && l.fresh(cached) {
		return cached, nil
	}

	rec, err := l.inner.Load(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[credentialID] = rec
	l.mu.Unlock()
	return rec, nil
}

func (l *CachingLoader) fresh(rec Record) bool {
	expiry, ok := rec.ExpiresAt()
	if !ok {
		// Records without expiry never go stale.
		return true
	}
	return l.now().Add(RefreshWindow).Before(expiry)
}
