// Package backoff tracks per-host connect failures so the dispatcher can
// skip hosts that are currently failing fast, ahead of spending a full
// transfer_timeout on a doomed connect() attempt (spec §4.3's suspension
// points list connect() among the blocking calls worth short-circuiting).
// Built on github.com/patrickmn/go-cache for its built-in per-entry TTL
// expiry, rather than hand-rolling a sweep goroutine.
package backoff

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Tracker records recent connect failures per host alias.
type Tracker struct {
	c *cache.Cache
}

// New creates a Tracker whose entries expire after ttl, cleaned up every
// cleanupInterval.
func New(ttl, cleanupInterval time.Duration) *Tracker {
	return &Tracker{c: cache.New(ttl, cleanupInterval)}
}

// RecordFailure increments the failure count for alias. An existing entry
// keeps its expiry time; only a new entry starts with the tracker's TTL.
func (t *Tracker) RecordFailure(alias string) int {
	n, err := t.c.IncrementInt(alias, 1)
	if err != nil {
		t.c.SetDefault(alias, 1)
		return 1
	}
	return n
}

// Failures returns the current failure count for alias (0 if unknown or
// expired).
func (t *Tracker) Failures(alias string) int {
	v, found := t.c.Get(alias)
	if !found {
		return 0
	}
	return v.(int)
}

// Clear resets the failure count for alias, e.g. after the
// first-good-transfer ritual.
func (t *Tracker) Clear(alias string) {
	t.c.Delete(alias)
}

// ShouldSkip reports whether alias has reached maxFailures and should be
// skipped by the dispatcher this round.
func (t *Tracker) ShouldSkip(alias string, maxFailures int) bool {
	return t.Failures(alias) >= maxFailures
}
