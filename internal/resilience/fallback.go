package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or is
// cooling down.
var ErrAllFailed = errors.New("resilience: all providers failed")

// errCoolingDown marks an entry skipped without being called.
var errCoolingDown = errors.New("resilience: provider cooling down")

// FallbackConfig tunes the per-entry failure tracking of a [FallbackGroup].
type FallbackConfig struct {
	// MaxFailures is the number of consecutive failures before an entry is
	// put on cooldown. Default: 5.
	MaxFailures int

	// Cooldown is how long a tripped entry is skipped before it is probed
	// again. Default: 30s.
	Cooldown time.Duration
}

// withDefaults fills zero-value fields.
func (c FallbackConfig) withDefaults() FallbackConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// entry pairs a provider value with its failure accounting.
type entry[T any] struct {
	name        string
	value       T
	consecutive int
	trippedAt   time.Time
}

// FallbackGroup orders a primary and zero or more fallback instances of the
// same provider type. When the primary fails or is cooling down after
// repeated failures, the next healthy entry is tried in registration order.
// A successful call resets that entry's failure count.
//
// The engine uses one group per external capability, shared across all
// sessions: a Deepgram outage observed by one session immediately routes
// every session's transcriptions to the fallback.
//
// FallbackGroup is safe for concurrent use.
type FallbackGroup[T any] struct {
	mu      sync.Mutex
	entries []*entry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as the first entry.
func NewFallbackGroup[T any](primaryName string, primary T, cfg FallbackConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{
		entries: []*entry[T]{{name: primaryName, value: primary}},
		cfg:     cfg.withDefaults(),
	}
}

// AddFallback appends a fallback provider, tried after all earlier entries.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	fg.entries = append(fg.entries, &entry[T]{name: name, value: fallback})
}

// acquire returns the value of entry i if it is callable, or errCoolingDown.
func (fg *FallbackGroup[T]) acquire(i int) (T, string, error) {
	fg.mu.Lock()
	defer fg.mu.Unlock()

	e := fg.entries[i]
	if e.consecutive >= fg.cfg.MaxFailures {
		if time.Since(e.trippedAt) < fg.cfg.Cooldown {
			var zero T
			return zero, e.name, errCoolingDown
		}
		// Cooldown elapsed; let one probe call through.
		e.consecutive = fg.cfg.MaxFailures - 1
	}
	return e.value, e.name, nil
}

// record updates entry i's failure accounting after a call.
func (fg *FallbackGroup[T]) record(i int, err error) {
	fg.mu.Lock()
	defer fg.mu.Unlock()

	e := fg.entries[i]
	if err == nil {
		e.consecutive = 0
		return
	}
	e.consecutive++
	if e.consecutive == fg.cfg.MaxFailures {
		e.trippedAt = time.Now()
		slog.Warn("provider on cooldown after consecutive failures",
			"provider", e.name,
			"failures", e.consecutive,
			"cooldown", fg.cfg.Cooldown,
		)
	}
}

// Execute tries fn against each healthy entry in order until one succeeds,
// returning that entry's result. Cooling-down entries are skipped. Returns
// [ErrAllFailed] wrapped with the last error when every entry fails.
func Execute[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	fg.mu.Lock()
	n := len(fg.entries)
	fg.mu.Unlock()

	for i := 0; i < n; i++ {
		value, name, err := fg.acquire(i)
		if err != nil {
			slog.Debug("skipping provider (cooling down)", "provider", name)
			continue
		}

		result, err := fn(value)
		fg.record(i, err)
		if err == nil {
			return result, nil
		}
		lastErr = err
		slog.Warn("provider failed, trying next", "provider", name, "error", err)
	}

	if lastErr == nil {
		return zero, ErrAllFailed
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
