// Package guard enforces the minimum inter-message delay and the
// hourly/daily message windows consulted before a send is accepted.
// Guard state is in-memory only: a process restart resets the cooldown,
// and the windows are reseeded from the restored session's message
// timestamps.
package guard

import (
	"sync"
	"time"

	"github.com/deskflow/deskflow-engine/internal/config"
)

// State is a snapshot of the spam guard for the UI
type State struct {
	CanSendMessage    bool          `json:"can_send_message"`
	LastMessageTime   time.Time     `json:"last_message_time"`
	RemainingCooldown time.Duration `json:"remaining_cooldown"`
	IsInCooldown      bool          `json:"is_in_cooldown"`
}

// Guard tracks send timing for the single live conversation
type Guard struct {
	mu   sync.Mutex
	cfg  config.LifecycleConfig
	now  func() time.Time
	last time.Time

	hourly *slidingWindow
	daily  *slidingWindow
}

// New creates a guard. now is injected so cooldown math is testable
// without real timers.
func New(cfg config.LifecycleConfig, now func() time.Time) *Guard {
	return &Guard{
		cfg:    cfg,
		now:    now,
		hourly: newSlidingWindow(cfg.MaxMessagesPerHour, time.Hour),
		daily:  newSlidingWindow(cfg.MaxMessagesPerDay, 24*time.Hour),
	}
}

// CheckSpamAttempt reports whether a send right now must be rejected
// for arriving inside the minimum delay since the last message.
func (g *Guard) CheckSpamAttempt() bool {
	if !g.cfg.EnableSpamPrevention {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.last.IsZero() {
		return false
	}
	return g.now().Sub(g.last) < g.cfg.MinMessageDelay()
}

// RecordMessage marks a message as sent, starting the cooldown and
// consuming one slot in each quota window.
func (g *Guard) RecordMessage() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.last = now
	g.hourly.record(now)
	g.daily.record(now)
}

// Seed rebuilds the quota windows from message timestamps restored with
// a persisted session. The cooldown itself is intentionally not
// restored.
func (g *Guard) Seed(times []time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, t := range times {
		g.hourly.record(t)
		g.daily.record(t)
	}
}

// ResetCooldown clears the inter-message delay tracking
func (g *Guard) ResetCooldown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = time.Time{}
}

// RemainingCooldown returns how long until the next send is allowed.
// Decays monotonically to zero.
func (g *Guard) RemainingCooldown() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remainingLocked()
}

func (g *Guard) remainingLocked() time.Duration {
	if !g.cfg.EnableSpamPrevention || g.last.IsZero() {
		return 0
	}
	remaining := g.cfg.MinMessageDelay() - g.now().Sub(g.last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot returns the current guard state for display
func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := g.remainingLocked()
	return State{
		CanSendMessage:    remaining == 0,
		LastMessageTime:   g.last,
		RemainingCooldown: remaining,
		IsInCooldown:      remaining > 0,
	}
}

// QuotaExceeded reports whether any enabled message ceiling would be
// crossed by accepting one more message, and which one. sessionCount is
// the session's current user-message count.
func (g *Guard) QuotaExceeded(sessionCount int) (bool, string) {
	if !g.cfg.EnableMessageQuota {
		return false, ""
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.cfg.MaxMessagesPerSession > 0 && sessionCount >= g.cfg.MaxMessagesPerSession {
		return true, "session message quota reached"
	}
	if g.cfg.MaxMessagesPerHour > 0 && g.hourly.count(now) >= g.cfg.MaxMessagesPerHour {
		return true, "hourly message quota reached"
	}
	if g.cfg.MaxMessagesPerDay > 0 && g.daily.count(now) >= g.cfg.MaxMessagesPerDay {
		return true, "daily message quota reached"
	}
	return false, ""
}

// slidingWindow counts events inside a trailing duration
type slidingWindow struct {
	events []time.Time
	limit  int
	span   time.Duration
}

func newSlidingWindow(limit int, span time.Duration) *slidingWindow {
	return &slidingWindow{limit: limit, span: span}
}

func (w *slidingWindow) record(t time.Time) {
	w.events = append(w.events, t)
}

func (w *slidingWindow) count(now time.Time) int {
	cutoff := now.Add(-w.span)

	valid := w.events[:0]
	for _, t := range w.events {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	w.events = valid

	return len(w.events)
}
