// Package tide wakes the assistant when a conversation has been quiet, and
// lets it send at most one short unprompted nudge. Nudges never fire inside
// the configured quiet window, and the nudge itself counts as activity so
// the tide cannot double-text.
package tide

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidewaterlabs/moobot/internal/config"
)

// NudgeFunc runs an agent turn with the tide prompt and returns the text to
// send, or empty when the model declines.
type NudgeFunc func(ctx context.Context, jid string) (string, error)

// SendFunc delivers a nudge over the chat's transport.
type SendFunc func(jid, text string) error

// Tide is the idle-wake scheduler for one target chat.
type Tide struct {
	cfg   config.TideConfig
	loc   *time.Location
	nudge NudgeFunc
	send  SendFunc

	mu           sync.Mutex
	lastActivity time.Time
	lastSent     time.Time

	now func() time.Time // test hook
}

func New(cfg config.TideConfig, loc *time.Location, nudge NudgeFunc, send SendFunc) *Tide {
	if loc == nil {
		loc = time.Local
	}
	return &Tide{cfg: cfg, loc: loc, nudge: nudge, send: send, now: time.Now}
}

// Touch records chat activity, inbound or outbound. A touched tide starts
// its silence clock over.
func (t *Tide) Touch() {
	t.mu.Lock()
	t.lastActivity = t.now()
	t.mu.Unlock()
}

// Run wakes on the cooldown interval until ctx is cancelled. Disabled or
// untargeted tides return immediately.
func (t *Tide) Run(ctx context.Context) {
	if !t.cfg.Enabled {
		return
	}
	if t.cfg.JID == "" {
		slog.Warn("tide enabled but tide.jid is unset; staying off")
		return
	}
	interval := t.cooldown()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("tide running", "jid", t.cfg.JID, "cooldown", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.wake(ctx)
		}
	}
}

func (t *Tide) cooldown() time.Duration {
	min := t.cfg.SilenceCooldownMinutes
	if min <= 0 {
		min = 30
	}
	return time.Duration(min) * time.Minute
}

// wake sends one nudge if the chat is quiet, the quiet window is not in
// effect, and the previous nudge is old enough.
func (t *Tide) wake(ctx context.Context) {
	now := t.now()
	if !t.ShouldNudge(now) {
		return
	}
	text, err := t.nudge(ctx, t.cfg.JID)
	if err != nil {
		slog.Warn("tide: nudge turn failed", "error", err)
		return
	}
	if text == "" {
		return
	}
	if err := t.send(t.cfg.JID, text); err != nil {
		slog.Warn("tide: nudge send failed", "error", err)
		return
	}
	t.mu.Lock()
	t.lastSent = now
	t.lastActivity = now
	t.mu.Unlock()
	slog.Info("tide: nudged", "jid", t.cfg.JID)
}

// ShouldNudge applies the trigger policy at a given instant.
func (t *Tide) ShouldNudge(now time.Time) bool {
	if t.InQuietWindow(now) {
		return false
	}
	cooldown := t.cooldown()
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.lastActivity.IsZero() && now.Sub(t.lastActivity) < cooldown {
		return false
	}
	if !t.lastSent.IsZero() && now.Sub(t.lastSent) < cooldown {
		return false
	}
	return true
}

// InQuietWindow reports whether now (in the user's timezone) falls inside
// [inactiveStart, inactiveEnd]. A window whose end precedes its start wraps
// midnight.
func (t *Tide) InQuietWindow(now time.Time) bool {
	start, okS := parseClock(t.cfg.InactiveStart)
	end, okE := parseClock(t.cfg.InactiveEnd)
	if !okS || !okE {
		return false
	}
	local := now.In(t.loc)
	minute := local.Hour()*60 + local.Minute()
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	var h, m int
	if n, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil || n != 2 {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
