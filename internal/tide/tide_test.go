package tide

import (
	"context"
	"testing"
	"time"

	"github.com/tidewaterlabs/moobot/internal/config"
)

func newTestTide(cfg config.TideConfig) *Tide {
	return New(cfg, time.UTC,
		func(context.Context, string) (string, error) { return "still there?", nil },
		func(string, string) error { return nil },
	)
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 8, 24, hour, minute, 0, 0, time.UTC)
}

func TestQuietWindow(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		now        time.Time
		want       bool
	}{
		{"inside plain window", "13:00", "15:00", at(14, 0), true},
		{"outside plain window", "13:00", "15:00", at(16, 0), false},
		{"wrapping, late night", "23:00", "08:00", at(23, 30), true},
		{"wrapping, early morning", "23:00", "08:00", at(7, 59), true},
		{"wrapping, daytime", "23:00", "08:00", at(12, 0), false},
		{"boundary start", "23:00", "08:00", at(23, 0), true},
		{"boundary end", "23:00", "08:00", at(8, 0), true},
		{"unparseable window", "late", "early", at(3, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := newTestTide(config.TideConfig{
				Enabled: true, JID: "1",
				InactiveStart: tt.start, InactiveEnd: tt.end,
			})
			if got := td.InQuietWindow(tt.now); got != tt.want {
				t.Errorf("InQuietWindow(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestNoNudgeInQuietWindow(t *testing.T) {
	td := newTestTide(config.TideConfig{
		Enabled: true, JID: "1",
		SilenceCooldownMinutes: 30,
		InactiveStart:          "23:00", InactiveEnd: "08:00",
	})
	// silent for ages, but it's 3 AM
	if td.ShouldNudge(at(3, 0)) {
		t.Error("nudge allowed inside quiet window")
	}
	if !td.ShouldNudge(at(12, 0)) {
		t.Error("nudge blocked outside quiet window with no recent activity")
	}
}

func TestRecentActivityBlocksNudge(t *testing.T) {
	td := newTestTide(config.TideConfig{
		Enabled: true, JID: "1", SilenceCooldownMinutes: 30,
	})
	base := at(12, 0)
	td.now = func() time.Time { return base }
	td.Touch()

	if td.ShouldNudge(base.Add(10 * time.Minute)) {
		t.Error("nudge allowed 10 minutes after activity, cooldown is 30")
	}
	if !td.ShouldNudge(base.Add(31 * time.Minute)) {
		t.Error("nudge blocked after cooldown elapsed")
	}
}

func TestOwnNudgeCountsAsActivity(t *testing.T) {
	td := newTestTide(config.TideConfig{
		Enabled: true, JID: "1", SilenceCooldownMinutes: 30,
	})
	base := at(12, 0)
	td.now = func() time.Time { return base }
	td.wake(context.Background())

	if td.ShouldNudge(base.Add(5 * time.Minute)) {
		t.Error("tide would double-text right after its own nudge")
	}
	if !td.ShouldNudge(base.Add(31 * time.Minute)) {
		t.Error("nudge blocked long after the previous one")
	}
}

func TestNoReplySendsNothing(t *testing.T) {
	var sent []string
	td := New(config.TideConfig{Enabled: true, JID: "1", SilenceCooldownMinutes: 30}, time.UTC,
		func(context.Context, string) (string, error) { return "", nil },
		func(_ string, text string) error { sent = append(sent, text); return nil },
	)
	td.now = func() time.Time { return at(12, 0) }
	td.wake(context.Background())
	if len(sent) != 0 {
		t.Errorf("declined nudge still sent: %v", sent)
	}
	// a declined nudge must not burn the cooldown
	if !td.ShouldNudge(at(12, 1)) {
		t.Error("declined nudge recorded as sent")
	}
}
