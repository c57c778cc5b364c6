// Package cron persists and executes time-triggered jobs. One-shot jobs are
// delivered at most once across any sequence of crashes and restarts;
// recurring jobs fire on a cron expression and a missed tick while the
// process is down stays missed.
package cron

import "time"

// Schedule kinds.
const (
	KindOneShot   = "one_shot"
	KindRecurring = "recurring"
)

// Schedule is either a single future instant or a cron expression.
type Schedule struct {
	Kind string `json:"kind"`
	At   int64  `json:"at,omitempty"`   // unix ms, one-shot only
	Expr string `json:"expr,omitempty"` // cron expression, recurring only
	TZ   string `json:"tz,omitempty"`   // IANA zone for Expr, local when empty
}

// Job is one scheduled reminder.
type Job struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Schedule Schedule `json:"schedule"`
	Message  string   `json:"message"`
	JID      string   `json:"jid"`
	// SentAtMs marks a one-shot as claimed for delivery. Set before the
	// first send attempt; a job carrying it is never executed again.
	SentAtMs *int64   `json:"sentAtMs,omitempty"`
}

// Due reports whether a one-shot is at or past its instant.
func (j Job) Due(now time.Time) bool {
	return j.Schedule.Kind == KindOneShot && j.Schedule.At <= now.UnixMilli()
}

// Claimed reports whether a one-shot has already been picked up for
// delivery.
func (j Job) Claimed() bool {
	return j.Schedule.Kind == KindOneShot && j.SentAtMs != nil
}

// Location resolves the job's timezone, local on error or when unset.
func (j Job) Location() *time.Location {
	if j.Schedule.TZ == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(j.Schedule.TZ)
	if err != nil {
		return time.Local
	}
	return loc
}
