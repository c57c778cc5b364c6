package chatlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidewaterlabs/moobot/internal/state"
)

func testPaths(t *testing.T) *state.Paths {
	t.Helper()
	t.Setenv(state.EnvStateDir, t.TempDir())
	p, err := state.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := p.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	return p
}

func TestPrivateRoundTrip(t *testing.T) {
	l := New(testPaths(t), time.UTC)

	jid := "12345@s.whatsapp.net"
	msgs := []Entry{
		{JID: jid, Role: "user", Content: "remind me to stretch"},
		{JID: jid, Role: "assistant", Content: "Scheduled."},
		{JID: jid, Role: "user", Content: "thanks"},
	}
	for _, e := range msgs {
		if err := l.AppendPrivate(e); err != nil {
			t.Fatalf("AppendPrivate: %v", err)
		}
	}

	got, err := l.LastPrivate(jid, 2)
	if err != nil {
		t.Fatalf("LastPrivate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Content != "Scheduled." || got[1].Content != "thanks" {
		t.Errorf("wrong tail: %q, %q", got[0].Content, got[1].Content)
	}
}

func TestPrivateWritesDayDigest(t *testing.T) {
	p := testPaths(t)
	l := New(p, time.UTC)

	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	if err := l.AppendPrivate(Entry{Timestamp: ts, JID: "111", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AppendPrivate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(p.ChatLogDir(), "2026-03-14.jsonl")); err != nil {
		t.Errorf("day digest not written: %v", err)
	}
}

func TestGroupIsolation(t *testing.T) {
	l := New(testPaths(t), time.UTC)

	if err := l.AppendGroup("g1@g.us", Entry{JID: "g1@g.us", Sender: "alice", Role: "user", Content: "in g1"}); err != nil {
		t.Fatalf("AppendGroup: %v", err)
	}
	if err := l.AppendGroup("g2@g.us", Entry{JID: "g2@g.us", Sender: "bob", Role: "user", Content: "in g2"}); err != nil {
		t.Fatalf("AppendGroup: %v", err)
	}

	got, err := l.LastGroup("g1@g.us", 10)
	if err != nil {
		t.Fatalf("LastGroup: %v", err)
	}
	if len(got) != 1 || got[0].Content != "in g1" {
		t.Errorf("group history leaked or missing: %+v", got)
	}
}

func TestTailSkipsMalformedLines(t *testing.T) {
	p := testPaths(t)
	l := New(p, time.UTC)
	jid := "999"
	if err := l.AppendPrivate(Entry{JID: jid, Role: "user", Content: "ok"}); err != nil {
		t.Fatalf("AppendPrivate: %v", err)
	}
	path := filepath.Join(p.ChatLogDir(), "private", "999.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()
	if err := l.AppendPrivate(Entry{JID: jid, Role: "assistant", Content: "after"}); err != nil {
		t.Fatalf("AppendPrivate: %v", err)
	}

	got, err := l.LastPrivate(jid, 10)
	if err != nil {
		t.Fatalf("LastPrivate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2 (malformed line skipped)", len(got))
	}
}

func TestLastPrivateMissingFile(t *testing.T) {
	l := New(testPaths(t), time.UTC)
	got, err := l.LastPrivate("never-seen", 5)
	if err != nil {
		t.Fatalf("LastPrivate: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty history, got %d", len(got))
	}
}
