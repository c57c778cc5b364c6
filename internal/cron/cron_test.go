package cron

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type capture struct {
	mu    sync.Mutex
	sends []string
}

func (c *capture) sender(jid, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, text)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func echoRunner(_ context.Context, _ string, message string) (string, error) {
	return message, nil
}

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "cron", "jobs.json")
}

func TestStoreTolerantLoad(t *testing.T) {
	tests := []struct {
		name    string
		content *string // nil = no file
	}{
		{"missing file", nil},
		{"empty file", strPtr("")},
		{"corrupt json", strPtr(`{"version":1,"jobs":[{bro`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := storePath(t)
			if tt.content != nil {
				os.MkdirAll(filepath.Dir(path), 0o755)
				if err := os.WriteFile(path, []byte(*tt.content), 0o644); err != nil {
					t.Fatalf("write: %v", err)
				}
			}
			s, err := OpenStore(path)
			if err != nil {
				t.Fatalf("OpenStore: %v", err)
			}
			if got := len(s.Jobs()); got != 0 {
				t.Errorf("jobs = %d, want 0", got)
			}
		})
	}
}

func strPtr(s string) *string { return &s }

func TestStoreRoundTrip(t *testing.T) {
	path := storePath(t)
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	job := Job{
		ID: uuid.NewString(), Name: "stretch", Enabled: true,
		Schedule: Schedule{Kind: KindRecurring, Expr: "*/5 * * * *"},
		Message:  "time to stretch", JID: "12345",
	}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	jobs := reopened.Jobs()
	if len(jobs) != 1 || jobs[0].ID != job.ID || jobs[0].Schedule.Expr != "*/5 * * * *" {
		t.Errorf("round trip lost data: %+v", jobs)
	}
}

func TestOneShotAtMostOnceAcrossRestart(t *testing.T) {
	path := storePath(t)
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	job := Job{
		ID: uuid.NewString(), Name: "check lock", Enabled: true,
		Schedule: Schedule{Kind: KindOneShot, At: time.Now().Add(-time.Minute).UnixMilli()},
		Message:  "check the lock", JID: "12345",
	}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	cap1 := &capture{}
	e1 := NewEngine(s)
	e1.SetRunner(echoRunner)
	e1.SetSender(cap1.sender)
	if err := e1.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e1.Wait()
	if cap1.count() != 1 {
		t.Fatalf("first run sent %d messages, want 1", cap1.count())
	}

	// simulate a crash right after the claim was persisted but before the
	// removal: put the job back with its delivery mark
	claimed := time.Now().UnixMilli()
	job.SentAtMs = &claimed
	s2, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := s2.Add(job); err != nil {
		t.Fatalf("re-add claimed: %v", err)
	}

	cap2 := &capture{}
	e2 := NewEngine(s2)
	e2.SetRunner(echoRunner)
	e2.SetSender(cap2.sender)
	if err := e2.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	e2.Wait()
	if cap2.count() != 0 {
		t.Errorf("claimed one-shot re-sent %d times after restart, want 0", cap2.count())
	}
}

func TestOverdueOneShotRunsAndIsRemoved(t *testing.T) {
	s, err := OpenStore(storePath(t))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	job := Job{
		ID: uuid.NewString(), Name: "t", Enabled: true,
		Schedule: Schedule{Kind: KindOneShot, At: time.Now().Add(-time.Second).UnixMilli()},
		Message:  "execute test OK", JID: "1",
	}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	cap := &capture{}
	e := NewEngine(s)
	e.SetRunner(echoRunner)
	e.SetSender(cap.sender)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Wait()

	if cap.count() != 1 || cap.sends[0] != "execute test OK" {
		t.Fatalf("sends = %v, want one 'execute test OK'", cap.sends)
	}
	if got := len(s.Jobs()); got != 0 {
		t.Errorf("store still holds %d jobs after delivery, want 0", got)
	}
}

func TestFutureOneShotFiresOnce(t *testing.T) {
	s, err := OpenStore(storePath(t))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	cap := &capture{}
	e := NewEngine(s)
	e.SetRunner(echoRunner)
	e.SetSender(cap.sender)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := Job{
		ID: uuid.NewString(), Name: "soon",
		Schedule: Schedule{Kind: KindOneShot, At: time.Now().Add(50 * time.Millisecond).UnixMilli()},
		Message:  "ping", JID: "1",
	}
	if err := e.ScheduleOneShot(job); err != nil {
		t.Fatalf("ScheduleOneShot: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for cap.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("one-shot never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
	// give removal a moment to persist
	time.Sleep(50 * time.Millisecond)
	if cap.count() != 1 {
		t.Errorf("fired %d times, want 1", cap.count())
	}
	if got := len(s.Jobs()); got != 0 {
		t.Errorf("store holds %d jobs, want 0", got)
	}
}

func TestFailedOneShotStaysClaimed(t *testing.T) {
	// shrink the backoff so the test completes quickly
	saved := retryDelays
	retryDelays = []time.Duration{time.Millisecond, time.Millisecond}
	defer func() { retryDelays = saved }()

	s, err := OpenStore(storePath(t))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	job := Job{
		ID: uuid.NewString(), Name: "doomed", Enabled: true,
		Schedule: Schedule{Kind: KindOneShot, At: time.Now().Add(-time.Second).UnixMilli()},
		Message:  "m", JID: "1",
	}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	cap := &capture{}
	e := NewEngine(s)
	e.SetRunner(func(context.Context, string, string) (string, error) {
		return "", errors.New("model down")
	})
	e.SetSender(cap.sender)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Wait()

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("store holds %d jobs, want the claimed one", len(jobs))
	}
	if jobs[0].SentAtMs == nil {
		t.Error("failed one-shot not claimed; a restart would re-send it")
	}
	// only the apology reached the transport
	if cap.count() != 1 {
		t.Fatalf("sends = %v, want exactly the apology", cap.sends)
	}
	if want := "reminder 'doomed' didn't go through"; !strings.Contains(cap.sends[0], want) {
		t.Errorf("apology = %q, want it to mention %q", cap.sends[0], want)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"every 5 minutes", "*/5 * * * *", false},
		{"every morning at 8am", "0 8 * * *", false},
		{"every morning", "0 8 * * *", false},
		{"every day at 14:30", "30 14 * * *", false},
		{"every monday at 9am", "0 9 * * 1", false},
		{"every hour", "0 * * * *", false},
		{"every 2 hours", "0 */2 * * *", false},
		{"*/10 * * * *", "*/10 * * * *", false},
		{"every 0 minutes", "", true},
		{"whenever", "", true},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Normalize(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Normalize(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
