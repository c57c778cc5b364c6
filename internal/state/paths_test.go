package state

import (
	"path/filepath"
	"testing"
)

func TestResolveHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvStateDir, dir)

	p, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Root != dir {
		t.Errorf("Root = %q, want %q", p.Root, dir)
	}
	if p.CronStore != filepath.Join(dir, "cron", "jobs.json") {
		t.Errorf("CronStore = %q", p.CronStore)
	}
	if p.MemoryDB != filepath.Join(dir, "memory", "index.db") {
		t.Errorf("MemoryDB = %q", p.MemoryDB)
	}
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvStateDir, dir)

	p, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := p.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, sub := range []string{"workspace/chat-log/private", "workspace/group-chat-log", "workspace/uploads", "auth"} {
		if _, err := filepath.Glob(filepath.Join(dir, sub)); err != nil {
			t.Errorf("missing %s: %v", sub, err)
		}
	}
}

func TestSafeSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12345@s.whatsapp.net", "12345_s_whatsapp_net"},
		{"-100987654321", "-100987654321"},
		{"a b:c", "a_b_c"},
		{"plain_ok-1", "plain_ok-1"},
	}
	for _, tt := range tests {
		if got := SafeSegment(tt.in); got != tt.want {
			t.Errorf("SafeSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
