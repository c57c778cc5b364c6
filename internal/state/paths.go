// Package state resolves the per-user state directory and the well-known
// locations inside it: config, auth blobs, workspace, chat logs, the memory
// index and the cron store.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvStateDir overrides the state directory location. This is the only
// environment variable in the public contract; the test harness uses it to
// point each case at a temporary directory.
const EnvStateDir = "MOOBOT_STATE_DIR"

// Paths holds the resolved locations for everything moobot persists.
type Paths struct {
	Root      string // state directory root
	Config    string // config.json
	Auth      string // auth blobs for linked-device transports
	Workspace string // notes, MEMORY.md, chat logs, uploads
	CronStore string // cron/jobs.json
	MemoryDB  string // memory/index.db
	Uploads   string // inbound media saved by transports
}

// Resolve determines the state directory and derives all well-known paths.
// Precedence: MOOBOT_STATE_DIR env var, then ~/.moobot.
func Resolve() (*Paths, error) {
	root := os.Getenv(EnvStateDir)
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		root = filepath.Join(home, ".moobot")
	}
	root = ExpandHome(root)

	p := &Paths{
		Root:      root,
		Config:    filepath.Join(root, "config.json"),
		Auth:      filepath.Join(root, "auth"),
		Workspace: filepath.Join(root, "workspace"),
		CronStore: filepath.Join(root, "cron", "jobs.json"),
		MemoryDB:  filepath.Join(root, "memory", "index.db"),
		Uploads:   filepath.Join(root, "workspace", "uploads"),
	}
	return p, nil
}

// EnsureDirs creates the directories moobot writes into.
func (p *Paths) EnsureDirs() error {
	dirs := []string{
		p.Root,
		p.Auth,
		p.Workspace,
		filepath.Dir(p.CronStore),
		filepath.Dir(p.MemoryDB),
		p.Uploads,
		filepath.Join(p.Workspace, "chat-log"),
		filepath.Join(p.Workspace, "chat-log", "private"),
		filepath.Join(p.Workspace, "group-chat-log"),
		filepath.Join(p.Workspace, "memory"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create state dir %s: %w", d, err)
		}
	}
	return nil
}

// ChatLogDir is where direct-chat logs live.
func (p *Paths) ChatLogDir() string {
	return filepath.Join(p.Workspace, "chat-log")
}

// GroupChatLogDir is where group-chat logs live.
func (p *Paths) GroupChatLogDir() string {
	return filepath.Join(p.Workspace, "group-chat-log")
}

// MemoryDir holds the curated notes the memory index covers.
func (p *Paths) MemoryDir() string {
	return filepath.Join(p.Workspace, "memory")
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// SafeSegment makes an arbitrary chat identifier safe for use as a file or
// directory name. JIDs contain '@', ':' and '.' which are kept out of paths.
func SafeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
