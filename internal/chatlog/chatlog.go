// Package chatlog persists conversations as append-only JSONL files under
// the state directory. Private chats get one rolling file per chat plus a
// per-day digest; group chats get one file per group per day. The files are
// both the durable history and the raw material the memory index chunks.
package chatlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidewaterlabs/moobot/internal/state"
)

// Entry is one logged message.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	JID       string    `json:"jid"`
	Sender    string    `json:"sender,omitempty"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
}

// Logger appends chat entries to the on-disk logs.
type Logger struct {
	mu    sync.Mutex
	paths *state.Paths
	loc   *time.Location
}

// New creates a Logger writing under the given state paths. Day boundaries
// for file naming follow loc.
func New(paths *state.Paths, loc *time.Location) *Logger {
	if loc == nil {
		loc = time.Local
	}
	return &Logger{paths: paths, loc: loc}
}

// AppendPrivate logs one message of a direct chat. It writes the per-chat
// file and the per-day digest; a failure on either is returned but the other
// write still happens.
func (l *Logger) AppendPrivate(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal chat entry: %w", err)
	}

	perChat := filepath.Join(l.paths.ChatLogDir(), "private", state.SafeSegment(e.JID)+".jsonl")
	perDay := filepath.Join(l.paths.ChatLogDir(), e.Timestamp.In(l.loc).Format("2006-01-02")+".jsonl")

	err1 := appendLine(perChat, line)
	err2 := appendLine(perDay, line)
	if err1 != nil {
		return err1
	}
	return err2
}

// AppendGroup logs one message of a group chat.
func (l *Logger) AppendGroup(groupID string, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal chat entry: %w", err)
	}
	dir := filepath.Join(l.paths.GroupChatLogDir(), state.SafeSegment(groupID))
	path := filepath.Join(dir, e.Timestamp.In(l.loc).Format("2006-01-02")+".jsonl")
	return appendLine(path, line)
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open chat log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append chat log: %w", err)
	}
	return nil
}

// LastPrivate returns up to n most recent entries of a direct chat, oldest
// first. Missing file means empty history, not an error.
func (l *Logger) LastPrivate(jid string, n int) ([]Entry, error) {
	path := filepath.Join(l.paths.ChatLogDir(), "private", state.SafeSegment(jid)+".jsonl")
	return tail(path, n)
}

// LastGroup returns up to n most recent entries of a group, oldest first,
// merged across that group's day files.
func (l *Logger) LastGroup(groupID string, n int) ([]Entry, error) {
	dir := filepath.Join(l.paths.GroupChatLogDir(), state.SafeSegment(groupID))
	days, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group log dir: %w", err)
	}

	// day files sort lexicographically by date; walk newest first until we
	// have enough entries
	var out []Entry
	for i := len(days) - 1; i >= 0 && len(out) < n; i-- {
		name := days[i].Name()
		if filepath.Ext(name) != ".jsonl" {
			continue
		}
		entries, err := tail(filepath.Join(dir, name), n-len(out))
		if err != nil {
			slog.Warn("skipping unreadable group log", "file", name, "error", err)
			continue
		}
		out = append(entries, out...)
	}
	return out, nil
}

// tail reads the last n JSONL entries of a file, oldest first. Malformed
// lines are skipped so one bad write never hides the rest of the history.
func tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open chat log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan chat log: %w", err)
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
