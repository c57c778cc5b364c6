package memory

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tidewaterlabs/moobot/internal/state"
)

var dayFileRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\.jsonl$`)

// SyncStats summarizes one sync pass.
type SyncStats struct {
	Upserted int
	Tailed   int
	Deleted  int
}

// Sync walks the index sources, re-chunks whatever changed since the last
// pass and removes chunks whose source disappeared. It is idempotent: with
// no source changes the second pass upserts nothing.
func (ix *Index) Sync(ctx context.Context) (SyncStats, error) {
	var stats SyncStats
	ws := ix.workspaceDir()

	known := make(map[string]bool)

	// notes: MEMORY.md plus memory/*.md, fully re-chunked on change
	notes := []string{"MEMORY.md"}
	if entries, err := os.ReadDir(filepath.Join(ws, "memory")); err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
				notes = append(notes, filepath.Join("memory", e.Name()))
			}
		}
	}
	for _, rel := range notes {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		changed, err := ix.syncNote(ctx, ws, rel)
		if err != nil {
			slog.Warn("memory sync: note failed", "path", rel, "error", err)
			continue
		}
		known[rel] = true
		if changed {
			stats.Upserted++
		}
	}

	// chat logs: append-only, so only new lines are embedded
	logDirs := []string{"chat-log", filepath.Join("chat-log", "private")}
	for _, dir := range logDirs {
		entries, err := os.ReadDir(filepath.Join(ws, dir))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
				continue
			}
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			rel := filepath.Join(dir, e.Name())
			tailed, err := ix.syncLogTail(ctx, ws, rel)
			if err != nil {
				slog.Warn("memory sync: log tail failed", "path", rel, "error", err)
				continue
			}
			known[rel] = true
			if tailed {
				stats.Tailed++
			}
		}
	}

	// filesystem listings, resumable across crashes
	for _, root := range ix.cfg.Sync.FilesystemRoots {
		if err := ix.syncListing(ctx, root); err != nil {
			slog.Warn("memory sync: listing failed", "root", root, "error", err)
		}
	}

	// stale removal: indexed paths whose source is gone
	indexed, err := ix.store.IndexedPaths()
	if err != nil {
		return stats, err
	}
	for _, p := range indexed {
		if strings.HasPrefix(p, "filesystem") {
			continue
		}
		if known[p] {
			continue
		}
		if _, err := os.Stat(filepath.Join(ws, p)); os.IsNotExist(err) {
			if err := ix.store.DeletePath(p); err != nil {
				slog.Warn("memory sync: stale delete failed", "path", p, "error", err)
				continue
			}
			stats.Deleted++
		}
	}
	return stats, nil
}

// syncNote re-chunks a note when its fingerprint changed.
func (ix *Index) syncNote(ctx context.Context, ws, rel string) (bool, error) {
	full := filepath.Join(ws, rel)
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	fp := Fingerprint{MTime: info.ModTime().Unix(), Size: info.Size()}
	old, ok, err := ix.store.Fingerprint(rel)
	if err != nil {
		return false, err
	}
	if ok && old.MTime == fp.MTime && old.Size == fp.Size {
		return false, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return false, err
	}
	chunks := chunkLines(string(data), 1, ix.chunker)
	date := info.ModTime().In(ix.loc).Format("2006-01-02")
	for i := range chunks {
		chunks[i].Path = rel
		chunks[i].SourceDate = date
	}
	vectors, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		return false, err
	}
	if err := ix.store.ReplaceChunks(rel, chunks, vectors); err != nil {
		return false, err
	}
	return true, ix.store.SetFingerprint(rel, fp)
}

// syncLogTail embeds only the lines appended since the last pass. A
// truncated or rewritten log falls back to a full re-chunk.
func (ix *Index) syncLogTail(ctx context.Context, ws, rel string) (bool, error) {
	full := filepath.Join(ws, rel)
	info, err := os.Stat(full)
	if err != nil {
		return false, err
	}
	old, ok, err := ix.store.Fingerprint(rel)
	if err != nil {
		return false, err
	}
	if ok && old.MTime == info.ModTime().Unix() && old.Size == info.Size() {
		return false, nil
	}
	startLine := 0
	if ok && info.Size() >= old.Size {
		startLine = old.LastLine
	} else if ok {
		// shrunk file, start over
		if err := ix.store.DeletePath(rel); err != nil {
			return false, err
		}
	}

	f, err := os.Open(full)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var b strings.Builder
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if line <= startLine {
			continue
		}
		b.WriteString(sc.Text())
		b.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return false, err
	}
	fp := Fingerprint{MTime: info.ModTime().Unix(), Size: info.Size(), LastLine: line}
	if b.Len() == 0 {
		return false, ix.store.SetFingerprint(rel, fp)
	}

	chunks := chunkLines(b.String(), startLine+1, ix.chunker)
	date := logSourceDate(rel, info.ModTime().In(ix.loc))
	base, err := ix.store.MaxChunkIndex(rel)
	if err != nil {
		return false, err
	}
	for i := range chunks {
		chunks[i].Path = rel
		chunks[i].Index = base + 1 + i
		chunks[i].SourceDate = date
	}
	vectors, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		return false, err
	}
	if err := ix.store.AppendChunks(rel, chunks, vectors); err != nil {
		return false, err
	}
	return true, ix.store.SetFingerprint(rel, fp)
}

// logSourceDate extracts the day from a per-day file name, falling back to
// the file mtime for per-chat logs.
func logSourceDate(rel string, mtime time.Time) string {
	if m := dayFileRe.FindStringSubmatch(rel); m != nil {
		return m[1]
	}
	return mtime.Format("2006-01-02")
}

// syncListing indexes one chunk per directory under root, checkpointing
// progress so a crash mid-tree resumes instead of restarting.
func (ix *Index) syncListing(ctx context.Context, root string) error {
	root = state.ExpandHome(root)
	resumeAfter, err := ix.store.ListingProgress(root)
	if err != nil {
		return err
	}

	var dirs []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if resumeAfter != "" && dir <= resumeAfter {
			continue
		}
		text, err := listingText(dir)
		if err != nil || text == "" {
			continue
		}
		rel, _ := filepath.Rel(root, dir)
		key := "filesystem/" + filepath.ToSlash(filepath.Join(filepath.Base(root), rel))
		chunks := chunkLines(text, 1, ix.chunker)
		for i := range chunks {
			chunks[i].Path = key
		}
		vectors, err := ix.embedChunks(ctx, chunks)
		if err != nil {
			return err
		}
		if err := ix.store.ReplaceChunks(key, chunks, vectors); err != nil {
			return err
		}
		if err := ix.store.SetListingProgress(root, dir); err != nil {
			return err
		}
	}
	return ix.store.SetListingProgress(root, "")
}

// listingText renders one directory as a name-per-line listing.
func listingText(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(dir)
	b.WriteByte('\n')
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		b.WriteString("  ")
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (ix *Index) embedChunks(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embed chunks: got %d vectors, want %d", len(vectors), len(chunks))
	}
	return vectors, nil
}

// RunSyncLoop syncs on an interval and whenever the workspace watcher or a
// search marks the index dirty. Blocks until ctx is cancelled.
func (ix *Index) RunSyncLoop(ctx context.Context) {
	interval := time.Duration(ix.cfg.Sync.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("memory: workspace watcher unavailable", "error", err)
	} else {
		defer watcher.Close()
		ws := ix.workspaceDir()
		for _, dir := range []string{ws, filepath.Join(ws, "memory"), filepath.Join(ws, "chat-log"), filepath.Join(ws, "chat-log", "private")} {
			if err := watcher.Add(dir); err != nil {
				slog.Debug("memory: watch failed", "dir", dir, "error", err)
			}
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-watcher.Events:
					if !ok {
						return
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
						ix.MarkDirty()
					}
				case _, ok := <-watcher.Errors:
					if !ok {
						return
					}
				}
			}
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// debounce dirty bursts so a flurry of writes produces one pass
	const debounce = 2 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-ix.dirty:
			timer := time.NewTimer(debounce)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		stats, err := ix.Sync(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("memory sync failed", "error", err)
			continue
		}
		if stats.Upserted+stats.Tailed+stats.Deleted > 0 {
			slog.Info("memory sync", "upserted", stats.Upserted, "tailed", stats.Tailed, "deleted", stats.Deleted)
		}
	}
}
