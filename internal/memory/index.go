package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidewaterlabs/moobot/internal/config"
	"github.com/tidewaterlabs/moobot/internal/state"
)

// Embedder is the slice of the model client the index needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index ties the store, the chunker and the embedder together.
type Index struct {
	store    *Store
	embedder Embedder
	cfg      config.MemoryConfig
	paths    *state.Paths
	loc      *time.Location
	chunker  chunkerConfig
	dirty    chan struct{}
}

// NewIndex opens the index at the configured path (default under the state
// directory) and wires the embedder.
func NewIndex(cfg config.MemoryConfig, paths *state.Paths, emb Embedder, loc *time.Location) (*Index, error) {
	dbPath := cfg.IndexPath
	if dbPath == "" {
		dbPath = paths.MemoryDB
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	store, err := OpenStore(dbPath)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	return &Index{
		store:    store,
		embedder: emb,
		cfg:      cfg,
		paths:    paths,
		loc:      loc,
		chunker:  clampChunker(cfg.Chunking.Tokens, cfg.Chunking.Overlap),
		dirty:    make(chan struct{}, 1),
	}, nil
}

// Close releases the underlying store.
func (ix *Index) Close() error { return ix.store.Close() }

// workspaceDir resolves the workspace the index covers.
func (ix *Index) workspaceDir() string {
	if ix.cfg.WorkspaceDir != "" {
		return state.ExpandHome(ix.cfg.WorkspaceDir)
	}
	return ix.paths.Workspace
}

// SearchFilters narrows a search by score and source date.
type SearchFilters struct {
	K         int
	MinScore  float64
	DateFrom  string // "YYYY-MM-DD"
	DateTo    string
	DateRange string // "yesterday", "last_week", "last_7_days", "last_month"
}

// SearchResult is one hit returned to the caller.
type SearchResult struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}

// Search embeds the query and ranks stored chunks by cosine similarity.
// Chunks whose source file no longer exists are dropped from the results and
// scheduled for removal on the next sync.
func (ix *Index) Search(ctx context.Context, query string, f SearchFilters) ([]SearchResult, error) {
	k := f.K
	if k <= 0 {
		k = ix.cfg.Search.K
	}
	if k <= 0 {
		k = 6
	}
	minScore := f.MinScore
	if minScore <= 0 {
		minScore = ix.cfg.Search.MinScore
	}

	dateFrom, dateTo, err := ix.resolveDateWindow(f)
	if err != nil {
		return nil, err
	}

	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors, want 1", len(vecs))
	}
	qv := vecs[0]

	chunks, err := ix.store.allChunks()
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool)
	var results []SearchResult
	for _, c := range chunks {
		if dateFrom != "" && (c.SourceDate == "" || c.SourceDate < dateFrom) {
			continue
		}
		if dateTo != "" && (c.SourceDate == "" || c.SourceDate > dateTo) {
			continue
		}
		score := cosine(qv, c.embedding)
		if score < minScore {
			continue
		}
		alive, seen := existing[c.Path]
		if !seen {
			alive = ix.sourceExists(c.Path)
			existing[c.Path] = alive
		}
		if !alive {
			ix.MarkDirty()
			continue
		}
		results = append(results, SearchResult{
			Path:      c.Path,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Snippet:   snippet(c.Text),
			Score:     score,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// resolveDateWindow turns filters into an inclusive [from, to] day window in
// the user timezone.
func (ix *Index) resolveDateWindow(f SearchFilters) (string, string, error) {
	if f.DateRange == "" {
		return f.DateFrom, f.DateTo, nil
	}
	today := time.Now().In(ix.loc)
	day := func(t time.Time) string { return t.Format("2006-01-02") }
	switch f.DateRange {
	case "yesterday":
		y := today.AddDate(0, 0, -1)
		return day(y), day(y), nil
	case "last_week", "last_7_days":
		return day(today.AddDate(0, 0, -7)), day(today), nil
	case "last_month":
		return day(today.AddDate(0, -1, 0)), day(today), nil
	default:
		return "", "", fmt.Errorf("unknown date range %q", f.DateRange)
	}
}

// sourceExists maps an index path back to disk. Filesystem-listing chunks
// are always considered live; their staleness is handled by re-listing.
func (ix *Index) sourceExists(path string) bool {
	if strings.HasPrefix(path, "filesystem/") || path == "filesystem" {
		return true
	}
	_, err := os.Stat(filepath.Join(ix.workspaceDir(), path))
	return err == nil
}

// ReadFile returns a line window of an indexed source. Only notes and chat
// logs are readable; filesystem-listing paths are synthetic.
func (ix *Index) ReadFile(path string, from, lines int) (string, error) {
	if strings.HasPrefix(path, "filesystem") {
		return "", fmt.Errorf("path %q is a filesystem listing, not a readable file", path)
	}
	clean := filepath.Clean(path)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	if !readablePath(clean) {
		return "", fmt.Errorf("path %q is not a note or chat log", path)
	}

	f, err := os.Open(filepath.Join(ix.workspaceDir(), clean))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if from < 1 {
		from = 1
	}
	if lines <= 0 {
		lines = 200
	}
	var b strings.Builder
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if n < from {
			continue
		}
		if n >= from+lines {
			break
		}
		b.WriteString(sc.Text())
		b.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return b.String(), nil
}

func readablePath(p string) bool {
	if p == "MEMORY.md" {
		return true
	}
	return strings.HasPrefix(p, "memory/") || strings.HasPrefix(p, "chat-log/")
}

// MarkDirty requests an early sync pass. Non-blocking.
func (ix *Index) MarkDirty() {
	select {
	case ix.dirty <- struct{}{}:
	default:
	}
}

func snippet(text string) string {
	const max = 600
	if len(text) <= max {
		return text
	}
	return text[:max] + "…"
}
