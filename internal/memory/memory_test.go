package memory

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidewaterlabs/moobot/internal/config"
	"github.com/tidewaterlabs/moobot/internal/state"
)

// bagEmbedder hashes words into a small fixed vector. Deterministic and
// overlap-sensitive, which is all these tests need.
type bagEmbedder struct {
	calls int
}

func (b *bagEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	b.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 32)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			h.Write([]byte(strings.Trim(w, ".,!?")))
			v[h.Sum32()%32]++
		}
		out[i] = v
	}
	return out, nil
}

func testIndex(t *testing.T) (*Index, *bagEmbedder, string) {
	t.Helper()
	t.Setenv(state.EnvStateDir, t.TempDir())
	paths, err := state.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := paths.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	emb := &bagEmbedder{}
	ix, err := NewIndex(config.MemoryConfig{
		Enabled:  true,
		Chunking: config.ChunkingConfig{Tokens: 512, Overlap: 32},
		Search:   config.SearchConfig{K: 6, MinScore: 0.1},
	}, paths, emb, time.UTC)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix, emb, paths.Workspace
}

func TestSyncIdempotent(t *testing.T) {
	ix, _, ws := testIndex(t)
	if err := os.WriteFile(filepath.Join(ws, "MEMORY.md"), []byte("User prefers dark mode.\n"), 0o644); err != nil {
		t.Fatalf("write note: %v", err)
	}

	stats, err := ix.Sync(context.Background())
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if stats.Upserted != 1 {
		t.Fatalf("first sync upserted %d, want 1", stats.Upserted)
	}

	stats, err = ix.Sync(context.Background())
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if stats.Upserted != 0 || stats.Tailed != 0 {
		t.Errorf("second sync upserted %d tailed %d, want 0/0", stats.Upserted, stats.Tailed)
	}
}

func TestSearchFindsNote(t *testing.T) {
	ix, _, ws := testIndex(t)
	note := "User prefers dark mode.\nUser drinks tea in the morning.\n"
	if err := os.WriteFile(filepath.Join(ws, "MEMORY.md"), []byte(note), 0o644); err != nil {
		t.Fatalf("write note: %v", err)
	}
	if _, err := ix.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	results, err := ix.Search(context.Background(), "dark mode", SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results for query present in notes")
	}
	if !strings.Contains(results[0].Snippet, "dark mode") {
		t.Errorf("top snippet %q does not contain query text", results[0].Snippet)
	}
}

func TestSearchDateFilter(t *testing.T) {
	ix, _, ws := testIndex(t)
	// a day file dated well in the past
	path := filepath.Join(ws, "chat-log", "2025-02-15.jsonl")
	line := `{"ts":"2025-02-15T10:00:00Z","jid":"1","role":"user","content":"discussed quarterly budget today"}`
	if err := os.WriteFile(path, []byte(line+"\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if _, err := ix.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	all, err := ix.Search(context.Background(), "quarterly budget", SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("unfiltered search found nothing")
	}

	filtered, err := ix.Search(context.Background(), "quarterly budget", SearchFilters{DateRange: "yesterday"})
	if err != nil {
		t.Fatalf("filtered search: %v", err)
	}
	if len(filtered) != 0 {
		t.Errorf("chunk dated 2025-02-15 matched dateRange=yesterday: %+v", filtered)
	}
}

func TestLogTailOnlyEmbedsNewLines(t *testing.T) {
	ix, emb, ws := testIndex(t)
	path := filepath.Join(ws, "chat-log", "private", "42.jsonl")
	if err := os.WriteFile(path, []byte(`{"role":"user","content":"first"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ix.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	fp, ok, err := ix.store.Fingerprint(filepath.Join("chat-log", "private", "42.jsonl"))
	if err != nil || !ok {
		t.Fatalf("fingerprint missing: ok=%v err=%v", ok, err)
	}
	if fp.LastLine != 1 {
		t.Fatalf("LastLine = %d, want 1", fp.LastLine)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString(`{"role":"assistant","content":"second"}` + "\n")
	f.Close()
	// mtime resolution can swallow fast consecutive writes
	later := time.Now().Add(2 * time.Second)
	os.Chtimes(path, later, later)

	before := emb.calls
	stats, err := ix.Sync(context.Background())
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if stats.Tailed != 1 {
		t.Fatalf("tailed %d files, want 1", stats.Tailed)
	}
	if emb.calls != before+1 {
		t.Errorf("embedder called %d extra times, want 1", emb.calls-before)
	}
	fp, _, _ = ix.store.Fingerprint(filepath.Join("chat-log", "private", "42.jsonl"))
	if fp.LastLine != 2 {
		t.Errorf("LastLine = %d, want 2", fp.LastLine)
	}
}

func TestStaleSourceRemoved(t *testing.T) {
	ix, _, ws := testIndex(t)
	note := filepath.Join(ws, "memory", "old.md")
	if err := os.WriteFile(note, []byte("ephemeral fact\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ix.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := os.Remove(note); err != nil {
		t.Fatalf("remove: %v", err)
	}

	stats, err := ix.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync after delete: %v", err)
	}
	if stats.Deleted != 1 {
		t.Errorf("deleted %d, want 1", stats.Deleted)
	}
	paths, _ := ix.store.IndexedPaths()
	for _, p := range paths {
		if p == filepath.Join("memory", "old.md") {
			t.Error("deleted source still indexed")
		}
	}
}

func TestReadFileRestrictedToNotesAndLogs(t *testing.T) {
	ix, _, ws := testIndex(t)
	if err := os.WriteFile(filepath.Join(ws, "MEMORY.md"), []byte("line one\nline two\nline three\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ix.ReadFile("MEMORY.md", 2, 1)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "line two\n" {
		t.Errorf("window = %q, want line two", got)
	}

	for _, bad := range []string{"filesystem/home", "../etc/passwd", "uploads/x.png"} {
		if _, err := ix.ReadFile(bad, 1, 10); err == nil {
			t.Errorf("ReadFile(%q) should be refused", bad)
		}
	}
}

func TestChunkerClamps(t *testing.T) {
	tests := []struct {
		tokens, overlap         int
		wantTokens, wantOverlap int
	}{
		{0, 0, 512, 0},
		{50, -5, 100, 0},
		{5000, 300, 2000, 100},
		{512, 32, 512, 32},
	}
	for _, tt := range tests {
		got := clampChunker(tt.tokens, tt.overlap)
		if got.tokens != tt.wantTokens || got.overlap != tt.wantOverlap {
			t.Errorf("clampChunker(%d, %d) = %+v, want %d/%d", tt.tokens, tt.overlap, got, tt.wantTokens, tt.wantOverlap)
		}
	}
}

func TestChunkLinesOverlap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("this line is about forty characters long ok\n")
	}
	chunks := chunkLines(b.String(), 1, chunkerConfig{tokens: 100, overlap: 10})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartLine > chunks[i-1].EndLine+1 {
			t.Errorf("gap between chunk %d and %d: %d..%d then %d", i-1, i,
				chunks[i-1].StartLine, chunks[i-1].EndLine, chunks[i].StartLine)
		}
		if chunks[i].StartLine <= chunks[i-1].StartLine {
			t.Errorf("chunk %d does not advance: start %d after %d", i, chunks[i].StartLine, chunks[i-1].StartLine)
		}
	}
	if chunks[len(chunks)-1].EndLine != 200 {
		t.Errorf("last chunk ends at %d, want 200", chunks[len(chunks)-1].EndLine)
	}
}
