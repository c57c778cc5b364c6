// Package memory implements the semantic index over notes, chat logs and
// optional filesystem listings. Chunks and their embeddings live in a
// single SQLite database; similarity is cosine over float32 vectors scanned
// in process, which is plenty for a personal-scale corpus.
package memory

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	_ "modernc.org/sqlite"
)

// Chunk is one indexed span of a source file.
type Chunk struct {
	Path       string
	Index      int
	StartLine  int
	EndLine    int
	Text       string
	SourceDate string // "YYYY-MM-DD", empty when unknown
}

// scoredChunk pairs a chunk with its decoded vector during search.
type storedChunk struct {
	Chunk
	embedding []float32
}

// Fingerprint identifies a source file revision.
type Fingerprint struct {
	MTime    int64
	Size     int64
	LastLine int // for tailed jsonl files: last line already indexed
}

// Store persists chunks, vectors and sync bookkeeping.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenStore opens (creating if needed) the index database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory index: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			path TEXT NOT NULL,
			chunk_idx INTEGER NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			text TEXT NOT NULL,
			embedding BLOB NOT NULL,
			source_date TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (path, chunk_idx)
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			path TEXT PRIMARY KEY,
			mtime INTEGER NOT NULL,
			size INTEGER NOT NULL,
			last_line INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS listing_progress (
			root TEXT PRIMARY KEY,
			last_dir TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init memory schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// ReplaceChunks swaps all chunks of a path in one transaction.
func (s *Store) ReplaceChunks(path string, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	for i, c := range chunks {
		_, err := tx.Exec(
			`INSERT INTO chunks (path, chunk_idx, start_line, end_line, text, embedding, source_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			path, c.Index, c.StartLine, c.EndLine, c.Text, encodeVector(vectors[i]), c.SourceDate,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s#%d: %w", path, c.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// AppendChunks adds chunks without touching existing ones, used when tailing
// append-only logs. Indices must continue the existing sequence.
func (s *Store) AppendChunks(path string, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()
	for i, c := range chunks {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO chunks (path, chunk_idx, start_line, end_line, text, embedding, source_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			path, c.Index, c.StartLine, c.EndLine, c.Text, encodeVector(vectors[i]), c.SourceDate,
		)
		if err != nil {
			return fmt.Errorf("append chunk %s#%d: %w", path, c.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// MaxChunkIndex returns the highest chunk index for a path, or -1.
func (s *Store) MaxChunkIndex(path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var idx sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(chunk_idx) FROM chunks WHERE path = ?`, path).Scan(&idx)
	if err != nil {
		return -1, fmt.Errorf("max chunk index: %w", err)
	}
	if !idx.Valid {
		return -1, nil
	}
	return int(idx.Int64), nil
}

// DeletePath removes a source file's chunks and fingerprint.
func (s *Store) DeletePath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete fingerprint: %w", err)
	}
	return nil
}

// DeleteByPrefix removes all chunks and fingerprints under a path prefix.
func (s *Store) DeleteByPrefix(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	like := prefix + "%"
	if _, err := s.db.Exec(`DELETE FROM chunks WHERE path LIKE ?`, like); err != nil {
		return fmt.Errorf("delete chunks by prefix: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM files WHERE path LIKE ?`, like); err != nil {
		return fmt.Errorf("delete fingerprints by prefix: %w", err)
	}
	return nil
}

// IndexedPaths returns every distinct source path in the index.
func (s *Store) IndexedPaths() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT DISTINCT path FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("list indexed paths: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Fingerprint returns the stored fingerprint for a path, ok=false if absent.
func (s *Store) Fingerprint(path string) (Fingerprint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fp Fingerprint
	err := s.db.QueryRow(`SELECT mtime, size, last_line FROM files WHERE path = ?`, path).
		Scan(&fp.MTime, &fp.Size, &fp.LastLine)
	if err == sql.ErrNoRows {
		return Fingerprint{}, false, nil
	}
	if err != nil {
		return Fingerprint{}, false, fmt.Errorf("load fingerprint: %w", err)
	}
	return fp, true, nil
}

// SetFingerprint records a path's fingerprint after indexing it.
func (s *Store) SetFingerprint(path string, fp Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO files (path, mtime, size, last_line) VALUES (?, ?, ?, ?)`,
		path, fp.MTime, fp.Size, fp.LastLine,
	)
	if err != nil {
		return fmt.Errorf("save fingerprint: %w", err)
	}
	return nil
}

// ListingProgress returns the last completed directory for a filesystem
// root, empty when the listing never ran or finished clean.
func (s *Store) ListingProgress(root string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dir string
	err := s.db.QueryRow(`SELECT last_dir FROM listing_progress WHERE root = ?`, root).Scan(&dir)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load listing progress: %w", err)
	}
	return dir, nil
}

// SetListingProgress checkpoints a filesystem listing. Empty dir clears the
// checkpoint (listing finished).
func (s *Store) SetListingProgress(root, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == "" {
		_, err := s.db.Exec(`DELETE FROM listing_progress WHERE root = ?`, root)
		return err
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO listing_progress (root, last_dir) VALUES (?, ?)`, root, dir)
	return err
}

// allChunks streams every stored chunk with its vector.
func (s *Store) allChunks() ([]storedChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT path, chunk_idx, start_line, end_line, text, embedding, source_date FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	defer rows.Close()

	var out []storedChunk
	for rows.Next() {
		var c storedChunk
		var blob []byte
		if err := rows.Scan(&c.Path, &c.Index, &c.StartLine, &c.EndLine, &c.Text, &blob, &c.SourceDate); err != nil {
			return nil, err
		}
		c.embedding = decodeVector(blob)
		out = append(out, c)
	}
	return out, rows.Err()
}

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian float32 blob.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// cosine returns the cosine similarity of two vectors, 0 on length mismatch.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
