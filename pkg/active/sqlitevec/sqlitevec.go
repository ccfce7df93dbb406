// Package sqlitevec provides the durable active.Store backed by SQLite with
// the sqlite-vec extension. A vec0 virtual table holds the cosine-indexed
// embeddings; a companion table holds the memory rows keyed by rowid.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/active"
	"github.com/papercomputeco/engram/pkg/memory"
)

// Store implements active.Store using SQLite with sqlite-vec.
type Store struct {
	db         *sql.DB
	dimensions uint
	logger     *zap.Logger
}

// Config holds configuration for the sqlite-vec active store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the embedding dimension D, fixed for the lifetime of
	// the store generation. Opening an existing store with a different
	// dimension fails; switching embedding oracles means a new database
	// file, never silent dimension mixing.
	Dimensions uint
}

// New creates a sqlite-vec backed active store.
func New(c Config, logger *zap.Logger) (*Store, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("sqlite-vec embedding dimensions cannot be 0, must be configured")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", active.ErrConnection, err)
	}

	// A single connection keeps ":memory:" databases coherent and sidesteps
	// SQLITE_BUSY under concurrent insert and search.
	db.SetMaxOpenConns(1)

	// Verify the database is reachable and sqlite-vec is loaded. Open is
	// lazy, so an unopenable path also surfaces here.
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite-vec not available: %v", active.ErrConnection, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS store_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating meta table: %w", err)
	}

	if err := checkGeneration(db, c.Dimensions); err != nil {
		db.Close()
		return nil, err
	}

	// Memory rows. The vec0 virtual table uses integer rowids, so this
	// table is the mapping from memory/source IDs to rowids as well as the
	// home of every non-vector column. source_id is UNIQUE: re-inserting a
	// reprocessed stream entry is a no-op.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			rowid       INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id   TEXT NOT NULL UNIQUE,
			source_id   INTEGER NOT NULL UNIQUE,
			text        TEXT NOT NULL,
			surprise    REAL NOT NULL,
			perplexity  REAL NOT NULL,
			novelty     REAL NOT NULL,
			created_at  INTEGER NOT NULL,
			session_tag TEXT NOT NULL DEFAULT '',
			metadata    TEXT NOT NULL DEFAULT '{}'
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating memories table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating created_at index: %w", err)
	}

	// vec0 virtual table for KNN queries, cosine metric so distances are
	// exactly 1 - cosine similarity.
	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_embeddings USING vec0(embedding float[%d] distance_metric=cosine)`,
		c.Dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vec0 table: %w", err)
	}

	logger.Info("sqlite-vec active store initialized",
		zap.String("db_path", c.DBPath),
		zap.Uint("dimensions", c.Dimensions),
		zap.String("vec_version", vecVersion),
	)

	return &Store{
		db:         db,
		dimensions: c.Dimensions,
		logger:     logger,
	}, nil
}

// checkGeneration enforces the one-dimension-per-store invariant: the first
// open records D, later opens must agree.
func checkGeneration(db *sql.DB, dimensions uint) error {
	var stored string
	err := db.QueryRow(`SELECT value FROM store_meta WHERE key = 'dimensions'`).Scan(&stored)

	switch err {
	case nil:
		d, convErr := strconv.ParseUint(stored, 10, 64)
		if convErr != nil {
			return fmt.Errorf("corrupt dimensions metadata %q: %w", stored, convErr)
		}
		if uint(d) != dimensions {
			return fmt.Errorf("%w: store generation has dimension %d, configured %d (re-embed into a new store to change oracles)",
				active.ErrDimensionMismatch, d, dimensions)
		}
		return nil
	case sql.ErrNoRows:
		_, insErr := db.Exec(`INSERT INTO store_meta(key, value) VALUES ('dimensions', ?)`,
			strconv.FormatUint(uint64(dimensions), 10))
		if insErr != nil {
			return fmt.Errorf("recording store dimensions: %w", insErr)
		}
		return nil
	default:
		return fmt.Errorf("reading store dimensions: %w", err)
	}
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 converts a little-endian byte slice back to a float32 slice.
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// Insert adds a memory. Re-inserting an existing SourceID or memory ID is a
// no-op so crash-and-replay reprocessing stays idempotent.
func (s *Store) Insert(ctx context.Context, m memory.Memory) error {
	if uint(len(m.Embedding)) != s.dimensions {
		return fmt.Errorf("%w: got %d, store dimension is %d",
			active.ErrDimensionMismatch, len(m.Embedding), s.dimensions)
	}

	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for memory %s: %w", m.ID, err)
	}
	if m.Metadata == nil {
		metadata = []byte("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT rowid FROM memories WHERE source_id = ? OR memory_id = ?`,
		m.SourceID, m.ID,
	).Scan(&existing)

	switch err {
	case nil:
		// Already admitted from this stream entry; write-once model.
		s.logger.Debug("duplicate insert ignored",
			zap.String("memory_id", m.ID),
			zap.Uint64("source_id", m.SourceID),
		)
		return nil
	case sql.ErrNoRows:
		// fall through to insert
	default:
		return fmt.Errorf("checking for existing memory %s: %w", m.ID, err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO memories(memory_id, source_id, text, surprise, perplexity, novelty, created_at, session_tag, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SourceID, m.Text, m.Surprise, m.Perplexity, m.Novelty,
		m.CreatedAt.UTC().UnixNano(), m.SessionTag, string(metadata),
	)
	if err != nil {
		return fmt.Errorf("inserting memory %s: %w", m.ID, err)
	}

	rowID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting rowid for memory %s: %w", m.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memory_embeddings(rowid, embedding) VALUES (?, ?)`,
		rowID, serializeFloat32(m.Embedding),
	); err != nil {
		return fmt.Errorf("inserting embedding for memory %s: %w", m.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("inserted memory",
		zap.String("memory_id", m.ID),
		zap.Uint64("source_id", m.SourceID),
		zap.Float64("surprise", m.Surprise),
	)

	return nil
}

// NearestNeighbor returns the closest memory by cosine distance, or
// (nil, 0, nil) when the store is empty.
func (s *Store) NearestNeighbor(ctx context.Context, embedding []float32) (*memory.Memory, float64, error) {
	results, err := s.Search(ctx, embedding, 1)
	if err != nil {
		return nil, 0, err
	}
	if len(results) == 0 {
		return nil, 0, nil
	}
	return &results[0].Memory, results[0].Distance, nil
}

// Search returns up to topK memories ordered by ascending cosine distance.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]memory.SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}

	// KNN via vec0 MATCH, joined back for the memory columns.
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			m.memory_id, m.source_id, m.text, m.surprise, m.perplexity, m.novelty,
			m.created_at, m.session_tag, m.metadata, me.embedding, me.distance
		FROM memory_embeddings me
		INNER JOIN memories m ON m.rowid = me.rowid
		WHERE me.embedding MATCH ?
			AND me.k = ?
		ORDER BY me.distance
	`, serializeFloat32(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []memory.SearchResult
	for rows.Next() {
		var m memory.Memory
		var createdAt int64
		var metadata string
		var embBlob []byte
		var distance float64

		if err := rows.Scan(&m.ID, &m.SourceID, &m.Text, &m.Surprise, &m.Perplexity, &m.Novelty,
			&createdAt, &m.SessionTag, &metadata, &embBlob, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}

		if err := hydrate(&m, createdAt, metadata, embBlob); err != nil {
			return nil, err
		}

		results = append(results, memory.SearchResult{Memory: m, Distance: distance})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	return results, nil
}

// EvictCandidates returns memories older than maxAge plus the oldest entries
// beyond maxCount, oldest first. A maxAge or maxCount of zero disables that
// rule. Does not remove anything.
func (s *Store) EvictCandidates(ctx context.Context, maxAge time.Duration, maxCount int) ([]memory.Memory, error) {
	seen := make(map[string]bool)
	var out []memory.Memory

	if maxAge > 0 {
		cutoff := time.Now().UTC().Add(-maxAge).UnixNano()
		aged, err := s.selectMemories(ctx,
			`SELECT `+memoryColumns+` FROM memories m WHERE m.created_at < ? ORDER BY m.created_at ASC`,
			cutoff)
		if err != nil {
			return nil, fmt.Errorf("selecting aged candidates: %w", err)
		}
		for _, m := range aged {
			seen[m.ID] = true
			out = append(out, m)
		}
	}

	if maxCount > 0 {
		count, err := s.Count(ctx)
		if err != nil {
			return nil, err
		}
		if excess := count - maxCount; excess > 0 {
			oldest, err := s.selectMemories(ctx,
				`SELECT `+memoryColumns+` FROM memories m ORDER BY m.created_at ASC LIMIT ?`,
				excess+len(out))
			if err != nil {
				return nil, fmt.Errorf("selecting overflow candidates: %w", err)
			}
			for _, m := range oldest {
				if excess == 0 {
					break
				}
				if seen[m.ID] {
					excess--
					continue
				}
				seen[m.ID] = true
				out = append(out, m)
				excess--
			}
		}
	}

	return out, nil
}

const memoryColumns = `m.memory_id, m.source_id, m.text, m.surprise, m.perplexity, m.novelty, m.created_at, m.session_tag, m.metadata, m.rowid`

// selectMemories runs a query over the memories table and attaches each
// row's embedding from the vec0 table.
func (s *Store) selectMemories(ctx context.Context, query string, args ...any) ([]memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	type memRow struct {
		m         memory.Memory
		createdAt int64
		metadata  string
		rowID     int64
	}
	var memRows []memRow

	for rows.Next() {
		var r memRow
		if err := rows.Scan(&r.m.ID, &r.m.SourceID, &r.m.Text, &r.m.Surprise, &r.m.Perplexity,
			&r.m.Novelty, &r.createdAt, &r.m.SessionTag, &r.metadata, &r.rowID); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		memRows = append(memRows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}
	rows.Close()

	// Retrieve embeddings after closing the cursor (SQLite uses a single
	// connection).
	out := make([]memory.Memory, 0, len(memRows))
	for _, r := range memRows {
		var embBlob []byte
		err := s.db.QueryRowContext(ctx,
			`SELECT embedding FROM memory_embeddings WHERE rowid = ?`, r.rowID,
		).Scan(&embBlob)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("reading embedding for memory %s: %w", r.m.ID, err)
		}

		if err := hydrate(&r.m, r.createdAt, r.metadata, embBlob); err != nil {
			return nil, err
		}
		out = append(out, r.m)
	}

	return out, nil
}

// hydrate fills the decoded columns shared by every read path.
func hydrate(m *memory.Memory, createdAt int64, metadata string, embBlob []byte) error {
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	m.Tier = memory.TierActive

	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return fmt.Errorf("unmarshaling metadata for memory %s: %w", m.ID, err)
		}
	}

	if len(embBlob) > 0 {
		emb, err := deserializeFloat32(embBlob)
		if err != nil {
			return fmt.Errorf("decoding embedding for memory %s: %w", m.ID, err)
		}
		m.Embedding = emb
	}

	return nil
}

// Remove deletes memories by ID. Unknown IDs are ignored. Only the archival
// sweep calls this, after the archive write is confirmed.
func (s *Store) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT rowid FROM memories WHERE memory_id IN (%s)`, inClause), args...)
	if err != nil {
		return fmt.Errorf("querying rowids for removal: %w", err)
	}

	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return fmt.Errorf("scanning rowid: %w", err)
		}
		rowIDs = append(rowIDs, rowID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rowids: %w", err)
	}

	for _, rowID := range rowIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memory_embeddings WHERE rowid = ?`, rowID,
		); err != nil {
			return fmt.Errorf("removing embedding rowid %d: %w", rowID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM memories WHERE memory_id IN (%s)`, inClause), args...); err != nil {
		return fmt.Errorf("removing memories: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("removed memories from active store",
		zap.Int("count", len(ids)),
	)

	return nil
}

// Get retrieves memories by ID. Missing IDs are skipped.
func (s *Store) Get(ctx context.Context, ids []string) ([]memory.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	return s.selectMemories(ctx,
		fmt.Sprintf(`SELECT %s FROM memories m WHERE m.memory_id IN (%s)`,
			memoryColumns, strings.Join(placeholders, ",")),
		args...)
}

// Count returns the number of active memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting memories: %w", err)
	}
	return count, nil
}

// Dimensions returns the fixed embedding dimension for this store generation.
func (s *Store) Dimensions() uint {
	return s.dimensions
}

// Close releases resources held by the store.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ active.Store = (*Store)(nil)
