// Package sqlite provides the default archive.Store on a plain SQLite file.
// No vector index: archived rows carry their embedding blob and search is a
// brute-force cosine scan in Go, optionally limited to date partitions.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/archive"
	"github.com/papercomputeco/engram/pkg/memory"
)

// Store implements archive.Store using SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Config holds configuration for the SQLite archive store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string
}

// New creates a SQLite-backed archive store.
func New(c Config, logger *zap.Logger) (*Store, error) {
	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent; the archive
	// write path is one sweeper goroutine anyway.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS archived_memories (
			memory_id   TEXT PRIMARY KEY,
			source_id   INTEGER NOT NULL,
			partition   TEXT NOT NULL,
			text        TEXT NOT NULL,
			embedding   BLOB NOT NULL,
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
		return nil, fmt.Errorf("creating archive table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_archived_partition ON archived_memories(partition)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating partition index: %w", err)
	}

	logger.Info("sqlite archive store initialized",
		zap.String("db_path", c.DBPath),
	)

	return &Store{db: db, logger: logger}, nil
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

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

// Archive appends memories keyed by memory ID. INSERT OR IGNORE makes retry
// idempotent: archiving the same memory twice produces no duplicate.
func (s *Store) Archive(ctx context.Context, memories []memory.Memory) error {
	if len(memories) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range memories {
		metadata, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for memory %s: %w", m.ID, err)
		}
		if m.Metadata == nil {
			metadata = []byte("{}")
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO archived_memories
				(memory_id, source_id, partition, text, embedding, surprise, perplexity, novelty, created_at, session_tag, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.SourceID, archive.PartitionOf(m.CreatedAt), m.Text,
			serializeFloat32(m.Embedding), m.Surprise, m.Perplexity, m.Novelty,
			m.CreatedAt.UTC().UnixNano(), m.SessionTag, string(metadata),
		); err != nil {
			return fmt.Errorf("archiving memory %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("archived memories",
		zap.Int("count", len(memories)),
	)

	return nil
}

// Search scans archived rows, optionally restricted to partitions within
// [from, to], and returns the topK by ascending cosine distance.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int, from, to time.Time) ([]memory.SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}

	query := `SELECT memory_id, source_id, text, embedding, surprise, perplexity, novelty, created_at, session_tag, metadata FROM archived_memories`
	var args []any
	switch {
	case !from.IsZero() && !to.IsZero():
		query += ` WHERE partition >= ? AND partition <= ?`
		args = append(args, archive.PartitionOf(from), archive.PartitionOf(to))
	case !from.IsZero():
		query += ` WHERE partition >= ?`
		args = append(args, archive.PartitionOf(from))
	case !to.IsZero():
		query += ` WHERE partition <= ?`
		args = append(args, archive.PartitionOf(to))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning archive: %w", err)
	}
	defer rows.Close()

	var results []memory.SearchResult
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, memory.SearchResult{
			Memory:   m,
			Distance: memory.CosineDistance(embedding, m.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archive rows: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func scanMemory(rows *sql.Rows) (memory.Memory, error) {
	var m memory.Memory
	var embBlob []byte
	var createdAt int64
	var metadata string

	if err := rows.Scan(&m.ID, &m.SourceID, &m.Text, &embBlob, &m.Surprise,
		&m.Perplexity, &m.Novelty, &createdAt, &m.SessionTag, &metadata); err != nil {
		return m, fmt.Errorf("scanning archived memory: %w", err)
	}

	emb, err := deserializeFloat32(embBlob)
	if err != nil {
		return m, fmt.Errorf("decoding embedding for memory %s: %w", m.ID, err)
	}
	m.Embedding = emb
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	m.Tier = memory.TierArchived

	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return m, fmt.Errorf("unmarshaling metadata for memory %s: %w", m.ID, err)
		}
	}

	return m, nil
}

// Has reports whether a memory ID is archived.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM archived_memories WHERE memory_id = ?`, id).Scan(&one)
	switch err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("checking archived memory %s: %w", id, err)
	}
}

// Count returns the number of archived memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archived_memories`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting archived memories: %w", err)
	}
	return count, nil
}

// Close releases resources held by the store.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ archive.Store = (*Store)(nil)
