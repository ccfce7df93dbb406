// Package journal provides the durable bookkeeping the pipeline needs to
// survive restarts: the acknowledged stream cursor and the pending-archival
// marks used by the two-phase tier migration.
//
// Backed by Badger with synchronous writes. The cursor is written only after
// an entry's outcome is finalized, which is what makes reprocessing after a
// crash an at-least-once affair rather than a lossy one.
package journal

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const (
	cursorKey     = "cursor"
	pendingPrefix = "pending:"
)

// Journal stores the cursor and pending-archival marks.
type Journal struct {
	db     *badger.DB
	ownsDB bool
}

// Open opens (or creates) a journal at the given directory.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	return &Journal{db: db, ownsDB: true}, nil
}

// OpenInMemory opens an ephemeral journal. Used by tests and the local dev
// mode; provides no crash durability.
func OpenInMemory() (*Journal, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory journal: %w", err)
	}

	return &Journal{db: db, ownsDB: true}, nil
}

// Cursor returns the last durably acknowledged stream cursor, or 0 when
// nothing has been processed yet.
func (j *Journal) Cursor() (uint64, error) {
	var cursor uint64

	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cursorKey))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt cursor value of length %d", len(val))
			}
			cursor = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("reading cursor: %w", err)
	}

	return cursor, nil
}

// SetCursor durably advances the acknowledged cursor. The cursor never moves
// backwards; a smaller value is ignored.
func (j *Journal) SetCursor(cursor uint64) error {
	current, err := j.Cursor()
	if err != nil {
		return err
	}
	if cursor <= current {
		return nil
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, cursor)

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cursorKey), buf)
	})
	if err != nil {
		return fmt.Errorf("persisting cursor: %w", err)
	}

	return nil
}

// MarkPending durably records memory IDs selected for archival. A crash
// between the mark and the active-side removal is resolved by Reconcile-style
// replay on restart.
func (j *Journal) MarkPending(ids []string) error {
	err := j.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Set([]byte(pendingPrefix+id), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("marking pending archival: %w", err)
	}

	return nil
}

// ClearPending removes pending-archival marks.
func (j *Journal) ClearPending(ids []string) error {
	err := j.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete([]byte(pendingPrefix + id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clearing pending archival: %w", err)
	}

	return nil
}

// Pending returns all memory IDs currently marked pending archival.
func (j *Journal) Pending() ([]string, error) {
	var ids []string

	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(pendingPrefix)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, strings.TrimPrefix(key, pendingPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing pending archival: %w", err)
	}

	return ids, nil
}

// Close closes the underlying Badger database.
func (j *Journal) Close() error {
	if !j.ownsDB {
		return nil
	}
	return j.db.Close()
}
