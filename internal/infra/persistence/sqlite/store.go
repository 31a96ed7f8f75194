// Package sqlite provides an embedded snapshot-persisting store: every
// successful transaction dumps the full ledger state into a single
// SQLite table as JSON buckets.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"tracecore/internal/infra/persistence/memory"
	"tracecore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the
// domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store persists the in-memory state to a single SQLite table as JSON
// blobs. It snapshots the full state after every successful
// transaction.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "tracecore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	payloads := map[string][]byte{}
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		payloads[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if len(payloads) == 0 {
		return nil
	}

	snapshot, err := decodeSnapshot(payloads)
	if err != nil {
		return err
	}
	s.ImportState(snapshot)
	return nil
}

// RunInTransaction applies fn within a transaction, then snapshots to
// disk when the commit succeeded.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloads, err := encodeSnapshot(s.ExportState())
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && retErr == nil {
				retErr = rbErr
			}
		}
	}()
	for _, bucket := range snapshotBuckets {
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?)
			ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, payloads[bucket]); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the backing database file path.
func (s *Store) Path() string {
	return s.path
}

var snapshotBuckets = []string{
	"batches",
	"containers",
	"relationships",
	"commitments",
	"balances",
	"minted",
	"burned",
	"events",
	"lineage",
	"lineage_generation",
}

func encodeSnapshot(snapshot memory.Snapshot) (map[string][]byte, error) {
	sections := map[string]any{
		"batches":            snapshot.Batches,
		"containers":         snapshot.Containers,
		"relationships":      snapshot.Relationships,
		"commitments":        snapshot.Commitments,
		"balances":           snapshot.Balances,
		"minted":             snapshot.Minted,
		"burned":             snapshot.Burned,
		"events":             snapshot.Events,
		"lineage":            snapshot.Lineage,
		"lineage_generation": snapshot.LineageGeneration,
	}
	payloads := make(map[string][]byte, len(sections))
	for bucket, section := range sections {
		data, err := json.Marshal(section)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		payloads[bucket] = data
	}
	return payloads, nil
}

func decodeSnapshot(payloads map[string][]byte) (memory.Snapshot, error) {
	var snapshot memory.Snapshot
	targets := map[string]any{
		"batches":            &snapshot.Batches,
		"containers":         &snapshot.Containers,
		"relationships":      &snapshot.Relationships,
		"commitments":        &snapshot.Commitments,
		"balances":           &snapshot.Balances,
		"minted":             &snapshot.Minted,
		"burned":             &snapshot.Burned,
		"events":             &snapshot.Events,
		"lineage":            &snapshot.Lineage,
		"lineage_generation": &snapshot.LineageGeneration,
	}
	for bucket, payload := range payloads {
		if len(payload) == 0 {
			continue
		}
		target, ok := targets[bucket]
		if !ok {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	return snapshot, nil
}
