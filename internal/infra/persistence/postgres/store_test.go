package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"tracecore/pkg/domain"
)

// stubDB emulates the minimal SQL surface the store touches: the state
// table DDL, the snapshot select, and the bucket upserts.
type stubDB struct {
	mu      sync.Mutex
	buckets map[string][]byte
}

func newStubDB() *stubDB {
	return &stubDB{buckets: make(map[string][]byte)}
}

type stubConnector struct{ db *stubDB }

func (c stubConnector) Connect(context.Context) (driver.Conn, error) { return stubConn{db: c.db}, nil }
func (c stubConnector) Driver() driver.Driver                        { return stubDriver{} }

type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("use connector")
}

type stubConn struct{ db *stubDB }

func (stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("prepare unsupported") }
func (stubConn) Close() error                        { return nil }
func (stubConn) Begin() (driver.Tx, error)           { return stubTx{}, nil }
func (c stubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return stubTx{}, nil
}
func (stubConn) Ping(context.Context) error { return nil }

func (c stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if strings.HasPrefix(query, "INSERT INTO state") {
		bucket, _ := args[0].Value.(string)
		payload, _ := args[1].Value.([]byte)
		c.db.mu.Lock()
		c.db.buckets[bucket] = append([]byte(nil), payload...)
		c.db.mu.Unlock()
	}
	return driver.RowsAffected(1), nil
}

func (c stubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.Contains(query, "FROM state") {
		return nil, errors.New("unexpected query: " + query)
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	rows := &stubRows{}
	for bucket, payload := range c.db.buckets {
		rows.rows = append(rows.rows, [2]driver.Value{bucket, append([]byte(nil), payload...)})
	}
	return rows, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	rows [][2]driver.Value
	idx  int
}

func (*stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (*stubRows) Close() error      { return nil }
func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	dest[0] = r.rows[r.idx][0]
	dest[1] = r.rows[r.idx][1]
	r.idx++
	return nil
}

func openStubStore(t *testing.T, db *stubDB) *Store {
	t.Helper()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return sql.OpenDB(stubConnector{db: db}), nil
	})
	t.Cleanup(restore)

	store, err := NewStore("postgres://stub", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestStoreSnapshotsAfterTransaction(t *testing.T) {
	db := newStubDB()
	store := openStubStore(t, db)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		batch, err := tx.CreateBatch(domain.Batch{Base: domain.Base{ID: "batch-1"}, Quantity: 10, Variety: "geisha", Process: "washed"})
		if err != nil {
			return err
		}
		if err := tx.Mint(batch.ID, "alice", batch.Quantity); err != nil {
			return err
		}
		return tx.RefreshLineage(batch.ID)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	db.mu.Lock()
	stored := len(db.buckets)
	batchesPayload := string(db.buckets["batches"])
	db.mu.Unlock()
	if stored != len(postgresBuckets) {
		t.Fatalf("expected %d buckets, got %d", len(postgresBuckets), stored)
	}
	if !strings.Contains(batchesPayload, "batch-1") {
		t.Fatalf("batches payload missing record: %s", batchesPayload)
	}
}

func TestStoreRehydratesFromSnapshot(t *testing.T) {
	db := newStubDB()
	store := openStubStore(t, db)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		batch, err := tx.CreateBatch(domain.Batch{Base: domain.Base{ID: "batch-1"}, Quantity: 10})
		if err != nil {
			return err
		}
		if err := tx.Mint(batch.ID, "alice", 10); err != nil {
			return err
		}
		return tx.RefreshLineage(batch.ID)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	reopened := openStubStore(t, db)
	if _, ok := reopened.GetBatch("batch-1"); !ok {
		t.Fatalf("batch not rehydrated")
	}
	if got, _ := reopened.GetBalance("batch-1", "alice"); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
	if _, ok := reopened.Lineage("batch-1"); !ok {
		t.Fatalf("lineage not rehydrated")
	}
}

func TestFailedTransactionDoesNotSnapshot(t *testing.T) {
	db := newStubDB()
	store := openStubStore(t, db)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateBatch(domain.Batch{Base: domain.Base{ID: "batch-1"}, Quantity: 1}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.buckets) != 0 {
		t.Fatalf("failed transaction must not persist, got %d buckets", len(db.buckets))
	}
}

func TestOpenErrorPropagates(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return nil, errors.New("dial refused")
	})
	defer restore()

	if _, err := NewStore("postgres://stub", domain.NewRulesEngine()); err == nil {
		t.Fatalf("expected open error")
	}
}
