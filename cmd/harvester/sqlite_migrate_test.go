package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/you/skyblock-auctions/internal/sink"
)

func TestMigrateSQLite(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	schema := `CREATE TABLE auctions (
  auction_id TEXT PRIMARY KEY,
  price REAL,
  timestamp INTEGER,
  bin BOOLEAN,
  item_attributes TEXT
);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	seed := `INSERT INTO auctions (auction_id, price, timestamp, bin, item_attributes)
VALUES
  ('A1', 10, 1, 1, '{"id":"HYPERION","count":1}'),
  ('A2', 20, 2, 0, '{"count":1}'),
  ('A3', 30, 3, 0, NULL);
`
	if _, err := db.Exec(seed); err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	ctx := context.Background()
	if err := migrateSQLite(ctx, db, zap.NewNop()); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	cols, err := sqliteTableInfo(ctx, db, "auctions")
	if err != nil {
		t.Fatalf("inspect columns: %v", err)
	}
	if _, ok := cols["id"]; !ok {
		t.Fatalf("expected id column to exist")
	}

	var (
		id    sql.NullString
		attrs string
	)
	if err := db.QueryRow(`SELECT id, item_attributes FROM auctions WHERE auction_id='A1';`).Scan(&id, &attrs); err != nil {
		t.Fatalf("read A1: %v", err)
	}
	if id.String != "HYPERION" {
		t.Fatalf("expected backfilled id, got %+v", id)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(attrs), &decoded); err != nil {
		t.Fatalf("decode attributes: %v", err)
	}
	if _, ok := decoded["id"]; ok || decoded["count"] != float64(1) {
		t.Fatalf("expected id stripped from attributes, got %s", attrs)
	}

	if err := db.QueryRow(`SELECT id, item_attributes FROM auctions WHERE auction_id='A3';`).Scan(&id, &attrs); err != nil {
		t.Fatalf("read A3: %v", err)
	}
	if id.Valid || attrs != "{}" {
		t.Fatalf("expected A3 without id and empty attributes, got %+v %q", id, attrs)
	}

	hasIndex, err := sqliteHasIndex(ctx, db, "auctions", "idx_item_id")
	if err != nil || !hasIndex {
		t.Fatalf("expected idx_item_id, got %v (err=%v)", hasIndex, err)
	}

	if err := migrateSQLite(ctx, db, zap.NewNop()); err != nil {
		t.Fatalf("second migration: %v", err)
	}
}

func TestMigrateThenOpenStore(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE auctions (auction_id TEXT PRIMARY KEY, price REAL, timestamp INTEGER, bin BOOLEAN, item_attributes TEXT);
INSERT INTO auctions VALUES ('A1', 1, 1, 0, '{"id":"PET_OCELOT"}');`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	db.Close()

	ctx := context.Background()
	if err := migrateSQLiteFile(ctx, dbPath, sink.SQLiteOptions{}, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := sink.OpenSQLite(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("open store after migration: %v", err)
	}
	defer store.Close()

	rec, ok, err := store.GetAuction(ctx, "A1")
	if err != nil || !ok || rec.ItemIDOr("") != "PET_OCELOT" {
		t.Fatalf("unexpected record %+v ok=%v err=%v", rec, ok, err)
	}
}

func TestMigrateSQLiteFreshDatabase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fresh.db")
	if err := migrateSQLiteFile(context.Background(), path, sink.SQLiteOptions{}, zap.NewNop()); err != nil {
		t.Fatalf("migrate fresh: %v", err)
	}
}
