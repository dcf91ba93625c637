// Package sink persists auction records and serves the read queries of the
// HTTP API.
package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/you/skyblock-auctions/internal/core"
)

// Error is a storage failure. It matches core.ErrPersistence.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string        { return "sink: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error        { return e.Err }
func (e *Error) Is(target error) bool { return target == core.ErrPersistence }

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

type dialect struct {
	name   string
	schema []string
	insert string
	quote  func(string) string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS auctions (
  auction_id TEXT PRIMARY KEY,
  price REAL,
  timestamp INTEGER,
  bin BOOLEAN,
  id TEXT,
  item_attributes TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_timestamp ON auctions(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_item_id ON auctions(id);`,
	},
	insert: `INSERT INTO auctions (auction_id, price, timestamp, bin, id, item_attributes)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(auction_id) DO NOTHING;`,
	quote: func(col string) string { return `"` + col + `"` },
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		"CREATE TABLE IF NOT EXISTS auctions (\n" +
			"  auction_id VARCHAR(64) NOT NULL PRIMARY KEY,\n" +
			"  price DOUBLE,\n" +
			"  `timestamp` BIGINT,\n" +
			"  bin BOOLEAN,\n" +
			"  id VARCHAR(191),\n" +
			"  item_attributes LONGTEXT,\n" +
			"  INDEX idx_timestamp (`timestamp`),\n" +
			"  INDEX idx_item_id (id)\n" +
			") DEFAULT CHARSET=utf8mb4;",
	},
	insert: "INSERT INTO auctions (auction_id, price, `timestamp`, bin, id, item_attributes)\n" +
		"VALUES (?, ?, ?, ?, ?, ?)\n" +
		"ON DUPLICATE KEY UPDATE auction_id = auction_id;",
	quote: func(col string) string { return "`" + col + "`" },
}

// Store is the auctions table behind a SQL database.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     *zap.Logger
}

// OpenSQLite opens (creating if needed) the database file at path with the
// default options and applies the schema.
func OpenSQLite(path string, log *zap.Logger) (*Store, error) {
	return OpenSQLiteWith(path, SQLiteOptions{}, log)
}

// OpenSQLiteWith opens the database file at path in WAL mode with the
// connection pragmas of opts and applies the schema.
func OpenSQLiteWith(path string, opts SQLiteOptions, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(path, opts))
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	s := newStore(db, sqliteDialect, log)
	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logSQLiteSettings(ctx, db, opts, s.log)
	return s, nil
}

// OpenMySQL connects to the MySQL server named by dsn and applies the schema.
func OpenMySQL(dsn string, log *zap.Logger) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse mysql dsn")
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping mysql")
	}

	s := newStore(db, mysqlDialect, log)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newStore(db *sql.DB, d dialect, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, dialect: d, log: log.With(zap.String("store", d.name))}
}

// EnsureSchema creates the auctions table and its indexes when absent. It is
// safe to call on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return opErr("apply schema", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping() error { return s.db.Ping() }

// DB exposes the handle for migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Driver names the SQL dialect in use.
func (s *Store) Driver() string { return s.dialect.name }

func (s *Store) String() string {
	return fmt.Sprintf("Store{%s %p}", s.dialect.name, s.db)
}

// Outcome reports what one Insert call did with each record.
type Outcome struct {
	Saved      []core.AuctionRecord
	Duplicates []string
	Failed     int
}

// Stored lists the auction ids now present in the table: the new rows and
// the duplicates.
func (o Outcome) Stored() []string {
	ids := make([]string, 0, len(o.Saved)+len(o.Duplicates))
	for _, rec := range o.Saved {
		ids = append(ids, rec.AuctionID)
	}
	return append(ids, o.Duplicates...)
}

// Save inserts recs in one transaction and returns how many were new.
func (s *Store) Save(ctx context.Context, recs []core.AuctionRecord) (int, error) {
	out, err := s.Insert(ctx, recs)
	return len(out.Saved), err
}

// Insert writes recs in one transaction. Existing auction ids are skipped and
// reported as duplicates; a record that fails for another reason is logged
// and skipped. Only failures to open or commit the transaction are returned.
func (s *Store) Insert(ctx context.Context, recs []core.AuctionRecord) (Outcome, error) {
	var out Outcome
	if len(recs) == 0 {
		return out, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, opErr("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, s.dialect.insert)
	if err != nil {
		return Outcome{}, opErr("prepare insert", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		attrs, err := encodeAttributes(rec.Attributes)
		if err != nil {
			s.log.Error("encode item_attributes", zap.String("auction_id", rec.AuctionID), zap.Error(err))
			out.Failed++
			continue
		}

		res, err := stmt.ExecContext(ctx, rec.AuctionID, rec.Price, rec.Timestamp, rec.Bin, nullable(rec.ItemID), attrs)
		if err != nil {
			s.log.Error("save auction", zap.String("auction_id", rec.AuctionID), zap.Error(err))
			out.Failed++
			continue
		}
		n, err := res.RowsAffected()
		if err != nil {
			s.log.Error("rows affected", zap.String("auction_id", rec.AuctionID), zap.Error(err))
			out.Failed++
			continue
		}
		if n == 0 {
			s.log.Debug("duplicate auction_id, skipping", zap.String("auction_id", rec.AuctionID))
			out.Duplicates = append(out.Duplicates, rec.AuctionID)
			continue
		}
		out.Saved = append(out.Saved, rec)
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, opErr("commit", err)
	}
	return out, nil
}

func encodeAttributes(attrs map[string]any) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
