package sink

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SQLiteOptions shape the pragmas every pooled connection starts with.
type SQLiteOptions struct {
	// BusyTimeout is how long a reader waits out the cycle's write
	// transaction. Defaults to 5s.
	BusyTimeout time.Duration
	// Tuned sets synchronous=NORMAL and keeps temp tables and reads in
	// memory.
	Tuned bool
}

func (o SQLiteOptions) pragmas() []string {
	busy := o.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	out := []string{
		fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()),
		"journal_mode(wal)",
	}
	if o.Tuned {
		out = append(out,
			"synchronous(normal)",
			"wal_autocheckpoint(1000)",
			"temp_store(memory)",
			"mmap_size(268435456)",
		)
	}
	return out
}

// SQLiteDSN appends the options to path as _pragma parameters, which the
// driver runs on every new connection.
func SQLiteDSN(path string, opts SQLiteOptions) string {
	q := url.Values{}
	for _, p := range opts.pragmas() {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

// logSQLiteSettings reads back the effective journal and sync modes.
func logSQLiteSettings(ctx context.Context, db *sql.DB, opts SQLiteOptions, log *zap.Logger) {
	var journal string
	var synchronous int
	if err := db.QueryRowContext(ctx, `PRAGMA journal_mode;`).Scan(&journal); err != nil {
		log.Warn("read sqlite journal_mode", zap.Error(err))
		return
	}
	if err := db.QueryRowContext(ctx, `PRAGMA synchronous;`).Scan(&synchronous); err != nil {
		log.Warn("read sqlite synchronous", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.String("journal_mode", journal),
		zap.Int("synchronous", synchronous),
		zap.Bool("tuned", opts.Tuned),
	}
	if !strings.EqualFold(journal, "wal") {
		log.Warn("sqlite is not in WAL mode; API reads will wait on cycle writes", fields...)
		return
	}
	log.Info("sqlite connection settings", fields...)
}
