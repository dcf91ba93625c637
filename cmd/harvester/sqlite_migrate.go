package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/you/skyblock-auctions/internal/sink"
)

type sqliteColumn struct {
	Name        string
	Type        string
	NotNull     bool
	DefaultText string
}

// migrateSQLiteFile upgrades an existing database at path before the store
// opens it. A missing file or table is left for the store to create.
func migrateSQLiteFile(ctx context.Context, path string, opts sink.SQLiteOptions, log *zap.Logger) error {
	db, err := sql.Open("sqlite", sink.SQLiteDSN(path, opts))
	if err != nil {
		return fmt.Errorf("sqlite: open: %w", err)
	}
	defer db.Close()
	return migrateSQLite(ctx, db, log)
}

// migrateSQLite moves databases written before the item id got its own
// column: the column is added, filled from item_attributes.id and the key is
// removed from the JSON.
func migrateSQLite(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	path := sqlitePath(ctx, db)
	userVersion, err := sqliteUserVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("sqlite: user_version: %w", err)
	}

	log.Info("sqlite migration check", zap.String("path", path), zap.Int("user_version", userVersion))

	columns, err := sqliteTableInfo(ctx, db, "auctions")
	if err != nil {
		return fmt.Errorf("sqlite: describe auctions: %w", err)
	}
	if len(columns) == 0 {
		log.Info("sqlite: auctions table missing; skipping migration")
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, ok := columns["id"]; !ok {
		if _, err := tx.ExecContext(ctx, `ALTER TABLE auctions ADD COLUMN id TEXT;`); err != nil {
			return fmt.Errorf("sqlite: add id column: %w", err)
		}
		log.Info("sqlite: added id column to auctions")
	}

	steps := []struct {
		query string
		label string
	}{
		{`UPDATE auctions
SET id = json_extract(item_attributes, '$.id')
WHERE id IS NULL
  AND CASE WHEN json_valid(item_attributes) THEN json_type(item_attributes, '$.id') END = 'text';`, "backfill id"},
		{`UPDATE auctions
SET item_attributes = json_remove(item_attributes, '$.id')
WHERE CASE WHEN json_valid(item_attributes) THEN json_type(item_attributes, '$.id') END IS NOT NULL;`, "strip embedded id"},
		{`UPDATE auctions SET item_attributes = '{}' WHERE item_attributes IS NULL OR TRIM(item_attributes) = '';`, "empty attributes"},
	}
	for _, step := range steps {
		res, execErr := tx.ExecContext(ctx, step.query)
		if execErr != nil {
			return fmt.Errorf("sqlite: %s: %w", step.label, execErr)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.Info("sqlite: migrated rows", zap.String("step", step.label), zap.Int64("rows", n))
		}
	}

	if _, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_item_id ON auctions(id);`); err != nil {
		return fmt.Errorf("sqlite: ensure idx_item_id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}

	hasIndex, err := sqliteHasIndex(ctx, db, "auctions", "idx_item_id")
	if err != nil {
		return fmt.Errorf("sqlite: inspect indices: %w", err)
	}
	var withoutID int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auctions WHERE id IS NULL;`).Scan(&withoutID); err != nil {
		return fmt.Errorf("sqlite: count rows without id: %w", err)
	}
	log.Info("sqlite migration done",
		zap.Bool("idx_item_id", hasIndex),
		zap.Int64("rows_without_id", withoutID),
	)
	return nil
}

func sqlitePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	return "(unknown)"
}

func sqliteUserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var userVersion int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&userVersion); err != nil {
		return 0, err
	}
	return userVersion, nil
}

func sqliteTableInfo(ctx context.Context, db *sql.DB, table string) (map[string]sqliteColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]sqliteColumn)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(name))] = sqliteColumn{
			Name:        name,
			Type:        strings.TrimSpace(colType),
			NotNull:     notNull == 1,
			DefaultText: strings.TrimSpace(defaultVal.String),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func sqliteHasIndex(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list('%s');`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), index) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return false, nil
}
