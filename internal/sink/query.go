package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/skyblock-auctions/internal/core"
	"github.com/you/skyblock-auctions/internal/httpapi"
)

const (
	defaultListLimit = 100
	knownIDsChunk    = 500
)

const selectColumns = "auction_id, price, timestamp, bin, id, item_attributes"

// CountAuctions returns the number of stored rows.
func (s *Store) CountAuctions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM auctions;").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

// ListAuctions returns rows ordered and limited by filters.
func (s *Store) ListAuctions(ctx context.Context, filters httpapi.Filters) ([]core.AuctionRecord, error) {
	query, args := s.buildListQuery(filters)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list auctions")
	}
	defer rows.Close()

	out := []core.AuctionRecord{}
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate auctions")
	}
	return out, nil
}

// GetAuction returns the row for auctionID. The boolean is false when no row
// exists.
func (s *Store) GetAuction(ctx context.Context, auctionID string) (core.AuctionRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+s.columns()+" FROM auctions WHERE auction_id = ?;", auctionID)
	rec, err := s.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.AuctionRecord{}, false, nil
	}
	if err != nil {
		return core.AuctionRecord{}, false, err
	}
	return rec, true, nil
}

// KnownIDs returns the subset of ids already stored.
func (s *Store) KnownIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	known := make(map[string]struct{})
	for start := 0; start < len(ids); start += knownIDsChunk {
		end := start + knownIDsChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		rows, err := s.db.QueryContext(ctx, "SELECT auction_id FROM auctions WHERE auction_id IN ("+placeholders+");", args...)
		if err != nil {
			return nil, errors.Wrap(err, "known ids")
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "scan known id")
			}
			known[id] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, errors.Wrap(err, "iterate known ids")
		}
	}
	return known, nil
}

func (s *Store) columns() string {
	if s.dialect.name == "mysql" {
		return strings.Replace(selectColumns, "timestamp", s.dialect.quote("timestamp"), 1)
	}
	return selectColumns
}

func (s *Store) buildListQuery(filters httpapi.Filters) (string, []any) {
	var (
		builder strings.Builder
		args    []any
	)
	builder.WriteString("SELECT ")
	builder.WriteString(s.columns())
	builder.WriteString(" FROM auctions")

	if filters.ItemID != "" {
		builder.WriteString(" WHERE id = ?")
		args = append(args, filters.ItemID)
	}

	sortBy := httpapi.DefaultSort
	for _, c := range httpapi.SortColumns {
		if c == filters.SortBy {
			sortBy = c
			break
		}
	}
	order := "ASC"
	if filters.Order == httpapi.OrderDesc {
		order = "DESC"
	}
	builder.WriteString(" ORDER BY ")
	builder.WriteString(s.dialect.quote(sortBy))
	builder.WriteString(" ")
	builder.WriteString(order)

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	builder.WriteString(" LIMIT ?;")
	args = append(args, limit)
	return builder.String(), args
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRecord(row scanner) (core.AuctionRecord, error) {
	var (
		rec       core.AuctionRecord
		price     sql.NullFloat64
		timestamp sql.NullInt64
		bin       sql.NullBool
		itemID    sql.NullString
		attrs     sql.NullString
	)
	if err := row.Scan(&rec.AuctionID, &price, &timestamp, &bin, &itemID, &attrs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, errors.Wrap(err, "scan auction")
	}
	rec.Price = price.Float64
	rec.Timestamp = timestamp.Int64
	rec.Bin = bin.Bool
	if itemID.Valid {
		id := itemID.String
		rec.ItemID = &id
	}
	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &rec.Attributes); err != nil {
			s.log.Warn("stored item_attributes is not a JSON object",
				zap.String("auction_id", rec.AuctionID), zap.Error(err))
		}
	}
	return rec, nil
}
