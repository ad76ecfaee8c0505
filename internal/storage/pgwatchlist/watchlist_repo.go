package pgwatchlist

import (
	"context"
	"time"

	"github.com/parcelwatch/parcelwatch/internal/models"
	"github.com/pkg/errors"
)

// Load returns all watched entries in insertion order. The reconciler
// reloads this once at startup; afterwards the in-memory set is the truth
// and writes here keep the two in sync.
func (s *Storage) Load(ctx context.Context) ([]models.WatchlistEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT tracking_number, custom_name, created_at
FROM watchlist
ORDER BY position ASC
`)
	if err != nil {
		return nil, errors.Wrap(err, "select watchlist")
	}
	defer rows.Close()

	var out []models.WatchlistEntry
	for rows.Next() {
		var e models.WatchlistEntry
		if err := rows.Scan(&e.TrackingNumber, &e.CustomName, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan watchlist entry")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// Upsert inserts or renames one watched tracking number.
func (s *Storage) Upsert(ctx context.Context, trackingNumber string, customName *string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO watchlist (tracking_number, custom_name, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (tracking_number)
DO UPDATE SET custom_name = EXCLUDED.custom_name
`, trackingNumber, customName, time.Now().UTC())
	return errors.Wrap(err, "upsert watchlist entry")
}

// Remove deletes one entry. Returns false when it was not present.
func (s *Storage) Remove(ctx context.Context, trackingNumber string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM watchlist WHERE tracking_number = $1`, trackingNumber)
	if err != nil {
		return false, errors.Wrap(err, "delete watchlist entry")
	}
	return tag.RowsAffected() > 0, nil
}
