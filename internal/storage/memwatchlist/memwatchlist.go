package memwatchlist

import (
	"context"
	"sync"
	"time"

	"github.com/parcelwatch/parcelwatch/internal/models"
)

// Storage keeps the watch list in memory, for tests and for demo runs
// without a database. Entries keep insertion order like the pg storage.
type Storage struct {
	mu      sync.Mutex
	entries []models.WatchlistEntry
}

func New() *Storage {
	return &Storage{}
}

func (s *Storage) Load(ctx context.Context) ([]models.WatchlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.WatchlistEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *Storage) Upsert(ctx context.Context, trackingNumber string, customName *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].TrackingNumber == trackingNumber {
			s.entries[i].CustomName = customName
			return nil
		}
	}
	s.entries = append(s.entries, models.WatchlistEntry{
		TrackingNumber: trackingNumber,
		CustomName:     customName,
		CreatedAt:      time.Now().UTC(),
	})
	return nil
}

func (s *Storage) Remove(ctx context.Context, trackingNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].TrackingNumber == trackingNumber {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
