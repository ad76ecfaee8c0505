package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parcelwatch/parcelwatch/internal/broker/messages"
	"github.com/parcelwatch/parcelwatch/internal/cache"
	"github.com/parcelwatch/parcelwatch/internal/cache/rediscache"
	"github.com/parcelwatch/parcelwatch/internal/integrations/provider"
	"github.com/parcelwatch/parcelwatch/internal/metrics"
	"github.com/parcelwatch/parcelwatch/internal/models"
	"github.com/pkg/errors"
)

// Watchlist persists the set of watched tracking numbers and their custom
// names. The store loads it once at startup; afterwards the in-memory set is
// authoritative and every mutation is written through.
type Watchlist interface {
	Load(ctx context.Context) ([]models.WatchlistEntry, error)
	Upsert(ctx context.Context, trackingNumber string, customName *string) error
	Remove(ctx context.Context, trackingNumber string) (bool, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Store owns the watch list and the cache of last-known normalized records.
// Every trigger surface (timer, manual action, webhook) funnels through its
// methods; nothing else mutates the cache. Cached records survive failed
// refreshes, so a package that stops resolving keeps showing its last good
// state.
type Store struct {
	client    provider.Client
	watchlist Watchlist

	producer Producer
	topic    string

	mirror    cache.BytesCache
	mirrorTTL time.Duration

	mu      sync.RWMutex
	order   []string
	watched map[string]struct{}
	records map[string]*models.PackageRecord
	// names holds user-assigned labels for packages that have no cached
	// record yet (loaded from the watchlist before the first refresh).
	names map[string]*string

	lastMessage string
	lastError   string
}

func New(client provider.Client, wl Watchlist) *Store {
	return &Store{
		client:    client,
		watchlist: wl,
		watched:   make(map[string]struct{}),
		records:   make(map[string]*models.PackageRecord),
		names:     make(map[string]*string),
	}
}

// WithPublisher enables Kafka notifications after successful refreshes.
func (s *Store) WithPublisher(p Producer, topic string) *Store {
	s.producer = p
	s.topic = topic
	return s
}

// WithMirror enables the best-effort record mirror for external readers.
func (s *Store) WithMirror(c cache.BytesCache, ttl time.Duration) *Store {
	s.mirror = c
	s.mirrorTTL = ttl
	return s
}

// LoadWatchlist reloads the persisted watch list into the in-memory set.
// Records are not restored: the cache is rebuilt from upstream on the first
// sweep.
func (s *Store) LoadWatchlist(ctx context.Context) error {
	entries, err := s.watchlist.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load watchlist")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, ok := s.watched[e.TrackingNumber]; ok {
			continue
		}
		s.watched[e.TrackingNumber] = struct{}{}
		s.order = append(s.order, e.TrackingNumber)
		if e.CustomName != nil {
			s.names[e.TrackingNumber] = e.CustomName
		}
	}
	slog.Info("watchlist loaded", "count", len(entries))
	return nil
}

// Add starts tracking one package: create-or-get upstream, normalize, apply
// the custom name, persist, cache. On any failure the identifier is not
// added anywhere; there is no partial state.
func (s *Store) Add(ctx context.Context, trackingNumber string, customName *string) (*models.PackageRecord, error) {
	if trackingNumber == "" {
		return nil, errors.New("trackingNumber is required")
	}

	rec, err := s.client.CreateOrGetTracker(ctx, trackingNumber)
	if err != nil {
		s.setOutcome("", fmt.Sprintf("add %s: %v", trackingNumber, err))
		return nil, err
	}
	if rec == nil {
		err := errors.Errorf("provider returned no tracker for %s", trackingNumber)
		s.setOutcome("", err.Error())
		return nil, err
	}
	if customName != nil {
		rec.CustomName = customName
	}

	if err := s.watchlist.Upsert(ctx, trackingNumber, customName); err != nil {
		s.setOutcome("", fmt.Sprintf("persist %s: %v", trackingNumber, err))
		return nil, err
	}

	s.mu.Lock()
	if _, ok := s.watched[trackingNumber]; !ok {
		s.watched[trackingNumber] = struct{}{}
		s.order = append(s.order, trackingNumber)
	}
	if customName != nil {
		s.names[trackingNumber] = customName
	}
	s.records[trackingNumber] = rec
	s.mu.Unlock()

	s.setOutcome(fmt.Sprintf("added %s", trackingNumber), "")
	s.fanOut(ctx, rec, messages.SourceAdd)
	return rec.Clone(), nil
}

// Remove stops tracking locally. It never deletes the tracker upstream:
// other consumers of the same tracker may exist, and upstream history must
// survive local removal. Returns false when the number was not tracked.
func (s *Store) Remove(ctx context.Context, trackingNumber string) (bool, error) {
	s.mu.RLock()
	_, tracked := s.watched[trackingNumber]
	s.mu.RUnlock()
	if !tracked {
		return false, nil
	}

	if _, err := s.watchlist.Remove(ctx, trackingNumber); err != nil {
		s.setOutcome("", fmt.Sprintf("remove %s: %v", trackingNumber, err))
		return false, err
	}

	s.mu.Lock()
	delete(s.watched, trackingNumber)
	delete(s.records, trackingNumber)
	delete(s.names, trackingNumber)
	for i, tn := range s.order {
		if tn == trackingNumber {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.setOutcome(fmt.Sprintf("removed %s", trackingNumber), "")
	return true, nil
}

// Get returns the cached record. A watched package that has never refreshed
// successfully has no record yet.
func (s *Store) Get(trackingNumber string) (*models.PackageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[trackingNumber]
	return rec.Clone(), ok
}

// GetAll returns cached records in watch-list order, skipping packages not
// yet fetched.
func (s *Store) GetAll() []*models.PackageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PackageRecord, 0, len(s.order))
	for _, tn := range s.order {
		if rec, ok := s.records[tn]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// TrackedNumbers returns the current watch list in order.
func (s *Store) TrackedNumbers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// SetCustomName assigns or clears the user label. Returns false when the
// number is not tracked. The label survives every subsequent refresh.
func (s *Store) SetCustomName(ctx context.Context, trackingNumber string, customName *string) (bool, error) {
	s.mu.RLock()
	_, tracked := s.watched[trackingNumber]
	s.mu.RUnlock()
	if !tracked {
		return false, nil
	}

	if err := s.watchlist.Upsert(ctx, trackingNumber, customName); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.names[trackingNumber] = customName
	if rec, ok := s.records[trackingNumber]; ok {
		rec.CustomName = customName
	}
	s.mu.Unlock()
	return true, nil
}

// RefreshOne fetches and normalizes one package, carrying the custom name
// forward over the wholesale record replacement. Returns (nil, nil) when the
// provider reports the tracker as absent.
func (s *Store) RefreshOne(ctx context.Context, trackingNumber string) (*models.PackageRecord, error) {
	rec, err := s.refreshInto(ctx, trackingNumber, messages.SourceManual)
	if err != nil {
		s.setOutcome("", fmt.Sprintf("refresh %s: %v", trackingNumber, err))
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	s.setOutcome(fmt.Sprintf("refreshed %s", trackingNumber), "")
	return rec.Clone(), nil
}

func (s *Store) refreshInto(ctx context.Context, trackingNumber, source string) (*models.PackageRecord, error) {
	rec, err := s.client.GetTracker(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		slog.Warn("tracker not found upstream", "tracking_number", trackingNumber)
		return nil, nil
	}

	s.mu.Lock()
	if prev, ok := s.records[trackingNumber]; ok {
		rec.CustomName = prev.CustomName
	} else if name, ok := s.names[trackingNumber]; ok {
		rec.CustomName = name
	}
	s.records[trackingNumber] = rec
	s.mu.Unlock()

	s.fanOut(ctx, rec, source)
	return rec, nil
}

// SweepResult is the aggregate outcome of one refresh_all pass.
type SweepResult struct {
	Records  map[string]*models.PackageRecord
	Failures map[string]error
}

// RefreshAll is the periodic sweep. Items are refreshed sequentially with
// strict per-item isolation: one failing package never blocks the rest.
// The sweep itself fails only when nothing succeeded and at least one
// failure is non-retryable; an all-retryable wipeout means "try again
// later", not "broken".
func (s *Store) RefreshAll(ctx context.Context) (*SweepResult, error) {
	numbers := s.TrackedNumbers()

	res := &SweepResult{
		Records:  make(map[string]*models.PackageRecord, len(numbers)),
		Failures: make(map[string]error),
	}
	retryableFailures := 0

	for _, tn := range numbers {
		rec, err := s.refreshInto(ctx, tn, messages.SourceSweep)
		if err != nil {
			res.Failures[tn] = err
			if provider.IsRetryable(err) {
				retryableFailures++
				metrics.RefreshItems.WithLabelValues("retryable_error").Inc()
			} else {
				metrics.RefreshItems.WithLabelValues("error").Inc()
			}
			slog.Error("refresh package", "tracking_number", tn, "error", err.Error())
			continue
		}
		if rec == nil {
			// Absent upstream: keep whatever we had cached.
			metrics.RefreshItems.WithLabelValues("missing").Inc()
			continue
		}
		res.Records[tn] = rec.Clone()
		metrics.RefreshItems.WithLabelValues("ok").Inc()
	}

	failed := len(res.Failures)
	switch {
	case failed == 0:
		metrics.Sweeps.WithLabelValues("ok").Inc()
		s.setOutcome(fmt.Sprintf("refreshed %d packages", len(res.Records)), "")
	case len(res.Records) > 0:
		// Partial success is not fatal; failures are reported, not raised.
		metrics.Sweeps.WithLabelValues("partial").Inc()
		s.setOutcome(
			fmt.Sprintf("refreshed %d/%d packages", len(res.Records), len(numbers)),
			sweepErrorSummary(res.Failures),
		)
	case retryableFailures == failed:
		// Nothing succeeded but everything can self-heal.
		metrics.Sweeps.WithLabelValues("retryable").Inc()
		s.setOutcome(
			fmt.Sprintf("all %d refreshes hit transient errors, will retry", failed),
			sweepErrorSummary(res.Failures),
		)
	default:
		metrics.Sweeps.WithLabelValues("fatal").Inc()
		summary := sweepErrorSummary(res.Failures)
		s.setOutcome("", summary)
		return res, errors.Errorf("refresh sweep failed: %s", summary)
	}

	return res, nil
}

// ProcessWebhook merges a push payload for a watched package and returns the
// record, or nil when the payload is empty or the package is not watched.
// Webhooks never auto-add packages.
func (s *Store) ProcessWebhook(ctx context.Context, payload []byte) (*models.PackageRecord, error) {
	rec, err := s.client.ParseWebhook(payload)
	if err != nil {
		s.setOutcome("", fmt.Sprintf("webhook: %v", err))
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	s.mu.Lock()
	if _, watched := s.watched[rec.TrackingNumber]; !watched {
		s.mu.Unlock()
		slog.Info("webhook for unwatched package ignored", "tracking_number", rec.TrackingNumber)
		return nil, nil
	}
	if prev, ok := s.records[rec.TrackingNumber]; ok {
		rec.CustomName = prev.CustomName
	} else if name, ok := s.names[rec.TrackingNumber]; ok {
		rec.CustomName = name
	}
	s.records[rec.TrackingNumber] = rec
	s.mu.Unlock()

	s.setOutcome(fmt.Sprintf("webhook update for %s", rec.TrackingNumber), "")
	s.fanOut(ctx, rec, messages.SourceWebhook)
	return rec.Clone(), nil
}

// LastOutcome returns the rolling "last message" / "last error" pair for
// operators. A successful action clears the prior error.
func (s *Store) LastOutcome() (message, lastErr string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMessage, s.lastError
}

func (s *Store) setOutcome(message, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message != "" {
		s.lastMessage = message
	}
	s.lastError = lastErr
}

// fanOut publishes the update notification and refreshes the Redis mirror.
// Both are best-effort: they never fail the refresh that produced them.
func (s *Store) fanOut(ctx context.Context, rec *models.PackageRecord, source string) {
	if s.producer != nil && s.topic != "" {
		msg := messages.PackageUpdated{
			TrackingNumber: rec.TrackingNumber,
			Status:         rec.Status,
			StatusText:     rec.StatusText,
			CustomName:     rec.CustomName,
			CheckedAt:      time.Now().UTC(),
			LastUpdate:     rec.LastUpdate,
			EventCount:     len(rec.Events),
			Source:         source,
		}
		b, err := json.Marshal(msg)
		if err == nil {
			if err := s.producer.Publish(ctx, s.topic, []byte(rec.TrackingNumber), b); err != nil {
				slog.Warn("publish package update", "tracking_number", rec.TrackingNumber, "error", err.Error())
			}
		}
	}

	if s.mirror != nil && s.mirrorTTL > 0 {
		b, err := json.Marshal(rec)
		if err == nil {
			if err := s.mirror.Set(ctx, rediscache.PackageKey(rec.TrackingNumber), b, s.mirrorTTL); err != nil {
				slog.Warn("mirror package record", "tracking_number", rec.TrackingNumber, "error", err.Error())
			}
		}
	}
}

func sweepErrorSummary(failures map[string]error) string {
	for tn, err := range failures {
		if len(failures) == 1 {
			return fmt.Sprintf("%s: %v", tn, err)
		}
		return fmt.Sprintf("%d packages failed, e.g. %s: %v", len(failures), tn, err)
	}
	return ""
}
