package provider

import (
	"context"

	"github.com/parcelwatch/parcelwatch/internal/models"
)

// TrackerRef identifies a server-side tracker on the upstream provider.
type TrackerRef struct {
	TrackerID      string
	TrackingNumber string
	CourierCode    []string
}

// Client performs one logical tracking-provider operation as an authenticated
// network call. Implementations classify failures via the Error taxonomy in
// this package so callers can switch on the kind instead of matching message
// text.
type Client interface {
	// TestCredentials issues one cheap read. Auth failures return (false, nil);
	// only unexpected failures produce an error.
	TestCredentials(ctx context.Context) (bool, error)

	// FindTracker searches the provider's active trackers (subscribed and
	// tracked) for the given tracking number. Returns (nil, nil) when absent.
	FindTracker(ctx context.Context, trackingNumber string) (*TrackerRef, error)

	// CreateOrGetTracker creates a tracker, or, if one already exists for the
	// tracking number, fetches its current results instead of creating a
	// duplicate. The result is the normalized record.
	CreateOrGetTracker(ctx context.Context, trackingNumber string) (*models.PackageRecord, error)

	// GetTracker fetches current state for an existing tracker. Returns
	// (nil, nil) when the provider reports the tracker as absent.
	GetTracker(ctx context.Context, trackingNumber string) (*models.PackageRecord, error)

	// DeleteTracker removes the tracker upstream. The reconciler never calls
	// this: removing a package locally must not delete upstream history.
	DeleteTracker(ctx context.Context, trackingNumber string) (bool, error)

	RegisterWebhook(ctx context.Context, url string) (string, error)
	DeleteWebhook(ctx context.Context, webhookID string) (bool, error)

	// ParseWebhook normalizes an inbound push payload. Returns (nil, nil) for
	// a payload carrying no trackings.
	ParseWebhook(payload []byte) (*models.PackageRecord, error)
}
