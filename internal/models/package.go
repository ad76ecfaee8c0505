package models

import "time"

// Normalized package statuses (closed set; unrecognized upstream values map to unknown).
const (
	StatusPending        = "pending"
	StatusInTransit      = "in_transit"
	StatusOutForDelivery = "out_for_delivery"
	StatusDelivered      = "delivered"
	StatusException      = "exception"
	StatusUnknown        = "unknown"
)

// TrackingEvent is one point in a shipment's history. Immutable once built.
type TrackingEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	Location    *string        `json:"location,omitempty"`
	Status      string         `json:"status,omitempty"`
	StatusText  string         `json:"status_text,omitempty"`
	Description *string        `json:"description,omitempty"`
	Latitude    *float64       `json:"latitude,omitempty"`
	Longitude   *float64       `json:"longitude,omitempty"`
	RawData     map[string]any `json:"-"`
}

// PackageRecord is the canonical per-shipment snapshot. It is replaced
// wholesale on every successful refresh; only CustomName is carried forward
// from the previous in-memory record.
type PackageRecord struct {
	TrackingNumber    string          `json:"tracking_number"`
	Status            string          `json:"status"`
	StatusText        string          `json:"status_text"`
	Carrier           *string         `json:"carrier,omitempty"`
	CarrierCode       *string         `json:"carrier_code,omitempty"`
	LastUpdate        *time.Time      `json:"last_update,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery,omitempty"`
	Location          *string         `json:"location,omitempty"`
	Latitude          *float64        `json:"latitude,omitempty"`
	Longitude         *float64        `json:"longitude,omitempty"`
	Events            []TrackingEvent `json:"events"`
	CustomName        *string         `json:"custom_name,omitempty"`
	TrackerID         *string         `json:"tracker_id,omitempty"`
	RawData           map[string]any  `json:"-"`
}

// LatestEvent returns the most recent event. Events are kept ascending by
// timestamp, so this is the last element.
func (p *PackageRecord) LatestEvent() *TrackingEvent {
	if len(p.Events) == 0 {
		return nil
	}
	return &p.Events[len(p.Events)-1]
}

// Clone returns a shallow copy with its own events slice, so callers cannot
// mutate the store's cached record through the returned pointer.
func (p *PackageRecord) Clone() *PackageRecord {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Events != nil {
		cp.Events = make([]TrackingEvent, len(p.Events))
		copy(cp.Events, p.Events)
	}
	return &cp
}

// WatchlistEntry is one persisted row of the watch list.
type WatchlistEntry struct {
	TrackingNumber string
	CustomName     *string
	CreatedAt      time.Time
}
