package messages

import "time"

// Update sources, recorded on every published notification.
const (
	SourceAdd     = "add"
	SourceSweep   = "sweep"
	SourceManual  = "manual"
	SourceWebhook = "webhook"
)

// PackageUpdated is published after every successful refresh of one package.
// Consumers must treat it as a hint and re-read authoritative state; delivery
// is at-least-once.
type PackageUpdated struct {
	TrackingNumber string     `json:"tracking_number"`
	Status         string     `json:"status"`
	StatusText     string     `json:"status_text,omitempty"`
	CustomName     *string    `json:"custom_name,omitempty"`
	CheckedAt      time.Time  `json:"checked_at"`
	LastUpdate     *time.Time `json:"last_update,omitempty"`
	EventCount     int        `json:"event_count"`
	Source         string     `json:"source"`
}
