package fake

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parcelwatch/parcelwatch/internal/integrations/provider"
	"github.com/parcelwatch/parcelwatch/internal/models"
	"github.com/pkg/errors"
)

// Client is an in-process provider stand-in for running without a Ship24 API
// key. Status is deterministic per tracking number: a fixed share of numbers
// report delivered, the rest in transit.
type Client struct {
	mu       sync.Mutex
	trackers map[string]provider.TrackerRef
	webhooks map[string]string
}

func New() *Client {
	return &Client{
		trackers: make(map[string]provider.TrackerRef),
		webhooks: make(map[string]string),
	}
}

func (c *Client) TestCredentials(ctx context.Context) (bool, error) {
	return true, nil
}

func (c *Client) FindTracker(ctx context.Context, trackingNumber string) (*provider.TrackerRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref, ok := c.trackers[trackingNumber]; ok {
		return &ref, nil
	}
	return nil, nil
}

func (c *Client) CreateOrGetTracker(ctx context.Context, trackingNumber string) (*models.PackageRecord, error) {
	c.mu.Lock()
	if _, ok := c.trackers[trackingNumber]; !ok {
		c.trackers[trackingNumber] = provider.TrackerRef{
			TrackerID:      uuid.NewString(),
			TrackingNumber: trackingNumber,
		}
	}
	c.mu.Unlock()
	return c.GetTracker(ctx, trackingNumber)
}

func (c *Client) GetTracker(ctx context.Context, trackingNumber string) (*models.PackageRecord, error) {
	c.mu.Lock()
	ref, ok := c.trackers[trackingNumber]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}

	now := time.Now().UTC()

	h := fnv.New32a()
	_, _ = h.Write([]byte(trackingNumber))
	v := h.Sum32()

	// 20% of numbers count as delivered.
	status, text := models.StatusInTransit, "In Transit"
	if v%5 == 0 {
		status, text = models.StatusDelivered, "Delivered"
	}

	loc := "Sorting center"
	desc := "fake carrier update"
	trackerID := ref.TrackerID
	ts := now.Add(-time.Hour)
	return &models.PackageRecord{
		TrackingNumber: trackingNumber,
		Status:         status,
		StatusText:     text,
		LastUpdate:     &ts,
		Location:       &loc,
		TrackerID:      &trackerID,
		Events: []models.TrackingEvent{
			{
				Timestamp:   ts,
				Location:    &loc,
				Status:      status,
				StatusText:  text,
				Description: &desc,
			},
		},
	}, nil
}

func (c *Client) DeleteTracker(ctx context.Context, trackingNumber string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.trackers[trackingNumber]; !ok {
		return false, nil
	}
	delete(c.trackers, trackingNumber)
	return true, nil
}

func (c *Client) RegisterWebhook(ctx context.Context, url string) (string, error) {
	id := uuid.NewString()
	c.mu.Lock()
	c.webhooks[id] = url
	c.mu.Unlock()
	return id, nil
}

func (c *Client) DeleteWebhook(ctx context.Context, webhookID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.webhooks[webhookID]; !ok {
		return false, nil
	}
	delete(c.webhooks, webhookID)
	return true, nil
}

// ParseWebhook accepts the Ship24 webhook shape and produces a minimal
// record, enough for exercising the reconciliation path end to end.
func (c *Client) ParseWebhook(payload []byte) (*models.PackageRecord, error) {
	var body struct {
		Trackings []struct {
			Tracker struct {
				TrackingNumber string `json:"trackingNumber"`
				TrackerID      string `json:"trackerId"`
			} `json:"tracker"`
			Shipment struct {
				StatusMilestone string `json:"statusMilestone"`
			} `json:"shipment"`
		} `json:"trackings"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, provider.MalformedError("webhook", err)
	}
	if len(body.Trackings) == 0 {
		return nil, nil
	}
	t := body.Trackings[0]
	if t.Tracker.TrackingNumber == "" {
		return nil, provider.MalformedError("webhook", errors.New("missing tracking number in webhook"))
	}
	return c.GetTracker(context.Background(), t.Tracker.TrackingNumber)
}
