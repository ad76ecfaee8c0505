package ship24

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/parcelwatch/parcelwatch/internal/integrations/provider"
	"github.com/parcelwatch/parcelwatch/internal/metrics"
	"github.com/parcelwatch/parcelwatch/internal/models"
	"github.com/pkg/errors"
)

const (
	trackersPath = "/trackers"
	trackPath    = "/trackers/track"
	searchPath   = "/trackers/search"
	webhooksPath = "/webhooks"

	maxAttempts    = 3
	retryBaseDelay = 2 * time.Second
	requestTimeout = 30 * time.Second
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client

	// retryDelay is the exponential-backoff base; tests shrink it.
	retryDelay time.Duration
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.ship24.com/public/v1"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: requestTimeout,
		},
		retryDelay: retryBaseDelay,
	}
}

// request performs one logical API call with bounded retry. Retryable
// transport failures back off as base*2^attempt; non-retryable failures
// propagate immediately. Retry state is local to this call.
func (c *Client) request(ctx context.Context, method, path string, body any) (map[string]any, error) {
	op := fmt.Sprintf("%s %s", method, path)

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request body")
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := c.do(ctx, method, path, payload)
		if err != nil {
			lastErr = err
			if provider.IsRetryable(err) && attempt < maxAttempts-1 {
				delay := c.retryDelay << attempt
				slog.Warn("ship24 request failed, retrying",
					"op", op, "attempt", attempt+1, "delay", delay.String(), "error", err.Error())
				if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
					return nil, sleepErr
				}
				continue
			}
			return nil, err
		}
		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (result map[string]any, err error) {
	op := fmt.Sprintf("%s %s", method, path)

	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		// Method-only label: paths embed tracking numbers.
		metrics.ProviderRequestDuration.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
	}()

	var rdr *bytes.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, provider.NetError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, provider.HTTPError(op, resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, provider.MalformedError(op, err)
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TestCredentials issues one cheap read. Provider auth rejections come back
// as (false, nil); anything unexpected propagates.
func (c *Client) TestCredentials(ctx context.Context) (bool, error) {
	_, err := c.request(ctx, http.MethodGet, trackersPath+"?limit=1", nil)
	if err != nil {
		if code, ok := httpStatus(err); ok && (code == http.StatusUnauthorized || code == http.StatusForbidden) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// listTrackers returns the provider's active trackers: those both subscribed
// and tracked. Inactive trackers are invisible to FindTracker on purpose.
func (c *Client) listTrackers(ctx context.Context) ([]provider.TrackerRef, error) {
	resp, err := c.request(ctx, http.MethodGet, trackersPath, nil)
	if err != nil {
		return nil, err
	}

	data := getMap(resp, "data")
	var out []provider.TrackerRef
	for _, raw := range getList(data, "trackers") {
		t, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if b, _ := t["isSubscribed"].(bool); !b {
			continue
		}
		if b, _ := t["isTracked"].(bool); !b {
			continue
		}
		out = append(out, provider.TrackerRef{
			TrackerID:      getString(t, "trackerId"),
			TrackingNumber: getString(t, "trackingNumber"),
			CourierCode:    stringList(t["courierCode"]),
		})
	}
	return out, nil
}

func (c *Client) FindTracker(ctx context.Context, trackingNumber string) (*provider.TrackerRef, error) {
	trackers, err := c.listTrackers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range trackers {
		if trackers[i].TrackingNumber == trackingNumber {
			return &trackers[i], nil
		}
	}
	return nil, nil
}

// CreateOrGetTracker is idempotent by lookup: the upstream API errors or
// duplicates on re-creation, so an existing tracker is fetched instead.
func (c *Client) CreateOrGetTracker(ctx context.Context, trackingNumber string) (*models.PackageRecord, error) {
	existing, err := c.FindTracker(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		slog.Info("tracker already exists, fetching results", "tracking_number", trackingNumber)
		return c.GetTracker(ctx, trackingNumber)
	}

	resp, err := c.request(ctx, http.MethodPost, trackPath, map[string]any{
		"trackingNumber": trackingNumber,
	})
	if err != nil {
		return nil, err
	}
	return Normalize(resp)
}

// GetTracker fetches current results for an existing tracker. A provider 404
// means the tracker is absent, reported as (nil, nil).
func (c *Client) GetTracker(ctx context.Context, trackingNumber string) (*models.PackageRecord, error) {
	path := fmt.Sprintf("%s/%s/results", searchPath, url.PathEscape(trackingNumber))
	resp, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		if code, ok := httpStatus(err); ok && code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return Normalize(resp)
}

func (c *Client) DeleteTracker(ctx context.Context, trackingNumber string) (bool, error) {
	path := fmt.Sprintf("%s/%s", trackersPath, url.PathEscape(trackingNumber))
	if _, err := c.request(ctx, http.MethodDelete, path, nil); err != nil {
		if code, ok := httpStatus(err); ok && code == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) RegisterWebhook(ctx context.Context, webhookURL string) (string, error) {
	resp, err := c.request(ctx, http.MethodPost, webhooksPath, map[string]any{
		"url": webhookURL,
	})
	if err != nil {
		return "", err
	}
	data := getMap(resp, "data")
	id := getString(data, "webhookId")
	if id == "" {
		id = getString(getMap(data, "webhook"), "webhookId")
	}
	if id == "" {
		return "", provider.MalformedError("POST "+webhooksPath, errors.New("response has no webhookId"))
	}
	return id, nil
}

func (c *Client) DeleteWebhook(ctx context.Context, webhookID string) (bool, error) {
	path := fmt.Sprintf("%s/%s", webhooksPath, url.PathEscape(webhookID))
	if _, err := c.request(ctx, http.MethodDelete, path, nil); err != nil {
		if code, ok := httpStatus(err); ok && code == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ParseWebhook normalizes an inbound push payload: a trackings array of which
// only element 0 is taken, re-wrapped into the live-fetch envelope so both
// paths share one normalization.
func (c *Client) ParseWebhook(payload []byte) (*models.PackageRecord, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, provider.MalformedError("webhook", err)
	}
	return NormalizeWebhook(raw)
}

func httpStatus(err error) (int, bool) {
	var pe *provider.Error
	if errors.As(err, &pe) && pe.Kind == provider.KindHTTPStatus {
		return pe.StatusCode, true
	}
	return 0, false
}
