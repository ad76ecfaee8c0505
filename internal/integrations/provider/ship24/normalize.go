package ship24

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/parcelwatch/parcelwatch/internal/integrations/provider"
	"github.com/parcelwatch/parcelwatch/internal/models"
	"github.com/pkg/errors"
)

// Fallback layouts tried after RFC3339. Ship24 is usually ISO-8601 with a
// trailing Z, but carriers leak their own formats through.
var fallbackLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp field candidates on a raw event, in priority order.
var eventTimestampFields = []string{
	"occurrenceDatetime",
	"occurredAt",
	"datetime",
	"timestamp",
}

// Normalize converts one Ship24 response to the canonical record. It accepts
// the three envelope shapes the API produces: a "trackings" array wrapper, a
// singular "tracking" wrapper, and a bare tracking object, checked in that
// order. A missing tracking number is a hard error; everything else degrades
// to null/unknown.
func Normalize(raw map[string]any) (*models.PackageRecord, error) {
	data := getMap(raw, "data")
	if data == nil {
		data = raw
	}

	var tracking map[string]any
	if list := getList(data, "trackings"); len(list) > 0 {
		tracking, _ = list[0].(map[string]any)
	}
	if tracking == nil {
		tracking = getMap(data, "tracking")
	}
	if tracking == nil {
		tracking = data
	}

	tracker := getMap(tracking, "tracker")
	shipment := getMap(tracking, "shipment")
	rawEvents := getList(tracking, "events")

	trackingNumber := getString(tracker, "trackingNumber")
	if trackingNumber == "" {
		return nil, provider.MalformedError("normalize", errors.New("missing tracking number in response"))
	}

	status, statusText := mapMilestone(
		getString(shipment, "statusMilestone"),
		getString(shipment, "statusCode"),
	)

	events := parseEvents(rawEvents)

	rec := &models.PackageRecord{
		TrackingNumber: trackingNumber,
		Status:         status,
		StatusText:     statusText,
		Events:         events,
		RawData:        raw,
	}

	if latest := rec.LatestEvent(); latest != nil {
		rec.Location = latest.Location
		rec.Latitude = latest.Latitude
		rec.Longitude = latest.Longitude
		ts := latest.Timestamp
		rec.LastUpdate = &ts
	} else {
		rec.LastUpdate = milestoneTimestamp(tracking)
	}

	if cc := carrierCode(tracker, rec.LatestEvent()); cc != "" {
		rec.Carrier = &cc
		rec.CarrierCode = &cc
	}

	delivery := getMap(shipment, "delivery")
	rec.EstimatedDelivery = parseDatetime(getString(delivery, "estimatedDeliveryDate"))

	if id := getString(tracker, "trackerId"); id != "" {
		rec.TrackerID = &id
	}

	return rec, nil
}

// NormalizeWebhook handles a push payload: element 0 of the trackings array,
// re-wrapped into the live-fetch envelope. An empty array produces no record
// and no error; webhooks are single-shipment-per-call.
func NormalizeWebhook(payload map[string]any) (*models.PackageRecord, error) {
	trackings := getList(payload, "trackings")
	if len(trackings) == 0 {
		slog.Warn("webhook payload has no trackings")
		return nil, nil
	}
	return Normalize(map[string]any{
		"data": map[string]any{"trackings": []any{trackings[0]}},
	})
}

// mapMilestone maps Ship24's statusMilestone to the closed status set, then
// lets statusCode override with a more specific result when it matches a
// recognized pattern.
func mapMilestone(milestone, statusCode string) (string, string) {
	if milestone == "" {
		return models.StatusUnknown, "Unknown"
	}

	var status, text string
	switch strings.ToLower(milestone) {
	case "info_received":
		status, text = models.StatusPending, "Info Received"
	case "in_transit":
		status, text = models.StatusInTransit, "In Transit"
	case "out_for_delivery":
		status, text = models.StatusOutForDelivery, "Out for Delivery"
	case "delivered":
		status, text = models.StatusDelivered, "Delivered"
	case "exception":
		status, text = models.StatusException, "Exception"
	case "failed_attempt":
		status, text = models.StatusException, "Failed Attempt"
	case "available_for_pickup":
		status, text = models.StatusInTransit, "Available for Pickup"
	default:
		// Unrecognized milestone: keep the raw text visible.
		status, text = models.StatusUnknown, milestone
	}

	if statusCode != "" {
		code := strings.ToLower(statusCode)
		switch {
		case strings.Contains(code, "delivery_delivered"):
			return models.StatusDelivered, "Delivered"
		case strings.Contains(code, "delivery_out_for_delivery"):
			return models.StatusOutForDelivery, "Out for Delivery"
		case strings.Contains(code, "exception"), strings.Contains(code, "failed"):
			return models.StatusException, "Exception"
		}
	}

	return status, text
}

// parseEvents builds TrackingEvents from raw event objects. Events without a
// parseable timestamp are dropped silently: partial event lists are expected.
// The result is sorted ascending by timestamp regardless of upstream order.
func parseEvents(rawEvents []any) []models.TrackingEvent {
	events := make([]models.TrackingEvent, 0, len(rawEvents))
	for _, re := range rawEvents {
		ev, ok := re.(map[string]any)
		if !ok {
			continue
		}

		ts := eventTimestamp(ev)
		if ts == nil {
			continue
		}

		status, statusText := mapMilestone(getString(ev, "statusMilestone"), getString(ev, "statusCode"))
		if s := getString(ev, "status"); s != "" {
			statusText = s
		}

		e := models.TrackingEvent{
			Timestamp:  *ts,
			Status:     status,
			StatusText: statusText,
			RawData:    ev,
		}
		if loc := getString(ev, "location"); loc != "" {
			e.Location = &loc
		}
		if statusText != "" {
			desc := statusText
			e.Description = &desc
		}
		events = append(events, e)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

func eventTimestamp(ev map[string]any) *time.Time {
	for _, field := range eventTimestampFields {
		if s := getString(ev, field); s != "" {
			if ts := parseDatetime(s); ts != nil {
				return ts
			}
		}
	}
	return nil
}

// milestoneTimestamp derives last_update when a tracking has no events, from
// the statistics block's milestone timestamps in priority order.
func milestoneTimestamp(tracking map[string]any) *time.Time {
	timestamps := getMap(getMap(tracking, "statistics"), "timestamps")
	for _, field := range []string{
		"deliveredDatetime",
		"outForDeliveryDatetime",
		"inTransitDatetime",
		"infoReceivedDatetime",
	} {
		if ts := parseDatetime(getString(timestamps, field)); ts != nil {
			return ts
		}
	}
	return nil
}

// carrierCode prefers the most recent event's courier code, then the
// tracker's declared courierCode (first entry when it is a list).
func carrierCode(tracker map[string]any, latest *models.TrackingEvent) string {
	if latest != nil {
		if cc := getString(latest.RawData, "courierCode"); cc != "" {
			return cc
		}
	}
	if codes := stringList(tracker["courierCode"]); len(codes) > 0 {
		return codes[0]
	}
	return ""
}

func parseDatetime(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		u := t.UTC()
		return &u
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	slog.Warn("failed to parse datetime", "value", s)
	return nil
}
