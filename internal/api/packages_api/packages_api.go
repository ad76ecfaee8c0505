package packages_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/parcelwatch/parcelwatch/internal/metrics"
	"github.com/parcelwatch/parcelwatch/internal/models"
	"github.com/parcelwatch/parcelwatch/internal/services/sweeper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tracker is the slice of the reconciler the HTTP surface needs.
type Tracker interface {
	Add(ctx context.Context, trackingNumber string, customName *string) (*models.PackageRecord, error)
	Remove(ctx context.Context, trackingNumber string) (bool, error)
	Get(trackingNumber string) (*models.PackageRecord, bool)
	GetAll() []*models.PackageRecord
	TrackedNumbers() []string
	SetCustomName(ctx context.Context, trackingNumber string, customName *string) (bool, error)
	RefreshOne(ctx context.Context, trackingNumber string) (*models.PackageRecord, error)
	ProcessWebhook(ctx context.Context, payload []byte) (*models.PackageRecord, error)
	LastOutcome() (message, lastErr string)
}

// Trigger schedules sweeps; the API never runs a sweep inline.
type Trigger interface {
	Trigger()
	Stats() sweeper.Stats
}

// WebhookManager registers and removes push subscriptions on the provider.
type WebhookManager interface {
	RegisterWebhook(ctx context.Context, url string) (string, error)
	DeleteWebhook(ctx context.Context, webhookID string) (bool, error)
}

type PackagesAPI struct {
	svc      Tracker
	sweeper  Trigger
	webhooks WebhookManager

	// webhookKey is the locally generated routing key in the inbound
	// webhook path; requests with any other key get 404.
	webhookKey string
}

func New(svc Tracker, trigger Trigger, webhooks WebhookManager, webhookKey string) *PackagesAPI {
	return &PackagesAPI{
		svc:        svc,
		sweeper:    trigger,
		webhooks:   webhooks,
		webhookKey: webhookKey,
	}
}

// Routes mounts all host-facing endpoints on r.
func (a *PackagesAPI) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/packages", a.addPackage)
		r.Get("/packages", a.listPackages)
		r.Get("/packages/{trackingNumber}", a.getPackage)
		r.Delete("/packages/{trackingNumber}", a.removePackage)
		r.Post("/packages/{trackingNumber}/refresh", a.refreshPackage)
		r.Put("/packages/{trackingNumber}/name", a.setCustomName)
		r.Post("/refresh", a.refreshAll)
		r.Post("/webhooks", a.registerWebhook)
		r.Delete("/webhooks/{webhookID}", a.deleteWebhook)
	})
	r.Post("/webhook/{key}", a.inboundWebhook)

	r.Get("/stats", a.stats)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
}

type addPackageRequest struct {
	TrackingNumber string  `json:"trackingNumber"`
	CustomName     *string `json:"customName,omitempty"`
}

func (a *PackagesAPI) addPackage(w http.ResponseWriter, r *http.Request) {
	var req addPackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.TrackingNumber == "" {
		writeError(w, http.StatusBadRequest, "trackingNumber is required")
		return
	}

	rec, err := a.svc.Add(r.Context(), req.TrackingNumber, req.CustomName)
	if err != nil {
		slog.Error("add package", "tracking_number", req.TrackingNumber, "error", err.Error())
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *PackagesAPI) listPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"packages": a.svc.GetAll(),
		"tracked":  a.svc.TrackedNumbers(),
	})
}

func (a *PackagesAPI) getPackage(w http.ResponseWriter, r *http.Request) {
	tn := chi.URLParam(r, "trackingNumber")
	rec, ok := a.svc.Get(tn)
	if !ok {
		writeError(w, http.StatusNotFound, "package not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *PackagesAPI) removePackage(w http.ResponseWriter, r *http.Request) {
	tn := chi.URLParam(r, "trackingNumber")
	removed, err := a.svc.Remove(r.Context(), tn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "package not tracked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (a *PackagesAPI) refreshPackage(w http.ResponseWriter, r *http.Request) {
	tn := chi.URLParam(r, "trackingNumber")
	rec, err := a.svc.RefreshOne(r.Context(), tn)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "tracker not found upstream")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type setNameRequest struct {
	CustomName *string `json:"customName"`
}

func (a *PackagesAPI) setCustomName(w http.ResponseWriter, r *http.Request) {
	tn := chi.URLParam(r, "trackingNumber")
	var req setNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	ok, err := a.svc.SetCustomName(r.Context(), tn, req.CustomName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "package not tracked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (a *PackagesAPI) refreshAll(w http.ResponseWriter, r *http.Request) {
	a.sweeper.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": true})
}

type registerWebhookRequest struct {
	URL string `json:"url"`
}

func (a *PackagesAPI) registerWebhook(w http.ResponseWriter, r *http.Request) {
	var req registerWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	id, err := a.webhooks.RegisterWebhook(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"webhookId": id})
}

func (a *PackagesAPI) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhookID")
	deleted, err := a.webhooks.DeleteWebhook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// inboundWebhook receives push notifications from the provider. The contract
// with the sender: 200 means "accepted, don't retry" (including unwatched
// packages), 400 unparseable body, 404 unknown routing key, 500 internal
// failure. A watched update schedules one full sweep; the pushed payload is
// treated as a hint, not a delta.
func (a *PackagesAPI) inboundWebhook(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "key") != a.webhookKey {
		metrics.WebhooksReceived.WithLabelValues("unknown_key").Inc()
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "read body")
		return
	}
	if !json.Valid(body) {
		metrics.WebhooksReceived.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	rec, err := a.svc.ProcessWebhook(r.Context(), body)
	if err != nil {
		slog.Error("process webhook", "error", err.Error())
		metrics.WebhooksReceived.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if rec == nil {
		// Unwatched or empty payload: accepted so the sender stops retrying.
		metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	metrics.WebhooksReceived.WithLabelValues("accepted").Inc()
	a.sweeper.Trigger()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "trackingNumber": rec.TrackingNumber})
}

func (a *PackagesAPI) stats(w http.ResponseWriter, r *http.Request) {
	message, lastErr := a.svc.LastOutcome()
	writeJSON(w, http.StatusOK, map[string]any{
		"sweeper":     a.sweeper.Stats(),
		"lastMessage": message,
		"lastError":   lastErr,
		"tracked":     len(a.svc.TrackedNumbers()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
