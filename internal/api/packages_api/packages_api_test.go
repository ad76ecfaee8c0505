package packages_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/parcelwatch/parcelwatch/internal/models"
	"github.com/parcelwatch/parcelwatch/internal/services/sweeper"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type stubTracker struct {
	records map[string]*models.PackageRecord
	order   []string

	addErr     error
	webhookRec *models.PackageRecord
	webhookErr error
}

func newStubTracker() *stubTracker {
	return &stubTracker{records: make(map[string]*models.PackageRecord)}
}

func (s *stubTracker) Add(ctx context.Context, tn string, customName *string) (*models.PackageRecord, error) {
	if s.addErr != nil {
		return nil, s.addErr
	}
	rec := &models.PackageRecord{TrackingNumber: tn, Status: models.StatusPending, CustomName: customName}
	s.records[tn] = rec
	s.order = append(s.order, tn)
	return rec, nil
}

func (s *stubTracker) Remove(ctx context.Context, tn string) (bool, error) {
	if _, ok := s.records[tn]; !ok {
		return false, nil
	}
	delete(s.records, tn)
	return true, nil
}

func (s *stubTracker) Get(tn string) (*models.PackageRecord, bool) {
	rec, ok := s.records[tn]
	return rec, ok
}

func (s *stubTracker) GetAll() []*models.PackageRecord {
	out := make([]*models.PackageRecord, 0, len(s.order))
	for _, tn := range s.order {
		if rec, ok := s.records[tn]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func (s *stubTracker) TrackedNumbers() []string { return s.order }

func (s *stubTracker) SetCustomName(ctx context.Context, tn string, customName *string) (bool, error) {
	rec, ok := s.records[tn]
	if !ok {
		return false, nil
	}
	rec.CustomName = customName
	return true, nil
}

func (s *stubTracker) RefreshOne(ctx context.Context, tn string) (*models.PackageRecord, error) {
	rec, ok := s.records[tn]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func (s *stubTracker) ProcessWebhook(ctx context.Context, payload []byte) (*models.PackageRecord, error) {
	return s.webhookRec, s.webhookErr
}

func (s *stubTracker) LastOutcome() (string, string) { return "ok", "" }

type stubTrigger struct {
	triggers atomic.Int32
}

func (s *stubTrigger) Trigger()             { s.triggers.Add(1) }
func (s *stubTrigger) Stats() sweeper.Stats { return sweeper.Stats{} }

type stubWebhooks struct {
	registerErr error
}

func (s *stubWebhooks) RegisterWebhook(ctx context.Context, url string) (string, error) {
	if s.registerErr != nil {
		return "", s.registerErr
	}
	return "wh-1", nil
}

func (s *stubWebhooks) DeleteWebhook(ctx context.Context, webhookID string) (bool, error) {
	return webhookID == "wh-1", nil
}

func newTestServer(t *testing.T, svc Tracker, trg Trigger) (*httptest.Server, *stubTrigger) {
	t.Helper()
	st, _ := trg.(*stubTrigger)
	r := chi.NewRouter()
	New(svc, trg, &stubWebhooks{}, "secret-key").Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp
}

func TestAPI_AddListRemove(t *testing.T) {
	srv, _ := newTestServer(t, newStubTracker(), &stubTrigger{})

	resp := postJSON(t, srv.URL+"/v1/packages", `{"trackingNumber":"PKG1","customName":"gift"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec models.PackageRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	resp.Body.Close()
	require.Equal(t, "PKG1", rec.TrackingNumber)

	resp, err := http.Get(srv.URL + "/v1/packages")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Packages []*models.PackageRecord `json:"packages"`
		Tracked  []string                `json:"tracked"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Packages, 1)
	require.Equal(t, []string{"PKG1"}, list.Tracked)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/packages/PKG1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_AddValidation(t *testing.T) {
	srv, _ := newTestServer(t, newStubTracker(), &stubTrigger{})

	resp := postJSON(t, srv.URL+"/v1/packages", `{"trackingNumber":""}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/packages", `not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_AddProviderFailure(t *testing.T) {
	svc := newStubTracker()
	svc.addErr = errors.New("provider GET /trackers: http 502")
	srv, _ := newTestServer(t, svc, &stubTrigger{})

	resp := postJSON(t, srv.URL+"/v1/packages", `{"trackingNumber":"PKG1"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_RefreshAllIsAsync(t *testing.T) {
	srv, trg := newTestServer(t, newStubTracker(), &stubTrigger{})

	resp := postJSON(t, srv.URL+"/v1/refresh", ``)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	require.Equal(t, int32(1), trg.triggers.Load())
}

func TestAPI_InboundWebhook(t *testing.T) {
	svc := newStubTracker()
	svc.webhookRec = &models.PackageRecord{TrackingNumber: "PKG1", Status: models.StatusDelivered}
	srv, trg := newTestServer(t, svc, &stubTrigger{})

	resp := postJSON(t, srv.URL+"/webhook/secret-key", `{"trackings":[{}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, "ok", out["status"])

	// A watched update schedules one full sweep.
	require.Equal(t, int32(1), trg.triggers.Load())
}

func TestAPI_InboundWebhook_WrongKey(t *testing.T) {
	srv, trg := newTestServer(t, newStubTracker(), &stubTrigger{})

	resp := postJSON(t, srv.URL+"/webhook/wrong", `{"trackings":[]}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
	require.Zero(t, trg.triggers.Load())
}

func TestAPI_InboundWebhook_InvalidBody(t *testing.T) {
	srv, trg := newTestServer(t, newStubTracker(), &stubTrigger{})

	resp := postJSON(t, srv.URL+"/webhook/secret-key", `{{{`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	require.Zero(t, trg.triggers.Load())
}

func TestAPI_InboundWebhook_UnwatchedIsAccepted(t *testing.T) {
	// ProcessWebhook returns nil for unwatched packages; the sender must see
	// 200 so it stops retrying, and no sweep is scheduled.
	srv, trg := newTestServer(t, newStubTracker(), &stubTrigger{})

	resp := postJSON(t, srv.URL+"/webhook/secret-key", `{"trackings":[]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, "ignored", out["status"])
	require.Zero(t, trg.triggers.Load())
}

func TestAPI_Webhooks(t *testing.T) {
	srv, _ := newTestServer(t, newStubTracker(), &stubTrigger{})

	resp := postJSON(t, srv.URL+"/v1/webhooks", `{"url":"https://example.com/webhook/k"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, "wh-1", out["webhookId"])

	resp = postJSON(t, srv.URL+"/v1/webhooks", `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/webhooks/wh-unknown", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_Stats(t *testing.T) {
	srv, _ := newTestServer(t, newStubTracker(), &stubTrigger{})

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, "ok", out["lastMessage"])
	require.Contains(t, out, "sweeper")
}
