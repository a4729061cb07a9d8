package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbridge/syncbridge/internal/application/batchsync"
	"github.com/syncbridge/syncbridge/internal/application/events"
	"github.com/syncbridge/syncbridge/internal/config"
	"github.com/syncbridge/syncbridge/internal/domain/event"
	"github.com/syncbridge/syncbridge/internal/infrastructure/monitoring/logging"
	"github.com/syncbridge/syncbridge/pkg/errors"
)

type fakeEventService struct {
	enqueueResult EnqueueRecorder
	status        events.Status
	recent        []event.EntrySnapshot
	cleared       map[string]bool
}

// EnqueueRecorder holds the canned result and the last call.
type EnqueueRecorder struct {
	result       events.EnqueueResult
	lastIdentity string
	lastSource   string
}

func (f *fakeEventService) Enqueue(identity string, _ json.RawMessage, _ string, source string) events.EnqueueResult {
	f.enqueueResult.lastIdentity = identity
	f.enqueueResult.lastSource = source
	return f.enqueueResult.result
}

func (f *fakeEventService) Status() events.Status { return f.status }

func (f *fakeEventService) Recent(limit int) []event.EntrySnapshot {
	if limit < len(f.recent) {
		return f.recent[:limit]
	}
	return f.recent
}

func (f *fakeEventService) ForceReprocess(identity string) bool { return f.cleared[identity] }

type fakeSyncTrigger struct {
	summary  *batchsync.Summary
	err      error
	gotKeys  []string
	gotForce bool
}

func (f *fakeSyncTrigger) Run(_ context.Context, keys []string, force bool) (*batchsync.Summary, error) {
	f.gotKeys = keys
	f.gotForce = force
	return f.summary, f.err
}

func newTestServer(t *testing.T, svc EventService, sync SyncTrigger) *Server {
	t.Helper()
	cfg := config.ServerConfig{Port: 0, Mode: "test"}
	return NewServer(cfg, svc, sync, nil, logging.NewNopLogger())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &fakeEventService{}, nil)
	w := do(t, s, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestEventStatus(t *testing.T) {
	svc := &fakeEventService{status: events.Status{
		QueueLength:  2,
		IsProcessing: true,
		Stats:        event.Stats{Total: 5, Processed: 3},
	}}
	s := newTestServer(t, svc, nil)
	w := do(t, s, http.MethodGet, "/api/v1/events/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	var got events.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 2, got.QueueLength)
	assert.True(t, got.IsProcessing)
	assert.Equal(t, int64(5), got.Stats.Total)
}

func TestRecentEvents(t *testing.T) {
	svc := &fakeEventService{recent: []event.EntrySnapshot{
		{Identity: "a", State: "completed", Timestamp: time.Now()},
		{Identity: "b", State: "failed", Timestamp: time.Now()},
	}}
	s := newTestServer(t, svc, nil)

	w := do(t, s, http.MethodGet, "/api/v1/events/recent?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"identity":"a"`)
	assert.NotContains(t, w.Body.String(), `"identity":"b"`)

	w = do(t, s, http.MethodGet, "/api/v1/events/recent?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueEvent(t *testing.T) {
	svc := &fakeEventService{
		enqueueResult: EnqueueRecorder{result: events.EnqueueResult{Queued: true, Position: 1}},
	}
	s := newTestServer(t, svc, nil)

	w := do(t, s, http.MethodPost, "/api/v1/events",
		`{"identity":"evt-1","category":"billing","payload":{"n":1}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "evt-1", svc.enqueueResult.lastIdentity)
	// empty source defaults to the transport name
	assert.Equal(t, "http", svc.enqueueResult.lastSource)
}

func TestEnqueueEventRejectedAsConflict(t *testing.T) {
	svc := &fakeEventService{
		enqueueResult: EnqueueRecorder{result: events.EnqueueResult{Queued: false, Reason: events.ReasonDuplicate}},
	}
	s := newTestServer(t, svc, nil)

	w := do(t, s, http.MethodPost, "/api/v1/events", `{"identity":"evt-1"}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), events.ReasonDuplicate)
}

func TestEnqueueEventRequiresIdentity(t *testing.T) {
	s := newTestServer(t, &fakeEventService{}, nil)
	w := do(t, s, http.MethodPost, "/api/v1/events", `{"category":"billing"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReprocessEvent(t *testing.T) {
	svc := &fakeEventService{cleared: map[string]bool{"evt-1": true}}
	s := newTestServer(t, svc, nil)

	w := do(t, s, http.MethodPost, "/api/v1/events/evt-1/reprocess", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cleared":true`)

	w = do(t, s, http.MethodPost, "/api/v1/events/unknown/reprocess", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerSync(t *testing.T) {
	trigger := &fakeSyncTrigger{summary: &batchsync.Summary{Total: 2, Updated: 2, Passes: 1}}
	s := newTestServer(t, &fakeEventService{}, trigger)

	w := do(t, s, http.MethodPost, "/api/v1/sync", `{"keys":["a","b"],"force":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a", "b"}, trigger.gotKeys)
	assert.True(t, trigger.gotForce)
	assert.Contains(t, w.Body.String(), `"updated":2`)
}

func TestTriggerSyncValidation(t *testing.T) {
	trigger := &fakeSyncTrigger{err: errors.New(errors.ErrCodeSyncInvalidOption, "bad window")}
	s := newTestServer(t, &fakeEventService{}, trigger)

	w := do(t, s, http.MethodPost, "/api/v1/sync", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/sync", `{"keys":["a"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "SYNC_004")
}

func TestTriggerSyncUnconfigured(t *testing.T) {
	s := newTestServer(t, &fakeEventService{}, nil)
	w := do(t, s, http.MethodPost, "/api/v1/sync", `{"keys":["a"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServerStartStop(t *testing.T) {
	s := newTestServer(t, &fakeEventService{}, nil)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
