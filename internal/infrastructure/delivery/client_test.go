package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbridge/syncbridge/internal/application/batchsync"
	"github.com/syncbridge/syncbridge/internal/config"
	"github.com/syncbridge/syncbridge/internal/domain/event"
	"github.com/syncbridge/syncbridge/internal/infrastructure/monitoring/logging"
	"github.com/syncbridge/syncbridge/pkg/errors"
)

func newClientFor(srv *httptest.Server) *Client {
	return NewClient(config.DeliveryConfig{
		EventEndpoint: srv.URL + "/events",
		SyncEndpoint:  srv.URL + "/sync",
		Timeout:       2 * time.Second,
	}, logging.NewNopLogger())
}

func TestProcessEventForwardsRecord(t *testing.T) {
	var gotBody event.Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/events", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"ack":true}`))
	}))
	defer srv.Close()

	c := newClientFor(srv)
	result, err := c.ProcessEvent(context.Background(), event.Record{
		Identity: "evt-1",
		Payload:  json.RawMessage(`{"n":1}`),
		Category: "billing",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ack":true}`, string(result))
	assert.Equal(t, "evt-1", gotBody.Identity)
	assert.Equal(t, "billing", gotBody.Category)
}

func TestProcessEventEmptyResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	result, err := newClientFor(srv).ProcessEvent(context.Background(), event.Record{Identity: "x"})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestProcessEventRequiresEndpoint(t *testing.T) {
	c := NewClient(config.DeliveryConfig{Timeout: time.Second}, nil)
	_, err := c.ProcessEvent(context.Background(), event.Record{Identity: "x"})
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		headers   map[string]string
		wantCode  errors.ErrorCode
		wantRetry bool
		wantHint  time.Duration
	}{
		{"rate limited with hint", http.StatusTooManyRequests,
			map[string]string{"Retry-After": "30"}, errors.ErrCodeTooManyRequests, true, 30 * time.Second},
		{"rate limited without hint", http.StatusTooManyRequests,
			nil, errors.ErrCodeTooManyRequests, true, 0},
		{"not found", http.StatusNotFound, nil, errors.ErrCodeNotFound, false, 0},
		{"conflict", http.StatusConflict, nil, errors.ErrCodeConflict, false, 0},
		{"bad request", http.StatusBadRequest, nil, errors.ErrCodeValidation, false, 0},
		{"server error", http.StatusInternalServerError, nil, errors.ErrCodeServiceUnavailable, true, 0},
		{"bad gateway", http.StatusBadGateway, nil, errors.ErrCodeServiceUnavailable, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			_, err := newClientFor(srv).ProcessEvent(context.Background(), event.Record{Identity: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
			assert.Equal(t, tt.wantRetry, errors.IsRetryable(err))
			assert.Equal(t, tt.wantHint, errors.RetryAfterOf(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestSyncKeyOutcomes(t *testing.T) {
	responses := map[string]string{
		"up":   `{"action":"updated","old":"1.0","new":"2.0"}`,
		"same": `{"action":"no_change","old":"2.0"}`,
		"skip": `{"action":"skipped","reason":"no baseline"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Key string `json:"key"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Write([]byte(responses[req.Key]))
	}))
	defer srv.Close()
	c := newClientFor(srv)

	out, err := c.SyncKey(context.Background(), "up", false)
	require.NoError(t, err)
	assert.Equal(t, batchsync.ActionUpdated, out.Action)
	assert.Equal(t, "1.0", out.Old)
	assert.Equal(t, "2.0", out.New)

	out, err = c.SyncKey(context.Background(), "same", false)
	require.NoError(t, err)
	assert.Equal(t, batchsync.ActionNoChange, out.Action)

	out, err = c.SyncKey(context.Background(), "skip", false)
	require.NoError(t, err)
	assert.Equal(t, batchsync.ActionSkipped, out.Action)
	assert.Equal(t, "no baseline", out.Reason)
}

func TestSyncKeyPassesForce(t *testing.T) {
	var gotForce bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Force bool `json:"force"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotForce = req.Force
		w.Write([]byte(`{"action":"updated"}`))
	}))
	defer srv.Close()

	_, err := newClientFor(srv).SyncKey(context.Background(), "k", true)
	require.NoError(t, err)
	assert.True(t, gotForce)
}

func TestSyncKeyUnknownActionIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"action":"exploded"}`))
	}))
	defer srv.Close()

	_, err := newClientFor(srv).SyncKey(context.Background(), "k", false)
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
}

func TestPostContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body first: the server only watches the connection for
		// client disconnect (cancelling r.Context()) once the request body
		// has been consumed.  Without this, Close deadlocks on teardown.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newClientFor(srv).ProcessEvent(ctx, event.Record{Identity: "x"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTimeout, errors.GetCode(err))
}
