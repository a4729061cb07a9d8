// Package delivery talks to the downstream service: it forwards queued
// events and reconciles batch-sync keys.  HTTP failures are translated into
// the structured error taxonomy so the retry machinery upstream can classify
// them without ever inspecting response text.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/syncbridge/syncbridge/internal/application/batchsync"
	"github.com/syncbridge/syncbridge/internal/config"
	"github.com/syncbridge/syncbridge/internal/domain/event"
	"github.com/syncbridge/syncbridge/internal/infrastructure/monitoring/logging"
	"github.com/syncbridge/syncbridge/pkg/errors"
)

// maxErrorBody caps how much of an error response is read for the message.
const maxErrorBody = 4 * 1024

// Client delivers events and sync requests to the configured endpoints.
type Client struct {
	cfg    config.DeliveryConfig
	http   *http.Client
	logger logging.Logger
}

// NewClient builds a delivery client.  EventEndpoint and SyncEndpoint may be
// individually empty; the corresponding method then fails with a terminal
// error, letting deployments run queue-only or sync-only.
func NewClient(cfg config.DeliveryConfig, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("delivery"),
	}
}

// ProcessEvent implements events.Processor: it forwards one event envelope
// and returns the downstream response body as the processing result.
func (c *Client) ProcessEvent(ctx context.Context, rec event.Record) (json.RawMessage, error) {
	if c.cfg.EventEndpoint == "" {
		return nil, errors.Validation("delivery event endpoint is not configured")
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "marshal event record")
	}
	respBody, err := c.post(ctx, c.cfg.EventEndpoint, body)
	if err != nil {
		return nil, err
	}
	if len(respBody) == 0 {
		return nil, nil
	}
	return json.RawMessage(respBody), nil
}

// syncRequest is the per-key reconciliation request.
type syncRequest struct {
	Key   string `json:"key"`
	Force bool   `json:"force"`
}

// syncResponse is the downstream's verdict for one key.
type syncResponse struct {
	Action string `json:"action"` // "updated" | "no_change" | "skipped"
	Old    string `json:"old"`
	New    string `json:"new"`
	Reason string `json:"reason"`
}

// SyncKey implements batchsync.Worker: it asks the downstream to reconcile
// one key and maps the verdict onto the closed Action set.  Unknown verdicts
// are a contract violation and fail terminally.
func (c *Client) SyncKey(ctx context.Context, key string, force bool) (batchsync.Outcome, error) {
	if c.cfg.SyncEndpoint == "" {
		return batchsync.Outcome{}, errors.Validation("delivery sync endpoint is not configured")
	}

	body, err := json.Marshal(syncRequest{Key: key, Force: force})
	if err != nil {
		return batchsync.Outcome{}, errors.Wrap(err, errors.ErrCodeSerialization, "marshal sync request")
	}
	respBody, err := c.post(ctx, c.cfg.SyncEndpoint, body)
	if err != nil {
		return batchsync.Outcome{}, err
	}

	var resp syncResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return batchsync.Outcome{}, errors.Wrap(err, errors.ErrCodeSerialization, "decode sync response")
	}

	switch resp.Action {
	case "updated":
		return batchsync.Outcome{Action: batchsync.ActionUpdated, Old: resp.Old, New: resp.New}, nil
	case "no_change":
		return batchsync.Outcome{Action: batchsync.ActionNoChange, Old: resp.Old, New: resp.Old}, nil
	case "skipped":
		return batchsync.Outcome{Action: batchsync.ActionSkipped, Reason: resp.Reason}, nil
	default:
		return batchsync.Outcome{}, errors.New(errors.ErrCodeSerialization,
			"downstream returned unknown action "+strconv.Quote(resp.Action))
	}
}

// post sends the request and maps non-2xx statuses onto the error taxonomy.
func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, errors.ErrCodeTimeout, "delivery request cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "delivery request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	}

	msg := readErrorMessage(resp.Body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.RateLimited(msg, parseRetryAfter(resp))
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NotFound(msg)
	case resp.StatusCode == http.StatusConflict:
		return nil, errors.Conflict(msg)
	case resp.StatusCode == http.StatusRequestTimeout:
		return nil, errors.New(errors.ErrCodeTimeout, msg)
	case resp.StatusCode >= 500:
		return nil, errors.Unavailable(msg)
	default:
		// remaining 4xx are caller mistakes; retrying cannot help
		return nil, errors.Validation(msg)
	}
}

// readErrorMessage extracts a short human-readable message from an error
// response, preferring a JSON {"message": ...} body.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return "downstream request rejected"
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	return string(raw)
}

// parseRetryAfter reads the Retry-After header, accepting both delta-seconds
// and HTTP-date forms.  Zero means no usable hint.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
