// Package client is the Go client for the process service: pipeline
// submission with retries and an iterator over the request's response
// stream that terminates on stop-node signals.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/config"
	"github.com/earth2dfm/dfm/dfmerror"
	"github.com/earth2dfm/dfm/telemetry"
)

// ErrDone reports that the response stream is complete: every stop node has
// delivered its signal.
var ErrDone = errors.New("response stream complete")

// Transport defaults.
const (
	defaultPoll     = 500 * time.Millisecond
	defaultPageSize = 64
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
)

type (
	// Options configures the client.
	Options struct {
		// BaseURL locates the process service. Required.
		BaseURL string
		// APIKey authenticates requests when the service requires it.
		APIKey string
		// HTTPClient overrides the transport.
		HTTPClient *http.Client
		// MaxAttempts bounds submit retries on transient failures.
		// Defaults to 3.
		MaxAttempts int
		// RetryBackoff is the base delay between submit attempts, scaled
		// by the attempt number. Defaults to 200ms.
		RetryBackoff time.Duration
		// Logger receives diagnostics. Defaults to no-op.
		Logger telemetry.Logger
	}

	// Client talks to one process service.
	Client struct {
		base     string
		apiKey   string
		http     *http.Client
		attempts int
		backoff  time.Duration
		log      telemetry.Logger
	}

	// VersionInfo is the version probe payload.
	VersionInfo struct {
		Version string `json:"version"`
		Name    string `json:"name"`
	}

	// StreamOptions tunes a response iteration.
	StreamOptions struct {
		// StopNodes are the output nodes whose values signal completion.
		// Iteration ends once every stop node has delivered a value.
		StopNodes []uuid.UUID
		// ReturnErrors surfaces Error responses as values instead of
		// terminating the iteration with an error.
		ReturnErrors bool
		// ReturnStatuses surfaces Status and Heartbeat responses.
		ReturnStatuses bool
		// PollInterval is the delay between polls while no responses are
		// pending.
		PollInterval time.Duration
		// PageSize bounds each poll window.
		PageSize int
	}

	// Iterator walks a request's response stream.
	Iterator struct {
		c       *Client
		id      uuid.UUID
		opts    StreamOptions
		stop    map[uuid.UUID]bool
		index   int
		pending []*api.Response
		done    bool
	}
)

// New validates the options and builds the client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Client{
		base:     opts.BaseURL,
		apiKey:   opts.APIKey,
		http:     httpClient,
		attempts: attempts,
		backoff:  backoff,
		log:      telemetry.Or(opts.Logger),
	}, nil
}

// Version queries the version probe.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	var info VersionInfo
	if err := c.getJSON(ctx, "/version", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Status queries the health probe.
func (c *Client) Status(ctx context.Context) error {
	var status map[string]string
	return c.getJSON(ctx, "/status", &status)
}

// Process submits a pipeline for execution and returns the request
// identifier. Transient transport failures are retried with backoff.
func (c *Client) Process(ctx context.Context, p *api.Process) (uuid.UUID, error) {
	return c.submit(ctx, p, false)
}

// Discover submits a pipeline in discovery mode.
func (c *Client) Discover(ctx context.Context, p *api.Process) (uuid.UUID, error) {
	return c.submit(ctx, p, true)
}

func (c *Client) submit(ctx context.Context, p *api.Process, discovery bool) (uuid.UUID, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal process: %w", err)
	}
	target := c.base + "/process"
	if discovery {
		target += "?mode=discovery"
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return uuid.Nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
		if err != nil {
			return uuid.Nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.authorize(req)
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = remoteError(resp.StatusCode, body)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return uuid.Nil, remoteError(resp.StatusCode, body)
		}
		var out struct {
			RequestID string `json:"request_id"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return uuid.Nil, fmt.Errorf("decode submit response: %w", err)
		}
		return uuid.Parse(out.RequestID)
	}
	return uuid.Nil, fmt.Errorf("submit process: %w", lastErr)
}

// Stream returns an iterator over the request's responses.
func (c *Client) Stream(id uuid.UUID, opts StreamOptions) *Iterator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPoll
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	stop := make(map[uuid.UUID]bool, len(opts.StopNodes))
	for _, id := range opts.StopNodes {
		stop[id] = true
	}
	return &Iterator{c: c, id: id, opts: opts, stop: stop}
}

// Next returns the next response. It blocks polling the service until a
// response is available, the stream completes (ErrDone), an Error response
// arrives while ReturnErrors is unset, or ctx is done.
func (it *Iterator) Next(ctx context.Context) (*api.Response, error) {
	for {
		if len(it.pending) > 0 {
			r := it.pending[0]
			it.pending = it.pending[1:]
			keep, err := it.classify(r)
			if err != nil {
				return nil, err
			}
			if keep {
				return r, nil
			}
			continue
		}
		if it.done {
			return nil, ErrDone
		}
		if err := it.fetch(ctx); err != nil {
			return nil, err
		}
	}
}

// Collect drains the iterator.
func (it *Iterator) Collect(ctx context.Context) ([]*api.Response, error) {
	var out []*api.Response
	for {
		r, err := it.Next(ctx)
		if errors.Is(err, ErrDone) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
}

// classify applies filters and stop-node accounting. It reports whether the
// response is surfaced to the caller.
func (it *Iterator) classify(r *api.Response) (bool, error) {
	switch body := r.Body.(type) {
	case api.ValueResponse:
		if r.NodeID != nil && it.stop[*r.NodeID] {
			delete(it.stop, *r.NodeID)
			if len(it.stop) == 0 {
				it.done = true
			}
		}
		return true, nil
	case api.ErrorResponse:
		if it.opts.ReturnErrors {
			return true, nil
		}
		return false, RemoteError(body)
	case api.StatusResponse, api.HeartbeatResponse:
		return it.opts.ReturnStatuses, nil
	default:
		return true, nil
	}
}

// fetch polls the next response window, sleeping while the request has
// produced nothing new.
func (it *Iterator) fetch(ctx context.Context) error {
	target := fmt.Sprintf("%s/request/responses/%s?index=%d&size=%d",
		it.c.base, it.id, it.index, it.opts.PageSize)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		it.c.authorize(req)
		resp, err := it.c.http.Do(req)
		if err != nil {
			return err
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		switch resp.StatusCode {
		case http.StatusOK:
			var page []*api.Response
			if err := json.Unmarshal(body, &page); err != nil {
				return fmt.Errorf("decode responses: %w", err)
			}
			it.index += len(page)
			it.pending = page
			return nil
		case http.StatusNoContent:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(it.opts.PollInterval):
			}
		default:
			return remoteError(resp.StatusCode, body)
		}
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set(config.AuthHeader, c.apiKey)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return remoteError(resp.StatusCode, body)
	}
	return json.Unmarshal(body, v)
}

// RemoteError converts a wire Error response back into a classified error.
func RemoteError(body api.ErrorResponse) error {
	switch body.HTTPStatusCode {
	case 400:
		return dfmerror.Data("%s", body.Message)
	case 501:
		return dfmerror.MissingImplementation("%s", body.Message)
	case 503:
		return dfmerror.Resource("%s", body.Message)
	default:
		return dfmerror.Server("%s", body.Message)
	}
}

// remoteError maps a non-OK HTTP reply to an error carrying the service's
// message when one was sent.
func remoteError(status int, body []byte) error {
	var payload struct {
		Message string `json:"message"`
	}
	msg := http.StatusText(status)
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		msg = payload.Message
	}
	return RemoteError(api.ErrorResponse{HTTPStatusCode: status, Message: msg + " (http " + strconv.Itoa(status) + ")"})
}
