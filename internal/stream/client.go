// Package stream bridges one server-push connection, scoped to a single
// submission, into the typed signals the session controller understands.
// The adapter never throws past its boundary: transport failures, silent
// streams, and backend timeouts all arrive as signals on the subscription
// channel.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultWatchdog is how long the adapter waits for a resolving signal
// before declaring the stream stalled.
const DefaultWatchdog = 30 * time.Second

// maxFrameBytes bounds a single stream frame.
const maxFrameBytes = 1 << 20

// Logger records adapter diagnostics. It matches the logbook's Printf
// signature.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Client opens stream subscriptions against one backend base URL.
type Client struct {
	baseURL  string
	httpc    *http.Client
	watchdog time.Duration
	logger   Logger
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// WithWatchdog overrides the stall watchdog duration.
func WithWatchdog(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.watchdog = d
		}
	}
}

// WithLogger injects a diagnostic logger for skipped frames and transport
// errors.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient prepares a stream client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpc:    &http.Client{},
		watchdog: DefaultWatchdog,
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Subscription is one open stream connection. Signals closes after a
// terminal signal or Close.
type Subscription struct {
	Signals <-chan Signal
	cancel  context.CancelFunc
}

// Close releases the connection. It is idempotent and safe on a
// subscription that already resolved.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Open establishes the stream connection for a submission. It never
// returns an error: connection failures surface as a ConnectionLost signal
// so partial delivery and the fallback path share one code path.
func (c *Client) Open(ctx context.Context, submissionID string) Subscription {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan Signal, 16)
	go c.run(ctx, cancel, submissionID, signals)
	return Subscription{Signals: signals, cancel: cancel}
}

func (c *Client) run(ctx context.Context, cancel context.CancelFunc, submissionID string, out chan<- Signal) {
	defer close(out)
	defer cancel()

	url := fmt.Sprintf("%s/api/expenses/%s/stream", c.baseURL, submissionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.deliver(ctx, out, connectionLost(err.Error()))
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	// The watchdog is armed before the request is issued and is not reset
	// by stage frames. Only a resolving signal stops it, so a server that
	// accepts the connection but never writes headers still resolves as a
	// stall rather than blocking on Do forever.
	watchdog := time.NewTimer(c.watchdog)
	defer watchdog.Stop()

	type connectResult struct {
		resp *http.Response
		err  error
	}
	connected := make(chan connectResult, 1)
	go func() {
		resp, err := c.httpc.Do(req)
		connected <- connectResult{resp: resp, err: err}
	}()
	// reapConnect closes the response once the cancelled Do unblocks.
	reapConnect := func() {
		go func() {
			if r := <-connected; r.resp != nil {
				r.resp.Body.Close()
			}
		}()
	}

	var resp *http.Response
	select {
	case <-ctx.Done():
		reapConnect()
		return
	case <-watchdog.C:
		c.logger.Printf("stream: connect %s: no response within %s, declaring stall", submissionID, c.watchdog)
		c.deliver(ctx, out, Signal{Kind: KindStalled})
		reapConnect()
		return
	case r := <-connected:
		if r.err != nil {
			c.logger.Printf("stream: connect %s: %v", submissionID, r.err)
			c.deliver(ctx, out, connectionLost(r.err.Error()))
			return
		}
		resp = r.resp
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Printf("stream: connect %s: unexpected status %d", submissionID, resp.StatusCode)
		c.deliver(ctx, out, connectionLost(fmt.Sprintf("unexpected status %d", resp.StatusCode)))
		return
	}

	frames := make(chan frame)
	go c.readFrames(ctx, resp, frames)

	for {
		select {
		case <-ctx.Done():
			return
		case <-watchdog.C:
			c.logger.Printf("stream: %s silent for %s, declaring stall", submissionID, c.watchdog)
			c.deliver(ctx, out, Signal{Kind: KindStalled})
			return
		case f, ok := <-frames:
			if !ok {
				c.deliver(ctx, out, connectionLost("stream closed without a terminal signal"))
				return
			}
			sig, recognized := mapFrame(f)
			if !recognized {
				continue
			}
			if !c.deliver(ctx, out, sig) {
				return
			}
			if sig.Terminal() {
				return
			}
		}
	}
}

// readFrames scans the response body for server-sent events and decodes
// each data payload. Malformed payloads are logged and skipped; the stream
// keeps waiting for subsequent frames.
func (c *Client) readFrames(ctx context.Context, resp *http.Response, out chan<- frame) {
	defer close(out)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 16*1024), maxFrameBytes)
	var data []string
	flush := func() bool {
		if len(data) == 0 {
			return true
		}
		payload := strings.Join(data, "\n")
		data = nil
		var f frame
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			c.logger.Printf("stream: skip malformed frame: %v", err)
			return true
		}
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, ":"):
			// comment line, keep-alive
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event/id/retry fields are not part of the contract
		}
	}
	flush()
}

// deliver sends unless the subscription was closed underneath us.
func (c *Client) deliver(ctx context.Context, out chan<- Signal, sig Signal) bool {
	select {
	case out <- sig:
		return true
	case <-ctx.Done():
		return false
	}
}

func connectionLost(detail string) Signal {
	return Signal{Kind: KindConnectionLost, Err: detail}
}
