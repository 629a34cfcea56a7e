package ari

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"
)

// FramePrefix starts every log line that dumps a raw event frame.
const FramePrefix = "received ARI event:"

// Config configures a Client.
type Config struct {
	// BaseURL is the Asterisk HTTP server, e.g. "http://localhost:8088".
	BaseURL     string
	User        string
	Password    string
	Application string

	HTTP     *http.Client
	Log      *logrus.Entry
	FrameLog *logrus.Entry

	// Reconnect bounds how long the event stream retries before Run fails.
	// Zero retries until Run's context ends.
	Reconnect time.Duration
}

// Client is the HTTP and WebSocket transport for one Stasis application.
//
// Command completions and events are delivered on a single dispatch
// goroutine started by Run, so callbacks and router handlers never run
// concurrently with each other.
type Client struct {
	cfg    Config
	base   string
	http   *http.Client
	log    *logrus.Entry
	frames *logrus.Entry
	router *Router
	tracer trace.Tracer

	newBackOff func() backoff.BackOff

	jobs    chan func()
	stopped chan struct{}

	reqCtx    context.Context
	cancelReq context.CancelFunc

	mu      sync.Mutex
	running bool
	closed  bool
	nextID  uint64
	pending map[uint64]func([]byte, error)
}

// NewClient validates cfg and creates a client. Nothing is sent until Run.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Application == "" {
		return nil, fmt.Errorf("ari: application name is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("ari: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("ari: unsupported scheme %q", u.Scheme)
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.FrameLog == nil {
		cfg.FrameLog = cfg.Log
	}
	reqCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:       cfg,
		base:      strings.TrimSuffix(u.String(), "/"),
		http:      cfg.HTTP,
		log:       cfg.Log,
		frames:    cfg.FrameLog,
		tracer:    otel.Tracer("aricall/ari"),
		jobs:      make(chan func(), 256),
		stopped:   make(chan struct{}),
		reqCtx:    reqCtx,
		cancelReq: cancel,
		pending:   make(map[uint64]func([]byte, error)),

		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	c.router = NewRouter(c, cfg.Log)
	return c, nil
}

// Router returns the event router of the client.
func (c *Client) Router() *Router { return c.router }

// NewChannel creates a tracked channel for Call or Create.
func (c *Client) NewChannel() *Channel { return c.router.NewChannel() }

// Application returns the Stasis application name.
func (c *Client) Application() string { return c.cfg.Application }

// Send implements Transport. After shutdown done receives ErrClosed
// immediately on the calling goroutine.
func (c *Client) Send(cmd Command, done func([]byte, error)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		done(nil, ErrClosed)
		return
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = done
	c.mu.Unlock()

	go func() {
		body, err := c.do(c.reqCtx, cmd)
		c.Post(func() { c.complete(id, body, err) })
	}()
}

// Post queues fn on the dispatch loop. It reports false once the loop has
// stopped.
func (c *Client) Post(fn func()) bool {
	select {
	case <-c.stopped:
		return false
	default:
	}
	select {
	case c.jobs <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

// AfterFunc runs fn on the dispatch loop after d.
func (c *Client) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { c.Post(fn) })
}

// Run connects the event stream and runs the dispatch loop until ctx ends.
// Commands still pending when it returns resolve with ErrClosed.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running || c.closed {
		c.mu.Unlock()
		return fmt.Errorf("ari: client already started")
	}
	c.running = true
	c.mu.Unlock()

	frames := make(chan []byte, 64)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readEvents(gctx, frames) })
	g.Go(func() error { return c.loop(gctx, frames) })
	return g.Wait()
}

func (c *Client) loop(ctx context.Context, frames <-chan []byte) error {
	defer c.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-c.jobs:
			job()
		case frame := <-frames:
			c.dispatch(frame)
		}
	}
}

func (c *Client) dispatch(frame []byte) {
	c.frames.Debugf("%s %s", FramePrefix, frame)
	if err := c.router.Dispatch(frame); err != nil {
		c.log.Warnf("dropping event: %v", err)
	}
}

// shutdown fails every pending command on the dispatch goroutine.
func (c *Client) shutdown() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]func([]byte, error))
	c.mu.Unlock()

	close(c.stopped)
	c.cancelReq()
	if len(pending) > 0 {
		c.log.Infof("failing %d pending commands", len(pending))
	}
	for _, done := range pending {
		done(nil, ErrClosed)
	}
}

func (c *Client) complete(id uint64, body []byte, err error) {
	c.mu.Lock()
	done, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		done(body, err)
	}
}

func (c *Client) do(ctx context.Context, cmd Command) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "ari.command",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", string(cmd.Method)),
			attribute.String("ari.path", cmd.Path),
		))
	defer span.End()

	fail := func(te *TransportError) error {
		span.RecordError(te)
		span.SetStatus(codes.Error, te.Error())
		c.log.Warnf("%s failed: %v", cmd, te)
		return te
	}

	var body io.Reader
	if len(cmd.Body) > 0 {
		body = bytes.NewReader(cmd.Body)
	}
	req, err := http.NewRequestWithContext(ctx, string(cmd.Method), c.base+cmd.URI(), body)
	if err != nil {
		return nil, fail(&TransportError{Method: cmd.Method, Path: cmd.Path, Err: err})
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debugf("sending %s", cmd)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(&TransportError{Method: cmd.Method, Path: cmd.Path, Err: err})
	}
	defer cleanlyCloseBody(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(&TransportError{Method: cmd.Method, Path: cmd.Path, StatusCode: resp.StatusCode, Err: err})
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fail(&TransportError{
			Method:     cmd.Method,
			Path:       cmd.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		})
	}
	return data, nil
}

// cleanlyCloseBody drains and closes a response body so the connection can
// be reused.
func cleanlyCloseBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// readEvents keeps the event stream connected until ctx ends.
func (c *Client) readEvents(ctx context.Context, frames chan<- []byte) error {
	for {
		ws, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
			return c.dialEvents(ctx)
		}, c.retryOptions()...)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ari: connect event stream: %w", err)
		}

		c.log.Infof("event stream connected for application %s", c.cfg.Application)
		err = c.pump(ctx, ws, frames)
		_ = ws.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warnf("event stream lost: %v", err)
	}
}

// retryOptions always sets the elapsed time limit: backoff applies its own
// 15 minute default when the option is absent, and zero disables the limit.
func (c *Client) retryOptions() []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxElapsedTime(c.cfg.Reconnect),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log.Warnf("event stream connect failed: %v (retrying in %s)", err, wait)
		}),
	}
}

func (c *Client) dialEvents(ctx context.Context) (*websocket.Conn, error) {
	cfg, err := websocket.NewConfig(c.eventsURL(), c.base)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("events config: %w", err))
	}
	return cfg.DialContext(ctx)
}

func (c *Client) eventsURL() string {
	u := c.base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	q := Query{}.
		Add("app", c.cfg.Application).
		Add("api_key", c.cfg.User+":"+c.cfg.Password)
	return u + "/ari/events?" + q.String()
}

func (c *Client) pump(ctx context.Context, ws *websocket.Conn, frames chan<- []byte) error {
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()
	for {
		var frame []byte
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("closed by server")
			}
			return err
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
