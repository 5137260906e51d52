// Package qmp is a client for the QEMU Machine Protocol over a unix socket.
//
// A Client is single-use. Connect performs the greeting and capabilities
// handshake, after which any number of goroutines may call Execute. One
// reader goroutine owns the socket and routes each reply to its caller by
// id, so replies may arrive in any order. Asynchronous events go to a
// separate buffered channel. When the connection ends every pending request
// fails with ErrConnectionLost; the client never reconnects.
package qmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/jbweber/vmtools/internal/metrics"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultEventBuffer    = 64
)

// State is the session lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateHandshaking:
		return "Handshaking"
	case StateReady:
		return "Ready"
	}
	return "Unknown"
}

// DialFunc opens the transport.
type DialFunc func(ctx context.Context) (net.Conn, error)

// UnixDialer dials a unix socket.
func UnixDialer(path string) DialFunc {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", path)
	}
}

// Greeting is the server banner.
type Greeting struct {
	Version struct {
		QEMU struct {
			Major int `json:"major"`
			Minor int `json:"minor"`
			Micro int `json:"micro"`
		} `json:"qemu"`
		Package string `json:"package"`
	} `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// VersionString returns major.minor.micro.
func (g Greeting) VersionString() string {
	q := g.Version.QEMU
	return fmt.Sprintf("%d.%d.%d", q.Major, q.Minor, q.Micro)
}

// Event is an asynchronous notification.
type Event struct {
	Name      string
	Data      json.RawMessage
	Timestamp time.Time
}

type request struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
	ID        uint64 `json:"id"`
}

type result struct {
	ret    json.RawMessage
	cmdErr *CommandError
	lost   error
}

// Client is one monitor session.
type Client struct {
	dial           DialFunc
	log            logr.Logger
	metrics        *metrics.Metrics
	requestTimeout time.Duration

	state    atomic.Int32
	used     atomic.Bool
	nextID   atomic.Uint64
	dropped  atomic.Uint64
	greeting Greeting

	conn net.Conn
	wmu  sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan result
	closed  bool

	events   chan Event
	done     chan struct{}
	downOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Traffic is logged at V(1).
func WithLogger(log logr.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRequestTimeout bounds requests whose ctx has no deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.events = make(chan Event, n)
		}
	}
}

// New returns a Disconnected client.
func New(dial DialFunc, opts ...Option) *Client {
	c := &Client{
		dial:           dial,
		log:            logr.Discard(),
		requestTimeout: defaultRequestTimeout,
		events:         make(chan Event, defaultEventBuffer),
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Dial connects to the socket at path and completes the handshake.
func Dial(ctx context.Context, path string, opts ...Option) (*Client, error) {
	c := New(UnixDialer(path), opts...)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Greeting returns the banner received during Connect.
func (c *Client) Greeting() Greeting {
	return c.greeting
}

// Events delivers asynchronous events. Events arriving while the channel is
// full are dropped. The channel is closed when the session ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Dropped reports how many events were discarded.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Done is closed when the session ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Connect dials and performs the handshake. On any failure the connection is
// closed and the client stays Disconnected.
func (c *Client) Connect(ctx context.Context) error {
	if c.used.Swap(true) {
		return &ProtocolError{Op: "connect", Err: ErrNotReady}
	}
	c.state.Store(int32(StateHandshaking))

	conn, err := c.dial(ctx)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		c.shutdown(err)
		return &ProtocolError{Op: "dial", Err: err}
	}
	c.conn = conn

	dec, err := c.readGreeting(ctx, conn)
	if err != nil {
		c.shutdown(err)
		return err
	}
	c.log.V(1).Info("qmp greeting", "version", c.greeting.VersionString(), "capabilities", c.greeting.Capabilities)

	c.mu.Lock()
	c.pending = make(map[uint64]chan result)
	c.mu.Unlock()
	go c.readLoop(dec)

	if _, err := c.execute(ctx, "qmp_capabilities", nil); err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			err = &ProtocolError{Op: "qmp_capabilities", Err: fmt.Errorf("%w: %w", ErrNegotiationRejected, cmdErr)}
		}
		c.shutdown(err)
		return err
	}

	// The reader may already have seen the peer hang up.
	if !c.state.CompareAndSwap(int32(StateHandshaking), int32(StateReady)) {
		return &ProtocolError{Op: "connect", Err: ErrConnectionLost}
	}
	return nil
}

func (c *Client) readGreeting(ctx context.Context, conn net.Conn) (*json.Decoder, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.requestTimeout)
	}
	_ = conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	dec := json.NewDecoder(conn)
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if ctx.Err() != nil {
			return nil, &ProtocolError{Op: "greeting", Err: ctx.Err()}
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return nil, &ProtocolError{Op: "greeting", Err: fmt.Errorf("%w: %v", ErrMalformedGreeting, err)}
		}
		return nil, &ProtocolError{Op: "greeting", Err: fmt.Errorf("%w: %w", ErrConnectionLost, err)}
	}

	banner, ok := raw["QMP"]
	if !ok {
		return nil, &ProtocolError{Op: "greeting", Err: fmt.Errorf("%w: no QMP banner", ErrMalformedGreeting)}
	}
	if err := json.Unmarshal(banner, &c.greeting); err != nil {
		return nil, &ProtocolError{Op: "greeting", Err: fmt.Errorf("%w: %v", ErrMalformedGreeting, err)}
	}

	_ = conn.SetReadDeadline(time.Time{})
	return dec, nil
}

// Execute sends command and waits for its reply. args may be nil.
func (c *Client) Execute(ctx context.Context, command string, args any) (json.RawMessage, error) {
	if c.State() != StateReady {
		return nil, &ProtocolError{Op: command, Err: ErrNotReady}
	}
	return c.execute(ctx, command, args)
}

func (c *Client) execute(ctx context.Context, command string, args any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan result, 1)

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, &ProtocolError{Op: command, Err: ErrConnectionLost}
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer c.forget(id)

	payload, err := json.Marshal(request{Execute: command, Arguments: args, ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", command, err)
	}

	if _, ok := ctx.Deadline(); !ok && c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	c.log.V(1).Info("qmp send", "command", command, "id", id)
	if err := c.write(ctx, payload); err != nil {
		c.shutdown(err)
		c.metrics.ObserveQMP(command, "lost")
		return nil, &ProtocolError{Op: command, Err: fmt.Errorf("%w: %w", ErrConnectionLost, err)}
	}

	select {
	case r := <-ch:
		switch {
		case r.lost != nil:
			c.metrics.ObserveQMP(command, "lost")
			return nil, &ProtocolError{Op: command, Err: r.lost}
		case r.cmdErr != nil:
			c.metrics.ObserveQMP(command, "error")
			return nil, &ProtocolError{Op: command, Err: r.cmdErr}
		}
		c.metrics.ObserveQMP(command, "ok")
		return r.ret, nil
	case <-ctx.Done():
		c.metrics.ObserveQMP(command, "timeout")
		return nil, &ProtocolError{Op: command, Err: ctx.Err()}
	}
}

func (c *Client) write(ctx context.Context, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	_, err := c.conn.Write(append(payload, '\n'))
	return err
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// Close ends the session. Pending requests fail with ErrConnectionLost.
func (c *Client) Close() error {
	c.used.Store(true)
	c.shutdown(errors.New("closed by client"))
	return nil
}

func (c *Client) readLoop(dec *json.Decoder) {
	var err error
	for {
		var raw map[string]json.RawMessage
		if err = dec.Decode(&raw); err != nil {
			break
		}
		if err = c.dispatch(raw); err != nil {
			break
		}
	}
	c.log.V(1).Info("qmp reader stopped", "reason", err.Error())
	c.shutdown(err)
}

func (c *Client) dispatch(raw map[string]json.RawMessage) error {
	switch f := classifyFrame(raw); f {
	case frameEvent:
		c.deliverEvent(raw)
		return nil
	case frameReply:
		id, err := strconv.ParseUint(string(raw["id"]), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: reply id %s", ErrMalformedFrame, raw["id"])
		}
		var r result
		if e, ok := raw["error"]; ok {
			r.cmdErr = &CommandError{}
			if err := json.Unmarshal(e, r.cmdErr); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
			}
		} else {
			r.ret = raw["return"]
		}

		c.mu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if ok {
			ch <- r
		} else {
			c.log.V(1).Info("qmp reply for unknown id", "id", id)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s frame", ErrMalformedFrame, f)
	}
}

func (c *Client) deliverEvent(raw map[string]json.RawMessage) {
	var ev Event
	_ = json.Unmarshal(raw["event"], &ev.Name)
	ev.Data = raw["data"]
	var ts struct {
		Seconds      int64 `json:"seconds"`
		Microseconds int64 `json:"microseconds"`
	}
	if err := json.Unmarshal(raw["timestamp"], &ts); err == nil {
		ev.Timestamp = time.Unix(ts.Seconds, ts.Microseconds*int64(time.Microsecond))
	} else {
		ev.Timestamp = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
		c.metrics.EventDropped()
		c.log.V(1).Info("qmp event dropped", "event", ev.Name)
	}
}

// shutdown tears the session down once. cause is reported to pending
// requests as the reason the connection was lost.
func (c *Client) shutdown(cause error) {
	c.downOnce.Do(func() {
		c.state.Store(int32(StateDisconnected))
		if c.conn != nil {
			_ = c.conn.Close()
		}

		lost := ErrConnectionLost
		if cause != nil {
			lost = fmt.Errorf("%w: %w", ErrConnectionLost, cause)
		}

		c.mu.Lock()
		for id, ch := range c.pending {
			ch <- result{lost: lost}
			delete(c.pending, id)
		}
		c.pending = nil
		c.closed = true
		close(c.events)
		c.mu.Unlock()

		close(c.done)
	})
}
