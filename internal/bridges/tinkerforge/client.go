package tinkerforge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

const (
	defaultConnectTimeout    = 5 * time.Second
	defaultRequestTimeout    = 2500 * time.Millisecond
	defaultWriteTimeout      = 2 * time.Second
	defaultReconnectInterval = 2 * time.Second
	maxReconnectInterval     = time.Minute

	callbackQueueSize   = 64
	callbackWorkerCount = 2
)

// ClientConfig holds the brickd connection settings.
type ClientConfig struct {
	// Address is brickd's host:port, usually localhost:4223.
	Address string

	// ConnectTimeout bounds each dial. Default: 5s.
	ConnectTimeout time.Duration

	// RequestTimeout bounds the wait for a response. Default: 2.5s.
	RequestTimeout time.Duration

	// ReconnectInterval is the first backoff step after a lost connection. Default: 2s.
	ReconnectInterval time.Duration
}

// ClientStats holds operational counters.
type ClientStats struct {
	RequestsTx       uint64
	ResponsesRx      uint64
	CallbacksRx      uint64
	CallbacksDropped uint64
	ErrorsTotal      uint64
	ReconnectsTotal  uint64
	LastActivity     time.Time
	Connected        bool
	Reconnecting     bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector is the transport the Gateway needs. Client implements it;
// tests substitute a fake.
type Connector interface {
	Request(ctx context.Context, uid uint32, functionID uint8, payload []byte, responseExpected bool) ([]byte, error)
	Enumerate(ctx context.Context) error
	SetOnCallback(callback func(Packet))
	SetOnReconnect(callback func())
	IsConnected() bool
	Stats() ClientStats
	Close() error
}

var _ Connector = (*Client)(nil)

type pendingKey struct {
	uid        uint32
	functionID uint8
	sequence   uint8
}

// Client is a TFP connection to brickd.
//
// All methods are safe for concurrent use. Callbacks run on a small
// worker pool; when the pool falls behind, callbacks are dropped and
// counted. A lost connection is re-established with exponential backoff
// until Close is called, and pending requests fail with ErrNotConnected.
type Client struct {
	cfg ClientConfig

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool
	writeMu   sync.Mutex

	reconnecting atomic.Bool

	seq atomic.Uint32

	pendingMu sync.Mutex
	pending   map[pendingKey]chan Packet

	callbackMu    sync.RWMutex
	onCallback    func(Packet)
	onReconnect   func()
	callbackQueue chan Packet

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	requestsTx       atomic.Uint64
	responsesRx      atomic.Uint64
	callbacksRx      atomic.Uint64
	callbacksDropped atomic.Uint64
	errorsTotal      atomic.Uint64
	reconnectsTotal  atomic.Uint64
	lastActivity     atomic.Int64
}

// Connect dials brickd and starts the receive loop.
func Connect(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrConnectionFailed)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, cfg.Address, err)
	}

	c := &Client{
		cfg:           cfg,
		conn:          conn,
		connected:     true,
		pending:       make(map[pendingKey]chan Packet),
		callbackQueue: make(chan Packet, callbackQueueSize),
		done:          newCloseOnce(),
	}
	c.lastActivity.Store(time.Now().Unix())

	for range callbackWorkerCount {
		c.wg.Add(1)
		go c.callbackWorker()
	}

	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

// Request sends a packet to a device. When responseExpected is true it
// waits for the matching response and returns its payload; otherwise it
// returns as soon as the packet is written.
func (c *Client) Request(ctx context.Context, uid uint32, functionID uint8, payload []byte, responseExpected bool) ([]byte, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	seq := c.nextSequence()
	var ch chan Packet
	key := pendingKey{uid: uid, functionID: functionID, sequence: seq}
	if responseExpected {
		ch = make(chan Packet, 1)
		c.pendingMu.Lock()
		c.pending[key] = ch
		c.pendingMu.Unlock()
		defer c.forget(key, ch)
	}

	if err := c.write(ctx, EncodePacket(uid, functionID, seq, responseExpected, payload)); err != nil {
		return nil, err
	}
	if !responseExpected {
		return nil, nil
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case pkt, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if pkt.ErrorCode != ErrorCodeOK {
			return nil, fmt.Errorf("%w: code %d from %s function %d",
				ErrDeviceError, pkt.ErrorCode, FormatUID(uid), functionID)
		}
		return pkt.Payload, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s function %d", ErrTimeout, FormatUID(uid), functionID)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-c.done.Done():
		return nil, ErrNotConnected
	}
}

// Enumerate asks every device to announce itself. Answers arrive as
// enumerate callbacks.
func (c *Client) Enumerate(ctx context.Context) error {
	_, err := c.Request(ctx, broadcastUID, FunctionEnumerate, nil, false)
	return err
}

// nextSequence cycles 1..15; 0 is reserved for callbacks.
func (c *Client) nextSequence() uint8 {
	n := c.seq.Add(1)
	return uint8((n-1)%maxSequence) + 1 //nolint:gosec // bounded by maxSequence
}

func (c *Client) forget(key pendingKey, ch chan Packet) {
	c.pendingMu.Lock()
	if c.pending[key] == ch {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrRequestFailed, ctx.Err())
	default:
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrRequestFailed, err)
	}
	if _, err := conn.Write(msg); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrRequestFailed, err)
	}

	c.requestsTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// receiveLoop reads packets until Close, reconnecting on any read error.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, MaxPacketSize)
	for {
		if c.isClosed() {
			return
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		pkt, err := readPacket(conn, buf)
		if err != nil {
			if c.isClosed() {
				return
			}
			if errors.Is(err, ErrInvalidPacket) {
				c.logError("protocol desync, dropping connection", err)
			} else if !errors.Is(err, io.EOF) {
				c.logError("read failed", err)
			}
			c.errorsTotal.Add(1)
			c.handleDisconnect()
			if !c.reconnect() {
				return
			}
			continue
		}

		c.lastActivity.Store(time.Now().Unix())
		c.dispatch(pkt)
	}
}

func readPacket(conn net.Conn, buf []byte) (Packet, error) {
	if conn == nil {
		return Packet{}, ErrNotConnected
	}
	if _, err := io.ReadFull(conn, buf[:HeaderSize]); err != nil {
		return Packet{}, err
	}
	h, err := DecodeHeader(buf[:HeaderSize])
	if err != nil {
		return Packet{}, err
	}
	if _, err := io.ReadFull(conn, buf[HeaderSize:h.Length]); err != nil {
		return Packet{}, err
	}
	return DecodePacket(buf[:h.Length])
}

func (c *Client) dispatch(pkt Packet) {
	if pkt.IsCallback() {
		c.callbacksRx.Add(1)
		c.callbackMu.RLock()
		hasCallback := c.onCallback != nil
		c.callbackMu.RUnlock()
		if !hasCallback {
			return
		}
		select {
		case c.callbackQueue <- pkt:
		default:
			c.callbacksDropped.Add(1)
			c.logError("callback queue full, dropping packet", nil)
		}
		return
	}

	key := pendingKey{uid: pkt.UID, functionID: pkt.FunctionID, sequence: pkt.Sequence}
	c.pendingMu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logDebug("unmatched response", "uid", FormatUID(pkt.UID), "function", pkt.FunctionID, "seq", pkt.Sequence)
		return
	}
	c.responsesRx.Add(1)
	ch <- pkt
}

func (c *Client) callbackWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case pkt := <-c.callbackQueue:
			c.callbackMu.RLock()
			callback := c.onCallback
			c.callbackMu.RUnlock()
			if callback == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logError("callback panic", fmt.Errorf("%v", r))
					}
				}()
				callback(pkt)
			}()
		}
	}
}

// handleDisconnect marks the client offline and fails every pending request.
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close() //nolint:errcheck // already broken
		c.conn = nil
	}
	c.connMu.Unlock()

	c.pendingMu.Lock()
	for key, ch := range c.pending {
		close(ch)
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()

	if wasConnected {
		c.logInfo("connection to brickd lost, will reconnect")
	}
}

// reconnect dials until it succeeds or Close is called.
func (c *Client) reconnect() bool {
	c.reconnecting.Store(true)
	defer c.reconnecting.Store(false)

	backoff := c.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		if c.isClosed() {
			return false
		}
		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
		cancel()
		if err == nil {
			c.connMu.Lock()
			if c.isClosed() {
				c.connMu.Unlock()
				conn.Close() //nolint:errcheck // shutting down
				return false
			}
			c.conn = conn
			c.connected = true
			c.connMu.Unlock()

			c.reconnectsTotal.Add(1)
			c.lastActivity.Store(time.Now().Unix())
			c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())

			c.callbackMu.RLock()
			onReconnect := c.onReconnect
			c.callbackMu.RUnlock()
			if onReconnect != nil {
				go onReconnect()
			}
			return true
		}

		c.logError("reconnect: dial failed", err)
		c.errorsTotal.Add(1)

		select {
		case <-c.done.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > maxReconnectInterval {
			backoff = maxReconnectInterval
		}
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close stops the receive loop and closes the connection. Safe to call
// more than once.
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close() //nolint:errcheck // best effort
		c.conn = nil
	}
	c.connMu.Unlock()

	c.wg.Wait()
	c.logInfo("connection closed")
	return nil
}

// SetOnCallback sets the handler for callback packets (sequence 0).
func (c *Client) SetOnCallback(callback func(Packet)) {
	c.callbackMu.Lock()
	c.onCallback = callback
	c.callbackMu.Unlock()
}

// SetOnReconnect sets a function run after every successful reconnect.
func (c *Client) SetOnReconnect(callback func()) {
	c.callbackMu.Lock()
	c.onReconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true while a connection to brickd is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		RequestsTx:       c.requestsTx.Load(),
		ResponsesRx:      c.responsesRx.Load(),
		CallbacksRx:      c.callbacksRx.Load(),
		CallbacksDropped: c.callbacksDropped.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
		ReconnectsTotal:  c.reconnectsTotal.Load(),
		LastActivity:     time.Unix(c.lastActivity.Load(), 0),
		Connected:        c.IsConnected(),
		Reconnecting:     c.reconnecting.Load(),
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}
