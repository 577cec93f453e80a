package juggernaut

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// transport is the minimal surface a Connection needs from its socket. Both
// *net.TCPConn and the websocket adapter satisfy it.
type transport interface {
	io.Writer
	Close() error
	RemoteAddr() net.Addr
}

// ---------------------------------------------------------------------------
// Connection — one physical transport endpoint. Owns its channel subscription
// set, its monotonic message-sequence counter and its liveness flag. Frame
// processing is run-to-completion: the reader goroutine never starts a second
// frame while the first is still being dispatched.
// ---------------------------------------------------------------------------

type Connection struct {
	signature string
	transport transport
	writer    *connWriter
	logger    *zap.Logger

	buf frameBuffer

	mu       sync.Mutex
	channels []string
	msgID    uint64
	dead     bool
}

func newConnection(t transport, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		signature: uuid.NewString(),
		transport: t,
		writer:    newConnWriter(t),
		logger:    logger,
	}
}

// Signature uniquely identifies this connection instance and is the reverse
// lookup key into the registry.
func (c *Connection) Signature() string { return c.signature }

// RemoteIP is the transport peer address without the port, as matched
// against the broadcast/query allowlist.
func (c *Connection) RemoteIP() string {
	addr := c.transport.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Receive feeds transport bytes through the frame codec and dispatches every
// complete frame in order. It reports false once the connection must close.
func (c *Connection) Receive(data []byte, d *Dispatcher) bool {
	for _, frame := range c.buf.Append(data) {
		if !d.Dispatch(c, frame) {
			return false
		}
	}
	return true
}

// Alive reports the transport open/closed state. It flips to false exactly
// once, on transport close.
func (c *Connection) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead
}

// markDead flips the liveness flag. Reports true only on the first call.
func (c *Connection) markDead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return false
	}
	c.dead = true
	return true
}

// HasChannels reports whether every requested channel is subscribed. An
// empty request is the wildcard case and is always true.
func (c *Connection) HasChannels(requested []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, want := range requested {
		if !contains(c.channels, want) {
			return false
		}
	}
	return true
}

// AddChannels subscribes the connection to each named channel. Blank names
// are ignored; re-adding is a no-op.
func (c *Connection) AddChannels(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		if name == "" || contains(c.channels, name) {
			continue
		}
		c.channels = append(c.channels, name)
	}
}

// RemoveChannels drops each named channel from the subscription set.
func (c *Connection) RemoveChannels(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.channels[:0]
	for _, have := range c.channels {
		if !contains(names, have) {
			kept = append(kept, have)
		}
	}
	c.channels = kept
}

// Channels returns a copy of the subscription set in insertion order.
func (c *Connection) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.channels...)
}

func (c *Connection) nextID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgID++
	return c.msgID
}

// Publish serializes a message and writes it NUL-terminated to the
// transport. It never fails: serialization errors are logged and the frame
// dropped, and write failures belong to the transport layer.
func (c *Connection) Publish(msg *Message) {
	payload, err := msg.MarshalJSON()
	if err != nil {
		c.logger.Error("drop unserializable message", zap.Error(err))
		return
	}
	c.publishRaw(payload)
}

// publishJSON sends an arbitrary JSON value as one frame (query replies).
func (c *Connection) publishJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("drop unserializable reply", zap.Error(err))
		return
	}
	c.publishRaw(payload)
}

func (c *Connection) publishRaw(payload []byte) {
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, payload...)
	frame = append(frame, 0)
	if !c.writer.send(frame) {
		c.logger.Warn("drop frame: outbound queue full or closed",
			zap.String("signature", c.signature))
	}
}

// Deliver fans one broadcast body out to this connection: the sequence id
// comes from this connection's counter, the signature from the originating
// connection.
func (c *Connection) Deliver(body json.RawMessage, origin string) {
	c.Publish(newMessage(c.nextID(), body, origin))
}

// Broadcast publishes a body under this connection's own signature (offline
// replay and loopback delivery).
func (c *Connection) Broadcast(body json.RawMessage) {
	c.Deliver(body, c.signature)
}

func contains(list []string, s string) bool {
	for _, have := range list {
		if have == s {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// connWriter — dedicated write goroutine per connection. Drains all queued
// frames before flushing so small frames batch into fewer syscalls, and never
// blocks the reader: when the queue is full the frame is dropped (delivery is
// best effort).
// ---------------------------------------------------------------------------

const outboundDepth = 4096

type connWriter struct {
	mu     sync.Mutex
	closed bool
	ch     chan []byte
	done   chan struct{}
}

func newConnWriter(w io.Writer) *connWriter {
	cw := &connWriter{
		ch:   make(chan []byte, outboundDepth),
		done: make(chan struct{}),
	}
	go cw.run(w)
	return cw
}

func (cw *connWriter) run(w io.Writer) {
	defer close(cw.done)
	bw := bufio.NewWriter(w)

	for frame := range cw.ch {
		_, _ = bw.Write(frame)

		// Drain whatever else is already queued before flushing.
		drained := false
		for !drained {
			select {
			case f, ok := <-cw.ch:
				if !ok {
					_ = bw.Flush()
					return
				}
				_, _ = bw.Write(f)
			default:
				drained = true
			}
		}
		_ = bw.Flush()
	}
	_ = bw.Flush()
}

func (cw *connWriter) send(frame []byte) bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.closed {
		return false
	}
	select {
	case cw.ch <- frame:
		return true
	default:
		return false
	}
}

// close stops accepting frames, lets the writer drain what is queued, and
// waits for the final flush.
func (cw *connWriter) close() {
	cw.mu.Lock()
	if cw.closed {
		cw.mu.Unlock()
		return
	}
	cw.closed = true
	close(cw.ch)
	cw.mu.Unlock()
	<-cw.done
}
