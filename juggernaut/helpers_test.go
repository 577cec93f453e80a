package juggernaut

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeTransport captures everything a connection writes, split back into
// NUL-delimited frames for assertions.
type fakeTransport struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (t *fakeTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, net.ErrClosed
	}
	return t.buf.Write(p)
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

// frames returns the complete frames written so far, NUL terminators
// stripped. Raw (non-NUL-terminated) trailing bytes are not included.
func (t *fakeTransport) frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	raw := t.buf.Bytes()
	last := bytes.LastIndexByte(raw, 0)
	if last < 0 {
		return nil
	}
	return bytes.Split(raw[:last], []byte{0})
}

func (t *fakeTransport) raw() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf.Bytes()...)
}

// waitFrames polls until the transport holds at least want complete frames.
// The connection writer is a separate goroutine, so writes land eventually.
func waitFrames(t *testing.T, ft *fakeTransport, want int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		frames := ft.frames()
		if len(frames) >= want {
			return frames
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d frames, have %d", want, len(frames))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// settle gives the writer goroutine a moment, then asserts nothing was
// written. For "must not receive" cases only.
func assertNoFrames(t *testing.T, ft *fakeTransport) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	if frames := ft.frames(); len(frames) != 0 {
		t.Fatalf("expected no frames, got %d: %q", len(frames), frames)
	}
}

func newTestConn(t *testing.T) (*Connection, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	conn := newConnection(ft, nil)
	t.Cleanup(conn.writer.close)
	return conn, ft
}

// recordingNotifier records every callback and answers with configured
// results.
type recordingNotifier struct {
	mu sync.Mutex

	subscriptionResult bool
	loginResult        bool

	subscriptions [][]string // client_id, session_id, channels...
	logoutConns   [][]string
	logouts       [][]string // client_id, session_id
	logins        [][]string // client_id, session_id, type, command, channels...
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{subscriptionResult: true, loginResult: true}
}

func (n *recordingNotifier) Subscription(clientID, sessionID string, channels []string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscriptions = append(n.subscriptions, append([]string{clientID, sessionID}, channels...))
	return n.subscriptionResult
}

func (n *recordingNotifier) LogoutConnection(clientID, sessionID string, channels []string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logoutConns = append(n.logoutConns, append([]string{clientID, sessionID}, channels...))
	return true
}

func (n *recordingNotifier) Logout(clientID, sessionID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logouts = append(n.logouts, []string{clientID, sessionID})
	return true
}

func (n *recordingNotifier) BroadcastQueryLogin(clientID, sessionID, reqType, command string, channels []string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logins = append(n.logins, append([]string{clientID, sessionID, reqType, command}, channels...))
	return n.loginResult
}

func (n *recordingNotifier) logoutIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ids []string
	for _, l := range n.logouts {
		ids = append(ids, l[0])
	}
	return ids
}

// fakeClock replaces the registry clock in grace-timeout tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newTestBroker wires a dispatcher, registry and gate around the given
// options and notifier.
func newTestBroker(opts Options, n Notifier) (*Dispatcher, *Registry) {
	reg := NewRegistry(opts, n, nil)
	gate := NewAuthGate(opts, n)
	return NewDispatcher(opts, reg, gate, n, nil), reg
}

func mustDispatch(t *testing.T, d *Dispatcher, c *Connection, frame string) {
	t.Helper()
	if !d.Dispatch(c, []byte(frame)) {
		t.Fatalf("dispatch closed the connection for frame %s", frame)
	}
}
