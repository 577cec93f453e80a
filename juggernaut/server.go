package juggernaut

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Server — accept loop, one reader goroutine per connection, and the timeout
// sweeper. Shutdown stops accepting, closes live transports, notifies every
// still-registered client and then returns.
// ---------------------------------------------------------------------------

type Server struct {
	opts     Options
	logger   *zap.Logger
	notifier Notifier
	registry *Registry
	dispatch *Dispatcher

	listener net.Listener
	ws       *http.Server
	wsLn     net.Listener

	mu    sync.Mutex
	conns map[*Connection]transport

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer wires the broker components together: one notifier, one
// registry, one auth gate, one dispatcher, constructed once and passed by
// handle — no ambient state.
func NewServer(opts Options, logger *zap.Logger) *Server {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := Notifier(NopNotifier{})
	if opts.SubscriptionURL != "" || opts.LogoutURL != "" ||
		opts.LogoutConnectionURL != "" || opts.BroadcastQueryLoginURL != "" {
		notifier = NewHTTPNotifier(opts, logger.Named("notify"))
	}
	registry := NewRegistry(opts, notifier, logger.Named("registry"))
	gate := NewAuthGate(opts, notifier)
	dispatch := NewDispatcher(opts, registry, gate, notifier, logger.Named("dispatch"))

	return &Server{
		opts:     opts,
		logger:   logger,
		notifier: notifier,
		registry: registry,
		dispatch: dispatch,
		conns:    make(map[*Connection]transport),
		done:     make(chan struct{}),
	}
}

// Registry exposes broker state for embedding applications and tests.
func (s *Server) Registry() *Registry { return s.registry }

// Start opens the TCP listener (and the WebSocket listener when configured)
// and launches the accept loop and the sweeper.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port))
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(2)
	go s.acceptLoop()
	go s.sweepLoop()

	if s.opts.WSPort > 0 {
		if err := s.startWebSocket(); err != nil {
			_ = ln.Close()
			return err
		}
	}
	return nil
}

// Addr is the bound TCP address (useful with port 0 in tests).
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WSAddr is the bound WebSocket address, or nil when no WebSocket port is
// configured.
func (s *Server) WSAddr() net.Addr {
	if s.wsLn == nil {
		return nil
	}
	return s.wsLn.Addr()
}

// Stop shuts the broker down: no new frames, best-effort logout
// notifications for every registered client, then return. In-flight
// dispatches finish naturally, bounded by the callback timeout. Safe to call
// more than once; later calls return immediately.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.stopWebSocket()

		s.mu.Lock()
		for _, t := range s.conns {
			_ = t.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.registry.ShutdownAll()
		s.logger.Info("stopped")
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go s.handleConn(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	defer s.wg.Done()

	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}

	conn := newConnection(nc, s.logger)
	s.track(conn, nc)
	s.logger.Debug("connected",
		zap.String("remote", conn.RemoteIP()), zap.String("signature", conn.Signature()))

	buf := make([]byte, 4096)
	for {
		n, err := nc.Read(buf)
		if n > 0 && !conn.Receive(buf[:n], s.dispatch) {
			break
		}
		if err != nil {
			break
		}
	}

	s.teardown(conn, nc)
}

func (s *Server) track(conn *Connection, t transport) {
	s.mu.Lock()
	s.conns[conn] = t
	s.mu.Unlock()
}

// teardown runs the close sequence for one connection: flip liveness, fire
// the logout-connection notification for its channel set, then detach from
// the owning client. The notification is attempted before the registry
// removal, never after.
func (s *Server) teardown(conn *Connection, t transport) {
	if conn.markDead() {
		if client := s.registry.FindBySignature(conn.Signature()); client != nil {
			s.notifier.LogoutConnection(client.ID(), client.SessionID(), conn.Channels())
			s.registry.Detach(client, conn)
			s.logger.Debug("lost client",
				zap.String("client_id", client.ID()), zap.String("signature", conn.Signature()))
		}
	}
	conn.writer.close()
	_ = t.Close()

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) sweepLoop() {
	defer s.wg.Done()
	interval := s.opts.CleanupTimer
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.registry.Sweep()
		}
	}
}
