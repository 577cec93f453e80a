package juggernaut

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// WebSocket front-end — serves the identical protocol to browser clients:
// the payload stream is still NUL-framed JSON, carried inside binary
// messages. A websocket connection runs through the same dispatcher,
// registry and teardown path as a raw TCP one.
// ---------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsTransport adapts a websocket connection to the byte-stream transport the
// Connection writer expects. Writes are serialized; message boundaries carry
// no meaning, the NUL delimiters do.
type wsTransport struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (t *wsTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *wsTransport) Close() error         { return t.ws.Close() }
func (t *wsTransport) RemoteAddr() net.Addr { return t.ws.RemoteAddr() }

func (s *Server) startWebSocket() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.opts.Host, s.opts.WSPort))
	if err != nil {
		return err
	}
	s.wsLn = ln
	s.ws = &http.Server{Handler: http.HandlerFunc(s.serveWS)}

	s.logger.Info("websocket listening", zap.String("addr", ln.Addr().String()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.ws.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("websocket server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) stopWebSocket() {
	if s.ws == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.ws.Shutdown(ctx)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	t := &wsTransport{ws: ws}
	conn := newConnection(t, s.logger)
	s.track(conn, t)
	s.logger.Debug("websocket connected",
		zap.String("remote", conn.RemoteIP()), zap.String("signature", conn.Signature()))

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if !conn.Receive(data, s.dispatch) {
			break
		}
	}

	s.teardown(conn, t)
}
