package rpc

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/kv"
)

const (
	wsBuffer       = 64
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1 << 10,
	WriteBufferSize: 1 << 12,
}

// rpcRequest adapts one http exchange to a net/rpc codec.
type rpcRequest struct {
	io.Reader
	io.Writer
}

func (r *rpcRequest) Close() error { return nil }

// Post serves one JSON-RPC request per http POST.
func (s *Service) Post(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var buf bytes.Buffer
	req := &rpcRequest{Reader: r.Body, Writer: &buf}

	if err := s.server.ServeRequest(jsonrpc.NewServerCodec(req)); err != nil {
		slog.Warn("rpc request failed", slog.Any("err", err))
	}

	w.Header().Set("Content-Type", "application/json")
	io.Copy(w, &buf)
}

// WebSocket pushes every registry event to the client until it disconnects.
func (s *Service) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}

	sub := newWSSubscriber(conn)
	h := s.registry.Subscribe(sub)
	slog.Info("websocket client connected", slog.String("remote", r.RemoteAddr))

	go sub.writeLoop()

	// drain client frames, a read error means the client went away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.registry.Unsubscribe(h)
	conn.Close()
	slog.Info("websocket client disconnected", slog.String("remote", r.RemoteAddr))
}

type wsSubscriber struct {
	conn   *websocket.Conn
	events chan internal.Event
	mu     sync.Mutex
	closed bool
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	return &wsSubscriber{conn: conn, events: make(chan internal.Event, wsBuffer)}
}

func (s *wsSubscriber) Send(ev internal.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.ErrSubscriberClosed
	}

	select {
	case s.events <- ev:
		return nil
	default:
		return kv.ErrSubscriberFull
	}
}

func (s *wsSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *wsSubscriber) writeLoop() {
	for ev := range s.events {
		s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := s.conn.WriteJSON(ev); err != nil {
			slog.Warn("websocket write failed", slog.Any("err", err))
			s.Close()
			s.conn.Close()
			break
		}
	}
	// unblock the reader when the registry dropped us
	s.conn.Close()
}
