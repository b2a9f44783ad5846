package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const WebSocketID = "websocket"

// Frame is the JSON message exchanged with websocket clients in both
// directions.
type Frame struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Sender         string `json:"sender,omitempty"`
	Text           string `json:"text"`
}

// WebSocket serves one conversation per connection. The conversation id is
// sent to the client in a first frame and is the target of replies and
// provisioning notifications.
type WebSocket struct {
	addr   string
	path   string
	prefix string
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*websocket.Conn
	inbox chan<- InboundMessage
	ctx   context.Context
	srv   *http.Server
}

func NewWebSocket(addr, path, mentionPrefix string, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "/ws"
	}
	return &WebSocket{
		addr:   addr,
		path:   path,
		prefix: mentionPrefix,
		logger: logger.With("component", "websocket"),
		conns:  make(map[string]*websocket.Conn),
	}
}

func (w *WebSocket) ID() string { return WebSocketID }

// Start listens on the configured address. With an empty address only
// Handler serves connections.
func (w *WebSocket) Start(ctx context.Context, inbox chan<- InboundMessage) error {
	w.mu.Lock()
	w.inbox = inbox
	w.ctx = ctx
	w.mu.Unlock()

	if w.addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("websocket listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(w.path, w.Handler())
	w.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("websocket server stopped", "error", err)
		}
	}()
	w.logger.Info("websocket listening", "addr", ln.Addr().String(), "path", w.path)
	return nil
}

// Handler upgrades requests and reads frames until the client goes away.
func (w *WebSocket) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(rw, r, nil)
		if err != nil {
			w.logger.Warn("websocket accept", "error", err)
			return
		}
		conv := uuid.NewString()
		w.mu.Lock()
		w.conns[conv] = conn
		inbox, ctx := w.inbox, w.ctx
		w.mu.Unlock()
		defer func() {
			w.mu.Lock()
			delete(w.conns, conv)
			w.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}()
		if inbox == nil {
			_ = conn.Close(websocket.StatusTryAgainLater, "channel not started")
			return
		}

		readCtx := r.Context()
		if err := wsjson.Write(readCtx, conn, Frame{ConversationID: conv}); err != nil {
			return
		}
		for {
			var f Frame
			if err := wsjson.Read(readCtx, conn, &f); err != nil {
				if websocket.CloseStatus(err) == -1 {
					w.logger.Debug("websocket read", "conversation", conv, "error", err)
				}
				return
			}
			text, ok := StripMention(w.prefix, f.Text)
			if !ok {
				continue
			}
			msg := InboundMessage{
				ChannelID:      WebSocketID,
				ConversationID: conv,
				SenderID:       f.Sender,
				Content:        text,
				Timestamp:      time.Now(),
			}
			select {
			case inbox <- msg:
			case <-ctx.Done():
				return
			case <-readCtx.Done():
				return
			}
		}
	})
}

// Send writes to the connection of msg's conversation. It fails when the
// client has disconnected.
func (w *WebSocket) Send(ctx context.Context, msg OutboundMessage) error {
	w.mu.RLock()
	conn, ok := w.conns[msg.ConversationID]
	w.mu.RUnlock()
	if !ok {
		return fmt.Errorf("conversation %q is not connected", msg.ConversationID)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, Frame{ConversationID: msg.ConversationID, Text: msg.Content})
}

func (w *WebSocket) Stop() error {
	w.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(w.conns))
	for _, c := range w.conns {
		conns = append(conns, c)
	}
	w.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "shutting down")
	}
	if w.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.srv.Shutdown(ctx)
}
