package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	protocolVersion = "1.0.0"
	dialTimeout     = 10 * time.Second
)

var errNotConnected = errors.New("transport is not connected")

// WebSocketTransport carries JSON frames over a websocket connection.
type WebSocketTransport struct {
	endpoint string
	header   http.Header
	dialer   *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWebSocketTransport targets the realtime endpoint of a backend. The api
// key travels in the query string as the endpoint expects.
func NewWebSocketTransport(rawURL, apiKey string) (*WebSocketTransport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported realtime url scheme: %q", u.Scheme)
	}
	q := u.Query()
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}
	q.Set("vsn", protocolVersion)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if apiKey != "" {
		header.Set("apikey", apiKey)
	}

	return &WebSocketTransport{
		endpoint: u.String(),
		header:   header,
		dialer:   &websocket.Dialer{HandshakeTimeout: dialTimeout, Proxy: http.ProxyFromEnvironment},
	}, nil
}

func (t *WebSocketTransport) Name() string {
	return "websocket"
}

func (t *WebSocketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	logger := transportLogger(t.Name())

	if t.conn != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}

	logger.Info("connecting")
	conn, resp, err := t.dialer.DialContext(ctx, t.endpoint, t.header)
	if err != nil {
		if resp != nil {
			logger.Warn("connect failed", "status", resp.StatusCode, "error", err)

			return fmt.Errorf("dial websocket: status %d: %w", resp.StatusCode, err)
		}
		logger.Warn("connect failed", "error", err)

		return fmt.Errorf("dial websocket: %w", err)
	}
	t.conn = conn
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	logger := transportLogger(t.Name())

	if t.conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}
	t.writeMu.Lock()
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		logger.Warn("close failed", "error", err)

		return err
	}
	logger.Info("closed")

	return nil
}

func (t *WebSocketTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	logger := transportLogger(t.Name())
	conn, err := t.currentConn()
	if err != nil {
		logger.Debug("read frame failed: not connected", "error", err)

		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("read frame failed", "error", err)

			return nil, err
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			logger.Debug("read frame", "len", len(payload))

			return payload, nil
		}
	}
}

func (t *WebSocketTransport) WriteFrame(ctx context.Context, payload []byte) error {
	logger := transportLogger(t.Name())
	conn, err := t.currentConn()
	if err != nil {
		logger.Debug("write frame failed: not connected", "error", err)

		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		logger.Warn("write frame failed", "payload_len", len(payload), "error", err)

		return fmt.Errorf("write frame: %w", err)
	}
	logger.Debug("write frame", "payload_len", len(payload))

	return nil
}

func (t *WebSocketTransport) currentConn() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, errNotConnected
	}

	return t.conn, nil
}

func transportLogger(name string, attrs ...any) *slog.Logger {
	logger := slog.With("component", "transport", "transport", name)
	if len(attrs) == 0 {
		return logger
	}

	return logger.With(attrs...)
}
