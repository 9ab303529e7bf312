package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veepo/veeposync/internal/domain"
)

func TestWebSocketTransportRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotKey := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey <- r.URL.Query().Get("apikey")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := DecodeFrame(raw)
		if err != nil {
			return
		}
		reply, _ := EncodeReply(frame.Topic, frame.Ref, ReplyOK)
		_ = conn.WriteMessage(websocket.TextMessage, reply)
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(server.Close)

	tr, err := NewWebSocketTransport(server.URL+"/realtime/v1/websocket", "anon-key")
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	if !tr.Connected() {
		t.Fatalf("expected connected transport")
	}
	if key := <-gotKey; key != "anon-key" {
		t.Fatalf("expected api key in query, got %q", key)
	}

	join, err := EncodeJoin(domain.MessagesTopic("c1"), "1", "")
	if err != nil {
		t.Fatalf("encode join: %v", err)
	}
	if err := tr.WriteFrame(ctx, join); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := tr.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reply, err := frame.Reply()
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if frame.Event != FrameReply || frame.Ref != "1" || reply.Status != ReplyOK {
		t.Fatalf("unexpected reply frame: %+v", frame)
	}
}

func TestWebSocketTransportReadHonoursContext(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(server.Close)

	tr, err := NewWebSocketTransport(server.URL, "")
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := tr.ReadFrame(ctx); err == nil {
		t.Fatalf("expected read to fail after the deadline")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("read blocked for %v", elapsed)
	}
}

func TestWebSocketTransportNotConnected(t *testing.T) {
	tr, err := NewWebSocketTransport("https://example.supabase.co/realtime/v1/websocket", "k")
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if !strings.HasPrefix(tr.endpoint, "wss://") {
		t.Fatalf("expected wss scheme, got %q", tr.endpoint)
	}
	if _, err := tr.ReadFrame(context.Background()); err == nil {
		t.Fatalf("expected read error while disconnected")
	}
	if err := tr.WriteFrame(context.Background(), []byte("{}")); err == nil {
		t.Fatalf("expected write error while disconnected")
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close while disconnected: %v", err)
	}
}

func TestNewWebSocketTransportRejectsUnknownScheme(t *testing.T) {
	if _, err := NewWebSocketTransport("ftp://host", ""); err == nil {
		t.Fatalf("expected scheme error")
	}
}
