// Package realtimetest provides an in-memory realtime server for tests.
package realtimetest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/veepo/veeposync/internal/domain"
	"github.com/veepo/veeposync/internal/realtime"
)

var errNotConnected = errors.New("realtimetest: not connected")

// Transport acknowledges joins and lets tests push changes and drop the
// connection.
type Transport struct {
	mu           sync.Mutex
	inbound      chan []byte
	closed       chan struct{}
	connected    bool
	connects     int
	failConnects int
	refuseJoins  bool
	joined       map[string]string
	written      []realtime.Frame
}

func NewTransport() *Transport {
	return &Transport{joined: make(map[string]string)}
}

func (t *Transport) Name() string {
	return "test"
}

func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.failConnects > 0 {
		t.failConnects--

		return errors.New("realtimetest: connection refused")
	}
	t.inbound = make(chan []byte, 256)
	t.closed = make(chan struct{})
	t.connected = true
	clear(t.joined)

	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropLocked()

	return nil
}

func (t *Transport) ReadFrame(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()

		return nil, errNotConnected
	}
	inbound, closed := t.inbound, t.closed
	t.mu.Unlock()

	select {
	case payload := <-inbound:
		return payload, nil
	case <-closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) WriteFrame(_ context.Context, payload []byte) error {
	frame, err := realtime.DecodeFrame(payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return errNotConnected
	}
	t.written = append(t.written, frame)

	switch frame.Event {
	case realtime.FrameJoin:
		status := realtime.ReplyOK
		if t.refuseJoins {
			status = "error"
		} else {
			t.joined[frame.Topic] = frame.Ref
		}
		reply, err := realtime.EncodeReply(frame.Topic, frame.Ref, status)
		if err != nil {
			return err
		}
		t.inbound <- reply
	case realtime.FrameLeave:
		delete(t.joined, frame.Topic)
	case realtime.FrameHeartbeat:
		reply, err := realtime.EncodeReply(realtime.PhoenixTopic, frame.Ref, realtime.ReplyOK)
		if err != nil {
			return err
		}
		t.inbound <- reply
	}

	return nil
}

// Push delivers a row change to the client. Changes pushed while the
// topic is not joined are lost, as they would be on a real server.
func (t *Transport) Push(topic domain.Topic, kind realtime.ChangeKind, record any) error {
	payload, err := realtime.EncodeChange(topic, kind, record)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return errNotConnected
	}
	if _, ok := t.joined[topic.ChannelName()]; !ok {
		return errors.New("realtimetest: topic not joined: " + topic.String())
	}
	t.inbound <- payload

	return nil
}

// PushRaw delivers an arbitrary payload, joined or not.
func (t *Transport) PushRaw(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return errNotConnected
	}
	t.inbound <- payload

	return nil
}

// Drop severs the connection from the server side.
func (t *Transport) Drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropLocked()
}

func (t *Transport) FailNextConnects(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failConnects = n
}

func (t *Transport) RefuseJoins(refuse bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refuseJoins = refuse
}

func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connects
}

func (t *Transport) Joined(topic domain.Topic) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.joined[topic.ChannelName()]

	return ok
}

// WaitJoined polls until topic is joined on the current connection.
func (t *Transport) WaitJoined(topic domain.Topic, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if t.Joined(topic) {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}

	return t.Joined(topic)
}

// Written returns the frames the client sent, oldest first.
func (t *Transport) Written() []realtime.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]realtime.Frame(nil), t.written...)
}

func (t *Transport) dropLocked() {
	if !t.connected {
		return
	}
	t.connected = false
	close(t.closed)
	clear(t.joined)
}
