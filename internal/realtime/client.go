package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/veepo/veeposync/internal/bus"
	"github.com/veepo/veeposync/internal/connectors"
	"github.com/veepo/veeposync/internal/domain"
)

var ErrClientStopped = errors.New("realtime client stopped")

// Settings tunes the connection loop.
type Settings struct {
	HeartbeatInterval time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	// MaxReconnectAttempts bounds consecutive failed connects. Zero retries
	// forever.
	MaxReconnectAttempts int
	EventBuffer          int
	AccessToken          string
}

func DefaultSettings() Settings {
	return Settings{
		HeartbeatInterval:    25 * time.Second,
		ReadTimeout:          60 * time.Second,
		WriteTimeout:         5 * time.Second,
		InitialBackoff:       time.Second,
		MaxBackoff:           15 * time.Second,
		MaxReconnectAttempts: 10,
		EventBuffer:          64,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = def.HeartbeatInterval
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = def.ReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = def.WriteTimeout
	}
	if s.InitialBackoff <= 0 {
		s.InitialBackoff = def.InitialBackoff
	}
	if s.MaxBackoff < s.InitialBackoff {
		s.MaxBackoff = s.InitialBackoff
	}
	if s.MaxReconnectAttempts < 0 {
		s.MaxReconnectAttempts = 0
	}
	if s.EventBuffer <= 0 {
		s.EventBuffer = def.EventBuffer
	}

	return s
}

// Client multiplexes topic subscriptions over one reconnecting transport.
// Events are published on the bus per topic, which keeps their order.
type Client struct {
	logger    *slog.Logger
	transport Transport
	bus       bus.MessageBus
	settings  Settings

	mu        sync.Mutex
	subs      map[domain.Topic]*Subscription
	joins     map[string]domain.Topic
	connected bool
	stopped   bool
	ref       uint64
}

func NewClient(logger *slog.Logger, b bus.MessageBus, tr Transport, settings Settings) *Client {
	if logger == nil {
		logger = slog.Default().With("component", "realtime")
	}

	return &Client{
		logger:    logger,
		transport: tr,
		bus:       b,
		settings:  settings.withDefaults(),
		subs:      make(map[domain.Topic]*Subscription),
		joins:     make(map[string]domain.Topic),
	}
}

func (c *Client) Start(ctx context.Context) {
	go c.runConnector(ctx)
}

// Subscribe returns the live subscription for topic, creating it when none
// exists. A new subscription starts in the connecting state.
func (c *Client) Subscribe(topic domain.Topic) (*Subscription, error) {
	if err := topic.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()

		return nil, ErrClientStopped
	}
	if existing, ok := c.subs[topic]; ok {
		c.mu.Unlock()

		return existing, nil
	}
	sub := newSubscription(topic, c.bus, c.settings.EventBuffer, c.release)
	sub.setState(StateConnecting)
	c.subs[topic] = sub
	var payload []byte
	if c.connected {
		payload = c.joinFrameLocked(topic)
	}
	c.mu.Unlock()

	c.logger.Debug("subscribe", "topic", topic.String())
	if payload != nil {
		c.write(context.Background(), payload, "join")
	}

	return sub, nil
}

func (c *Client) release(sub *Subscription) {
	c.mu.Lock()
	if c.subs[sub.topic] != sub {
		c.mu.Unlock()

		return
	}
	delete(c.subs, sub.topic)
	for ref, topic := range c.joins {
		if topic == sub.topic {
			delete(c.joins, ref)
		}
	}
	var payload []byte
	if c.connected {
		payload = c.leaveFrameLocked(sub.topic)
	}
	c.mu.Unlock()

	c.logger.Debug("unsubscribe", "topic", sub.topic.String())
	if payload != nil {
		c.write(context.Background(), payload, "leave")
	}
}

func (c *Client) runConnector(ctx context.Context) {
	backoff := c.settings.InitialBackoff
	attempts := 0
	for {
		if ctx.Err() != nil {
			c.shutdown(nil)

			return
		}

		c.publishConnStatus(connectors.ConnectionStateConnecting, attempts, nil)
		if err := c.transport.Connect(ctx); err != nil {
			attempts++
			c.logger.Error("realtime connect failed", "attempt", attempts, "error", err)
			if c.settings.MaxReconnectAttempts > 0 && attempts >= c.settings.MaxReconnectAttempts {
				c.shutdown(fmt.Errorf("%w: %d connect attempts failed: %v", domain.ErrTransport, attempts, err))

				return
			}
			c.publishConnStatus(connectors.ConnectionStateReconnecting, attempts, err)
			if !sleepWithContext(ctx, backoff) {
				c.shutdown(nil)

				return
			}
			backoff = nextBackoff(backoff, c.settings.MaxBackoff)
			continue
		}

		attempts = 0
		backoff = c.settings.InitialBackoff
		c.publishConnStatus(connectors.ConnectionStateConnected, 0, nil)
		c.rejoin(ctx)

		heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
		go c.runHeartbeat(heartbeatCtx)
		err := c.runReader(ctx)
		cancelHeartbeat()
		_ = c.transport.Close()
		c.markDisconnected()
		if ctx.Err() != nil {
			c.shutdown(nil)

			return
		}
		c.logger.Warn("realtime connection lost", "error", err)
		c.publishConnStatus(connectors.ConnectionStateReconnecting, 0, err)

		if !sleepWithContext(ctx, backoff) {
			c.shutdown(nil)

			return
		}
		backoff = nextBackoff(backoff, c.settings.MaxBackoff)
	}
}

func (c *Client) rejoin(ctx context.Context) {
	c.mu.Lock()
	c.connected = true
	payloads := make([][]byte, 0, len(c.subs))
	for topic := range c.subs {
		if payload := c.joinFrameLocked(topic); payload != nil {
			payloads = append(payloads, payload)
		}
	}
	c.mu.Unlock()

	for _, payload := range payloads {
		c.write(ctx, payload, "join")
	}
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	clear(c.joins)
	topics := make([]domain.Topic, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	for _, topic := range topics {
		c.bus.Publish(busTopic(topic), Event{Topic: topic, State: StateReconnecting})
	}
}

// shutdown closes every subscription. A non-nil err is reported through
// Subscription.Err.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	c.stopped = true
	c.connected = false
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.terminate(err)
	}
	c.publishConnStatus(connectors.ConnectionStateDisconnected, 0, err)
	if err != nil {
		c.logger.Error("realtime client gave up", "error", err)
	}
}

func (c *Client) runReader(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		readCtx, cancel := context.WithTimeout(ctx, c.settings.ReadTimeout)
		payload, err := c.transport.ReadFrame(readCtx)
		cancel()
		if err != nil {
			return err
		}

		frame, err := DecodeFrame(payload)
		if err != nil {
			c.logger.Warn("decode realtime frame failed", "error", err)
			continue
		}
		c.handleFrame(ctx, frame)
	}
}

func (c *Client) handleFrame(ctx context.Context, frame Frame) {
	if frame.Topic == PhoenixTopic {
		return
	}
	topic, err := domain.ParseTopic(frame.Topic)
	if err != nil {
		c.logger.Debug("ignoring frame for unknown topic", "topic", frame.Topic, "event", frame.Event)

		return
	}

	switch frame.Event {
	case FrameReply:
		c.handleReply(topic, frame)
	case FrameChanges:
		if !c.isLive(topic) {
			c.logger.Debug("dropping stale change", "topic", topic.String())

			return
		}
		change, err := frame.Change()
		if err != nil {
			c.logger.Warn("decode change failed", "topic", topic.String(), "error", err)

			return
		}
		c.bus.Publish(busTopic(topic), Event{
			Topic:     topic,
			Change:    change.Type,
			Record:    change.Record,
			OldRecord: change.OldRecord,
		})
	case FrameError, FrameClose:
		c.mu.Lock()
		_, ok := c.subs[topic]
		var payload []byte
		if ok && c.connected {
			payload = c.joinFrameLocked(topic)
		}
		c.mu.Unlock()
		if !ok {
			return
		}
		c.logger.Warn("channel dropped by server, rejoining", "topic", topic.String(), "event", frame.Event)
		c.bus.Publish(busTopic(topic), Event{Topic: topic, State: StateReconnecting})
		if payload != nil {
			c.write(ctx, payload, "join")
		}
	}
}

func (c *Client) handleReply(topic domain.Topic, frame Frame) {
	c.mu.Lock()
	joined, pending := c.joins[frame.Ref]
	if pending {
		delete(c.joins, frame.Ref)
	}
	sub := c.subs[topic]
	c.mu.Unlock()
	if !pending || joined != topic || sub == nil {
		return
	}

	reply, err := frame.Reply()
	if err != nil {
		c.logger.Warn("decode join reply failed", "topic", topic.String(), "error", err)

		return
	}
	if reply.Status != ReplyOK {
		c.logger.Error("join refused", "topic", topic.String(), "status", reply.Status, "response", string(reply.Response))
		sub.terminate(fmt.Errorf("%w: join %s refused: %s", domain.ErrTransport, topic, reply.Status))

		return
	}
	c.bus.Publish(busTopic(topic), Event{Topic: topic, State: StateActive})
}

func (c *Client) isLive(topic domain.Topic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]

	return ok
}

func (c *Client) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.settings.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := EncodeHeartbeat(c.nextRef())
			if err != nil {
				c.logger.Debug("encode heartbeat failed", "error", err)
				continue
			}
			c.write(ctx, payload, "heartbeat")
		}
	}
}

func (c *Client) joinFrameLocked(topic domain.Topic) []byte {
	c.ref++
	ref := strconv.FormatUint(c.ref, 10)
	payload, err := EncodeJoin(topic, ref, c.settings.AccessToken)
	if err != nil {
		c.logger.Error("encode join failed", "topic", topic.String(), "error", err)

		return nil
	}
	c.joins[ref] = topic

	return payload
}

func (c *Client) leaveFrameLocked(topic domain.Topic) []byte {
	c.ref++
	payload, err := EncodeLeave(topic, strconv.FormatUint(c.ref, 10))
	if err != nil {
		c.logger.Error("encode leave failed", "topic", topic.String(), "error", err)

		return nil
	}

	return payload
}

func (c *Client) nextRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++

	return strconv.FormatUint(c.ref, 10)
}

func (c *Client) write(ctx context.Context, payload []byte, kind string) {
	writeCtx, cancel := context.WithTimeout(ctx, c.settings.WriteTimeout)
	defer cancel()
	if err := c.transport.WriteFrame(writeCtx, payload); err != nil {
		c.logger.Debug("realtime write failed", "kind", kind, "error", err)
	}
}

func (c *Client) publishConnStatus(state connectors.ConnectionState, attempt int, err error) {
	status := connectors.ConnectionStatus{
		State:         state,
		TransportName: c.transport.Name(),
		Attempt:       attempt,
		Timestamp:     time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	c.bus.Publish(connectors.TopicConnStatus, status)
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}

	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
