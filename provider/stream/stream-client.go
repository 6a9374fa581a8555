package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/paulbir/TokenTraderPublic-sub001/helpers"
	"github.com/recws-org/recws"
	"go.uber.org/zap"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultPollInterval     = 50 * time.Millisecond
	subscriberBuffer        = 256
)

var ErrClientClosed = errors.New("stream client is closed")

type StreamClientConfig struct {
	// Endpoint is a ws:// or wss:// url.
	Endpoint         string
	HandshakeTimeout time.Duration
	KeepAliveTimeout time.Duration
	Logger           *zap.Logger
}

type WebSocketRequestModel struct {
	ReqId  int      `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type frameHeader struct {
	Topic string `json:"topic"`
	ReqId int    `json:"id"`
}

type subscriber struct {
	ch   chan []byte
	done chan struct{}
}

// TopicSubscription delivers the raw frames of one topic. Done is closed
// once the subscription ends; Stream itself is never closed.
type TopicSubscription struct {
	Topic       string
	Stream      <-chan []byte
	Done        <-chan struct{}
	Unsubscribe func()
}

// StreamClient is a reconnecting websocket client multiplexing topic
// subscriptions over one connection. A topic is subscribed on the venue
// while it has at least one subscriber, and again after every reconnect.
type StreamClient struct {
	cfg    StreamClientConfig
	conn   *recws.RecConn
	logger *zap.Logger

	mu     sync.RWMutex
	topics map[string]map[uint64]*subscriber
	nextID uint64
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewStreamClient(cfg StreamClientConfig) *StreamClient {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &StreamClient{
		cfg:    cfg,
		logger: cfg.Logger.Named("stream-client").With(zap.String("endpoint", cfg.Endpoint)),
		topics: make(map[string]map[uint64]*subscriber),
	}
}

// Connect dials the endpoint and starts reading. A failed first attempt is
// not an error: the connection keeps being retried in the background.
func (c *StreamClient) Connect() error {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("endpoint %s must use ws or wss", c.cfg.Endpoint)
	}

	conn := &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		KeepAliveTimeout: c.cfg.KeepAliveTimeout,
		NonVerbose:       true,
	}
	conn.Dial(c.cfg.Endpoint, nil)

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	connected := conn.IsConnected()
	if connected {
		c.logger.Info("connected to the stream websocket")
	} else {
		c.logger.Warn("stream websocket is not connected yet, retrying in background")
	}

	go c.read(ctx, !connected)
	return nil
}

func (c *StreamClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn != nil && c.conn.IsConnected()
}

func (c *StreamClient) Subscribe(topic string) (*TopicSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	subs, ok := c.topics[topic]
	if !ok {
		subs = make(map[uint64]*subscriber)
		c.topics[topic] = subs
	}

	c.nextID++
	id := c.nextID
	s := &subscriber{
		ch:   make(chan []byte, subscriberBuffer),
		done: make(chan struct{}),
	}
	subs[id] = s

	if !ok {
		c.logger.Info("subscribing to topic", zap.String("topic", topic))
		c.send("SUBSCRIBE", topic)
	}

	var once sync.Once
	return &TopicSubscription{
		Topic:  topic,
		Stream: s.ch,
		Done:   s.done,
		Unsubscribe: func() {
			once.Do(func() { c.unsubscribe(topic, id) })
		},
	}, nil
}

func (c *StreamClient) unsubscribe(topic string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs, ok := c.topics[topic]
	if !ok {
		return
	}
	s, ok := subs[id]
	if !ok {
		return
	}

	delete(subs, id)
	close(s.done)

	if len(subs) == 0 {
		delete(c.topics, topic)
		c.logger.Info("unsubscribing from topic", zap.String("topic", topic))
		c.send("UNSUBSCRIBE", topic)
	}
}

// Close ends every subscription and the connection.
func (c *StreamClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	for topic, subs := range c.topics {
		for _, s := range subs {
			close(s.done)
		}
		delete(c.topics, topic)
	}
	conn, cancel, done := c.conn, c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

// send must be called with c.mu held. Requests that cannot be written are
// repeated by the resubscription after the reconnect.
func (c *StreamClient) send(method string, topic string) {
	if c.conn == nil || !c.conn.IsConnected() {
		c.logger.Debug("not connected, request postponed", zap.String("method", method), zap.String("topic", topic))
		return
	}

	err := c.conn.WriteJSON(WebSocketRequestModel{
		ReqId:  helpers.RandomRequestID(),
		Method: method,
		Params: []string{topic},
	})
	if err != nil {
		c.logger.Warn("failed to send request", zap.String("method", method), zap.String("topic", topic), zap.Error(err))
	}
}

func (c *StreamClient) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for topic := range c.topics {
		c.send("SUBSCRIBE", topic)
	}
	c.logger.Info("resubscribed after reconnect", zap.Int("topics", len(c.topics)))
}

func (c *StreamClient) read(ctx context.Context, disconnected bool) {
	defer close(c.done)

	for ctx.Err() == nil {
		if !c.conn.IsConnected() {
			disconnected = true
			helpers.SleepContext(ctx, defaultPollInterval)
			continue
		}

		if disconnected {
			c.resubscribe()
			disconnected = false
		}

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("error while reading from connection", zap.Error(err))
			}
			disconnected = true
			continue
		}

		c.route(ctx, msg)
	}
}

func (c *StreamClient) route(ctx context.Context, msg []byte) {
	var header frameHeader
	if err := json.Unmarshal(msg, &header); err != nil {
		c.logger.Warn("malformed frame skipped", zap.Error(err), zap.ByteString("frame", msg))
		return
	}

	if header.Topic == "" {
		if header.ReqId != 0 {
			c.logger.Debug("request acknowledged", zap.Int("id", header.ReqId))
		}
		return
	}

	c.mu.RLock()
	subs := make([]*subscriber, 0, len(c.topics[header.Topic]))
	for _, s := range c.topics[header.Topic] {
		subs = append(subs, s)
	}
	c.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}
}
