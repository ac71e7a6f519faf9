// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/teradata-labs/synapse/pkg/acp"
)

// Exchange names declared at connect time.
const (
	DirectExchange = "synapse.direct"
	TopicExchange  = "synapse.topics"
)

// Reconnection policy: up to 5 attempts, 5 seconds apart.
const (
	reconnectAttempts = 5
	reconnectInterval = 5 * time.Second
)

// DefaultPendingLimit bounds the publish buffer while the bus is
// reconnecting; beyond it Publish fails ErrBackpressure.
const DefaultPendingLimit = 256

// AMQPBus is a Bus backed by an AMQP 0.9.1 broker. One connection and one
// channel serve the whole process; multiplexing is by subscription, not by
// connection. Messages are persistent UTF-8 JSON envelopes.
type AMQPBus struct {
	url    string
	logger *zap.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	connected bool
	closed    bool

	// Subscription registries, re-bound transparently after reconnect.
	agentSubs map[string]*amqpSubscription
	topicSubs map[string]map[string]*amqpSubscription

	// Publishes buffered while the transport is down.
	pending      []*publishRequest
	pendingLimit int

	consumers sync.WaitGroup
}

type amqpSubscription struct {
	id          string
	queue       string
	exchange    string
	routingKey  string
	consumerTag string
	handler     Handler
	cancel      context.CancelFunc
}

type publishRequest struct {
	exchange   string
	routingKey string
	body       []byte
}

// NewAMQPBus creates a broker-backed bus for the given AMQP URL. A nil
// logger is replaced with a no-op logger.
func NewAMQPBus(url string, logger *zap.Logger) *AMQPBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPBus{
		url:          url,
		logger:       logger,
		agentSubs:    make(map[string]*amqpSubscription),
		topicSubs:    make(map[string]map[string]*amqpSubscription),
		pendingLimit: DefaultPendingLimit,
	}
}

// SetPendingLimit overrides the reconnection publish buffer high-water
// mark. Must be called before Connect.
func (b *AMQPBus) SetPendingLimit(n int) {
	if n > 0 {
		b.pendingLimit = n
	}
}

// Connect dials the broker and declares both exchanges. Idempotent:
// re-entry on a connected bus returns without reconnecting. Dial failures
// are retried on the reconnect policy before giving up.
func (b *AMQPBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.connected {
		return nil
	}
	return b.connectLocked(ctx)
}

// connectLocked dials with bounded retry and sets up the topology. Caller
// holds b.mu.
func (b *AMQPBus) connectLocked(ctx context.Context) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(reconnectInterval), reconnectAttempts-1),
		ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := b.dialLocked(); err != nil {
			b.logger.Error("broker connection failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return fmt.Errorf("bus: connect to %s: %w", b.url, err)
	}

	b.connected = true
	b.logger.Info("connected to broker", zap.String("url", b.url))
	return nil
}

// dialLocked performs one connection attempt and installs the result.
// Caller holds b.mu.
func (b *AMQPBus) dialLocked() error {
	conn, ch, err := b.dial()
	if err != nil {
		return err
	}
	b.conn = conn
	b.ch = ch

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	go b.monitorClose(closeCh)
	return nil
}

// dial opens one connection and channel and declares the exchanges. It
// touches no bus state, so it may run without b.mu held.
func (b *AMQPBus) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	for name, kind := range map[string]string{DirectExchange: "direct", TopicExchange: "topic"} {
		if err := ch.ExchangeDeclare(name, kind, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return conn, ch, nil
}

// monitorClose watches for transport failure and drives reconnection with
// transparent re-binding of all subscriptions. The mutex is held only to
// flip state and install the fresh transport, never across dial attempts:
// publishes keep reaching the pending buffer while the broker is down.
func (b *AMQPBus) monitorClose(closeCh chan *amqp.Error) {
	amqpErr, ok := <-closeCh
	if !ok || amqpErr == nil {
		return // clean shutdown
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.connected = false
	b.mu.Unlock()
	b.logger.Warn("broker connection lost, reconnecting", zap.String("reason", amqpErr.Reason))

	conn, ch, err := b.redial()
	if err != nil {
		b.logger.Error("reconnection failed, bus unavailable", zap.Error(err))
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.conn = conn
	b.ch = ch
	b.connected = true
	if err := b.rebindLocked(); err != nil {
		b.logger.Error("subscription rebind failed", zap.Error(err))
	}
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	closeNotify := conn.NotifyClose(make(chan *amqp.Error, 1))
	go b.monitorClose(closeNotify)
	b.logger.Info("reconnected to broker", zap.String("url", b.url))

	for _, req := range pending {
		if err := b.publishBody(context.Background(), req.exchange, req.routingKey, req.body); err != nil {
			b.logger.Error("buffered publish failed after reconnect", zap.Error(err))
		}
	}
}

// redial runs the reconnect policy over plain dial attempts, outside the
// lock.
func (b *AMQPBus) redial() (*amqp.Connection, *amqp.Channel, error) {
	var (
		conn *amqp.Connection
		ch   *amqp.Channel
	)
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(reconnectInterval), reconnectAttempts-1)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		conn, ch, err = b.dial()
		if err != nil {
			b.logger.Error("broker connection failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}, policy)
	if err != nil {
		return nil, nil, fmt.Errorf("bus: reconnect to %s: %w", b.url, err)
	}
	return conn, ch, nil
}

// rebindLocked re-declares queues, bindings, and consumers for every live
// subscription on the fresh channel. Caller holds b.mu.
func (b *AMQPBus) rebindLocked() error {
	for _, sub := range b.agentSubs {
		if err := b.bindLocked(sub); err != nil {
			return err
		}
	}
	for _, subs := range b.topicSubs {
		for _, sub := range subs {
			if err := b.bindLocked(sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// Publish routes the envelope to the direct or topic exchange per its
// addressing. While the transport is reconnecting, publishes are buffered
// up to the pending limit.
func (b *AMQPBus) Publish(ctx context.Context, env *acp.Envelope) error {
	if env == nil {
		return fmt.Errorf("bus: nil envelope")
	}
	body, err := env.Encode()
	if err != nil {
		return err
	}

	exchange, key := DirectExchange, env.ReceiverID
	if env.Topic != "" {
		exchange, key = TopicExchange, env.Topic
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrNotConnected
	}
	if !b.connected {
		if b.conn == nil {
			// Never connected: fail fast rather than buffer.
			b.mu.Unlock()
			return ErrNotConnected
		}
		if len(b.pending) >= b.pendingLimit {
			b.mu.Unlock()
			return ErrBackpressure
		}
		b.pending = append(b.pending, &publishRequest{exchange: exchange, routingKey: key, body: body})
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	return b.publishBody(ctx, exchange, key, body)
}

func (b *AMQPBus) publishBody(ctx context.Context, exchange, key string, body []byte) error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}

	err := ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("bus: publish to %s/%s: %w", exchange, key, err)
	}
	return nil
}

// SubscribeAgent binds a durable per-agent queue to the direct exchange
// with the agent id as routing key.
func (b *AMQPBus) SubscribeAgent(agentID string, handler Handler) error {
	if agentID == "" {
		return fmt.Errorf("bus: agent id cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("bus: handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if !b.connected {
		return ErrNotConnected
	}
	if _, exists := b.agentSubs[agentID]; exists {
		return ErrAlreadySubscribed
	}

	sub := &amqpSubscription{
		id:         agentID,
		queue:      "synapse.agent." + agentID,
		exchange:   DirectExchange,
		routingKey: agentID,
		handler:    handler,
	}
	if err := b.bindLocked(sub); err != nil {
		return err
	}
	b.agentSubs[agentID] = sub
	b.logger.Info("agent subscribed", zap.String("agent_id", agentID), zap.String("queue", sub.queue))
	return nil
}

// SubscribeTopic binds a per-handler queue to the topic exchange.
func (b *AMQPBus) SubscribeTopic(topic string, handler Handler) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("bus: topic cannot be empty")
	}
	if handler == nil {
		return "", fmt.Errorf("bus: handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	if !b.connected {
		return "", ErrNotConnected
	}

	subID := uuid.NewString()
	sub := &amqpSubscription{
		id:         subID,
		queue:      fmt.Sprintf("synapse.topic.%s.%s", topic, subID),
		exchange:   TopicExchange,
		routingKey: topic,
		handler:    handler,
	}
	if err := b.bindLocked(sub); err != nil {
		return "", err
	}
	if b.topicSubs[topic] == nil {
		b.topicSubs[topic] = make(map[string]*amqpSubscription)
	}
	b.topicSubs[topic][subID] = sub
	b.logger.Info("topic subscribed", zap.String("topic", topic), zap.String("queue", sub.queue))
	return subID, nil
}

// bindLocked declares the subscription's queue, binds it, and starts its
// consumer loop. Caller holds b.mu.
func (b *AMQPBus) bindLocked(sub *amqpSubscription) error {
	durable := sub.exchange == DirectExchange
	if _, err := b.ch.QueueDeclare(sub.queue, durable, !durable, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", sub.queue, err)
	}
	if err := b.ch.QueueBind(sub.queue, sub.routingKey, sub.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", sub.queue, err)
	}

	sub.consumerTag = "consumer-" + uuid.NewString()
	deliveries, err := b.ch.Consume(sub.queue, sub.consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", sub.queue, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub.cancel = cancel
	b.consumers.Add(1)
	go b.consume(ctx, sub, deliveries)
	return nil
}

// consume decodes and dispatches deliveries for one subscription.
// Malformed bodies are logged and acked so they never block the queue;
// handler panics are recovered. Acking after the handler returns gives
// at-least-once delivery.
func (b *AMQPBus) consume(ctx context.Context, sub *amqpSubscription, deliveries <-chan amqp.Delivery) {
	defer b.consumers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			env, err := acp.Decode(d.Body)
			if err != nil {
				b.logger.Error("dropping malformed message",
					zap.String("queue", sub.queue),
					zap.Error(err))
				_ = d.Ack(false)
				continue
			}
			b.invoke(ctx, sub, env)
			_ = d.Ack(false)
		}
	}
}

func (b *AMQPBus) invoke(ctx context.Context, sub *amqpSubscription, env *acp.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic recovered",
				zap.String("queue", sub.queue),
				zap.Any("panic", r))
		}
	}()
	sub.handler(ctx, env)
}

// UnsubscribeAgent cancels the consumer and removes the registration.
func (b *AMQPBus) UnsubscribeAgent(agentID string) error {
	b.mu.Lock()
	sub, ok := b.agentSubs[agentID]
	delete(b.agentSubs, agentID)
	ch, connected := b.ch, b.connected
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return b.teardown(sub, ch, connected)
}

// UnsubscribeTopic cancels one topic consumer and removes the
// registration.
func (b *AMQPBus) UnsubscribeTopic(topic, subscriptionID string) error {
	b.mu.Lock()
	var sub *amqpSubscription
	if subs := b.topicSubs[topic]; subs != nil {
		sub = subs[subscriptionID]
		delete(subs, subscriptionID)
		if len(subs) == 0 {
			delete(b.topicSubs, topic)
		}
	}
	ch, connected := b.ch, b.connected
	b.mu.Unlock()
	if sub == nil {
		return nil
	}
	return b.teardown(sub, ch, connected)
}

func (b *AMQPBus) teardown(sub *amqpSubscription, ch *amqp.Channel, connected bool) error {
	if sub.cancel != nil {
		sub.cancel()
	}
	if connected && ch != nil {
		if err := ch.Cancel(sub.consumerTag, false); err != nil {
			return fmt.Errorf("bus: cancel consumer %s: %w", sub.consumerTag, err)
		}
	}
	return nil
}

// Close drains consumers with bounded grace and closes the channel and
// connection.
func (b *AMQPBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.connected = false

	for id, sub := range b.agentSubs {
		if sub.cancel != nil {
			sub.cancel()
		}
		delete(b.agentSubs, id)
	}
	for topic, subs := range b.topicSubs {
		for id, sub := range subs {
			if sub.cancel != nil {
				sub.cancel()
			}
			delete(subs, id)
		}
		delete(b.topicSubs, topic)
	}
	ch, conn := b.ch, b.conn
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.consumers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("close grace expired with consumers in flight")
	case <-time.After(5 * time.Second):
		b.logger.Warn("close grace expired with consumers in flight")
	}

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	b.logger.Info("amqp bus closed")
	return nil
}
