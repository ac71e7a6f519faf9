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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/synapse/pkg/acp"
)

// DefaultHighWater is the per-subscriber queue limit before Publish fails
// with ErrBackpressure.
const DefaultHighWater = 1024

// MemoryBus is an in-process Bus. Each subscriber owns a FIFO queue and a
// dispatch goroutine, so a slow handler never stalls another subscriber or
// the publisher. The registry mutex is held only for registry mutation and
// snapshot, never across dispatch.
type MemoryBus struct {
	mu     sync.RWMutex
	agents map[string]*memSubscriber
	topics map[string]map[string]*memSubscriber

	highWater int
	logger    *zap.Logger

	connected atomic.Bool
	closed    atomic.Bool
	wg        sync.WaitGroup

	totalPublished atomic.Int64
	totalDelivered atomic.Int64
}

// memSubscriber is a single delivery target with its own FIFO queue.
type memSubscriber struct {
	id      string
	handler Handler
	logger  *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*acp.Envelope
	closed bool
}

// NewMemoryBus creates an in-process bus. A nil logger is replaced with a
// no-op logger.
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{
		agents:    make(map[string]*memSubscriber),
		topics:    make(map[string]map[string]*memSubscriber),
		highWater: DefaultHighWater,
		logger:    logger,
	}
}

// SetHighWater overrides the per-subscriber queue limit. Must be called
// before the first Publish.
func (b *MemoryBus) SetHighWater(n int) {
	if n > 0 {
		b.highWater = n
	}
}

// Connect marks the bus ready. Idempotent; there is no transport to dial.
func (b *MemoryBus) Connect(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.connected.Store(true)
	return nil
}

// Publish routes the envelope to the unicast subscriber or to every topic
// subscriber. Per-subscriber enqueue order matches publish order.
func (b *MemoryBus) Publish(ctx context.Context, env *acp.Envelope) error {
	if !b.connected.Load() {
		return ErrNotConnected
	}
	if env == nil {
		return fmt.Errorf("bus: nil envelope")
	}
	if err := env.Validate(); err != nil {
		return err
	}

	b.totalPublished.Add(1)

	if env.ReceiverID != "" {
		b.mu.RLock()
		sub := b.agents[env.ReceiverID]
		b.mu.RUnlock()
		if sub == nil {
			// No subscriber yet: the broker analogue is an unbound routing
			// key, which silently drops. Log at debug and move on.
			b.logger.Debug("no unicast subscriber", zap.String("receiver_id", env.ReceiverID))
			return nil
		}
		if !sub.enqueue(env, b.highWater) {
			return ErrBackpressure
		}
		b.totalDelivered.Add(1)
		return nil
	}

	b.mu.RLock()
	subs := make([]*memSubscriber, 0, len(b.topics[env.Topic]))
	for _, sub := range b.topics[env.Topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var overLimit bool
	for _, sub := range subs {
		if sub.enqueue(env, b.highWater) {
			b.totalDelivered.Add(1)
		} else {
			overLimit = true
		}
	}
	if overLimit {
		return ErrBackpressure
	}
	return nil
}

// SubscribeAgent registers the unicast handler for agentID.
func (b *MemoryBus) SubscribeAgent(agentID string, handler Handler) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if agentID == "" {
		return fmt.Errorf("bus: agent id cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("bus: handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.agents[agentID]; exists {
		return ErrAlreadySubscribed
	}
	sub := b.newSubscriber(agentID, handler)
	b.agents[agentID] = sub
	b.logger.Debug("agent subscribed", zap.String("agent_id", agentID))
	return nil
}

// SubscribeTopic registers one handler on the topic.
func (b *MemoryBus) SubscribeTopic(topic string, handler Handler) (string, error) {
	if b.closed.Load() {
		return "", ErrClosed
	}
	if topic == "" {
		return "", fmt.Errorf("bus: topic cannot be empty")
	}
	if handler == nil {
		return "", fmt.Errorf("bus: handler cannot be nil")
	}

	subID := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]*memSubscriber)
	}
	b.topics[topic][subID] = b.newSubscriber(topic+"/"+subID, handler)
	b.logger.Debug("topic subscribed", zap.String("topic", topic), zap.String("subscription_id", subID))
	return subID, nil
}

// UnsubscribeAgent tears down the unicast subscription. The dispatch
// goroutine finishes the delivery already in its handler, then exits.
func (b *MemoryBus) UnsubscribeAgent(agentID string) error {
	b.mu.Lock()
	sub, ok := b.agents[agentID]
	delete(b.agents, agentID)
	b.mu.Unlock()
	if ok {
		sub.close()
	}
	return nil
}

// UnsubscribeTopic tears down one topic subscription by id.
func (b *MemoryBus) UnsubscribeTopic(topic, subscriptionID string) error {
	b.mu.Lock()
	var sub *memSubscriber
	if subs := b.topics[topic]; subs != nil {
		sub = subs[subscriptionID]
		delete(subs, subscriptionID)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
	b.mu.Unlock()
	if sub != nil {
		sub.close()
	}
	return nil
}

// Close removes all subscriptions and waits for in-flight dispatches with
// bounded grace.
func (b *MemoryBus) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.connected.Store(false)

	b.mu.Lock()
	for id, sub := range b.agents {
		sub.close()
		delete(b.agents, id)
	}
	for topic, subs := range b.topics {
		for id, sub := range subs {
			sub.close()
			delete(subs, id)
		}
		delete(b.topics, topic)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("close grace expired with dispatches in flight")
	case <-time.After(5 * time.Second):
		b.logger.Warn("close grace expired with dispatches in flight")
	}

	b.logger.Info("memory bus closed",
		zap.Int64("total_published", b.totalPublished.Load()),
		zap.Int64("total_delivered", b.totalDelivered.Load()))
	return nil
}

func (b *MemoryBus) newSubscriber(id string, handler Handler) *memSubscriber {
	sub := &memSubscriber{id: id, handler: handler, logger: b.logger}
	sub.cond = sync.NewCond(&sub.mu)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.dispatch()
	}()
	return sub
}

// enqueue appends the envelope to the subscriber's FIFO queue. Returns
// false when the queue is over the high-water mark or the subscriber is
// closed.
func (s *memSubscriber) enqueue(env *acp.Envelope, highWater int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) >= highWater {
		return false
	}
	s.queue = append(s.queue, env)
	s.cond.Signal()
	return true
}

// dispatch drains the queue in order, invoking the handler outside the
// queue lock. A close stops dispatch before the next delivery; the handler
// invocation already in progress runs to completion.
func (s *memSubscriber) dispatch() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		env := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.invoke(env)
	}
}

func (s *memSubscriber) invoke(env *acp.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic recovered",
				zap.String("subscriber", s.id),
				zap.Any("panic", r))
		}
	}()
	s.handler(context.Background(), env)
}

// close wakes the dispatcher so it can exit. New enqueues and deliveries
// are rejected immediately; the handler invocation in progress completes.
func (s *memSubscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}
