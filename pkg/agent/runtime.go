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

// Package agent hosts the research pipeline's workers. A Worker supplies
// identity, topic interests, and message handling; Runtime attaches it to
// the bus and drives its lifecycle. The concrete workers — search,
// extraction, factcheck, synthesis, filesave, logsink — each own one
// stage of the pipeline and report to the orchestrator.
package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/synapse/pkg/acp"
	"github.com/teradata-labs/synapse/pkg/bus"
)

// OrchestratorID is the well-known unicast address of the orchestrator.
const OrchestratorID = "orchestrator"

// tickInterval drives the optional periodic work of a Ticker worker.
const tickInterval = time.Second

// Worker is the capability surface a Runtime hosts.
type Worker interface {
	// ID is the stable unicast address of this worker.
	ID() string
	// Topics lists broadcast topics the worker consumes. May be empty.
	Topics() []string
	// Handle processes one delivered envelope. Called from bus dispatch
	// goroutines; implementations guard their own state.
	Handle(ctx context.Context, env *acp.Envelope)
}

// Ticker is implemented by workers that need periodic housekeeping.
type Ticker interface {
	Tick(ctx context.Context)
}

// Runtime binds one Worker to the bus: subscriptions on Start, a tick
// loop for Ticker workers, and a drain-then-detach Stop.
type Runtime struct {
	worker Worker
	bus    bus.Bus
	logger *zap.Logger

	mu        sync.Mutex
	started   bool
	topicSubs map[string]string

	stopping atomic.Bool
	inflight sync.WaitGroup
	cancel   context.CancelFunc
	tickDone chan struct{}
}

// NewRuntime creates a runtime for the worker. A nil logger is replaced
// with a no-op logger.
func NewRuntime(worker Worker, b bus.Bus, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		worker:    worker,
		bus:       b,
		logger:    logger.With(zap.String("agent_id", worker.ID())),
		topicSubs: make(map[string]string),
	}
}

// Start subscribes the worker's unicast queue and topics, and launches
// the tick loop when the worker implements Ticker.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("agent: runtime for %q already started", r.worker.ID())
	}

	if err := r.bus.SubscribeAgent(r.worker.ID(), r.dispatch); err != nil {
		return fmt.Errorf("agent: subscribe %q: %w", r.worker.ID(), err)
	}
	for _, topic := range r.worker.Topics() {
		subID, err := r.bus.SubscribeTopic(topic, r.dispatch)
		if err != nil {
			r.teardownLocked()
			return fmt.Errorf("agent: subscribe %q to topic %q: %w", r.worker.ID(), topic, err)
		}
		r.topicSubs[topic] = subID
	}

	if ticker, ok := r.worker.(Ticker); ok {
		tickCtx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		r.tickDone = make(chan struct{})
		go r.tickLoop(tickCtx, ticker)
	}

	r.started = true
	r.logger.Info("agent started", zap.Strings("topics", r.worker.Topics()))
	return nil
}

// Stop detaches the worker: no Handle call begins after Stop does. The
// tick loop is cancelled, subscriptions removed, and in-flight handles
// drained with bounded grace (5 s, or earlier ctx expiry).
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.stopping.Store(true)

	if r.cancel != nil {
		r.cancel()
		<-r.tickDone
	}
	r.teardownLocked()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("stop grace expired with handles in flight")
	case <-time.After(5 * time.Second):
		r.logger.Warn("stop grace expired with handles in flight")
	}

	r.logger.Info("agent stopped")
	return nil
}

// Send publishes an envelope on the worker's behalf.
func (r *Runtime) Send(ctx context.Context, env *acp.Envelope) error {
	return r.bus.Publish(ctx, env)
}

// NewEnvelope builds a unicast envelope stamped with the worker id.
func (r *Runtime) NewEnvelope(receiverID string, payload acp.Payload) (*acp.Envelope, error) {
	return acp.New(r.worker.ID(), receiverID, "", payload)
}

func (r *Runtime) dispatch(ctx context.Context, env *acp.Envelope) {
	if r.stopping.Load() {
		return
	}
	r.inflight.Add(1)
	defer r.inflight.Done()
	if r.stopping.Load() {
		return
	}
	r.worker.Handle(ctx, env)
}

func (r *Runtime) tickLoop(ctx context.Context, ticker Ticker) {
	defer close(r.tickDone)
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ticker.Tick(ctx)
		}
	}
}

func (r *Runtime) teardownLocked() {
	if err := r.bus.UnsubscribeAgent(r.worker.ID()); err != nil {
		r.logger.Warn("unsubscribe agent failed", zap.Error(err))
	}
	for topic, subID := range r.topicSubs {
		if err := r.bus.UnsubscribeTopic(topic, subID); err != nil {
			r.logger.Warn("unsubscribe topic failed", zap.String("topic", topic), zap.Error(err))
		}
		delete(r.topicSubs, topic)
	}
}
