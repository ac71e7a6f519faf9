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

// Package bus routes ACP envelopes between agents. Envelopes addressed to a
// receiver_id are delivered to exactly one unicast subscriber; envelopes
// addressed to a topic fan out to every topic subscriber. Two
// implementations satisfy the same contract: AMQPBus speaks AMQP 0.9.1 to a
// broker, MemoryBus routes in-process. Delivery is at-least-once and FIFO
// per (sender, destination) pair; handlers must be idempotent.
package bus

import (
	"context"
	"errors"

	"github.com/teradata-labs/synapse/pkg/acp"
)

// Handler consumes a delivered envelope. Handlers run on bus-owned
// goroutines; a panic is recovered and logged without tearing down the bus.
type Handler func(ctx context.Context, env *acp.Envelope)

var (
	// ErrNotConnected is returned by Publish before Connect succeeds or
	// after Close.
	ErrNotConnected = errors.New("bus: not connected")

	// ErrAlreadySubscribed is returned when an agent id already has a
	// unicast subscription.
	ErrAlreadySubscribed = errors.New("bus: agent already subscribed")

	// ErrBackpressure is returned when a subscriber queue or the
	// reconnection buffer exceeds its high-water mark.
	ErrBackpressure = errors.New("bus: backpressure limit exceeded")

	// ErrClosed is returned by subscription operations after Close;
	// publishes after Close fail ErrNotConnected.
	ErrClosed = errors.New("bus: closed")
)

// Bus is the message fabric contract shared by the broker-backed and
// in-memory implementations.
type Bus interface {
	// Connect establishes the underlying transport and declares the two
	// logical exchanges. It is idempotent: re-entry on a connected bus
	// returns without reconnecting.
	Connect(ctx context.Context) error

	// Publish routes an envelope by its addressing rule. The envelope is
	// validated and encoded before any transport work.
	Publish(ctx context.Context, env *acp.Envelope) error

	// SubscribeAgent registers the single unicast handler for agentID.
	SubscribeAgent(agentID string, handler Handler) error

	// SubscribeTopic registers one handler on a topic and returns a
	// subscription id for UnsubscribeTopic. Multiple handlers per topic
	// each receive a copy.
	SubscribeTopic(topic string, handler Handler) (string, error)

	// UnsubscribeAgent removes the unicast handler. Deliveries already
	// dispatched complete; no new deliveries occur.
	UnsubscribeAgent(agentID string) error

	// UnsubscribeTopic removes one topic subscription by id.
	UnsubscribeTopic(topic, subscriptionID string) error

	// Close drains in-flight dispatches with bounded grace and closes the
	// transport. Subsequent publishes fail ErrNotConnected.
	Close(ctx context.Context) error
}
