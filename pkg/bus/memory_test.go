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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/synapse/pkg/acp"
)

func newTestBus(t *testing.T) *MemoryBus {
	t.Helper()
	b := NewMemoryBus(zaptest.NewLogger(t))
	require.NoError(t, b.Connect(context.Background()))
	return b
}

func directEnvelope(t *testing.T, sender, receiver, status string) *acp.Envelope {
	t.Helper()
	env, err := acp.New(sender, receiver, "", acp.NewStatusUpdate(status, -1, ""))
	require.NoError(t, err)
	return env
}

func logEnvelope(t *testing.T, sender, topic, message string) *acp.Envelope {
	t.Helper()
	env, err := acp.New(sender, "", topic, &acp.LogBroadcast{Level: acp.LevelInfo, Message: message})
	require.NoError(t, err)
	return env
}

func TestMemoryBusUnicast(t *testing.T) {
	b := newTestBus(t)
	defer b.Close(context.Background())

	received := make(chan *acp.Envelope, 1)
	require.NoError(t, b.SubscribeAgent("agent1", func(ctx context.Context, env *acp.Envelope) {
		received <- env
	}))

	require.NoError(t, b.Publish(context.Background(), directEnvelope(t, "agent0", "agent1", "hello")))

	select {
	case env := <-received:
		assert.Equal(t, "agent0", env.SenderID)
		assert.Equal(t, "hello", env.Payload.(*acp.StatusUpdate).Status)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestMemoryBusPublishRequiresConnect(t *testing.T) {
	b := NewMemoryBus(zaptest.NewLogger(t))
	err := b.Publish(context.Background(), directEnvelope(t, "a", "b", "x"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestMemoryBusRejectsInvalidEnvelope(t *testing.T) {
	b := newTestBus(t)
	defer b.Close(context.Background())

	env := &acp.Envelope{SenderID: "a", MsgType: acp.MsgStatusUpdate, Payload: acp.NewStatusUpdate("x", -1, "")}
	err := b.Publish(context.Background(), env)
	assert.ErrorIs(t, err, acp.ErrInvalidAddressing)
}

func TestMemoryBusDuplicateAgentSubscription(t *testing.T) {
	b := newTestBus(t)
	defer b.Close(context.Background())

	handler := func(ctx context.Context, env *acp.Envelope) {}
	require.NoError(t, b.SubscribeAgent("agent1", handler))
	assert.ErrorIs(t, b.SubscribeAgent("agent1", handler), ErrAlreadySubscribed)
}

func TestMemoryBusOrderingPerSender(t *testing.T) {
	b := newTestBus(t)
	defer b.Close(context.Background())

	const n = 100
	received := make(chan string, n)
	require.NoError(t, b.SubscribeAgent("sink", func(ctx context.Context, env *acp.Envelope) {
		received <- env.Payload.(*acp.StatusUpdate).Status
	}))

	for i := 0; i < n; i++ {
		require.NoError(t, b.Publish(context.Background(), directEnvelope(t, "src", "sink", fmt.Sprintf("msg-%03d", i))))
	}

	for i := 0; i < n; i++ {
		select {
		case got := <-received:
			assert.Equal(t, fmt.Sprintf("msg-%03d", i), got)
		case <-time.After(time.Second):
			t.Fatalf("timeout at message %d", i)
		}
	}
}

func TestMemoryBusTopicFanOut(t *testing.T) {
	b := newTestBus(t)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		_, err := b.SubscribeTopic("logs", func(ctx context.Context, env *acp.Envelope) {
			wg.Done()
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(context.Background(), logEnvelope(t, "agent0", "logs", "broadcast")))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all topic subscribers received the broadcast")
	}
}

// A slow topic handler must not delay delivery to other subscribers on the
// same topic.
func TestMemoryBusSlowSubscriberIsolation(t *testing.T) {
	b := newTestBus(t)
	defer b.Close(context.Background())

	_, err := b.SubscribeTopic("logs", func(ctx context.Context, env *acp.Envelope) {
		time.Sleep(2 * time.Second)
	})
	require.NoError(t, err)

	fast := make(chan time.Time, 1)
	_, err = b.SubscribeTopic("logs", func(ctx context.Context, env *acp.Envelope) {
		fast <- time.Now()
	})
	require.NoError(t, err)

	published := time.Now()
	require.NoError(t, b.Publish(context.Background(), logEnvelope(t, "agent0", "logs", "spike")))

	select {
	case at := <-fast:
		assert.Less(t, at.Sub(published), 100*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("fast subscriber stalled behind slow subscriber")
	}
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	defer b.Close(context.Background())

	received := make(chan *acp.Envelope, 16)
	require.NoError(t, b.SubscribeAgent("agent1", func(ctx context.Context, env *acp.Envelope) {
		received <- env
	}))

	require.NoError(t, b.Publish(context.Background(), directEnvelope(t, "a", "agent1", "one")))
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("first message not delivered")
	}

	require.NoError(t, b.UnsubscribeAgent("agent1"))
	require.NoError(t, b.Publish(context.Background(), directEnvelope(t, "a", "agent1", "two")))

	select {
	case env := <-received:
		t.Fatalf("unexpected delivery after unsubscribe: %v", env.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusHandlerPanicIsContained(t *testing.T) {
	b := newTestBus(t)
	defer b.Close(context.Background())

	received := make(chan struct{}, 1)
	require.NoError(t, b.SubscribeAgent("flaky", func(ctx context.Context, env *acp.Envelope) {
		if env.Payload.(*acp.StatusUpdate).Status == "boom" {
			panic("handler exploded")
		}
		received <- struct{}{}
	}))

	require.NoError(t, b.Publish(context.Background(), directEnvelope(t, "a", "flaky", "boom")))
	require.NoError(t, b.Publish(context.Background(), directEnvelope(t, "a", "flaky", "ok")))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("bus did not survive handler panic")
	}
}

func TestMemoryBusBackpressure(t *testing.T) {
	b := NewMemoryBus(zaptest.NewLogger(t))
	b.SetHighWater(2)
	require.NoError(t, b.Connect(context.Background()))
	defer b.Close(context.Background())

	block := make(chan struct{})
	require.NoError(t, b.SubscribeAgent("stuck", func(ctx context.Context, env *acp.Envelope) {
		<-block
	}))

	// First delivery occupies the handler; two more fill the queue.
	var err error
	for i := 0; i < 8; i++ {
		err = b.Publish(context.Background(), directEnvelope(t, "a", "stuck", fmt.Sprintf("m%d", i)))
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrBackpressure)
	close(block)
}

func TestMemoryBusCloseRejectsPublish(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.Close(context.Background()))

	err := b.Publish(context.Background(), directEnvelope(t, "a", "b", "late"))
	assert.ErrorIs(t, err, ErrNotConnected)
}
