package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeDeliversTypedMessage(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := Subscribe[string](bus, "topic.test", PolicyBlock)
	Publish(context.Background(), bus, "topic.test", PolicyBlock, "hello")

	select {
	case msg := <-ch:
		require.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("expected message to be delivered")
	}
}

func TestSubscribeIgnoresWrongType(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	strs := Subscribe[string](bus, "topic.mixed", PolicyBlock)
	ints := Subscribe[int](bus, "topic.mixed", PolicyBlock)

	Publish(context.Background(), bus, "topic.mixed", PolicyBlock, "text-message")
	Publish(context.Background(), bus, "topic.mixed", PolicyBlock, 42)

	select {
	case v := <-strs:
		require.Equal(t, "text-message", v)
	case <-time.After(time.Second):
		t.Fatal("expected string subscriber to receive its message")
	}

	select {
	case v := <-ints:
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("expected int subscriber to receive its message")
	}
}

func TestMultipleSubscribersEachReceiveMessage(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := Subscribe[int](bus, "topic.fanout", PolicyDropOldest)
	b := Subscribe[int](bus, "topic.fanout", PolicyDropOldest)

	Publish(context.Background(), bus, "topic.fanout", PolicyDropOldest, 7)

	select {
	case v := <-a:
		require.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("subscriber a did not receive message")
	}
	select {
	case v := <-b:
		require.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("subscriber b did not receive message")
	}
}

func TestCloseClosesSubscriberChannels(t *testing.T) {
	bus := NewBus()
	ch := Subscribe[int](bus, "topic.closing", PolicyBlock)

	bus.Close()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "channel should be closed with no pending messages")
	case <-time.After(time.Second):
		t.Fatal("expected channel closure to be observed")
	}
}

func TestPublishAfterCloseIsANoop(t *testing.T) {
	bus := NewBus()
	ch := Subscribe[int](bus, "topic.afterclose", PolicyBlock)
	bus.Close()

	// Should not panic or block even though every subscriber channel is
	// already closed.
	Publish(context.Background(), bus, "topic.afterclose", PolicyBlock, 1)

	_, ok := <-ch
	require.False(t, ok)
}

func TestPublishBlockRespectsContextCancellation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	// Fill the subscriber without draining it, then cancel the context
	// mid-publish so PolicyBlock doesn't hang forever. The subscriber holds
	// its raw buffer, the typed output buffer, and one message in flight in
	// the forwarding goroutine, so 2*defaultBufferSize+1 messages fill it.
	_ = Subscribe[int](bus, "topic.full", PolicyBlock)
	for i := 0; i < 2*defaultBufferSize+1; i++ {
		Publish(context.Background(), bus, "topic.full", PolicyBlock, i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		Publish(ctx, bus, "topic.full", PolicyBlock, 999)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish should have returned once the context was canceled")
	}
}
