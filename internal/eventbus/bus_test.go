package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/agentcore/runtime/pkg/models"
)

func TestBroadcast_DeliversToSessionSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe(context.Background(), "sess-1")
	defer sub.Unsubscribe()

	b.Broadcast("sess-1", models.AgentEvent{Type: models.AgentEventRunStarted, RunID: "r1"})

	select {
	case env := <-sub.Events():
		if env.SessionID != "sess-1" || env.Event.Type != models.AgentEventRunStarted {
			t.Errorf("unexpected envelope: %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcast_DoesNotCrossSessions(t *testing.T) {
	b := New()
	subA := b.Subscribe(context.Background(), "sess-a")
	defer subA.Unsubscribe()

	b.Broadcast("sess-b", models.AgentEvent{Type: models.AgentEventRunStarted})

	select {
	case env := <-subA.Events():
		t.Fatalf("sess-a subscriber should not receive sess-b event, got %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcast_WildcardReceivesAllSessions(t *testing.T) {
	b := New()
	wild := b.SubscribeWildcard(context.Background())
	defer wild.Unsubscribe()

	b.Broadcast("sess-a", models.AgentEvent{Type: models.AgentEventRunStarted})
	b.Broadcast("sess-b", models.AgentEvent{Type: models.AgentEventRunFinished})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case env := <-wild.Events():
			seen[env.SessionID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for wildcard event")
		}
	}
	if !seen["sess-a"] || !seen["sess-b"] {
		t.Errorf("wildcard subscriber missed a session, saw %+v", seen)
	}
}

func TestBroadcast_OrderPreservedPerSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe(context.Background(), "sess-1")
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		b.Broadcast("sess-1", models.AgentEvent{Type: models.AgentEventModelDelta, Sequence: uint64(i)})
	}

	for i := 0; i < 5; i++ {
		env := <-sub.Events()
		if env.Event.Sequence != uint64(i) {
			t.Fatalf("out of order delivery: got seq %d, want %d", env.Event.Sequence, i)
		}
	}
}

func TestBroadcast_NeverBlocksOnFullSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe(context.Background(), "sess-1")
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultBufferSize*2; i++ {
			b.Broadcast("sess-1", models.AgentEvent{Type: models.AgentEventModelDelta})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcaster blocked on a full subscriber channel")
	}

	if sub.Dropped() == 0 {
		t.Error("expected some events to be dropped once the buffer filled")
	}
}

func TestUnsubscribe_RemovesRegistration(t *testing.T) {
	b := New()
	sub := b.Subscribe(context.Background(), "sess-1")
	if got := b.SubscriberCount("sess-1"); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	sub.Unsubscribe()

	if got := b.SubscriberCount("sess-1"); got != 0 {
		t.Fatalf("SubscriberCount after unsubscribe = %d, want 0", got)
	}

	if _, ok := <-sub.Events(); ok {
		t.Error("expected Events channel to be closed after unsubscribe")
	}
}

func TestDeadSubscriber_RemovedOnContextCancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx, "sess-1")

	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.SubscriberCount("sess-1") == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	_ = sub
	t.Fatal("subscriber registration was not removed after context cancellation")
}

func TestSubscribe_MultiplePerSession(t *testing.T) {
	b := New()
	sub1 := b.Subscribe(context.Background(), "sess-1")
	sub2 := b.Subscribe(context.Background(), "sess-1")
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	b.Broadcast("sess-1", models.AgentEvent{Type: models.AgentEventRunStarted})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case <-sub.Events():
		case <-time.After(time.Second):
			t.Fatal("a subscriber did not receive the broadcast event")
		}
	}
}
