package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("notice.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindNoticeError, Timestamp: time.Now(), Payload: Notice{Text: "test"}})

	select {
	case evt := <-ch:
		if evt.Kind != KindNoticeError {
			t.Errorf("got kind %q, want %s", evt.Kind, KindNoticeError)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("roster.", 10)
	defer unsub()

	b.Emit(KindNoticeError, nil)
	b.Emit(KindRosterChanged, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindRosterChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindRosterChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Emit should stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("notice.", 10)
	unsub()
	unsub()

	b.Emit(KindNoticeError, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("conversation.", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Emit(KindConversationChanged, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := b.Dropped(); got != 4 {
		t.Errorf("Dropped() = %d, want 4", got)
	}
}

func TestEmitOnNilBus(t *testing.T) {
	var b *Bus
	b.Emit(KindRosterChanged, nil)
}
