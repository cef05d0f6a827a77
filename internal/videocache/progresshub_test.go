package videocache

import (
	"testing"
	"time"
)

func TestProgressHub_BroadcastDeliversToSubscribers(t *testing.T) {
	hub := newProgressHub()
	sub := hub.subscribe()
	defer hub.unsubscribe(sub)

	hub.broadcast(progressEvent{URL: "http://x/a.ts", Completed: 1, Total: 4})

	select {
	case ev := <-sub:
		if ev.URL != "http://x/a.ts" || ev.Completed != 1 || ev.Total != 4 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestProgressHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := newProgressHub()
	sub := hub.subscribe()
	hub.unsubscribe(sub)

	_, ok := <-sub
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestProgressHub_SlowSubscriberDoesNotBlockBroadcast(t *testing.T) {
	hub := newProgressHub()
	sub := hub.subscribe()
	defer hub.unsubscribe(sub)

	for i := 0; i < 100; i++ {
		hub.broadcast(progressEvent{URL: "http://x/a.ts", Completed: i, Total: 100})
	}
}
