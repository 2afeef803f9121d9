package pubsub

import (
	"sync"
	"testing"
)

func TestHubDeliversInOrder(t *testing.T) {
	hub := NewHub[int]()
	sub := hub.Subscribe(8, false)
	for i := 0; i < 5; i++ {
		hub.Publish(i)
	}
	for want := 0; want < 5; want++ {
		if got := <-sub.C(); got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestHubDropsOldestForSlowSubscriber(t *testing.T) {
	hub := NewHub[int]()
	slow := hub.Subscribe(2, false)
	fast := hub.Subscribe(16, false)
	for i := 0; i < 10; i++ {
		hub.Publish(i)
	}
	if got := <-slow.C(); got != 8 {
		t.Fatalf("expected slow subscriber to keep 8, got %d", got)
	}
	if got := <-slow.C(); got != 9 {
		t.Fatalf("expected slow subscriber to keep 9, got %d", got)
	}
	if len(fast.C()) != 10 {
		t.Fatalf("fast subscriber should hold all 10 values, has %d", len(fast.C()))
	}
	if hub.Dropped() != 8 {
		t.Fatalf("expected 8 dropped values, got %d", hub.Dropped())
	}
}

func TestHubReplayLast(t *testing.T) {
	hub := NewHub[string]()
	if _, ok := hub.Last(); ok {
		t.Fatal("expected no last value on a fresh hub")
	}
	hub.Publish("a")
	hub.Publish("b")
	sub := hub.Subscribe(1, true)
	if got := <-sub.C(); got != "b" {
		t.Fatalf("expected replay of b, got %q", got)
	}
	if last, _ := hub.Last(); last != "b" {
		t.Fatalf("expected last b, got %q", last)
	}
}

func TestHubCancelAndClose(t *testing.T) {
	hub := NewHub[int]()
	a := hub.Subscribe(1, false)
	b := hub.Subscribe(1, false)
	a.Cancel()
	a.Cancel()
	if _, ok := <-a.C(); ok {
		t.Fatal("expected canceled channel to be closed")
	}
	if hub.Subscribers() != 1 {
		t.Fatalf("expected one subscriber, got %d", hub.Subscribers())
	}
	hub.Close()
	hub.Publish(1)
	if _, ok := <-b.C(); ok {
		t.Fatal("expected channel closed by hub close")
	}
	b.Cancel()
	late := hub.Subscribe(1, true)
	if _, ok := <-late.C(); ok {
		t.Fatal("expected subscription on closed hub to be closed")
	}
}

func TestHubConcurrentPublishAndCancel(t *testing.T) {
	hub := NewHub[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe(1, true)
			for j := 0; j < 50; j++ {
				select {
				case <-sub.C():
				default:
				}
			}
			sub.Cancel()
		}()
	}
	for i := 0; i < 200; i++ {
		hub.Publish(i)
	}
	wg.Wait()
	hub.Close()
}
