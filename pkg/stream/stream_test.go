package stream

import (
	"testing"
	"time"

	"github.com/confwell/confwell/pkg/telemetry"
)

func testBus(t *testing.T, bufferSize int) *Bus {
	t.Helper()

	log, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return NewBus(bufferSize, log, nil)
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events:
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := testBus(t, 8)
	defer bus.Close()

	sub := bus.Subscribe("proj-1")
	defer sub.Cancel()

	for _, name := range []string{"a", "b", "c"} {
		bus.Publish(Event{Type: EventConfigUpdated, ProjectID: "proj-1", ConfigName: name, Version: 2})
	}

	for _, want := range []string{"a", "b", "c"} {
		ev := receive(t, sub)
		if ev.ConfigName != want {
			t.Errorf("expected %s, got %s", want, ev.ConfigName)
		}
		if ev.ID == "" || ev.Timestamp.IsZero() {
			t.Error("publish did not fill id and timestamp")
		}
	}
}

func TestBusScopesByProject(t *testing.T) {
	bus := testBus(t, 8)
	defer bus.Close()

	mine := bus.Subscribe("proj-1")
	other := bus.Subscribe("proj-2")
	defer mine.Cancel()
	defer other.Cancel()

	bus.Publish(Event{Type: EventConfigCreated, ProjectID: "proj-1", ConfigName: "checkout"})

	ev := receive(t, mine)
	if ev.ProjectID != "proj-1" {
		t.Errorf("unexpected project: %s", ev.ProjectID)
	}
	select {
	case ev := <-other.Events:
		t.Errorf("other project received event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusDropsOldestWhenFull(t *testing.T) {
	bus := testBus(t, 2)
	defer bus.Close()

	sub := bus.Subscribe("proj-1")
	defer sub.Cancel()

	for _, name := range []string{"a", "b", "c", "d"} {
		bus.Publish(Event{Type: EventConfigUpdated, ProjectID: "proj-1", ConfigName: name})
	}

	// Buffer of 2: a and b were discarded to make room
	if ev := receive(t, sub); ev.ConfigName != "c" {
		t.Errorf("expected c, got %s", ev.ConfigName)
	}
	if ev := receive(t, sub); ev.ConfigName != "d" {
		t.Errorf("expected d, got %s", ev.ConfigName)
	}
}

func TestSubscriptionCancel(t *testing.T) {
	bus := testBus(t, 8)
	defer bus.Close()

	sub := bus.Subscribe("proj-1")
	sub.Cancel()
	sub.Cancel() // idempotent

	if _, ok := <-sub.Events; ok {
		t.Error("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic or deliver
	bus.Publish(Event{Type: EventConfigUpdated, ProjectID: "proj-1", ConfigName: "a"})
}

func TestBusClose(t *testing.T) {
	bus := testBus(t, 8)

	sub := bus.Subscribe("proj-1")
	bus.Close()
	bus.Close() // idempotent

	if _, ok := <-sub.Events; ok {
		t.Error("expected closed channel after bus close")
	}

	// Late subscribers get an already-closed channel
	late := bus.Subscribe("proj-1")
	if _, ok := <-late.Events; ok {
		t.Error("expected closed channel for late subscriber")
	}
	late.Cancel()

	// Publish after close is a no-op
	bus.Publish(Event{Type: EventConfigUpdated, ProjectID: "proj-1", ConfigName: "a"})

	// Cancel after close must not double-close
	sub.Cancel()
}
