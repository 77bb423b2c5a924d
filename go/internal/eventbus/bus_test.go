package eventbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPublishOrderAndUnsubscribe(t *testing.T) {
	bus := New()
	var got []string

	a := bus.Subscribe(Buzz, func(Event) { got = append(got, "a") })
	bus.Subscribe(Buzz, func(Event) { got = append(got, "b") })
	bus.Subscribe(Challenge, func(Event) { got = append(got, "other") })

	bus.Publish(Event{Name: Buzz})
	a.Unsubscribe()
	a.Unsubscribe()
	bus.Publish(Event{Name: Buzz})

	if diff := cmp.Diff([]string{"a", "b", "b"}, got); diff != "" {
		t.Fatalf("delivery mismatch (-want +got):\n%s", diff)
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := New()
	delivered := false

	bus.Subscribe(Timeout, func(Event) { panic("boom") })
	bus.Subscribe(Timeout, func(Event) { delivered = true })

	bus.Publish(Event{Name: Timeout})

	if !delivered {
		t.Fatal("second handler did not run after first panicked")
	}
}

func TestHasSubscribers(t *testing.T) {
	bus := New()
	if bus.HasSubscribers(AnswerSubmit) {
		t.Fatal("empty bus reports subscribers")
	}
	sub := bus.Subscribe(AnswerSubmit, func(Event) {})
	if !bus.HasSubscribers(AnswerSubmit) {
		t.Fatal("subscriber not registered")
	}
	sub.Unsubscribe()
	if bus.HasSubscribers(AnswerSubmit) {
		t.Fatal("subscriber not removed")
	}
}
