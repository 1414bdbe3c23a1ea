package notify

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestHubDeliversInRegistrationOrder(t *testing.T) {
	h := NewHub[int]("test", testLogger())
	var got []string
	h.Subscribe(func(v int) { got = append(got, "first") })
	h.Subscribe(func(v int) { got = append(got, "second") })

	h.Emit(1)
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("delivery order = %v", got)
	}
}

func TestHubCancel(t *testing.T) {
	h := NewHub[int]("test", testLogger())
	calls := 0
	cancel := h.Subscribe(func(int) { calls++ })

	h.Emit(1)
	cancel()
	cancel()
	h.Emit(2)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", h.Len())
	}
}

func TestHubSubscriberMayUnsubscribeDuringEmit(t *testing.T) {
	h := NewHub[string]("test", testLogger())
	var cancel func()
	calls := 0
	cancel = h.Subscribe(func(string) {
		calls++
		cancel()
	})
	other := 0
	h.Subscribe(func(string) { other++ })

	h.Emit("a")
	h.Emit("b")

	if calls != 1 {
		t.Fatalf("self-cancelling subscriber called %d times, want 1", calls)
	}
	if other != 2 {
		t.Fatalf("other subscriber called %d times, want 2", other)
	}
}

func TestHubPanickingSubscriberDoesNotStopDelivery(t *testing.T) {
	h := NewHub[int]("test", testLogger())
	h.Subscribe(func(int) { panic("bad observer") })
	got := 0
	h.Subscribe(func(v int) { got = v })

	h.Emit(42)
	if got != 42 {
		t.Fatalf("second subscriber got %d, want 42", got)
	}
}
