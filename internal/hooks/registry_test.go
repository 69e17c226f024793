package hooks

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(nil)

	called := false
	id := r.On(EventSessionStart, func(ctx context.Context, e *Event) error {
		called = true
		return nil
	})

	if id == "" {
		t.Error("expected non-empty registration ID")
	}
	if got := r.Describe()[string(EventSessionStart)]; len(got) != 1 || got[0] != id {
		t.Errorf("Describe() = %v, want the unnamed handler listed by ID", got)
	}

	if err := r.Trigger(context.Background(), NewEvent(EventSessionStart, "")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestRegistry_Priority(t *testing.T) {
	r := NewRegistry(nil)

	var order []int
	r.On(EventUserBash, func(ctx context.Context, e *Event) error {
		order = append(order, 2)
		return nil
	}, WithPriority(PriorityNormal))
	r.On(EventUserBash, func(ctx context.Context, e *Event) error {
		order = append(order, 1)
		return nil
	}, WithPriority(PriorityHigh))
	r.On(EventUserBash, func(ctx context.Context, e *Event) error {
		order = append(order, 3)
		return nil
	}, WithPriority(PriorityLow))

	if err := r.Trigger(context.Background(), NewEvent(EventUserBash, "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(order, []int{1, 2, 3}) {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestRegistry_ActionSpecificHandlers(t *testing.T) {
	r := NewRegistry(nil)

	var calls []string
	r.Register(string(EventToolCall), func(ctx context.Context, e *Event) error {
		calls = append(calls, "any")
		return nil
	}, WithPriority(PriorityLow))
	r.Register(string(EventToolCall)+":bash", func(ctx context.Context, e *Event) error {
		calls = append(calls, "bash")
		return nil
	}, WithPriority(PriorityHigh))

	if err := r.Trigger(context.Background(), NewEvent(EventToolCall, "bash")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(calls, []string{"bash", "any"}) {
		t.Errorf("calls = %v", calls)
	}

	calls = nil
	if err := r.Trigger(context.Background(), NewEvent(EventToolCall, "read")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(calls, []string{"any"}) {
		t.Errorf("calls = %v", calls)
	}
}

func TestRegistry_ErrorsAndPanics(t *testing.T) {
	r := NewRegistry(nil)

	boom := errors.New("boom")
	reached := false
	r.On(EventPolicyChanged, func(ctx context.Context, e *Event) error {
		panic("handler exploded")
	}, WithPriority(PriorityHighest), WithName("panicky"))
	r.On(EventPolicyChanged, func(ctx context.Context, e *Event) error {
		return boom
	}, WithPriority(PriorityNormal))
	r.On(EventPolicyChanged, func(ctx context.Context, e *Event) error {
		reached = true
		return nil
	}, WithPriority(PriorityLowest), WithSource("test"))

	err := r.Trigger(context.Background(), NewEvent(EventPolicyChanged, ""))
	if err == nil {
		t.Fatal("expected first handler error")
	}
	if errors.Is(err, boom) {
		t.Error("expected the panic to be reported first")
	}
	if !reached {
		t.Error("later handlers must still run")
	}
}

func TestRegistry_TriggerNil(t *testing.T) {
	if err := NewRegistry(nil).Trigger(context.Background(), nil); err == nil {
		t.Error("expected error for nil event")
	}
}

func TestRegistry_Describe(t *testing.T) {
	r := NewRegistry(nil)
	r.On(EventSessionStart, func(ctx context.Context, e *Event) error { return nil }, WithName("guard.session-start"))
	r.On(EventToolCall, func(ctx context.Context, e *Event) error { return nil }, WithName("audit.tool-call"), WithPriority(PriorityLowest))
	r.On(EventToolCall, func(ctx context.Context, e *Event) error { return nil }, WithName("guard.tool-call"), WithPriority(PriorityHigh))

	want := map[string][]string{
		"session.start": {"guard.session-start"},
		"tool.call":     {"guard.tool-call", "audit.tool-call"},
	}
	if got := r.Describe(); !reflect.DeepEqual(got, want) {
		t.Errorf("Describe() = %v, want %v", got, want)
	}
}

func TestEvent_PolicyChange(t *testing.T) {
	r := NewRegistry(nil)
	var got *PolicyChange
	r.Register(string(EventPolicyChanged)+":block-session", func(ctx context.Context, e *Event) error {
		got = e.PolicyChange
		return nil
	})

	event := NewEvent(EventPolicyChanged, "block-session").
		WithSession("s1").
		WithPolicyChange(&PolicyChange{Prefix: "terraform destroy", Layer: "session"})
	if err := r.Trigger(context.Background(), event); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if got == nil || got.Prefix != "terraform destroy" || got.Layer != "session" {
		t.Errorf("PolicyChange = %+v", got)
	}
}
