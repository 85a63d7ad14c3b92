package events

import (
	"testing"

	"p2plend/core/types"
)

type testEvent struct{ payload *types.Event }

func (e testEvent) EventType() string   { return e.payload.Type }
func (e testEvent) Event() *types.Event { return e.payload }

func TestCollectorDrainResets(t *testing.T) {
	c := &Collector{}
	src := &types.Event{Type: "a", Attributes: map[string]string{"k": "v"}}
	c.Emit(testEvent{payload: src})
	c.Emit(testEvent{payload: &types.Event{Type: "b"}})
	src.Attributes["k"] = "mutated"

	drained := c.Drain()
	if len(drained) != 2 || drained[0].Type != "a" || drained[1].Type != "b" {
		t.Fatalf("unexpected drained events: %+v", drained)
	}
	if drained[0].Attributes["k"] != "v" {
		t.Fatalf("collector must copy attributes, got %q", drained[0].Attributes["k"])
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty collector after drain")
	}
}
