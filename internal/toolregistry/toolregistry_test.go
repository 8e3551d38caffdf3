package toolregistry

import "testing"

type stubAdapter struct {
	id string
}

func (s stubAdapter) ID() string          { return s.id }
func (s stubAdapter) Description() string { return "stub" }
func (s stubAdapter) Execute(ToolInput) ToolResult {
	return ToolResult{Success: true, Output: map[string]any{}}
}

func TestRegistry_RegisterGetList(t *testing.T) {
	r := New()
	r.Register(stubAdapter{id: "a"})
	r.Register(stubAdapter{id: "b"})

	if _, ok := r.Get("missing"); ok {
		t.Error("expected missing adapter to not be found")
	}
	a, ok := r.Get("a")
	if !ok || a.ID() != "a" {
		t.Errorf("expected to find adapter a, got %v ok=%v", a, ok)
	}

	list := r.List()
	if len(list) != 2 {
		t.Errorf("got %d adapters, want 2", len(list))
	}
}

func TestRegistry_RegisterReplacesByID(t *testing.T) {
	r := New()
	r.Register(stubAdapter{id: "a"})
	r.Register(stubAdapter{id: "a"})

	if len(r.List()) != 1 {
		t.Errorf("re-registering the same id should replace, got %d entries", len(r.List()))
	}
}
