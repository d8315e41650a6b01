package canonicaljson

import "testing"

func TestMarshal_KeyOrderInvariant(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "c": map[string]any{"y": 1, "x": 2}}
	b := map[string]any{"c": map[string]any{"x": 2, "y": 1}, "a": 1, "b": 2}

	ha, err := Hash(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := Hash(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}

	if ha != hb {
		t.Fatalf("hashes differ under key reordering: %s != %s", ha, hb)
	}
}

func TestMarshal_OmitsNilMapValues(t *testing.T) {
	out, err := Marshal(map[string]any{"a": 1, "b": nil})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"a":1}` {
		t.Fatalf("expected nil values omitted, got %s", out)
	}
}

func TestHash_Deterministic(t *testing.T) {
	v := map[string]any{"x": 1, "y": []any{1, 2, 3}}
	h1, _ := Hash(v)
	h2, _ := Hash(v)
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %s != %s", h1, h2)
	}
}
