package canonjson

import (
	"math"
	"testing"
)

func TestMarshalStripsNullsAndEmpties(t *testing.T) {
	v := map[string]any{
		"a": float64(1),
		"b": nil,
		"c": map[string]any{},
		"d": []any{},
	}
	got, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got != `{"a":1}` {
		t.Fatalf("got %q, want %q", got, `{"a":1}`)
	}
}

func TestMarshalKeyOrderIndependence(t *testing.T) {
	v1 := map[string]any{"z": float64(1), "a": float64(2)}
	v2 := map[string]any{"a": float64(2), "z": float64(1)}

	s1, err := Marshal(v1)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := Marshal(v2)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatalf("key order should not matter: %q != %q", s1, s2)
	}
}

func TestHashDeduplicatesUnderNullStripping(t *testing.T) {
	v1 := map[string]any{"a": float64(1), "b": nil, "c": map[string]any{}}
	v2 := map[string]any{"a": float64(1)}

	_, h1, err := Hash(v1)
	if err != nil {
		t.Fatal(err)
	}
	_, h2, err := Hash(v2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hashes, got %s != %s", h1, h2)
	}
}

func TestMarshalDropsNaNAndInf(t *testing.T) {
	v := map[string]any{"a": math.NaN(), "b": math.Inf(1), "c": float64(2)}
	got, err := Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"c":2}` {
		t.Fatalf("got %q", got)
	}
}

func TestMarshalRejectsNullByteInString(t *testing.T) {
	v := map[string]any{"a": "bad\x00value"}
	if _, err := Marshal(v); err == nil {
		t.Fatal("expected error for embedded null byte")
	}
}

func TestMarshalPreservesSliceOrder(t *testing.T) {
	v := []any{float64(3), float64(1), float64(2)}
	got, err := Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if got != "[3,1,2]" {
		t.Fatalf("got %q", got)
	}
}
