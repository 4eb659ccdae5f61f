package statestore

import "testing"

func TestCandidateStateRoundTrip(t *testing.T) {
	c := CandidateState{FailedAttempts: 3, Network: "clearnet", InsertedAt: 1700000000}
	got := candidateFromMap(c.toMap())
	if got != c {
		t.Fatalf("round trip = %+v, want %+v", got, c)
	}
}

func TestFinderCursorStateRoundTrip(t *testing.T) {
	c := FinderCursorState{SeenAt: 42, EventID: "abc123"}
	got := finderCursorFromMap(c.toMap())
	if got != c {
		t.Fatalf("round trip = %+v, want %+v", got, c)
	}
}

func TestSynchronizerCursorStateRoundTrip(t *testing.T) {
	c := SynchronizerCursorState{LastSyncedAt: 99}
	got := syncCursorFromMap(c.toMap())
	if got != c {
		t.Fatalf("round trip = %+v, want %+v", got, c)
	}
}

func TestAsFloatHandlesMixedNumericTypes(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{float64(1.5), 1.5},
		{int64(7), 7},
		{int(3), 3},
		{"not a number", 0},
		{nil, 0},
	}
	for _, c := range cases {
		if got := asFloat(c.in); got != c.want {
			t.Errorf("asFloat(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestAsStringIgnoresNonStringValues(t *testing.T) {
	if got := asString(42); got != "" {
		t.Errorf("asString(42) = %q, want empty", got)
	}
	if got := asString("hello"); got != "hello" {
		t.Errorf("asString(\"hello\") = %q, want hello", got)
	}
}
