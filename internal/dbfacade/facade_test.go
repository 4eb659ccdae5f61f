package dbfacade

import "testing"

func TestValidateBatchSizeDefaults(t *testing.T) {
	f := &Facade{}
	f.batch.setDefaults()
	if err := f.ValidateBatchSize(1000); err != nil {
		t.Fatalf("1000 should be within default max: %v", err)
	}
	if err := f.ValidateBatchSize(1001); err == nil {
		t.Fatal("expected error exceeding default max_size")
	}
}

func TestValidateBatchSizeHardCap(t *testing.T) {
	f := &Facade{batch: BatchLimits{MaxSize: 100_000}}
	if err := f.ValidateBatchSize(100_000); err != nil {
		t.Fatalf("100_000 is exactly the hard cap: %v", err)
	}
	if err := f.ValidateBatchSize(100_001); err == nil {
		t.Fatal("expected error exceeding hard cap")
	}
}

func TestIdentifierRegexAcceptsAndRejects(t *testing.T) {
	valid := []string{"relay_insert", "_private", "view_refresh", "a1"}
	invalid := []string{"Relay_Insert", "1bad", "bad-name", "bad;drop table", "bad name"}
	for _, v := range valid {
		if !identifierRe.MatchString(v) {
			t.Errorf("expected %q to be valid", v)
		}
	}
	for _, v := range invalid {
		if identifierRe.MatchString(v) {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}

func TestRequireEqualLengthPanicsOnRagged(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on ragged columns")
		}
	}()
	requireEqualLength(3, 3, 2)
}

func TestRequireEqualLengthOKWhenEqual(t *testing.T) {
	requireEqualLength(3, 3, 3) // must not panic
}
