package dbfacade

import (
	"database/sql/driver"
	"fmt"

	"github.com/bigbrotr/bigbrotr/internal/canonjson"
)

// RawJSON carries a pre-serialized JSON string straight through to the
// JSONB parameter unchanged. Several callers (metadata content-addressing
// in particular) render canonical JSON themselves and must not have it
// re-encoded by a generic codec — spec.md §9 "per-connection JSON codec
// with pass-through for pre-serialized JSON" is required exactly for
// this reason.
type RawJSON string

// Value implements driver.Valuer by passing the string through verbatim.
func (r RawJSON) Value() (driver.Value, error) {
	return string(r), nil
}

// AnyJSON encodes a native Go value (map/slice/scalar) using the
// canonical JSON rules of spec.md §3.4. Unlike RawJSON, the value here
// has not already been serialized by the caller.
type AnyJSON struct {
	Value any
}

// Value implements driver.Valuer.
func (a AnyJSON) Value() (driver.Value, error) {
	s, err := canonjson.Marshal(a.Value)
	if err != nil {
		return nil, fmt.Errorf("dbfacade: encoding AnyJSON: %w", err)
	}
	return s, nil
}
