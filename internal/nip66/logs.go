// Package nip66 implements the seven-probe health-check suite of
// spec.md §4.7.1: RTT, SSL, DNS, Geo, Net, HTTP-header, plus NIP-11 info
// (delegated to internal/nip11). Every probe returns a metadata value
// plus a Logs record; RTT additionally uses the multi-phase log shape of
// spec.md §4.7.2.
package nip66

import "fmt"

// Logs is the simple {success, reason} pair every non-RTT probe reports
// (spec.md §4.7.1: "Every probe returns a Metadata + Logs pair").
type Logs struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Ok builds a successful Logs.
func Ok() Logs { return Logs{Success: true} }

// Fail builds a failed Logs, formatting reason like fmt.Sprintf.
func Fail(format string, args ...any) Logs {
	return Logs{Success: false, Reason: fmt.Sprintf(format, args...)}
}

// RTTLogs is the RTT probe's multi-phase log shape (spec.md §4.7.2):
// open/read/write each carry their own success+reason, and the cascading
// rule says open_success=false forces read_success=write_success=false.
type RTTLogs struct {
	OpenSuccess  bool   `json:"open_success"`
	OpenReason   string `json:"open_reason,omitempty"`
	ReadSuccess  bool   `json:"read_success"`
	ReadReason   string `json:"read_reason,omitempty"`
	WriteSuccess bool   `json:"write_success"`
	WriteReason  string `json:"write_reason,omitempty"`
}

// CascadeFailure builds the RTTLogs for a connection failure: open fails
// with reason, and read/write cascade to failed with the same reason
// (spec.md §8 concrete scenario 6).
func CascadeFailure(reason string) RTTLogs {
	return RTTLogs{
		OpenSuccess: false, OpenReason: reason,
		ReadSuccess: false, ReadReason: reason,
		WriteSuccess: false, WriteReason: reason,
	}
}
