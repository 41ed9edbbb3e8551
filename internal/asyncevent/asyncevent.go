// Package asyncevent defines the wire format of asynchronous action
// records: the discriminated events a generated program writes to the
// perf ring for the user-space runtime to act on. Every record starts
// with a 64-bit action id; format-call actions (printf, system, cat)
// reserve an id range so the per-call-site argument table index rides in
// the same word.
package asyncevent

import "encoding/binary"

// Action is the record discriminator.
type Action uint64

const (
	// Printf reserves ids [0, 10000) for printf call sites.
	Printf Action = 0
	// Syscall reserves ids [10000, 20000) for system call sites.
	Syscall Action = 10000
	// Cat reserves ids [20000, 30000) for cat call sites.
	Cat Action = 20000
)

const (
	Exit Action = 30000 + iota
	Print
	Clear
	Zero
	Time
	Join
	HelperError
	PrintNonMap
	Strftime
)

// RangeSize is the width of each format-call id range.
const RangeSize = 10000

// ActionOf decodes the discriminator from a raw record.
func ActionOf(record []byte) Action {
	if len(record) < 8 {
		return 0
	}
	return Action(binary.LittleEndian.Uint64(record))
}

// Classify collapses a raw discriminator into its action family and the
// call-site id within the family's range.
func Classify(a Action) (Action, int) {
	switch {
	case a < Syscall:
		return Printf, int(a)
	case a < Cat:
		return Syscall, int(a - Syscall)
	case a < Exit:
		return Cat, int(a - Cat)
	}
	return a, 0
}

// Fixed record layouts. Sizes and field offsets are part of the contract
// with the runtime's event loop; all fields are 64-bit words unless noted.

// PrintMapSize is sizeof{action, map_id, top, div}.
const PrintMapSize = 32

// PrintNonMapHeaderSize is sizeof{action, id} before the inline content.
const PrintNonMapHeaderSize = 16

// MapEventSize is sizeof{action, map_id} for clear and zero.
const MapEventSize = 16

// TimeSize is sizeof{action, fmt_id}.
const TimeSize = 16

// StrftimeSize is sizeof{action, fmt_id, ts}.
const StrftimeSize = 24

// ExitSize is sizeof{action}.
const ExitSize = 8

// JoinHeaderSize is sizeof{action, join_id} before the argument block.
const JoinHeaderSize = 16
