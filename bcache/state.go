package bcache

// BlockState describes where a resident block is in its transfer
// lifecycle. Transitions are made under the entry lock; the scheduler is
// the only component that moves a block out of StateReading or
// StateWriting.
type BlockState uint8

const (
	// StateFree — the entry holds no valid payload yet.
	StateFree BlockState = iota
	// StateReading — a device read is in flight; the payload is not yet valid.
	StateReading
	// StateReady — the payload is valid and matches the device.
	StateReady
	// StateDirty — the payload is valid but modified and not yet written back.
	StateDirty
	// StateWriting — a device write of the payload is in flight.
	StateWriting
)

// String returns a short lowercase name for logs and test output.
func (s BlockState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateReading:
		return "reading"
	case StateReady:
		return "ready"
	case StateDirty:
		return "dirty"
	case StateWriting:
		return "writing"
	default:
		return "invalid"
	}
}

// valid reports whether the payload may be served to readers in state s.
// A dirty or mid-writeback payload is still the most recent data.
func (s BlockState) valid() bool {
	return s == StateReady || s == StateDirty || s == StateWriting
}

// inFlight reports whether a device transfer is in progress.
func (s BlockState) inFlight() bool {
	return s == StateReading || s == StateWriting
}
