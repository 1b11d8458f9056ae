package flash

// BudgetedDevice wraps a Device and forces a simulated power loss once a
// fixed number of erase/program bytes have been written across the whole
// lifetime of the wrapper, truncating whichever call crosses the budget
// partway through. This is the host-testable stand-in for "power may be
// lost at any instant" (spec §1): construct one over a real MMapDevice,
// run a sequence of calls, then open a fresh Codec/Dispatcher over the same
// backing file to observe what the next boot sees.
type BudgetedDevice struct {
	Device
	remaining int
}

// TruncateAfterNBytes returns a decorator that lets exactly n bytes of
// Erase/Program traffic through before every subsequent byte is dropped.
func TruncateAfterNBytes(d Device, n int) *BudgetedDevice {
	return &BudgetedDevice{Device: d, remaining: n}
}

func (b *BudgetedDevice) Erase(off, length uint32) error {
	if b.remaining <= 0 {
		return ErrPowerLoss
	}
	if int(length) <= b.remaining {
		b.remaining -= int(length)
		return b.Device.Erase(off, length)
	}
	partial := uint32(b.remaining)
	b.remaining = 0
	// Best-effort partial erase: only the first `partial` bytes of the
	// range actually get cleared before power disappears. Real sector
	// erases are not byte-granular, but this approximates the mid-erase
	// window the spec's failure analysis describes well enough to drive a
	// fuzz test: the sector is left in neither its old nor fully-erased
	// state.
	if partial > 0 {
		if raw, ok := b.Device.(interface{ rawErase(off, n uint32) }); ok {
			raw.rawErase(off, partial)
		}
	}
	return ErrPowerLoss
}

func (b *BudgetedDevice) Program(off uint32, data []byte) error {
	if b.remaining <= 0 {
		return ErrPowerLoss
	}
	if len(data) <= b.remaining {
		b.remaining -= len(data)
		return b.Device.Program(off, data)
	}
	partial := b.remaining
	b.remaining = 0
	if partial > 0 {
		if raw, ok := b.Device.(interface{ rawProgram(off uint32, data []byte) }); ok {
			raw.rawProgram(off, data[:partial])
		}
	}
	return ErrPowerLoss
}
