// Package flash defines the contract the core uses to talk to a NOR flash
// chip (C1) and ships the one implementation this module needs to be
// host-testable: a device backed by a memory-mapped file.
//
// Real chip drivers (QSPI controllers, DMA-backed program/erase, interrupt
// controllers) are external collaborators per the specification; nothing in
// this package pretends to model one.
package flash

import "errors"

// Device is the flash primitive contract (C1). Offsets are always raw
// device offsets, never XIP-mapped addresses — callers translate via
// partition.Region when they need a CPU-visible view.
type Device interface {
	// ReadAt copies len(p) bytes starting at off into p. Reads never need a
	// critical section: on XIP hardware the CPU can always read flash
	// except while an Erase/Program critical section (Enter/Exit) is open.
	ReadAt(p []byte, off uint32) (int, error)

	// Erase sets length bytes starting at off to the erased pattern
	// (0xFF). off and length must be multiples of SectorSize.
	Erase(off, length uint32) error

	// Program ANDs data into the device starting at off: NOR flash can only
	// clear bits, never set them, so programming over un-erased flash
	// silently loses any bit that was already 0. off must be a multiple of
	// PageSize; len(data) need not be, but callers that want realistic page
	// semantics should chunk by PageSize themselves (infosector and fota
	// both do).
	Program(off uint32, data []byte) error

	// Enter begins a critical section (save-and-disable-interrupts on real
	// hardware). Must be paired with Exit and must not be called again
	// before the matching Exit returns.
	Enter()

	// Exit ends the critical section started by the matching Enter.
	Exit()

	SectorSize() uint32
	PageSize() uint32
}

// ErrPowerLoss is returned by a Device decorator that simulates a power cut
// partway through an Erase or Program call. See TruncateAfterNBytes.
var ErrPowerLoss = errors.New("flash: simulated power loss")

// ErrReentrantCriticalSection is returned (via panic, mirroring a real
// non-reentrant interrupt mask) when Enter is called twice without an
// intervening Exit.
var ErrReentrantCriticalSection = errors.New("flash: critical section is not reentrant")
