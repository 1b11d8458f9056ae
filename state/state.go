// Package state implements the four persistent markers and their legal
// transitions (C4): the on-flash compatibility-critical magic values, the
// boot-time decision function, and the run-time operations the application
// API calls.
package state

import "openenterprise/fotacore/infosector"

// Markers is the decoded 4-tuple of on-flash state. Kept as a type alias so
// infosector never needs to know about state-machine semantics and state
// never needs its own duplicate wire struct.
type Markers = infosector.Markers

// On-flash magic values (spec.md §6). These are compatibility-critical and
// must never change bit-for-bit; if the 28-bit SHOULD_ROLLBACK magic is
// ever widened, that is a deliberate on-flash format break — see
// DESIGN.md's Open Question note.
const (
	DownloadValidSwap   uint32 = 0xABCDEF12
	DownloadValidNoSwap uint32 = 0x00000000

	FirmwareSwappedNew uint32 = 0x12345678
	FirmwareSwappedOld uint32 = 0x00000000

	ShouldRollbackYes uint32 = 0x0DEADEAD
	ShouldRollbackNo  uint32 = 0x00000000

	IsAfterRollbackYes uint32 = 0xBEEFBEEF
	IsAfterRollbackNo  uint32 = 0x00000000
)

// Branch is the boot-time decision a Dispatcher must act on.
type Branch int

const (
	// PlainBoot is the defensive default: no swap, no rollback, just run
	// whatever is already in APP.
	PlainBoot Branch = iota
	ActivationBoot
	RollbackBoot
)

func (b Branch) String() string {
	switch b {
	case PlainBoot:
		return "plain-boot"
	case ActivationBoot:
		return "activation-boot"
	case RollbackBoot:
		return "rollback-boot"
	default:
		return "unknown-boot-branch"
	}
}

// Decide implements spec.md §4.3's boot-time transition table in priority
// order rollback > new-image > nothing. Any marker value other than its
// exact magic is treated as its "unset" complement (invariant M1), and the
// decision is taken on what remains: unless SHOULD_ROLLBACK reads YES or
// DOWNLOAD_VALID reads SWAP, the result is PlainBoot — there is no explicit
// "invalid state" branch to fall into, by construction.
func Decide(m Markers) Branch {
	if m.ShouldRollback == ShouldRollbackYes {
		return RollbackBoot
	}
	if m.DownloadValid == DownloadValidSwap {
		return ActivationBoot
	}
	return PlainBoot
}

// IsAfterFirmwareUpdate reports whether FIRMWARE_SWAPPED reads NEW.
func IsAfterFirmwareUpdate(m Markers) bool {
	return m.FirmwareSwapped == FirmwareSwappedNew
}

// IsAfterRollback reports whether IS_AFTER_ROLLBACK reads YES.
func IsAfterRollback(m Markers) bool {
	return m.IsAfterRollback == IsAfterRollbackYes
}

// ShouldRollback reports whether SHOULD_ROLLBACK reads YES.
func ShouldRollback(m Markers) bool {
	return m.ShouldRollback == ShouldRollbackYes
}

// IsDownloadValid reports whether DOWNLOAD_VALID reads SWAP.
func IsDownloadValid(m Markers) bool {
	return m.DownloadValid == DownloadValidSwap
}
