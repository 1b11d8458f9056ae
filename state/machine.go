package state

import "openenterprise/fotacore/infosector"

// Machine is the sole owner of marker writes: both the application API (C7)
// and the boot dispatcher (C6) drive the state machine exclusively through
// this type, never by calling infosector.Codec directly.
type Machine struct {
	codec *infosector.Codec
}

// NewMachine binds a Machine to the given codec.
func NewMachine(codec *infosector.Codec) *Machine {
	return &Machine{codec: codec}
}

// Read returns the current 4-tuple of markers.
func (m *Machine) Read() (Markers, error) {
	return m.codec.ReadMarkers()
}

// Commit clears SHOULD_ROLLBACK. Idempotent (I3): calling it when the
// marker already reads NO performs a full erase+reprogram cycle but leaves
// the decoded state unchanged.
func (m *Machine) Commit() error {
	return m.codec.WriteMarker(infosector.OffsetShouldRollback, ShouldRollbackNo)
}

// ArmRollback sets SHOULD_ROLLBACK=YES. Called only by the boot dispatcher
// on an activation boot, per spec.md §4.3's rationale: the new image has
// not yet had a chance to commit, so any reboot before it does trips
// rollback.
func (m *Machine) ArmRollback() error {
	return m.codec.WriteMarker(infosector.OffsetShouldRollback, ShouldRollbackYes)
}

// MarkDownloadValid sets DOWNLOAD_VALID=SWAP.
func (m *Machine) MarkDownloadValid() error {
	return m.codec.WriteMarker(infosector.OffsetDownloadValid, DownloadValidSwap)
}

// MarkDownloadInvalid sets DOWNLOAD_VALID=NOSWAP.
func (m *Machine) MarkDownloadInvalid() error {
	return m.codec.WriteMarker(infosector.OffsetDownloadValid, DownloadValidNoSwap)
}

// MarkFirmwareSwapped sets FIRMWARE_SWAPPED to NEW or OLD.
func (m *Machine) MarkFirmwareSwapped(isNew bool) error {
	v := FirmwareSwappedOld
	if isNew {
		v = FirmwareSwappedNew
	}
	return m.codec.WriteMarker(infosector.OffsetFirmwareSwapped, v)
}

// MarkIsAfterRollback sets IS_AFTER_ROLLBACK to YES or NO.
func (m *Machine) MarkIsAfterRollback(yes bool) error {
	v := IsAfterRollbackNo
	if yes {
		v = IsAfterRollbackYes
	}
	return m.codec.WriteMarker(infosector.OffsetIsAfterRollback, v)
}
