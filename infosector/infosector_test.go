package infosector_test

import (
	"path/filepath"
	"testing"

	"openenterprise/fotacore/flash"
	"openenterprise/fotacore/infosector"
	"openenterprise/fotacore/partition"
)

const (
	testSectorSize = 4096
	testPageSize   = 256
)

func newDevice(t *testing.T) flash.Device {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flash.bin")
	dev, err := flash.OpenMMapDevice(path, testSectorSize*3, testSectorSize, testPageSize)
	if err != nil {
		t.Fatalf("OpenMMapDevice: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestReadMarkers_ErasedSectorReadsAsZeroValue(t *testing.T) {
	dev := newDevice(t)
	info := partition.Region{Offset: 0, Length: testSectorSize}
	codec := infosector.New(dev, info)

	m, err := codec.ReadMarkers()
	if err != nil {
		t.Fatalf("ReadMarkers: %v", err)
	}
	if m != (infosector.Markers{}) {
		t.Fatalf("expected all-zero markers on erased sector, got %+v", m)
	}
}

func TestWriteMarker_PreservesOtherMarkers(t *testing.T) {
	dev := newDevice(t)
	info := partition.Region{Offset: 0, Length: testSectorSize}
	codec := infosector.New(dev, info)

	if err := codec.WriteMarker(infosector.OffsetDownloadValid, 0xABCDEF12); err != nil {
		t.Fatalf("WriteMarker DOWNLOAD_VALID: %v", err)
	}
	if err := codec.WriteMarker(infosector.OffsetFirmwareSwapped, 0x12345678); err != nil {
		t.Fatalf("WriteMarker FIRMWARE_SWAPPED: %v", err)
	}

	before, err := codec.ReadMarkers()
	if err != nil {
		t.Fatalf("ReadMarkers: %v", err)
	}

	if err := codec.WriteMarker(infosector.OffsetShouldRollback, 0x0DEADEAD); err != nil {
		t.Fatalf("WriteMarker SHOULD_ROLLBACK: %v", err)
	}

	after, err := codec.ReadMarkers()
	if err != nil {
		t.Fatalf("ReadMarkers: %v", err)
	}

	if after.DownloadValid != before.DownloadValid {
		t.Errorf("DownloadValid changed: %#x -> %#x", before.DownloadValid, after.DownloadValid)
	}
	if after.FirmwareSwapped != before.FirmwareSwapped {
		t.Errorf("FirmwareSwapped changed: %#x -> %#x", before.FirmwareSwapped, after.FirmwareSwapped)
	}
	if after.IsAfterRollback != before.IsAfterRollback {
		t.Errorf("IsAfterRollback changed: %#x -> %#x", before.IsAfterRollback, after.IsAfterRollback)
	}
	if after.ShouldRollback != 0x0DEADEAD {
		t.Errorf("ShouldRollback = %#x, want 0x0DEADEAD", after.ShouldRollback)
	}
}

func TestWriteMarker_PowerLossDuringErase_LeavesCanonicalSafeState(t *testing.T) {
	dev := newDevice(t)
	info := partition.Region{Offset: 0, Length: testSectorSize}
	codec := infosector.New(dev, info)

	// Establish a non-trivial state first.
	if err := codec.WriteMarker(infosector.OffsetShouldRollback, 0x0DEADEAD); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}

	// Now simulate power loss during the erase step of a second write: only
	// the erase goes through, the program half never runs.
	cut := flash.TruncateAfterNBytes(dev, testSectorSize) // budget covers exactly one erase
	cutCodec := infosector.New(cut, info)
	err := cutCodec.WriteMarker(infosector.OffsetDownloadValid, 0xABCDEF12)
	if err == nil {
		t.Fatalf("expected simulated power loss error")
	}

	// Re-open a fresh codec over the same backing device, as the next boot
	// would: INFO must read back as the canonical safe state.
	m, err := infosector.New(dev, info).ReadMarkers()
	if err != nil {
		t.Fatalf("ReadMarkers after power loss: %v", err)
	}
	if m != (infosector.Markers{}) {
		t.Fatalf("expected canonical safe state (all zero) after mid-erase power loss, got %+v", m)
	}
}
