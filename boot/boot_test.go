package boot_test

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"openenterprise/fotacore/boot"
	"openenterprise/fotacore/flash"
	"openenterprise/fotacore/infosector"
	"openenterprise/fotacore/partition"
	"openenterprise/fotacore/state"
	"openenterprise/fotacore/swap"
)

const (
	sectorSize = 4096
	pageSize   = 256
	numSectors = 2
)

type fixture struct {
	dev *flash.MMapDevice
	m   partition.Map
	mac *state.Machine
	d   *boot.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flash.bin")
	m := partition.Map{
		Info:       partition.Region{Offset: 0, Length: sectorSize},
		App:        partition.Region{Offset: sectorSize, Length: numSectors * sectorSize},
		Download:   partition.Region{Offset: sectorSize * (1 + numSectors), Length: numSectors * sectorSize},
		SectorSize: sectorSize,
		PageSize:   pageSize,
	}
	dev, err := flash.OpenMMapDevice(path, int(sectorSize*(1+2*numSectors)), sectorSize, pageSize)
	if err != nil {
		t.Fatalf("OpenMMapDevice: %v", err)
	}
	t.Cleanup(func() { dev.Close() })

	codec := infosector.New(dev, m.Info)
	mac := state.NewMachine(codec)
	eng := swap.New(dev, m)
	d := boot.New(dev, m, mac, eng, nil)

	appVector := make([]byte, 8)
	binary.LittleEndian.PutUint32(appVector[0:4], 0x20010000)
	binary.LittleEndian.PutUint32(appVector[4:8], 0x10001000)
	if err := dev.Erase(m.App.Offset, sectorSize); err != nil {
		t.Fatal(err)
	}
	if err := dev.Program(m.App.Offset, appVector); err != nil {
		t.Fatal(err)
	}

	return &fixture{dev: dev, m: m, mac: mac, d: d}
}

func TestBoot_ColdBootTakesPlainBranchAndChainloads(t *testing.T) {
	fx := newFixture(t)

	branch, err := fx.d.Boot()
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if branch != state.PlainBoot {
		t.Fatalf("branch = %s, want plain-boot", branch)
	}
	if fx.d.LastChainload.MSP != 0x20010000 || fx.d.LastChainload.ResetVector != 0x10001000 {
		t.Fatalf("unexpected chainload target: %+v", fx.d.LastChainload)
	}
}

func TestBoot_ActivationThenRollback(t *testing.T) {
	fx := newFixture(t)

	downloadImage := make([]byte, fx.m.Download.Length)
	for i := range downloadImage {
		downloadImage[i] = byte(i)
	}
	if err := fx.dev.Erase(fx.m.Download.Offset, fx.m.Download.Length); err != nil {
		t.Fatal(err)
	}
	if err := fx.dev.Program(fx.m.Download.Offset, downloadImage); err != nil {
		t.Fatal(err)
	}
	if err := fx.mac.MarkDownloadValid(); err != nil {
		t.Fatalf("MarkDownloadValid: %v", err)
	}

	branch, err := fx.d.Boot()
	if err != nil {
		t.Fatalf("Boot (activation): %v", err)
	}
	if branch != state.ActivationBoot {
		t.Fatalf("branch = %s, want activation-boot", branch)
	}

	markers, err := fx.mac.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if markers.ShouldRollback != state.ShouldRollbackYes {
		t.Fatalf("ShouldRollback = %#x after activation boot, want armed (S2)", markers.ShouldRollback)
	}
	if markers.DownloadValid != state.DownloadValidNoSwap {
		t.Fatalf("DownloadValid = %#x after activation boot, want NOSWAP", markers.DownloadValid)
	}

	gotApp := make([]byte, fx.m.App.Length)
	fx.dev.ReadAt(gotApp, fx.m.App.Offset)
	for i, b := range gotApp {
		if b != downloadImage[i] {
			t.Fatalf("APP byte %d = %#x after swap, want %#x", i, b, downloadImage[i])
		}
	}

	// Simulate a reboot before the new image commits: re-run Boot without
	// having cleared ShouldRollback. This must take the rollback branch and
	// restore the original APP contents (S3).
	branch, err = fx.d.Boot()
	if err != nil {
		t.Fatalf("Boot (rollback): %v", err)
	}
	if branch != state.RollbackBoot {
		t.Fatalf("branch = %s, want rollback-boot", branch)
	}

	markers, err = fx.mac.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if markers.ShouldRollback != state.ShouldRollbackNo {
		t.Fatalf("ShouldRollback = %#x after rollback boot, want committed NO", markers.ShouldRollback)
	}
	if markers.IsAfterRollback != state.IsAfterRollbackYes {
		t.Fatalf("IsAfterRollback = %#x after rollback boot, want YES", markers.IsAfterRollback)
	}
}

// singleSectorFixture builds a fixture with exactly one sector per image.
// With the budgets used below (0: power lost before the first erase; -1: no
// budget), a swap either touches nothing or completes the one sector — there
// is no partially-swapped middle state to reason about.
type singleSectorFixture struct {
	dev *flash.MMapDevice
	m   partition.Map
	mac *state.Machine
}

func newSingleSectorFixture(t *testing.T) *singleSectorFixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flash.bin")
	m := partition.Map{
		Info:       partition.Region{Offset: 0, Length: sectorSize},
		App:        partition.Region{Offset: sectorSize, Length: sectorSize},
		Download:   partition.Region{Offset: sectorSize * 2, Length: sectorSize},
		SectorSize: sectorSize,
		PageSize:   pageSize,
	}
	dev, err := flash.OpenMMapDevice(path, int(sectorSize*3), sectorSize, pageSize)
	if err != nil {
		t.Fatalf("OpenMMapDevice: %v", err)
	}
	t.Cleanup(func() { dev.Close() })

	codec := infosector.New(dev, m.Info)
	mac := state.NewMachine(codec)

	appVector := make([]byte, 8)
	binary.LittleEndian.PutUint32(appVector[0:4], 0x20010000)
	binary.LittleEndian.PutUint32(appVector[4:8], 0x10001000)
	if err := dev.Erase(m.App.Offset, sectorSize); err != nil {
		t.Fatal(err)
	}
	if err := dev.Program(m.App.Offset, appVector); err != nil {
		t.Fatal(err)
	}

	return &singleSectorFixture{dev: dev, m: m, mac: mac}
}

func (fx *singleSectorFixture) dispatcherWithBudget(budget int) *boot.Dispatcher {
	var eng *swap.Engine
	if budget < 0 {
		eng = swap.New(fx.dev, fx.m)
	} else {
		eng = swap.New(flash.TruncateAfterNBytes(fx.dev, budget), fx.m)
	}
	codec := infosector.New(fx.dev, fx.m.Info)
	return boot.New(fx.dev, fx.m, state.NewMachine(codec), eng, nil)
}

// TestBoot_ActivationSwapFailure_StillArmsRollback covers boot.go's
// ActivationBoot case: spec.md §4.4 requires the marker writes (arm
// rollback, mark swapped/not-after-rollback) to happen independent of
// Swap()'s own success, so a failed swap still leaves a self-healing path
// via SHOULD_ROLLBACK=YES instead of stranding the device on PlainBoot.
func TestBoot_ActivationSwapFailure_StillArmsRollback(t *testing.T) {
	fx := newSingleSectorFixture(t)

	downloadImage := make([]byte, fx.m.Download.Length)
	for i := range downloadImage {
		downloadImage[i] = byte(i)
	}
	if err := fx.dev.Erase(fx.m.Download.Offset, fx.m.Download.Length); err != nil {
		t.Fatal(err)
	}
	if err := fx.dev.Program(fx.m.Download.Offset, downloadImage); err != nil {
		t.Fatal(err)
	}
	if err := fx.mac.MarkDownloadValid(); err != nil {
		t.Fatalf("MarkDownloadValid: %v", err)
	}

	d := fx.dispatcherWithBudget(0)
	branch, err := d.Boot()
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if branch != state.ActivationBoot {
		t.Fatalf("branch = %s, want activation-boot", branch)
	}

	markers, err := fx.mac.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if markers.ShouldRollback != state.ShouldRollbackYes {
		t.Fatalf("ShouldRollback = %#x after a failed activation swap, want armed (I7/spec.md §4.4)", markers.ShouldRollback)
	}
	if markers.DownloadValid != state.DownloadValidNoSwap {
		t.Fatalf("DownloadValid = %#x after activation boot, want NOSWAP", markers.DownloadValid)
	}
}

// TestBoot_RollbackSwapFailure_RetriesUntilRecovered covers the companion
// path: a swap failure during a RollbackBoot must leave SHOULD_ROLLBACK
// armed (Commit is skipped on failure) so a later boot with a working
// engine can retry and actually restore APP (I7).
func TestBoot_RollbackSwapFailure_RetriesUntilRecovered(t *testing.T) {
	fx := newSingleSectorFixture(t)

	originalApp := make([]byte, fx.m.App.Length)
	fx.dev.ReadAt(originalApp, fx.m.App.Offset)

	downloadImage := make([]byte, fx.m.Download.Length)
	for i := range downloadImage {
		downloadImage[i] = byte(i)
	}
	if err := fx.dev.Erase(fx.m.Download.Offset, fx.m.Download.Length); err != nil {
		t.Fatal(err)
	}
	if err := fx.dev.Program(fx.m.Download.Offset, downloadImage); err != nil {
		t.Fatal(err)
	}
	if err := fx.mac.MarkDownloadValid(); err != nil {
		t.Fatalf("MarkDownloadValid: %v", err)
	}

	// Boot 1: genuine activation, swap succeeds, rollback gets armed.
	working := fx.dispatcherWithBudget(-1)
	branch, err := working.Boot()
	if err != nil {
		t.Fatalf("Boot (activation): %v", err)
	}
	if branch != state.ActivationBoot {
		t.Fatalf("branch = %s, want activation-boot", branch)
	}

	// Boot 2: a reboot before commit takes the rollback branch, but this
	// time the swap engine fails outright (budget 0) before touching
	// anything. The failure must not commit SHOULD_ROLLBACK.
	failing := fx.dispatcherWithBudget(0)
	branch, err = failing.Boot()
	if err != nil {
		t.Fatalf("Boot (rollback, swap failure): %v", err)
	}
	if branch != state.RollbackBoot {
		t.Fatalf("branch = %s, want rollback-boot", branch)
	}
	markers, err := fx.mac.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if markers.ShouldRollback != state.ShouldRollbackYes {
		t.Fatalf("ShouldRollback = %#x after a failed rollback swap, want still armed", markers.ShouldRollback)
	}
	gotApp := make([]byte, fx.m.App.Length)
	fx.dev.ReadAt(gotApp, fx.m.App.Offset)
	for i, b := range gotApp {
		if b != downloadImage[i] {
			t.Fatalf("APP byte %d = %#x after failed rollback swap, want unchanged (still new image)", i, b)
		}
	}

	// Boot 3: another reboot, this time with a working engine. Rollback
	// must still be armed and now actually recovers the original APP.
	recovered := fx.dispatcherWithBudget(-1)
	branch, err = recovered.Boot()
	if err != nil {
		t.Fatalf("Boot (rollback, recovered): %v", err)
	}
	if branch != state.RollbackBoot {
		t.Fatalf("branch = %s, want rollback-boot", branch)
	}

	markers, err = fx.mac.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if markers.ShouldRollback != state.ShouldRollbackNo {
		t.Fatalf("ShouldRollback = %#x after recovered rollback boot, want committed NO", markers.ShouldRollback)
	}
	if markers.IsAfterRollback != state.IsAfterRollbackYes {
		t.Fatalf("IsAfterRollback = %#x after recovered rollback boot, want YES", markers.IsAfterRollback)
	}

	fx.dev.ReadAt(gotApp, fx.m.App.Offset)
	for i, b := range gotApp {
		if b != originalApp[i] {
			t.Fatalf("APP byte %d = %#x after recovered rollback, want original %#x (I7)", i, b, originalApp[i])
		}
	}
}

func TestBoot_CommitPreventsRollback(t *testing.T) {
	fx := newFixture(t)

	if err := fx.mac.MarkDownloadValid(); err != nil {
		t.Fatalf("MarkDownloadValid: %v", err)
	}
	if _, err := fx.d.Boot(); err != nil {
		t.Fatalf("Boot (activation): %v", err)
	}

	// The application commits before any further reboot.
	if err := fx.mac.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	branch, err := fx.d.Boot()
	if err != nil {
		t.Fatalf("Boot (plain after commit): %v", err)
	}
	if branch != state.PlainBoot {
		t.Fatalf("branch = %s, want plain-boot after commit (I3)", branch)
	}
}
