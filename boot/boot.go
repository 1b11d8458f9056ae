// Package boot implements the reset-time decision logic, peripheral quiesce
// and chainload into the application image (C6).
package boot

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"openenterprise/fotacore/flash"
	"openenterprise/fotacore/partition"
	"openenterprise/fotacore/state"
	"openenterprise/fotacore/swap"
)

// PeripheralBlock names a resettable peripheral block, used by Quiescer so
// callers can name which blocks must survive the reset (QSPI pads and the
// system PLL must stay up for XIP to keep working, per spec.md §4.5 step 4).
type PeripheralBlock int

const (
	QSPIPads PeripheralBlock = iota
	SysCfg
	SystemPLL
)

// Quiescer performs the platform-specific peripheral quiesce of spec.md
// §4.5 step 4. The zero value (NopQuiescer) does nothing, which is correct
// on a host build where there are no interrupt-controller/SysTick
// registers to touch.
type Quiescer interface {
	DisableSystick()
	ResetPeripherals(keep ...PeripheralBlock)
}

// NopQuiescer is the default Quiescer: it does nothing, standing in for
// platforms (or host tests) with no peripherals to quiesce.
type NopQuiescer struct{}

func (NopQuiescer) DisableSystick()                       {}
func (NopQuiescer) ResetPeripherals(keep ...PeripheralBlock) {}

// ChainloadFunc is the single inline-assembly island the spec calls out in
// §9: on real hardware it sets VTOR, loads MSP and branches to the reset
// vector, never returning. The default (nil) records the addresses it
// would have jumped to and returns, which is what lets the host test suite
// drive I1/I2 end-to-end across simulated reboots.
type ChainloadFunc func(mspInitial, resetVector uint32) error

// Dispatcher is the boot-time entry point (C6).
type Dispatcher struct {
	dev     flash.Device
	m       partition.Map
	machine *state.Machine
	engine  *swap.Engine
	log     *slog.Logger

	Quiescer  Quiescer
	Chainload ChainloadFunc

	// LastChainload records the (msp, resetVector) pair the most recent
	// Boot call would have branched to, so tests can assert on it without
	// supplying a Chainload hook.
	LastChainload struct {
		MSP         uint32
		ResetVector uint32
	}
}

// New returns a Dispatcher. logger may be nil (a no-op logger is used).
func New(dev flash.Device, m partition.Map, machine *state.Machine, engine *swap.Engine, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		dev:      dev,
		m:        m,
		machine:  machine,
		engine:   engine,
		log:      logger,
		Quiescer: NopQuiescer{},
	}
}

// Boot runs the full reset-time sequence of spec.md §4.5: evaluate markers
// in rollback > new-image > nothing priority order, swap if needed, clear
// DOWNLOAD_VALID, quiesce, and chainload into APP.
func (d *Dispatcher) Boot() (state.Branch, error) {
	markers, err := d.machine.Read()
	if err != nil {
		return state.PlainBoot, fmt.Errorf("boot: read markers: %w", err)
	}

	branch := state.Decide(markers)
	d.log.Info("boot:branch", slog.String("branch", branch.String()))

	switch branch {
	case state.RollbackBoot:
		if err := d.engine.Swap(); err != nil {
			// Failure semantics (spec.md §4.4): the swap may have left APP
			// a mix of old/new sectors. We still clear DOWNLOAD_VALID and
			// jump below — the mixed image will likely fail to boot, the
			// watchdog will restart, and rollback fires again next time.
			d.log.Error("boot:swap-failed", slog.String("err", err.Error()))
		} else {
			if err := d.machine.Commit(); err != nil {
				return branch, fmt.Errorf("boot: commit after rollback: %w", err)
			}
			if err := d.machine.MarkFirmwareSwapped(false); err != nil {
				return branch, fmt.Errorf("boot: mark firmware swapped: %w", err)
			}
			if err := d.machine.MarkIsAfterRollback(true); err != nil {
				return branch, fmt.Errorf("boot: mark after rollback: %w", err)
			}
		}

	case state.ActivationBoot:
		if err := d.engine.Swap(); err != nil {
			// Failure semantics (spec.md §4.4): the swap may have left APP a
			// mix of old/new sectors. The marker writes below still happen —
			// arming rollback is what gives this case a self-healing path at
			// all: the mixed image will likely fail to boot, the watchdog
			// will restart, and with SHOULD_ROLLBACK=YES already armed, the
			// next boot takes the RollbackBoot branch and swaps back.
			d.log.Error("boot:swap-failed", slog.String("err", err.Error()))
		}
		if err := d.machine.MarkFirmwareSwapped(true); err != nil {
			return branch, fmt.Errorf("boot: mark firmware swapped: %w", err)
		}
		if err := d.machine.MarkIsAfterRollback(false); err != nil {
			return branch, fmt.Errorf("boot: mark after rollback: %w", err)
		}
		if err := d.machine.ArmRollback(); err != nil {
			return branch, fmt.Errorf("boot: arm rollback: %w", err)
		}

	case state.PlainBoot:
		if err := d.machine.Commit(); err != nil {
			return branch, fmt.Errorf("boot: commit: %w", err)
		}
		if err := d.machine.MarkFirmwareSwapped(false); err != nil {
			return branch, fmt.Errorf("boot: mark firmware swapped: %w", err)
		}
	}

	// Step 3: the staging slot must be re-validated by the application for
	// any future swap, regardless of which branch ran.
	if err := d.machine.MarkDownloadInvalid(); err != nil {
		return branch, fmt.Errorf("boot: clear download valid: %w", err)
	}

	quiescer := d.Quiescer
	if quiescer == nil {
		quiescer = NopQuiescer{}
	}
	quiescer.DisableSystick()
	quiescer.ResetPeripherals(QSPIPads, SysCfg, SystemPLL)

	var hdr [8]byte
	if _, err := d.dev.ReadAt(hdr[:], d.m.App.Offset); err != nil {
		return branch, fmt.Errorf("boot: read APP vector table: %w", err)
	}
	msp := binary.LittleEndian.Uint32(hdr[0:4])
	resetVector := binary.LittleEndian.Uint32(hdr[4:8])
	d.LastChainload.MSP = msp
	d.LastChainload.ResetVector = resetVector

	d.log.Info("boot:chainload", slog.Uint64("msp", uint64(msp)), slog.Uint64("reset_vector", uint64(resetVector)))

	if d.Chainload != nil {
		return branch, d.Chainload(msp, resetVector)
	}
	return branch, nil
}
