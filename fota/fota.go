// Package fota implements the application-side FOTA API (C7): the
// operations running firmware calls to stage a new image, verify it,
// commit the current one, and request an update reboot.
package fota

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"openenterprise/fotacore/flash"
	"openenterprise/fotacore/partition"
	"openenterprise/fotacore/plugins/cipher"
	"openenterprise/fotacore/plugins/digest"
	"openenterprise/fotacore/state"
	"openenterprise/fotacore/swap"
)

var (
	// ErrMisaligned is returned when offset or len is not a multiple of the
	// program-page unit, or offset+len exceeds SWAP_LEN (spec.md §4.6).
	ErrMisaligned = fmt.Errorf("fota: offset/len must be page-aligned and within the download slot")
	// ErrDigestMismatch is returned by Sha256Check on a verification failure.
	ErrDigestMismatch = fmt.Errorf("fota: digest mismatch")
	// ErrBadImageSize is returned by Sha256Check when image_size is not a
	// positive multiple of the page size.
	ErrBadImageSize = fmt.Errorf("fota: image size must be a positive multiple of the page size")
	// ErrAlreadyEntered guards the non-reentrant API contract: no hardware
	// interrupt handler, and no second goroutine, may call into the API
	// while a call is already in flight (spec.md §5).
	ErrAlreadyEntered = fmt.Errorf("fota: API is not reentrant")
)

// Rebooter performs the "arm watchdog and spin" hardware action of
// perform_update. On host builds this is supplied by the caller — test code
// satisfies it by re-invoking the boot dispatcher against the same backing
// device, simulating a reboot without an actual process restart.
type Rebooter interface {
	Reboot() error
}

// RebootFunc adapts a plain function to Rebooter.
type RebootFunc func() error

func (f RebootFunc) Reboot() error { return f() }

// API is the application-facing FOTA surface. It is not safe for
// concurrent use; a non-reentrant mutex enforces this at runtime rather
// than corrupting flash silently, the nearest host-testable analogue of
// the hardware's single-threaded guarantee.
type API struct {
	dev      flash.Device
	m        partition.Map
	machine  *state.Machine
	engine   *swap.Engine
	log      *slog.Logger
	digest   *digest.Sha256
	cipher   *cipher.AESECB
	pageSize uint32

	mu       sync.Mutex
	entered  bool
}

// Option configures an API at construction time.
type Option func(*API)

// WithDigest enables the SHA-256 integrity plugin.
func WithDigest(d *digest.Sha256) Option {
	return func(a *API) { a.digest = d }
}

// WithCipher enables the AES-ECB decryption plugin.
func WithCipher(c *cipher.AESECB) Option {
	return func(a *API) { a.cipher = c }
}

// WithLogger attaches a structured logger; nil leaves logging disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.log = logger }
}

// New returns an API bound to the given device, partition map, state
// machine and swap engine.
func New(dev flash.Device, m partition.Map, machine *state.Machine, engine *swap.Engine, opts ...Option) *API {
	a := &API{
		dev:      dev,
		m:        m,
		machine:  machine,
		engine:   engine,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		pageSize: m.PageSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) enter() func() {
	a.mu.Lock()
	if a.entered {
		a.mu.Unlock()
		panic(ErrAlreadyEntered)
	}
	a.entered = true
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		a.entered = false
		a.mu.Unlock()
	}
}

// InitializeDownloadSlot must be called before any WriteToFlashAligned
// call. It commits any prior activation (spec.md §4.6: "commits prior
// activation"), erases the whole DOWNLOAD region, and re-keys the cipher
// plugin if one is installed.
func (a *API) InitializeDownloadSlot(cipherPassphrase string) error {
	defer a.enter()()

	if err := a.machine.Commit(); err != nil {
		return fmt.Errorf("fota: initialize: commit: %w", err)
	}

	a.dev.Enter()
	err := a.dev.Erase(a.m.Download.Offset, a.m.Download.Length)
	a.dev.Exit()
	if err != nil {
		return fmt.Errorf("fota: initialize: erase download slot: %w", err)
	}

	if a.cipher != nil {
		c, err := cipher.NewAESECB(cipherPassphrase)
		if err != nil {
			return fmt.Errorf("fota: initialize: rekey cipher: %w", err)
		}
		a.cipher = c
	}

	a.log.Info("fota:initialize-download-slot", slog.Uint64("length", uint64(a.m.Download.Length)))
	return nil
}

// WriteToFlashAligned streams src into DOWNLOAD at offset. offset and
// len(src) must be multiples of the page size, and offset+len(src) must
// not exceed SWAP_LEN. If a cipher plugin is installed, src is decrypted
// in page-sized blocks before programming.
func (a *API) WriteToFlashAligned(src []byte, offset uint32) error {
	defer a.enter()()

	length := uint32(len(src))
	if offset%a.pageSize != 0 || length%a.pageSize != 0 {
		return ErrMisaligned
	}
	if offset+length > a.m.SwapLen() {
		return ErrMisaligned
	}

	plain := src
	if a.cipher != nil {
		plain = make([]byte, length)
		if err := a.cipher.Decrypt(plain, src); err != nil {
			return fmt.Errorf("fota: decrypt: %w", err)
		}
	}

	for off := uint32(0); off < length; off += a.pageSize {
		a.dev.Enter()
		err := a.dev.Program(a.m.Download.Offset+offset+off, plain[off:off+a.pageSize])
		a.dev.Exit()
		if err != nil {
			return fmt.Errorf("fota: program at offset %d: %w", offset+off, err)
		}
	}
	return nil
}

// Sha256Check computes SHA-256 over the first imageSize-32 bytes of
// DOWNLOAD and compares it to the trailing 32 bytes. imageSize must be a
// positive multiple of the page size.
func (a *API) Sha256Check(imageSize uint32) error {
	defer a.enter()()

	if imageSize == 0 || imageSize%a.pageSize != 0 || imageSize < a.pageSize {
		return ErrBadImageSize
	}
	if a.digest == nil {
		return fmt.Errorf("fota: digest plugin not installed")
	}

	buf := make([]byte, imageSize)
	if _, err := a.dev.ReadAt(buf, a.m.Download.Offset); err != nil {
		return fmt.Errorf("fota: digest: read: %w", err)
	}

	a.digest.Start()
	a.digest.Update(buf[:imageSize-32])
	got := a.digest.Finish()

	if string(got[:]) != string(buf[imageSize-32:]) {
		return ErrDigestMismatch
	}
	return nil
}

// MarkDownloadSlotAsValid sets DOWNLOAD_VALID=SWAP, requesting a swap on
// the next boot.
func (a *API) MarkDownloadSlotAsValid() error {
	defer a.enter()()
	return a.machine.MarkDownloadValid()
}

// MarkDownloadSlotAsInvalid clears DOWNLOAD_VALID.
func (a *API) MarkDownloadSlotAsInvalid() error {
	defer a.enter()()
	return a.machine.MarkDownloadInvalid()
}

// IsAfterFirmwareUpdate reports whether the running image was just
// activated by a swap.
func (a *API) IsAfterFirmwareUpdate() (bool, error) {
	defer a.enter()()
	markers, err := a.machine.Read()
	if err != nil {
		return false, fmt.Errorf("fota: is-after-update: %w", err)
	}
	return state.IsAfterFirmwareUpdate(markers), nil
}

// IsAfterRollback reports whether the running image was restored by a
// rollback.
func (a *API) IsAfterRollback() (bool, error) {
	defer a.enter()()
	markers, err := a.machine.Read()
	if err != nil {
		return false, fmt.Errorf("fota: is-after-rollback: %w", err)
	}
	return state.IsAfterRollback(markers), nil
}

// FirmwareCommit clears SHOULD_ROLLBACK. Safe to call repeatedly (I3).
func (a *API) FirmwareCommit() error {
	defer a.enter()()
	return a.machine.Commit()
}

// PerformUpdate arms the watchdog (via r.Reboot) and returns whatever
// error the reboot hook returns. On real hardware Reboot never returns; on
// host builds it is the hook tests use to re-invoke the boot dispatcher.
func (a *API) PerformUpdate(r Rebooter) error {
	defer a.enter()()
	a.log.Info("fota:perform-update")
	return r.Reboot()
}
