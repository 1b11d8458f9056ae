// Command fota-sim drives a simulated flash device from the host, the same
// role the teacher's cmd/cli plays for bindicator: a flag-driven tool that
// talks to the "device" (here, a flat file standing in for the whole flash
// chip) instead of hand-rolling a protocol test harness.
package main

import (
	"crypto/sha256"
	"fmt"
	"os"

	log "github.com/dsoprea/go-logging"
	humanize "github.com/dustin/go-humanize"
	flags "github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"openenterprise/fotacore/boot"
	"openenterprise/fotacore/config"
	"openenterprise/fotacore/flash"
	"openenterprise/fotacore/fota"
	"openenterprise/fotacore/infosector"
	"openenterprise/fotacore/obslog"
	"openenterprise/fotacore/plugins/cipher"
	"openenterprise/fotacore/plugins/digest"
	"openenterprise/fotacore/state"
	"openenterprise/fotacore/swap"
	"openenterprise/fotacore/version"
)

type rootParameters struct {
	Device string `short:"d" long:"device" description:"Path to the simulated flash image" default:"fota-sim.bin"`
}

var root = new(rootParameters)

type initDeviceCommand struct {
	Size string `long:"size" description:"Total flash image size, e.g. 2Mi, 512Ki" default:"2Mi"`
}

func (c *initDeviceCommand) Execute(_ []string) error {
	m, err := config.Map()
	if err != nil {
		return err
	}
	size, err := humanize.ParseBytes(c.Size)
	if err != nil {
		return fmt.Errorf("bad --size: %w", err)
	}
	dev, err := flash.OpenMMapDevice(root.Device, int(size), m.SectorSize, m.PageSize)
	if err != nil {
		return err
	}
	defer dev.Close()
	fmt.Printf("initialized %s (%s)\n", root.Device, humanize.Bytes(size))
	return nil
}

type stageCommand struct {
	Firmware      string `long:"firmware" description:"Path to the firmware image to stage" required:"true"`
	Digest        bool   `long:"digest" description:"Run firmware_sha256_check after staging"`
	AskPassphrase bool   `long:"ask-passphrase" description:"Prompt for the AES-ECB passphrase instead of using config"`
}

func (c *stageCommand) Execute(_ []string) error {
	m, err := config.Map()
	if err != nil {
		return err
	}
	dev, err := flash.OpenMMapDevice(root.Device, -1, m.SectorSize, m.PageSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	codec := infosector.New(dev, m.Info)
	machine := state.NewMachine(codec)
	engine := swap.New(dev, m)

	logger := obslog.New(os.Stderr, 128)

	var opts []fota.Option
	opts = append(opts, fota.WithDigest(digest.NewSha256()))
	opts = append(opts, fota.WithLogger(logger.Logger))

	passphrase := config.CipherPassphrase()
	if c.AskPassphrase {
		fmt.Print("Passphrase: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
		passphrase = string(pw)
	}
	if passphrase != "" {
		aesCipher, err := cipher.NewAESECB(passphrase)
		if err != nil {
			return err
		}
		opts = append(opts, fota.WithCipher(aesCipher))
	}

	api := fota.New(dev, m, machine, engine, opts...)

	firmware, err := os.ReadFile(c.Firmware)
	if err != nil {
		return fmt.Errorf("read firmware: %w", err)
	}
	padded := padToPageSize(firmware, m.PageSize)

	if err := api.InitializeDownloadSlot(passphrase); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := api.WriteToFlashAligned(padded, 0); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if c.Digest {
		if err := api.Sha256Check(uint32(len(padded))); err != nil {
			return fmt.Errorf("digest check: %w", err)
		}
	}
	if err := api.MarkDownloadSlotAsValid(); err != nil {
		return fmt.Errorf("mark valid: %w", err)
	}

	fmt.Printf("staged %s (%s) into DOWNLOAD\n", c.Firmware, humanize.Bytes(uint64(len(padded))))
	return nil
}

func padToPageSize(b []byte, pageSize uint32) []byte {
	rem := uint32(len(b)) % pageSize
	if rem == 0 {
		return b
	}
	padded := make([]byte, uint32(len(b))+pageSize-rem)
	copy(padded, b)
	return padded
}

type updateCommand struct{}

func (c *updateCommand) Execute(_ []string) error {
	m, err := config.Map()
	if err != nil {
		return err
	}
	dev, err := flash.OpenMMapDevice(root.Device, -1, m.SectorSize, m.PageSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	logger := obslog.New(os.Stderr, 128)

	codec := infosector.New(dev, m.Info)
	machine := state.NewMachine(codec)
	engine := swap.New(dev, m)
	dispatcher := boot.New(dev, m, machine, engine, logger.Logger)

	api := fota.New(dev, m, machine, engine, fota.WithLogger(logger.Logger))
	err = api.PerformUpdate(fota.RebootFunc(func() error {
		branch, err := dispatcher.Boot()
		if err != nil {
			return err
		}
		fmt.Printf("reboot: %s branch\n", branch)
		return nil
	}))
	if err != nil {
		return err
	}
	for _, line := range logger.RecentEvents() {
		fmt.Fprintln(os.Stderr, "log:", line)
	}
	return nil
}

type statusCommand struct{}

func (c *statusCommand) Execute(_ []string) error {
	m, err := config.Map()
	if err != nil {
		return err
	}
	dev, err := flash.OpenMMapDevice(root.Device, -1, m.SectorSize, m.PageSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	codec := infosector.New(dev, m.Info)
	markers, err := codec.ReadMarkers()
	if err != nil {
		return err
	}

	appBuf := make([]byte, m.App.Length)
	if _, err := dev.ReadAt(appBuf, m.App.Offset); err != nil {
		return err
	}
	appHash := sha256.Sum256(appBuf)

	fmt.Printf("build:            %s (%s)\n", version.BuildMarker, version.Version)
	fmt.Printf("DOWNLOAD_VALID:   %#08x\n", markers.DownloadValid)
	fmt.Printf("FIRMWARE_SWAPPED: %#08x\n", markers.FirmwareSwapped)
	fmt.Printf("SHOULD_ROLLBACK:  %#08x\n", markers.ShouldRollback)
	fmt.Printf("IS_AFTER_ROLLBACK:%#08x\n", markers.IsAfterRollback)
	fmt.Printf("APP size:         %s\n", humanize.Bytes(uint64(m.App.Length)))
	fmt.Printf("APP sha256:       %x\n", appHash[:8])
	fmt.Printf("branch decision:  %s\n", state.Decide(markers))
	return nil
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				log.PrintError(log.Wrap(e))
			} else {
				fmt.Fprintln(os.Stderr, r)
			}
			os.Exit(1)
		}
	}()

	p := flags.NewParser(root, flags.Default)
	p.AddCommand("init-device", "Create a simulated flash image", "", &initDeviceCommand{})
	p.AddCommand("stage", "Stage a firmware image into DOWNLOAD", "", &stageCommand{})
	p.AddCommand("update", "Perform the update (simulated reboot)", "", &updateCommand{})
	p.AddCommand("status", "Print the current marker state", "", &statusCommand{})

	if _, err := p.Parse(); err != nil {
		os.Exit(1)
	}
}
