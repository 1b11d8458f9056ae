// Package infosector implements the atomic-looking single-marker
// read/modify/write codec (C3) over the INFO sector.
package infosector

import (
	"encoding/binary"
	"fmt"

	log "github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"

	"openenterprise/fotacore/flash"
	"openenterprise/fotacore/partition"
)

// Byte offsets of the four markers within the INFO sector (spec.md §3).
const (
	OffsetDownloadValid   = 0
	OffsetFirmwareSwapped = 4
	OffsetShouldRollback  = 8
	OffsetIsAfterRollback = 12

	// MarkersSize is the footprint of the four markers; the rest of the
	// INFO sector, up to SectorSize, is reserved and must be preserved
	// byte-for-byte by every write (invariant M2).
	MarkersSize = 16
)

// Markers is the on-flash layout of the four persistent markers, packed and
// unpacked with restruct the same way dsoprea-go-exfat's structures.go
// turns raw sector bytes into a plain struct.
type Markers struct {
	DownloadValid   uint32
	FirmwareSwapped uint32
	ShouldRollback  uint32
	IsAfterRollback uint32
}

// Codec is the sole writer of the INFO sector; callers (state.Machine) never
// touch the device directly.
type Codec struct {
	dev  flash.Device
	info partition.Region
}

// New returns a Codec bound to the given device and INFO region.
func New(dev flash.Device, info partition.Region) *Codec {
	return &Codec{dev: dev, info: info}
}

// ReadMarkers reads the four markers directly from XIP — no critical
// section is needed, reads are always coherent because only WriteMarker
// (which does take the critical section) can change them.
func (c *Codec) ReadMarkers() (Markers, error) {
	buf := make([]byte, MarkersSize)
	if _, err := c.dev.ReadAt(buf, c.info.Offset); err != nil {
		return Markers{}, fmt.Errorf("infosector: read: %w", err)
	}
	var m Markers
	if err := decodeMarkers(buf, &m); err != nil {
		return Markers{}, err
	}
	// An erased marker word (all ones) decodes as its zero "unset" value, so
	// an erased INFO sector reads back as the all-zero canonical safe state.
	for _, f := range []*uint32{&m.DownloadValid, &m.FirmwareSwapped, &m.ShouldRollback, &m.IsAfterRollback} {
		if *f == 0xFFFFFFFF {
			*f = 0
		}
	}
	return m, nil
}

// WriteMarker implements the six-step algorithm of spec.md §4.2 exactly:
// copy the sector into scratch, overwrite one field, disable interrupts,
// erase, program from scratch in page-sized writes, restore interrupts.
//
// The failure window between Erase and the completion of Program leaves
// INFO fully erased, which ReadMarkers decodes as all-NO/NOSWAP/NOT-AFTER —
// the canonical safe state — without this method having to do anything
// special about it.
func (c *Codec) WriteMarker(offsetInInfo uint32, value uint32) error {
	if offsetInInfo+4 > MarkersSize {
		return fmt.Errorf("infosector: marker offset %d out of range", offsetInInfo)
	}

	sectorSize := c.dev.SectorSize()
	scratch := make([]byte, sectorSize)
	if _, err := c.dev.ReadAt(scratch, c.info.Offset); err != nil {
		return fmt.Errorf("infosector: snapshot: %w", err)
	}

	binary.LittleEndian.PutUint32(scratch[offsetInInfo:offsetInInfo+4], value)

	c.dev.Enter()
	defer c.dev.Exit()

	if err := c.dev.Erase(c.info.Offset, sectorSize); err != nil {
		return fmt.Errorf("infosector: erase: %w", err)
	}

	page := c.dev.PageSize()
	for off := uint32(0); off < sectorSize; off += page {
		end := off + page
		if end > sectorSize {
			end = sectorSize
		}
		if err := c.dev.Program(c.info.Offset+off, scratch[off:end]); err != nil {
			return fmt.Errorf("infosector: program at %d: %w", off, err)
		}
	}
	return nil
}

// decodeMarkers unpacks the marker struct from raw bytes. An error from
// restruct.Unpack is raised as a panic with log.PanicIf; since the buffer
// here was allocated by ReadMarkers itself and is always exactly
// MarkersSize long, any panic here is an internal bug, not a flash fault —
// it is recovered and reported the same way dsoprea-go-exfat's parseN
// helper wraps a restruct panic back into a normal error.
func decodeMarkers(buf []byte, m *Markers) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = log.Wrap(e)
			} else {
				err = log.Errorf("infosector: decode panic: %v", r)
			}
		}
	}()

	unpackErr := restruct.Unpack(buf, binary.LittleEndian, m)
	log.PanicIf(unpackErr)
	return nil
}
