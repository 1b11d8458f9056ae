// Package partition models the fixed, link-time flash layout (C2): the
// symbolic regions a linker script would otherwise define, exposed here as
// plain Go values instead of raw pointer arithmetic over linker symbols.
package partition

import "fmt"

// Region is one flash region, carrying both a raw device offset (for
// Erase/Program) and an XIP address (for direct reads/CPU fetch), per the
// spec's distinction between "CPU-visible XIP addresses" and "device
// offsets".
type Region struct {
	Start    uint32 // XIP-mapped address
	XIPStart uint32 // == Start; kept distinct for readability at call sites
	Offset   uint32 // raw device offset used by flash.Device
	Length   uint32
}

// Sectors returns how many sectors of the given size this region spans.
func (r Region) Sectors(sectorSize uint32) uint32 {
	return r.Length / sectorSize
}

// Map is the full partition layout (P1/P2 invariants enforced by Validate).
type Map struct {
	Info     Region
	App      Region
	Download Region

	SectorSize uint32
	PageSize   uint32

	// AppVectorTable is the XIP address of APP's reset vector table
	// (invariant P2: must be a valid image once the device boots the
	// application path).
	AppVectorTable uint32
}

// SwapLen is |APP| == |DOWNLOAD| (invariant P1).
func (m Map) SwapLen() uint32 {
	return m.App.Length
}

// SectorsPerImage is the derived constant from spec.md §4.1.
func (m Map) SectorsPerImage() uint32 {
	return m.SwapLen() / m.SectorSize
}

// Validate enforces P1 (APP/DOWNLOAD equally sized, sector-aligned) and
// basic non-overlap/alignment sanity that a real linker script would
// otherwise guarantee.
func (m Map) Validate() error {
	if m.SectorSize == 0 || m.PageSize == 0 {
		return fmt.Errorf("partition: sector/page size must be nonzero")
	}
	if m.Info.Length != m.SectorSize {
		return fmt.Errorf("partition: INFO must be exactly one sector (%d bytes), got %d", m.SectorSize, m.Info.Length)
	}
	if m.App.Length != m.Download.Length {
		return fmt.Errorf("partition: APP (%d) and DOWNLOAD (%d) must be equal length (P1)", m.App.Length, m.Download.Length)
	}
	if m.App.Length%m.SectorSize != 0 {
		return fmt.Errorf("partition: SWAP_LEN (%d) must be a multiple of sector size (%d)", m.App.Length, m.SectorSize)
	}
	for name, r := range map[string]Region{"INFO": m.Info, "APP": m.App, "DOWNLOAD": m.Download} {
		if r.Offset%m.SectorSize != 0 {
			return fmt.Errorf("partition: %s offset %d is not sector aligned", name, r.Offset)
		}
	}
	named := []struct {
		name string
		r    Region
	}{{"INFO", m.Info}, {"APP", m.App}, {"DOWNLOAD", m.Download}}
	for i := 0; i < len(named); i++ {
		for j := i + 1; j < len(named); j++ {
			a, b := named[i], named[j]
			if a.r.Offset < b.r.Offset+b.r.Length && b.r.Offset < a.r.Offset+a.r.Length {
				return fmt.Errorf("partition: %s and %s overlap", a.name, b.name)
			}
		}
	}
	if m.AppVectorTable < m.App.Start || m.AppVectorTable >= m.App.Start+m.App.Length {
		return fmt.Errorf("partition: APP vector table address %#x outside APP region", m.AppVectorTable)
	}
	return nil
}
