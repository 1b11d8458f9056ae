package flash

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MMapDevice is a Device backed by a flat file, memory-mapped the same way
// CircleCashTeam-magiskboot_go's bootimg.go maps a boot image for direct
// byte-level access: the mapping stands in for the CPU's XIP view of the
// chip, and writes to it stand in for program/erase cycles.
type MMapDevice struct {
	f          *os.File
	m          mmap.MMap
	sectorSize uint32
	pageSize   uint32
	inCritical bool
}

// OpenMMapDevice opens (creating if needed) a file of exactly size bytes and
// memory-maps it read/write. A freshly created file is filled with the
// erased pattern (0xFF), matching virgin NOR flash. Passing size < 0 opens
// an existing file at its current size without resizing it — the path a
// caller takes when reattaching to a flash image a prior command already
// created.
func OpenMMapDevice(path string, size int, sectorSize, pageSize uint32) (*MMapDevice, error) {
	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if size < 0 {
			return nil, fmt.Errorf("flash: %s does not exist; run init-device first", path)
		}
		fresh = true
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("flash: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if size >= 0 && info.Size() != int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("flash: truncate %s: %w", path, err)
		}
		fresh = true
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flash: mmap %s: %w", path, err)
	}

	d := &MMapDevice{f: f, m: m, sectorSize: sectorSize, pageSize: pageSize}
	if fresh {
		for i := range d.m {
			d.m[i] = 0xFF
		}
		if err := d.m.Flush(); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *MMapDevice) ReadAt(p []byte, off uint32) (int, error) {
	if int(off)+len(p) > len(d.m) {
		return 0, fmt.Errorf("flash: read [%d,%d) out of range (device is %d bytes)", off, int(off)+len(p), len(d.m))
	}
	return copy(p, d.m[off:int(off)+len(p)]), nil
}

func (d *MMapDevice) Erase(off, length uint32) error {
	if off%d.sectorSize != 0 || length%d.sectorSize != 0 {
		return fmt.Errorf("flash: erase [%d,+%d) not sector aligned (sector=%d)", off, length, d.sectorSize)
	}
	if int(off)+int(length) > len(d.m) {
		return fmt.Errorf("flash: erase [%d,%d) out of range", off, int(off)+int(length))
	}
	for i := off; i < off+length; i++ {
		d.m[i] = 0xFF
	}
	return d.m.Flush()
}

// Program ANDs data into flash, the way a real NOR cell can only be pulled
// low (1->0) by a program operation; an erase is the only way to set bits
// back to 1.
func (d *MMapDevice) Program(off uint32, data []byte) error {
	if int(off)+len(data) > len(d.m) {
		return fmt.Errorf("flash: program [%d,%d) out of range", off, int(off)+len(data))
	}
	for i, b := range data {
		d.m[int(off)+i] &= b
	}
	return d.m.Flush()
}

// rawErase clears n bytes starting at off without requiring sector
// alignment, used only by BudgetedDevice to approximate a mid-erase power
// cut. Not part of the Device contract.
func (d *MMapDevice) rawErase(off, n uint32) {
	for i := off; i < off+n && int(i) < len(d.m); i++ {
		d.m[i] = 0xFF
	}
	d.m.Flush()
}

// rawProgram ANDs n bytes of data starting at off without requiring page
// alignment, used only by BudgetedDevice. Not part of the Device contract.
func (d *MMapDevice) rawProgram(off uint32, data []byte) {
	for i, b := range data {
		if int(off)+i >= len(d.m) {
			break
		}
		d.m[int(off)+i] &= b
	}
	d.m.Flush()
}

func (d *MMapDevice) Enter() {
	if d.inCritical {
		panic(ErrReentrantCriticalSection)
	}
	d.inCritical = true
}

func (d *MMapDevice) Exit() {
	d.inCritical = false
}

func (d *MMapDevice) SectorSize() uint32 { return d.sectorSize }
func (d *MMapDevice) PageSize() uint32   { return d.pageSize }

// Close unmaps and closes the backing file.
func (d *MMapDevice) Close() error {
	if err := d.m.Unmap(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}
