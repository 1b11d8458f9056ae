// Package config provides build-time configuration (C9): the flash
// partition layout and the optional cipher passphrase, loaded from
// go:embed-ed text files exactly the way the teacher's config package
// embeds broker.text/clientid.text with string-trimming accessors.
package config

import (
	_ "embed"
	"strconv"
	"strings"

	"openenterprise/fotacore/partition"
)

// Defaults for operational configuration, used unless the corresponding
// .text file below is overridden with a non-empty value.
const (
	DefaultSectorSize      = 4096
	DefaultPageSize        = 256
	DefaultXIPBase  uint32 = 0x10000000
)

// Partition layout, must be provided via embedded text files (addresses as
// hex or decimal literals, whitespace-trimmed).
var (
	//go:embed info_offset.text
	infoOffsetText string

	//go:embed app_offset.text
	appOffsetText string

	//go:embed download_offset.text
	downloadOffsetText string

	//go:embed swap_len.text
	swapLenText string

	//go:embed xip_base.text
	xipBaseText string
)

// Optional overrides for defaults (empty file = use default).
var (
	//go:embed sector_size.text
	sectorSizeOverride string

	//go:embed page_size.text
	pageSizeOverride string

	//go:embed cipher_passphrase.text
	cipherPassphraseText string
)

func parseUint32(text string, fallback uint32) (uint32, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fallback, false
	}
	v, err := strconv.ParseUint(trimmed, 0, 32)
	if err != nil {
		return fallback, false
	}
	return uint32(v), true
}

// SectorSize returns the flash erase-sector size, DefaultSectorSize unless
// overridden via sector_size.text.
func SectorSize() uint32 {
	v, _ := parseUint32(sectorSizeOverride, DefaultSectorSize)
	return v
}

// PageSize returns the flash program-page size, DefaultPageSize unless
// overridden via page_size.text.
func PageSize() uint32 {
	v, _ := parseUint32(pageSizeOverride, DefaultPageSize)
	return v
}

// XIPBase returns the CPU-visible base address flash is mapped at.
func XIPBase() uint32 {
	v, _ := parseUint32(xipBaseText, DefaultXIPBase)
	return v
}

// CipherPassphrase returns the embedded AES-ECB passphrase. An empty
// string disables the cipher plugin, mirroring how the teacher treats an
// empty override file as "use the default" — here, "use no plugin".
func CipherPassphrase() string {
	return strings.TrimSpace(cipherPassphraseText)
}

// Map builds and validates the partition.Map described by the embedded
// offset/length files.
func Map() (partition.Map, error) {
	sectorSize := SectorSize()
	pageSize := PageSize()
	xipBase := XIPBase()

	infoOffset, ok := parseUint32(infoOffsetText, 0)
	if !ok {
		return partition.Map{}, errMissing("info_offset.text")
	}
	appOffset, ok := parseUint32(appOffsetText, 0)
	if !ok {
		return partition.Map{}, errMissing("app_offset.text")
	}
	downloadOffset, ok := parseUint32(downloadOffsetText, 0)
	if !ok {
		return partition.Map{}, errMissing("download_offset.text")
	}
	swapLen, ok := parseUint32(swapLenText, 0)
	if !ok {
		return partition.Map{}, errMissing("swap_len.text")
	}

	m := partition.Map{
		Info: partition.Region{
			Start:    xipBase + infoOffset,
			XIPStart: xipBase + infoOffset,
			Offset:   infoOffset,
			Length:   sectorSize,
		},
		App: partition.Region{
			Start:    xipBase + appOffset,
			XIPStart: xipBase + appOffset,
			Offset:   appOffset,
			Length:   swapLen,
		},
		Download: partition.Region{
			Start:    xipBase + downloadOffset,
			XIPStart: xipBase + downloadOffset,
			Offset:   downloadOffset,
			Length:   swapLen,
		},
		SectorSize:     sectorSize,
		PageSize:       pageSize,
		AppVectorTable: xipBase + appOffset,
	}
	if err := m.Validate(); err != nil {
		return partition.Map{}, err
	}
	return m, nil
}

type missingConfigError string

func (e missingConfigError) Error() string {
	return "config: required partition file is empty or unparsable: " + string(e)
}

func errMissing(file string) error {
	return missingConfigError(file)
}
