package config_test

import (
	"testing"

	"openenterprise/fotacore/config"
)

func TestMap_ValidatesEmbeddedDefaults(t *testing.T) {
	m, err := config.Map()
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if m.App.Length != m.Download.Length {
		t.Fatalf("APP length %d != DOWNLOAD length %d", m.App.Length, m.Download.Length)
	}
	if m.SectorSize != config.DefaultSectorSize {
		t.Fatalf("SectorSize = %d, want default %d", m.SectorSize, config.DefaultSectorSize)
	}
}

func TestCipherPassphrase_EmptyByDefault(t *testing.T) {
	if got := config.CipherPassphrase(); got != "" {
		t.Fatalf("CipherPassphrase() = %q, want empty (plugin disabled by default)", got)
	}
}
