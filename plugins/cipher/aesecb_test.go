package cipher_test

import (
	stdaes "crypto/aes"
	"crypto/sha256"
	"testing"

	"golang.org/x/crypto/pbkdf2"

	"openenterprise/fotacore/plugins/cipher"
)

// deriveKeyForTest mirrors the package's unexported key derivation so the
// test can build an independent stdlib cipher for the encrypt half of the
// round trip without exporting key material from the package under test.
func deriveKeyForTest(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte("fotacore-aesecb-salt"), 4096, 32, sha256.New)
}

func TestAESECB_DecryptRoundTrips(t *testing.T) {
	const passphrase = "correct-horse-battery-staple"

	c, err := cipher.NewAESECB(passphrase)
	if err != nil {
		t.Fatalf("NewAESECB: %v", err)
	}

	block, err := stdaes.NewCipher(deriveKeyForTest(passphrase))
	if err != nil {
		t.Fatalf("stdaes.NewCipher: %v", err)
	}

	plain := []byte("0123456789ABCDEF" + "FEDCBA9876543210")
	cipherText := make([]byte, len(plain))
	for off := 0; off < len(plain); off += stdaes.BlockSize {
		block.Encrypt(cipherText[off:off+stdaes.BlockSize], plain[off:off+stdaes.BlockSize])
	}

	got := make([]byte, len(cipherText))
	if err := c.Decrypt(got, cipherText); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plain) {
		t.Fatalf("Decrypt() = %q, want %q", got, plain)
	}
}

func TestAESECB_DecryptRejectsShortInput(t *testing.T) {
	c, err := cipher.NewAESECB("pass")
	if err != nil {
		t.Fatalf("NewAESECB: %v", err)
	}
	if err := c.Decrypt(make([]byte, 16), make([]byte, 5)); err == nil {
		t.Fatal("expected error for non-block-multiple input")
	}
}
