// Package cipher implements the optional firmware-decryption plugin (C8):
// ECB-mode decrypt of one 16-byte block at a time, re-keyed on every
// initialize_download_slot call.
package cipher

import (
	"crypto/aes"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// BlockSize is the AES block size; the program-page unit P must be a
// multiple of it (spec.md §4.6).
const BlockSize = aes.BlockSize

// deriveKey turns an embedded passphrase into a 32-byte AES-256 key, the
// same pbkdf2.Key(..., sha256.New) shape the tast-tests corpus uses to
// derive an AES key/IV from a test passphrase, minus the IV half — ECB has
// no IV.
func deriveKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte("fotacore-aesecb-salt"), 4096, 32, sha256.New)
}

// AESECB decrypts P-byte blocks with AES in ECB mode. Go's crypto/cipher
// deliberately ships no ECB BlockMode (ECB leaks block-level plaintext
// patterns), so this type loops block.Decrypt itself — acceptable here only
// because each staged firmware block is independent ciphertext produced by
// a matching host-side tool, never a general-purpose confidentiality layer.
type AESECB struct {
	block cipherBlock
}

type cipherBlock interface {
	BlockSize() int
	Decrypt(dst, src []byte)
}

// NewAESECB derives a fresh key from passphrase and constructs a context.
// Called by initialize_download_slot to re-key on every staging session.
func NewAESECB(passphrase string) (*AESECB, error) {
	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		return nil, fmt.Errorf("cipher: new AES context: %w", err)
	}
	return &AESECB{block: block}, nil
}

// Decrypt decrypts src into dst, one BlockSize unit at a time. len(src)
// must be a positive multiple of BlockSize, and dst at least as long.
func (c *AESECB) Decrypt(dst, src []byte) error {
	if len(src) == 0 || len(src)%BlockSize != 0 {
		return fmt.Errorf("cipher: input length %d is not a positive multiple of block size %d", len(src), BlockSize)
	}
	if len(dst) < len(src) {
		return fmt.Errorf("cipher: destination shorter than source")
	}
	for off := 0; off < len(src); off += BlockSize {
		c.block.Decrypt(dst[off:off+BlockSize], src[off:off+BlockSize])
	}
	return nil
}
