// Package digest implements the optional integrity plugin (C8): a pure
// function of bytes in, 32-byte digest out, the same streaming-hash shape
// the teacher's ota_server.go uses to verify a staged firmware image.
package digest

import "crypto/sha256"

// Sha256 is a start/update/finish digest, matching spec.md §4.7's plugin
// interface shape over stdlib crypto/sha256.
type Sha256 struct {
	h hashState
}

type hashState interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
	Reset()
}

// NewSha256 returns a freshly started digest.
func NewSha256() *Sha256 {
	return &Sha256{h: sha256.New()}
}

// Start resets the digest so the instance can be reused across images.
func (d *Sha256) Start() {
	d.h.Reset()
}

// Update feeds bytes into the running digest.
func (d *Sha256) Update(p []byte) {
	d.h.Write(p)
}

// Finish returns the 32-byte digest over every byte passed to Update since
// the last Start.
func (d *Sha256) Finish() [32]byte {
	var out [32]byte
	copy(out[:], d.h.Sum(nil))
	return out
}
