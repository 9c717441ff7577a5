// Package checksum provides the streaming payload digest for OTA
// transfers. Bytes are appended as chunks are accepted and the digest is
// finalized exactly once at transfer completion.
package checksum

import (
	"crypto/sha256"
	"errors"
	"hash"

	"golang.org/x/crypto/blake2s"
)

// DigestSize is the digest length in bytes (256 bits).
const DigestSize = 32

// Accumulator errors.
var (
	ErrAlreadyFinalized = errors.New("checksum: accumulator already finalized")
	ErrUnknownAlgorithm = errors.New("checksum: unknown digest algorithm")
)

// Algorithm selects the digest function.
type Algorithm int

const (
	// AlgorithmSHA256 is the default digest algorithm.
	AlgorithmSHA256 Algorithm = iota

	// AlgorithmBLAKE2s256 is a cheaper alternative for constrained
	// devices.
	AlgorithmBLAKE2s256
)

// String returns a human-readable name for the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmSHA256:
		return "SHA-256"
	case AlgorithmBLAKE2s256:
		return "BLAKE2s-256"
	default:
		return "Unknown"
	}
}

// Accumulator computes a 256-bit digest over payload bytes as they
// arrive. Update may be called any number of times; the digest equals
// hashing the full ordered concatenation of all updates.
//
// An Accumulator is single-use: Finalize consumes it and further calls
// return ErrAlreadyFinalized.
type Accumulator struct {
	h         hash.Hash
	finalized bool
}

// New creates an accumulator using the default SHA-256 algorithm.
func New() *Accumulator {
	return &Accumulator{h: sha256.New()}
}

// NewWithAlgorithm creates an accumulator using the given algorithm.
func NewWithAlgorithm(alg Algorithm) (*Accumulator, error) {
	switch alg {
	case AlgorithmSHA256:
		return New(), nil
	case AlgorithmBLAKE2s256:
		h, err := blake2s.New256(nil)
		if err != nil {
			return nil, err
		}
		return &Accumulator{h: h}, nil
	default:
		return nil, ErrUnknownAlgorithm
	}
}

// Update appends bytes to the digest.
func (a *Accumulator) Update(p []byte) error {
	if a.finalized {
		return ErrAlreadyFinalized
	}
	a.h.Write(p)
	return nil
}

// Finalize consumes the accumulator and returns the digest.
// Calling Finalize a second time is an error.
func (a *Accumulator) Finalize() ([DigestSize]byte, error) {
	var digest [DigestSize]byte
	if a.finalized {
		return digest, ErrAlreadyFinalized
	}
	a.finalized = true
	copy(digest[:], a.h.Sum(nil))
	return digest, nil
}

// Sum256 computes the digest of a full buffer with the given algorithm.
// Convenience for callers that hold the whole payload in memory.
func Sum256(alg Algorithm, p []byte) ([DigestSize]byte, error) {
	a, err := NewWithAlgorithm(alg)
	if err != nil {
		return [DigestSize]byte{}, err
	}
	a.Update(p)
	return a.Finalize()
}
