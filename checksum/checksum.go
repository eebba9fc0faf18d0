// Package checksum provides the pluggable hash used by the export manifest
// and the chunked import protocol. Checksums are opaque comparable strings
// prefixed with the algorithm name, so the algorithm can be swapped without
// changing the protocol shape.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// Checksum is an algorithm-prefixed digest string, e.g. "sha256:ab12…".
type Checksum string

// String returns the checksum as a string.
func (c Checksum) String() string {
	return string(c)
}

// Algorithm returns the algorithm prefix, or "" for a malformed checksum.
func (c Checksum) Algorithm() string {
	algo, _, ok := strings.Cut(string(c), ":")
	if !ok {
		return ""
	}
	return algo
}

// Hasher computes checksums for one fixed algorithm.
type Hasher interface {
	// Sum computes the checksum of data.
	Sum(data []byte) Checksum

	// Name returns the algorithm name used as the checksum prefix.
	Name() string
}

// Supported algorithm names.
const (
	AlgoSHA256 = "sha256"
	AlgoBlake2 = "blake2b"

	// AlgoRolling is a cheap non-cryptographic placeholder. It is not
	// collision-resistant and exists for protocol-compatibility testing.
	AlgoRolling = "rolling"
)

// New returns a hasher for the named algorithm.
func New(algo string) (Hasher, error) {
	switch algo {
	case AlgoSHA256:
		return sha256Hasher{}, nil
	case AlgoBlake2:
		return blake2Hasher{}, nil
	case AlgoRolling:
		return rollingHasher{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported checksum algorithm %q", interfaces.ErrInvalidArgument, algo)
	}
}

type sha256Hasher struct{}

func (sha256Hasher) Sum(data []byte) Checksum {
	sum := sha256.Sum256(data)
	return Checksum(AlgoSHA256 + ":" + hex.EncodeToString(sum[:]))
}

func (sha256Hasher) Name() string { return AlgoSHA256 }

type blake2Hasher struct{}

func (blake2Hasher) Sum(data []byte) Checksum {
	sum := blake2b.Sum256(data)
	return Checksum(AlgoBlake2 + ":" + hex.EncodeToString(sum[:]))
}

func (blake2Hasher) Name() string { return AlgoBlake2 }

type rollingHasher struct{}

// Sum computes a 64-bit polynomial rolling hash.
func (rollingHasher) Sum(data []byte) Checksum {
	var h uint64 = 1469598103934665603
	for _, b := range data {
		h = h*31 + uint64(b)
	}
	return Checksum(fmt.Sprintf("%s:%016x", AlgoRolling, h))
}

func (rollingHasher) Name() string { return AlgoRolling }
