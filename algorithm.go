// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des" //nolint:gosec
	"fmt"
)

// Algorithm represents a specific asymmetric algorithm and bit size
// supported by the PIV specification. The values are the algorithm
// identifiers used on the wire.
//
// Note that not all cards support every algorithm.
type Algorithm byte

// Algorithms supported by this package.
//
// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-78-4.pdf#page=17
const (
	AlgRSA1024 Algorithm = 0x06
	AlgRSA2048 Algorithm = 0x07
	AlgRSA3072 Algorithm = 0x05
	AlgRSA4096 Algorithm = 0x16

	AlgECCP256 Algorithm = 0x11
	AlgECCP384 Algorithm = 0x14

	AlgEd25519 Algorithm = 0xe0
	AlgX25519  Algorithm = 0xe1
)

func (a Algorithm) String() string {
	switch a {
	case AlgRSA1024:
		return "RSA-1024"
	case AlgRSA2048:
		return "RSA-2048"
	case AlgRSA3072:
		return "RSA-3072"
	case AlgRSA4096:
		return "RSA-4096"
	case AlgECCP256:
		return "ECC-P256"
	case AlgECCP384:
		return "ECC-P384"
	case AlgEd25519:
		return "Ed25519"
	case AlgX25519:
		return "X25519"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(a))
	}
}

// bits returns the modulus length or curve size of the algorithm.
func (a Algorithm) bits() int {
	switch a {
	case AlgRSA1024:
		return 1024
	case AlgRSA2048:
		return 2048
	case AlgRSA3072:
		return 3072
	case AlgRSA4096:
		return 4096
	case AlgECCP256:
		return 256
	case AlgECCP384:
		return 384
	case AlgEd25519, AlgX25519:
		return 256
	default:
		return 0
	}
}

// ManagementKeyAlgorithm identifies the symmetric cipher of the card
// management key. The values are the PIV wire identifiers.
type ManagementKeyAlgorithm byte

// Management key algorithms supported by this package. Triple-DES is the
// classic default; AES keys are supported by newer firmware (and AES-192 is
// the factory default on 5.7+).
const (
	Alg3DES   ManagementKeyAlgorithm = 0x03
	AlgAES128 ManagementKeyAlgorithm = 0x08
	AlgAES192 ManagementKeyAlgorithm = 0x0a
	AlgAES256 ManagementKeyAlgorithm = 0x0c
)

func (a ManagementKeyAlgorithm) String() string {
	switch a {
	case Alg3DES:
		return "3DES"
	case AlgAES128:
		return "AES-128"
	case AlgAES192:
		return "AES-192"
	case AlgAES256:
		return "AES-256"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(a))
	}
}

// KeySize returns the management key length in bytes.
func (a ManagementKeyAlgorithm) KeySize() int {
	switch a {
	case Alg3DES, AlgAES192:
		return 24
	case AlgAES128:
		return 16
	case AlgAES256:
		return 32
	default:
		return 0
	}
}

// blockCipher constructs the single-block cipher used for the
// challenge/response exchanges of GENERAL AUTHENTICATE. The challenge
// length equals the cipher's block size: 8 bytes for Triple-DES, 16 for
// AES.
func (a ManagementKeyAlgorithm) blockCipher(key ManagementKey) (cipher.Block, error) {
	if len(key) != a.KeySize() {
		return nil, fmt.Errorf("%w: got=%dB, want=%dB for %s",
			errInvalidManagementKeyLength, len(key), a.KeySize(), a)
	}

	switch a {
	case Alg3DES:
		return des.NewTripleDESCipher(key) //nolint:gosec
	case AlgAES128, AlgAES192, AlgAES256:
		return aes.NewCipher(key)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", errUnsupportedAlgorithm, byte(a))
	}
}

// ManagementKey is a symmetric card management key. Its length must match
// the key size of the algorithm it is used with (24 bytes for Triple-DES
// and AES-192, 16 for AES-128, 32 for AES-256).
type ManagementKey []byte
