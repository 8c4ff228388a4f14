// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"crypto"
	"fmt"

	"cunicu.li/go-iso7816/encoding/tlv"
)

// KeyInfo holds unprotected metadata about a key slot.
type KeyInfo struct {
	Algorithm   Algorithm
	PINPolicy   PINPolicy
	TouchPolicy TouchPolicy
	Origin      Origin
	PublicKey   crypto.PublicKey
}

func (ki *KeyInfo) unmarshal(tvs tlv.TagValues) error {
	var ok bool

	if alg, _, found := tvs.Get(0x01); found {
		if len(alg) != 1 {
			return fmt.Errorf("%w for algorithm", errUnexpectedLength)
		}

		if ki.Algorithm, ok = parseAlgorithm(alg[0]); !ok {
			return errUnsupportedAlgorithm
		}
	}

	if policy, _, found := tvs.Get(0x02); found {
		if len(policy) != 2 {
			return fmt.Errorf("%w for pin and touch policy", errUnexpectedLength)
		}

		if ki.PINPolicy, ok = pinPolicyMapInv[policy[0]]; !ok {
			return errUnsupportedPinPolicy
		}

		if ki.TouchPolicy, ok = touchPolicyMapInv[policy[1]]; !ok {
			return errUnsupportedTouchPolicy
		}
	}

	if origin, _, found := tvs.Get(0x03); found {
		if len(origin) != 1 {
			return fmt.Errorf("%w for origin", errUnexpectedLength)
		}

		if ki.Origin, ok = originMapInv[origin[0]]; !ok {
			return errUnsupportedOrigin
		}
	}

	if pub, _, found := tvs.Get(0x04); found {
		var err error
		if ki.PublicKey, err = decodePublic(pub, ki.Algorithm); err != nil {
			return fmt.Errorf("failed to parse public key: %w", err)
		}
	}

	return nil
}

func parseAlgorithm(b byte) (Algorithm, bool) {
	switch a := Algorithm(b); a {
	case AlgRSA1024, AlgRSA2048, AlgRSA3072, AlgRSA4096,
		AlgECCP256, AlgECCP384,
		AlgEd25519, AlgX25519:
		return a, true
	default:
		return 0, false
	}
}

// KeyInfo returns public information about the given key slot. It is only
// supported by firmware versions >= 5.3.0.
//
// If no key is present in the slot, the returned error wraps ErrNotFound.
//
// https://developers.yubico.com/PIV/Introduction/Yubico_extensions.html#_get_metadata
func (c *Card) KeyInfo(slot Slot) (KeyInfo, error) {
	resp, err := c.send(insGetMetadata, 0, slot.Key, nil)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("failed to execute command: %w", err)
	}

	tvs, err := tlv.DecodeBER(resp)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("failed to decode response: %w", err)
	}

	var ki KeyInfo
	if err := ki.unmarshal(tvs); err != nil {
		return KeyInfo{}, err
	}

	return ki, nil
}
