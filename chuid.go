// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"fmt"

	"cunicu.li/go-iso7816/encoding/tlv"
	"github.com/google/uuid"
)

// fascnNone is the FASC-N encoding for a card without agency affiliation,
// fourteen 9-digits BCD encoded with parity and framing.
//
// https://www.idmanagement.gov/docs/pacs-tig-scepacs.pdf
//
//nolint:gochecknoglobals
var fascnNone = []byte{
	0xd4, 0xe7, 0x39, 0xda, 0x73, 0x9c, 0xed, 0x39,
	0xce, 0x73, 0x9d, 0x83, 0x68, 0x58, 0x21, 0x08,
	0x42, 0x10, 0x84, 0x21, 0xc8, 0x42, 0x10, 0xc3,
	0xeb,
}

// SetCHUID initializes the Cardholder Unique Identifier object with a
// random GUID and a placeholder FASC-N. Some tooling, most notably the
// Windows smart card stack, refuses to use a card without a CHUID.
//
// Writing the CHUID requires an authenticated management key on the
// session.
func (c *Card) SetCHUID() error {
	guid, err := uuid.NewRandomFromReader(c.Rand)
	if err != nil {
		return fmt.Errorf("failed to generate GUID: %w", err)
	}

	chuid, err := tlv.EncodeBER(
		tlv.New(tagFASCN, fascnNone),
		tlv.New(tagGUID, guid[:]),
		tlv.New(tagExpirationDate, []byte("20300101")),
		tlv.New(tagIssuerAsymmetricSignature),
		tlv.New(tagErrorDetectionCode),
	)
	if err != nil {
		return fmt.Errorf("failed to encode CHUID: %w", err)
	}

	return c.PutData(ObjectCHUID, chuid)
}

// CHUID returns the GUID stored in the Cardholder Unique Identifier object.
func (c *Card) CHUID() (uuid.UUID, error) {
	data, err := c.GetData(ObjectCHUID)
	if err != nil {
		return uuid.Nil, err
	}

	tvs, err := tlv.DecodeBER(data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to decode CHUID: %w", err)
	}

	guid, _, ok := tvs.Get(tagGUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: missing GUID", errUnmarshal)
	}

	return uuid.FromBytes(guid)
}
