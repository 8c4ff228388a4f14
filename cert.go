// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"crypto/x509"
	"fmt"

	"cunicu.li/go-iso7816/encoding/tlv"
)

// Certificate returns the certificate object stored in a given slot.
//
// If a certificate hasn't been set in the provided slot, the returned error
// wraps ErrNotFound.
func (c *Card) Certificate(slot Slot) (*x509.Certificate, error) {
	data, err := c.GetData(slot.Object)
	if err != nil {
		return nil, err
	}

	tvsCert, err := tlv.DecodeBER(data)
	if err != nil {
		return nil, errUnmarshal
	}

	// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=85
	certDER, _, ok := tvsCert.Get(tagCertificate)
	if !ok {
		return nil, fmt.Errorf("%w: missing certificate", errUnmarshal)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errParseCert, err)
	}

	return cert, nil
}

// SetCertificate stores a certificate object in the provided slot. Setting a
// certificate isn't required to use the associated key for signing or
// decryption.
//
// Requires an authenticated management key on the session. A certificate too
// large for the slot is refused by the card with ErrStorageFull.
func (c *Card) SetCertificate(slot Slot, cert *x509.Certificate) error {
	// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=40
	certData, err := tlv.EncodeBER(
		tlv.New(tagCertificate, cert.Raw),
		tlv.New(tagCertInfo, 0x00), // "for a certificate encoded in uncompressed form CertInfo shall be 0x00"
		tlv.New(tagErrorDetectionCode),
	)
	if err != nil {
		return err
	}

	return c.PutData(slot.Object, certData)
}
