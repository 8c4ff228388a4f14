// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"

	iso "cunicu.li/go-iso7816"
	"cunicu.li/go-iso7816/encoding/tlv"
)

// Prefix in the x509 Subject Common Name of slot attestation certificates
// https://developers.yubico.com/PIV/Introduction/PIV_attestation.html
const yubikeySubjectCNPrefix = "YubiKey PIV Attestation "

// Attestation returns additional information about a key attested to be generated
// on a card. See https://developers.yubico.com/PIV/Introduction/PIV_attestation.html
// for more information.
type Attestation struct {
	// Version of the card's firmware.
	Version iso.Version

	// Serial is the card's serial number.
	Serial uint32

	// Formfactor indicates the physical type of the card.
	//
	// Formfactor may be empty Formfactor(0) for some devices.
	Formfactor Formfactor

	// PINPolicy set on the slot.
	PINPolicy PINPolicy

	// TouchPolicy set on the slot.
	TouchPolicy TouchPolicy

	// Slot is the inferred slot the attested key resides in based on the
	// common name in the attestation. If the slot cannot be determined,
	// this field will be an empty struct.
	Slot Slot
}

func (a *Attestation) addExt(e pkix.Extension) error {
	switch {
	case e.Id.Equal(extIDFirmwareVersion):
		if len(e.Value) != 3 {
			return fmt.Errorf("%w for firmware version, got=%dB, want=3B", errUnexpectedLength, len(e.Value))
		}

		a.Version = iso.Version{
			Major: int(e.Value[0]),
			Minor: int(e.Value[1]),
			Patch: int(e.Value[2]),
		}

	case e.Id.Equal(extIDSerialNumber):
		var serial int64
		if _, err := asn1.Unmarshal(e.Value, &serial); err != nil {
			return fmt.Errorf("failed to parse serial number: %w", err)
		}

		if serial < 0 {
			return fmt.Errorf("%w: is negative %d", errInvalidSerialNumber, serial)
		}

		a.Serial = uint32(serial)

	case e.Id.Equal(extIDKeyPolicy):
		if len(e.Value) != 2 {
			return fmt.Errorf("%w for key policy: got=%dB, want=2B", errUnexpectedLength, len(e.Value))
		}

		var ok bool
		if a.PINPolicy, ok = pinPolicyMapInv[e.Value[0]]; !ok {
			return fmt.Errorf("%w: 0x%x", errUnsupportedPinPolicy, e.Value[0])
		}

		if a.TouchPolicy, ok = touchPolicyMapInv[e.Value[1]]; !ok {
			return fmt.Errorf("%w: 0x%x", errUnsupportedTouchPolicy, e.Value[1])
		}

	case e.Id.Equal(extIDFormFactor):
		if len(e.Value) != 1 {
			return fmt.Errorf("%w: expected 1 byte for form factor, got=%d", errUnexpectedLength, len(e.Value))
		}

		a.Formfactor = Formfactor(e.Value[0])
	}

	return nil
}

// Verifier verifies attestation chains produced by cards.
type Verifier struct {
	// Roots are the certificates to validate the chain against, usually the
	// vendor's attestation CA bundle.
	//
	// https://developers.yubico.com/PIV/Introduction/PIV_attestation.html
	// https://developers.yubico.com/PIV/Introduction/piv-attestation-ca.pem
	Roots *x509.CertPool
}

// errMissingRoots is returned by Verify when no root pool was configured.
var errMissingRoots = errors.New("no attestation root certificates provided")

// Verify proves that a key was generated on a card: the slot certificate
// must chain through the card's attestation certificate up to one of the
// configured roots. On success it returns the policies and device
// information parsed out of the slot certificate.
func (v *Verifier) Verify(attestationCert, slotCert *x509.Certificate) (*Attestation, error) {
	if v.Roots == nil {
		return nil, errMissingRoots
	}

	o := x509.VerifyOptions{
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		Roots:     v.Roots,
	}

	// The attestation cert of some older devices does not encode X509v3
	// Basic Constraints. This isn't valid per RFC 5280, section 4.2.1.9
	// and makes x509 chain validation fail. Work around it here.
	if !attestationCert.BasicConstraintsValid {
		attestationCert.BasicConstraintsValid = true
		attestationCert.IsCA = true
	}

	o.Intermediates = x509.NewCertPool()
	o.Intermediates.AddCert(attestationCert)

	if _, err := slotCert.Verify(o); err != nil {
		return nil, fmt.Errorf("failed to verify attestation certificate: %w", err)
	}

	return parseAttestation(slotCert)
}

func parseAttestation(slotCert *x509.Certificate) (*Attestation, error) {
	var a Attestation
	for _, ext := range slotCert.Extensions {
		if err := a.addExt(ext); err != nil {
			return nil, fmt.Errorf("failed to parse extension: %w", err)
		}
	}

	slot, ok := parseSlot(slotCert.Subject.CommonName)
	if ok {
		a.Slot = slot
	}

	return &a, nil
}

// AttestationCertificate returns the card's attestation certificate, which
// is unique to the device and signed by the vendor.
func (c *Card) AttestationCertificate() (*x509.Certificate, error) {
	return c.Certificate(SlotAttestation)
}

// Attest generates a certificate for a key, signed by the card's attestation
// certificate. This can be used to prove a key was generated on a specific
// device.
//
// This method is only supported by firmware versions >= 4.3.0.
// https://developers.yubico.com/PIV/Introduction/PIV_attestation.html
//
// Certificates returned by this method MUST NOT be used for anything other
// than attestation or determining the slot's public key. For example, the
// certificate is NOT suitable for TLS.
//
// Keys imported with ImportKey cannot be attested; like an empty slot, the
// returned error wraps ErrNotFound.
func (c *Card) Attest(slot Slot) (*x509.Certificate, error) {
	resp, err := c.send(insAttest, slot.Key, 0, nil)
	if err != nil {
		if code := (iso.Code{}); errors.As(err, &code) && code[0] == 0x6a && code[1] == 0x80 {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to execute command: %w", err)
	}

	// Some firmware wraps the certificate in a 0x70 tag, some returns the
	// raw DER.
	if len(resp) > 0 && resp[0] == 0x70 {
		tvs, err := tlv.DecodeBER(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal certificate: %w", err)
		}

		if certDER, _, ok := tvs.Get(tagCertificate); ok {
			resp = certDER
		}
	}

	cert, err := x509.ParseCertificate(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errParseCert, err)
	}

	return cert, nil
}
