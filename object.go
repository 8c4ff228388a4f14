// SPDX-FileCopyrightText: 2023 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"encoding/hex"
	"fmt"

	"cunicu.li/go-iso7816/encoding/tlv"
)

// Object is the BER-TLV tag of a PIV data object.
//
// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=37
type Object []byte

//nolint:gochecknoglobals
var (
	ObjectDiscovery              = Object{0x7E}             // PIV AID plus PIN usage policy
	ObjectCertAuthentication     = Object{0x5F, 0xC1, 0x05} // Cert for key in slot 9A
	ObjectCertSignature          = Object{0x5F, 0xC1, 0x0A} // Cert for key in slot 9C
	ObjectCertKeyManagement      = Object{0x5F, 0xC1, 0x0B} // Cert for key in slot 9D
	ObjectCertCardAuthentication = Object{0x5F, 0xC1, 0x01} // Cert for key in slot 9E
	ObjectCHUID                  = Object{0x5F, 0xC1, 0x02} // Cardholder Unique Identifier
	ObjectCapability             = Object{0x5F, 0xC1, 0x07} // Card Capability Container (CCC)
	ObjectPrinted                = Object{0x5F, 0xC1, 0x09} // Information printed on the card
	ObjectSecurity               = Object{0x5F, 0xC1, 0x06} // Security object
	ObjectKeyHistory             = Object{0x5F, 0xC1, 0x0C} // Info about retired keys
	ObjectIris                   = Object{0x5F, 0xC1, 0x21} // Cardholder iris images
	ObjectFacialImage            = Object{0x5F, 0xC1, 0x08} // Cardholder facial image
	ObjectFingerprints           = Object{0x5F, 0xC1, 0x03} // Cardholder fingerprints
	ObjectBITGT                  = Object{0x7F, 0x61}       // Biometric Information Group Template
	ObjectSMSigner               = Object{0x5F, 0xC1, 0x22} // Secure Messaging Certificate Signer
	ObjectPCRefData              = Object{0x5F, 0xC1, 0x23} // Pairing Code Reference Data

	// Vendor specific
	ObjectAdmin           = Object{0x5F, 0xFF, 0x00} // Admin Data
	ObjectCertAttestation = Object{0x5F, 0xFF, 0x01} // Attestation Cert
	ObjectMSCMAP          = Object{0x5F, 0xFF, 0x10} // MSCMAP
	ObjectMSROOTS1        = Object{0x5F, 0xFF, 0x11} // MSROOTS
)

func (o Object) TagValue() tlv.TagValue {
	return tlv.New(0x5c, []byte(o))
}

func (o Object) String() string {
	if p, ok := objectPolicies[string(o)]; ok {
		return p.name
	}

	return fmt.Sprintf("object(%s)", hex.EncodeToString(o))
}

// AccessPolicy is the credential required to read or write a data object.
type AccessPolicy byte

const (
	// AccessAlways requires no credential.
	AccessAlways AccessPolicy = iota

	// AccessPIN requires a verified PIN on the session.
	AccessPIN

	// AccessManagementKey requires an authenticated management key on the
	// session.
	AccessManagementKey

	// AccessNever is refused regardless of credentials.
	AccessNever
)

// objectPolicy is the fixed access rule of one data object. Read access is
// gated before the APDU is sent when the policy is known to be unsatisfied;
// write access below AccessNever is satisfied on demand through the session.
//
// 3.5 Access Rules of PIV Data Objects
// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=88
type objectPolicy struct {
	name  string
	read  AccessPolicy
	write AccessPolicy
}

//nolint:gochecknoglobals
var objectPolicies = map[string]objectPolicy{
	string(ObjectDiscovery):              {"discovery object", AccessAlways, AccessNever},
	string(ObjectBITGT):                  {"biometric information group template", AccessAlways, AccessNever},
	string(ObjectCertAuthentication):     {"authentication certificate", AccessAlways, AccessManagementKey},
	string(ObjectCertSignature):          {"signature certificate", AccessAlways, AccessManagementKey},
	string(ObjectCertKeyManagement):      {"key management certificate", AccessAlways, AccessManagementKey},
	string(ObjectCertCardAuthentication): {"card authentication certificate", AccessAlways, AccessManagementKey},
	string(ObjectCHUID):                  {"cardholder unique identifier", AccessAlways, AccessManagementKey},
	string(ObjectCapability):             {"card capability container", AccessAlways, AccessManagementKey},
	string(ObjectSecurity):               {"security object", AccessAlways, AccessManagementKey},
	string(ObjectKeyHistory):             {"key history object", AccessAlways, AccessManagementKey},
	string(ObjectSMSigner):               {"secure messaging certificate signer", AccessAlways, AccessManagementKey},
	string(ObjectPrinted):                {"printed information", AccessPIN, AccessManagementKey},
	string(ObjectFingerprints):           {"cardholder fingerprints", AccessPIN, AccessManagementKey},
	string(ObjectFacialImage):            {"cardholder facial image", AccessPIN, AccessManagementKey},
	string(ObjectIris):                   {"cardholder iris images", AccessPIN, AccessManagementKey},
	string(ObjectPCRefData):              {"pairing code reference data", AccessPIN, AccessManagementKey},
	string(ObjectAdmin):                  {"admin data", AccessAlways, AccessManagementKey},
	string(ObjectCertAttestation):        {"attestation certificate", AccessAlways, AccessManagementKey},
	string(ObjectMSCMAP):                 {"mscmap", AccessAlways, AccessManagementKey},
	string(ObjectMSROOTS1):               {"msroots", AccessAlways, AccessManagementKey},
}

// policy returns the access rule of the object. Unknown (vendor or future)
// objects fall back to the most common rule: free reads, management key
// protected writes. The card remains the final authority either way.
func (o Object) policy() objectPolicy {
	if p, ok := objectPolicies[string(o)]; ok {
		return p
	}

	return objectPolicy{o.String(), AccessAlways, AccessManagementKey}
}

// GetData reads the content of a data object.
//
// Objects with a PIN read policy require a verified PIN on the session; the
// PIN is requested through the Collector when it has not been verified yet.
// An object that exists but holds no content yields an empty, non-nil slice.
// A missing object yields an error wrapping ErrNotFound.
//
// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=95
func (c *Card) GetData(obj Object) ([]byte, error) {
	if obj.policy().read == AccessPIN {
		if err := c.ensurePIN(); err != nil {
			return nil, err
		}
	}

	resp, err := c.sendTLV(insGetData, 0x3f, 0xff, obj.TagValue())
	if err != nil {
		return nil, fmt.Errorf("failed to execute command: %w", err)
	}

	data, _, ok := resp.Get(0x53)
	if !ok {
		return nil, errUnmarshal
	}

	if data == nil {
		data = []byte{}
	}

	return data, nil
}

// PutData writes the content of a data object, replacing what was stored
// before. Writing an empty slice empties the object without deleting it.
//
// Writes require an authenticated management key on the session. Objects
// that are read-only by construction (the discovery object and the biometric
// group template) are refused with ErrReadOnlyObject before any APDU is
// sent.
//
// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=97
func (c *Card) PutData(obj Object, data []byte) error {
	pol := obj.policy()
	if pol.write == AccessNever {
		return fmt.Errorf("%w: %s", ErrReadOnlyObject, pol.name)
	}

	if err := c.ensureManagementKey(); err != nil {
		return err
	}

	if _, err := c.sendTLV(insPutData, 0x3f, 0xff,
		obj.TagValue(),
		tlv.New(0x53, data),
	); err != nil {
		return fmt.Errorf("failed to execute command: %w", err)
	}

	return nil
}
