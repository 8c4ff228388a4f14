// SPDX-FileCopyrightText: 2023-2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package piv

// Appendix A––PIV Data Model
//
// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=37
const (
	// Table 9. Card Holder Unique Identifier
	tagFASCN                     = 0x30
	tagGUID                      = 0x34
	tagExpirationDate            = 0x35
	tagIssuerAsymmetricSignature = 0x3e

	// Table 10. X.509 Certificate for PIV Authentication
	// Table 15. X.509 Certificate for Digital Signature
	// Table 16. X.509 Certificate for Key Management
	// Table 17. X.509 Certificate for Card Authentication
	// Tables 20-39. Retired X.509 Certificate for Key Management
	tagCertificate = 0x70
	tagCertInfo    = 0x71

	// Common
	tagPINPolicy          = 0xaa
	tagTouchPolicy        = 0xab
	tagErrorDetectionCode = 0xfe
)
