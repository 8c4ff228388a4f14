// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"errors"
	"fmt"

	iso "cunicu.li/go-iso7816"
)

// Protocol status outcomes. These are results callers are expected to
// branch on with errors.Is, not exceptional conditions.
var (
	// ErrNotFound is returned when the requested object or key on the smart
	// card is not present. It is the "no data" success variant of GET DATA
	// and metadata queries, distinct from transport or protocol failures.
	ErrNotFound = errors.New("data object or application not found")

	// ErrAuthenticationRequired is returned when an operation needs a
	// credential (PIN or management key) that has not been supplied on this
	// session. It corresponds to status word 69 82, "security status not
	// satisfied", and is also produced client-side when an access policy is
	// known to be unsatisfied before any APDU is sent.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrBlocked is returned when the PIN or PUK has exhausted its retries
	// and the credential is blocked. Further attempts return ErrBlocked, not
	// a retry count.
	ErrBlocked = errors.New("authentication method blocked")

	// ErrStorageFull is returned when an object or certificate exceeds the
	// per-slot or total storage capacity of the card.
	ErrStorageFull = errors.New("not enough storage space on card")

	// ErrReadOnlyObject is returned by PutData for objects the card never
	// accepts writes to, regardless of authentication. It is detected before
	// any APDU is sent.
	ErrReadOnlyObject = errors.New("data object is read-only")

	// ErrCanceled is returned when a credential collector declines to supply
	// the requested secret. The failing operation sends no further APDUs.
	ErrCanceled = errors.New("credential collection canceled")
)

func wrapCode(err error) error {
	c, ok := err.(iso.Code) //nolint:errorlint
	if !ok {
		return err
	}

	switch {
	case c == iso.ErrFileOrAppNotFound:
		return ErrNotFound

	case c == iso.ErrSecurityStatusNotSatisfied:
		return ErrAuthenticationRequired

	case c == iso.ErrAuthenticationMethodBlocked:
		return ErrBlocked

	case c == iso.ErrUnspecifiedWarningModified:
		return AuthError{0}

	case c[0] == 0x63 && c[1]&0xf0 == 0xc0:
		return AuthError{int(c[1] & 0xf)}

	case c[0] == 0x63 && c[1]>>4 == 0x0:
		// Older cards sometimes return sw1=0x63 and sw2=0x0N to indicate the
		// number of retries. This isn't spec compliant, but support it anyway.
		return AuthError{int(c[1] & 0xf)}

	case c[0] == 0x6a && c[1] == 0x84:
		// Not enough memory space in the file.
		return ErrStorageFull

	case c[0] == 0x6a && c[1] == 0x88:
		// Referenced data not found. Some firmware answers GET DATA on an
		// absent object with this instead of 6a82.
		return ErrNotFound

	default:
		return err
	}
}

// AuthError is an error indicating that a verification attempt with a wrong
// PIN, PUK or management key failed.
type AuthError struct {
	// Retries is the number of retries remaining if this error resulted from
	// a retry-able authentication attempt. If the authentication method does
	// not support retries, this will be 0. A value of 0 after a failed PIN or
	// PUK attempt means the credential is now blocked.
	Retries int
}

func (v AuthError) Error() string {
	r := "retries"
	if v.Retries == 1 {
		r = "retry"
	}
	return fmt.Sprintf("verification failed (%d %s remaining)", v.Retries, r)
}
