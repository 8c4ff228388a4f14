// SPDX-FileCopyrightText: 2025 The smallcard Authors
// SPDX-License-Identifier: Apache-2.0

package piv

import "fmt"

// CredentialKind identifies which secret a CredentialRequest asks for.
type CredentialKind int

const (
	// CredentialPIN requests the PIN for verification.
	CredentialPIN CredentialKind = iota + 1

	// CredentialChangePIN requests the current and new PIN.
	CredentialChangePIN

	// CredentialChangePUK requests the current and new PUK.
	CredentialChangePUK

	// CredentialResetPIN requests the PUK and a new PIN to unblock with.
	CredentialResetPIN

	// CredentialManagementKey requests the management key for
	// authentication.
	CredentialManagementKey

	// CredentialChangeManagementKey requests the current and new management
	// key.
	CredentialChangeManagementKey
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialPIN:
		return "verify PIN"
	case CredentialChangePIN:
		return "change PIN"
	case CredentialChangePUK:
		return "change PUK"
	case CredentialResetPIN:
		return "reset PIN with PUK"
	case CredentialManagementKey:
		return "authenticate management key"
	case CredentialChangeManagementKey:
		return "change management key"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// CredentialRequest describes a secret the session needs to continue a
// privileged operation.
type CredentialRequest struct {
	Kind CredentialKind

	// IsRetry is true when a previously collected secret was rejected by
	// the card and the same kind is being requested again.
	IsRetry bool

	// RetriesRemaining is the number of attempts left before the credential
	// blocks, or -1 when unknown (management keys have no retry counter, and
	// the count is not queried for the first attempt).
	RetriesRemaining int
}

// Credential carries the secrets returned by a collector. Only the fields
// relevant to the request's Kind need to be set.
type Credential struct {
	PIN string
	PUK string

	NewPIN string
	NewPUK string

	ManagementKey    ManagementKey
	NewManagementKey ManagementKey
}

// CredentialCollector supplies secrets on demand during privileged
// operations. It is invoked synchronously from within the failing call.
//
// Returning ErrCanceled (or any other error) aborts the operation
// immediately; no further APDUs are sent for it. A canceled collection is
// reported distinctly from a wrong credential.
//
// Release is called once when the session closes, so interactive
// implementations can tear down prompts.
type CredentialCollector interface {
	Collect(req CredentialRequest) (Credential, error)
	Release()
}
