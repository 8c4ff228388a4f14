// SPDX-FileCopyrightText: 2025 The smallcard Authors
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"errors"
	"fmt"
)

// AuthResult is the outcome of the most recent management key
// authentication attempt on a session.
type AuthResult int

const (
	// AuthResultUnauthenticated means no authentication has been attempted
	// on this session, or the state was cleared by a reset.
	AuthResultUnauthenticated AuthResult = iota

	// AuthResultSingleAuthenticated means the host proved knowledge of the
	// management key in a single (external) authentication. The card did not
	// prove anything to the host.
	AuthResultSingleAuthenticated

	// AuthResultSingleFailed means a single authentication attempt was
	// rejected by the card.
	AuthResultSingleFailed

	// AuthResultMutualFullyAuthenticated means both host and card proved
	// knowledge of the management key.
	AuthResultMutualFullyAuthenticated

	// AuthResultMutualHostAuthenticated means the card accepted the host's
	// witness and challenge response but omitted its own proof from the
	// final response, so the card's side could not be validated.
	AuthResultMutualHostAuthenticated

	// AuthResultMutualCardFailed means the card returned a proof that failed
	// validation against the supplied key. No access is granted even though
	// the host's side of the exchange succeeded.
	AuthResultMutualCardFailed
)

// Authenticated reports whether the result grants access to management-key
// protected operations.
func (r AuthResult) Authenticated() bool {
	switch r {
	case AuthResultSingleAuthenticated,
		AuthResultMutualFullyAuthenticated,
		AuthResultMutualHostAuthenticated:
		return true
	default:
		return false
	}
}

func (r AuthResult) String() string {
	switch r {
	case AuthResultUnauthenticated:
		return "unauthenticated"
	case AuthResultSingleAuthenticated:
		return "single authenticated"
	case AuthResultSingleFailed:
		return "single authentication failed"
	case AuthResultMutualFullyAuthenticated:
		return "mutually authenticated"
	case AuthResultMutualHostAuthenticated:
		return "host authenticated, card unverified"
	case AuthResultMutualCardFailed:
		return "card authentication failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// sessionState is the mutable credential state of one session. It is owned
// exclusively by the Card and consulted before every privileged dispatch.
// Credentials themselves are never retained, only the facts that they were
// presented.
type sessionState struct {
	pinVerified bool
	authResult  AuthResult

	// mgmtKeyAlgorithm is the algorithm of the card's current management
	// key, as far as this session knows. Zero until an authentication or
	// key change has pinned it down.
	mgmtKeyAlgorithm ManagementKeyAlgorithm
}

// PINVerified reports whether the PIN has been verified on this session.
func (c *Card) PINVerified() bool {
	return c.session.pinVerified
}

// AuthResult returns the outcome of the most recent management key
// authentication on this session.
func (c *Card) AuthResult() AuthResult {
	return c.session.authResult
}

// ManagementKeyAuthenticated reports whether the management key has been
// authenticated on this session with a result that grants access.
func (c *Card) ManagementKeyAuthenticated() bool {
	return c.session.authResult.Authenticated()
}

// ManagementKeyAlgorithm returns the algorithm of the card's management
// key as tracked by this session. The value is only meaningful after an
// authentication or key change.
func (c *Card) ManagementKeyAlgorithm() ManagementKeyAlgorithm {
	return c.session.mgmtKeyAlgorithm
}

// ensureManagementKey guarantees the management key is authenticated before
// a privileged operation is dispatched. If it is not and a Collector is
// installed, the collector is asked for the key (retrying on wrong keys
// until it cancels). Without a collector the operation fails with
// ErrAuthenticationRequired and no APDU is sent.
func (c *Card) ensureManagementKey() error {
	if c.session.authResult.Authenticated() {
		return nil
	}

	if c.Collector == nil {
		return ErrAuthenticationRequired
	}

	isRetry := false
	for {
		cred, err := c.Collector.Collect(CredentialRequest{
			Kind:    CredentialManagementKey,
			IsRetry: isRetry,
		})
		if err != nil {
			return err
		}

		if _, err = c.AuthenticateManagementKey(cred.ManagementKey, true); err == nil {
			return nil
		} else if !isAuthFailure(err) {
			return err
		}

		isRetry = true
	}
}

// ensurePIN guarantees the PIN is verified before an operation that needs
// it. See ensureManagementKey for the collector contract.
func (c *Card) ensurePIN() error {
	if c.session.pinVerified {
		return nil
	}

	if c.Collector == nil {
		return ErrAuthenticationRequired
	}

	isRetry := false
	for {
		retries := -1
		if isRetry {
			var err error
			if retries, err = c.Retries(); err != nil {
				return err
			}
		}

		cred, err := c.Collector.Collect(CredentialRequest{
			Kind:             CredentialPIN,
			IsRetry:          isRetry,
			RetriesRemaining: retries,
		})
		if err != nil {
			return err
		}

		if err = c.VerifyPIN(cred.PIN); err == nil {
			return nil
		} else if !isAuthFailure(err) {
			return err
		}

		isRetry = true
	}
}

// isAuthFailure reports whether err is a wrong-credential failure that may
// be retried with a different secret. Blocked credentials and transport
// errors are terminal. Wrong management keys surface either as a rejected
// exchange (security status not satisfied) or as a failed challenge
// validation.
func isAuthFailure(err error) bool {
	if errors.Is(err, ErrAuthenticationRequired) || errors.Is(err, errChallengeFailed) {
		return true
	}

	var aErr AuthError
	return errors.As(err, &aErr) && aErr.Retries != 0
}
