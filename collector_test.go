// SPDX-FileCopyrightText: 2025 The smallcard Authors
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCollector hands out a fixed sequence of credentials and records
// the requests it saw.
type scriptedCollector struct {
	creds    []Credential
	err      error
	requests []CredentialRequest
	released bool
}

func (s *scriptedCollector) Collect(req CredentialRequest) (Credential, error) {
	s.requests = append(s.requests, req)

	if len(s.creds) == 0 {
		if s.err != nil {
			return Credential{}, s.err
		}
		return Credential{}, ErrCanceled
	}

	cred := s.creds[0]
	s.creds = s.creds[1:]
	return cred, nil
}

func (s *scriptedCollector) Release() {
	s.released = true
}

func TestCollectorCancelAborts(t *testing.T) {
	col := &scriptedCollector{}
	c := &Card{Collector: col}

	err := c.ensureManagementKey()
	require.ErrorIs(t, err, ErrCanceled)
	require.Len(t, col.requests, 1)
	assert.Equal(t, CredentialManagementKey, col.requests[0].Kind)
	assert.False(t, col.requests[0].IsRetry)

	err = c.ChangePIN()
	require.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, CredentialChangePIN, col.requests[1].Kind)

	err = c.ChangePUK()
	require.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, CredentialChangePUK, col.requests[2].Kind)

	err = c.ResetPINWithPUK()
	require.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, CredentialResetPIN, col.requests[3].Kind)

	err = c.ChangeManagementKey(Alg3DES, false)
	require.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, CredentialChangeManagementKey, col.requests[4].Kind)
}

func TestCollectorReleaseOnClose(t *testing.T) {
	col := &scriptedCollector{}
	c := &Card{Collector: col}

	require.NoError(t, c.Close())
	assert.True(t, col.released)
}

func TestCredentialKindString(t *testing.T) {
	assert.Equal(t, "verify PIN", CredentialPIN.String())
	assert.Equal(t, "authenticate management key", CredentialManagementKey.String())
	assert.Equal(t, "unknown(42)", CredentialKind(42).String())
}

func TestCollectorIntegration(t *testing.T) {
	withCard(t, true, true, nil, func(t *testing.T, c *Card) {
		col := &scriptedCollector{creds: []Credential{
			{ManagementKey: make(ManagementKey, 24)}, // wrong key, prompts a retry
			{ManagementKey: DefaultManagementKey},
		}}
		c.Collector = col

		// GenerateKey requires the management key and must pull it through
		// the collector, retrying after the wrong key.
		_, err := c.GenerateKey(SlotAuthentication, Key{
			Algorithm:   AlgECCP256,
			PINPolicy:   PINPolicyNever,
			TouchPolicy: TouchPolicyNever,
		})
		require.NoError(t, err, "Failed to generate key via collector")

		require.Len(t, col.requests, 2)
		assert.False(t, col.requests[0].IsRetry)
		assert.True(t, col.requests[1].IsRetry)
		assert.True(t, c.ManagementKeyAuthenticated())
	})
}
