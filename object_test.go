// SPDX-FileCopyrightText: 2023 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectPolicies(t *testing.T) {
	tests := []struct {
		obj   Object
		read  AccessPolicy
		write AccessPolicy
	}{
		{ObjectDiscovery, AccessAlways, AccessNever},
		{ObjectBITGT, AccessAlways, AccessNever},
		{ObjectCHUID, AccessAlways, AccessManagementKey},
		{ObjectCapability, AccessAlways, AccessManagementKey},
		{ObjectSecurity, AccessAlways, AccessManagementKey},
		{ObjectKeyHistory, AccessAlways, AccessManagementKey},
		{ObjectPrinted, AccessPIN, AccessManagementKey},
		{ObjectFingerprints, AccessPIN, AccessManagementKey},
		{ObjectFacialImage, AccessPIN, AccessManagementKey},
		{ObjectIris, AccessPIN, AccessManagementKey},
		{ObjectPCRefData, AccessPIN, AccessManagementKey},
		{ObjectAdmin, AccessAlways, AccessManagementKey},
	}

	for _, test := range tests {
		t.Run(test.obj.String(), func(t *testing.T) {
			p := test.obj.policy()
			assert.Equal(t, test.read, p.read)
			assert.Equal(t, test.write, p.write)
		})
	}
}

func TestObjectPolicyUnknownFallback(t *testing.T) {
	p := Object{0x5f, 0xc1, 0x7f}.policy()
	assert.Equal(t, AccessAlways, p.read)
	assert.Equal(t, AccessManagementKey, p.write)
}

func TestPutDataReadOnlyObjects(t *testing.T) {
	// Structurally read-only objects must be refused before any APDU is
	// sent, so a disconnected Card suffices.
	c := &Card{}

	err := c.PutData(ObjectDiscovery, []byte{0x01})
	require.ErrorIs(t, err, ErrReadOnlyObject)

	err = c.PutData(ObjectBITGT, []byte{0x01})
	require.ErrorIs(t, err, ErrReadOnlyObject)
}

func TestDataAccessGatedClientSide(t *testing.T) {
	c := &Card{}

	// PIN-protected read without credentials: rejected before any APDU.
	_, err := c.GetData(ObjectPrinted)
	require.ErrorIs(t, err, ErrAuthenticationRequired)

	// Management-key write without credentials: rejected before any APDU.
	err = c.PutData(ObjectCHUID, []byte{0x01})
	require.ErrorIs(t, err, ErrAuthenticationRequired)
}

func TestDataObjects(t *testing.T) {
	withCard(t, true, true, nil, func(t *testing.T, c *Card) {
		_, err := c.GetData(ObjectAdmin)
		assert.ErrorIs(t, err, ErrNotFound, "A reset card should hold no admin data")

		result, err := c.AuthenticateManagementKey(DefaultManagementKey, true)
		require.NoError(t, err, "Failed to authenticate management key")
		require.True(t, result.Authenticated())

		want := []byte{0x01, 0x02, 0x03} // arbitrary opaque content
		err = c.PutData(ObjectAdmin, want)
		require.NoError(t, err, "Failed to put data")

		got, err := c.GetData(ObjectAdmin)
		require.NoError(t, err, "Failed to get data")
		assert.Equal(t, want, got)

		// Writing empty content empties the object without deleting it.
		err = c.PutData(ObjectAdmin, nil)
		require.NoError(t, err, "Failed to empty object")

		got, err = c.GetData(ObjectAdmin)
		require.NoError(t, err, "Failed to get emptied object")
		assert.Empty(t, got)
		assert.NotNil(t, got, "An existing but empty object yields an empty, non-nil slice")
	})
}

func TestSetCHUID(t *testing.T) {
	withCard(t, true, true, nil, func(t *testing.T, c *Card) {
		_, err := c.CHUID()
		assert.ErrorIs(t, err, ErrNotFound, "A reset card should hold no CHUID")

		result, err := c.AuthenticateManagementKey(DefaultManagementKey, true)
		require.NoError(t, err, "Failed to authenticate management key")
		require.True(t, result.Authenticated())

		err = c.SetCHUID()
		require.NoError(t, err, "Failed to set CHUID")

		guid, err := c.CHUID()
		require.NoError(t, err, "Failed to read back CHUID")
		assert.NotZero(t, guid, "Expected a random GUID")
	})
}
