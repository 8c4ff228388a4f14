// SPDX-FileCopyrightText: 2023-2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"bytes"
	"testing"

	"cunicu.li/go-iso7816/encoding/tlv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinProtectedDataUnmarshal(t *testing.T) {
	key := bytes.Repeat([]byte{0xaa}, 24)

	data := append([]byte{0x88, 0x1a, 0x89, 0x18}, key...)

	tvs, err := tlv.DecodeBER(data)
	require.NoError(t, err, "Failed to decode")

	ppd := PinProtectedData{tvs}

	got, err := ppd.ManagementKey()
	require.NoError(t, err, "Failed to get management key")
	assert.Equal(t, ManagementKey(key), got)
}

func TestPinProtectedDataMarshal(t *testing.T) {
	key := bytes.Repeat([]byte{0xaa}, 24)

	ppd := &PinProtectedData{}
	err := ppd.SetManagementKey(key)
	require.NoError(t, err, "Failed to set management key")

	data, err := tlv.EncodeBER(ppd.TagValues...)
	require.NoError(t, err, "Failed to encode")

	want := append([]byte{0x88, 0x1a, 0x89, 0x18}, key...)
	assert.Equal(t, want, data)
}

func TestPinProtectedDataUpdate(t *testing.T) {
	ppd := &PinProtectedData{tlv.TagValues{
		tlv.New(0x81, []byte("some other field")),
	}}

	err := ppd.SetManagementKey(bytes.Repeat([]byte{0xaa}, 24))
	require.NoError(t, err, "Failed to set management key")

	newKey := ManagementKey(bytes.Repeat([]byte{0xbb}, 24))
	err = ppd.SetManagementKey(newKey)
	require.NoError(t, err, "Failed to update management key")

	got, err := ppd.ManagementKey()
	require.NoError(t, err, "Failed to get management key")
	assert.Equal(t, newKey, got, "Expected the updated key")

	// The unrelated field must survive the update.
	other, _, ok := ppd.Get(0x81)
	require.True(t, ok, "Unrelated field was dropped")
	assert.Equal(t, []byte("some other field"), other)
}

func TestPinProtectedDataKeyLength(t *testing.T) {
	ppd := &PinProtectedData{}
	err := ppd.SetManagementKey(bytes.Repeat([]byte{0xaa}, 10))
	require.NoError(t, err, "Storing is not validated")

	_, err = ppd.ManagementKey()
	assert.ErrorIs(t, err, errInvalidManagementKeyLength)
}

func TestPinProtectedDataCorrupt(t *testing.T) {
	// A key holder whose nested encoding was overwritten with unrelated
	// data must surface as a decode failure.
	ppd := PinProtectedData{tlv.TagValues{tlv.New(0x88, []byte{0x89})}}

	_, err := ppd.ManagementKey()
	assert.ErrorIs(t, err, errUnmarshal)
}

func TestPinProtectedDataMissingKey(t *testing.T) {
	ppd := &PinProtectedData{}

	_, err := ppd.ManagementKey()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPinProtectedData(t *testing.T) {
	withCard(t, true, false, nil, func(t *testing.T, c *Card) {
		testAuthenticate(t, c)

		err := c.VerifyPIN(DefaultPIN)
		require.NoError(t, err, "Failed to verify PIN")

		_, err = c.PinProtectedData()
		assert.ErrorIs(t, err, ErrNotFound, "A reset card should hold no protected data")

		key := ManagementKey(bytes.Repeat([]byte{0xcc}, 24))

		ppd := &PinProtectedData{}
		err = ppd.SetManagementKey(key)
		require.NoError(t, err, "Failed to set management key")

		err = c.SetPinProtectedData(ppd)
		require.NoError(t, err, "Failed to store protected data")

		ppd, err = c.PinProtectedData()
		require.NoError(t, err, "Failed to read back protected data")

		got, err := ppd.ManagementKey()
		require.NoError(t, err, "Failed to get management key")
		assert.Equal(t, key, got)
	})
}
