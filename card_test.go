// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"errors"
	"flag"
	"strings"
	"testing"

	iso "cunicu.li/go-iso7816"
	"cunicu.li/go-iso7816/filter"
	"github.com/ebfe/scard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// canModifyCard indicates whether the test run has consented to destroying
// data on the cards connected to the system.
//
//nolint:gochecknoglobals
var canModifyCard = flag.Bool("reset-card", false,
	"Flag required to run tests that modify the connected smart card")

// scardHandle adapts an ebfe/scard handle to the transport interface
// expected by go-iso7816.
type scardHandle struct {
	*scard.Card
}

func (h *scardHandle) BeginTransaction() error {
	return h.Card.BeginTransaction()
}

func (h *scardHandle) EndTransaction() error {
	return h.Card.EndTransaction(scard.LeaveCard)
}

func (h *scardHandle) Close() error {
	return h.Card.Disconnect(scard.LeaveCard)
}

func (h *scardHandle) Base() iso.PCSCCard {
	return h
}

//nolint:gocognit
func withCard(t *testing.T, reset, long bool, flt filter.Filter, f func(t *testing.T, c *Card)) {
	if long && testing.Short() {
		t.Skip("skipping test in short mode")
	}

	ctx, err := scard.EstablishContext()
	require.NoError(t, err, "Failed to establish context")

	defer func() {
		assert.NoError(t, ctx.Release(), "Failed to release context")
	}()

	readers, err := ctx.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		err = nil
	}
	require.NoError(t, err, "Failed to list readers")

	reader := ""
	for _, r := range readers {
		if strings.Contains(strings.ToLower(r), "yubikey") {
			reader = r
			break
		}
	}
	if reader == "" {
		t.Skip("could not find a compatible smart card, skipping test")
	}

	if !*canModifyCard {
		t.Skip("not running test that accesses the card, provide --reset-card flag")
	}

	h, err := ctx.Connect(reader, scard.ShareExclusive, scard.ProtocolT1)
	require.NoError(t, err, "Failed to connect to %s", reader)

	isoCard := iso.NewCard(&scardHandle{h})

	if flt != nil {
		ok, err := flt(isoCard)
		require.NoError(t, err, "Failed to filter card")
		if !ok {
			t.Skip("card does not match the test's filter, skipping test")
		}
	}

	c, err := NewCard(isoCard)
	require.NoError(t, err, "Failed to open card")

	defer func() {
		assert.NoError(t, c.Close(), "Failed to close card")
	}()

	if reset {
		require.NoError(t, c.Reset(), "Failed to reset applet")
	}

	f(t, c)
}

//nolint:unparam
func testRequiresVersion(t *testing.T, c *Card, major, minor, patch int) {
	v := c.Version()
	if !supportsVersion(v, major, minor, patch) {
		t.Skipf("test requires firmware %d.%d.%d: got=%d.%d.%d",
			major, minor, patch, v.Major, v.Minor, v.Patch)
	}
}

func TestNewCard(t *testing.T) {
	withCard(t, false, false, nil, func(t *testing.T, c *Card) {
		v := c.Version()
		assert.NotZero(t, v.Major, "Expected a non-zero major version")
	})
}

func TestSerial(t *testing.T) {
	withCard(t, false, false, nil, func(t *testing.T, c *Card) {
		_, err := c.Serial()
		require.NoError(t, err, "Failed to get serial number")
	})
}

func TestReset(t *testing.T) {
	withCard(t, true, true, nil, func(t *testing.T, c *Card) {
		err := c.VerifyPIN(DefaultPIN)
		require.NoError(t, err, "Failed to login with default PIN after reset")

		assert.Equal(t, AuthResultUnauthenticated, c.AuthResult(),
			"Reset should clear the management key state")
	})
}

func TestSupportsVersion(t *testing.T) {
	v := iso.Version{Major: 5, Minor: 3, Patch: 0}

	assert.True(t, supportsVersion(v, 4, 3, 0))
	assert.True(t, supportsVersion(v, 5, 3, 0))
	assert.True(t, supportsVersion(v, 5, 2, 9))
	assert.False(t, supportsVersion(v, 5, 3, 1))
	assert.False(t, supportsVersion(v, 5, 7, 0))
	assert.False(t, supportsVersion(v, 6, 0, 0))
}
