// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"fmt"

	"cunicu.li/go-iso7816/encoding/tlv"
)

// PinProtectedData holds PIN protected data. This is primarily used by
// card management tooling to implement PIN protected management keys,
// storing the management key on the card guarded by the PIN.
type PinProtectedData struct {
	tlv.TagValues
}

// ManagementKey returns the management key stored in the PIN protected
// data, or ErrNotFound if none is stored.
func (d PinProtectedData) ManagementKey() (ManagementKey, error) {
	tv, _, ok := d.Get(0x88)
	if !ok {
		return nil, ErrNotFound
	}

	// Nested encoding although tag 0x88 is not constructed. This might have
	// been a mistake in the original tooling, kept for compatibility.
	tvsInner, err := tlv.DecodeBER(tv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnmarshal, err)
	}

	key, _, ok := tvsInner.Get(0x89)
	if !ok {
		return nil, ErrNotFound
	}

	switch len(key) {
	case Alg3DES.KeySize(), AlgAES128.KeySize(), AlgAES256.KeySize():
	default:
		return nil, errInvalidManagementKeyLength
	}

	return ManagementKey(key), nil
}

// SetManagementKey stores a management key in the PIN protected data. Keys
// of any supported cipher size may be stored.
func (d *PinProtectedData) SetManagementKey(key ManagementKey) error {
	var tvOuter tlv.TagValue
	if tvs := d.PopAll(0x88); len(tvs) == 0 {
		tvOuter = tlv.New(0x88)
	} else if len(tvs) > 1 {
		return fmt.Errorf("%w: found more than one pin protected tag value", errUnmarshal)
	} else {
		tvOuter = tvs[0]
	}

	tvsInner, err := tlv.DecodeBER(tvOuter.Value)
	if err != nil {
		return err
	}

	// Replace any previous management key
	tvsInner.DeleteAll(0x89)
	tvsInner.Put(tlv.New(0x89, key[:]))

	if tvOuter.Value, err = tlv.EncodeBER(tvsInner...); err != nil {
		return err
	}

	d.Put(tvOuter)

	return nil
}

// PinProtectedData returns protected data stored on the card. This can be
// used to retrieve a PIN protected management key.
//
// Reading requires a verified PIN on the session.
func (c *Card) PinProtectedData() (*PinProtectedData, error) {
	data, err := c.GetData(ObjectPrinted)
	if err != nil {
		return nil, err
	}

	ppd, err := tlv.DecodeBER(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnmarshal, err)
	}

	return &PinProtectedData{ppd}, nil
}

// SetPinProtectedData stores PIN protected data on the card. This is
// primarily used to store the management key on the card itself instead of
// managing the PIN and management key separately.
//
// Writing requires an authenticated management key on the session.
func (c *Card) SetPinProtectedData(ppd *PinProtectedData) error {
	data, err := tlv.EncodeBER(ppd.TagValues...)
	if err != nil {
		return err
	}

	return c.PutData(ObjectPrinted, data)
}
