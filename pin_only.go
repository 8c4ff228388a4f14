// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"crypto/sha1" //nolint:gosec
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cunicu.li/go-iso7816/encoding/tlv"
	"golang.org/x/crypto/pbkdf2"
)

// PINOnlyMode describes how the card stores or derives its management key
// from the PIN, so that users only need to handle a single secret.
type PINOnlyMode int

// PIN-only modes supported by this package. Protected mode stores the
// management key in the PIN protected printed information object. Derived
// mode (legacy) derives the management key from the PIN and an on-card
// salt.
const (
	PINOnlyModeNone PINOnlyMode = 0

	PINOnlyModePinProtected PINOnlyMode = 1 << 0
	PINOnlyModePinDerived   PINOnlyMode = 1 << 1

	// PINOnlyModeUnavailable marks a mode the admin data declares but whose
	// key material could not be recovered from the card.
	PINOnlyModeUnavailable PINOnlyMode = 1 << 7
)

func (m PINOnlyMode) String() string {
	if m == PINOnlyModeNone {
		return "none"
	}

	var parts []string
	if m&PINOnlyModePinProtected != 0 {
		parts = append(parts, "pin-protected")
	}
	if m&PINOnlyModePinDerived != 0 {
		parts = append(parts, "pin-derived")
	}
	if m&PINOnlyModeUnavailable != 0 {
		parts = append(parts, "unavailable")
	}

	return strings.Join(parts, "+")
}

// errUnsupportedMode is returned when a PINOnlyMode value cannot be
// configured, such as one carrying the unavailable marker.
var errUnsupportedMode = errors.New("unsupported PIN-only mode")

const (
	adminFlagPUKBlocked   = 0x01
	adminFlagProtectedKey = 0x02

	// Iteration count used by the classic card management tooling.
	derivedKeyIterations = 10000

	derivedKeySaltSize = 16
)

// adminData mirrors the vendor admin data object used by card management
// tooling to record how the card was configured.
type adminData struct {
	PUKBlocked   bool
	ProtectedKey bool
	Salt         []byte
	Timestamp    time.Time
}

func (ad *adminData) unmarshal(b []byte) error {
	tvs, err := tlv.DecodeBER(b)
	if err != nil {
		return fmt.Errorf("%w: %w", errUnmarshal, err)
	}

	inner, _, ok := tvs.Get(0x80)
	if !ok {
		return fmt.Errorf("%w: missing admin data", errUnmarshal)
	}

	if tvs, err = tlv.DecodeBER(inner); err != nil {
		return fmt.Errorf("%w: %w", errUnmarshal, err)
	}

	if flags, _, ok := tvs.Get(0x81); ok && len(flags) == 1 {
		ad.PUKBlocked = flags[0]&adminFlagPUKBlocked != 0
		ad.ProtectedKey = flags[0]&adminFlagProtectedKey != 0
	}

	if salt, _, ok := tvs.Get(0x82); ok {
		ad.Salt = salt
	}

	if ts, _, ok := tvs.Get(0x83); ok {
		if len(ts) != 4 {
			return fmt.Errorf("%w for timestamp", errUnexpectedLength)
		}

		ad.Timestamp = time.Unix(int64(binary.LittleEndian.Uint32(ts)), 0)
	}

	return nil
}

func (ad *adminData) marshal() ([]byte, error) {
	var flags byte
	if ad.PUKBlocked {
		flags |= adminFlagPUKBlocked
	}
	if ad.ProtectedKey {
		flags |= adminFlagProtectedKey
	}

	tvs := tlv.TagValues{}
	if flags != 0 {
		tvs.Put(tlv.New(0x81, flags))
	}

	if len(ad.Salt) > 0 {
		tvs.Put(tlv.New(0x82, ad.Salt))
	}

	if !ad.Timestamp.IsZero() {
		ts := make([]byte, 4)
		binary.LittleEndian.PutUint32(ts, uint32(ad.Timestamp.Unix()))
		tvs.Put(tlv.New(0x83, ts))
	}

	inner, err := tlv.EncodeBER(tvs...)
	if err != nil {
		return nil, err
	}

	return tlv.EncodeBER(tlv.New(0x80, inner))
}

func (c *Card) adminData() (*adminData, error) {
	data, err := c.GetData(ObjectAdmin)
	if err != nil {
		return nil, err
	}

	var ad adminData
	if err := ad.unmarshal(data); err != nil {
		return nil, err
	}

	return &ad, nil
}

func (c *Card) setAdminData(ad *adminData) error {
	data, err := ad.marshal()
	if err != nil {
		return err
	}

	return c.PutData(ObjectAdmin, data)
}

// deriveManagementKey stretches the PIN into a management key of the
// algorithm's size with PBKDF2-HMAC-SHA1, matching the classic tooling.
func deriveManagementKey(pin string, salt []byte, alg ManagementKeyAlgorithm) ManagementKey {
	return pbkdf2.Key([]byte(pin), salt, derivedKeyIterations, alg.KeySize(), sha1.New)
}

// PINOnlyMode returns the PIN-only mode recorded in the card's admin data.
// A card that was never configured reports PINOnlyModeNone.
//
// The declared mode is not proof the key material is still intact; use
// TryRecoverPINOnlyMode to validate it.
func (c *Card) PINOnlyMode() (PINOnlyMode, error) {
	ad, err := c.adminData()
	if errors.Is(err, ErrNotFound) {
		return PINOnlyModeNone, nil
	} else if err != nil {
		return PINOnlyModeNone, err
	}

	mode := PINOnlyModeNone
	if ad.ProtectedKey {
		mode |= PINOnlyModePinProtected
	}
	if len(ad.Salt) > 0 {
		mode |= PINOnlyModePinDerived
	}

	return mode, nil
}

// TryRecoverPINOnlyMode recovers the management key from the card using the
// PIN and authenticates the session with it mutually. It returns the
// effective mode: if the admin data declares a mode but the key cannot be
// recovered or no longer authenticates, the returned mode carries
// PINOnlyModeUnavailable.
func (c *Card) TryRecoverPINOnlyMode(pin string) (PINOnlyMode, error) {
	mode, err := c.PINOnlyMode()
	if err != nil || mode == PINOnlyModeNone {
		return mode, err
	}

	key, err := c.recoverManagementKey(pin, mode)
	if err != nil {
		// A missing backing object and one overwritten by unrelated data are
		// the same loss from the caller's point of view.
		if errors.Is(err, ErrNotFound) || errors.Is(err, errUnmarshal) ||
			errors.Is(err, errInvalidManagementKeyLength) {
			return mode | PINOnlyModeUnavailable, nil
		}

		return mode, err
	}

	result, err := c.AuthenticateManagementKey(key, true)
	if err != nil || !result.Authenticated() {
		if isAuthFailure(err) {
			return mode | PINOnlyModeUnavailable, nil
		}

		return mode, err
	}

	return mode, nil
}

func (c *Card) recoverManagementKey(pin string, mode PINOnlyMode) (ManagementKey, error) {
	if mode&PINOnlyModePinProtected != 0 {
		if err := c.VerifyPIN(pin); err != nil {
			return nil, err
		}

		ppd, err := c.PinProtectedData()
		if err != nil {
			return nil, err
		}

		return ppd.ManagementKey()
	}

	if mode&PINOnlyModePinDerived != 0 {
		ad, err := c.adminData()
		if err != nil {
			return nil, err
		}

		alg, err := c.currentManagementKeyAlgorithm()
		if err != nil {
			return nil, err
		}

		return deriveManagementKey(pin, ad.Salt, alg), nil
	}

	return nil, ErrNotFound
}

// SetPINOnlyMode configures the card so the PIN is the only secret needed
// for privileged operations. The current management key is recovered from
// the card, the collector, or the default key; the new key is generated (or
// derived from the PIN), set on the card, and recorded per mode:
//
//   - PINOnlyModePinProtected stores the new key in the PIN protected
//     printed information object.
//   - PINOnlyModePinDerived (legacy, weaker) stores a salt in the admin
//     data and derives the key from the PIN. New configurations should
//     prefer protected mode.
//   - PINOnlyModeNone reverts to the default management key and clears the
//     recorded mode. Callers should set a fresh key afterwards.
//
// Both storage modes may be combined.
func (c *Card) SetPINOnlyMode(pin string, mode PINOnlyMode, alg ManagementKeyAlgorithm) error {
	if mode&PINOnlyModeUnavailable != 0 {
		return fmt.Errorf("%w: cannot set unavailable mode", errUnsupportedMode)
	}

	if err := c.VerifyPIN(pin); err != nil {
		return err
	}

	oldKey, err := c.currentManagementKey(pin)
	if err != nil {
		return err
	}

	ad := &adminData{Timestamp: time.Now()}
	if prev, err := c.adminData(); err == nil {
		ad.PUKBlocked = prev.PUKBlocked
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	var newKey ManagementKey
	switch {
	case mode == PINOnlyModeNone:
		newKey = DefaultManagementKey
		alg = Alg3DES

	case mode&PINOnlyModePinDerived != 0:
		ad.Salt = make([]byte, derivedKeySaltSize)
		if _, err := io.ReadFull(c.Rand, ad.Salt); err != nil {
			return fmt.Errorf("%w: %w", errFailedToGenerateKey, err)
		}

		newKey = deriveManagementKey(pin, ad.Salt, alg)

	default:
		newKey = make(ManagementKey, alg.KeySize())
		if _, err := io.ReadFull(c.Rand, newKey); err != nil {
			return fmt.Errorf("%w: %w", errFailedToGenerateKey, err)
		}
	}

	if err := c.SetManagementKey(oldKey, newKey, alg, false); err != nil {
		return err
	}

	// Store or clear the key in the PIN protected data.
	ppd, err := c.PinProtectedData()
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		ppd = &PinProtectedData{}
	}

	if mode&PINOnlyModePinProtected != 0 {
		ad.ProtectedKey = true

		if err := ppd.SetManagementKey(newKey); err != nil {
			return err
		}

		if err := c.SetPinProtectedData(ppd); err != nil {
			return err
		}
	} else if _, err := ppd.ManagementKey(); err == nil {
		ppd.DeleteAll(0x88)

		if err := c.SetPinProtectedData(ppd); err != nil {
			return err
		}
	}

	return c.setAdminData(ad)
}

// currentManagementKey determines the card's current management key: first
// from the card itself per its recorded PIN-only mode, then from the
// session's collector, finally falling back to the default key.
func (c *Card) currentManagementKey(pin string) (ManagementKey, error) {
	mode, err := c.PINOnlyMode()
	if err != nil {
		return nil, err
	}

	if mode != PINOnlyModeNone {
		if key, err := c.recoverManagementKey(pin, mode); err == nil {
			return key, nil
		} else if !errors.Is(err, ErrNotFound) && !isAuthFailure(err) {
			return nil, err
		}
	}

	if c.Collector != nil {
		cred, err := c.Collector.Collect(CredentialRequest{Kind: CredentialManagementKey})
		if err == nil && len(cred.ManagementKey) > 0 {
			return cred.ManagementKey, nil
		} else if err != nil && !errors.Is(err, ErrCanceled) {
			return nil, err
		}
	}

	return DefaultManagementKey, nil
}

// updatePINDerivedKey re-derives the management key after a PIN change when
// the card is in PIN-derived mode. A fresh salt is generated so equal PINs
// do not produce equal keys across changes.
func (c *Card) updatePINDerivedKey(oldPIN, newPIN string) error {
	ad, err := c.adminData()
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	if len(ad.Salt) == 0 {
		return nil
	}

	alg, err := c.currentManagementKeyAlgorithm()
	if err != nil {
		return err
	}

	oldKey := deriveManagementKey(oldPIN, ad.Salt, alg)

	salt := make([]byte, derivedKeySaltSize)
	if _, err := io.ReadFull(c.Rand, salt); err != nil {
		return fmt.Errorf("%w: %w", errFailedToGenerateKey, err)
	}

	newKey := deriveManagementKey(newPIN, salt, alg)

	if err := c.SetManagementKey(oldKey, newKey, alg, false); err != nil {
		return err
	}

	ad.Salt = salt
	ad.Timestamp = time.Now()

	return c.setAdminData(ad)
}
