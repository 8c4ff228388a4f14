// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"strconv"
	"strings"
)

// Slot is a private key and certificate combination managed by the card.
type Slot struct {
	// Key is a reference for a key type.
	Key byte

	// Object is the data object holding the slot's certificate.
	Object Object
}

// Slot combinations pre-defined by this package.
//
// Object IDs are specified in NIST 800-73-4 section 4.3:
// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=30
//
// Key IDs are specified in NIST 800-73-4 section 5.1:
// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=32
//
//nolint:gochecknoglobals
var (
	SlotAuthentication     = Slot{keyAuthentication, ObjectCertAuthentication}
	SlotSignature          = Slot{keySignature, ObjectCertSignature}
	SlotCardAuthentication = Slot{keyCardAuthentication, ObjectCertCardAuthentication}
	SlotKeyManagement      = Slot{keyKeyManagement, ObjectCertKeyManagement}

	// SlotAttestation holds the key and certificate the card attests other
	// slots with. See Attest.
	SlotAttestation = Slot{keyAttestation, ObjectCertAttestation}
)

// slotGraveyard is the key reference keys are moved to in order to delete
// them. It can never be used and has no certificate object.
//
//nolint:gochecknoglobals
var slotGraveyard = Slot{Key: 0xff}

// SlotRetiredKeyManagement provides access to "retired" slots. Slots meant for old Key Management
// keys that have been rotated. Cards support values between 0x82 and 0x95 (inclusive).
//
//	slot, ok := SlotRetiredKeyManagement(0x82)
//	if !ok {
//	    // unrecognized slot
//	}
//	pub, err := c.GenerateKey(slot, key)
//
// https://developers.yubico.com/PIV/Introduction/Certificate_slots.html#_slot_82_95_retired_key_management
func SlotRetiredKeyManagement(key byte) (Slot, bool) {
	if key < 0x82 || key > 0x95 {
		return Slot{}, false
	}

	// Retired certificate objects run from 5F C1 0D to 5F C1 20.
	obj := Object{0x5F, 0xC1, 0x0D + (key - 0x82)}

	return Slot{
		Key:    key,
		Object: obj,
	}, true
}

func parseSlot(commonName string) (Slot, bool) {
	if !strings.HasPrefix(commonName, yubikeySubjectCNPrefix) {
		return Slot{}, false
	}

	slotName := strings.TrimPrefix(commonName, yubikeySubjectCNPrefix)
	key, err := strconv.ParseUint(slotName, 16, 32)
	if err != nil {
		return Slot{}, false
	}

	switch byte(key) {
	case SlotAuthentication.Key:
		return SlotAuthentication, true

	case SlotSignature.Key:
		return SlotSignature, true

	case SlotCardAuthentication.Key:
		return SlotCardAuthentication, true

	case SlotKeyManagement.Key:
		return SlotKeyManagement, true
	}

	return SlotRetiredKeyManagement(byte(key))
}

// String returns the two-character hex representation of the slot
func (s Slot) String() string {
	return strconv.FormatUint(uint64(s.Key), 16)
}
