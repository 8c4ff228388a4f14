// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package piv implements the PIV card application protocol: PIN, PUK and
// management-key handling, slot-based key and certificate management, and
// PIV data objects, as specified by NIST SP 800-73-4 plus the common
// vendor extensions (attestation, metadata, key move/delete).
package piv

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	iso "cunicu.li/go-iso7816"
	"cunicu.li/go-iso7816/devices/yubikey"
	"cunicu.li/go-iso7816/encoding/tlv"
)

var (
	errChallengeFailed  = errors.New("challenge failed")
	errExpectedError    = errors.New("expected error")
	errInvalidPinLength = errors.New("invalid pin length")
)

const (
	// DefaultPIN for the PIV applet. The PIN gates signing and decryption
	// operations depending on the slot's PIN policy, and reading the
	// PIN-protected data objects.
	DefaultPIN = "123456"

	// DefaultPUK for the PIV applet. The PUK is only used to reset the PIN when
	// the card's PIN retries have been exhausted.
	DefaultPUK = "12345678"
)

// DefaultManagementKey for the PIV applet. The management key gates slot
// actions such as generating keys, setting certificates, and writing data
// objects. The factory default is a Triple-DES key.
//
//nolint:gochecknoglobals
var DefaultManagementKey = ManagementKey{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
}

const (
	// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-78-4.pdf#page=17
	tagAlg = 0x80

	// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-78-4.pdf#page=16
	keyAuthentication     = 0x9a
	keyCardManagement     = 0x9b
	keySignature          = 0x9c
	keyKeyManagement      = 0x9d
	keyCardAuthentication = 0x9e
	keyAttestation        = 0xf9

	insGenerateAsymmetric = 0x47
	insGetData            = 0xcb
	insPutData            = 0xdb

	// Vendor PIV extensions
	//
	// See:
	// - https://developers.yubico.com/PIV/Introduction/Yubico_extensions.html
	insSetManagementKey = 0xff
	insImportKey        = 0xfe
	insGetVersion       = 0xfd
	insReset            = 0xfb
	insSetPINRetries    = 0xfa
	insAttest           = 0xf9
	insGetSerial        = 0xf8
	insGetMetadata      = 0xf7
	insMoveKey          = 0xf6
)

// Card is an exclusive open connection to the PIV application on a smart
// card. While open, no other process can query the given card.
//
// A Card owns the session-local credential state: whether the PIN has been
// verified and whether (and how) the management key has been authenticated
// on this session. The state starts unauthenticated, is advanced by
// VerifyPIN and AuthenticateManagementKey (or on demand through the
// Collector), and is cleared again by Reset.
//
// A Card must not be shared between goroutines: the protocol is a strict
// half-duplex request/response sequence on a single transaction.
//
// To release the connection, call the Close method.
type Card struct {
	*iso.Card

	Rand io.Reader

	// Collector, if set, is consulted whenever an operation requires a
	// credential that has not been supplied on this session yet.
	Collector CredentialCollector

	// Logger, if set, traces command and response APDUs at debug level.
	Logger *slog.Logger

	version *iso.Version
	tx      *iso.Transaction

	session sessionState
}

// NewCard opens a PIV session on the given smart card. It selects the PIV
// application and determines the firmware version. The session starts with
// no credentials verified.
func NewCard(card *iso.Card) (pivCard *Card, err error) {
	pivCard = &Card{
		Card: card,
		Rand: rand.Reader,
	}

	if pivCard.tx, err = card.NewTransaction(); err != nil {
		return nil, fmt.Errorf("failed to begin smart card transaction: %w", err)
	}

	if _, err := pivCard.tx.Select(iso.AidPIV); err != nil {
		pivCard.tx.Close()
		return nil, fmt.Errorf("failed to select PIV applet: %w", err)
	}

	if pivCard.version, err = pivCard.getVersion(); err != nil {
		pivCard.Close()
		return nil, fmt.Errorf("failed to get firmware version: %w", err)
	}

	return pivCard, nil
}

// Close releases the connection to the smart card.
func (c *Card) Close() error {
	if c.Collector != nil {
		c.Collector.Release()
	}

	if c.tx != nil {
		if err := c.tx.Close(); err != nil {
			return err
		}
	}

	return nil
}

// Version returns the version as reported by the PIV applet.
func (c *Card) Version() iso.Version {
	return *c.version
}

// Serial returns the card's serial number.
func (c *Card) Serial() (uint32, error) {
	if c.version.Major < 5 {
		// Earlier firmware exposes the serial number on the vendor applet
		// only. Newer ones have it built into the PIV applet.
		if _, err := c.Select(iso.AidYubicoOTP); err != nil {
			return 0, fmt.Errorf("failed to select vendor applet: %w", err)
		}

		defer c.Select(iso.AidPIV) //nolint:errcheck

		return (&yubikey.Card{Card: c.Card}).SerialNumber()
	}

	resp, err := c.send(insGetSerial, 0, 0, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to execute command: %w", err)
	}

	if n := len(resp); n != 4 {
		return 0, fmt.Errorf("%w for serial number: got=%dB, want=4B", errUnexpectedLength, n)
	}

	return binary.BigEndian.Uint32(resp), nil
}

// Reset resets the PIV applet to its factory settings, wiping all slots
// and resetting the PIN, PUK, and management key to their default values.
// This does NOT affect data on other applets the card may carry.
//
// All session credential state is cleared: callers must verify the PIN and
// authenticate the management key again after a reset.
func (c *Card) Reset() error {
	// Reset only works if both the PIN and PUK are blocked. Before resetting,
	// try a wrong PIN and PUK repeatedly to block them.

	maxPIN := big.NewInt(100_000_000)
	pinInt, err := rand.Int(c.Rand, maxPIN)
	if err != nil {
		return fmt.Errorf("failed to generate random PIN: %w", err)
	}

	pukInt, err := rand.Int(c.Rand, maxPIN)
	if err != nil {
		return fmt.Errorf("failed to generate random PUK: %w", err)
	}

	pin := pinInt.String()
	puk := pukInt.String()

	for {
		err = login(c.tx, pin)
		if err == nil {
			// TODO: do we care about a 1/100million chance?
			return fmt.Errorf("%w with random PIN", errExpectedError)
		}

		if errors.Is(err, ErrBlocked) {
			break
		}

		var e AuthError
		if !errors.As(err, &e) {
			return fmt.Errorf("failed to block PIN: %w", err)
		}

		if e.Retries == 0 {
			break
		}
	}

	for {
		err := c.SetPUK(puk, puk)
		if err == nil {
			// TODO: do we care about a 1/100million chance?
			return fmt.Errorf("%w with random PUK", errExpectedError)
		}

		if errors.Is(err, ErrBlocked) {
			break
		}

		var e AuthError
		if !errors.As(err, &e) {
			return fmt.Errorf("blocking PUK: %w", err)
		}

		if e.Retries == 0 {
			break
		}
	}

	if _, err = c.send(insReset, 0, 0, nil); err != nil {
		return fmt.Errorf("failed to execute command: %w", err)
	}

	c.session = sessionState{}

	return nil
}

func (c *Card) getVersion() (*iso.Version, error) {
	resp, err := c.send(insGetVersion, 0, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to execute command: %w", err)
	}

	if n := len(resp); n != 3 {
		return nil, fmt.Errorf("%w for version: got=%dB, want=3B", errUnexpectedLength, n)
	}

	return &iso.Version{
		Major: int(resp[0]),
		Minor: int(resp[1]),
		Patch: int(resp[2]),
	}, nil
}

func (c *Card) send(ins iso.Instruction, p1, p2 byte, data []byte) ([]byte, error) {
	if c.Logger != nil {
		c.Logger.Debug("command APDU",
			"ins", fmt.Sprintf("%02x", byte(ins)),
			"p1", fmt.Sprintf("%02x", p1),
			"p2", fmt.Sprintf("%02x", p2),
			"data", hex.EncodeToString(data))
	}

	resp, err := send(c.tx, ins, p1, p2, data)

	if c.Logger != nil {
		if err != nil {
			c.Logger.Debug("response APDU", "err", err)
		} else {
			c.Logger.Debug("response APDU", "data", hex.EncodeToString(resp))
		}
	}

	return resp, err
}

func (c *Card) sendTLV(ins iso.Instruction, p1, p2 byte, vs ...tlv.TagValue) (tlv.TagValues, error) {
	data, err := tlv.EncodeBER(vs...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}

	resp, err := c.send(ins, p1, p2, data)
	if err != nil {
		return nil, err
	}

	tvs, err := tlv.DecodeBER(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return tvs, nil
}

// supportsVersion reports whether v is at least the given firmware version.
func supportsVersion(v iso.Version, major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}

	if v.Minor != minor {
		return v.Minor > minor
	}

	return v.Patch >= patch
}

func send(tx *iso.Transaction, ins iso.Instruction, p1, p2 byte, data []byte) ([]byte, error) {
	resp, err := tx.Send(&iso.CAPDU{
		Ins:  ins,
		P1:   p1,
		P2:   p2,
		Data: data,
	})
	if err != nil {
		return nil, wrapCode(err)
	}

	return resp, nil
}

func sendTLV(tx *iso.Transaction, ins iso.Instruction, p1, p2 byte, vs ...tlv.TagValue) (tlv.TagValues, error) {
	data, err := tlv.EncodeBER(vs...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}

	resp, err := send(tx, ins, p1, p2, data)
	if err != nil {
		return nil, err
	}

	tvs, err := tlv.DecodeBER(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return tvs, nil
}
