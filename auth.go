// SPDX-FileCopyrightText: 2023-2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	iso "cunicu.li/go-iso7816"
	"cunicu.li/go-iso7816/encoding/tlv"
)

var (
	errFailedToGenerateKey        = errors.New("failed to generate random key")
	errInvalidManagementKeyLength = errors.New("invalid management key length")
)

// AuthenticateManagementKey authenticates the session against the card with
// the provided management key. The management key is required to generate
// new keys, import certificates, and write data objects.
//
// With mutual set, the card proves knowledge of the key as well: the card
// first presents an encrypted witness which the host decrypts and returns
// together with a fresh challenge; the card's answer to that challenge is
// validated locally. If that validation fails, the returned result is
// AuthResultMutualCardFailed and no access is granted even though the host
// side of the exchange succeeded.
//
// Without mutual, only the host proves knowledge of the key (a single
// one-shot challenge/response). The session is then authenticated with the
// weaker AuthResultSingleAuthenticated.
//
// Use DefaultManagementKey if the management key hasn't been set.
//
// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=92
func (c *Card) AuthenticateManagementKey(key ManagementKey, mutual bool) (AuthResult, error) {
	alg, err := c.currentManagementKeyAlgorithm()
	if err != nil {
		return AuthResultUnauthenticated, err
	}

	var result AuthResult
	if mutual {
		result, err = c.authenticateMutual(key, alg)
	} else {
		result, err = c.authenticateSingle(key, alg)
	}

	c.session.authResult = result
	if result.Authenticated() {
		c.session.mgmtKeyAlgorithm = alg
	}

	return result, err
}

// authenticate performs a mutual management key authentication and fails
// unless access was granted. It is the internal entry point for operations
// that change the key itself.
func (c *Card) authenticate(key ManagementKey) error {
	result, err := c.AuthenticateManagementKey(key, true)
	if err != nil {
		return err
	}

	if !result.Authenticated() {
		return fmt.Errorf("%w: %s", ErrAuthenticationRequired, result)
	}

	return nil
}

func (c *Card) authenticateMutual(key ManagementKey, alg ManagementKeyAlgorithm) (AuthResult, error) {
	block, err := alg.blockCipher(key)
	if err != nil {
		return AuthResultUnauthenticated, err
	}

	// Request a witness
	resp, err := c.sendTLV(iso.InsGeneralAuthenticate, byte(alg), keyCardManagement,
		tlv.New(0x7c,
			tlv.New(0x80),
		),
	)
	if err != nil {
		return AuthResultUnauthenticated, fmt.Errorf("failed to execute command: %w", err)
	}

	witness, _, ok := resp.GetChild(0x7c, 0x80)
	if !ok {
		return AuthResultUnauthenticated, errUnmarshal
	} else if len(witness) != block.BlockSize() {
		return AuthResultUnauthenticated, errUnexpectedLength
	}

	witnessPlain := make([]byte, block.BlockSize())
	block.Decrypt(witnessPlain, witness)

	challenge := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(c.Rand, challenge); err != nil {
		return AuthResultUnauthenticated, fmt.Errorf("failed to read random data: %w", err)
	}

	if resp, err = c.sendTLV(iso.InsGeneralAuthenticate, byte(alg), keyCardManagement,
		tlv.New(0x7c,
			tlv.New(0x80, witnessPlain),
			tlv.New(0x81, challenge),
		),
	); err != nil {
		return AuthResultUnauthenticated, fmt.Errorf("failed to execute command: %w", err)
	}

	cardProof, _, ok := resp.GetChild(0x7c, 0x82)
	if !ok {
		// The card accepted the witness and challenge but did not prove
		// itself. The host is authenticated, the card unverified.
		return AuthResultMutualHostAuthenticated, nil
	}

	if len(cardProof) != block.BlockSize() {
		return AuthResultMutualCardFailed, errUnexpectedLength
	}

	expected := make([]byte, block.BlockSize())
	block.Encrypt(expected, challenge)

	if subtle.ConstantTimeCompare(cardProof, expected) != 1 {
		return AuthResultMutualCardFailed, errChallengeFailed
	}

	return AuthResultMutualFullyAuthenticated, nil
}

func (c *Card) authenticateSingle(key ManagementKey, alg ManagementKeyAlgorithm) (AuthResult, error) {
	block, err := alg.blockCipher(key)
	if err != nil {
		return AuthResultUnauthenticated, err
	}

	// Request a challenge
	resp, err := c.sendTLV(iso.InsGeneralAuthenticate, byte(alg), keyCardManagement,
		tlv.New(0x7c,
			tlv.New(0x81),
		),
	)
	if err != nil {
		return AuthResultUnauthenticated, fmt.Errorf("failed to execute command: %w", err)
	}

	challenge, _, ok := resp.GetChild(0x7c, 0x81)
	if !ok {
		return AuthResultUnauthenticated, errUnmarshal
	} else if len(challenge) != block.BlockSize() {
		return AuthResultUnauthenticated, errUnexpectedLength
	}

	response := make([]byte, block.BlockSize())
	block.Encrypt(response, challenge)

	if _, err = c.sendTLV(iso.InsGeneralAuthenticate, byte(alg), keyCardManagement,
		tlv.New(0x7c,
			tlv.New(0x82, response),
		),
	); err != nil {
		return AuthResultSingleFailed, fmt.Errorf("failed to execute command: %w", err)
	}

	return AuthResultSingleAuthenticated, nil
}

// currentManagementKeyAlgorithm determines the algorithm of the card's
// management key. The session's tracked value wins; otherwise the key slot
// metadata is queried on firmware that supports it. Cards predating
// metadata always use Triple-DES.
func (c *Card) currentManagementKeyAlgorithm() (ManagementKeyAlgorithm, error) {
	if a := c.session.mgmtKeyAlgorithm; a != 0 {
		return a, nil
	}

	if !supportsVersion(*c.version, 5, 3, 0) {
		return Alg3DES, nil
	}

	resp, err := c.send(insGetMetadata, 0, keyCardManagement, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get management key metadata: %w", err)
	}

	tvs, err := tlv.DecodeBER(resp)
	if err != nil {
		return 0, fmt.Errorf("failed to decode metadata: %w", err)
	}

	algo, _, ok := tvs.Get(0x01)
	if !ok || len(algo) != 1 {
		return 0, fmt.Errorf("%w: missing algorithm in metadata", errUnmarshal)
	}

	switch a := ManagementKeyAlgorithm(algo[0]); a {
	case Alg3DES, AlgAES128, AlgAES192, AlgAES256:
		return a, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02x", errUnsupportedAlgorithm, algo[0])
	}
}

// SetManagementKey updates the management key to a new key of the given
// algorithm. The current key is always authenticated mutually first,
// regardless of how the session was authenticated before.
//
// To generate a new key, read the algorithm's key size from the
// crypto/rand package:
//
//	newKey := make(piv.ManagementKey, piv.AlgAES192.KeySize())
//	if _, err := io.ReadFull(rand.Reader, newKey); err != nil {
//		// ...
//	}
//	if err := c.SetManagementKey(piv.DefaultManagementKey, newKey, piv.AlgAES192, false); err != nil {
//		// ...
//	}
func (c *Card) SetManagementKey(oldKey, newKey ManagementKey, alg ManagementKeyAlgorithm, requireTouch bool) error {
	if len(newKey) != alg.KeySize() {
		return fmt.Errorf("%w: got=%dB, want=%dB for %s",
			errInvalidManagementKeyLength, len(newKey), alg.KeySize(), alg)
	}

	if err := c.authenticate(oldKey); err != nil {
		return fmt.Errorf("failed to authenticate with old key: %w", err)
	}

	p2 := byte(0xff)
	if requireTouch {
		p2 = 0xfe
	}

	if _, err := c.send(insSetManagementKey, 0xff, p2, append([]byte{
		byte(alg), keyCardManagement, byte(len(newKey)),
	}, newKey...)); err != nil {
		return fmt.Errorf("failed to execute command: %w", err)
	}

	c.session.mgmtKeyAlgorithm = alg

	return nil
}

// ChangeManagementKey changes the management key using secrets supplied by
// the session's Collector.
func (c *Card) ChangeManagementKey(alg ManagementKeyAlgorithm, requireTouch bool) error {
	if c.Collector == nil {
		return ErrAuthenticationRequired
	}

	isRetry := false
	for {
		cred, err := c.Collector.Collect(CredentialRequest{
			Kind:    CredentialChangeManagementKey,
			IsRetry: isRetry,
		})
		if err != nil {
			return err
		}

		if err = c.SetManagementKey(cred.ManagementKey, cred.NewManagementKey, alg, requireTouch); err == nil {
			return nil
		} else if !isAuthFailure(err) {
			return err
		}

		isRetry = true
	}
}

// SetPIN updates the PIN to a new value. For compatibility, PINs should be
// 1-8 numeric characters.
//
// If the card is in PIN-derived management key mode, the management key is
// re-derived from the new PIN with a fresh salt as part of the change.
//
// To generate a new PIN, use the crypto/rand package.
//
//	// Generate a 6 character PIN.
//	newPINInt, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
//	if err != nil {
//		// ...
//	}
//	// Format with leading zeros.
//	newPIN := fmt.Sprintf("%06d", newPINInt)
//	if err := c.SetPIN(piv.DefaultPIN, newPIN); err != nil {
//		// ...
//	}
func (c *Card) SetPIN(oldPIN, newPIN string) error {
	oldPINData, err := encodePIN(oldPIN)
	if err != nil {
		return fmt.Errorf("failed to encode old PIN: %w", err)
	}

	newPINData, err := encodePIN(newPIN)
	if err != nil {
		return fmt.Errorf("failed to encode new PIN: %w", err)
	}

	if _, err = c.send(iso.InsChangeReferenceData, 0, 0x80, append(oldPINData, newPINData...)); err != nil {
		return fmt.Errorf("failed to execute command: %w", err)
	}

	return c.updatePINDerivedKey(oldPIN, newPIN)
}

// ChangePIN changes the PIN using secrets supplied by the session's
// Collector.
func (c *Card) ChangePIN() error {
	if c.Collector == nil {
		return ErrAuthenticationRequired
	}

	isRetry := false
	for {
		cred, err := c.Collector.Collect(CredentialRequest{
			Kind:             CredentialChangePIN,
			IsRetry:          isRetry,
			RetriesRemaining: -1,
		})
		if err != nil {
			return err
		}

		if err = c.SetPIN(cred.PIN, cred.NewPIN); err == nil {
			return nil
		} else if !isAuthFailure(err) {
			return err
		}

		isRetry = true
	}
}

// Unblock unblocks the PIN with the PUK, setting the PIN to a new value.
func (c *Card) Unblock(puk, newPIN string) error {
	pukData, err := encodePIN(puk)
	if err != nil {
		return fmt.Errorf("failed to encode PUK: %w", err)
	}

	newPINData, err := encodePIN(newPIN)
	if err != nil {
		return fmt.Errorf("failed to encode new PIN: %w", err)
	}

	if _, err = c.send(iso.InsResetRetryCounter, 0, 0x80, append(pukData, newPINData...)); err != nil {
		return fmt.Errorf("failed to execute command: %w", err)
	}

	return nil
}

// ResetPINWithPUK unblocks the PIN using secrets supplied by the session's
// Collector.
func (c *Card) ResetPINWithPUK() error {
	if c.Collector == nil {
		return ErrAuthenticationRequired
	}

	isRetry := false
	for {
		cred, err := c.Collector.Collect(CredentialRequest{
			Kind:             CredentialResetPIN,
			IsRetry:          isRetry,
			RetriesRemaining: -1,
		})
		if err != nil {
			return err
		}

		if err = c.Unblock(cred.PUK, cred.NewPIN); err == nil {
			return nil
		} else if !isAuthFailure(err) {
			return err
		}

		isRetry = true
	}
}

// SetPUK updates the PUK to a new value. For compatibility, PUKs should be
// 1-8 numeric characters.
//
// To generate a new PUK, use the crypto/rand package.
//
//	// Generate a 8 character PUK.
//	newPUKInt, err := rand.Int(rand.Reader, big.NewInt(100_000_000))
//	if err != nil {
//		// ...
//	}
//	// Format with leading zeros.
//	newPUK := fmt.Sprintf("%08d", newPUKInt)
//	if err := c.SetPUK(piv.DefaultPUK, newPUK); err != nil {
//		// ...
//	}
func (c *Card) SetPUK(oldPUK, newPUK string) error {
	oldPUKData, err := encodePIN(oldPUK)
	if err != nil {
		return fmt.Errorf("failed to encode old PUK: %w", err)
	}

	newPUKData, err := encodePIN(newPUK)
	if err != nil {
		return fmt.Errorf("failed to encode new PUK: %w", err)
	}

	if _, err = c.send(iso.InsChangeReferenceData, 0, 0x81, append(oldPUKData, newPUKData...)); err != nil {
		return fmt.Errorf("failed to execute command: %w", err)
	}

	return nil
}

// ChangePUK changes the PUK using secrets supplied by the session's
// Collector.
func (c *Card) ChangePUK() error {
	if c.Collector == nil {
		return ErrAuthenticationRequired
	}

	isRetry := false
	for {
		cred, err := c.Collector.Collect(CredentialRequest{
			Kind:             CredentialChangePUK,
			IsRetry:          isRetry,
			RetriesRemaining: -1,
		})
		if err != nil {
			return err
		}

		if err = c.SetPUK(cred.PUK, cred.NewPUK); err == nil {
			return nil
		} else if !isAuthFailure(err) {
			return err
		}

		isRetry = true
	}
}

func encodePIN(pin string) ([]byte, error) {
	data := []byte(pin)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: cannot be empty", errInvalidPinLength)
	}

	if len(data) > 8 {
		return nil, fmt.Errorf("%w: longer than 8 bytes", errInvalidPinLength)
	}

	// Apply padding
	//
	// 2.4 Security Architecture
	// 2.4.3 Authentication of an Individual
	// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=88
	for i := len(data); i < 8; i++ {
		data = append(data, 0xff)
	}

	return data, nil
}

// VerifyPIN attempts to authenticate against the card with the provided
// PIN. On success the session is marked PIN-verified.
//
// After a specific number of authentication attempts with an invalid PIN,
// usually 3, the PIN will become blocked and refuse further attempts. At
// that point the PUK must be used to unblock the PIN.
//
// Use DefaultPIN if the PIN hasn't been set.
func (c *Card) VerifyPIN(pin string) error {
	if err := login(c.tx, pin); err != nil {
		c.session.pinVerified = false
		return err
	}

	c.session.pinVerified = true

	return nil
}

func login(tx *iso.Transaction, pin string) error {
	data, err := encodePIN(pin)
	if err != nil {
		return err
	}

	// 3.2.1 VERIFY Card Command
	//
	// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=86
	if _, err = send(tx, iso.InsVerify, 0, 0x80, data); err != nil {
		return fmt.Errorf("failed to execute command: %w", err)
	}

	return nil
}

func loginNeeded(tx *iso.Transaction) bool {
	_, err := send(tx, iso.InsVerify, 0, 0x80, nil)
	return err != nil
}

// Retries returns the number of attempts remaining to enter the correct
// PIN.
func (c *Card) Retries() (int, error) {
	_, err := send(c.tx, iso.InsVerify, 0, 0x80, nil)
	if err == nil {
		return 0, fmt.Errorf("%w from empty PIN", errExpectedError)
	}

	if errors.Is(err, ErrBlocked) {
		return 0, nil
	}

	var aErr AuthError
	if errors.As(err, &aErr) {
		return aErr.Retries, nil
	}

	return 0, fmt.Errorf("invalid response: %w", err)
}

// SetRetries sets the number of attempts for PIN and PUK.
//
// Both PIN and PUK will be reset to their default values when this is
// executed, so the current PIN must be supplied. The management key is
// recovered from the card in PIN-only modes, otherwise it must be
// authenticated up front or supplied through the Collector. If the card is
// in PIN-derived management key mode, the key is re-derived from the
// default PIN the command resets to.
func (c *Card) SetRetries(pin string, pinAttempts, pukAttempts int) error {
	if err := c.VerifyPIN(pin); err != nil {
		return err
	}

	if !c.ManagementKeyAuthenticated() {
		if _, err := c.TryRecoverPINOnlyMode(pin); err != nil {
			return err
		}
	}

	if err := c.ensureManagementKey(); err != nil {
		return err
	}

	if _, err := c.send(insSetPINRetries, byte(pinAttempts), byte(pukAttempts), nil); err != nil {
		return fmt.Errorf("failed to execute command: %w", err)
	}

	// The codes were reset to their defaults. The card's derived key still
	// stems from the old PIN and salt, so derive the replacement from the
	// default PIN the card now holds.
	c.session.pinVerified = false

	return c.updatePINDerivedKey(pin, DefaultPIN)
}
