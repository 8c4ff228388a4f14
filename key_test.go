// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package piv

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthenticate(t *testing.T, c *Card) {
	t.Helper()

	result, err := c.AuthenticateManagementKey(DefaultManagementKey, true)
	require.NoError(t, err, "Failed to authenticate management key")
	require.True(t, result.Authenticated())
}

func TestGenerateKeyECDSA(t *testing.T) {
	withCard(t, true, false, nil, func(t *testing.T, c *Card) {
		testAuthenticate(t, c)

		pub, err := c.GenerateKey(SlotAuthentication, Key{
			Algorithm:   AlgECCP256,
			PINPolicy:   PINPolicyNever,
			TouchPolicy: TouchPolicyNever,
		})
		require.NoError(t, err, "Failed to generate key")

		ecdsaPub, ok := pub.(*ecdsa.PublicKey)
		require.True(t, ok, "Public key is not an EC key")
		assert.Equal(t, elliptic.P256(), ecdsaPub.Curve)

		priv, err := c.PrivateKey(SlotAuthentication, pub, KeyAuth{})
		require.NoError(t, err, "Failed to get private key")

		signer, ok := priv.(crypto.Signer)
		require.True(t, ok, "Private key is not a signer")

		digest := sha256.Sum256([]byte("hello"))
		sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
		require.NoError(t, err, "Failed to sign")

		assert.True(t, ecdsa.VerifyASN1(ecdsaPub, digest[:], sig),
			"Signature didn't verify")
	})
}

func TestGenerateKeyPolicies(t *testing.T) {
	c := &Card{}
	c.session.authResult = AuthResultMutualFullyAuthenticated

	_, err := c.GenerateKey(SlotAuthentication, Key{
		Algorithm:   AlgECCP256,
		PINPolicy:   PINPolicy(42),
		TouchPolicy: TouchPolicyNever,
	})
	assert.ErrorIs(t, err, errUnsupportedPinPolicy)

	_, err = c.GenerateKey(SlotAuthentication, Key{
		Algorithm:   AlgECCP256,
		PINPolicy:   PINPolicyNever,
		TouchPolicy: TouchPolicy(42),
	})
	assert.ErrorIs(t, err, errUnsupportedTouchPolicy)
}

func TestSignEd25519(t *testing.T) {
	withCard(t, true, false, SupportsAlgorithm(AlgEd25519), func(t *testing.T, c *Card) {
		testAuthenticate(t, c)

		pub, err := c.GenerateKey(SlotSignature, Key{
			Algorithm:   AlgEd25519,
			PINPolicy:   PINPolicyNever,
			TouchPolicy: TouchPolicyNever,
		})
		require.NoError(t, err, "Failed to generate key")

		edPub, ok := pub.(ed25519.PublicKey)
		require.True(t, ok, "Public key is not an Ed25519 key")

		priv, err := c.PrivateKey(SlotSignature, pub, KeyAuth{})
		require.NoError(t, err, "Failed to get private key")

		signer, ok := priv.(crypto.Signer)
		require.True(t, ok, "Private key is not a signer")

		msg := []byte("hello")
		sig, err := signer.Sign(rand.Reader, msg, crypto.Hash(0))
		require.NoError(t, err, "Failed to sign")

		assert.True(t, ed25519.Verify(edPub, msg, sig), "Signature didn't verify")
	})
}

func TestSharedKeyECDSA(t *testing.T) {
	withCard(t, true, false, nil, func(t *testing.T, c *Card) {
		testAuthenticate(t, c)

		pub, err := c.GenerateKey(SlotAuthentication, Key{
			Algorithm:   AlgECCP256,
			PINPolicy:   PINPolicyNever,
			TouchPolicy: TouchPolicyNever,
		})
		require.NoError(t, err, "Failed to generate key")

		priv, err := c.PrivateKey(SlotAuthentication, pub, KeyAuth{})
		require.NoError(t, err, "Failed to get private key")

		key, ok := priv.(*ECPPPrivateKey)
		require.True(t, ok, "Unexpected private key type: %T", priv)

		t.Run("good", func(t *testing.T) {
			peer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
			require.NoError(t, err, "Failed to generate peer key")

			secret1, err := key.SharedKey(&peer.PublicKey)
			require.NoError(t, err, "Failed to perform key agreement on card")

			peerECDH, err := peer.ECDH()
			require.NoError(t, err, "Failed to convert key")

			cardPub, err := pub.(*ecdsa.PublicKey).ECDH()
			require.NoError(t, err, "Failed to convert key")

			secret2, err := peerECDH.ECDH(cardPub)
			require.NoError(t, err, "Failed to perform key agreement in software")

			assert.Equal(t, secret2, secret1, "Key agreement differed")
		})

		t.Run("bad curve", func(t *testing.T) {
			peer, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
			require.NoError(t, err, "Failed to generate peer key")

			_, err = key.SharedKey(&peer.PublicKey)
			assert.ErrorIs(t, err, errMismatchingAlgorithms)
		})
	})
}

func TestSharedKeyX25519(t *testing.T) {
	withCard(t, true, false, SupportsAlgorithm(AlgX25519), func(t *testing.T, c *Card) {
		testAuthenticate(t, c)

		pub, err := c.GenerateKey(SlotKeyManagement, Key{
			Algorithm:   AlgX25519,
			PINPolicy:   PINPolicyNever,
			TouchPolicy: TouchPolicyNever,
		})
		require.NoError(t, err, "Failed to generate key")

		xPub, ok := pub.(*ecdh.PublicKey)
		require.True(t, ok, "Public key is not an X25519 key")

		priv, err := c.PrivateKey(SlotKeyManagement, pub, KeyAuth{})
		require.NoError(t, err, "Failed to get private key")

		key, ok := priv.(*keyX25519)
		require.True(t, ok, "Unexpected private key type: %T", priv)

		peer, err := ecdh.X25519().GenerateKey(rand.Reader)
		require.NoError(t, err, "Failed to generate peer key")

		secret1, err := key.SharedKey(peer.PublicKey())
		require.NoError(t, err, "Failed to perform key agreement on card")

		secret2, err := peer.ECDH(xPub)
		require.NoError(t, err, "Failed to perform key agreement in software")

		assert.Equal(t, secret2, secret1, "Key agreement differed")
	})
}

func TestSignRSA(t *testing.T) {
	withCard(t, true, true, nil, func(t *testing.T, c *Card) {
		testAuthenticate(t, c)

		pub, err := c.GenerateKey(SlotSignature, Key{
			Algorithm:   AlgRSA1024,
			PINPolicy:   PINPolicyNever,
			TouchPolicy: TouchPolicyNever,
		})
		require.NoError(t, err, "Failed to generate key")

		rsaPub, ok := pub.(*rsa.PublicKey)
		require.True(t, ok, "Public key is not an RSA key")

		priv, err := c.PrivateKey(SlotSignature, pub, KeyAuth{})
		require.NoError(t, err, "Failed to get private key")

		signer, ok := priv.(crypto.Signer)
		require.True(t, ok, "Private key is not a signer")

		digest := sha256.Sum256([]byte("hello"))

		t.Run("PKCS#1 v1.5", func(t *testing.T) {
			sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
			require.NoError(t, err, "Failed to sign")

			err = rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], sig)
			assert.NoError(t, err, "Failed to verify signature")
		})

		t.Run("PSS", func(t *testing.T) {
			opts := &rsa.PSSOptions{Hash: crypto.SHA256}
			sig, err := signer.Sign(rand.Reader, digest[:], opts)
			require.NoError(t, err, "Failed to sign")

			err = rsa.VerifyPSS(rsaPub, crypto.SHA256, digest[:], sig, opts)
			assert.NoError(t, err, "Failed to verify signature")
		})
	})
}

func TestDecryptRSA(t *testing.T) {
	withCard(t, true, true, nil, func(t *testing.T, c *Card) {
		testAuthenticate(t, c)

		pub, err := c.GenerateKey(SlotKeyManagement, Key{
			Algorithm:   AlgRSA1024,
			PINPolicy:   PINPolicyNever,
			TouchPolicy: TouchPolicyNever,
		})
		require.NoError(t, err, "Failed to generate key")

		rsaPub, ok := pub.(*rsa.PublicKey)
		require.True(t, ok, "Public key is not an RSA key")

		data := []byte("hello")
		ct, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, data)
		require.NoError(t, err, "Failed to encrypt")

		priv, err := c.PrivateKey(SlotKeyManagement, pub, KeyAuth{})
		require.NoError(t, err, "Failed to get private key")

		decrypter, ok := priv.(crypto.Decrypter)
		require.True(t, ok, "Private key is not a decrypter")

		got, err := decrypter.Decrypt(rand.Reader, ct, nil)
		require.NoError(t, err, "Failed to decrypt")

		assert.Equal(t, data, got, "Decrypted data didn't match")
	})
}

//nolint:gocognit
func TestImportKey(t *testing.T) {
	tests := []struct {
		name     string
		alg      Algorithm
		generate func() (crypto.PrivateKey, error)
	}{
		{
			name: "EC/P256",
			alg:  AlgECCP256,
			generate: func() (crypto.PrivateKey, error) {
				return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
			},
		},
		{
			name: "EC/P384",
			alg:  AlgECCP384,
			generate: func() (crypto.PrivateKey, error) {
				return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
			},
		},
		{
			name: "RSA/1024",
			alg:  AlgRSA1024,
			generate: func() (crypto.PrivateKey, error) {
				return rsa.GenerateKey(rand.Reader, 1024)
			},
		},
		{
			name: "Ed25519",
			alg:  AlgEd25519,
			generate: func() (crypto.PrivateKey, error) {
				_, priv, err := ed25519.GenerateKey(rand.Reader)
				return priv, err
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			withCard(t, true, true, SupportsAlgorithm(test.alg), func(t *testing.T, c *Card) {
				testAuthenticate(t, c)

				priv, err := test.generate()
				require.NoError(t, err, "Failed to generate private key")

				err = c.ImportKey(SlotAuthentication, priv, Key{
					PINPolicy:   PINPolicyNever,
					TouchPolicy: TouchPolicyNever,
				})
				require.NoError(t, err, "Failed to import key")

				// Imported keys must not be attestable.
				if supportsVersion(c.Version(), 4, 3, 0) {
					_, err = c.Attest(SlotAuthentication)
					assert.ErrorIs(t, err, ErrNotFound,
						"Expected attestation of imported key to fail")
				}

				if supportsVersion(c.Version(), 5, 3, 0) {
					info, err := c.KeyInfo(SlotAuthentication)
					require.NoError(t, err, "Failed to get key info")
					assert.Equal(t, OriginImported, info.Origin)
				}
			})
		})
	}
}

func TestImportKeyUnsupported(t *testing.T) {
	c := &Card{}
	c.session.authResult = AuthResultMutualFullyAuthenticated

	err := c.ImportKey(SlotAuthentication, struct{}{}, Key{
		PINPolicy:   PINPolicyNever,
		TouchPolicy: TouchPolicyNever,
	})
	assert.ErrorIs(t, err, errUnsupportedKeyType)
}

func TestKeyInfo(t *testing.T) {
	withCard(t, true, false, SupportsMetadata, func(t *testing.T, c *Card) {
		testAuthenticate(t, c)

		genPub, err := c.GenerateKey(SlotAuthentication, Key{
			Algorithm:   AlgECCP256,
			PINPolicy:   PINPolicyOnce,
			TouchPolicy: TouchPolicyNever,
		})
		require.NoError(t, err, "Failed to generate key")

		info, err := c.KeyInfo(SlotAuthentication)
		require.NoError(t, err, "Failed to get key info")

		assert.Equal(t, AlgECCP256, info.Algorithm)
		assert.Equal(t, PINPolicyOnce, info.PINPolicy)
		assert.Equal(t, TouchPolicyNever, info.TouchPolicy)
		assert.Equal(t, OriginGenerated, info.Origin)
		assert.Equal(t, genPub, info.PublicKey)
	})
}

func TestKeyInfoEmptySlot(t *testing.T) {
	withCard(t, true, false, SupportsMetadata, func(t *testing.T, c *Card) {
		_, err := c.KeyInfo(SlotSignature)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMoveKey(t *testing.T) {
	withCard(t, true, false, SupportsKeyMoveDelete, func(t *testing.T, c *Card) {
		testAuthenticate(t, c)

		pub, err := c.GenerateKey(SlotAuthentication, Key{
			Algorithm:   AlgECCP256,
			PINPolicy:   PINPolicyNever,
			TouchPolicy: TouchPolicyNever,
		})
		require.NoError(t, err, "Failed to generate key")

		err = c.MoveKey(SlotAuthentication, SlotSignature)
		require.NoError(t, err, "Failed to move key")

		// The source slot must be empty, the destination must hold the key.
		_, err = c.KeyInfo(SlotAuthentication)
		assert.ErrorIs(t, err, ErrNotFound)

		info, err := c.KeyInfo(SlotSignature)
		require.NoError(t, err, "Failed to get key info after move")
		assert.Equal(t, pub, info.PublicKey)
	})
}

func TestDeleteKey(t *testing.T) {
	withCard(t, true, false, SupportsKeyMoveDelete, func(t *testing.T, c *Card) {
		testAuthenticate(t, c)

		_, err := c.GenerateKey(SlotAuthentication, Key{
			Algorithm:   AlgECCP256,
			PINPolicy:   PINPolicyNever,
			TouchPolicy: TouchPolicyNever,
		})
		require.NoError(t, err, "Failed to generate key")

		err = c.DeleteKey(SlotAuthentication)
		require.NoError(t, err, "Failed to delete key")

		_, err = c.KeyInfo(SlotAuthentication)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPINPrompt(t *testing.T) {
	tests := []struct {
		name   string
		policy PINPolicy
		want   int
	}{
		{"Never", PINPolicyNever, 0},
		{"Once", PINPolicyOnce, 1},
		{"Always", PINPolicyAlways, 2},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			withCard(t, true, false, nil, func(t *testing.T, c *Card) {
				testAuthenticate(t, c)

				pub, err := c.GenerateKey(SlotAuthentication, Key{
					Algorithm:   AlgECCP256,
					PINPolicy:   test.policy,
					TouchPolicy: TouchPolicyNever,
				})
				require.NoError(t, err, "Failed to generate key")

				got := 0
				auth := KeyAuth{
					PINPolicy: test.policy,
					PINPrompt: func() (string, error) {
						got++
						return DefaultPIN, nil
					},
				}

				priv, err := c.PrivateKey(SlotAuthentication, pub, auth)
				require.NoError(t, err, "Failed to get private key")

				signer, ok := priv.(crypto.Signer)
				require.True(t, ok, "Private key is not a signer")

				digest := sha256.Sum256([]byte("hello"))
				_, err = signer.Sign(rand.Reader, digest[:], crypto.SHA256)
				require.NoError(t, err, "Failed to sign")
				_, err = signer.Sign(rand.Reader, digest[:], crypto.SHA256)
				require.NoError(t, err, "Failed to sign")

				assert.Equal(t, test.want, got, "PIN prompted %d times, expected %d", got, test.want)
			})
		})
	}
}

func TestPrivateKeyMissingPIN(t *testing.T) {
	withCard(t, true, false, nil, func(t *testing.T, c *Card) {
		testAuthenticate(t, c)

		pub, err := c.GenerateKey(SlotAuthentication, Key{
			Algorithm:   AlgECCP256,
			PINPolicy:   PINPolicyAlways,
			TouchPolicy: TouchPolicyNever,
		})
		require.NoError(t, err, "Failed to generate key")

		priv, err := c.PrivateKey(SlotAuthentication, pub, KeyAuth{PINPolicy: PINPolicyAlways})
		require.NoError(t, err, "Failed to get private key")

		signer, ok := priv.(crypto.Signer)
		require.True(t, ok, "Private key is not a signer")

		digest := sha256.Sum256([]byte("hello"))
		_, err = signer.Sign(rand.Reader, digest[:], crypto.SHA256)
		assert.ErrorIs(t, err, errMissingPIN)
	})
}
