package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo is the HKDF context string binding derived keys to this
// protocol use.
var hkdfInfo = []byte("AS4-AES128-GCM-ENCRYPTION")

// MaxPlaintextSize bounds the data accepted for a single encryption
// operation.
const MaxPlaintextSize = 256 << 20

// PayloadCipher performs X25519 key agreement with HKDF-SHA256 key
// derivation and AES-128-GCM encryption. An encryptor carries the
// recipient's public key, a decryptor the local private key.
type PayloadCipher struct {
	privateKey         [32]byte
	recipientPublicKey [32]byte
}

// NewPayloadEncryptor creates a cipher for encrypting to the given
// recipient.
func NewPayloadEncryptor(recipientPublicKey [32]byte) *PayloadCipher {
	return &PayloadCipher{recipientPublicKey: recipientPublicKey}
}

// NewPayloadDecryptor creates a cipher for decrypting with the given
// private key.
func NewPayloadDecryptor(privateKey [32]byte) *PayloadCipher {
	return &PayloadCipher{privateKey: privateKey}
}

// Encrypt derives a fresh key from an ephemeral X25519 exchange and
// seals the plaintext with AES-128-GCM.
func (c *PayloadCipher) Encrypt(plaintext []byte) (ciphertext, ephemeralPublicKey, nonce []byte, err error) {
	if err := validateX25519Key(&c.recipientPublicKey); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid recipient public key: %w", err)
	}
	if len(plaintext) > MaxPlaintextSize {
		return nil, nil, nil, fmt.Errorf("plaintext exceeds %d bytes", MaxPlaintextSize)
	}

	var ephemeralPrivate, ephemeralPublic [32]byte
	if _, err := rand.Read(ephemeralPrivate[:]); err != nil {
		return nil, nil, nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	curve25519.ScalarBaseMult(&ephemeralPublic, &ephemeralPrivate)

	shared, err := curve25519.X25519(ephemeralPrivate[:], c.recipientPublicKey[:])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("key agreement failed: %w", err)
	}

	aesgcm, err := deriveGCM(shared)
	if err != nil {
		return nil, nil, nil, err
	}

	nonceData := make([]byte, aesgcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonceData); err != nil {
		return nil, nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext = aesgcm.Seal(nil, nonceData, plaintext, nil)
	return ciphertext, ephemeralPublic[:], nonceData, nil
}

// Decrypt reverses Encrypt using the local private key and the
// sender's ephemeral public key.
func (c *PayloadCipher) Decrypt(ciphertext, ephemeralPublicKey, nonce []byte) ([]byte, error) {
	if len(ephemeralPublicKey) != 32 {
		return nil, fmt.Errorf("invalid ephemeral public key size: %d", len(ephemeralPublicKey))
	}
	if err := validateX25519Key(&c.privateKey); err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	shared, err := curve25519.X25519(c.privateKey[:], ephemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	aesgcm, err := deriveGCM(shared)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: %d", len(nonce))
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// deriveGCM derives an AES-128 key from the shared secret with
// HKDF-SHA256 and returns the GCM cipher. The ephemeral key supplies
// the randomness, so no salt is used.
func deriveGCM(sharedSecret []byte) (cipher.AEAD, error) {
	key := make([]byte, 16)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sharedSecret, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// GenerateX25519KeyPair generates a fresh X25519 key pair.
func GenerateX25519KeyPair() (publicKey, privateKey [32]byte, err error) {
	if _, err := rand.Read(privateKey[:]); err != nil {
		return [32]byte{}, [32]byte{}, fmt.Errorf("generating private key: %w", err)
	}
	curve25519.ScalarBaseMult(&publicKey, &privateKey)
	return publicKey, privateKey, nil
}

func validateX25519Key(key *[32]byte) error {
	if key == nil {
		return fmt.Errorf("nil key")
	}
	allZeros := true
	for _, b := range key {
		if b != 0 {
			allZeros = false
			break
		}
	}
	if allZeros {
		return fmt.Errorf("all-zero key")
	}
	return nil
}
