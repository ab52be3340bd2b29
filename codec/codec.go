package codec

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/murmur/crypto"
	"github.com/opd-ai/murmur/limits"
)

var (
	// ErrEncryption indicates the message could not be sealed.
	ErrEncryption = errors.New("encryption failed")

	// ErrDecryption indicates an envelope failed authentication or was malformed.
	ErrDecryption = errors.New("decryption failed")

	// ErrMalformedEnvelope indicates an envelope of the wrong size or shape.
	ErrMalformedEnvelope = fmt.Errorf("%w: malformed envelope", ErrDecryption)

	// ErrMessageTooLong indicates a plaintext longer than the padded length.
	ErrMessageTooLong = limits.ErrMessageTooLong
)

// randReader is the nonce source. Tests replace it to exercise failures.
var randReader io.Reader = rand.Reader

// Encrypt pads plaintext with zeros to exactly maxLen bytes, draws a fresh
// nonce and seals the result for recipientPublicKey. The returned envelope's
// PublicKey is left zero for the caller to fill in with its own key.
func Encrypt(plaintext []byte, maxLen int, recipientPublicKey, senderPrivateKey [32]byte) (*Envelope, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("%w: invalid padded length %d", ErrEncryption, maxLen)
	}
	if len(plaintext) > maxLen {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLong, len(plaintext), maxLen)
	}

	nonce, err := crypto.GenerateNonceFrom(randReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	padded := make([]byte, maxLen)
	copy(padded, plaintext)
	defer crypto.ZeroBytes(padded)

	sealed, err := crypto.Encrypt(padded, nonce, recipientPublicKey, senderPrivateKey)
	if err != nil {
		crypto.NewLogger("codec", "Encrypt").
			WithError(err, "seal").
			WithFields(crypto.SecureFieldHash(recipientPublicKey[:], "recipient_key")).
			Debug("Seal rejected input")
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	return &Envelope{
		Nonce:      nonce,
		Ciphertext: sealed,
	}, nil
}

// Decrypt verifies and opens env for recipientPrivateKey using the sender key
// carried in env.PublicKey. The ciphertext must be exactly
// expectedCiphertextLen bytes. On any failure no plaintext is returned.
func Decrypt(env *Envelope, expectedCiphertextLen int, recipientPrivateKey [32]byte) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformedEnvelope)
	}
	if len(env.Ciphertext) != expectedCiphertextLen {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes, want %d",
			ErrMalformedEnvelope, len(env.Ciphertext), expectedCiphertextLen)
	}

	plaintext, err := crypto.Decrypt(env.Ciphertext, env.Nonce, env.PublicKey, recipientPrivateKey)
	if err != nil {
		crypto.NewLogger("codec", "Decrypt").
			WithError(err, "open").
			WithFields(crypto.SecureFieldHash(env.PublicKey[:], "sender_key")).
			Debug("Envelope failed authentication")
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return plaintext, nil
}
