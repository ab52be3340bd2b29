package crypto

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

// Nonce is a 24-byte value used for encryption.
type Nonce [24]byte

// GenerateNonceFrom draws a nonce from r. A short read is an error.
func GenerateNonceFrom(r io.Reader) (Nonce, error) {
	var nonce Nonce
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return Nonce{}, fmt.Errorf("nonce generation failed: %w", err)
	}
	return nonce, nil
}

// Encrypt seals message with NaCl box for recipientPK using senderSK.
func Encrypt(message []byte, nonce Nonce, recipientPK [32]byte, senderSK [32]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, errors.New("empty message")
	}

	if isZeroKey(recipientPK) {
		return nil, fmt.Errorf("%w: recipient public key is all zeros", ErrInvalidKey)
	}

	if isZeroKey(senderSK) {
		return nil, fmt.Errorf("%w: sender private key is all zeros", ErrInvalidKey)
	}

	encrypted := box.Seal(nil, message, (*[24]byte)(&nonce), &recipientPK, &senderSK)
	return encrypted, nil
}
