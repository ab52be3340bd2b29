package crypto

import (
	"errors"

	"golang.org/x/crypto/nacl/box"
)

// Decrypt decrypts a message using authenticated encryption.
func Decrypt(ciphertext []byte, nonce Nonce, senderPK [32]byte, recipientSK [32]byte) ([]byte, error) {
	// Validate inputs
	if len(ciphertext) < box.Overhead {
		return nil, errors.New("ciphertext shorter than authentication tag")
	}

	// Decrypt the message
	decrypted, ok := box.Open(nil, ciphertext, (*[24]byte)(&nonce), &senderPK, &recipientSK)
	if !ok {
		return nil, errors.New("decryption failed: message authentication failed")
	}

	return decrypted, nil
}
