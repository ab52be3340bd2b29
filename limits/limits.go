package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxMessageLength is the plaintext bound of a single relay message (256 bytes).
	// Shorter messages are padded to exactly this length before encryption.
	MaxMessageLength = 256

	// EncryptionOverhead is the Poly1305 MAC tag added by box.Seal().
	EncryptionOverhead = 16 // golang.org/x/crypto/nacl/box.Overhead

	// CiphertextLength is the fixed ciphertext size carried in every envelope.
	CiphertextLength = MaxMessageLength + EncryptionOverhead

	// PublicKeySize is the size of a Curve25519 public key.
	PublicKeySize = 32

	// NonceSize is the size of a NaCl box nonce.
	NonceSize = 24

	// EnvelopeSize is the size of an envelope on the wire:
	// publicKey || nonce || ciphertext.
	EnvelopeSize = PublicKeySize + NonceSize + CiphertextLength

	// ProbeLength is the size of the buffer that opens a message exchange.
	ProbeLength = MaxMessageLength

	// MaxLabelLength is the longest identity label accepted by the relay.
	MaxLabelLength = 16

	// LabelSeparator joins the sender's label and the relayed message.
	LabelSeparator = ": "
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLong indicates a message exceeds the fixed plaintext bound
	ErrMessageTooLong = errors.New("message too long")

	// ErrLabelTooLong indicates an identity label exceeds MaxLabelLength
	ErrLabelTooLong = errors.New("label too long")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLong, len(message), maxSize)
	}
	return nil
}

// ValidateMessage validates a plaintext message against MaxMessageLength.
func ValidateMessage(message []byte) error {
	return ValidateMessageSize(message, MaxMessageLength)
}

// ValidateLabel checks that an identity label is non-empty and fits in MaxLabelLength.
func ValidateLabel(label string) error {
	if label == "" {
		return errors.New("empty label")
	}
	if len(label) > MaxLabelLength {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrLabelTooLong, len(label), MaxLabelLength)
	}
	return nil
}

// LabeledLength returns the length of message once the relay has prefixed it
// with label and LabelSeparator.
func LabeledLength(label, message string) int {
	return len(label) + len(LabelSeparator) + len(message)
}
