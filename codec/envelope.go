package codec

import (
	"bytes"
	"fmt"

	"github.com/opd-ai/murmur/crypto"
	"github.com/opd-ai/murmur/limits"
)

// probeContent is written at the start of every probe. A receiver does not
// validate it; a sender uses it to tell a crossing probe from a declaration.
const probeContent = "DUMMY"

// Envelope is the wire structure exchanged for every message.
type Envelope struct {
	PublicKey  [limits.PublicKeySize]byte
	Nonce      crypto.Nonce
	Ciphertext []byte
}

// KeyDeclaration returns an envelope carrying only pub. The receiver of a
// message sends it to tell the sender which key to encrypt for.
func KeyDeclaration(pub [limits.PublicKeySize]byte) *Envelope {
	return &Envelope{
		PublicKey:  pub,
		Ciphertext: make([]byte, limits.CiphertextLength),
	}
}

// MarshalBinary encodes the envelope into its fixed EnvelopeSize layout.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	if len(e.Ciphertext) != limits.CiphertextLength {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes, want %d",
			ErrMalformedEnvelope, len(e.Ciphertext), limits.CiphertextLength)
	}

	buf := make([]byte, 0, limits.EnvelopeSize)
	buf = append(buf, e.PublicKey[:]...)
	buf = append(buf, e.Nonce[:]...)
	buf = append(buf, e.Ciphertext...)
	return buf, nil
}

// UnmarshalBinary decodes an envelope. data must be exactly EnvelopeSize bytes.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	if len(data) != limits.EnvelopeSize {
		return fmt.Errorf("%w: got %d bytes, want %d",
			ErrMalformedEnvelope, len(data), limits.EnvelopeSize)
	}

	copy(e.PublicKey[:], data[:limits.PublicKeySize])
	copy(e.Nonce[:], data[limits.PublicKeySize:limits.PublicKeySize+limits.NonceSize])
	e.Ciphertext = make([]byte, limits.CiphertextLength)
	copy(e.Ciphertext, data[limits.PublicKeySize+limits.NonceSize:])
	return nil
}

// Probe returns a fresh ProbeLength buffer used to open an exchange.
func Probe() []byte {
	buf := make([]byte, limits.ProbeLength)
	copy(buf, probeContent)
	return buf
}

// IsProbe reports whether b is exactly what Probe produces. The first
// ProbeLength bytes of a key declaration only match if the declared key is
// probeContent followed by zeros.
func IsProbe(b []byte) bool {
	if len(b) != limits.ProbeLength || !bytes.HasPrefix(b, []byte(probeContent)) {
		return false
	}
	for _, c := range b[len(probeContent):] {
		if c != 0 {
			return false
		}
	}
	return true
}

// Unpad returns the text of a padded plaintext up to its first NUL byte.
func Unpad(padded []byte) string {
	if i := bytes.IndexByte(padded, 0); i >= 0 {
		return string(padded[:i])
	}
	return string(padded)
}
