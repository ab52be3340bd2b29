// Package limits provides the fixed wire sizes and message size validation for
// the murmur relay protocol. Every component that builds or parses a protocol
// buffer takes its sizes from here so the client and the server always agree.
//
// # Wire Size Hierarchy
//
//   - MaxMessageLength (256 bytes): the plaintext bound. Every message is
//     zero-padded to exactly this length before encryption, so ciphertext
//     length never reveals message length.
//
//   - CiphertextLength (272 bytes): MaxMessageLength plus the Poly1305 tag
//     added by NaCl box.
//
//   - EnvelopeSize (328 bytes): public key, nonce and ciphertext as sent on
//     the wire, used for both the key declaration and the message itself.
//
//   - ProbeLength (256 bytes): the signal buffer that opens an exchange.
//
//   - MaxLabelLength (16 bytes): the longest identity label the relay
//     prepends to a message.
//
// # Validation Functions
//
//	if err := limits.ValidateMessage(msg); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLong
//	}
//
// Longer input is never truncated: it is rejected with ErrMessageTooLong.
//
// The encryption overhead matches golang.org/x/crypto/nacl/box.Overhead.
package limits
