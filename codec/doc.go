// Package codec implements the fixed-size message envelope of the murmur
// relay protocol and the padded encrypt/decrypt operations that fill it.
//
// An Envelope is always EnvelopeSize (328) bytes on the wire:
//
//	publicKey[32] || nonce[24] || ciphertext[272]
//
// The same shape carries both the receiver's key declaration (only the public
// key set) and the sender's encrypted message. Plaintext is zero-padded to
// limits.MaxMessageLength before sealing so every message encrypts to the
// same length; longer plaintext is rejected with ErrMessageTooLong.
//
//	env, err := codec.Encrypt([]byte("hi"), limits.MaxMessageLength, peerPub, keys.Private)
//	env.PublicKey = keys.Public
//	wire, _ := env.MarshalBinary()
//
//	var in codec.Envelope
//	_ = in.UnmarshalBinary(wire)
//	padded, err := codec.Decrypt(&in, limits.CiphertextLength, peerKeys.Private)
//	text := codec.Unpad(padded)
package codec
