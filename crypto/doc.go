// Package crypto implements the cryptographic primitives of the murmur relay.
//
// It wraps NaCl crypto_box (Curve25519, XSalsa20, Poly1305) from
// golang.org/x/crypto: key generation, nonce generation, authenticated
// public-key encryption and decryption, and secure wiping of key material.
//
// # Core Types
//
//   - [KeyPair]: NaCl crypto_box key pair, generated fresh per process
//   - [Nonce]: 24-byte random nonce, drawn once per message
//
// # Encryption and Decryption
//
//	nonce, _ := crypto.GenerateNonceFrom(rand.Reader)
//	sealed, _ := crypto.Encrypt(padded, nonce, peerPublicKey, myKeys.Private)
//	opened, _ := crypto.Decrypt(sealed, nonce, peerPublicKey, myKeys.Private)
//
// Decrypt verifies the Poly1305 tag before any plaintext is returned; a
// failed verification returns an error and no bytes.
//
// # Secure Memory Handling
//
// Private keys are never persisted. Owners wipe them on shutdown:
//
//	defer crypto.WipeKeyPair(keys)
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use. A KeyPair is read-only
// after generation and may be shared by concurrent sessions.
package crypto
