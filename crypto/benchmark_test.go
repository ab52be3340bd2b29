package crypto

import (
	"crypto/rand"
	"testing"
)

func benchmarkKeys(b *testing.B) (sender, receiver *KeyPair) {
	b.Helper()
	sender, err := GenerateKeyPair()
	if err != nil {
		b.Fatal(err)
	}
	receiver, err = GenerateKeyPair()
	if err != nil {
		b.Fatal(err)
	}
	return sender, receiver
}

// BenchmarkGenerateKeyPair measures key pair generation performance
func BenchmarkGenerateKeyPair(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := GenerateKeyPair(); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkGenerateNonceFrom measures nonce generation performance
func BenchmarkGenerateNonceFrom(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := GenerateNonceFrom(rand.Reader); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEncrypt measures sealing one padded chat message
func BenchmarkEncrypt(b *testing.B) {
	sender, receiver := benchmarkKeys(b)
	padded := make([]byte, 256)
	copy(padded, "user: benchmark")
	nonce, err := GenerateNonceFrom(rand.Reader)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(padded)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Encrypt(padded, nonce, receiver.Public, sender.Private); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDecrypt measures opening one padded chat message
func BenchmarkDecrypt(b *testing.B) {
	sender, receiver := benchmarkKeys(b)
	padded := make([]byte, 256)
	copy(padded, "user: benchmark")
	nonce, err := GenerateNonceFrom(rand.Reader)
	if err != nil {
		b.Fatal(err)
	}
	sealed, err := Encrypt(padded, nonce, receiver.Public, sender.Private)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(padded)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decrypt(sealed, nonce, sender.Public, receiver.Private); err != nil {
			b.Fatal(err)
		}
	}
}
