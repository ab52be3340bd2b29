package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/murmur/limits"
)

func TestEnvelopeWireLayout(t *testing.T) {
	alice := newKeys(t)
	bob := newKeys(t)

	env, err := Encrypt([]byte("layout"), limits.MaxMessageLength, bob.Public, alice.Private)
	require.NoError(t, err)
	env.PublicKey = alice.Public

	wire, err := env.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, wire, limits.EnvelopeSize)

	assert.Equal(t, alice.Public[:], wire[:32], "public key first")
	assert.Equal(t, env.Nonce[:], wire[32:56], "nonce second")
	assert.Equal(t, env.Ciphertext, wire[56:], "ciphertext last")

	var decoded Envelope
	require.NoError(t, decoded.UnmarshalBinary(wire))

	padded, err := Decrypt(&decoded, limits.CiphertextLength, bob.Private)
	require.NoError(t, err)
	assert.Equal(t, "layout", Unpad(padded))
}

func TestEnvelopeUnmarshalWrongSize(t *testing.T) {
	var env Envelope
	for _, n := range []int{0, limits.EnvelopeSize - 1, limits.EnvelopeSize + 1} {
		err := env.UnmarshalBinary(make([]byte, n))
		assert.ErrorIs(t, err, ErrMalformedEnvelope, "size %d", n)
	}
}

func TestEnvelopeMarshalWrongCiphertext(t *testing.T) {
	env := &Envelope{Ciphertext: make([]byte, 10)}
	_, err := env.MarshalBinary()
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestKeyDeclaration(t *testing.T) {
	kp := newKeys(t)

	wire, err := KeyDeclaration(kp.Public).MarshalBinary()
	require.NoError(t, err)
	require.Len(t, wire, limits.EnvelopeSize)

	assert.Equal(t, kp.Public[:], wire[:32])
	assert.Equal(t, make([]byte, limits.EnvelopeSize-32), wire[32:], "everything after the key is zero")
}

func TestProbe(t *testing.T) {
	probe := Probe()
	assert.Len(t, probe, limits.ProbeLength)
	assert.Equal(t, "DUMMY", Unpad(probe))
}

func TestExchangeOpenerDetection(t *testing.T) {
	assert.True(t, IsProbe(Probe()))

	kp := newKeys(t)
	decl, err := KeyDeclaration(kp.Public).MarshalBinary()
	require.NoError(t, err)
	assert.False(t, IsProbe(decl[:limits.ProbeLength]), "declaration head")

	assert.False(t, IsProbe(Probe()[:limits.ProbeLength-1]), "short")
	assert.False(t, IsProbe(make([]byte, limits.ProbeLength)), "all zeros")

	trailing := Probe()
	trailing[limits.ProbeLength-1] = 1
	assert.False(t, IsProbe(trailing), "non-zero tail")
}

func TestUnpad(t *testing.T) {
	assert.Equal(t, "", Unpad(nil))
	assert.Equal(t, "abc", Unpad([]byte("abc")))
	assert.Equal(t, "abc", Unpad([]byte{'a', 'b', 'c', 0, 'd'}))
	assert.Equal(t, "", Unpad(make([]byte, 8)))
}
