package limits

import (
	"crypto/rand"
	"errors"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

// TestEncryptionOverheadMatchesNaCl verifies that our EncryptionOverhead constant
// matches the actual overhead from golang.org/x/crypto/nacl/box
func TestEncryptionOverheadMatchesNaCl(t *testing.T) {
	if EncryptionOverhead != box.Overhead {
		t.Errorf("EncryptionOverhead = %d, want %d (box.Overhead)", EncryptionOverhead, box.Overhead)
	}
}

// TestWireSizes pins the sizes both ends of the protocol depend on.
func TestWireSizes(t *testing.T) {
	if CiphertextLength != 272 {
		t.Errorf("CiphertextLength = %d, want 272", CiphertextLength)
	}
	if EnvelopeSize != 328 {
		t.Errorf("EnvelopeSize = %d, want 328", EnvelopeSize)
	}
	if ProbeLength != MaxMessageLength {
		t.Errorf("ProbeLength = %d, want %d", ProbeLength, MaxMessageLength)
	}
}

// TestSealedPaddedMessageSize checks that sealing a padded message yields
// exactly CiphertextLength bytes.
func TestSealedPaddedMessageSize(t *testing.T) {
	_, senderSK, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate sender key: %v", err)
	}
	recipientPK, _, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate recipient key: %v", err)
	}

	var nonce [NonceSize]byte
	padded := make([]byte, MaxMessageLength)
	copy(padded, "hello")

	sealed := box.Seal(nil, padded, &nonce, recipientPK, senderSK)
	if len(sealed) != CiphertextLength {
		t.Errorf("sealed length = %d, want %d", len(sealed), CiphertextLength)
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		message []byte
		wantErr error
	}{
		{
			name:    "empty message",
			message: []byte{},
			wantErr: ErrMessageEmpty,
		},
		{
			name:    "nil message",
			message: nil,
			wantErr: ErrMessageEmpty,
		},
		{
			name:    "valid small message",
			message: []byte("hi"),
		},
		{
			name:    "valid max-size message",
			message: make([]byte, MaxMessageLength),
		},
		{
			name:    "message too long",
			message: make([]byte, MaxMessageLength+1),
			wantErr: ErrMessageTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.message)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateMessage() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateLabel(t *testing.T) {
	if err := ValidateLabel("user"); err != nil {
		t.Errorf("ValidateLabel(user) unexpected error: %v", err)
	}
	if err := ValidateLabel("sixteen-bytes-xx"); err != nil {
		t.Errorf("ValidateLabel at limit unexpected error: %v", err)
	}
	if err := ValidateLabel("seventeen-bytes-x"); !errors.Is(err, ErrLabelTooLong) {
		t.Errorf("ValidateLabel over limit error = %v, want ErrLabelTooLong", err)
	}
	if err := ValidateLabel(""); err == nil {
		t.Error("ValidateLabel(\"\") expected error")
	}
}

func TestLabeledLength(t *testing.T) {
	if got := LabeledLength("user", "test"); got != len("user: test") {
		t.Errorf("LabeledLength = %d, want %d", got, len("user: test"))
	}
}
