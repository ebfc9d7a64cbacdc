package audit

import (
	"bytes"
	"testing"
)

func testSealKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(testSealKey())
	if err != nil {
		t.Fatal(err)
	}
	if !s.Enabled() {
		t.Fatal("sealer with a key should be enabled")
	}

	for _, plaintext := range []string{"", "short", "a-longer-secret-value-with-symbols-!@#", "多字节文本"} {
		sealed, err := s.Seal(plaintext)
		if err != nil {
			t.Fatalf("Seal(%q): %v", plaintext, err)
		}
		if sealed == plaintext && plaintext != "" {
			t.Errorf("Seal(%q) returned the plaintext", plaintext)
		}

		opened, err := s.Open(sealed)
		if err != nil {
			t.Fatalf("Open of sealed %q: %v", plaintext, err)
		}
		if opened != plaintext {
			t.Errorf("round trip of %q returned %q", plaintext, opened)
		}
	}
}

func TestSealerNonDeterministic(t *testing.T) {
	s, err := NewSealer(testSealKey())
	if err != nil {
		t.Fatal(err)
	}

	a, _ := s.Seal("same input")
	b, _ := s.Seal("same input")
	if a == b {
		t.Error("two seals of the same input produced identical output (nonce reuse?)")
	}
}

func TestSealerDisabled(t *testing.T) {
	s, err := NewSealer(nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Enabled() {
		t.Fatal("sealer without a key should be disabled")
	}

	sealed, err := s.Seal("plaintext")
	if err != nil || sealed != "plaintext" {
		t.Errorf("disabled Seal = (%q, %v), want passthrough", sealed, err)
	}
	opened, err := s.Open("plaintext")
	if err != nil || opened != "plaintext" {
		t.Errorf("disabled Open = (%q, %v), want passthrough", opened, err)
	}
}

func TestSealerBadKeySize(t *testing.T) {
	for _, size := range []int{1, 16, 31, 33, 64} {
		if _, err := NewSealer(make([]byte, size)); err == nil {
			t.Errorf("NewSealer with %d-byte key succeeded, want error", size)
		}
	}
}

func TestSealerOpenRejectsTamperedInput(t *testing.T) {
	s, err := NewSealer(testSealKey())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Open("not-base64!!!"); err == nil {
		t.Error("Open accepted invalid base64")
	}
	if _, err := s.Open("c2hvcnQ="); err == nil {
		t.Error("Open accepted input shorter than a nonce")
	}

	sealed, err := s.Seal("secret")
	if err != nil {
		t.Fatal(err)
	}
	// Flip a character in the ciphertext body.
	tampered := []byte(sealed)
	last := len(tampered) - 2
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}
	if _, err := s.Open(string(tampered)); err == nil {
		t.Error("Open accepted tampered ciphertext")
	}
}

func TestSealerWrongKeyFailsToOpen(t *testing.T) {
	a, err := NewSealer(testSealKey())
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSealer(bytes.Repeat([]byte{0x24}, 32))
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := a.Seal("secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Error("Open with the wrong key succeeded")
	}
}
