package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := `{"host":"db.internal","port":5432,"user":"reader","password":"s3cret"}`

	encrypted, err := Encrypt("master-key", plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if strings.Contains(encrypted, "s3cret") {
		t.Fatalf("ciphertext leaks plaintext: %q", encrypted)
	}

	decrypted, err := Decrypt("master-key", encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("round trip: want=%q got=%q", plaintext, decrypted)
	}
}

func TestEncryptProducesFreshNonces(t *testing.T) {
	first, err := Encrypt("master-key", "same data")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	second, err := Encrypt("master-key", "same data")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if first == second {
		t.Fatalf("identical ciphertexts for repeated Encrypt")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	encrypted, err := Encrypt("master-key", "payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	_, err = Decrypt("other-key", encrypted)
	if !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("error: want=ErrInvalidCiphertext got=%v", err)
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	for _, input := range []string{"", "!!!not base64!!!", "c2hvcnQ="} {
		if _, err := Decrypt("master-key", input); !errors.Is(err, ErrInvalidCiphertext) {
			t.Fatalf("Decrypt(%q): want=ErrInvalidCiphertext got=%v", input, err)
		}
	}
}
