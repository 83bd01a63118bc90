package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plaintext := []byte("a label image, allegedly")
	blob, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(blob, plaintext) {
		t.Error("Encrypt() returned plaintext unchanged")
	}
	// nonce(12) + ciphertext + tag(16)
	if len(blob) != 12+len(plaintext)+16 {
		t.Errorf("Encrypt() blob length = %d, want %d", len(blob), 12+len(plaintext)+16)
	}

	got, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestEncryptFreshNoncePerCall(t *testing.T) {
	c, _ := New(testKey(t))
	a, _ := c.Encrypt([]byte("same input"))
	b, _ := c.Encrypt([]byte("same input"))
	if bytes.Equal(a, b) {
		t.Error("two Encrypt() calls produced identical blobs; nonce is not fresh")
	}
}

func TestDecryptTruncated(t *testing.T) {
	c, _ := New(testKey(t))
	for _, n := range []int{0, 1, 11} {
		if _, err := c.Decrypt(make([]byte, n)); !errors.Is(err, ErrDecryptFailed) {
			t.Errorf("Decrypt(%d bytes) error = %v, want ErrDecryptFailed", n, err)
		}
	}
}

func TestDecryptTampered(t *testing.T) {
	c, _ := New(testKey(t))
	blob, _ := c.Encrypt([]byte("payload"))
	blob[len(blob)-1] ^= 0xff
	if _, err := c.Decrypt(blob); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Decrypt(tampered) error = %v, want ErrDecryptFailed", err)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	c1, _ := New(testKey(t))
	other := make([]byte, 32)
	other[0] = 0xaa
	c2, _ := New(base64.StdEncoding.EncodeToString(other))

	blob, _ := c1.Encrypt([]byte("payload"))
	if _, err := c2.Decrypt(blob); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Decrypt(wrong key) error = %v, want ErrDecryptFailed", err)
	}
}

func TestNewInvalidKey(t *testing.T) {
	cases := []struct {
		name string
		key  string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"too short", base64.StdEncoding.EncodeToString(make([]byte, 16))},
		{"too long", base64.StdEncoding.EncodeToString(make([]byte, 48))},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.key); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("New(%q) error = %v, want ErrInvalidKey", tc.key, err)
			}
		})
	}
}
