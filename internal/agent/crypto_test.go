package agent

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	token := secret("User@Example.com", "pw", domainServer)
	for _, plain := range [][]byte{[]byte(""), []byte("x"), bytes.Repeat([]byte("a"), 16), []byte(`{"rid":1}`)} {
		enc, err := encrypt(token, plain)
		if err != nil {
			t.Fatalf("encrypt(%q) error = %v", plain, err)
		}
		got, err := decrypt(token, enc)
		if err != nil {
			t.Fatalf("decrypt() error = %v", err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("decrypt(encrypt(%q)) = %q", plain, got)
		}
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	token := secret("a", "b", domainDevice)
	if _, err := decrypt(token, "not base64!"); err == nil {
		t.Fatal("decrypt() of non-base64 error = nil")
	}
	if _, err := decrypt(token, "AAAA"); err == nil {
		t.Fatal("decrypt() of short block error = nil")
	}
	if _, err := decrypt(token[:16], "AAAA"); err == nil {
		t.Fatal("decrypt() with short token error = nil")
	}
}

func TestSecretLowercasesEmail(t *testing.T) {
	a := secret("User@Example.com", "pw", domainServer)
	b := secret("user@example.com", "pw", domainServer)
	if !bytes.Equal(a, b) {
		t.Fatal("secret() depends on email case")
	}
	want := sha256.Sum256([]byte("user@example.compwserver"))
	if !bytes.Equal(a, want[:]) {
		t.Fatalf("secret() = %x; want %x", a, want)
	}
	if bytes.Equal(a, secret("user@example.com", "pw", domainDevice)) {
		t.Fatal("server and device secrets are equal")
	}
}

func TestUpdateToken(t *testing.T) {
	old := bytes.Repeat([]byte{1}, 32)
	got, err := updateToken(old, "abcd")
	if err != nil {
		t.Fatalf("updateToken() error = %v", err)
	}
	want := sha256.Sum256(append(append([]byte{}, old...), 0xab, 0xcd))
	if hex.EncodeToString(got) != hex.EncodeToString(want[:]) {
		t.Fatalf("updateToken() = %x; want %x", got, want)
	}
	if _, err := updateToken(old, "zz"); err == nil {
		t.Fatal("updateToken() with non-hex token error = nil")
	}
}

func TestPKCS7(t *testing.T) {
	padded := pkcs7Pad([]byte("abc"), 16)
	if len(padded) != 16 || padded[15] != 13 {
		t.Fatalf("pkcs7Pad() = %v", padded)
	}
	got, err := pkcs7Unpad(padded, 16)
	if err != nil || string(got) != "abc" {
		t.Fatalf("pkcs7Unpad() = %q, %v; want abc", got, err)
	}

	bad := map[string][]byte{
		"inconsistent": append([]byte("abc"), append(bytes.Repeat([]byte{2}, 12), 13)...),
		"zero":         append([]byte("abc"), bytes.Repeat([]byte{0}, 13)...),
		"oversized":    append([]byte("abc"), bytes.Repeat([]byte{17}, 13)...),
		"short":        []byte("abc"),
	}
	for name, in := range bad {
		if _, err := pkcs7Unpad(in, 16); err == nil {
			t.Fatalf("pkcs7Unpad() of %s padding error = nil", name)
		}
	}
}
