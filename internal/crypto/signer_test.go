package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/mr-tron/base58"
)

func testKeypair(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return key
}

func TestParsePrivateKeyFormats(t *testing.T) {
	key := testKeypair(t)

	jsonArr, err := json.Marshal(keyToInts(key))
	if err != nil {
		t.Fatalf("marshal json array: %v", err)
	}

	cases := []struct {
		name    string
		encoded string
	}{
		{"base58", base58.Encode(key)},
		{"base64", base64.StdEncoding.EncodeToString(key)},
		{"json array", string(jsonArr)},
		{"whitespace trimmed", "  " + base58.Encode(key) + "\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePrivateKey(tc.encoded)
			if err != nil {
				t.Fatalf("ParsePrivateKey: %v", err)
			}
			if !bytes.Equal(got, key) {
				t.Fatal("parsed keypair does not round-trip")
			}
		})
	}
}

func TestParsePrivateKeyRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"garbage", "not-a-key!!!"},
		{"short base58", base58.Encode([]byte{1, 2, 3})},
		{"short json array", "[1,2,3]"},
		{"out of range byte", "[" + string(bytes.Repeat([]byte("300,"), 63)) + "300]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParsePrivateKey(tc.encoded); err == nil {
				t.Fatalf("ParsePrivateKey(%q) should fail", tc.encoded)
			}
		})
	}
}

func TestSignerSignaturesVerify(t *testing.T) {
	key := testKeypair(t)
	s, err := NewSignerFromBytes(key)
	if err != nil {
		t.Fatalf("NewSignerFromBytes: %v", err)
	}

	pub, err := base58.Decode(s.PublicKey())
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	msg := []byte("swap transaction message")
	sig := s.Sign(msg)
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		t.Fatal("signature does not verify against the advertised public key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKeypair(t)

	blob, err := EncryptKey(key, "correct horse battery staple")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(blob, "correct horse battery staple")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatal("decrypted keypair does not match original")
	}

	if _, err := DecryptKey(blob, "wrong password"); err == nil {
		t.Fatal("DecryptKey should fail with the wrong password")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	key := testKeypair(t)
	if _, err := EncryptKey(key, ""); err == nil {
		t.Fatal("EncryptKey should reject an empty password")
	}
	if _, err := EncryptKey(key[:31], "pw"); err == nil {
		t.Fatal("EncryptKey should reject a truncated keypair")
	}
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	key := testKeypair(t)
	s, err := LoadKey(KeyConfig{RawPrivateKey: base58.Encode(key)})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if s.PublicKey() == "" {
		t.Fatal("signer should expose a public key")
	}

	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("LoadKey with no source should fail")
	}
}

func keyToInts(key []byte) []int {
	out := make([]int, len(key))
	for i, b := range key {
		out[i] = int(b)
	}
	return out
}
