package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// keypairLen is the ed25519 seed-plus-public-key length used by wallet
// keypair exports.
const keypairLen = ed25519.PrivateKeySize

// Signer holds the wallet keypair and signs transaction messages for chain
// submission.
type Signer struct {
	key    ed25519.PrivateKey
	pubB58 string // cached base58 public key
}

// NewSigner creates a Signer from an encoded private key. Accepted formats,
// tried in order:
//   - JSON byte array ("[12,34,...]", the CLI id.json format)
//   - base58-encoded 64-byte keypair (wallet export format)
//   - base64-encoded 64-byte keypair
func NewSigner(encoded string) (*Signer, error) {
	keypair, err := ParsePrivateKey(encoded)
	if err != nil {
		return nil, err
	}
	return NewSignerFromBytes(keypair)
}

// NewSignerFromBytes creates a Signer from a raw 64-byte ed25519 keypair.
func NewSignerFromBytes(keypair []byte) (*Signer, error) {
	if len(keypair) != keypairLen {
		return nil, fmt.Errorf("crypto/signer: expected %d-byte keypair, got %d bytes", keypairLen, len(keypair))
	}
	key := ed25519.PrivateKey(keypair)
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: unexpected public key type %T", key.Public())
	}
	return &Signer{
		key:    key,
		pubB58: base58.Encode(pub),
	}, nil
}

// ParsePrivateKey decodes an encoded ed25519 keypair in any of the formats
// NewSigner documents.
func ParsePrivateKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("crypto/signer: empty private key")
	}

	// The JSON array form is unambiguous by its leading bracket.
	if strings.HasPrefix(encoded, "[") {
		var vals []int
		if err := json.Unmarshal([]byte(encoded), &vals); err != nil {
			return nil, fmt.Errorf("crypto/signer: invalid JSON key array: %w", err)
		}
		if len(vals) != keypairLen {
			return nil, fmt.Errorf("crypto/signer: JSON key array has %d bytes, want %d", len(vals), keypairLen)
		}
		raw := make([]byte, keypairLen)
		for i, v := range vals {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("crypto/signer: JSON key array byte %d out of range: %d", i, v)
			}
			raw[i] = byte(v)
		}
		return raw, nil
	}

	if decoded, err := base58.Decode(encoded); err == nil && len(decoded) == keypairLen {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(decoded) == keypairLen {
		return decoded, nil
	}

	return nil, fmt.Errorf("crypto/signer: key is not a %d-byte base58, base64, or JSON-array keypair", keypairLen)
}

// PublicKey returns the wallet address as a base58 string.
func (s *Signer) PublicKey() string {
	return s.pubB58
}

// Sign signs message with the wallet key and returns the 64-byte signature.
func (s *Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.key, message)
}

// String returns a redacted representation suitable for logging.
func (s *Signer) String() string {
	addr := s.pubB58
	if len(addr) > 8 {
		addr = addr[:8] + "..."
	}
	return fmt.Sprintf("Signer{address=%s}", addr)
}
