package wgconf

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/curve25519"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// KeyLength is the size of every WireGuard key in bytes.
const KeyLength = 32

var (
	// ErrKeyLength is returned when the decoded key is not KeyLength bytes.
	ErrKeyLength = errors.New("key has wrong length")
	// ErrKeyEncoding is returned when the text is not valid base64 or hex.
	ErrKeyEncoding = errors.New("key has invalid encoding")
)

// Key is a Curve25519 private, public or preshared key. Keys compare by
// their raw bytes and may be used as map keys.
type Key [KeyLength]byte

// ParseKey parses the standard base64 encoding used by wg-quick files.
func ParseKey(s string) (Key, error) {
	return ParseKeyBase64(s)
}

// ParseKeyBase64 parses a standard (padded) base64 key.
func ParseKeyBase64(s string) (Key, error) {
	var k Key
	if len(s) != base64.StdEncoding.EncodedLen(KeyLength) {
		return k, ErrKeyLength
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return k, ErrKeyEncoding
	}
	if len(b) != KeyLength {
		return k, ErrKeyLength
	}
	copy(k[:], b)
	return k, nil
}

// ParseKeyHex parses a 64 character hex key as used by the userspace API.
func ParseKeyHex(s string) (Key, error) {
	var k Key
	if len(s) != hex.EncodedLen(KeyLength) {
		return k, ErrKeyLength
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return Key{}, ErrKeyEncoding
	}
	return k, nil
}

// GeneratePrivateKey returns a new clamped Curve25519 private key.
func GeneratePrivateKey() (Key, error) {
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return Key{}, err
	}
	return Key(k), nil
}

// GeneratePresharedKey returns 32 random bytes suitable for PresharedKey.
func GeneratePresharedKey() (Key, error) {
	k, err := wgtypes.GenerateKey()
	if err != nil {
		return Key{}, err
	}
	return Key(k), nil
}

// Base64 returns the standard base64 encoding of the key.
func (k Key) Base64() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Hex returns the lowercase hex encoding of the key.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// String returns the base64 encoding.
func (k Key) String() string {
	return k.Base64()
}

// IsZero reports whether every byte of the key is zero.
func (k Key) IsZero() bool {
	var zero Key
	return subtle.ConstantTimeCompare(k[:], zero[:]) == 1
}

// PublicKey derives the public key for a private key.
func (k Key) PublicKey() Key {
	priv := k
	priv[0] &= 248
	priv[31] = (priv[31] & 127) | 64

	var pub Key
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		// Only reachable for low order inputs, which a clamped scalar never is.
		return pub
	}
	copy(pub[:], out)
	return pub
}

// KeyPair is a private key together with its derived public key.
type KeyPair struct {
	private Key
	public  Key
}

// NewKeyPair derives the public half of privateKey.
func NewKeyPair(privateKey Key) KeyPair {
	return KeyPair{private: privateKey, public: privateKey.PublicKey()}
}

// GenerateKeyPair creates a key pair from a freshly generated private key.
func GenerateKeyPair() (KeyPair, error) {
	k, err := GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, err
	}
	return NewKeyPair(k), nil
}

// PrivateKey returns the private half.
func (p KeyPair) PrivateKey() Key { return p.private }

// PublicKey returns the public half.
func (p KeyPair) PublicKey() Key { return p.public }
