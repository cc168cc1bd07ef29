package webpush

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

const (
	privateKeyLen   = 32
	publicKeyLen    = 65
	scalarLen       = 32
	rawSignatureLen = 2 * scalarLen
)

// Signer produces ECDSA P-256 signatures over the SHA-256 digest of a message.
// Implementations may return either raw r||s or ASN.1 DER; callers pass the
// result through NormalizeSignature.
type Signer interface {
	Sign(message []byte) ([]byte, error)
	// PublicKey returns the 65 byte uncompressed public point.
	PublicKey() []byte
}

// SigningKey is a P-256 keypair used to sign VAPID tokens.
type SigningKey struct {
	private *ecdsa.PrivateKey
	public  []byte
}

var _ Signer = (*SigningKey)(nil)

// ImportSigningKey builds a SigningKey from the raw 32 byte scalar and the
// raw 65 byte uncompressed public point. Both halves are required and must
// belong to the same keypair.
func ImportSigningKey(privateKeyRaw, publicKeyRaw []byte) (*SigningKey, error) {
	if len(privateKeyRaw) != privateKeyLen {
		return nil, fmt.Errorf("%w: private key is %d bytes, want %d",
			ErrKeyFormat, len(privateKeyRaw), privateKeyLen)
	}
	if len(publicKeyRaw) != publicKeyLen {
		return nil, fmt.Errorf("%w: public key is %d bytes, want %d",
			ErrKeyFormat, len(publicKeyRaw), publicKeyLen)
	}
	public, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), publicKeyRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrKeyFormat, err)
	}
	private, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), privateKeyRaw)
	if err != nil {
		// the underlying error is not wrapped so the scalar never ends up in
		// an error string
		return nil, fmt.Errorf("%w: private key is not a valid P-256 scalar", ErrKeyFormat)
	}
	if !private.PublicKey.Equal(public) {
		return nil, fmt.Errorf("%w: public key does not match private key", ErrKeyFormat)
	}
	return &SigningKey{private: private, public: bytes.Clone(publicKeyRaw)}, nil
}

// GenerateSigningKey creates a new random P-256 SigningKey.
func GenerateSigningKey() (*SigningKey, error) {
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	public, err := private.PublicKey.Bytes()
	if err != nil {
		return nil, err
	}
	return &SigningKey{private: private, public: public}, nil
}

// Sign returns the ASN.1 DER ECDSA signature of the SHA-256 digest of message.
func (k *SigningKey) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return ecdsa.SignASN1(rand.Reader, k.private, digest[:])
}

// PublicKey returns a copy of the uncompressed public point.
func (k *SigningKey) PublicKey() []byte {
	return bytes.Clone(k.public)
}

// PrivateKeyBytes returns the raw 32 byte private scalar. Store it somewhere
// safe.
func (k *SigningKey) PrivateKeyBytes() ([]byte, error) {
	return k.private.Bytes()
}

// NormalizeSignature converts an ECDSA P-256 signature to the fixed width
// r||s form used by JWS. Signing backends disagree on the output encoding,
// some produce IEEE P1363 (already 64 bytes) and others ASN.1 DER, so both
// are accepted:
//
//	raw: r(32) || s(32)                             passed through
//	DER: 0x30 len 0x02 rlen r 0x02 slen s           integers left padded to 32 bytes
//
// Anything else fails with ErrSignatureFormat.
func NormalizeSignature(sig []byte) ([]byte, error) {
	if len(sig) == rawSignatureLen {
		return sig, nil
	}

	var (
		input = cryptobyte.String(sig)
		inner cryptobyte.String
		r, s  cryptobyte.String
	)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: %d bytes, not raw and not a DER sequence",
			ErrSignatureFormat, len(sig))
	}
	if !inner.ReadASN1(&r, asn1.INTEGER) ||
		!inner.ReadASN1(&s, asn1.INTEGER) ||
		!inner.Empty() {
		return nil, fmt.Errorf("%w: malformed DER integers", ErrSignatureFormat)
	}

	out := make([]byte, rawSignatureLen)
	if err := putScalar(out[:scalarLen], r); err != nil {
		return nil, fmt.Errorf("%w: r: %v", ErrSignatureFormat, err)
	}
	if err := putScalar(out[scalarLen:], s); err != nil {
		return nil, fmt.Errorf("%w: s: %v", ErrSignatureFormat, err)
	}
	return out, nil
}

// putScalar right aligns a DER INTEGER body into dst.
func putScalar(dst, v []byte) error {
	if len(v) == scalarLen+1 {
		// A 33rd byte is only allowed as the zero inserted to keep a high bit
		// from reading as a sign.
		if v[0] != 0 || v[1]&0x80 == 0 {
			return fmt.Errorf("integer is %d bytes", len(v))
		}
		v = v[1:]
	} else if len(v) > 0 && v[0]&0x80 != 0 {
		return fmt.Errorf("negative integer")
	}
	if len(v) == 0 || len(v) > scalarLen {
		return fmt.Errorf("integer is %d bytes", len(v))
	}
	copy(dst[scalarLen-len(v):], v)
	return nil
}

// VerifySignature reports whether raw is a valid r||s signature of message
// for the uncompressed P-256 point publicKeyRaw.
func VerifySignature(publicKeyRaw, message, raw []byte) bool {
	if len(raw) != rawSignatureLen {
		return false
	}
	public, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), publicKeyRaw)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	r := new(big.Int).SetBytes(raw[:scalarLen])
	s := new(big.Int).SetBytes(raw[scalarLen:])
	return ecdsa.Verify(public, digest[:], r, s)
}
