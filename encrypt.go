package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"

	"golang.org/x/crypto/hkdf"
)

const (
	// Push services are not required to support more than this.
	// Apple for example does not.
	maxRecordSize = 4096

	saltLen       = 16
	authSecretLen = 16
	keyLen        = 16
	nonceLen      = 12

	// salt: 16 + record size: 4 + key id length: 1 + key id: 65
	headerLen = 86

	// header: 86 + padding delimiter: 1 + AEAD_AES_128_GCM Expansion: 16
	minOverhead = 103

	// MaxPayloadSize is the largest plaintext that fits a single record.
	MaxPayloadSize = maxRecordSize - minOverhead
)

var (
	webPushInfo              = []byte("WebPush: info\x00")
	contentEncryptionKeyInfo = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo                = []byte("Content-Encoding: nonce\x00")
)

// KeyAgreement performs ECDH with a subscriber using a fresh ephemeral key.
type KeyAgreement interface {
	// Agree generates a new ephemeral key pair and returns its uncompressed
	// public point together with the secret it shares with peer.
	Agree(peer []byte) (ephemeralPublic, secret []byte, err error)
}

// AEADCipher seals plaintext under a content encryption key and nonce.
type AEADCipher interface {
	Seal(key, nonce, plaintext []byte) ([]byte, error)
}

type p256Agreement struct{}

func (p256Agreement) Agree(peer []byte) ([]byte, []byte, error) {
	peerKey, err := ecdh.P256().NewPublicKey(peer)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: subscriber key: %v", ErrKeyFormat, err)
	}
	// New key for this message, never reused.
	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	secret, err := ephemeral.ECDH(peerKey)
	if err != nil {
		return nil, nil, err
	}
	return ephemeral.PublicKey().Bytes(), secret, nil
}

type aes128GCM struct{}

func (aes128GCM) Seal(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

// Encryptor implements the aes128gcm content coding for Web Push messages.
type Encryptor struct {
	Agreement KeyAgreement
	Cipher    AEADCipher
}

// DefaultEncryptor uses P-256 ECDH and AES-128-GCM.
var DefaultEncryptor = &Encryptor{
	Agreement: p256Agreement{},
	Cipher:    aes128GCM{},
}

// EncryptPayload encrypts plaintext for a subscriber using DefaultEncryptor.
func EncryptPayload(plaintext, subscriberKey, authSecret []byte) ([]byte, error) {
	return DefaultEncryptor.Encrypt(plaintext, subscriberKey, authSecret)
}

// Encrypt returns the aes128gcm body for plaintext:
//
//	salt(16) || rs(4) || idlen(1) || keyid(65) || ciphertext || tag(16)
//
// The whole message goes in a single record, with no padding beyond the
// 0x02 delimiter.
func (e *Encryptor) Encrypt(plaintext, subscriberKey, authSecret []byte) ([]byte, error) {
	if len(subscriberKey) != publicKeyLen || subscriberKey[0] != 0x04 {
		return nil, fmt.Errorf(
			"%w: subscriber key must be a %d byte uncompressed point",
			ErrKeyFormat, publicKeyLen)
	}
	if len(authSecret) != authSecretLen {
		return nil, fmt.Errorf("%w: auth secret is %d bytes, want %d",
			ErrKeyFormat, len(authSecret), authSecretLen)
	}
	if len(plaintext) > MaxPayloadSize {
		return nil, fmt.Errorf(
			"%w: message length of %v is too long for record size of %v",
			ErrEncryption, len(plaintext), maxRecordSize)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("%w: salt: %w", ErrEncryption, err)
	}

	ephemeralPublic, secret, err := e.Agreement.Agree(subscriberKey)
	if err != nil {
		return nil, wrapEncryption(err)
	}
	if len(ephemeralPublic) != publicKeyLen {
		return nil, fmt.Errorf("%w: ephemeral key is %d bytes",
			ErrEncryption, len(ephemeralPublic))
	}

	cek, nonce, err := deriveContentKeys(secret, authSecret, salt, subscriberKey, ephemeralPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
	}

	ciphertext, err := e.Cipher.Seal(cek, nonce, append(slices.Clip(plaintext), 0x02))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
	}

	record := make([]byte, 0, headerLen+len(ciphertext))
	record = append(record, salt...)
	record = binary.BigEndian.AppendUint32(record, maxRecordSize)
	record = append(record, byte(len(ephemeralPublic)))
	record = append(record, ephemeralPublic...)
	record = append(record, ciphertext...)
	return record, nil
}

// deriveContentKeys runs the two HKDF stages of RFC 8291 section 3.4: the
// auth secret mixes into the ECDH secret, then the per message salt yields
// the content encryption key and nonce.
func deriveContentKeys(secret, authSecret, salt, uaPublic, asPublic []byte) (cek, nonce []byte, err error) {
	keyInfo := slices.Concat(webPushInfo, uaPublic, asPublic)
	ikm, err := hkdfRead(hkdf.New(sha256.New, secret, authSecret, keyInfo), 32)
	if err != nil {
		return nil, nil, err
	}

	prk := hkdf.Extract(sha256.New, ikm, salt)
	if cek, err = hkdfRead(hkdf.Expand(sha256.New, prk, contentEncryptionKeyInfo), keyLen); err != nil {
		return nil, nil, err
	}
	if nonce, err = hkdfRead(hkdf.Expand(sha256.New, prk, nonceInfo), nonceLen); err != nil {
		return nil, nil, err
	}
	return cek, nonce, nil
}

func hkdfRead(r io.Reader, length int) ([]byte, error) {
	key := make([]byte, length)
	_, err := io.ReadFull(r, key)
	return key, err
}

func wrapEncryption(err error) error {
	if errors.Is(err, ErrKeyFormat) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEncryption, err)
}
