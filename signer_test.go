package webpush

import (
	"bytes"
	"errors"
	"testing"

	"github.com/daaku/ensure"
)

func derInteger(v []byte) []byte {
	return append([]byte{0x02, byte(len(v))}, v...)
}

func derSignature(r, s []byte) []byte {
	body := append(derInteger(r), derInteger(s)...)
	return append([]byte{0x30, byte(len(body))}, body...)
}

func TestImportSigningKeyLengths(t *testing.T) {
	key, err := GenerateSigningKey()
	ensure.Nil(t, err)
	private, err := key.PrivateKeyBytes()
	ensure.Nil(t, err)
	public := key.PublicKey()

	cases := []struct {
		label   string
		private []byte
		public  []byte
	}{
		{"short private", private[:31], public},
		{"long private", append(bytes.Clone(private), 0), public},
		{"empty private", nil, public},
		{"short public", private, public[:64]},
		{"long public", private, append(bytes.Clone(public), 0)},
		{"compressed public", private, append([]byte{0x02}, public[1:33]...)},
		{"public not on curve", private, append([]byte{0x04}, make([]byte, 64)...)},
		{"zero private", make([]byte, 32), public},
	}
	for _, c := range cases {
		t.Run(c.label, func(t *testing.T) {
			_, err := ImportSigningKey(c.private, c.public)
			ensure.True(t, errors.Is(err, ErrKeyFormat), err)
		})
	}

	imported, err := ImportSigningKey(private, public)
	ensure.Nil(t, err)
	ensure.DeepEqual(t, imported.PublicKey(), public)
}

func TestSignIsVerifiableAfterNormalize(t *testing.T) {
	key, err := GenerateSigningKey()
	ensure.Nil(t, err)
	message := []byte("eyJhbGciOiJFUzI1NiIsInR5cCI6IkpXVCJ9.e30")

	// r has its high bit set about half the time, collect both shapes.
	var padded, unpadded bool
	for i := 0; i < 256 && !(padded && unpadded); i++ {
		der, err := key.Sign(message)
		ensure.Nil(t, err)
		ensure.DeepEqual(t, der[0], byte(0x30))
		if der[3] == 33 {
			padded = true
		} else {
			unpadded = true
		}

		raw, err := NormalizeSignature(der)
		ensure.Nil(t, err)
		ensure.DeepEqual(t, len(raw), 64)
		ensure.True(t, VerifySignature(key.PublicKey(), message, raw))
		ensure.False(t, VerifySignature(key.PublicKey(), []byte("other"), raw))

		again, err := NormalizeSignature(raw)
		ensure.Nil(t, err)
		ensure.DeepEqual(t, again, raw)
	}
	ensure.True(t, padded, "never saw a padded r")
	ensure.True(t, unpadded, "never saw an unpadded r")
}

func TestNormalizeSignatureDERPadding(t *testing.T) {
	r := append([]byte{0x00, 0x80}, bytes.Repeat([]byte{0x11}, 31)...)
	s := []byte{0x01}
	raw, err := NormalizeSignature(derSignature(r, s))
	ensure.Nil(t, err)

	want := make([]byte, 64)
	copy(want, r[1:])
	want[63] = 0x01
	ensure.DeepEqual(t, raw, want)
}

func TestNormalizeSignatureShortIntegers(t *testing.T) {
	r := bytes.Repeat([]byte{0x7f}, 30)
	s := append([]byte{0x00, 0xff}, bytes.Repeat([]byte{0x22}, 31)...)
	raw, err := NormalizeSignature(derSignature(r, s))
	ensure.Nil(t, err)
	ensure.DeepEqual(t, raw[:2], []byte{0, 0})
	ensure.DeepEqual(t, raw[2:32], r)
	ensure.DeepEqual(t, raw[32:], s[1:])
}

func TestNormalizeSignatureInvalid(t *testing.T) {
	high := append([]byte{0x80}, bytes.Repeat([]byte{0x01}, 31)...)
	ok := bytes.Repeat([]byte{0x01}, 32)
	cases := []struct {
		label string
		sig   []byte
	}{
		{"empty", nil},
		{"63 bytes", make([]byte, 63)},
		{"65 bytes", make([]byte, 65)},
		{"wrong sequence tag", append([]byte{0x31}, derSignature(ok, ok)[1:]...)},
		{"wrong integer tag", func() []byte {
			sig := derSignature(ok, ok)
			sig[2] = 0x03
			return sig
		}()},
		{"trailing data", append(derSignature(ok, ok), 0x00)},
		{"one integer", func() []byte {
			body := derInteger(ok)
			return append([]byte{0x30, byte(len(body))}, body...)
		}()},
		{"negative integer", derSignature(high, ok)},
		{"33 bytes without sign pad", derSignature(append([]byte{0x00}, ok...), ok)},
		{"34 bytes", derSignature(append([]byte{0x00, 0x00}, high...), ok)},
		{"empty integer", derSignature([]byte{}, ok)},
	}
	for _, c := range cases {
		t.Run(c.label, func(t *testing.T) {
			_, err := NormalizeSignature(c.sig)
			ensure.True(t, errors.Is(err, ErrSignatureFormat), err)
		})
	}
}

func TestVerifySignatureRejectsGarbage(t *testing.T) {
	key, err := GenerateSigningKey()
	ensure.Nil(t, err)
	ensure.False(t, VerifySignature(key.PublicKey(), []byte("m"), make([]byte, 63)))
	ensure.False(t, VerifySignature([]byte{0x04}, []byte("m"), make([]byte, 64)))
}
