package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xakep666/ecego"
)

// decrypt plays the user agent side of a subscription, for checking what a
// push service would hand to the browser.
func decrypt(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("decrypt", stderr)
	keyB64 := fs.String("key", "", "subscription private key, base64url")
	authB64 := fs.String("auth", "", "subscription auth secret, base64url")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyB64 == "" || *authB64 == "" {
		return errors.New("decrypt: -key and -auth are required")
	}

	rawKey, err := decodeB64(*keyB64)
	if err != nil {
		return fmt.Errorf("decrypt: key: %w", err)
	}
	key, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), rawKey)
	if err != nil {
		return fmt.Errorf("decrypt: key: %w", err)
	}
	auth, err := decodeB64(*authB64)
	if err != nil {
		return fmt.Errorf("decrypt: auth: %w", err)
	}

	record, err := io.ReadAll(stdin)
	if err != nil {
		return err
	}
	engine := ecego.NewEngine(ecego.SingleKey(key), ecego.WithAuthSecret(auth))
	plaintext, err := engine.Decrypt(record, nil, ecego.OperationalParams{Version: ecego.AES128GCM})
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	_, err = stdout.Write(plaintext)
	return err
}

func decodeB64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
