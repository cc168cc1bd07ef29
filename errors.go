package webpush

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyFormat is returned for malformed key material: wrong lengths,
	// points that are not uncompressed P-256 points, or mismatched halves of
	// a keypair.
	ErrKeyFormat = errors.New("webpush: invalid key format")

	// ErrSignatureFormat is returned when a signature is neither raw r||s nor
	// an ASN.1 DER ECDSA signature.
	ErrSignatureFormat = errors.New("webpush: invalid signature format")

	// ErrAuthToken is returned when the VAPID token could not be built.
	ErrAuthToken = errors.New("webpush: auth token")

	// ErrEncryption is returned when the payload could not be encrypted.
	ErrEncryption = errors.New("webpush: encryption")

	// ErrInvalidSubscription is returned for subscriptions missing their
	// endpoint or keys.
	ErrInvalidSubscription = errors.New("webpush: invalid subscription")
)

// DeliveryError describes a push attempt rejected by the push service, or one
// that never got a response. StatusCode is 0 for network failures.
type DeliveryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("webpush: request failed: %v", e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("webpush: push service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("webpush: push service returned %d: %s", e.StatusCode, e.Body)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err wraps a DeliveryError with the given status.
func IsStatus(err error, code int) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.StatusCode == code
	}
	return false
}
