package webpush

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Long enough to not need a new token per send, short enough to bound replay.
const vapidTokenLifetime = 12 * time.Hour

// signingMethodVAPID is ES256 backed by a Signer. Whatever encoding the
// Signer returns, the JWS signature segment is always raw r||s.
type signingMethodVAPID struct{}

var vapidMethod jwt.SigningMethod = signingMethodVAPID{}

func (signingMethodVAPID) Alg() string {
	return jwt.SigningMethodES256.Alg()
}

func (signingMethodVAPID) Sign(signingString string, key any) ([]byte, error) {
	signer, ok := key.(Signer)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	sig, err := signer.Sign([]byte(signingString))
	if err != nil {
		return nil, err
	}
	return NormalizeSignature(sig)
}

func (signingMethodVAPID) Verify(signingString string, sig []byte, key any) error {
	signer, ok := key.(Signer)
	if !ok {
		return jwt.SigningMethodES256.Verify(signingString, sig, key)
	}
	if !VerifySignature(signer.PublicKey(), []byte(signingString), sig) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// BuildAuthToken creates a VAPID JWT for the push service hosting endpoint,
// valid for 12 hours. It returns the token along with the base64url public
// key, the two values of the "vapid t=..., k=..." Authorization header.
func BuildAuthToken(endpoint, subject string, key Signer) (token, publicKey string, err error) {
	return buildAuthToken(endpoint, subject, key, time.Now().Add(vapidTokenLifetime))
}

func buildAuthToken(
	endpoint,
	subject string,
	key Signer,
	expiration time.Time,
) (string, string, error) {
	if key == nil {
		return "", "", fmt.Errorf("%w: missing signing key", ErrAuthToken)
	}

	audience, err := audienceOf(endpoint)
	if err != nil {
		return "", "", err
	}

	// Google & Firefox allow for empty Subscriber, but Apple doesn't.
	if !strings.HasPrefix(subject, "https:") && !strings.HasPrefix(subject, "mailto:") {
		return "", "", fmt.Errorf("%w: invalid subscriber: %q", ErrAuthToken, subject)
	}

	token := jwt.NewWithClaims(vapidMethod, jwt.MapClaims{
		"aud": audience,
		"exp": expiration.Unix(),
		"sub": subject,
	})

	jwtString, err := token.SignedString(key)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrAuthToken, err)
	}
	return jwtString, b64Encode(key.PublicKey()), nil
}

// audienceOf binds a token to a push service rather than one subscriber.
func audienceOf(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: invalid endpoint: %w", ErrAuthToken, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: invalid endpoint: %q", ErrAuthToken, endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

func authHeader(token, publicKey string) string {
	return "vapid t=" + token + ", k=" + publicKey
}
