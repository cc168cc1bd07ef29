package webpush

import (
	"encoding/base64"
	"fmt"
	"strings"
)

var stdToURL = strings.NewReplacer("+", "-", "/", "_")

func b64Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// We're being permissive in the variations of B64 encoding being used: Chrome
// has been known to append "=" and some libraries hand out the standard
// alphabet. Everything else is decoded strictly.
func b64Decode(s string) ([]byte, error) {
	s = stdToURL.Replace(strings.TrimRight(s, "="))
	if len(s)%4 == 1 {
		return nil, fmt.Errorf("webpush: invalid base64 length %d", len(s))
	}
	return base64.RawURLEncoding.Strict().DecodeString(s)
}
