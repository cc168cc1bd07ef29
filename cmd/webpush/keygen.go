package main

import (
	"fmt"
	"io"

	"github.com/pingpair/webpush"
)

// keygen prints a fresh keypair in the .env format read by internal/config.
func keygen(stdout io.Writer) error {
	public, private, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", public, private)
	return nil
}
