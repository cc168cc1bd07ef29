// Command webpush sends Web Push notifications.
//
//	webpush keygen
//	webpush send -sub subscription.json -title Ready -mode encrypted
//	webpush serve
//	webpush decrypt -key <private> -auth <auth> < record
//
// Configuration is read from -config (YAML), a .env file and the
// environment. See internal/config for the variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: webpush <command> [flags]

commands:
  keygen    generate a VAPID keypair
  send      send one notification
  serve     run the push HTTP server
  decrypt   decrypt an aes128gcm record read from stdin
`

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "keygen":
		return keygen(stdout)
	case "send":
		return send(ctx, args, stdin, stdout, stderr)
	case "serve":
		return serve(ctx, args, stderr)
	case "decrypt":
		return decrypt(args, stdin, stdout, stderr)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	}
	fmt.Fprint(stderr, usage)
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		}
		os.Exit(1)
	}
}
