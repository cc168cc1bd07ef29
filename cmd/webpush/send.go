package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pingpair/webpush"
	"github.com/pingpair/webpush/internal/config"
	"github.com/pingpair/webpush/internal/logger"
	"github.com/pingpair/webpush/internal/retry"
)

// resultError exposes a failed Result to the retry loop.
type resultError struct {
	res *webpush.Result
}

func (e *resultError) Error() string {
	return fmt.Sprintf("push %s: %s: %v", e.res.ID, e.res.Outcome, e.res.Err)
}

func (e *resultError) Unwrap() error { return e.res.Err }

func (e *resultError) RetryAfter() time.Duration { return e.res.RetryAfter }

func send(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("send", stderr)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	subPath := fs.String("sub", "-", "subscription JSON file, - for stdin")
	title := fs.String("title", "", "notification title")
	body := fs.String("body", "", "notification body")
	modeName := fs.String("mode", "silent", "delivery mode: silent or encrypted")
	retries := fs.Int("retries", 0, "retries for rate limited or failed deliveries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode, err := webpush.ParseMode(*modeName)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := logger.New(stderr, cfg.Log.Level, cfg.Log.Format)
	conf, err := cfg.ClientConfig(log)
	if err != nil {
		return err
	}
	client, err := webpush.NewClient(conf)
	if err != nil {
		return err
	}

	sub, err := readSubscription(*subPath, stdin)
	if err != nil {
		return err
	}
	n := &webpush.Notification{Title: *title, Body: *body}

	policy := retry.Config{
		MaxAttempts:    *retries + 1,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
	var last *webpush.Result
	err = retry.Do(ctx, policy, func() error {
		last = client.Send(ctx, sub, n, mode)
		if last.OK() {
			return nil
		}
		if !last.Retryable() {
			return retry.Permanent(&resultError{res: last})
		}
		return &resultError{res: last}
	})
	if err != nil {
		if last != nil && last.Expired() {
			return fmt.Errorf("subscription expired, remove it: %w", err)
		}
		return err
	}
	fmt.Fprintf(stdout, "%s %s %d %s\n", last.ID, last.Outcome, last.StatusCode, last.Location)
	return nil
}

func readSubscription(path string, stdin io.Reader) (*webpush.Subscription, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var sub webpush.Subscription
	if err := json.NewDecoder(r).Decode(&sub); err != nil {
		return nil, fmt.Errorf("subscription: %w", err)
	}
	return &sub, nil
}
