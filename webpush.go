// Package webpush supports Generic Event Delivery Using HTTP Push.
//
// Messages are sent either as a silent ping with no body, which the service
// worker turns into a default notification, or as an aes128gcm encrypted
// payload. Both are authenticated with VAPID.
//
// Generic Event Delivery Using HTTP Push
// https://www.rfc-editor.org/rfc/rfc8030.html
//
// Message Encryption for Web Push
// https://www.rfc-editor.org/rfc/rfc8291.html
//
// Voluntary Application Server Identification (VAPID) for Web Push
// https://www.rfc-editor.org/rfc/rfc8292
//
// Encrypted Content-Encoding for HTTP:
// https://www.rfc-editor.org/rfc/rfc8188
//
// MDN Push API:
// https://developer.mozilla.org/en-US/docs/Web/API/Push_API
//
// Apple Push Notification Documentation:
// https://developer.apple.com/documentation/usernotifications/sending-web-push-notifications-in-web-apps-and-browsers
package webpush

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// RFC 8030 section 5.4
	maxTopicLen = 32

	bodyPreviewLen = 512
)

// Urgency directly impacts battery life.
//
// https://www.rfc-editor.org/rfc/rfc8030.html#section-5.3
type Urgency string

const (
	// UrgencyVeryLow targets "On power and Wi-Fi".
	UrgencyVeryLow Urgency = "very-low"
	// UrgencyLow targets "On either power or Wi-Fi".
	UrgencyLow Urgency = "low"
	// UrgencyNormal targets "On neither power nor Wi-Fi".
	UrgencyNormal Urgency = "normal"
	// UrgencyHigh targets any state including "Low battery".
	UrgencyHigh Urgency = "high"
)

func (u Urgency) isValid() bool {
	switch u {
	case UrgencyVeryLow, UrgencyLow, UrgencyNormal, UrgencyHigh:
		return true
	}
	return false
}

// Mode selects how a notification is delivered.
type Mode int

const (
	// ModeSilent sends an empty body. Receiving clients show their default
	// notification. This avoids payload decryption entirely on the client,
	// which some push-receiving clients get wrong.
	ModeSilent Mode = iota
	// ModeEncrypted sends the notification as an aes128gcm body.
	ModeEncrypted
)

func (m Mode) String() string {
	switch m {
	case ModeSilent:
		return "silent"
	case ModeEncrypted:
		return "encrypted"
	}
	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseMode parses the String form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "silent":
		return ModeSilent, nil
	case "encrypted":
		return ModeEncrypted, nil
	}
	return 0, fmt.Errorf("webpush: invalid mode %q", s)
}

// Keys are the Base64 encoded values from the User Agent.
type Keys struct {
	Auth   string `json:"auth"`
	P256dh string `json:"p256dh"`
}

// Subscription represents a PushSubscription from the User Agent.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

type subscriptionKeys struct {
	p256dh []byte
	auth   []byte
}

// decodeKeys validates the subscription before anything is signed or sent.
func (s *Subscription) decodeKeys() (*subscriptionKeys, error) {
	if s == nil || s.Endpoint == "" || s.Keys.Auth == "" || s.Keys.P256dh == "" {
		return nil, fmt.Errorf("%w: missing endpoint or keys", ErrInvalidSubscription)
	}
	auth, err := b64Decode(s.Keys.Auth)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid auth in key: %w", ErrKeyFormat, err)
	}
	if len(auth) != authSecretLen {
		return nil, fmt.Errorf("%w: auth secret is %d bytes, want %d",
			ErrKeyFormat, len(auth), authSecretLen)
	}
	p256dh, err := b64Decode(s.Keys.P256dh)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid public key: %w", ErrKeyFormat, err)
	}
	if len(p256dh) != publicKeyLen || p256dh[0] != 0x04 {
		return nil, fmt.Errorf("%w: invalid public key of %d bytes",
			ErrKeyFormat, len(p256dh))
	}
	return &subscriptionKeys{p256dh: p256dh, auth: auth}, nil
}

// Notification is the payload shown by the receiving service worker.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (n *Notification) marshal() ([]byte, error) {
	if n == nil {
		return nil, nil
	}
	return json.Marshal(n)
}

// Identity is the VAPID identity of this application server. It is loaded
// once and shared by all sends.
type Identity struct {
	Key     *SigningKey
	Subject string // https URL or mailto: email address.
}

// ParseIdentity builds an Identity from Base64 Raw URL encoded keys, as
// produced by GenerateVAPIDKeys.
func ParseIdentity(publicKey, privateKey, subject string) (*Identity, error) {
	public, err := b64Decode(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %w", ErrKeyFormat, err)
	}
	private, err := b64Decode(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key is not valid base64", ErrKeyFormat)
	}
	key, err := ImportSigningKey(private, public)
	if err != nil {
		return nil, err
	}
	return &Identity{Key: key, Subject: subject}, nil
}

// PublicKey returns the Base64 Raw URL encoded public key, the value handed
// to PushManager.subscribe as applicationServerKey.
func (id *Identity) PublicKey() string {
	return b64Encode(id.Key.PublicKey())
}

// GenerateVAPIDKeys creates a keypair in Base64 Raw URL Encoding. Generate
// a key once and store it in your configuration. Use ParseIdentity on
// application startup to parse it for use in the Config.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := GenerateSigningKey()
	if err != nil {
		return "", "", err
	}
	private, err := key.PrivateKeyBytes()
	if err != nil {
		return "", "", err
	}
	return b64Encode(key.PublicKey()), b64Encode(private), nil
}

// Config specifies required and optional aspects for sending a Push Notification.
type Config struct {
	Client          *http.Client  // Optional http.Client, defaults to http.DefaultClient.
	Identity        *Identity     // Required VAPID identity.
	TTL             time.Duration // TTL on the endpoint POST request (rounded to seconds).
	Topic           string        // Optional Topic to collapse pending messages.
	Urgency         Urgency       // Optional Urgency for message priority.
	VAPIDExpiration time.Time     // Optional custom expiration for VAPID JWT token (defaults to now + 12 hours).
	Encryptor       *Encryptor    // Optional, defaults to DefaultEncryptor.
	Logger          *slog.Logger  // Optional, logs are discarded by default.
}

// Client sends push messages. It holds no mutable state and is safe for
// concurrent use.
type Client struct {
	conf Config
}

// NewClient validates conf and returns a Client using it.
func NewClient(conf Config) (*Client, error) {
	if conf.Identity == nil || conf.Identity.Key == nil {
		return nil, fmt.Errorf("webpush: missing VAPID identity")
	}
	if !strings.HasPrefix(conf.Identity.Subject, "https:") &&
		!strings.HasPrefix(conf.Identity.Subject, "mailto:") {
		return nil, fmt.Errorf("webpush: invalid subscriber: %q", conf.Identity.Subject)
	}
	if conf.TTL < 0 {
		return nil, fmt.Errorf("webpush: negative TTL %v", conf.TTL)
	}
	if conf.Urgency != "" && !conf.Urgency.isValid() {
		return nil, fmt.Errorf("webpush: invalid urgency %q", conf.Urgency)
	}
	if !validTopic(conf.Topic) {
		return nil, fmt.Errorf("webpush: invalid topic %q", conf.Topic)
	}
	if conf.Client == nil {
		conf.Client = http.DefaultClient
	}
	if conf.Encryptor == nil {
		conf.Encryptor = DefaultEncryptor
	}
	if conf.Logger == nil {
		conf.Logger = slog.New(slog.DiscardHandler)
	}
	return &Client{conf: conf}, nil
}

func validTopic(topic string) bool {
	if len(topic) > maxTopicLen {
		return false
	}
	for i := 0; i < len(topic); i++ {
		c := topic[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// Send makes a single attempt to deliver n to a Subscription. It never
// retries and always returns a Result; failures are described by
// Result.Outcome and Result.Err. n may be nil, and is ignored in ModeSilent.
func (c *Client) Send(ctx context.Context, s *Subscription, n *Notification, mode Mode) *Result {
	var payload []byte
	if mode == ModeEncrypted {
		var err error
		if payload, err = n.marshal(); err != nil {
			res := &Result{ID: uuid.New(), Outcome: OutcomeInvalid, Err: fmt.Errorf("%w: %w", ErrEncryption, err)}
			c.log(ctx, res, s, mode)
			return res
		}
	}
	return c.SendPayload(ctx, s, payload, mode)
}

// SendPayload is Send for callers with their own payload format. payload is
// encrypted as is in ModeEncrypted and ignored in ModeSilent.
func (c *Client) SendPayload(ctx context.Context, s *Subscription, payload []byte, mode Mode) *Result {
	res := c.send(ctx, s, payload, mode)
	c.log(ctx, res, s, mode)
	return res
}

func (c *Client) send(ctx context.Context, s *Subscription, payload []byte, mode Mode) *Result {
	req, err := c.newRequest(ctx, s, payload, mode)
	res := &Result{ID: uuid.New()}
	if err != nil {
		res.Outcome = OutcomeInvalid
		res.Err = err
		return res
	}

	resp, err := c.conf.Client.Do(req)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = &DeliveryError{Err: err}
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Outcome = classify(resp.StatusCode)
	res.Location = resp.Header.Get("Location")
	res.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, bodyPreviewLen))
	if !res.OK() {
		res.Err = &DeliveryError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(preview)),
		}
	}
	return res
}

func (c *Client) newRequest(ctx context.Context, s *Subscription, payload []byte, mode Mode) (*http.Request, error) {
	keys, err := s.decodeKeys()
	if err != nil {
		return nil, err
	}

	var body io.Reader
	switch mode {
	case ModeSilent:
		body = http.NoBody
	case ModeEncrypted:
		record, err := c.conf.Encryptor.Encrypt(payload, keys.p256dh, keys.auth)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(record)
	default:
		return nil, fmt.Errorf("webpush: invalid mode %v", mode)
	}

	expiration := c.conf.VAPIDExpiration
	if expiration.IsZero() {
		expiration = time.Now().Add(vapidTokenLifetime)
	}
	token, publicKey, err := buildAuthToken(
		s.Endpoint,
		c.conf.Identity.Subject,
		c.conf.Identity.Key,
		expiration,
	)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, body)
	if err != nil {
		return nil, err
	}

	if mode == ModeEncrypted {
		req.Header.Set("Content-Encoding", "aes128gcm")
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	req.Header.Set("TTL", strconv.Itoa(int(c.conf.TTL.Seconds())))
	if c.conf.Topic != "" {
		req.Header.Set("Topic", c.conf.Topic)
	}
	if c.conf.Urgency != "" {
		req.Header.Set("Urgency", string(c.conf.Urgency))
	}
	req.Header.Set("Authorization", authHeader(token, publicKey))
	return req, nil
}

func (c *Client) log(ctx context.Context, res *Result, s *Subscription, mode Mode) {
	attrs := []slog.Attr{
		slog.String("id", res.ID.String()),
		slog.String("push_service", pushService(s)),
		slog.String("mode", mode.String()),
		slog.String("outcome", string(res.Outcome)),
		slog.Int("status", res.StatusCode),
	}
	if res.OK() {
		c.conf.Logger.LogAttrs(ctx, slog.LevelDebug, "push delivered", attrs...)
		return
	}
	if res.RetryAfter > 0 {
		attrs = append(attrs, slog.Duration("retry_after", res.RetryAfter))
	}
	attrs = append(attrs, slog.Any("error", res.Err))
	level := slog.LevelWarn
	if res.Fatal() {
		level = slog.LevelError
	}
	c.conf.Logger.LogAttrs(ctx, level, "push failed", attrs...)
}

// pushService is the endpoint host, endpoints themselves are capability URLs
// and stay out of logs.
func pushService(s *Subscription) string {
	if s == nil {
		return ""
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}
