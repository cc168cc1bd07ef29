package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/daaku/ensure"

	"github.com/pingpair/webpush"
)

var b64 = base64.RawURLEncoding

type userAgent struct {
	private *ecdsa.PrivateKey
	public  []byte
	auth    []byte
}

func newUserAgent(t *testing.T) *userAgent {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	ensure.Nil(t, err)
	public, err := key.PublicKey.Bytes()
	ensure.Nil(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	ensure.Nil(t, err)
	return &userAgent{private: key, public: public, auth: auth}
}

func (ua *userAgent) subscription(endpoint string) webpush.Subscription {
	return webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			Auth:   b64.EncodeToString(ua.auth),
			P256dh: b64.EncodeToString(ua.public),
		},
	}
}

func setIdentityEnv(t *testing.T) {
	t.Helper()
	public, private, err := webpush.GenerateVAPIDKeys()
	ensure.Nil(t, err)
	t.Setenv("VAPID_PUBLIC_KEY", public)
	t.Setenv("VAPID_PRIVATE_KEY", private)
	t.Setenv("VAPID_SUBJECT", "mailto:ops@example.com")
}

func pushService(t *testing.T, status int) (*httptest.Server, *[]*http.Request) {
	t.Helper()
	var seen []*http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r)
		w.Header().Set("Location", "https://push.example.com/m/1")
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestRunUsage(t *testing.T) {
	var stderr bytes.Buffer
	err := run(t.Context(), nil, nil, &bytes.Buffer{}, &stderr)
	ensure.True(t, errors.Is(err, errUsage))
	ensure.StringContains(t, stderr.String(), "keygen")

	err = run(t.Context(), []string{"frobnicate"}, nil, &bytes.Buffer{}, &stderr)
	ensure.Err(t, err, regexp.MustCompile(`unknown command "frobnicate"`))
}

func TestKeygen(t *testing.T) {
	var stdout bytes.Buffer
	ensure.Nil(t, run(t.Context(), []string{"keygen"}, nil, &stdout, &bytes.Buffer{}))
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	ensure.DeepEqual(t, len(lines), 2)
	public := strings.TrimPrefix(lines[0], "VAPID_PUBLIC_KEY=")
	private := strings.TrimPrefix(lines[1], "VAPID_PRIVATE_KEY=")
	_, err := webpush.ParseIdentity(public, private, "mailto:a@b.com")
	ensure.Nil(t, err)
}

func TestDecrypt(t *testing.T) {
	ua := newUserAgent(t)
	plaintext := []byte(`{"title":"Ready","body":"your pair is here"}`)
	record, err := webpush.EncryptPayload(plaintext, ua.public, ua.auth)
	ensure.Nil(t, err)
	private, err := ua.private.Bytes()
	ensure.Nil(t, err)

	var stdout bytes.Buffer
	err = run(t.Context(), []string{
		"decrypt",
		"-key", b64.EncodeToString(private),
		"-auth", b64.EncodeToString(ua.auth),
	}, bytes.NewReader(record), &stdout, &bytes.Buffer{})
	ensure.Nil(t, err)
	ensure.DeepEqual(t, stdout.Bytes(), plaintext)
}

func TestDecryptMissingFlags(t *testing.T) {
	err := run(t.Context(), []string{"decrypt"}, nil, &bytes.Buffer{}, &bytes.Buffer{})
	ensure.Err(t, err, regexp.MustCompile("-key and -auth are required"))
}

func writeSubscription(t *testing.T, sub webpush.Subscription) string {
	t.Helper()
	b, err := json.Marshal(sub)
	ensure.Nil(t, err)
	path := filepath.Join(t.TempDir(), "subscription.json")
	ensure.Nil(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestSendDelivered(t *testing.T) {
	setIdentityEnv(t)
	srv, seen := pushService(t, http.StatusCreated)
	ua := newUserAgent(t)

	var stdout, stderr bytes.Buffer
	err := run(t.Context(), []string{
		"send",
		"-sub", writeSubscription(t, ua.subscription(srv.URL+"/push/abc")),
		"-title", "Ready",
		"-mode", "encrypted",
	}, nil, &stdout, &stderr)
	ensure.Nil(t, err)
	ensure.StringContains(t, stdout.String(), "delivered 201 https://push.example.com/m/1")
	ensure.DeepEqual(t, len(*seen), 1)
	ensure.DeepEqual(t, (*seen)[0].Header.Get("Content-Encoding"), "aes128gcm")
}

func TestSendSubscriptionFromStdin(t *testing.T) {
	setIdentityEnv(t)
	srv, seen := pushService(t, http.StatusCreated)
	ua := newUserAgent(t)
	b, err := json.Marshal(ua.subscription(srv.URL))
	ensure.Nil(t, err)

	err = run(t.Context(), []string{"send"}, bytes.NewReader(b), &bytes.Buffer{}, &bytes.Buffer{})
	ensure.Nil(t, err)
	ensure.DeepEqual(t, len(*seen), 1)
	ensure.DeepEqual(t, (*seen)[0].ContentLength, int64(0))
}

func TestSendExpiredIsNotRetried(t *testing.T) {
	setIdentityEnv(t)
	srv, seen := pushService(t, http.StatusGone)
	ua := newUserAgent(t)

	err := run(t.Context(), []string{
		"send",
		"-sub", writeSubscription(t, ua.subscription(srv.URL)),
		"-retries", "3",
	}, nil, &bytes.Buffer{}, &bytes.Buffer{})
	ensure.Err(t, err, regexp.MustCompile("subscription expired"))
	ensure.True(t, webpush.IsStatus(err, http.StatusGone))
	ensure.DeepEqual(t, len(*seen), 1)
}

func TestSendInvalidMode(t *testing.T) {
	err := run(t.Context(), []string{"send", "-mode", "loud"}, nil, &bytes.Buffer{}, &bytes.Buffer{})
	ensure.Err(t, err, regexp.MustCompile(`invalid mode "loud"`))
}

func newTestServer(t *testing.T, pushStatus int) (http.Handler, string, *[]*http.Request) {
	t.Helper()
	public, private, err := webpush.GenerateVAPIDKeys()
	ensure.Nil(t, err)
	id, err := webpush.ParseIdentity(public, private, "mailto:ops@example.com")
	ensure.Nil(t, err)
	client, err := webpush.NewClient(webpush.Config{Identity: id})
	ensure.Nil(t, err)
	srv, seen := pushService(t, pushStatus)
	return newServer(client, public, slog.New(slog.DiscardHandler)), srv.URL, seen
}

func TestServeVAPIDPublicKey(t *testing.T) {
	h, _, _ := newTestServer(t, http.StatusCreated)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/vapid-public-key", nil))
	ensure.DeepEqual(t, w.Code, http.StatusOK)
	ensure.DeepEqual(t, len(w.Body.String()), 87)
}

func postPush(t *testing.T, h http.Handler, req pushRequest) (*httptest.ResponseRecorder, pushResponse) {
	t.Helper()
	b, err := json.Marshal(req)
	ensure.Nil(t, err)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequestWithContext(context.Background(), http.MethodPost, "/push", bytes.NewReader(b)))
	var out pushResponse
	ensure.Nil(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestServePush(t *testing.T) {
	h, endpoint, seen := newTestServer(t, http.StatusCreated)
	ua := newUserAgent(t)
	w, out := postPush(t, h, pushRequest{
		Subscription: ua.subscription(endpoint),
		Title:        "Ready",
		Mode:         "encrypted",
	})
	ensure.DeepEqual(t, w.Code, http.StatusOK)
	ensure.DeepEqual(t, out.Outcome, string(webpush.OutcomeDelivered))
	ensure.DeepEqual(t, out.StatusCode, http.StatusCreated)
	ensure.DeepEqual(t, out.Location, "https://push.example.com/m/1")
	ensure.DeepEqual(t, len(*seen), 1)
}

func TestServePushExpired(t *testing.T) {
	h, endpoint, _ := newTestServer(t, http.StatusNotFound)
	ua := newUserAgent(t)
	w, out := postPush(t, h, pushRequest{Subscription: ua.subscription(endpoint)})
	ensure.DeepEqual(t, w.Code, http.StatusGone)
	ensure.DeepEqual(t, out.Outcome, string(webpush.OutcomeExpired))
	ensure.StringContains(t, out.Error, "404")
}

func TestServePushInvalidSubscription(t *testing.T) {
	h, _, seen := newTestServer(t, http.StatusCreated)
	w, out := postPush(t, h, pushRequest{})
	ensure.DeepEqual(t, w.Code, http.StatusBadRequest)
	ensure.DeepEqual(t, out.Outcome, string(webpush.OutcomeInvalid))
	ensure.DeepEqual(t, len(*seen), 0)
}

func TestServePushBadJSON(t *testing.T) {
	h, _, _ := newTestServer(t, http.StatusCreated)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/push", strings.NewReader("{")))
	ensure.DeepEqual(t, w.Code, http.StatusBadRequest)
}
