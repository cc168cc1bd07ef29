package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/pingpair/webpush"
	"github.com/pingpair/webpush/internal/config"
	"github.com/pingpair/webpush/internal/logger"
)

type pushRequest struct {
	Subscription webpush.Subscription `json:"subscription"`
	Title        string               `json:"title"`
	Body         string               `json:"body"`
	Mode         string               `json:"mode"`
}

type pushResponse struct {
	ID         string `json:"id"`
	Outcome    string `json:"outcome"`
	StatusCode int    `json:"status_code,omitempty"`
	Location   string `json:"location,omitempty"`
	Error      string `json:"error,omitempty"`
}

type server struct {
	client    *webpush.Client
	publicKey string
	log       *slog.Logger
}

func newServer(client *webpush.Client, publicKey string, log *slog.Logger) http.Handler {
	s := &server{client: client, publicKey: publicKey, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /vapid-public-key", s.vapidPublicKey)
	mux.HandleFunc("POST /push", s.push)
	return mux
}

// vapidPublicKey returns the applicationServerKey for PushManager.subscribe.
func (s *server) vapidPublicKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, s.publicKey)
}

func (s *server) push(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := webpush.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := s.client.Send(r.Context(), &req.Subscription,
		&webpush.Notification{Title: req.Title, Body: req.Body}, mode)
	out := pushResponse{
		ID:         res.ID.String(),
		Outcome:    string(res.Outcome),
		StatusCode: res.StatusCode,
		Location:   res.Location,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}

	status := http.StatusOK
	switch {
	case res.OK():
	case res.Outcome == webpush.OutcomeInvalid:
		status = http.StatusBadRequest
	case res.Expired():
		status = http.StatusGone
	default:
		status = http.StatusBadGateway
	}
	if res.RetryAfter > 0 {
		w.Header().Set("Retry-After", formatSeconds(res.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.Warn("write response", slog.Any("error", err))
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(int64((d+time.Second-1)/time.Second), 10)
}

func serve(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	if err := fs.Parse(args); err != nil {
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

	server := &http.Server{
		Handler:           newServer(client, conf.Identity.PublicKey(), log),
		Addr:              cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	certFile, keyFile := os.Getenv("TLS_CERT_FILE"), os.Getenv("TLS_KEY_FILE")
	if certFile != "" {
		log.Info("serving", slog.String("addr", "https://"+cfg.ListenAddr))
		err = server.ListenAndServeTLS(certFile, keyFile)
	} else {
		log.Info("serving", slog.String("addr", "http://"+cfg.ListenAddr))
		err = server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
