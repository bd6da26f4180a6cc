// Package channel hosts the push-mode receiver: an HTTP listener the
// provider delivers payloads to, feeding the same pipeline as the
// poller.
package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"zrelay/internal/config"
	"zrelay/internal/domain"
	"zrelay/internal/metrics"
	"zrelay/internal/source"
)

// WebhookConfig configures the push receiver.
type WebhookConfig struct {
	Host            string
	Port            int
	Path            string
	Secret          string // HMAC secret for verifying signatures
	MetricsEndpoint string // empty disables the /metrics handler
	Logger          *slog.Logger
	Stats           *metrics.Collector
}

// Webhook accepts provider-pushed payloads and publishes the
// normalized events to the bus. Accept-then-process: the HTTP response
// never waits on (or reports) dispatch outcome, so the provider is not
// blocked or retried by downstream failures.
type Webhook struct {
	host    string
	port    int
	path    string
	secret  string
	metrics string
	bus     domain.MessageBus
	logger  *slog.Logger
	stats   *metrics.Collector
	server  *http.Server
}

// pushPayload is the relay's own minimal push shape. Provider-native
// webhook bodies are handled by the source normalizer instead.
type pushPayload struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.Stats == nil {
		cfg.Stats = metrics.Default
	}
	return &Webhook{
		host:    cfg.Host,
		port:    cfg.Port,
		path:    cfg.Path,
		secret:  cfg.Secret,
		metrics: cfg.MetricsEndpoint,
		logger:  cfg.Logger,
		stats:   cfg.Stats,
	}
}

// FromConfig builds a Webhook from the root config sections.
func FromConfig(cfg *config.Config, logger *slog.Logger, stats *metrics.Collector) *Webhook {
	metricsEndpoint := ""
	if cfg.Metrics.Enabled {
		metricsEndpoint = cfg.Metrics.Endpoint
	}
	return NewWebhook(WebhookConfig{
		Host:            cfg.Webhook.Host,
		Port:            cfg.Webhook.Port,
		Path:            cfg.Webhook.Path,
		Secret:          cfg.Webhook.Secret,
		MetricsEndpoint: metricsEndpoint,
		Logger:          logger,
		Stats:           stats,
	})
}

// Start begins the webhook HTTP server. Blocks until the context is
// cancelled or the server fails.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handlePush)
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	if w.metrics != "" {
		mux.HandleFunc(w.metrics, w.stats.Handler())
	}

	w.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", w.host, w.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.server.Addr, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) handlePush(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		w.reject(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	events, err := w.parse(body)
	if err != nil {
		w.logger.Warn("malformed push payload", "err", err)
		w.reject(rw, "Invalid payload", http.StatusBadRequest)
		return
	}

	for _, ev := range events {
		w.bus.Publish(ev)
	}
	w.stats.WebhookAccepted.Add(int64(len(events)))

	w.logger.Info("push accepted", "events", len(events))

	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(map[string]any{
		"status": "accepted",
		"events": len(events),
	})
}

// parse accepts the relay's minimal {sender, text} shape first, then
// falls back to the provider-native record shapes.
func (w *Webhook) parse(body []byte) ([]domain.ChatEvent, error) {
	var push pushPayload
	if err := json.Unmarshal(body, &push); err == nil {
		sender := strings.TrimSpace(push.Sender)
		text := strings.TrimSpace(push.Text)
		if sender != "" && text != "" {
			return []domain.ChatEvent{{
				EventID: domain.DeriveEventID("", sender, text, time.Time{}),
				Sender:  sender,
				Text:    text,
			}}, nil
		}
	}
	events, err := source.NormalizeAny(body, w.logger)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 && bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
		return nil, fmt.Errorf("no usable message in payload")
	}
	return events, nil
}

func (w *Webhook) reject(rw http.ResponseWriter, msg string, status int) {
	w.stats.WebhookRejected.Add(1)
	http.Error(rw, msg, status)
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
