// Package dispatch delivers qualifying events to the automation
// trigger with bounded retry.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"zrelay/internal/config"
	"zrelay/internal/domain"
)

// DeliveryError is a terminal dispatch failure: the sink rejected the
// event after the retry budget was exhausted.
type DeliveryError struct {
	Status int
	Body   string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("trigger rejected event: HTTP %d: %s", e.Status, e.Body)
}

// triggerPayload is the wire body for the repository dispatch endpoint.
type triggerPayload struct {
	EventType     string        `json:"event_type"`
	ClientPayload clientPayload `json:"client_payload"`
}

type clientPayload struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// GitHub implements domain.Trigger against the repository-dispatch API.
// Only 204 No Content counts as accepted.
type GitHub struct {
	apiBase    string
	repository string
	token      string
	eventType  string
	maxRetries int
	client     *http.Client
	logger     *slog.Logger
}

func NewGitHub(cfg config.TriggerConfig, logger *slog.Logger) *GitHub {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GitHub{
		apiBase:    cfg.APIBase,
		repository: cfg.Repository,
		token:      cfg.Token,
		eventType:  cfg.EventType,
		maxRetries: cfg.MaxRetries,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Deliver posts the event to the sink, retrying with exponential
// backoff up to the configured ceiling. A nil return means the sink
// explicitly accepted; the caller marks the ledger only then.
func (g *GitHub) Deliver(ctx context.Context, ev domain.ChatEvent) error {
	deliveryID := uuid.NewString()

	// The downstream automation matches on lowercase text.
	body, err := json.Marshal(triggerPayload{
		EventType: g.eventType,
		ClientPayload: clientPayload{
			Sender: ev.Sender,
			Text:   strings.ToLower(ev.Text),
		},
	})
	if err != nil {
		return fmt.Errorf("marshal trigger payload: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/dispatches", g.apiBase, g.repository)

	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+g.token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	err = doWithRetry(ctx, g.client, buildReq, g.maxRetries, g.logger.With("delivery", deliveryID))
	if err != nil {
		g.logger.Error("dispatch abandoned",
			"delivery", deliveryID,
			"sender", ev.Sender,
			"text", truncate(ev.Text, 80),
			"err", err,
		)
		return err
	}

	g.logger.Info("event dispatched",
		"delivery", deliveryID,
		"event_type", g.eventType,
		"sender", ev.Sender,
	)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// readBody drains and truncates a response body for error reporting.
func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(b)
}
