package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"zrelay/internal/config"
	"zrelay/internal/domain"
)

const maxResponseBytes = 4 << 20

// readPaths are the candidate read endpoints, tried in priority order.
// The provider has answered on different paths across integration
// attempts, so the first HTTP-success with a recognizable shape wins.
var readPaths = []string{"unread-messages", "messages", "chats"}

// Client talks to the chat provider's HTTP API. It implements
// domain.Source and also sends optional acknowledgement replies.
type Client struct {
	apiBase  string
	instance string
	token    string
	client   *http.Client
	logger   *slog.Logger
}

func NewClient(cfg config.ProviderConfig, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiBase:  cfg.APIBase,
		instance: cfg.Instance,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/instances/%s/token/%s/%s", c.apiBase, c.instance, c.token, path)
}

// Fetch tries each candidate read endpoint in order and normalizes the
// first well-formed response. All candidates failing is non-fatal to the
// caller: it returns domain.ErrSourceUnavailable and the next cycle
// retries from the top of the list.
func (c *Client) Fetch(ctx context.Context) ([]domain.ChatEvent, error) {
	for _, path := range readPaths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("read endpoint unreachable", "path", path, "err", err)
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if err != nil {
			c.logger.Warn("read endpoint body failed", "path", path, "err", err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			c.logger.Warn("read endpoint rejected", "path", path, "status", resp.StatusCode)
			continue
		}

		events, err := Normalize(body, c.logger)
		if err != nil {
			c.logger.Warn("read endpoint returned unexpected shape", "path", path, "err", err)
			continue
		}

		c.logger.Debug("fetched messages", "path", path, "count", len(events))
		return events, nil
	}

	return nil, domain.ErrSourceUnavailable
}

// SendText sends a text reply to a recipient via the provider's
// send-text endpoint. Fire-and-forget: callers log failures and move on.
func (c *Client) SendText(ctx context.Context, recipient, text string) error {
	payload, err := json.Marshal(map[string]string{
		"phone":   recipient,
		"message": text,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("send-text"), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("provider send-text %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
