package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

var (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// doWithRetry executes the request with exponential backoff until the
// sink answers 204 No Content or the retry budget runs out. Any other
// status, and any network error, counts as a failed attempt.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), maxRetries int, logger *slog.Logger) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Doubling backoff with jitter, capped.
			backoff := backoffBase << (attempt - 1)
			if backoff > backoffCap {
				backoff = backoffCap
			}
			backoff += time.Duration(rand.Int64N(int64(backoff/2 + 1)))
			logger.Warn("retrying dispatch", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			logger.Warn("dispatch request failed", "attempt", attempt+1, "err", err)
			continue
		}

		if resp.StatusCode == http.StatusNoContent {
			resp.Body.Close()
			return nil
		}

		body := readBody(resp.Body)
		resp.Body.Close()
		lastErr = &DeliveryError{Status: resp.StatusCode, Body: body}
		logger.Warn("dispatch rejected", "attempt", attempt+1,
			"status", resp.StatusCode, "body", truncate(body, 200))
	}

	return fmt.Errorf("dispatch failed after %d attempts: %w", maxRetries+1, lastErr)
}
