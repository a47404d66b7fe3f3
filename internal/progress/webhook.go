package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kurz/internal/config"
)

const userAgent = "Kurz-Go/0.1.0"

// NewWebhookListener posts each event as JSON to the configured URL.
// Returns nil when no webhook is configured.
func NewWebhookListener(cfg *config.Config) Listener {
	url := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if url == "" {
		return nil
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &webhookListener{
		endpoint: url,
		client:   &http.Client{Timeout: timeout},
	}
}

type webhookListener struct {
	endpoint string
	client   *http.Client
}

func (w *webhookListener) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post progress event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
