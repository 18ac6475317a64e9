package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"btcalert/internal/threshold"
)

// NtfySurface publishes notifications to an ntfy topic URL.
type NtfySurface struct {
	endpoint  string
	userAgent string
	client    *http.Client
	logger    zerolog.Logger
}

// NewNtfySurface builds an ntfy publisher for topicURL.
func NewNtfySurface(topicURL, userAgent string, timeout time.Duration, logger zerolog.Logger) *NtfySurface {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NtfySurface{
		endpoint:  strings.TrimSpace(topicURL),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "notify_ntfy").Logger(),
	}
}

// Show posts the body with title/icon headers.
func (n *NtfySurface) Show(ctx context.Context, payload threshold.Payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(payload.Body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}
	if payload.Title != "" {
		req.Header.Set("Title", payload.Title)
	}
	if payload.Icon != "" && strings.HasPrefix(payload.Icon, "http") {
		req.Header.Set("Icon", payload.Icon)
	}
	req.Header.Set("Tags", "chart_with_upwards_trend")
	req.Header.Set("Priority", "high")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	n.logger.Info().Str("title", payload.Title).Msg("notification sent (ntfy)")
	return nil
}

var _ Surface = (*NtfySurface)(nil)
