package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookNotifier posts the terminal job report to a configured URL.
// One attempt, best effort: failures are returned for logging, never
// retried, and never affect the job outcome.
type WebhookNotifier struct {
	url        string
	secret     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookNotifier constructs a notifier. secret, when set, is sent
// as a bearer token.
func NewWebhookNotifier(url, secret string, httpClient *http.Client, logger *zap.Logger) *WebhookNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{url: url, secret: secret, httpClient: httpClient, logger: logger}
}

// Notify sends the report.
func (n *WebhookNotifier) Notify(ctx context.Context, report Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("Authorization", "Bearer "+n.secret)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug("webhook delivered",
		zap.String("job_id", report.JobID),
		zap.Int("alerts", len(report.Alerts)),
	)
	return nil
}
