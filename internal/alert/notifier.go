package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"owl-vitals/internal/models"
)

// WebhookNotifier POSTs fired alerts to an external endpoint
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookNotifier creates a notifier for url
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Notify sends one alert. Non-2xx responses are errors.
func (n *WebhookNotifier) Notify(ctx context.Context, a models.Alert) error {
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(a).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to post alert webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode())
	}

	n.logger.Debug("Alert webhook delivered",
		zap.String("alert_id", a.ID),
		zap.String("patient_id", a.PatientID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
