package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trend-curator/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertConfigAutoPaused AlertType = "config_auto_paused"
	AlertErrorConfigs     AlertType = "configs_in_error"
	AlertOverdueSchedules AlertType = "overdue_schedules"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates snapshots and posts alerts to a webhook.
type Alerter struct {
	webhookURL string
	client     *http.Client
}

// NewAlerter creates a new Alerter. An empty webhook URL disables delivery.
func NewAlerter(webhookURL string) *Alerter {
	return &Alerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts a snapshot warrants.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.ConfigsError > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertErrorConfigs,
			Severity: "medium",
			Message:  fmt.Sprintf("%d scan config(s) are auto-paused in error state", snap.ConfigsError),
			Details: map[string]any{
				"config_ids": snap.ErrorIDs,
			},
			Timestamp: now,
		})
	}

	if snap.Overdue > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertOverdueSchedules,
			Severity: "high",
			Message:  fmt.Sprintf("%d active scan config(s) missed their scheduled run", snap.Overdue),
			Details: map[string]any{
				"config_ids": snap.OverdueIDs,
				"active":     snap.ConfigsActive,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// AutoPaused builds the alert sent when a config trips the failure limit.
func AutoPaused(cfg *model.ScanConfig) Alert {
	return Alert{
		Type:     AlertConfigAutoPaused,
		Severity: "high",
		Message: fmt.Sprintf("scan config %s auto-paused after %d consecutive failures",
			cfg.ID, cfg.ConsecutiveErrors),
		Details: map[string]any{
			"config_id":  cfg.ID,
			"project_id": cfg.ProjectID,
			"user_id":    cfg.UserID,
			"last_error": cfg.LastError,
		},
		Timestamp: time.Now().UTC(),
	}
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a == nil || a.webhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
