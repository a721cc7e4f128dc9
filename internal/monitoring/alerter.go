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

	"github.com/alpenmeteo/townpick/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertUnassignedRate AlertType = "unassigned_rate"
	AlertOutOfRangeRate AlertType = "out_of_range_rate"
	AlertStaleRuns      AlertType = "stale_runs"
)

// minSampleTowns is the smallest town count for which rate alerts fire.
// One full registry run is roughly two thousand localities.
const minSampleTowns = 1000

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check the unassigned-town rate.
	if snap.TownsProcessed >= minSampleTowns && snap.UnassignedRate > a.cfg.UnassignedRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertUnassignedRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Unassigned town rate %.1f%% exceeds threshold %.1f%% (%d of %d towns in last %dh)",
				snap.UnassignedRate*100, a.cfg.UnassignedRateThreshold*100,
				snap.Unassigned, snap.TownsProcessed, snap.LookbackHours,
			),
			Details: map[string]any{
				"unassigned_rate": snap.UnassignedRate,
				"threshold":       a.cfg.UnassignedRateThreshold,
				"unassigned":      snap.Unassigned,
				"towns":           snap.TownsProcessed,
			},
			Timestamp: now,
		})
	}

	// Check the out-of-range rate.
	if a.cfg.OutOfRangeRateThreshold > 0 &&
		snap.TownsProcessed >= minSampleTowns &&
		snap.OutOfRangeRate > a.cfg.OutOfRangeRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertOutOfRangeRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Out-of-range coordinate rate %.2f%% exceeds threshold %.2f%% (%d of %d registry rows in last %dh)",
				snap.OutOfRangeRate*100, a.cfg.OutOfRangeRateThreshold*100,
				snap.OutOfRange, snap.TownsProcessed, snap.LookbackHours,
			),
			Details: map[string]any{
				"out_of_range_rate": snap.OutOfRangeRate,
				"threshold":         a.cfg.OutOfRangeRateThreshold,
				"out_of_range":      snap.OutOfRange,
				"towns":             snap.TownsProcessed,
			},
			Timestamp: now,
		})
	}

	// Check run staleness.
	if a.cfg.MaxRunAgeHours > 0 {
		maxAge := time.Duration(a.cfg.MaxRunAgeHours) * time.Hour
		switch {
		case snap.LastRunAt.IsZero():
			alerts = append(alerts, Alert{
				Type:     AlertStaleRuns,
				Severity: "medium",
				Message: fmt.Sprintf(
					"No labeling runs recorded in the last %dh (maximum age %dh)",
					snap.LookbackHours, a.cfg.MaxRunAgeHours,
				),
				Details: map[string]any{
					"max_age_hours": a.cfg.MaxRunAgeHours,
					"runs_total":    snap.RunsTotal,
				},
				Timestamp: now,
			})
		case now.Sub(snap.LastRunAt) > maxAge:
			age := now.Sub(snap.LastRunAt)
			alerts = append(alerts, Alert{
				Type:     AlertStaleRuns,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Last labeling run is %.1fh old, older than the configured maximum %dh",
					age.Hours(), a.cfg.MaxRunAgeHours,
				),
				Details: map[string]any{
					"last_run_at":   snap.LastRunAt,
					"age_hours":     age.Hours(),
					"max_age_hours": a.cfg.MaxRunAgeHours,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
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
