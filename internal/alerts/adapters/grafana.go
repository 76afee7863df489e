package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/revguard/revguard/internal/alerts"
)

// GrafanaAdapter parses Grafana alertmanager-compatible webhooks.
// It accepts both the batched notifier shape (receiver/status/alerts[]) and
// the flattened legacy single-alert shape (top-level alertName/severity).
type GrafanaAdapter struct{}

// NewGrafanaAdapter creates a new Grafana adapter
func NewGrafanaAdapter() *GrafanaAdapter {
	return &GrafanaAdapter{}
}

// GrafanaPayload represents the webhook payload from Grafana
type GrafanaPayload struct {
	// Batched alertmanager-compatible format
	Receiver string         `json:"receiver"`
	Status   string         `json:"status"`
	Alerts   []GrafanaAlert `json:"alerts"`

	// Flattened legacy single-alert format
	AlertName   string            `json:"alertName"`
	Severity    string            `json:"severity"`
	Fingerprint string            `json:"fingerprint"`
	RuleID      string            `json:"ruleId"`
	RuleName    string            `json:"ruleName"`
	Message     string            `json:"message"`
	State       string            `json:"state"`
	Labels      map[string]string `json:"labels"`
	StartsAt    string            `json:"startsAt"`
}

// GrafanaAlert represents a single alert in the batched format
type GrafanaAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     string            `json:"startsAt"`
	EndsAt       string            `json:"endsAt"`
	Fingerprint  string            `json:"fingerprint"`
	GeneratorURL string            `json:"generatorURL"`
}

// ValidateWebhookSecret validates the Grafana webhook secret header.
// No configured secret allows all requests.
func (a *GrafanaAdapter) ValidateWebhookSecret(r *http.Request, secret string) error {
	if secret == "" {
		return nil
	}

	got := r.Header.Get("X-Grafana-Secret")
	if got == "" {
		got = r.Header.Get("Authorization")
	}

	if got != secret && got != "Bearer "+secret {
		return fmt.Errorf("invalid webhook secret")
	}

	return nil
}

// ParsePayload parses a Grafana webhook body into canonical events.
// Payloads that carry neither an alerts array nor a recognizable flattened
// alert are rejected as malformed.
func (a *GrafanaAdapter) ParsePayload(body []byte) ([]alerts.Event, error) {
	var payload GrafanaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse grafana payload: %w", err)
	}

	if len(payload.Alerts) > 0 {
		events := make([]alerts.Event, 0, len(payload.Alerts))
		for _, alert := range payload.Alerts {
			events = append(events, a.parseBatchedAlert(alert, string(body)))
		}
		return events, nil
	}

	if payload.AlertName != "" || payload.RuleName != "" || len(payload.Labels) > 0 {
		return []alerts.Event{a.parseFlattenedAlert(payload, string(body))}, nil
	}

	return nil, fmt.Errorf("payload contains no alerts")
}

func (a *GrafanaAdapter) parseBatchedAlert(alert GrafanaAlert, raw string) alerts.Event {
	labels := alert.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	annotations := alert.Annotations
	if annotations == nil {
		annotations = map[string]string{}
	}

	title := labels["alertname"]
	if title == "" {
		title = annotations["summary"]
	}

	status := alerts.NormalizeStatus(alert.Status)

	startsAt := parseGrafanaTime(alert.StartsAt)
	var endsAt *time.Time
	if t := parseGrafanaTime(alert.EndsAt); !t.IsZero() && status == "resolved" {
		endsAt = &t
	}

	return alerts.Event{
		Fingerprint: alert.Fingerprint,
		Status:      status,
		Severity:    alerts.SeverityFromLabels(labels),
		RuleName:    labels["alertname"],
		Title:       title,
		Description: annotations["description"],
		Labels:      labels,
		Annotations: annotations,
		StartsAt:    startsAt,
		EndsAt:      endsAt,
		RawPayload:  raw,
	}
}

func (a *GrafanaAdapter) parseFlattenedAlert(payload GrafanaPayload, raw string) alerts.Event {
	labels := payload.Labels
	if labels == nil {
		labels = map[string]string{}
	}

	severity := payload.Severity
	if severity == "" {
		severity = labels["severity"]
	}
	if severity == "" {
		severity = labels["priority"]
	}

	ruleName := payload.RuleName
	if ruleName == "" {
		ruleName = payload.AlertName
	}

	status := payload.State
	if status == "" {
		status = payload.Status
	}

	return alerts.Event{
		Fingerprint: payload.Fingerprint,
		Status:      alerts.NormalizeStatus(status),
		Severity:    alerts.NormalizeSeverity(severity),
		RuleID:      payload.RuleID,
		RuleName:    ruleName,
		Title:       payload.AlertName,
		Description: payload.Message,
		Labels:      labels,
		Annotations: map[string]string{},
		StartsAt:    parseGrafanaTime(payload.StartsAt),
		RawPayload:  raw,
	}
}

// parseGrafanaTime parses Grafana timestamps, treating the zero sentinel
// ("0001-01-01T00:00:00Z") and unparseable values as absent.
func parseGrafanaTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}
