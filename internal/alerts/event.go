package alerts

import (
	"strings"
	"time"

	"github.com/revguard/revguard/internal/database"
)

// Event is the canonical inbound alert all adapters produce. The correlator
// only ever sees this shape; payload-variant detection stays in the adapters.
type Event struct {
	Fingerprint string
	Status      database.AlertStatus
	Severity    database.AlertSeverity

	RuleID   string
	RuleName string

	Title       string
	Description string

	Labels      map[string]string
	Annotations map[string]string

	StartsAt time.Time
	EndsAt   *time.Time

	RawPayload string
}

// NormalizeSeverity normalizes severity strings to standard values.
// Absent or unrecognized values default to medium.
func NormalizeSeverity(severity string) database.AlertSeverity {
	severity = strings.ToLower(strings.TrimSpace(severity))

	switch severity {
	case "critical":
		return database.AlertSeverityCritical
	case "high":
		return database.AlertSeverityHigh
	case "medium":
		return database.AlertSeverityMedium
	case "low":
		return database.AlertSeverityLow
	}

	for normalized, aliases := range DefaultSeverityMapping {
		for _, alias := range aliases {
			if alias == severity {
				return normalized
			}
		}
	}

	return database.AlertSeverityMedium
}

// NormalizeStatus normalizes status strings to standard values
func NormalizeStatus(status string) database.AlertStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "firing", "alerting", "triggered", "active", "problem":
		return database.AlertStatusFiring
	case "resolved", "ok", "recovery", "inactive":
		return database.AlertStatusResolved
	default:
		return database.AlertStatusFiring
	}
}

// SeverityFromLabels reads severity from labels.severity, falling back to
// labels.priority, defaulting to medium when both are absent.
func SeverityFromLabels(labels map[string]string) database.AlertSeverity {
	if v, ok := labels["severity"]; ok && v != "" {
		return NormalizeSeverity(v)
	}
	if v, ok := labels["priority"]; ok && v != "" {
		return NormalizeSeverity(v)
	}
	return database.AlertSeverityMedium
}

// DefaultSeverityMapping maps common upstream severity vocabularies onto the
// four normalized levels
var DefaultSeverityMapping = map[database.AlertSeverity][]string{
	database.AlertSeverityCritical: {"disaster", "p1", "1", "emergency", "fatal"},
	database.AlertSeverityHigh:     {"major", "p2", "2", "error", "severe"},
	database.AlertSeverityMedium:   {"warning", "minor", "p3", "3", "average", "warn"},
	database.AlertSeverityLow:      {"info", "informational", "p4", "4", "notice", "debug"},
}
