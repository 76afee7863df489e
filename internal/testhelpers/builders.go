// Package testhelpers provides additional data builders for testing
package testhelpers

import (
	"time"

	"github.com/google/uuid"

	"github.com/revguard/revguard/internal/alerts"
	"github.com/revguard/revguard/internal/database"
)

// ========================================
// Event Builder
// ========================================

// EventBuilder builds canonical alert events for testing
type EventBuilder struct {
	event alerts.Event
}

// NewEventBuilder creates a new event builder with defaults
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{
		event: alerts.Event{
			Fingerprint: "test-fingerprint",
			Status:      database.AlertStatusFiring,
			Severity:    database.AlertSeverityMedium,
			RuleID:      "rule-1",
			RuleName:    "TestRule",
			Title:       "Test alert",
			Description: "Test alert description",
			Labels:      map[string]string{},
			Annotations: map[string]string{},
			StartsAt:    time.Now(),
		},
	}
}

// WithFingerprint sets the fingerprint
func (b *EventBuilder) WithFingerprint(fp string) *EventBuilder {
	b.event.Fingerprint = fp
	return b
}

// WithStatus sets the status
func (b *EventBuilder) WithStatus(status database.AlertStatus) *EventBuilder {
	b.event.Status = status
	return b
}

// Resolved marks the event as resolved
func (b *EventBuilder) Resolved() *EventBuilder {
	b.event.Status = database.AlertStatusResolved
	now := time.Now()
	b.event.EndsAt = &now
	return b
}

// WithSeverity sets the severity
func (b *EventBuilder) WithSeverity(severity database.AlertSeverity) *EventBuilder {
	b.event.Severity = severity
	return b
}

// WithRule sets the rule id and name
func (b *EventBuilder) WithRule(id, name string) *EventBuilder {
	b.event.RuleID = id
	b.event.RuleName = name
	return b
}

// WithTitle sets the title
func (b *EventBuilder) WithTitle(title string) *EventBuilder {
	b.event.Title = title
	return b
}

// WithLabel adds a label
func (b *EventBuilder) WithLabel(key, value string) *EventBuilder {
	b.event.Labels[key] = value
	return b
}

// Build returns the constructed event
func (b *EventBuilder) Build() alerts.Event {
	return b.event
}

// ========================================
// Case Builder
// ========================================

// CaseBuilder builds Case instances for testing
type CaseBuilder struct {
	c database.Case
}

// NewCaseBuilder creates a new case builder with defaults
func NewCaseBuilder() *CaseBuilder {
	now := time.Now()
	return &CaseBuilder{
		c: database.Case{
			UUID:                    uuid.New().String(),
			CaseNumber:              "CASE-2026-0001",
			Title:                   "Test case",
			Status:                  database.CaseStatusOpen,
			Severity:                database.AlertSeverityMedium,
			PrimaryAlertFingerprint: "test-fingerprint",
			SLADeadline:             now.Add(4 * time.Hour),
			AlertCount:              1,
			LastAlertAt:             &now,
		},
	}
}

// WithCaseNumber sets the case number
func (b *CaseBuilder) WithCaseNumber(number string) *CaseBuilder {
	b.c.CaseNumber = number
	return b
}

// WithStatus sets the status
func (b *CaseBuilder) WithStatus(status database.CaseStatus) *CaseBuilder {
	b.c.Status = status
	return b
}

// WithSeverity sets the severity
func (b *CaseBuilder) WithSeverity(severity database.AlertSeverity) *CaseBuilder {
	b.c.Severity = severity
	return b
}

// WithFingerprint sets the primary alert fingerprint
func (b *CaseBuilder) WithFingerprint(fp string) *CaseBuilder {
	b.c.PrimaryAlertFingerprint = fp
	return b
}

// WithRelatedFingerprints sets related fingerprints
func (b *CaseBuilder) WithRelatedFingerprints(fps ...string) *CaseBuilder {
	b.c.RelatedFingerprints = fps
	return b
}

// WithAssignedUsers sets assigned user ids
func (b *CaseBuilder) WithAssignedUsers(ids ...uint) *CaseBuilder {
	b.c.AssignedUserIDs = ids
	return b
}

// WithSLADeadline sets the SLA deadline
func (b *CaseBuilder) WithSLADeadline(deadline time.Time) *CaseBuilder {
	b.c.SLADeadline = deadline
	return b
}

// Resolved marks the case resolved
func (b *CaseBuilder) Resolved() *CaseBuilder {
	b.c.Status = database.CaseStatusResolved
	now := time.Now()
	b.c.ResolvedAt = &now
	return b
}

// Build returns the constructed case
func (b *CaseBuilder) Build() database.Case {
	return b.c
}
