package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// StringList is a JSONB-backed list of strings (e.g. correlated fingerprints)
type StringList []string

// Scan implements the sql.Scanner interface
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(l)
}

// Contains reports whether the list contains s
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// UintList is a JSONB-backed list of record IDs
type UintList []uint

// Scan implements the sql.Scanner interface
func (l *UintList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface
func (l UintList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]uint{})
	}
	return json.Marshal(l)
}

// AlertSeverity represents normalized severity levels
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityLow      AlertSeverity = "low"
)

// GetSeverityEmoji returns the Slack emoji for a severity level
func GetSeverityEmoji(severity AlertSeverity) string {
	switch severity {
	case AlertSeverityCritical:
		return ":red_circle:"
	case AlertSeverityHigh:
		return ":large_orange_circle:"
	case AlertSeverityMedium:
		return ":large_yellow_circle:"
	case AlertSeverityLow:
		return ":large_blue_circle:"
	default:
		return ":white_circle:"
	}
}

// AlertStatus represents normalized alert status
type AlertStatus string

const (
	AlertStatusFiring   AlertStatus = "firing"
	AlertStatusResolved AlertStatus = "resolved"
)

// CaseStatus represents the status of a case
type CaseStatus string

const (
	CaseStatusOpen            CaseStatus = "open"
	CaseStatusAssigned        CaseStatus = "assigned"
	CaseStatusInProgress      CaseStatus = "in_progress"
	CaseStatusPendingCustomer CaseStatus = "pending_customer"
	CaseStatusPendingVendor   CaseStatus = "pending_vendor"
	CaseStatusResolved        CaseStatus = "resolved"
	CaseStatusClosed          CaseStatus = "closed"
	CaseStatusCancelled       CaseStatus = "cancelled"
)

// TerminalCaseStatuses are states with no further correlation activity.
// A resolved case is deliberately NOT terminal: a re-firing alert reopens
// it instead of spawning a duplicate.
var TerminalCaseStatuses = []CaseStatus{CaseStatusClosed, CaseStatusCancelled}

// AlertEvent is the immutable record of a single inbound alert notification.
// Rows are append-only: never updated or deleted after creation.
type AlertEvent struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	UUID        string        `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Fingerprint string        `gorm:"size:255;not null;index" json:"fingerprint"`
	Status      AlertStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	Severity    AlertSeverity `gorm:"type:varchar(20);not null" json:"severity"`
	RuleID      string        `gorm:"size:255" json:"rule_id"`
	RuleName    string        `gorm:"size:255" json:"rule_name"`
	Title       string        `gorm:"size:512" json:"title"`
	Description string        `gorm:"type:text" json:"description"`
	Labels      JSONB         `gorm:"type:jsonb" json:"labels"`
	Annotations JSONB         `gorm:"type:jsonb" json:"annotations"`
	StartsAt    time.Time     `json:"starts_at"`
	EndsAt      *time.Time    `json:"ends_at,omitempty"`
	RawPayload  string        `gorm:"type:text" json:"raw_payload"`
	ReceivedAt  time.Time     `gorm:"not null;index" json:"received_at"`
	CreatedAt   time.Time     `json:"created_at"`
}

func (AlertEvent) TableName() string {
	return "alert_events"
}

// Case is the unit of human work tracked against one or more correlated alerts
type Case struct {
	ID                      uint          `gorm:"primaryKey" json:"id"`
	UUID                    string        `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	CaseNumber              string        `gorm:"uniqueIndex;size:32;not null" json:"case_number"`
	Title                   string        `gorm:"size:512" json:"title"`
	Description             string        `gorm:"type:text" json:"description"`
	Status                  CaseStatus    `gorm:"type:varchar(20);not null;default:'open';index" json:"status"`
	Severity                AlertSeverity `gorm:"type:varchar(20);not null" json:"severity"`
	PrimaryAlertFingerprint string        `gorm:"size:255;not null;index" json:"primary_alert_fingerprint"`
	RelatedFingerprints     StringList    `gorm:"type:jsonb" json:"related_fingerprints"`
	AssignedUserIDs         UintList      `gorm:"type:jsonb" json:"assigned_user_ids"`
	AssignedTeamIDs         UintList      `gorm:"type:jsonb" json:"assigned_team_ids"`
	SLADeadline             time.Time     `json:"sla_deadline"`
	SLABreached             bool          `gorm:"default:false" json:"sla_breached"`
	AlertCount              int           `gorm:"default:0" json:"alert_count"`
	LastAlertAt             *time.Time    `json:"last_alert_at,omitempty"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
	ResolvedAt              *time.Time    `json:"resolved_at,omitempty"`
	ClosedAt                *time.Time    `json:"closed_at,omitempty"`
}

func (Case) TableName() string {
	return "cases"
}

// IsTerminal returns true if the case is closed or cancelled
func (c *Case) IsTerminal() bool {
	return c.Status == CaseStatusClosed || c.Status == CaseStatusCancelled
}

// IsActive returns true if the case can still correlate alerts.
// Resolved cases count as active so flapping conditions reopen them.
func (c *Case) IsActive() bool {
	return !c.IsTerminal()
}

// CorrelatesFingerprint returns true if the fingerprint belongs to this case
func (c *Case) CorrelatesFingerprint(fingerprint string) bool {
	return c.PrimaryAlertFingerprint == fingerprint || c.RelatedFingerprints.Contains(fingerprint)
}

// IsSLABreachedAt reports whether the SLA is breached at the given instant.
// Derived on read: terminal and resolved states never breach.
func (c *Case) IsSLABreachedAt(now time.Time) bool {
	switch c.Status {
	case CaseStatusResolved, CaseStatusClosed, CaseStatusCancelled:
		return false
	}
	return now.After(c.SLADeadline)
}

// CaseActivity is the immutable audit trail for a case.
// Every status transition, assignment and attached alert appends a row.
type CaseActivity struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CaseID    uint      `gorm:"not null;index" json:"case_id"`
	Kind      string    `gorm:"type:varchar(40);not null" json:"kind"` // status_change, assignment, alert_attached, resolve_candidate, sla_breach
	OldValue  string    `gorm:"size:255" json:"old_value"`
	NewValue  string    `gorm:"size:255" json:"new_value"`
	Actor     string    `gorm:"size:128;not null" json:"actor"` // "system" or a user identifier
	Detail    string    `gorm:"type:text" json:"detail"`
	CreatedAt time.Time `json:"created_at"`

	Case Case `gorm:"foreignKey:CaseID" json:"-"`
}

func (CaseActivity) TableName() string {
	return "case_activities"
}

// Activity kinds
const (
	ActivityStatusChange     = "status_change"
	ActivityAssignment       = "assignment"
	ActivityAlertAttached    = "alert_attached"
	ActivityResolveCandidate = "resolve_candidate"
	ActivitySLABreach        = "sla_breach"
)

// User represents an operator who can be assigned cases
type User struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	Name                   string    `gorm:"size:128;not null" json:"name"`
	Email                  string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	TeamID                 *uint     `gorm:"index" json:"team_id,omitempty"`
	AvailableForAssignment bool      `gorm:"default:true" json:"available_for_assignment"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Team groups users for team-based assignment
type Team struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:128;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Team) TableName() string {
	return "teams"
}

// AssignmentStrategy selects how candidates are picked from a rule
type AssignmentStrategy string

const (
	StrategyManual     AssignmentStrategy = "manual"
	StrategyRoundRobin AssignmentStrategy = "round_robin"
	StrategyLoadBased  AssignmentStrategy = "load_based"
	StrategyTeamBased  AssignmentStrategy = "team_based"
)

// AssignmentRule maps rule/category/severity combinations to candidate assignees.
// Empty match fields act as wildcards. Rules are evaluated in Position order.
type AssignmentRule struct {
	ID               uint               `gorm:"primaryKey" json:"id"`
	Name             string             `gorm:"uniqueIndex;size:128;not null" json:"name"`
	RuleID           string             `gorm:"size:255;index" json:"rule_id"`  // external alert rule reference, empty = any
	Category         string             `gorm:"size:128" json:"category"`       // matched against labels.category, empty = any
	Severity         AlertSeverity      `gorm:"type:varchar(20)" json:"severity"` // empty = any
	Strategy         AssignmentStrategy `gorm:"type:varchar(20);not null" json:"strategy"`
	CandidateUserIDs UintList           `gorm:"type:jsonb" json:"candidate_user_ids"`
	CandidateTeamIDs UintList           `gorm:"type:jsonb" json:"candidate_team_ids"`
	Position         int                `gorm:"default:0;index" json:"position"`
	Enabled          bool               `gorm:"default:true" json:"enabled"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func (AssignmentRule) TableName() string {
	return "assignment_rules"
}

// AssignmentCursor persists the round-robin pointer per rule so fairness
// survives restarts
type AssignmentCursor struct {
	RuleID    uint      `gorm:"primaryKey" json:"rule_id"`
	LastIndex int       `gorm:"default:-1" json:"last_index"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AssignmentCursor) TableName() string {
	return "assignment_cursors"
}

// CorrelationLock is the per-fingerprint mutual-exclusion row. Correlation
// transactions take a row lock on it so two concurrent webhooks for the same
// fingerprint serialize their read-decide-write sequence.
type CorrelationLock struct {
	Fingerprint string    `gorm:"primaryKey;size:255" json:"fingerprint"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

func (CorrelationLock) TableName() string {
	return "correlation_locks"
}

// CaseSequence backs the per-year CASE-YYYY-NNNN counter
type CaseSequence struct {
	Year int `gorm:"primaryKey" json:"year"`
	Next int `gorm:"not null;default:1" json:"next"`
}

func (CaseSequence) TableName() string {
	return "case_sequences"
}
