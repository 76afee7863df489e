package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/revguard/revguard/internal/database"
)

// ErrInvalidTransition is returned when a requested case status transition is
// not in the allowed transition table
var ErrInvalidTransition = errors.New("invalid case status transition")

// Lifecycle event types
const (
	EventCaseCreated      = "case_created"
	EventStatusChanged    = "status_changed"
	EventCaseAssigned     = "case_assigned"
	EventAlertAttached    = "alert_attached"
	EventResolveCandidate = "resolve_candidate"
	EventSLABreached      = "sla_breached"
)

// LifecycleEvent is emitted on case creation and every status transition,
// to be consumed by the notification/WebSocket layer
type LifecycleEvent struct {
	Type       string                 `json:"type"`
	CaseID     uint                   `json:"case_id"`
	CaseUUID   string                 `json:"case_uuid"`
	CaseNumber string                 `json:"case_number"`
	Title      string                 `json:"title"`
	Severity   database.AlertSeverity `json:"severity"`
	From       database.CaseStatus    `json:"from,omitempty"`
	To         database.CaseStatus    `json:"to,omitempty"`
	Actor      string                 `json:"actor"`
	Timestamp  time.Time              `json:"timestamp"`
}

// EventSink consumes lifecycle events. Delivery is best-effort; sinks must
// not block the caller.
type EventSink interface {
	PublishCaseEvent(event LifecycleEvent)
}

// allowedTransitions is the case state machine. Anything absent from this
// table is rejected, never silently coerced.
var allowedTransitions = map[database.CaseStatus][]database.CaseStatus{
	database.CaseStatusOpen:            {database.CaseStatusAssigned, database.CaseStatusCancelled},
	database.CaseStatusAssigned:        {database.CaseStatusInProgress, database.CaseStatusPendingCustomer, database.CaseStatusPendingVendor, database.CaseStatusCancelled},
	database.CaseStatusInProgress:      {database.CaseStatusPendingCustomer, database.CaseStatusPendingVendor, database.CaseStatusResolved},
	database.CaseStatusPendingCustomer: {database.CaseStatusInProgress, database.CaseStatusResolved},
	database.CaseStatusPendingVendor:   {database.CaseStatusInProgress, database.CaseStatusResolved},
	database.CaseStatusResolved:        {database.CaseStatusClosed, database.CaseStatusInProgress},
	database.CaseStatusCancelled:       {database.CaseStatusOpen},
	database.CaseStatusClosed:          {},
}

// CanTransition reports whether from -> to is an allowed transition
func CanTransition(from, to database.CaseStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// LifecycleService owns the case state machine and the immutable audit
// trail, and fans lifecycle events out to registered sinks.
type LifecycleService struct {
	db    *gorm.DB
	sinks []EventSink
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(db *gorm.DB) *LifecycleService {
	return &LifecycleService{db: db}
}

// AddSink registers an event sink
func (s *LifecycleService) AddSink(sink EventSink) {
	s.sinks = append(s.sinks, sink)
}

// Publish delivers events to all sinks. Called after the owning transaction
// has committed so sinks never observe rolled-back state.
func (s *LifecycleService) Publish(events []LifecycleEvent) {
	for _, event := range events {
		for _, sink := range s.sinks {
			sink.PublishCaseEvent(event)
		}
	}
}

// CreateCase persists a new case in OPEN state with its creation audit entry
func (s *LifecycleService) CreateCase(tx *gorm.DB, c *database.Case, actor string) (LifecycleEvent, error) {
	c.Status = database.CaseStatusOpen
	if err := tx.Create(c).Error; err != nil {
		return LifecycleEvent{}, fmt.Errorf("failed to create case: %w", err)
	}

	activity := &database.CaseActivity{
		CaseID:   c.ID,
		Kind:     database.ActivityStatusChange,
		OldValue: "",
		NewValue: string(database.CaseStatusOpen),
		Actor:    actor,
		Detail:   "case created",
	}
	if err := tx.Create(activity).Error; err != nil {
		return LifecycleEvent{}, fmt.Errorf("failed to record case creation: %w", err)
	}

	return s.eventFor(c, EventCaseCreated, "", database.CaseStatusOpen, actor), nil
}

// Transition applies from -> to within the given transaction, appending the
// audit record. Invalid transitions return ErrInvalidTransition and leave the
// case unchanged.
func (s *LifecycleService) Transition(tx *gorm.DB, c *database.Case, to database.CaseStatus, actor string) (LifecycleEvent, error) {
	from := c.Status
	if !CanTransition(from, to) {
		return LifecycleEvent{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	switch to {
	case database.CaseStatusResolved:
		updates["resolved_at"] = now
	case database.CaseStatusClosed:
		updates["closed_at"] = now
	}

	if err := tx.Model(&database.Case{}).Where("id = ?", c.ID).Updates(updates).Error; err != nil {
		return LifecycleEvent{}, fmt.Errorf("failed to transition case %s: %w", c.CaseNumber, err)
	}

	activity := &database.CaseActivity{
		CaseID:   c.ID,
		Kind:     database.ActivityStatusChange,
		OldValue: string(from),
		NewValue: string(to),
		Actor:    actor,
	}
	if err := tx.Create(activity).Error; err != nil {
		return LifecycleEvent{}, fmt.Errorf("failed to record transition: %w", err)
	}

	c.Status = to
	c.UpdatedAt = now
	switch to {
	case database.CaseStatusResolved:
		c.ResolvedAt = &now
	case database.CaseStatusClosed:
		c.ClosedAt = &now
	}

	return s.eventFor(c, EventStatusChanged, from, to, actor), nil
}

// Assign persists an assignment recommendation and attempts OPEN -> ASSIGNED.
// An empty recommendation leaves the case open and unassigned, which is a
// valid state, not an error.
func (s *LifecycleService) Assign(tx *gorm.DB, c *database.Case, result *AssignmentResult, actor string) ([]LifecycleEvent, error) {
	if result == nil || result.IsEmpty() {
		return nil, nil
	}

	updates := map[string]interface{}{
		"assigned_user_ids": result.UserIDs,
		"assigned_team_ids": result.TeamIDs,
		"updated_at":        time.Now(),
	}
	if err := tx.Model(&database.Case{}).Where("id = ?", c.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to persist assignment: %w", err)
	}
	c.AssignedUserIDs = result.UserIDs
	c.AssignedTeamIDs = result.TeamIDs

	detail := fmt.Sprintf("strategy=%s users=%v teams=%v", result.Strategy, result.UserIDs, result.TeamIDs)
	if result.RuleName != "" {
		detail = fmt.Sprintf("rule=%s %s", result.RuleName, detail)
	}
	activity := &database.CaseActivity{
		CaseID:   c.ID,
		Kind:     database.ActivityAssignment,
		NewValue: detail,
		Actor:    actor,
		Detail:   detail,
	}
	if err := tx.Create(activity).Error; err != nil {
		return nil, fmt.Errorf("failed to record assignment: %w", err)
	}

	events := []LifecycleEvent{s.eventFor(c, EventCaseAssigned, c.Status, c.Status, actor)}

	if c.Status == database.CaseStatusOpen {
		transitioned, err := s.Transition(tx, c, database.CaseStatusAssigned, actor)
		if err != nil {
			return nil, err
		}
		events = append(events, transitioned)
	}

	return events, nil
}

// AttachAlert correlates a further alert event into an existing case: bumps
// updated_at and the alert count, tracks the fingerprint, and appends the
// audit entry. It never creates a new case.
func (s *LifecycleService) AttachAlert(tx *gorm.DB, c *database.Case, event *database.AlertEvent, actor string) (LifecycleEvent, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"alert_count":   gorm.Expr("alert_count + 1"),
		"last_alert_at": now,
		"updated_at":    now,
	}

	if !c.CorrelatesFingerprint(event.Fingerprint) {
		related := append(database.StringList{}, c.RelatedFingerprints...)
		related = append(related, event.Fingerprint)
		updates["related_fingerprints"] = related
		c.RelatedFingerprints = related
	}

	if err := tx.Model(&database.Case{}).Where("id = ?", c.ID).Updates(updates).Error; err != nil {
		return LifecycleEvent{}, fmt.Errorf("failed to attach alert to case %s: %w", c.CaseNumber, err)
	}
	c.AlertCount++
	c.LastAlertAt = &now
	c.UpdatedAt = now

	activity := &database.CaseActivity{
		CaseID:   c.ID,
		Kind:     database.ActivityAlertAttached,
		NewValue: event.Fingerprint,
		Actor:    actor,
		Detail:   fmt.Sprintf("alert %s (%s) attached", event.UUID, event.Status),
	}
	if err := tx.Create(activity).Error; err != nil {
		return LifecycleEvent{}, fmt.Errorf("failed to record alert attachment: %w", err)
	}

	return s.eventFor(c, EventAlertAttached, c.Status, c.Status, actor), nil
}

// RecordResolveCandidate flags a case as resolution-eligible after a RESOLVED
// alert. It does not change status; resolution requires the auto-resolve
// policy or human confirmation.
func (s *LifecycleService) RecordResolveCandidate(tx *gorm.DB, c *database.Case, event *database.AlertEvent, actor string) (LifecycleEvent, error) {
	activity := &database.CaseActivity{
		CaseID:   c.ID,
		Kind:     database.ActivityResolveCandidate,
		NewValue: event.Fingerprint,
		Actor:    actor,
		Detail:   fmt.Sprintf("alert %s resolved upstream", event.UUID),
	}
	if err := tx.Create(activity).Error; err != nil {
		return LifecycleEvent{}, fmt.Errorf("failed to record resolve candidate: %w", err)
	}

	if err := tx.Model(&database.Case{}).Where("id = ?", c.ID).
		Update("updated_at", time.Now()).Error; err != nil {
		return LifecycleEvent{}, fmt.Errorf("failed to touch case %s: %w", c.CaseNumber, err)
	}

	return s.eventFor(c, EventResolveCandidate, c.Status, c.Status, actor), nil
}

// TransitionCase applies a manual transition by case UUID in its own
// transaction and publishes the resulting event.
func (s *LifecycleService) TransitionCase(caseUUID string, to database.CaseStatus, actor string) (*database.Case, error) {
	var c database.Case
	var event LifecycleEvent

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("uuid = ?", caseUUID).First(&c).Error; err != nil {
			return err
		}
		var err error
		event, err = s.Transition(tx, &c, to, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Publish([]LifecycleEvent{event})
	log.Printf("Case %s transitioned %s -> %s by %s", c.CaseNumber, event.From, event.To, actor)
	return &c, nil
}

// AssignCase applies a manual assignment by case UUID in its own transaction
func (s *LifecycleService) AssignCase(caseUUID string, userIDs, teamIDs database.UintList, actor string) (*database.Case, error) {
	var c database.Case
	var events []LifecycleEvent

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("uuid = ?", caseUUID).First(&c).Error; err != nil {
			return err
		}
		if c.IsTerminal() {
			return fmt.Errorf("%w: cannot assign a %s case", ErrInvalidTransition, c.Status)
		}
		result := &AssignmentResult{UserIDs: userIDs, TeamIDs: teamIDs, Strategy: database.StrategyManual}
		var err error
		events, err = s.Assign(tx, &c, result, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Publish(events)
	return &c, nil
}

func (s *LifecycleService) eventFor(c *database.Case, eventType string, from, to database.CaseStatus, actor string) LifecycleEvent {
	return LifecycleEvent{
		Type:       eventType,
		CaseID:     c.ID,
		CaseUUID:   c.UUID,
		CaseNumber: c.CaseNumber,
		Title:      c.Title,
		Severity:   c.Severity,
		From:       from,
		To:         to,
		Actor:      actor,
		Timestamp:  time.Now(),
	}
}
