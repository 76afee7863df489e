package services

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/revguard/revguard/internal/alerts"
	"github.com/revguard/revguard/internal/database"
)

// Decision is the correlator's verdict for an inbound event
type Decision string

const (
	DecisionCreateCase       Decision = "create_case"
	DecisionAttachToCase     Decision = "attach_to_case"
	DecisionResolveCandidate Decision = "resolve_candidate"
	DecisionIgnore           Decision = "ignore"
)

// CorrelationResult describes what happened to one inbound event
type CorrelationResult struct {
	Decision  Decision
	Case      *database.Case
	Event     *database.AlertEvent
	Duplicate bool
	Reason    string
}

// CorrelationService drives the alert-to-case pipeline: duplicate detection,
// history recording, and the create/attach/resolve decision. The decision
// sequence for a fingerprint is serialized through a per-fingerprint row lock
// so concurrent retries cannot create duplicate cases.
type CorrelationService struct {
	db         *gorm.DB
	history    *HistoryService
	assignment *AssignmentService
	lifecycle  *LifecycleService
}

// NewCorrelationService creates a new correlation service
func NewCorrelationService(db *gorm.DB, history *HistoryService, assignment *AssignmentService, lifecycle *LifecycleService) *CorrelationService {
	return &CorrelationService{
		db:         db,
		history:    history,
		assignment: assignment,
		lifecycle:  lifecycle,
	}
}

// Process runs one event through the pipeline. The history record is written
// before the correlation transaction, so a failed correlation still leaves a
// "received" audit row for later reconciliation; the webhook caller surfaces
// the error as retryable. The replay check alone never discards an event: a
// firing event is only ignored as a duplicate once an active case exists for
// the fingerprint, so a retry after a failed correlation still creates one.
func (s *CorrelationService) Process(ev alerts.Event) (*CorrelationResult, error) {
	if ev.Fingerprint == "" {
		ev.Fingerprint = alerts.ResolveFingerprint(ev)
	}
	if ev.Severity == "" {
		ev.Severity = database.AlertSeverityMedium
	}

	settings, err := database.GetOrCreateCorrelationSettings(s.db)
	if err != nil {
		return nil, fmt.Errorf("failed to load correlation settings: %w", err)
	}

	duplicate, err := s.history.IsDuplicate(ev.Fingerprint, ev.Status, settings.ReplayWindow())
	if err != nil {
		return nil, fmt.Errorf("duplicate check failed: %w", err)
	}

	record := BuildRecord(ev, time.Now())
	if err := s.history.Record(record); err != nil {
		return nil, fmt.Errorf("failed to record alert event: %w", err)
	}

	var result *CorrelationResult
	var events []LifecycleEvent

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := database.AcquireCorrelationLock(tx, ev.Fingerprint); err != nil {
			return err
		}

		active, err := s.findActiveCase(tx, ev.Fingerprint)
		if err != nil {
			return err
		}

		if ev.Status == database.AlertStatusResolved {
			result, events, err = s.handleResolved(tx, settings, active, record)
			return err
		}
		result, events, err = s.handleFiring(tx, settings, active, ev, record, duplicate)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.lifecycle.Publish(events)
	return result, nil
}

// handleResolved signals resolution eligibility on the active case, or no-ops
// when no case ever existed for the fingerprint.
func (s *CorrelationService) handleResolved(tx *gorm.DB, settings *database.CorrelationSettings, active *database.Case, record *database.AlertEvent) (*CorrelationResult, []LifecycleEvent, error) {
	if active == nil {
		log.Printf("Resolved event for fingerprint %s has no active case, ignoring", record.Fingerprint)
		return &CorrelationResult{
			Decision: DecisionIgnore,
			Event:    record,
			Reason:   "resolved alert without an active case",
		}, nil, nil
	}

	var events []LifecycleEvent

	candidate, err := s.lifecycle.RecordResolveCandidate(tx, active, record, "system")
	if err != nil {
		return nil, nil, err
	}
	events = append(events, candidate)

	if settings.AutoResolve && CanTransition(active.Status, database.CaseStatusResolved) {
		transitioned, err := s.lifecycle.Transition(tx, active, database.CaseStatusResolved, "system")
		if err != nil {
			return nil, nil, err
		}
		events = append(events, transitioned)
	}

	return &CorrelationResult{
		Decision: DecisionResolveCandidate,
		Case:     active,
		Event:    record,
		Reason:   "resolution signaled",
	}, events, nil
}

// handleFiring attaches to the active case (reopening a resolved one) or
// creates a new case with SLA deadline and initial assignment in one atomic
// operation. A replayed delivery counts as a duplicate only against a case
// that actually exists; when the earlier delivery never produced one, the
// replay is correlated as a fresh event.
func (s *CorrelationService) handleFiring(tx *gorm.DB, settings *database.CorrelationSettings, active *database.Case, ev alerts.Event, record *database.AlertEvent, duplicate bool) (*CorrelationResult, []LifecycleEvent, error) {
	if active != nil {
		if duplicate {
			log.Printf("Duplicate firing event for fingerprint %s within replay window, ignoring", ev.Fingerprint)
			return &CorrelationResult{
				Decision:  DecisionIgnore,
				Case:      active,
				Event:     record,
				Duplicate: true,
				Reason:    "duplicate within replay window",
			}, nil, nil
		}

		var events []LifecycleEvent

		if active.Status == database.CaseStatusResolved {
			if !settings.ReopenOnRefire {
				log.Printf("Refire against resolved case %s with reopen disabled, ignoring", active.CaseNumber)
				return &CorrelationResult{
					Decision: DecisionIgnore,
					Case:     active,
					Event:    record,
					Reason:   "reopen on refire disabled",
				}, nil, nil
			}
			reopened, err := s.lifecycle.Transition(tx, active, database.CaseStatusInProgress, "system")
			if err != nil {
				return nil, nil, err
			}
			events = append(events, reopened)
		}

		attached, err := s.lifecycle.AttachAlert(tx, active, record, "system")
		if err != nil {
			return nil, nil, err
		}
		events = append(events, attached)

		return &CorrelationResult{
			Decision: DecisionAttachToCase,
			Case:     active,
			Event:    record,
			Reason:   "fingerprint already correlated to an active case",
		}, events, nil
	}

	newCase, events, err := s.createCase(tx, settings, ev, record)
	if err != nil {
		return nil, nil, err
	}

	return &CorrelationResult{
		Decision: DecisionCreateCase,
		Case:     newCase,
		Event:    record,
		Reason:   "no active case for fingerprint",
	}, events, nil
}

// createCase builds the case, computes its SLA deadline, resolves the initial
// assignment, and attaches the opening alert. Any failure rolls the whole
// creation back; a case is never persisted without a deadline.
func (s *CorrelationService) createCase(tx *gorm.DB, settings *database.CorrelationSettings, ev alerts.Event, record *database.AlertEvent) (*database.Case, []LifecycleEvent, error) {
	now := time.Now()

	caseNumber, err := database.NextCaseNumber(tx, now)
	if err != nil {
		return nil, nil, err
	}

	title := ev.Title
	if title == "" {
		title = ev.RuleName
	}

	sla := NewSLACalculator(settings)
	newCase := &database.Case{
		UUID:                    uuid.New().String(),
		CaseNumber:              caseNumber,
		Title:                   title,
		Description:             ev.Description,
		Severity:                ev.Severity,
		PrimaryAlertFingerprint: ev.Fingerprint,
		SLADeadline:             sla.ComputeDeadline(ev.Severity, now),
		AlertCount:              1,
		LastAlertAt:             &record.ReceivedAt,
	}

	created, err := s.lifecycle.CreateCase(tx, newCase, "system")
	if err != nil {
		return nil, nil, err
	}
	events := []LifecycleEvent{created}

	rule, err := s.assignment.MatchRule(tx, ev)
	if err != nil {
		return nil, nil, err
	}
	recommendation, err := s.assignment.ResolveAssignees(tx, rule)
	if err != nil {
		return nil, nil, err
	}
	assignEvents, err := s.lifecycle.Assign(tx, newCase, recommendation, "system")
	if err != nil {
		return nil, nil, err
	}
	events = append(events, assignEvents...)

	log.Printf("Created case %s for fingerprint %s (severity: %s, status: %s)",
		newCase.CaseNumber, ev.Fingerprint, newCase.Severity, newCase.Status)

	return newCase, events, nil
}

// findActiveCase returns the non-terminal case correlated to the fingerprint,
// either as primary or via related fingerprints. Resolved cases count as
// active so flapping conditions reopen them instead of duplicating.
func (s *CorrelationService) findActiveCase(tx *gorm.DB, fingerprint string) (*database.Case, error) {
	var candidates []database.Case
	err := tx.Where("status NOT IN ?", database.TerminalCaseStatuses).
		Order("created_at ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active cases: %w", err)
	}

	for i := range candidates {
		if candidates[i].CorrelatesFingerprint(fingerprint) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}
