package services

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/revguard/revguard/internal/alerts"
	"github.com/revguard/revguard/internal/database"
)

// HistoryService is the append-only record of every inbound alert event.
// Rows are written for every delivery regardless of correlation outcome and
// are never updated or deleted.
type HistoryService struct {
	db *gorm.DB
}

// NewHistoryService creates a new history service
func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{db: db}
}

// BuildRecord converts a canonical event into its persistent form
func BuildRecord(e alerts.Event, receivedAt time.Time) *database.AlertEvent {
	labels := database.JSONB{}
	for k, v := range e.Labels {
		labels[k] = v
	}
	annotations := database.JSONB{}
	for k, v := range e.Annotations {
		annotations[k] = v
	}

	return &database.AlertEvent{
		UUID:        uuid.New().String(),
		Fingerprint: e.Fingerprint,
		Status:      e.Status,
		Severity:    e.Severity,
		RuleID:      e.RuleID,
		RuleName:    e.RuleName,
		Title:       e.Title,
		Description: e.Description,
		Labels:      labels,
		Annotations: annotations,
		StartsAt:    e.StartsAt,
		EndsAt:      e.EndsAt,
		RawPayload:  e.RawPayload,
		ReceivedAt:  receivedAt,
	}
}

// Record appends an alert event to the history
func (s *HistoryService) Record(event *database.AlertEvent) error {
	return s.db.Create(event).Error
}

// LastEventFor returns the most recently received event for a fingerprint,
// or nil if none exists
func (s *HistoryService) LastEventFor(fingerprint string) (*database.AlertEvent, error) {
	var event database.AlertEvent
	err := s.db.Where("fingerprint = ?", fingerprint).
		Order("received_at DESC, id DESC").
		First(&event).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// IsDuplicate reports whether a firing event looks like a webhook replay: the
// fingerprint is already firing with no intervening resolved event, and the
// previous delivery arrived within the replay window. Callers check before
// recording the new event. This is a history signal only; the correlator
// discards a replay just when an active case already holds the fingerprint,
// since the previous delivery may have failed before producing one.
func (s *HistoryService) IsDuplicate(fingerprint string, status database.AlertStatus, window time.Duration) (bool, error) {
	if status != database.AlertStatusFiring {
		return false, nil
	}

	last, err := s.LastEventFor(fingerprint)
	if err != nil {
		return false, err
	}
	if last == nil || last.Status != database.AlertStatusFiring {
		return false, nil
	}

	return time.Since(last.ReceivedAt) <= window, nil
}

// EventsFor returns the full history for a fingerprint, oldest first
func (s *HistoryService) EventsFor(fingerprint string) ([]database.AlertEvent, error) {
	var events []database.AlertEvent
	err := s.db.Where("fingerprint = ?", fingerprint).
		Order("received_at ASC, id ASC").
		Find(&events).Error
	return events, err
}
