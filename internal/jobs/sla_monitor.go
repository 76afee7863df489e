package jobs

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/revguard/revguard/internal/database"
	"github.com/revguard/revguard/internal/services"
	"github.com/revguard/revguard/internal/utils"
)

// SLAMonitor periodically flags cases that have blown past their SLA deadline
// and, when auto-resolve is enabled, closes resolved cases whose observation
// window has elapsed.
type SLAMonitor struct {
	db        *gorm.DB
	lifecycle *services.LifecycleService
}

// NewSLAMonitor creates a new SLA monitor
func NewSLAMonitor(db *gorm.DB, lifecycle *services.LifecycleService) *SLAMonitor {
	return &SLAMonitor{db: db, lifecycle: lifecycle}
}

// CheckBreaches flags unbreached active cases whose deadline has passed.
// Returns the number of cases flagged.
func (m *SLAMonitor) CheckBreaches() (int, error) {
	now := time.Now()

	var cases []database.Case
	err := m.db.Where("status NOT IN ? AND sla_breached = ? AND sla_deadline < ?",
		database.TerminalCaseStatuses, false, now).Find(&cases).Error
	if err != nil {
		return 0, err
	}

	flagged := 0
	for i := range cases {
		c := &cases[i]

		// A resolved case is past human response; breach no longer applies
		if c.Status == database.CaseStatusResolved {
			continue
		}

		err := m.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(c).Updates(map[string]interface{}{
				"sla_breached": true,
				"updated_at":   now,
			}).Error; err != nil {
				return err
			}
			activity := &database.CaseActivity{
				CaseID:   c.ID,
				Kind:     database.ActivitySLABreach,
				NewValue: c.SLADeadline.UTC().Format(time.RFC3339),
				Actor:    "system",
				Detail:   "SLA deadline exceeded",
			}
			return tx.Create(activity).Error
		})
		if err != nil {
			log.Printf("SLAMonitor: Failed to flag case %s: %v", c.CaseNumber, err)
			continue
		}

		flagged++
		log.Printf("SLAMonitor: Case %s breached its SLA, overdue by %s", c.CaseNumber, utils.FormatDuration(now.Sub(c.SLADeadline)))

		m.lifecycle.Publish([]services.LifecycleEvent{{
			Type:       services.EventSLABreached,
			CaseID:     c.ID,
			CaseUUID:   c.UUID,
			CaseNumber: c.CaseNumber,
			Title:      c.Title,
			Severity:   c.Severity,
			From:       c.Status,
			To:         c.Status,
			Actor:      "system",
			Timestamp:  now,
		}})
	}

	return flagged, nil
}

// CloseObservedCases closes resolved cases whose observation window has
// elapsed. Only runs when auto-resolve is enabled; otherwise closing stays a
// human decision. Returns the number of cases closed.
func (m *SLAMonitor) CloseObservedCases() (int, error) {
	settings, err := database.GetOrCreateCorrelationSettings(m.db)
	if err != nil {
		return 0, err
	}
	if !settings.AutoResolve {
		return 0, nil
	}

	cutoff := time.Now().Add(-time.Duration(settings.ResolveObserveMinutes) * time.Minute)

	var cases []database.Case
	err = m.db.Where("status = ? AND resolved_at IS NOT NULL AND resolved_at < ?",
		database.CaseStatusResolved, cutoff).Find(&cases).Error
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, c := range cases {
		if _, err := m.lifecycle.TransitionCase(c.UUID, database.CaseStatusClosed, "system"); err != nil {
			log.Printf("SLAMonitor: Failed to close case %s: %v", c.CaseNumber, err)
			continue
		}
		closed++
		log.Printf("SLAMonitor: Closed case %s after observation window", c.CaseNumber)
	}

	return closed, nil
}

// Start begins the periodic monitoring
func (m *SLAMonitor) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			flagged, err := m.CheckBreaches()
			if err != nil {
				log.Printf("SLA monitor error: %v", err)
			} else if flagged > 0 {
				log.Printf("SLA monitor: flagged %d breached cases", flagged)
			}

			closed, err := m.CloseObservedCases()
			if err != nil {
				log.Printf("SLA monitor close error: %v", err)
			} else if closed > 0 {
				log.Printf("SLA monitor: closed %d observed cases", closed)
			}
		case <-stop:
			log.Println("SLA monitor stopped")
			return
		}
	}
}
