package services

import (
	"time"

	"github.com/revguard/revguard/internal/database"
)

// SLACalculator computes case deadlines from severity using the configured
// minutes-per-severity table. It is pure: the settings are injected once and
// ComputeDeadline never fails.
type SLACalculator struct {
	settings *database.CorrelationSettings
}

// NewSLACalculator creates a calculator from the given settings.
// Nil settings fall back to the defaults.
func NewSLACalculator(settings *database.CorrelationSettings) *SLACalculator {
	if settings == nil {
		settings = database.NewDefaultCorrelationSettings()
	}
	return &SLACalculator{settings: settings}
}

// ComputeDeadline returns createdAt plus the configured duration for the
// severity. Unknown severities use the LOW duration (fail open toward a
// longer deadline).
func (c *SLACalculator) ComputeDeadline(severity database.AlertSeverity, createdAt time.Time) time.Time {
	minutes := c.settings.SLAMinutes(severity)
	return createdAt.Add(time.Duration(minutes) * time.Minute)
}
