package database

import (
	"time"

	"gorm.io/gorm"
)

// CorrelationSettings controls the correlation policy knobs (singleton)
type CorrelationSettings struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	ReplayWindowMinutes   int       `gorm:"default:5" json:"replay_window_minutes"`
	ReopenOnRefire        bool      `gorm:"default:true" json:"reopen_on_refire"`
	AutoResolve           bool      `gorm:"default:false" json:"auto_resolve"`
	ResolveObserveMinutes int       `gorm:"default:30" json:"resolve_observe_minutes"`
	SLACriticalMinutes    int       `gorm:"default:15" json:"sla_critical_minutes"`
	SLAHighMinutes        int       `gorm:"default:60" json:"sla_high_minutes"`
	SLAMediumMinutes      int       `gorm:"default:240" json:"sla_medium_minutes"`
	SLALowMinutes         int       `gorm:"default:480" json:"sla_low_minutes"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (CorrelationSettings) TableName() string {
	return "correlation_settings"
}

// NewDefaultCorrelationSettings returns settings with default values
func NewDefaultCorrelationSettings() *CorrelationSettings {
	return &CorrelationSettings{
		ReplayWindowMinutes:   5,
		ReopenOnRefire:        true,
		AutoResolve:           false,
		ResolveObserveMinutes: 30,
		SLACriticalMinutes:    15,
		SLAHighMinutes:        60,
		SLAMediumMinutes:      240,
		SLALowMinutes:         480,
	}
}

// ReplayWindow returns the duplicate-detection window as a duration
func (s *CorrelationSettings) ReplayWindow() time.Duration {
	return time.Duration(s.ReplayWindowMinutes) * time.Minute
}

// SLAMinutes returns the configured minutes for a severity. Unknown
// severities fall back to the LOW duration rather than erroring.
func (s *CorrelationSettings) SLAMinutes(severity AlertSeverity) int {
	switch severity {
	case AlertSeverityCritical:
		return s.SLACriticalMinutes
	case AlertSeverityHigh:
		return s.SLAHighMinutes
	case AlertSeverityMedium:
		return s.SLAMediumMinutes
	case AlertSeverityLow:
		return s.SLALowMinutes
	default:
		return s.SLALowMinutes
	}
}

// GetOrCreateCorrelationSettings retrieves or creates correlation settings.
// Accepts a db parameter to support transaction contexts and testing.
func GetOrCreateCorrelationSettings(db *gorm.DB) (*CorrelationSettings, error) {
	var settings CorrelationSettings
	result := db.First(&settings)
	if result.Error == gorm.ErrRecordNotFound {
		settings = *NewDefaultCorrelationSettings()
		if err := db.Create(&settings).Error; err != nil {
			return nil, err
		}
	} else if result.Error != nil {
		return nil, result.Error
	}
	return &settings, nil
}

// UpdateCorrelationSettings persists updated settings
func UpdateCorrelationSettings(db *gorm.DB, settings *CorrelationSettings) error {
	return db.Save(settings).Error
}
