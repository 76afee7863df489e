package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NextCaseNumber allocates the next CASE-YYYY-NNNN number inside the given
// transaction. The counter row is incremented with a single UPDATE, which on
// PostgreSQL takes a row lock until commit, so concurrent creations get
// distinct numbers.
func NextCaseNumber(tx *gorm.DB, now time.Time) (string, error) {
	year := now.UTC().Year()

	seq := CaseSequence{Year: year, Next: 1}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seq).Error; err != nil {
		return "", fmt.Errorf("failed to ensure case sequence for %d: %w", year, err)
	}

	if err := tx.Model(&CaseSequence{}).Where("year = ?", year).
		Update("next", gorm.Expr("next + 1")).Error; err != nil {
		return "", fmt.Errorf("failed to advance case sequence: %w", err)
	}

	if err := tx.Where("year = ?", year).First(&seq).Error; err != nil {
		return "", fmt.Errorf("failed to read case sequence: %w", err)
	}

	return fmt.Sprintf("CASE-%d-%04d", year, seq.Next-1), nil
}

// AcquireCorrelationLock serializes correlation for a fingerprint within the
// given transaction. The row is created on first use; the UPDATE afterwards
// takes a row lock that is held until the transaction commits, so a second
// webhook for the same fingerprint blocks before reading case state.
func AcquireCorrelationLock(tx *gorm.DB, fingerprint string) error {
	lock := CorrelationLock{Fingerprint: fingerprint, AcquiredAt: time.Now()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock).Error; err != nil {
		return fmt.Errorf("failed to ensure correlation lock: %w", err)
	}

	if err := tx.Model(&CorrelationLock{}).Where("fingerprint = ?", fingerprint).
		Update("acquired_at", time.Now()).Error; err != nil {
		return fmt.Errorf("failed to acquire correlation lock: %w", err)
	}

	return nil
}
