package services

import (
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/revguard/revguard/internal/database"
	"github.com/revguard/revguard/internal/testhelpers"
)

func newCorrelationService(db *gorm.DB) *CorrelationService {
	history := NewHistoryService(db)
	assignment := NewAssignmentService(db)
	lifecycle := NewLifecycleService(db)
	return NewCorrelationService(db, history, assignment, lifecycle)
}

func TestCorrelationService_CreateCase(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	ev := testhelpers.NewEventBuilder().
		WithFingerprint("fp-create").
		WithSeverity(database.AlertSeverityCritical).
		WithTitle("Revenue drop").
		Build()

	result, err := svc.Process(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Decision != DecisionCreateCase {
		t.Fatalf("expected create_case, got %s", result.Decision)
	}
	c := result.Case
	if c == nil {
		t.Fatal("expected a case")
	}
	if c.Status != database.CaseStatusOpen {
		t.Errorf("expected open, got %s", c.Status)
	}
	if c.Severity != database.AlertSeverityCritical {
		t.Errorf("expected critical, got %s", c.Severity)
	}
	if c.Title != "Revenue drop" {
		t.Errorf("unexpected title: %s", c.Title)
	}
	if c.PrimaryAlertFingerprint != "fp-create" {
		t.Errorf("unexpected fingerprint: %s", c.PrimaryAlertFingerprint)
	}
	if c.CaseNumber == "" {
		t.Error("expected a case number")
	}
	if c.AlertCount != 1 {
		t.Errorf("expected alert count 1, got %d", c.AlertCount)
	}

	// Critical SLA default is 15 minutes from creation
	expected := c.CreatedAt.Add(15 * time.Minute)
	diff := c.SLADeadline.Sub(expected)
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("expected deadline near %s, got %s", expected, c.SLADeadline)
	}

	// History row was written regardless of decision
	var count int64
	db.Model(&database.AlertEvent{}).Where("fingerprint = ?", "fp-create").Count(&count)
	if count != 1 {
		t.Errorf("expected 1 history row, got %d", count)
	}
}

func TestCorrelationService_DuplicateWithinWindowIgnored(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	ev := testhelpers.NewEventBuilder().WithFingerprint("fp-dup").Build()

	first, err := svc.Process(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Decision != DecisionCreateCase {
		t.Fatalf("expected create_case, got %s", first.Decision)
	}

	second, err := svc.Process(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Decision != DecisionIgnore {
		t.Errorf("expected ignore for replay, got %s", second.Decision)
	}
	if !second.Duplicate {
		t.Error("expected duplicate flag set")
	}

	// Still only one case, but both deliveries are in the history
	var caseCount, eventCount int64
	db.Model(&database.Case{}).Count(&caseCount)
	db.Model(&database.AlertEvent{}).Where("fingerprint = ?", "fp-dup").Count(&eventCount)
	if caseCount != 1 {
		t.Errorf("expected 1 case, got %d", caseCount)
	}
	if eventCount != 2 {
		t.Errorf("expected 2 history rows, got %d", eventCount)
	}
}

func TestCorrelationService_RetryAfterFailedCorrelationCreatesCase(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	ev := testhelpers.NewEventBuilder().WithFingerprint("fp-retry").Build()

	// Break the correlation transaction so the first delivery fails after the
	// history row is written, the way a transient DB error would.
	if err := db.Migrator().DropTable(&database.CaseSequence{}); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}
	if _, err := svc.Process(ev); err == nil {
		t.Fatal("expected first delivery to fail")
	}

	var caseCount, eventCount int64
	db.Model(&database.Case{}).Count(&caseCount)
	db.Model(&database.AlertEvent{}).Where("fingerprint = ?", "fp-retry").Count(&eventCount)
	if caseCount != 0 {
		t.Fatalf("expected no case after failed correlation, got %d", caseCount)
	}
	if eventCount != 1 {
		t.Fatalf("expected 1 history row from the failed delivery, got %d", eventCount)
	}

	if err := db.Migrator().CreateTable(&database.CaseSequence{}); err != nil {
		t.Fatalf("failed to restore table: %v", err)
	}

	// The retry lands within the replay window, but with no case for the
	// fingerprint it must still correlate, not be discarded as a replay.
	retry, err := svc.Process(ev)
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if retry.Decision != DecisionCreateCase {
		t.Fatalf("expected create_case on retry, got %s", retry.Decision)
	}
	if retry.Duplicate {
		t.Error("expected retry not to be flagged as duplicate")
	}

	db.Model(&database.Case{}).Count(&caseCount)
	if caseCount != 1 {
		t.Errorf("expected 1 case after retry, got %d", caseCount)
	}
}

func TestCorrelationService_ConcurrentDeliveriesCreateOneCase(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	ev := testhelpers.NewEventBuilder().WithFingerprint("fp-race").Build()

	const deliveries = 8
	results := make(chan *CorrelationResult, deliveries)
	errs := make(chan error, deliveries)

	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Process(ev)
			if err != nil {
				errs <- err
				return
			}
			results <- result
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	creates := 0
	for result := range results {
		if result.Decision == DecisionCreateCase {
			creates++
		}
	}
	if creates != 1 {
		t.Errorf("expected exactly one create_case decision, got %d", creates)
	}

	var caseCount, eventCount int64
	db.Model(&database.Case{}).Count(&caseCount)
	db.Model(&database.AlertEvent{}).Where("fingerprint = ?", "fp-race").Count(&eventCount)
	if caseCount != 1 {
		t.Errorf("expected exactly 1 case, got %d", caseCount)
	}
	if eventCount != deliveries {
		t.Errorf("expected %d history rows, got %d", deliveries, eventCount)
	}
}

func TestCorrelationService_AttachOutsideReplayWindow(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	ev := testhelpers.NewEventBuilder().WithFingerprint("fp-attach").Build()
	first, err := svc.Process(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Age the recorded event past the replay window
	db.Model(&database.AlertEvent{}).Where("fingerprint = ?", "fp-attach").
		Update("received_at", time.Now().Add(-time.Hour))

	second, err := svc.Process(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Decision != DecisionAttachToCase {
		t.Fatalf("expected attach_to_case, got %s", second.Decision)
	}
	if second.Case.ID != first.Case.ID {
		t.Error("expected the same case")
	}

	var stored database.Case
	db.Where("id = ?", first.Case.ID).First(&stored)
	if stored.AlertCount != 2 {
		t.Errorf("expected alert count 2, got %d", stored.AlertCount)
	}
}

func TestCorrelationService_ResolvedWithoutCaseIgnored(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	ev := testhelpers.NewEventBuilder().WithFingerprint("fp-lonely").Resolved().Build()

	result, err := svc.Process(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != DecisionIgnore {
		t.Errorf("expected ignore, got %s", result.Decision)
	}

	var count int64
	db.Model(&database.Case{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no cases, got %d", count)
	}
}

func TestCorrelationService_ResolveCandidate(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	firing := testhelpers.NewEventBuilder().WithFingerprint("fp-res").Build()
	created, err := svc.Process(firing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resolved := testhelpers.NewEventBuilder().WithFingerprint("fp-res").Resolved().Build()
	result, err := svc.Process(resolved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != DecisionResolveCandidate {
		t.Fatalf("expected resolve_candidate, got %s", result.Decision)
	}

	// Auto-resolve is off by default: status unchanged, activity appended
	var stored database.Case
	db.Where("id = ?", created.Case.ID).First(&stored)
	if stored.Status == database.CaseStatusResolved {
		t.Error("expected case not to auto-resolve by default")
	}

	var activities []database.CaseActivity
	db.Where("case_id = ? AND kind = ?", stored.ID, database.ActivityResolveCandidate).Find(&activities)
	if len(activities) != 1 {
		t.Errorf("expected one resolve-candidate activity, got %d", len(activities))
	}
}

func TestCorrelationService_AutoResolve(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	settings, err := database.GetOrCreateCorrelationSettings(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	settings.AutoResolve = true
	if err := database.UpdateCorrelationSettings(db, settings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	firing := testhelpers.NewEventBuilder().WithFingerprint("fp-auto").Build()
	created, err := svc.Process(firing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Move the case into a state that allows resolution
	lifecycle := NewLifecycleService(db)
	if _, err := lifecycle.TransitionCase(created.Case.UUID, database.CaseStatusAssigned, "test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := lifecycle.TransitionCase(created.Case.UUID, database.CaseStatusInProgress, "test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resolved := testhelpers.NewEventBuilder().WithFingerprint("fp-auto").Resolved().Build()
	result, err := svc.Process(resolved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != DecisionResolveCandidate {
		t.Fatalf("expected resolve_candidate, got %s", result.Decision)
	}

	var stored database.Case
	db.Where("id = ?", created.Case.ID).First(&stored)
	if stored.Status != database.CaseStatusResolved {
		t.Errorf("expected auto-resolved case, got %s", stored.Status)
	}
	if stored.ResolvedAt == nil {
		t.Error("expected resolved_at to be set")
	}
}

func TestCorrelationService_AutoResolve_InvalidStateStaysPut(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	settings, err := database.GetOrCreateCorrelationSettings(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	settings.AutoResolve = true
	if err := database.UpdateCorrelationSettings(db, settings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Case is OPEN, which cannot transition to RESOLVED
	firing := testhelpers.NewEventBuilder().WithFingerprint("fp-open").Build()
	created, err := svc.Process(firing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Case.Status != database.CaseStatusOpen {
		t.Fatalf("expected open case, got %s", created.Case.Status)
	}

	resolved := testhelpers.NewEventBuilder().WithFingerprint("fp-open").Resolved().Build()
	result, err := svc.Process(resolved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != DecisionResolveCandidate {
		t.Fatalf("expected resolve_candidate, got %s", result.Decision)
	}

	var stored database.Case
	db.Where("id = ?", created.Case.ID).First(&stored)
	if stored.Status != database.CaseStatusOpen {
		t.Errorf("expected case to stay open, got %s", stored.Status)
	}
}

func TestCorrelationService_RefireReopensResolvedCase(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	firing := testhelpers.NewEventBuilder().WithFingerprint("fp-flap").Build()
	created, err := svc.Process(firing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Walk the case to RESOLVED manually
	lifecycle := NewLifecycleService(db)
	for _, to := range []database.CaseStatus{database.CaseStatusAssigned, database.CaseStatusInProgress, database.CaseStatusResolved} {
		if _, err := lifecycle.TransitionCase(created.Case.UUID, to, "test"); err != nil {
			t.Fatalf("transition to %s failed: %v", to, err)
		}
	}

	// Re-fire after the replay window
	db.Model(&database.AlertEvent{}).Where("fingerprint = ?", "fp-flap").
		Update("received_at", time.Now().Add(-time.Hour))

	refire, err := svc.Process(firing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refire.Decision != DecisionAttachToCase {
		t.Fatalf("expected attach_to_case on refire, got %s", refire.Decision)
	}
	if refire.Case.ID != created.Case.ID {
		t.Error("expected reopened case, not a new one")
	}

	var stored database.Case
	db.Where("id = ?", created.Case.ID).First(&stored)
	if stored.Status != database.CaseStatusInProgress {
		t.Errorf("expected reopened in_progress, got %s", stored.Status)
	}
}

func TestCorrelationService_RefireWithReopenDisabled(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	settings, err := database.GetOrCreateCorrelationSettings(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	settings.ReopenOnRefire = false
	if err := database.UpdateCorrelationSettings(db, settings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	firing := testhelpers.NewEventBuilder().WithFingerprint("fp-noflap").Build()
	created, err := svc.Process(firing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lifecycle := NewLifecycleService(db)
	for _, to := range []database.CaseStatus{database.CaseStatusAssigned, database.CaseStatusInProgress, database.CaseStatusResolved} {
		if _, err := lifecycle.TransitionCase(created.Case.UUID, to, "test"); err != nil {
			t.Fatalf("transition to %s failed: %v", to, err)
		}
	}

	db.Model(&database.AlertEvent{}).Where("fingerprint = ?", "fp-noflap").
		Update("received_at", time.Now().Add(-time.Hour))

	refire, err := svc.Process(firing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refire.Decision != DecisionIgnore {
		t.Errorf("expected ignore with reopen disabled, got %s", refire.Decision)
	}

	var stored database.Case
	db.Where("id = ?", created.Case.ID).First(&stored)
	if stored.Status != database.CaseStatusResolved {
		t.Errorf("expected case to remain resolved, got %s", stored.Status)
	}
}

func TestCorrelationService_ClosedCaseSpawnsNewCase(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	firing := testhelpers.NewEventBuilder().WithFingerprint("fp-closed").Build()
	created, err := svc.Process(firing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lifecycle := NewLifecycleService(db)
	for _, to := range []database.CaseStatus{database.CaseStatusAssigned, database.CaseStatusInProgress, database.CaseStatusResolved, database.CaseStatusClosed} {
		if _, err := lifecycle.TransitionCase(created.Case.UUID, to, "test"); err != nil {
			t.Fatalf("transition to %s failed: %v", to, err)
		}
	}

	db.Model(&database.AlertEvent{}).Where("fingerprint = ?", "fp-closed").
		Update("received_at", time.Now().Add(-time.Hour))

	refire, err := svc.Process(firing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refire.Decision != DecisionCreateCase {
		t.Fatalf("expected a new case after closure, got %s", refire.Decision)
	}
	if refire.Case.ID == created.Case.ID {
		t.Error("expected a distinct case")
	}
}

func TestCorrelationService_FingerprintDerivedWhenAbsent(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	ev := testhelpers.NewEventBuilder().WithFingerprint("").WithLabel("service", "billing").Build()

	result, err := svc.Process(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Event.Fingerprint == "" {
		t.Error("expected a derived fingerprint")
	}
	if result.Case.PrimaryAlertFingerprint != result.Event.Fingerprint {
		t.Error("expected case to carry the derived fingerprint")
	}
}

func TestCorrelationService_AssignsOnCreation(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := newCorrelationService(db)

	user := createUser(t, db, "oncall", true)
	db.Create(&database.AssignmentRule{
		Name:             "billing-oncall",
		Category:         "billing",
		Strategy:         database.StrategyManual,
		CandidateUserIDs: database.UintList{user.ID},
		Position:         1,
		Enabled:          true,
	})

	ev := testhelpers.NewEventBuilder().
		WithFingerprint("fp-assigned").
		WithLabel("category", "billing").
		Build()

	result, err := svc.Process(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored database.Case
	db.Where("id = ?", result.Case.ID).First(&stored)
	if stored.Status != database.CaseStatusAssigned {
		t.Errorf("expected assigned, got %s", stored.Status)
	}
	if len(stored.AssignedUserIDs) != 1 || stored.AssignedUserIDs[0] != user.ID {
		t.Errorf("expected user %d assigned, got %v", user.ID, stored.AssignedUserIDs)
	}
}
