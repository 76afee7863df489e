package services

import (
	"testing"

	"gorm.io/gorm"

	"github.com/revguard/revguard/internal/database"
	"github.com/revguard/revguard/internal/testhelpers"
)

func createUser(t *testing.T, db *gorm.DB, name string, available bool) *database.User {
	t.Helper()
	user := &database.User{Name: name, Email: name + "@example.com", AvailableForAssignment: available}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func TestAssignmentService_MatchRule_PositionOrder(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := NewAssignmentService(db)

	db.Create(&database.AssignmentRule{
		Name: "catch-all", Strategy: database.StrategyManual, Position: 10, Enabled: true,
	})
	db.Create(&database.AssignmentRule{
		Name: "billing-first", Category: "billing", Strategy: database.StrategyManual, Position: 1, Enabled: true,
	})

	ev := testhelpers.NewEventBuilder().WithLabel("category", "billing").Build()
	rule, err := svc.MatchRule(db, ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule == nil || rule.Name != "billing-first" {
		t.Fatalf("expected billing-first rule to win, got %+v", rule)
	}

	// Event without the category falls through to the wildcard rule
	other := testhelpers.NewEventBuilder().Build()
	rule, err = svc.MatchRule(db, other)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule == nil || rule.Name != "catch-all" {
		t.Fatalf("expected catch-all rule, got %+v", rule)
	}
}

func TestAssignmentService_MatchRule_Filters(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := NewAssignmentService(db)

	db.Create(&database.AssignmentRule{
		Name:     "critical-by-rule",
		RuleID:   "rule-rev-drop",
		Severity: database.AlertSeverityCritical,
		Strategy: database.StrategyManual,
		Position: 1,
		Enabled:  true,
	})
	db.Create(&database.AssignmentRule{
		Name: "disabled", Strategy: database.StrategyManual, Position: 2, Enabled: false,
	})

	// RuleID matches, severity mismatch
	ev := testhelpers.NewEventBuilder().
		WithRule("rule-rev-drop", "RevenueDrop").
		WithSeverity(database.AlertSeverityLow).
		Build()
	rule, err := svc.MatchRule(db, ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule != nil {
		t.Errorf("expected no match (severity filter, disabled rule excluded), got %s", rule.Name)
	}

	// Full match; rule id may also match by rule name
	ev = testhelpers.NewEventBuilder().
		WithRule("other-id", "rule-rev-drop").
		WithSeverity(database.AlertSeverityCritical).
		Build()
	rule, err = svc.MatchRule(db, ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule == nil || rule.Name != "critical-by-rule" {
		t.Fatalf("expected critical-by-rule via rule name match, got %+v", rule)
	}
}

func TestAssignmentService_ResolveAssignees_Manual(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := NewAssignmentService(db)

	rule := &database.AssignmentRule{
		Name:             "static",
		Strategy:         database.StrategyManual,
		CandidateUserIDs: database.UintList{7},
		CandidateTeamIDs: database.UintList{3},
	}

	result, err := svc.ResolveAssignees(db, rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.UserIDs) != 1 || result.UserIDs[0] != 7 {
		t.Errorf("expected static user assignment, got %v", result.UserIDs)
	}
	if len(result.TeamIDs) != 1 || result.TeamIDs[0] != 3 {
		t.Errorf("expected static team assignment, got %v", result.TeamIDs)
	}
}

func TestAssignmentService_ResolveAssignees_RoundRobin(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := NewAssignmentService(db)

	u1 := createUser(t, db, "alice", true)
	u2 := createUser(t, db, "bob", true)
	u3 := createUser(t, db, "carol", true)

	rule := &database.AssignmentRule{
		Name:             "rr",
		Strategy:         database.StrategyRoundRobin,
		CandidateUserIDs: database.UintList{u1.ID, u2.ID, u3.ID},
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	expected := []uint{u1.ID, u2.ID, u3.ID, u1.ID}
	for i, want := range expected {
		result, err := svc.ResolveAssignees(db, rule)
		if err != nil {
			t.Fatalf("unexpected error on pick %d: %v", i, err)
		}
		if len(result.UserIDs) != 1 || result.UserIDs[0] != want {
			t.Errorf("pick %d: expected user %d, got %v", i, want, result.UserIDs)
		}
	}
}

func TestAssignmentService_ResolveAssignees_LoadBased(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := NewAssignmentService(db)

	u1 := createUser(t, db, "dave", true)
	u2 := createUser(t, db, "erin", true)

	// u1 carries two active cases, u2 one closed and none active
	for i := 0; i < 2; i++ {
		c := testhelpers.NewCaseBuilder().WithAssignedUsers(u1.ID).Build()
		c.UUID = c.UUID + string(rune('a'+i))
		c.CaseNumber = c.CaseNumber + string(rune('a'+i))
		if err := db.Create(&c).Error; err != nil {
			t.Fatalf("failed to create case: %v", err)
		}
	}
	closed := testhelpers.NewCaseBuilder().WithStatus(database.CaseStatusClosed).WithAssignedUsers(u2.ID).Build()
	closed.UUID = closed.UUID + "x"
	closed.CaseNumber = closed.CaseNumber + "x"
	if err := db.Create(&closed).Error; err != nil {
		t.Fatalf("failed to create case: %v", err)
	}

	rule := &database.AssignmentRule{
		Name:             "lb",
		Strategy:         database.StrategyLoadBased,
		CandidateUserIDs: database.UintList{u1.ID, u2.ID},
	}

	result, err := svc.ResolveAssignees(db, rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.UserIDs) != 1 || result.UserIDs[0] != u2.ID {
		t.Errorf("expected least-loaded user %d, got %v", u2.ID, result.UserIDs)
	}
}

func TestAssignmentService_ResolveAssignees_NoRuleFallsBackToPool(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := NewAssignmentService(db)

	createUser(t, db, "offline", false)
	online := createUser(t, db, "online", true)

	result, err := svc.ResolveAssignees(db, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.UserIDs) != 1 || result.UserIDs[0] != online.ID {
		t.Errorf("expected available pool user %d, got %v", online.ID, result.UserIDs)
	}
}

func TestAssignmentService_ResolveAssignees_EmptyPool(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := NewAssignmentService(db)

	result, err := svc.ResolveAssignees(db, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsEmpty() {
		t.Errorf("expected empty recommendation for empty pool, got %+v", result)
	}
}
