package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"gorm.io/gorm"

	"github.com/revguard/revguard/internal/database"
	"github.com/revguard/revguard/internal/services"
	"github.com/revguard/revguard/internal/testhelpers"
)

func newCaseHandler(t *testing.T) (*CaseHandler, *gorm.DB) {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	history := services.NewHistoryService(db)
	lifecycle := services.NewLifecycleService(db)
	return NewCaseHandler(db, history, lifecycle), db
}

func seedCase(t *testing.T, db *gorm.DB, number string, status database.CaseStatus) database.Case {
	t.Helper()
	c := testhelpers.NewCaseBuilder().WithCaseNumber(number).WithStatus(status).Build()
	c.UUID = number + "-uuid"
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("failed to seed case: %v", err)
	}
	return c
}

func TestCaseHandler_List(t *testing.T) {
	handler, db := newCaseHandler(t)

	seedCase(t, db, "CASE-2026-0001", database.CaseStatusOpen)
	seedCase(t, db, "CASE-2026-0002", database.CaseStatusClosed)

	var resp struct {
		Cases []CaseResponse `json:"cases"`
		Total int64          `json:"total"`
	}
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/api/cases", nil).
		ExecuteFunc(handler.handleList).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	if resp.Total != 2 {
		t.Errorf("expected total 2, got %d", resp.Total)
	}
	if len(resp.Cases) != 2 {
		t.Errorf("expected 2 cases, got %d", len(resp.Cases))
	}
}

func TestCaseHandler_ListStatusFilter(t *testing.T) {
	handler, db := newCaseHandler(t)

	seedCase(t, db, "CASE-2026-0001", database.CaseStatusOpen)
	seedCase(t, db, "CASE-2026-0002", database.CaseStatusClosed)

	var resp struct {
		Cases []CaseResponse `json:"cases"`
	}
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/api/cases?status=open", nil).
		ExecuteFunc(handler.handleList).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	if len(resp.Cases) != 1 || resp.Cases[0].Status != database.CaseStatusOpen {
		t.Errorf("expected only the open case, got %+v", resp.Cases)
	}
}

func TestCaseHandler_ListUnassignedFilter(t *testing.T) {
	handler, db := newCaseHandler(t)

	seedCase(t, db, "CASE-2026-0001", database.CaseStatusOpen)
	seedCase(t, db, "CASE-2026-0002", database.CaseStatusClosed)
	assigned := testhelpers.NewCaseBuilder().
		WithCaseNumber("CASE-2026-0003").
		WithStatus(database.CaseStatusAssigned).
		WithAssignedUsers(7).
		Build()
	assigned.UUID = "assigned-uuid"
	if err := db.Create(&assigned).Error; err != nil {
		t.Fatalf("failed to seed case: %v", err)
	}

	var resp struct {
		Cases      []CaseResponse `json:"cases"`
		Total      int64          `json:"total"`
		TotalPages int            `json:"total_pages"`
	}
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/api/cases?unassigned=true", nil).
		ExecuteFunc(handler.handleList).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	if len(resp.Cases) != 1 || resp.Cases[0].CaseNumber != "CASE-2026-0001" {
		t.Errorf("expected only the unassigned case, got %+v", resp.Cases)
	}

	// Pagination totals reflect the filtered rows, not the whole table
	if resp.Total != 1 {
		t.Errorf("expected total 1, got %d", resp.Total)
	}
	if resp.TotalPages != 1 {
		t.Errorf("expected 1 page, got %d", resp.TotalPages)
	}
}

func TestCaseHandler_ListUnassignedFilterPaginates(t *testing.T) {
	handler, db := newCaseHandler(t)

	for i := 1; i <= 3; i++ {
		seedCase(t, db, fmt.Sprintf("CASE-2026-000%d", i), database.CaseStatusOpen)
	}
	assigned := testhelpers.NewCaseBuilder().
		WithCaseNumber("CASE-2026-0004").
		WithStatus(database.CaseStatusAssigned).
		WithAssignedUsers(7).
		Build()
	assigned.UUID = "assigned-uuid"
	if err := db.Create(&assigned).Error; err != nil {
		t.Fatalf("failed to seed case: %v", err)
	}

	var resp struct {
		Cases      []CaseResponse `json:"cases"`
		Total      int64          `json:"total"`
		TotalPages int            `json:"total_pages"`
	}
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/api/cases?unassigned=true&per_page=2&page=2", nil).
		ExecuteFunc(handler.handleList).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	// 3 unassigned rows at 2 per page: the second page holds the last row
	if resp.Total != 3 {
		t.Errorf("expected total 3, got %d", resp.Total)
	}
	if resp.TotalPages != 2 {
		t.Errorf("expected 2 pages, got %d", resp.TotalPages)
	}
	if len(resp.Cases) != 1 {
		t.Errorf("expected 1 case on the last page, got %d", len(resp.Cases))
	}
}

func TestCaseHandler_GetCase(t *testing.T) {
	handler, db := newCaseHandler(t)

	c := seedCase(t, db, "CASE-2026-0001", database.CaseStatusOpen)
	db.Create(&database.CaseActivity{CaseID: c.ID, Kind: database.ActivityStatusChange, NewValue: "open", Actor: "system"})

	var resp struct {
		Case       CaseResponse            `json:"case"`
		Activities []database.CaseActivity `json:"activities"`
	}
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/api/cases/"+c.UUID, nil).
		ExecuteFunc(handler.handleCase).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	if resp.Case.CaseNumber != "CASE-2026-0001" {
		t.Errorf("unexpected case: %+v", resp.Case)
	}
	if len(resp.Activities) != 1 {
		t.Errorf("expected 1 activity, got %d", len(resp.Activities))
	}
}

func TestCaseHandler_GetCase_NotFound(t *testing.T) {
	handler, _ := newCaseHandler(t)

	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/api/cases/nope", nil).
		ExecuteFunc(handler.handleCase).
		AssertStatus(http.StatusNotFound)
}

func TestCaseHandler_Transition(t *testing.T) {
	handler, db := newCaseHandler(t)
	c := seedCase(t, db, "CASE-2026-0001", database.CaseStatusOpen)

	var resp CaseResponse
	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/cases/"+c.UUID+"/transition", nil).
		WithJSONBody(TransitionRequest{Status: "cancelled", Actor: "alice"}).
		ExecuteFunc(handler.handleCase).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	if resp.Status != database.CaseStatusCancelled {
		t.Errorf("expected cancelled, got %s", resp.Status)
	}
}

func TestCaseHandler_Transition_InvalidConflicts(t *testing.T) {
	handler, db := newCaseHandler(t)
	c := seedCase(t, db, "CASE-2026-0001", database.CaseStatusOpen)

	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/cases/"+c.UUID+"/transition", nil).
		WithJSONBody(TransitionRequest{Status: "resolved"}).
		ExecuteFunc(handler.handleCase).
		AssertStatus(http.StatusConflict)

	var stored database.Case
	db.Where("id = ?", c.ID).First(&stored)
	if stored.Status != database.CaseStatusOpen {
		t.Errorf("expected unchanged status, got %s", stored.Status)
	}
}

func TestCaseHandler_Assign(t *testing.T) {
	handler, db := newCaseHandler(t)
	c := seedCase(t, db, "CASE-2026-0001", database.CaseStatusOpen)

	var resp CaseResponse
	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/cases/"+c.UUID+"/assign", nil).
		WithJSONBody(AssignRequest{UserIDs: []uint{3}, Actor: "alice"}).
		ExecuteFunc(handler.handleCase).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	if resp.Status != database.CaseStatusAssigned {
		t.Errorf("expected assigned, got %s", resp.Status)
	}
	if len(resp.AssignedUserIDs) != 1 || resp.AssignedUserIDs[0] != 3 {
		t.Errorf("expected user 3, got %v", resp.AssignedUserIDs)
	}
}

func TestCaseHandler_Assign_RequiresCandidates(t *testing.T) {
	handler, db := newCaseHandler(t)
	c := seedCase(t, db, "CASE-2026-0001", database.CaseStatusOpen)

	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/cases/"+c.UUID+"/assign", nil).
		WithJSONBody(AssignRequest{}).
		ExecuteFunc(handler.handleCase).
		AssertStatus(http.StatusBadRequest)
}

func TestCaseHandler_Settings(t *testing.T) {
	handler, _ := newCaseHandler(t)

	var settings database.CorrelationSettings
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/api/settings/correlation", nil).
		ExecuteFunc(handler.handleSettings).
		AssertStatus(http.StatusOK).
		DecodeJSON(&settings)

	if settings.ReplayWindowMinutes != 5 {
		t.Errorf("expected default replay window, got %d", settings.ReplayWindowMinutes)
	}

	settings.ReplayWindowMinutes = 10
	var updated database.CorrelationSettings
	testhelpers.NewHTTPTestContext(t, http.MethodPut, "/api/settings/correlation", nil).
		WithJSONBody(settings).
		ExecuteFunc(handler.handleSettings).
		AssertStatus(http.StatusOK).
		DecodeJSON(&updated)

	if updated.ReplayWindowMinutes != 10 {
		t.Errorf("expected updated replay window, got %d", updated.ReplayWindowMinutes)
	}
}
