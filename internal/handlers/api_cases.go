package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/revguard/revguard/internal/api"
	"github.com/revguard/revguard/internal/database"
	"github.com/revguard/revguard/internal/services"
)

// CaseHandler exposes the case read/action API consumed by the admin portal
type CaseHandler struct {
	db        *gorm.DB
	history   *services.HistoryService
	lifecycle *services.LifecycleService
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(db *gorm.DB, history *services.HistoryService, lifecycle *services.LifecycleService) *CaseHandler {
	return &CaseHandler{db: db, history: history, lifecycle: lifecycle}
}

// SetupRoutes configures case API routes
func (h *CaseHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/cases", h.handleList)
	mux.HandleFunc("/api/cases/", h.handleCase)
	mux.HandleFunc("/api/settings/correlation", h.handleSettings)
}

// CaseResponse is a case with its derived SLA state
type CaseResponse struct {
	database.Case
	SLABreachedNow bool `json:"sla_breached_now"`
}

func toCaseResponse(c database.Case, now time.Time) CaseResponse {
	return CaseResponse{Case: c, SLABreachedNow: c.IsSLABreachedAt(now)}
}

// handleList handles GET /api/cases with pagination and filters.
// Query parameters: status, unassigned=true, page, per_page.
func (h *CaseHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	p := api.ParsePagination(r)
	query := h.db.Model(&database.Case{})

	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	// The filter has to be in the query so total and paging match the rows.
	// The assignment lists serialize as JSON arrays; the text cast keeps the
	// empty-list predicate portable between postgres jsonb and sqlite.
	if r.URL.Query().Get("unassigned") == "true" {
		query = query.
			Where("status NOT IN ?", database.TerminalCaseStatuses).
			Where("(assigned_user_ids IS NULL OR CAST(assigned_user_ids AS TEXT) = '[]')").
			Where("(assigned_team_ids IS NULL OR CAST(assigned_team_ids AS TEXT) = '[]')")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to count cases")
		return
	}

	var cases []database.Case
	if err := query.Order("created_at DESC").Offset(p.Offset()).Limit(p.PerPage).Find(&cases).Error; err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to list cases")
		return
	}

	now := time.Now()
	responses := make([]CaseResponse, 0, len(cases))
	for _, c := range cases {
		responses = append(responses, toCaseResponse(c, now))
	}

	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"cases":       responses,
		"total":       total,
		"page":        p.Page,
		"per_page":    p.PerPage,
		"total_pages": p.TotalPages(total),
	})
}

// handleCase dispatches /api/cases/{uuid} and its sub-resources
func (h *CaseHandler) handleCase(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/cases/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		api.RespondError(w, http.StatusBadRequest, "Missing case UUID")
		return
	}
	caseUUID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.getCase(w, caseUUID)
		return
	}

	switch parts[1] {
	case "transition":
		h.transitionCase(w, r, caseUUID)
	case "assign":
		h.assignCase(w, r, caseUUID)
	default:
		api.RespondError(w, http.StatusNotFound, "Unknown case resource")
	}
}

// getCase returns the case with its activity trail and correlated alert events
func (h *CaseHandler) getCase(w http.ResponseWriter, caseUUID string) {
	var c database.Case
	if err := h.db.Where("uuid = ?", caseUUID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Case not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to load case")
		return
	}

	var activities []database.CaseActivity
	if err := h.db.Where("case_id = ?", c.ID).Order("created_at ASC, id ASC").Find(&activities).Error; err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to load case activity")
		return
	}

	fingerprints := append(database.StringList{c.PrimaryAlertFingerprint}, c.RelatedFingerprints...)
	var events []database.AlertEvent
	for _, fp := range fingerprints {
		fpEvents, err := h.history.EventsFor(fp)
		if err != nil {
			api.RespondError(w, http.StatusInternalServerError, "Failed to load alert history")
			return
		}
		events = append(events, fpEvents...)
	}

	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"case":       toCaseResponse(c, time.Now()),
		"activities": activities,
		"alerts":     events,
	})
}

// TransitionRequest is the body for POST /api/cases/{uuid}/transition
type TransitionRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
}

func (h *CaseHandler) transitionCase(w http.ResponseWriter, r *http.Request, caseUUID string) {
	if r.Method != http.MethodPost {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req TransitionRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status == "" {
		api.RespondError(w, http.StatusBadRequest, "status is required")
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "api"
	}

	c, err := h.lifecycle.TransitionCase(caseUUID, database.CaseStatus(req.Status), actor)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Case not found")
			return
		}
		if errors.Is(err, services.ErrInvalidTransition) {
			api.RespondErrorWithCode(w, http.StatusConflict, "invalid_transition", err.Error())
			return
		}
		log.Printf("Failed to transition case %s: %v", caseUUID, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to transition case")
		return
	}

	api.RespondJSON(w, http.StatusOK, toCaseResponse(*c, time.Now()))
}

// AssignRequest is the body for POST /api/cases/{uuid}/assign
type AssignRequest struct {
	UserIDs []uint `json:"user_ids"`
	TeamIDs []uint `json:"team_ids"`
	Actor   string `json:"actor"`
}

func (h *CaseHandler) assignCase(w http.ResponseWriter, r *http.Request, caseUUID string) {
	if r.Method != http.MethodPost {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req AssignRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.UserIDs) == 0 && len(req.TeamIDs) == 0 {
		api.RespondError(w, http.StatusBadRequest, "user_ids or team_ids is required")
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "api"
	}

	c, err := h.lifecycle.AssignCase(caseUUID, req.UserIDs, req.TeamIDs, actor)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Case not found")
			return
		}
		if errors.Is(err, services.ErrInvalidTransition) {
			api.RespondErrorWithCode(w, http.StatusConflict, "invalid_transition", err.Error())
			return
		}
		log.Printf("Failed to assign case %s: %v", caseUUID, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to assign case")
		return
	}

	api.RespondJSON(w, http.StatusOK, toCaseResponse(*c, time.Now()))
}

// handleSettings handles GET/PUT /api/settings/correlation
func (h *CaseHandler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := database.GetOrCreateCorrelationSettings(h.db)
		if err != nil {
			api.RespondError(w, http.StatusInternalServerError, "Failed to load settings")
			return
		}
		api.RespondJSON(w, http.StatusOK, settings)

	case http.MethodPut:
		settings, err := database.GetOrCreateCorrelationSettings(h.db)
		if err != nil {
			api.RespondError(w, http.StatusInternalServerError, "Failed to load settings")
			return
		}
		var update database.CorrelationSettings
		if err := api.DecodeJSON(r, &update); err != nil {
			api.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		update.ID = settings.ID
		update.CreatedAt = settings.CreatedAt
		if err := database.UpdateCorrelationSettings(h.db, &update); err != nil {
			api.RespondError(w, http.StatusInternalServerError, "Failed to update settings")
			return
		}
		api.RespondJSON(w, http.StatusOK, update)

	default:
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
