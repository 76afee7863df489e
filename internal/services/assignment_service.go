package services

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/revguard/revguard/internal/alerts"
	"github.com/revguard/revguard/internal/database"
)

// AssignmentResult is the recommendation returned by the resolver. Empty
// candidate sets are valid: the case stays open and unassigned.
type AssignmentResult struct {
	UserIDs  database.UintList
	TeamIDs  database.UintList
	RuleName string
	Strategy database.AssignmentStrategy
}

// IsEmpty reports whether the resolver found no candidates
func (r *AssignmentResult) IsEmpty() bool {
	return len(r.UserIDs) == 0 && len(r.TeamIDs) == 0
}

// AssignmentService chooses initial assignees for newly created cases.
// It only returns a recommendation; persisting the assignment is the
// lifecycle manager's job.
type AssignmentService struct {
	db *gorm.DB
}

// NewAssignmentService creates a new assignment service
func NewAssignmentService(db *gorm.DB) *AssignmentService {
	return &AssignmentService{db: db}
}

// MatchRule finds the first enabled rule matching the event, in position
// order. Empty rule fields act as wildcards. Returns nil when nothing
// matches.
func (s *AssignmentService) MatchRule(tx *gorm.DB, event alerts.Event) (*database.AssignmentRule, error) {
	var rules []database.AssignmentRule
	if err := tx.Where("enabled = ?", true).Order("position ASC, id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to load assignment rules: %w", err)
	}

	category := event.Labels["category"]
	for i := range rules {
		rule := &rules[i]
		if rule.RuleID != "" && rule.RuleID != event.RuleID && rule.RuleID != event.RuleName {
			continue
		}
		if rule.Category != "" && rule.Category != category {
			continue
		}
		if rule.Severity != "" && rule.Severity != event.Severity {
			continue
		}
		return rule, nil
	}
	return nil, nil
}

// ResolveAssignees applies the rule's strategy, or falls back to load-based
// selection over the available-user pool when no rule matches.
func (s *AssignmentService) ResolveAssignees(tx *gorm.DB, rule *database.AssignmentRule) (*AssignmentResult, error) {
	if rule == nil {
		userID, found, err := s.leastLoadedFromPool(tx)
		if err != nil {
			return nil, err
		}
		result := &AssignmentResult{Strategy: database.StrategyLoadBased}
		if found {
			result.UserIDs = database.UintList{userID}
		}
		return result, nil
	}

	result := &AssignmentResult{RuleName: rule.Name, Strategy: rule.Strategy}

	switch rule.Strategy {
	case database.StrategyManual, database.StrategyTeamBased:
		result.UserIDs = rule.CandidateUserIDs
		result.TeamIDs = rule.CandidateTeamIDs

	case database.StrategyRoundRobin:
		if len(rule.CandidateUserIDs) == 0 {
			result.TeamIDs = rule.CandidateTeamIDs
			break
		}
		userID, err := s.nextRoundRobin(tx, rule)
		if err != nil {
			return nil, err
		}
		result.UserIDs = database.UintList{userID}
		result.TeamIDs = rule.CandidateTeamIDs

	case database.StrategyLoadBased:
		candidates := []uint(rule.CandidateUserIDs)
		if len(candidates) == 0 {
			result.TeamIDs = rule.CandidateTeamIDs
			break
		}
		userID, found, err := s.leastLoaded(tx, candidates)
		if err != nil {
			return nil, err
		}
		if found {
			result.UserIDs = database.UintList{userID}
		}
		result.TeamIDs = rule.CandidateTeamIDs

	default:
		return nil, fmt.Errorf("unknown assignment strategy: %s", rule.Strategy)
	}

	return result, nil
}

// nextRoundRobin advances the persisted cursor for the rule and returns the
// selected candidate. The cursor survives restarts so fairness holds across
// invocations.
func (s *AssignmentService) nextRoundRobin(tx *gorm.DB, rule *database.AssignmentRule) (uint, error) {
	var cursor database.AssignmentCursor
	err := tx.Where("rule_id = ?", rule.ID).First(&cursor).Error
	if err == gorm.ErrRecordNotFound {
		cursor = database.AssignmentCursor{RuleID: rule.ID, LastIndex: -1}
		if err := tx.Create(&cursor).Error; err != nil {
			return 0, fmt.Errorf("failed to create assignment cursor: %w", err)
		}
	} else if err != nil {
		return 0, fmt.Errorf("failed to load assignment cursor: %w", err)
	}

	next := (cursor.LastIndex + 1) % len(rule.CandidateUserIDs)
	if err := tx.Model(&database.AssignmentCursor{}).Where("rule_id = ?", rule.ID).
		Updates(map[string]interface{}{"last_index": next, "updated_at": time.Now()}).Error; err != nil {
		return 0, fmt.Errorf("failed to advance assignment cursor: %w", err)
	}

	return rule.CandidateUserIDs[next], nil
}

// leastLoadedFromPool picks the least-loaded user among all users flagged
// available for assignment. Returns found=false for an empty pool.
func (s *AssignmentService) leastLoadedFromPool(tx *gorm.DB) (uint, bool, error) {
	var users []database.User
	if err := tx.Where("available_for_assignment = ?", true).Order("id ASC").Find(&users).Error; err != nil {
		return 0, false, fmt.Errorf("failed to load assignment pool: %w", err)
	}
	if len(users) == 0 {
		return 0, false, nil
	}

	ids := make([]uint, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return s.leastLoaded(tx, ids)
}

// leastLoaded returns the candidate with the fewest active cases, ties broken
// by lowest user id. The counts are read without locking: load balancing is a
// best-effort heuristic, not an invariant.
func (s *AssignmentService) leastLoaded(tx *gorm.DB, candidates []uint) (uint, bool, error) {
	if len(candidates) == 0 {
		return 0, false, nil
	}

	var active []database.Case
	if err := tx.Where("status NOT IN ?", database.TerminalCaseStatuses).Find(&active).Error; err != nil {
		return 0, false, fmt.Errorf("failed to load active cases: %w", err)
	}

	counts := make(map[uint]int, len(candidates))
	for _, id := range candidates {
		counts[id] = 0
	}
	for _, c := range active {
		for _, id := range c.AssignedUserIDs {
			if _, ok := counts[id]; ok {
				counts[id]++
			}
		}
	}

	var best uint
	bestCount := -1
	for _, id := range candidates {
		n := counts[id]
		if bestCount == -1 || n < bestCount || (n == bestCount && id < best) {
			best = id
			bestCount = n
		}
	}
	return best, true, nil
}
