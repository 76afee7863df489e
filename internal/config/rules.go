package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/revguard/revguard/internal/database"
)

// ProvisioningFile is the YAML layout for declarative provisioning of teams,
// users and assignment rules. Records are upserted by their natural key at
// startup so the file can be kept in version control and re-applied on every
// deploy.
type ProvisioningFile struct {
	Teams []ProvisionedTeam `yaml:"teams,omitempty"`
	Users []ProvisionedUser `yaml:"users,omitempty"`
	Rules []ProvisionedRule `yaml:"assignment_rules,omitempty"`

	Correlation *ProvisionedCorrelation `yaml:"correlation,omitempty"`
}

// ProvisionedTeam declares a team
type ProvisionedTeam struct {
	Name string `yaml:"name"`
}

// ProvisionedUser declares a user, with an optional team reference by name
type ProvisionedUser struct {
	Name      string `yaml:"name"`
	Email     string `yaml:"email"`
	Team      string `yaml:"team,omitempty"`
	Available *bool  `yaml:"available,omitempty"`
}

// ProvisionedRule declares an assignment rule. Candidate users are referenced
// by email and teams by name; both are resolved against the database during
// apply.
type ProvisionedRule struct {
	Name     string   `yaml:"name"`
	RuleID   string   `yaml:"rule_id,omitempty"`
	Category string   `yaml:"category,omitempty"`
	Severity string   `yaml:"severity,omitempty"`
	Strategy string   `yaml:"strategy"`
	Users    []string `yaml:"users,omitempty"`
	Teams    []string `yaml:"teams,omitempty"`
	Position int      `yaml:"position,omitempty"`
	Enabled  *bool    `yaml:"enabled,omitempty"`
}

// ProvisionedCorrelation overrides correlation and SLA settings
type ProvisionedCorrelation struct {
	ReplayWindowMinutes   *int  `yaml:"replay_window_minutes,omitempty"`
	ReopenOnRefire        *bool `yaml:"reopen_on_refire,omitempty"`
	AutoResolve           *bool `yaml:"auto_resolve,omitempty"`
	ResolveObserveMinutes *int  `yaml:"resolve_observe_minutes,omitempty"`
	SLACriticalMinutes    *int  `yaml:"sla_critical_minutes,omitempty"`
	SLAHighMinutes        *int  `yaml:"sla_high_minutes,omitempty"`
	SLAMediumMinutes      *int  `yaml:"sla_medium_minutes,omitempty"`
	SLALowMinutes         *int  `yaml:"sla_low_minutes,omitempty"`
}

// LoadProvisioningFile parses the YAML provisioning file at path
func LoadProvisioningFile(path string) (*ProvisioningFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provisioning file: %w", err)
	}

	var pf ProvisioningFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse provisioning file: %w", err)
	}

	return &pf, nil
}

// ApplyProvisioning upserts the provisioned records into the database.
// Teams first, then users, then rules, so name references resolve.
func ApplyProvisioning(db *gorm.DB, pf *ProvisioningFile) error {
	return db.Transaction(func(tx *gorm.DB) error {
		teamIDs := make(map[string]uint)

		lookupTeam := func(name string) (uint, error) {
			if id, ok := teamIDs[name]; ok {
				return id, nil
			}
			var team database.Team
			if err := tx.Where("name = ?", name).First(&team).Error; err != nil {
				return 0, fmt.Errorf("unknown team %q: %w", name, err)
			}
			teamIDs[name] = team.ID
			return team.ID, nil
		}

		for _, t := range pf.Teams {
			if t.Name == "" {
				return fmt.Errorf("provisioned team with empty name")
			}
			team := database.Team{Name: t.Name}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoNothing: true,
			}).Create(&team).Error; err != nil {
				return fmt.Errorf("failed to upsert team %s: %w", t.Name, err)
			}
			if _, err := lookupTeam(t.Name); err != nil {
				return err
			}
		}

		userIDs := make(map[string]uint)

		for _, u := range pf.Users {
			if u.Email == "" {
				return fmt.Errorf("provisioned user with empty email")
			}
			available := true
			if u.Available != nil {
				available = *u.Available
			}

			var teamID *uint
			if u.Team != "" {
				id, err := lookupTeam(u.Team)
				if err != nil {
					return fmt.Errorf("user %s: %w", u.Email, err)
				}
				teamID = &id
			}

			user := database.User{
				Name:                   u.Name,
				Email:                  u.Email,
				TeamID:                 teamID,
				AvailableForAssignment: available,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "email"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "team_id", "available_for_assignment"}),
			}).Create(&user).Error; err != nil {
				return fmt.Errorf("failed to upsert user %s: %w", u.Email, err)
			}
			if err := tx.Where("email = ?", u.Email).First(&user).Error; err != nil {
				return err
			}
			userIDs[u.Email] = user.ID
		}

		for i, r := range pf.Rules {
			if r.Name == "" {
				return fmt.Errorf("provisioned assignment rule with empty name")
			}
			strategy := database.AssignmentStrategy(r.Strategy)
			switch strategy {
			case database.StrategyManual, database.StrategyRoundRobin, database.StrategyLoadBased, database.StrategyTeamBased:
			default:
				return fmt.Errorf("rule %s has unknown strategy %q", r.Name, r.Strategy)
			}

			var candidateUsers database.UintList
			for _, email := range r.Users {
				id, ok := userIDs[email]
				if !ok {
					var user database.User
					if err := tx.Where("email = ?", email).First(&user).Error; err != nil {
						return fmt.Errorf("rule %s references unknown user %s", r.Name, email)
					}
					id = user.ID
					userIDs[email] = id
				}
				candidateUsers = append(candidateUsers, id)
			}

			var candidateTeams database.UintList
			for _, name := range r.Teams {
				id, err := lookupTeam(name)
				if err != nil {
					return fmt.Errorf("rule %s: %w", r.Name, err)
				}
				candidateTeams = append(candidateTeams, id)
			}

			enabled := true
			if r.Enabled != nil {
				enabled = *r.Enabled
			}
			position := r.Position
			if position == 0 {
				position = i + 1
			}

			rule := database.AssignmentRule{
				Name:             r.Name,
				RuleID:           r.RuleID,
				Category:         r.Category,
				Severity:         database.AlertSeverity(r.Severity),
				Strategy:         strategy,
				CandidateUserIDs: candidateUsers,
				CandidateTeamIDs: candidateTeams,
				Position:         position,
				Enabled:          enabled,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"rule_id", "category", "severity", "strategy",
					"candidate_user_ids", "candidate_team_ids", "position", "enabled",
				}),
			}).Create(&rule).Error; err != nil {
				return fmt.Errorf("failed to upsert rule %s: %w", r.Name, err)
			}
		}

		if pf.Correlation != nil {
			if err := applyCorrelationOverrides(tx, pf.Correlation); err != nil {
				return err
			}
		}

		return nil
	})
}

func applyCorrelationOverrides(tx *gorm.DB, c *ProvisionedCorrelation) error {
	settings, err := database.GetOrCreateCorrelationSettings(tx)
	if err != nil {
		return err
	}

	if c.ReplayWindowMinutes != nil {
		settings.ReplayWindowMinutes = *c.ReplayWindowMinutes
	}
	if c.ReopenOnRefire != nil {
		settings.ReopenOnRefire = *c.ReopenOnRefire
	}
	if c.AutoResolve != nil {
		settings.AutoResolve = *c.AutoResolve
	}
	if c.ResolveObserveMinutes != nil {
		settings.ResolveObserveMinutes = *c.ResolveObserveMinutes
	}
	if c.SLACriticalMinutes != nil {
		settings.SLACriticalMinutes = *c.SLACriticalMinutes
	}
	if c.SLAHighMinutes != nil {
		settings.SLAHighMinutes = *c.SLAHighMinutes
	}
	if c.SLAMediumMinutes != nil {
		settings.SLAMediumMinutes = *c.SLAMediumMinutes
	}
	if c.SLALowMinutes != nil {
		settings.SLALowMinutes = *c.SLALowMinutes
	}

	return tx.Save(settings).Error
}

// ApplyProvisioningFromFile loads and applies the provisioning file if path
// is non-empty. Missing file is an error; an empty path is a no-op.
func ApplyProvisioningFromFile(db *gorm.DB, path string) error {
	if path == "" {
		return nil
	}

	pf, err := LoadProvisioningFile(path)
	if err != nil {
		return err
	}

	if err := ApplyProvisioning(db, pf); err != nil {
		return err
	}

	log.Printf("Applied provisioning from %s: %d teams, %d users, %d rules",
		path, len(pf.Teams), len(pf.Users), len(pf.Rules))
	return nil
}
