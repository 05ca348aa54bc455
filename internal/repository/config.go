package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveRuleSetting upserts one KEYNAME/KEYVALUE row.
func (r *SQLRepository) SaveRuleSetting(ctx context.Context, setting domain.RuleSetting) error {
	if !setting.Module.Valid() || setting.KeyName == "" {
		return fmt.Errorf("%w: module and key name are required", ErrInvalidInput)
	}
	query := `
		INSERT INTO rule_settings (module, key_name, key_value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(module, key_name) DO UPDATE SET
			key_value = excluded.key_value,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		string(setting.Module), setting.KeyName, setting.KeyValue, time.Now().UTC(),
	)
	return err
}

// ListRuleSettings returns the settings of a module ordered by key.
func (r *SQLRepository) ListRuleSettings(ctx context.Context, module domain.Module) ([]domain.RuleSetting, error) {
	query := `
		SELECT module, key_name, key_value
		FROM rule_settings
		WHERE module = ?
		ORDER BY key_name
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(module))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RuleSetting
	for rows.Next() {
		var s domain.RuleSetting
		var m string
		if err := rows.Scan(&m, &s.KeyName, &s.KeyValue); err != nil {
			return nil, err
		}
		s.Module = domain.Module(m)
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveRuleConfig stores a custom CEL rule.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.CustomRule) error {
	if rule == nil || rule.ID == "" || rule.Name == "" || rule.Expression == "" {
		return fmt.Errorf("%w: id, name and expression are required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO rule_configs (
			id, name, description, version, module, expression, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			module = excluded.module,
			expression = excluded.expression,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version, string(rule.Module),
		rule.Expression, rule.Weight, boolInt(rule.Enabled), now, now,
	)
	return err
}

// GetRuleConfig retrieves an enabled custom rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.CustomRule, error) {
	query := `
		SELECT id, name, description, version, module, expression, weight, enabled
		FROM rule_configs
		WHERE id = ? AND enabled = 1
	`
	rule, err := scanRuleConfig(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRuleConfigs retrieves all enabled custom rules ordered by name.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.CustomRule, error) {
	query := `
		SELECT id, name, description, version, module, expression, weight, enabled
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.CustomRule
	for rows.Next() {
		rule, err := scanRuleConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// DeleteRuleConfig soft-deletes a custom rule by setting enabled = 0.
func (r *SQLRepository) DeleteRuleConfig(ctx context.Context, ruleID string) error {
	query := `
		UPDATE rule_configs
		SET enabled = 0, updated_at = ?
		WHERE id = ? AND enabled = 1
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}
	return expectRows(result)
}

func scanRuleConfig(s rowScanner) (*domain.CustomRule, error) {
	var rule domain.CustomRule
	var desc, module sql.NullString
	var enabled int
	if err := s.Scan(&rule.ID, &rule.Name, &desc, &rule.Version, &module, &rule.Expression, &rule.Weight, &enabled); err != nil {
		return nil, err
	}
	rule.Description = desc.String
	rule.Module = domain.Module(module.String)
	rule.Enabled = enabled == 1
	return &rule, nil
}

// SaveScenario upserts a duplicate scenario.
func (r *SQLRepository) SaveScenario(ctx context.Context, scenario *domain.Scenario) error {
	if scenario == nil || scenario.ID <= 0 || len(scenario.GroupBy) == 0 {
		return fmt.Errorf("%w: scenario id and group-by fields are required", ErrInvalidInput)
	}
	query := `
		INSERT INTO duplicate_scenarios (scenario_id, scenario_name, group_by_fields, similarity_check_columns, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scenario_id) DO UPDATE SET
			scenario_name = excluded.scenario_name,
			group_by_fields = excluded.group_by_fields,
			similarity_check_columns = excluded.similarity_check_columns,
			status = excluded.status
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		scenario.ID, scenario.Name,
		strings.Join(scenario.GroupBy, ","),
		strings.Join(scenario.SimilarityColumns, ","),
		boolInt(scenario.Active),
	)
	return err
}

// ListScenarios returns every scenario ordered by ID, inactive ones included.
func (r *SQLRepository) ListScenarios(ctx context.Context) ([]domain.Scenario, error) {
	query := `
		SELECT scenario_id, scenario_name, group_by_fields, similarity_check_columns, status
		FROM duplicate_scenarios
		ORDER BY scenario_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Scenario
	for rows.Next() {
		var s domain.Scenario
		var groupBy string
		var similarity sql.NullString
		var status int
		if err := rows.Scan(&s.ID, &s.Name, &groupBy, &similarity, &status); err != nil {
			return nil, err
		}
		s.GroupBy = splitList(groupBy)
		s.SimilarityColumns = splitList(similarity.String)
		s.Active = status == 1
		out = append(out, s)
	}
	return out, rows.Err()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
