package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
type PostgresRuleStore struct {
	db *sql.DB
}

func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

func (s *PostgresRuleStore) Create(ctx context.Context, rule *EarningRule) error {
	now := time.Now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO earning_rules (name, rule_json, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`, rule.Name, rule.RuleJSON, rule.Active, now).Scan(&rule.ID)
	if err != nil {
		return fmt.Errorf("failed to insert earning rule: %w", err)
	}

	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

func (s *PostgresRuleStore) Get(ctx context.Context, id int64) (*EarningRule, error) {
	var rule EarningRule
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, rule_json, active, created_at, updated_at
		FROM earning_rules
		WHERE id = $1
	`, id).Scan(
		&rule.ID,
		&rule.Name,
		&rule.RuleJSON,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get earning rule: %w", err)
	}

	return &rule, nil
}

func (s *PostgresRuleStore) List(ctx context.Context) ([]*EarningRule, error) {
	return s.list(ctx, `
		SELECT id, name, rule_json, active, created_at, updated_at
		FROM earning_rules
		ORDER BY created_at ASC, id ASC
	`)
}

func (s *PostgresRuleStore) ListActive(ctx context.Context) ([]*EarningRule, error) {
	return s.list(ctx, `
		SELECT id, name, rule_json, active, created_at, updated_at
		FROM earning_rules
		WHERE active = true
		ORDER BY created_at ASC, id ASC
	`)
}

func (s *PostgresRuleStore) list(ctx context.Context, query string) ([]*EarningRule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list earning rules: %w", err)
	}
	defer rows.Close()

	var list []*EarningRule
	for rows.Next() {
		var r EarningRule
		if err := rows.Scan(&r.ID, &r.Name, &r.RuleJSON, &r.Active,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan earning rule: %w", err)
		}
		list = append(list, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating earning rules: %w", err)
	}

	return list, nil
}

func (s *PostgresRuleStore) Update(ctx context.Context, rule *EarningRule) error {
	rule.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE earning_rules
		SET name = $1, rule_json = $2, active = $3, updated_at = $4
		WHERE id = $5
	`, rule.Name, rule.RuleJSON, rule.Active, rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update earning rule: %w", err)
	}

	return checkAffected(result, rule.ID)
}

func (s *PostgresRuleStore) SetActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE earning_rules
		SET active = $1, updated_at = $2
		WHERE id = $3
	`, active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update earning rule status: %w", err)
	}

	return checkAffected(result, id)
}

func (s *PostgresRuleStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM earning_rules
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete earning rule: %w", err)
	}

	return checkAffected(result, id)
}

func checkAffected(result sql.Result, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	return nil
}
