package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/factoryops/core/internal/domain"
)

type RuleRepo struct {
	db *sqlx.DB
}

func NewRuleRepo(db *sqlx.DB) *RuleRepo { return &RuleRepo{db: db} }

// CandidatesForDevice returns every active rule that could fire for a given
// device: global rules, plus device-scoped rules joined through
// rule_devices. This is what the C6 rule cache keeps warm per (factory_id,
// device_id).
func (r *RuleRepo) CandidatesForDevice(ctx context.Context, factoryID, deviceID int64) ([]domain.Rule, error) {
	var rows []domain.Rule
	err := r.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT r.id, r.factory_id, r.name, r.description, r.scope, r.conditions,
			r.cooldown_minutes, r.is_active, r.schedule_type, r.schedule_config, r.severity,
			r.notification_channels, r.created_by, r.created_at, r.updated_at
		FROM rules r
		LEFT JOIN rule_devices rd ON rd.rule_id = r.id AND rd.device_id = $2
		WHERE r.factory_id = $1 AND r.is_active = true
			AND (r.scope = 'global' OR rd.device_id IS NOT NULL)
		ORDER BY r.id`, factoryID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("repository: candidate rules: %w", err)
	}
	for i := range rows {
		if rows[i].Scope != domain.RuleScopeDevice {
			continue
		}
		ids, err := r.deviceIDs(ctx, rows[i].ID)
		if err != nil {
			return nil, err
		}
		rows[i].DeviceIDs = ids
	}
	return rows, nil
}

func (r *RuleRepo) deviceIDs(ctx context.Context, ruleID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT device_id FROM rule_devices WHERE rule_id = $1`, ruleID)
	return ids, err
}

func (r *RuleRepo) GetByID(ctx context.Context, factoryID, ruleID int64) (domain.Rule, error) {
	var rule domain.Rule
	err := r.db.GetContext(ctx, &rule, `
		SELECT id, factory_id, name, description, scope, conditions, cooldown_minutes, is_active,
			schedule_type, schedule_config, severity, notification_channels, created_by, created_at, updated_at
		FROM rules WHERE factory_id = $1 AND id = $2`, factoryID, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Rule{}, ErrNotFound
	}
	if err != nil {
		return domain.Rule{}, fmt.Errorf("repository: get rule: %w", err)
	}
	ids, err := r.deviceIDs(ctx, rule.ID)
	if err != nil {
		return domain.Rule{}, err
	}
	rule.DeviceIDs = ids
	return rule, nil
}

// Create persists a rule and, for device scope, its rule_devices rows, in a
// single transaction.
func (r *RuleRepo) Create(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	if err := rule.Validate(); err != nil {
		return domain.Rule{}, err
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Rule{}, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowxContext(ctx, `INSERT INTO rules
		(factory_id, name, description, scope, conditions, cooldown_minutes, is_active,
		 schedule_type, schedule_config, severity, notification_channels, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		rule.FactoryID, rule.Name, rule.Description, rule.Scope, rule.Conditions, rule.CooldownMinutes,
		rule.IsActive, rule.ScheduleType, rule.ScheduleConfig, rule.Severity, rule.NotificationChannels, rule.CreatedBy,
	).Scan(&id)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("repository: insert rule: %w", err)
	}

	for _, deviceID := range rule.DeviceIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO rule_devices (rule_id, device_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING`, id, deviceID); err != nil {
			return domain.Rule{}, fmt.Errorf("repository: insert rule_devices: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Rule{}, err
	}
	rule.ID = id
	return rule, nil
}

func (r *RuleRepo) SetActive(ctx context.Context, factoryID, ruleID int64, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE rules SET is_active = $3, updated_at = now()
		WHERE factory_id = $1 AND id = $2`, factoryID, ruleID, active)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
