package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/factoryops/core/internal/domain"
)

type AlertRepo struct {
	db *sqlx.DB
}

func NewAlertRepo(db *sqlx.DB) *AlertRepo { return &AlertRepo{db: db} }

// TryClaimCooldown is the commit marker for one alert firing (spec.md §9):
// it inserts or refreshes a rule_cooldowns row only if the cooldown window
// has elapsed, atomically, so concurrent alerting workers evaluating the
// same (rule, device) never both win.
func (r *AlertRepo) TryClaimCooldown(ctx context.Context, ruleID, deviceID int64, cooldown time.Duration, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO rule_cooldowns (rule_id, device_id, last_triggered)
		VALUES ($1, $2, $3)
		ON CONFLICT (rule_id, device_id) DO UPDATE
			SET last_triggered = EXCLUDED.last_triggered
			WHERE rule_cooldowns.last_triggered <= EXCLUDED.last_triggered - $4::interval`,
		ruleID, deviceID, now, fmt.Sprintf("%d seconds", int(cooldown.Seconds())))
	if err != nil {
		return false, fmt.Errorf("repository: claim cooldown: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *AlertRepo) Create(ctx context.Context, a domain.Alert) (domain.Alert, error) {
	var id int64
	err := r.db.QueryRowxContext(ctx, `INSERT INTO alerts
		(factory_id, rule_id, device_id, triggered_at, severity, message, telemetry_snapshot, notification_sent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		a.FactoryID, a.RuleID, a.DeviceID, a.TriggeredAt, a.Severity, a.Message, a.TelemetrySnapshot, a.NotificationSent,
	).Scan(&id)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("repository: insert alert: %w", err)
	}
	a.ID = id
	return a, nil
}

func (r *AlertRepo) MarkNotified(ctx context.Context, alertID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE alerts SET notification_sent = true WHERE id = $1`, alertID)
	return err
}

func (r *AlertRepo) Resolve(ctx context.Context, factoryID, alertID int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET resolved_at = $3
		WHERE factory_id = $1 AND id = $2 AND resolved_at IS NULL`, factoryID, alertID, at)
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

func (r *AlertRepo) ActiveByFactory(ctx context.Context, factoryID int64) ([]domain.Alert, error) {
	var out []domain.Alert
	err := r.db.SelectContext(ctx, &out, `SELECT id, factory_id, rule_id, device_id, triggered_at, resolved_at,
		severity, message, telemetry_snapshot, notification_sent, created_at
		FROM alerts WHERE factory_id = $1 AND resolved_at IS NULL ORDER BY triggered_at DESC`, factoryID)
	return out, err
}

func (r *AlertRepo) GetByID(ctx context.Context, factoryID, alertID int64) (domain.Alert, error) {
	var a domain.Alert
	err := r.db.GetContext(ctx, &a, `SELECT id, factory_id, rule_id, device_id, triggered_at, resolved_at,
		severity, message, telemetry_snapshot, notification_sent, created_at
		FROM alerts WHERE factory_id = $1 AND id = $2`, factoryID, alertID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Alert{}, ErrNotFound
	}
	return a, err
}
