package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"infantguard/internal/models"

	"go.uber.org/zap"
)

// AlertsRepository 报警历史仓库
// 内存中的生命周期管理是权威状态；这里是落库留痕，每次变更 upsert 一次
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警历史仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertAlert 写入或更新一条报警记录（以 alert_id 为冲突键）
func (r *AlertsRepository) UpsertAlert(ctx context.Context, a *models.Alert) error {
	if a == nil {
		return fmt.Errorf("alert is required")
	}

	query := `
		INSERT INTO alerts (
			id,
			alert_id,
			type,
			severity,
			entity_type,
			entity_id,
			message,
			acknowledged,
			acknowledged_by,
			acknowledged_at,
			escalated_at,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (alert_id) DO UPDATE SET
			message = EXCLUDED.message,
			acknowledged = EXCLUDED.acknowledged,
			acknowledged_by = EXCLUDED.acknowledged_by,
			acknowledged_at = EXCLUDED.acknowledged_at,
			escalated_at = EXCLUDED.escalated_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx,
		query,
		a.ID,
		a.AlertID,
		a.Type,
		a.Severity,
		a.EntityType,
		a.EntityID,
		a.Message,
		a.Acknowledged,
		nullString(a.AcknowledgedBy),
		a.AcknowledgedAt,
		a.EscalatedAt,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alert: %w", err)
	}

	return nil
}

// MarkDismissed 标记报警为已 dismiss（历史留痕，活跃集合由内存管理）
func (r *AlertsRepository) MarkDismissed(ctx context.Context, alertID string, dismissedAt time.Time) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	query := `
		UPDATE alerts
		SET dismissed_at = $1,
		    updated_at = $1
		WHERE alert_id = $2
		  AND dismissed_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, dismissedAt, alertID)
	if err != nil {
		return fmt.Errorf("failed to mark alert dismissed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found or already dismissed: alert_id=%s", alertID)
	}

	return nil
}

// AlertFilters 报警历史过滤条件
type AlertFilters struct {
	Type       *string
	Severity   *string
	EntityType *string
	EntityID   *string
	StartTime  *time.Time // created_at >= StartTime
	EndTime    *time.Time // created_at <= EndTime
}

// ListAlerts 报警历史查询（按创建时间倒序，分页）
func (r *AlertsRepository) ListAlerts(ctx context.Context, filters AlertFilters, page, size int) ([]*models.Alert, int, error) {
	args := []interface{}{}
	argN := 1
	where := []string{}

	if filters.Type != nil {
		where = append(where, fmt.Sprintf("type = $%d", argN))
		args = append(args, *filters.Type)
		argN++
	}
	if filters.Severity != nil {
		where = append(where, fmt.Sprintf("severity = $%d", argN))
		args = append(args, *filters.Severity)
		argN++
	}
	if filters.EntityType != nil {
		where = append(where, fmt.Sprintf("entity_type = $%d", argN))
		args = append(args, *filters.EntityType)
		argN++
	}
	if filters.EntityID != nil {
		where = append(where, fmt.Sprintf("entity_id = $%d", argN))
		args = append(args, *filters.EntityID)
		argN++
	}
	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argN))
		args = append(args, *filters.StartTime)
		argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", argN))
		args = append(args, *filters.EndTime)
		argN++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	queryCount := fmt.Sprintf(`SELECT COUNT(*) FROM alerts %s`, whereClause)

	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`
		SELECT
			id,
			alert_id,
			type,
			severity,
			entity_type,
			entity_id,
			message,
			acknowledged,
			acknowledged_by,
			acknowledged_at,
			escalated_at,
			created_at,
			updated_at
		FROM alerts
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argN, argN+1)

	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		var a models.Alert
		var acknowledgedBy sql.NullString
		var acknowledgedAt, escalatedAt sql.NullTime

		err := rows.Scan(
			&a.ID,
			&a.AlertID,
			&a.Type,
			&a.Severity,
			&a.EntityType,
			&a.EntityID,
			&a.Message,
			&a.Acknowledged,
			&acknowledgedBy,
			&acknowledgedAt,
			&escalatedAt,
			&a.CreatedAt,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", err)
		}

		if acknowledgedBy.Valid {
			a.AcknowledgedBy = acknowledgedBy.String
		}
		if acknowledgedAt.Valid {
			a.AcknowledgedAt = &acknowledgedAt.Time
		}
		if escalatedAt.Valid {
			a.EscalatedAt = &escalatedAt.Time
		}

		alerts = append(alerts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, total, nil
}
