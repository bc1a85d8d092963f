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

// PositionsRepository 位置历史仓库（append-only 审计流水）
type PositionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPositionsRepository 创建位置历史仓库
func NewPositionsRepository(db *sql.DB, logger *zap.Logger) *PositionsRepository {
	return &PositionsRepository{
		db:     db,
		logger: logger,
	}
}

// InsertPosition 写入一条位置记录
func (r *PositionsRepository) InsertPosition(ctx context.Context, p *models.Position) error {
	if p == nil {
		return fmt.Errorf("position is required")
	}

	query := `
		INSERT INTO rtls_positions (
			tag_id,
			asset_type,
			x,
			y,
			z,
			floor,
			accuracy,
			battery_pct,
			gateway_id,
			rssi,
			sequence_id,
			recorded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		p.TagID,
		p.AssetType,
		p.X,
		p.Y,
		p.Z,
		p.Floor,
		p.Accuracy,
		p.BatteryPct,
		nullString(p.GatewayID),
		p.RSSI,
		p.SequenceID,
		p.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}

	return nil
}

// PositionFilters 位置历史过滤条件
type PositionFilters struct {
	TagID     *string
	Floor     *string
	StartTime *time.Time // recorded_at >= StartTime
	EndTime   *time.Time // recorded_at <= EndTime
}

// ListPositions 位置历史查询（按时间倒序，分页）
func (r *PositionsRepository) ListPositions(ctx context.Context, filters PositionFilters, page, size int) ([]*models.Position, int, error) {
	args := []interface{}{}
	argN := 1
	where := []string{}

	if filters.TagID != nil {
		where = append(where, fmt.Sprintf("tag_id = $%d", argN))
		args = append(args, *filters.TagID)
		argN++
	}
	if filters.Floor != nil {
		where = append(where, fmt.Sprintf("floor = $%d", argN))
		args = append(args, *filters.Floor)
		argN++
	}
	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("recorded_at >= $%d", argN))
		args = append(args, *filters.StartTime)
		argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("recorded_at <= $%d", argN))
		args = append(args, *filters.EndTime)
		argN++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	queryCount := fmt.Sprintf(`SELECT COUNT(*) FROM rtls_positions %s`, whereClause)

	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count positions: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 100
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`
		SELECT
			tag_id,
			asset_type,
			x,
			y,
			z,
			floor,
			accuracy,
			battery_pct,
			gateway_id,
			rssi,
			sequence_id,
			recorded_at
		FROM rtls_positions
		%s
		ORDER BY recorded_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argN, argN+1)

	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := []*models.Position{}
	for rows.Next() {
		var p models.Position
		var gatewayID sql.NullString

		err := rows.Scan(
			&p.TagID,
			&p.AssetType,
			&p.X,
			&p.Y,
			&p.Z,
			&p.Floor,
			&p.Accuracy,
			&p.BatteryPct,
			&gatewayID,
			&p.RSSI,
			&p.SequenceID,
			&p.Timestamp,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan position: %w", err)
		}

		if gatewayID.Valid {
			p.GatewayID = gatewayID.String
		}

		positions = append(positions, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate positions: %w", err)
	}

	return positions, total, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
