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

// GateEventsRepository 门禁事件仓库（append-only）
type GateEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewGateEventsRepository 创建门禁事件仓库
func NewGateEventsRepository(db *sql.DB, logger *zap.Logger) *GateEventsRepository {
	return &GateEventsRepository{
		db:     db,
		logger: logger,
	}
}

// InsertGateEvent 写入一条门禁事件
func (r *GateEventsRepository) InsertGateEvent(ctx context.Context, ev *models.GateEvent) error {
	if ev == nil {
		return fmt.Errorf("gate event is required")
	}

	query := `
		INSERT INTO gate_events (
			event_id,
			gate_id,
			event_type,
			state,
			previous_state,
			badge_id,
			user_id,
			result,
			direction,
			duration_ms,
			recorded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		ev.ID,
		ev.GateID,
		ev.EventType,
		nullString(string(ev.State)),
		nullString(string(ev.PreviousState)),
		nullString(ev.BadgeID),
		nullString(ev.UserID),
		nullString(string(ev.Result)),
		nullString(string(ev.Direction)),
		ev.DurationMs,
		ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert gate event: %w", err)
	}

	return nil
}

// GateEventFilters 门禁事件过滤条件
type GateEventFilters struct {
	EventType *string
	StartTime *time.Time // recorded_at >= StartTime
	EndTime   *time.Time // recorded_at <= EndTime
}

// ListGateEvents 查询某个门禁的事件流水（按时间倒序，分页）
func (r *GateEventsRepository) ListGateEvents(ctx context.Context, gateID string, filters GateEventFilters, page, size int) ([]*models.GateEvent, int, error) {
	if gateID == "" {
		return nil, 0, fmt.Errorf("gate_id is required")
	}

	args := []interface{}{gateID}
	argN := 2
	where := []string{"gate_id = $1"}

	if filters.EventType != nil {
		where = append(where, fmt.Sprintf("event_type = $%d", argN))
		args = append(args, *filters.EventType)
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

	whereClause := "WHERE " + strings.Join(where, " AND ")

	queryCount := fmt.Sprintf(`SELECT COUNT(*) FROM gate_events %s`, whereClause)

	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count gate events: %w", err)
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
			event_id,
			gate_id,
			event_type,
			state,
			previous_state,
			badge_id,
			user_id,
			result,
			direction,
			duration_ms,
			recorded_at
		FROM gate_events
		%s
		ORDER BY recorded_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argN, argN+1)

	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query gate events: %w", err)
	}
	defer rows.Close()

	events := []*models.GateEvent{}
	for rows.Next() {
		var ev models.GateEvent
		var state, previousState, badgeID, userID, result, direction sql.NullString

		err := rows.Scan(
			&ev.ID,
			&ev.GateID,
			&ev.EventType,
			&state,
			&previousState,
			&badgeID,
			&userID,
			&result,
			&direction,
			&ev.DurationMs,
			&ev.Timestamp,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan gate event: %w", err)
		}

		if state.Valid {
			ev.State = models.GateState(state.String)
		}
		if previousState.Valid {
			ev.PreviousState = models.GateState(previousState.String)
		}
		if badgeID.Valid {
			ev.BadgeID = badgeID.String
		}
		if userID.Valid {
			ev.UserID = userID.String
		}
		if result.Valid {
			ev.Result = models.BadgeResult(result.String)
		}
		if direction.Valid {
			ev.Direction = models.Direction(direction.String)
		}

		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate gate events: %w", err)
	}

	return events, total, nil
}
