package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"infantguard/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockGateEventsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *GateEventsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewGateEventsRepository(db, logger)

	return db, mock, repo
}

func TestInsertGateEvent_Success(t *testing.T) {
	db, mock, repo := setupMockGateEventsDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()

	ev := &models.GateEvent{
		ID:            uuid.New().String(),
		GateID:        "gate-1",
		EventType:     models.GateEventBadgeScan,
		State:         models.GateOpen,
		PreviousState: models.GateClosed,
		BadgeID:       "badge-7",
		UserID:        "user-1",
		Result:        models.BadgeGranted,
		Direction:     models.DirectionIn,
		Timestamp:     now,
	}

	mock.ExpectExec(`INSERT INTO gate_events`).
		WithArgs(
			ev.ID, ev.GateID, ev.EventType,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			ev.DurationMs, now,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.InsertGateEvent(ctx, ev)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListGateEvents_RequiresGateID(t *testing.T) {
	db, mock, repo := setupMockGateEventsDB(t)
	defer db.Close()

	_, _, err := repo.ListGateEvents(context.Background(), "", GateEventFilters{}, 1, 50)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "gate_id is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListGateEvents_EventTypeFilter(t *testing.T) {
	db, mock, repo := setupMockGateEventsDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	eventType := "forced"

	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs("gate-1", eventType).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := sqlmock.NewRows([]string{
		"event_id", "gate_id", "event_type", "state", "previous_state",
		"badge_id", "user_id", "result", "direction", "duration_ms", "recorded_at",
	}).AddRow(
		uuid.New().String(), "gate-1", "forced", "FORCED_OPEN", "CLOSED",
		nil, nil, nil, nil, int64(0), now,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("gate-1", eventType, 50, 0).
		WillReturnRows(rows)

	events, total, err := repo.ListGateEvents(ctx, "gate-1", GateEventFilters{EventType: &eventType}, 1, 50)

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, models.GateEventForced, events[0].EventType)
	assert.Equal(t, models.GateForcedOpen, events[0].State)
	assert.Equal(t, "", events[0].BadgeID)

	require.NoError(t, mock.ExpectationsWereMet())
}
