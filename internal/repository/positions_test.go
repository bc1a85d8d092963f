package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"infantguard/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockPositionsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PositionsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewPositionsRepository(db, logger)

	return db, mock, repo
}

func TestInsertPosition_Success(t *testing.T) {
	db, mock, repo := setupMockPositionsDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()

	p := &models.Position{
		TagID:      "INF-003",
		AssetType:  models.AssetInfant,
		X:          12.5,
		Y:          8.2,
		Floor:      "F3",
		Accuracy:   0.4,
		BatteryPct: 87,
		GatewayID:  "gw-31",
		RSSI:       -61,
		SequenceID: 42,
		Timestamp:  now,
	}

	mock.ExpectExec(`INSERT INTO rtls_positions`).
		WithArgs(
			p.TagID, p.AssetType, p.X, p.Y, p.Z, p.Floor,
			p.Accuracy, p.BatteryPct, sqlmock.AnyArg(), p.RSSI, p.SequenceID, now,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.InsertPosition(ctx, p)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPosition_NilPosition(t *testing.T) {
	db, mock, repo := setupMockPositionsDB(t)
	defer db.Close()

	err := repo.InsertPosition(context.Background(), nil)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "position is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPositions_FiltersAndPagination(t *testing.T) {
	db, mock, repo := setupMockPositionsDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	tagID := "INF-003"

	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(tagID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	rows := sqlmock.NewRows([]string{
		"tag_id", "asset_type", "x", "y", "z", "floor",
		"accuracy", "battery_pct", "gateway_id", "rssi", "sequence_id", "recorded_at",
	}).AddRow(
		tagID, "infant", 12.5, 8.2, 0.0, "F3",
		0.4, 87, "gw-31", -61, int64(42), now,
	).AddRow(
		tagID, "infant", 12.1, 8.0, 0.0, "F3",
		0.5, 87, nil, -63, int64(41), now.Add(-time.Second),
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs(tagID, 2, 0).
		WillReturnRows(rows)

	positions, total, err := repo.ListPositions(ctx, PositionFilters{TagID: &tagID}, 1, 2)

	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, positions, 2)
	assert.Equal(t, "gw-31", positions[0].GatewayID)
	assert.Equal(t, "", positions[1].GatewayID)
	assert.Equal(t, int64(42), positions[0].SequenceID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPositions_TimeRange(t *testing.T) {
	db, mock, repo := setupMockPositionsDB(t)
	defer db.Close()

	ctx := context.Background()
	start := time.Now().Add(-time.Hour)
	end := time.Now()

	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectQuery(`SELECT`).
		WithArgs(start, end, 100, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"tag_id", "asset_type", "x", "y", "z", "floor",
			"accuracy", "battery_pct", "gateway_id", "rssi", "sequence_id", "recorded_at",
		}))

	positions, total, err := repo.ListPositions(ctx, PositionFilters{StartTime: &start, EndTime: &end}, 0, 0)

	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, positions)

	require.NoError(t, mock.ExpectationsWereMet())
}
