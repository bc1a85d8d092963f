package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"infantguard/internal/models"

	"go.uber.org/zap"
)

// ReferenceRepository 参考数据仓库（管理端维护，管道启动时只读装载）
// 区域多边形和放行名单存 JSONB，围栏引擎在内存里解析
type ReferenceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReferenceRepository 创建参考数据仓库
func NewReferenceRepository(db *sql.DB, logger *zap.Logger) *ReferenceRepository {
	return &ReferenceRepository{
		db:     db,
		logger: logger,
	}
}

// ListZones 装载全部地理围栏区域
func (r *ReferenceRepository) ListZones(ctx context.Context) ([]models.Zone, error) {
	query := `
		SELECT
			zone_id,
			name,
			floor,
			zone_type,
			polygon,
			color,
			allowlist,
			updated_at
		FROM zones
		ORDER BY zone_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	zones := []models.Zone{}
	for rows.Next() {
		var z models.Zone
		var color sql.NullString
		var polygon, allowlist []byte

		err := rows.Scan(
			&z.ID,
			&z.Name,
			&z.Floor,
			&z.Type,
			&polygon,
			&color,
			&allowlist,
			&z.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}

		if color.Valid {
			z.Color = color.String
		}
		if len(polygon) > 0 {
			if err := json.Unmarshal(polygon, &z.Polygon); err != nil {
				return nil, fmt.Errorf("failed to unmarshal zone polygon: zone_id=%s: %w", z.ID, err)
			}
		}
		if len(allowlist) > 0 {
			if err := json.Unmarshal(allowlist, &z.Allowlist); err != nil {
				return nil, fmt.Errorf("failed to unmarshal zone allowlist: zone_id=%s: %w", z.ID, err)
			}
		}

		zones = append(zones, z)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate zones: %w", err)
	}

	return zones, nil
}

// ListGates 装载全部门禁参考数据（状态由状态机推断，这里不含状态）
func (r *ReferenceRepository) ListGates(ctx context.Context) ([]models.Gate, error) {
	query := `
		SELECT
			id,
			gate_id,
			name,
			floor,
			zone,
			camera_id
		FROM gates
		ORDER BY gate_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query gates: %w", err)
	}
	defer rows.Close()

	gates := []models.Gate{}
	for rows.Next() {
		var g models.Gate
		var cameraID sql.NullString

		err := rows.Scan(
			&g.ID,
			&g.GateID,
			&g.Name,
			&g.Floor,
			&g.Zone,
			&cameraID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gate: %w", err)
		}

		if cameraID.Valid {
			g.CameraID = cameraID.String
		}
		g.State = models.GateUnknown

		gates = append(gates, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate gates: %w", err)
	}

	return gates, nil
}

// ListPairings 装载母婴配对表（tag_id → 配对 tag_id）
// 母亲与婴儿必须同区；不同区触发配对失联检查
func (r *ReferenceRepository) ListPairings(ctx context.Context) (map[string]string, error) {
	query := `
		SELECT infant_tag_id, mother_tag_id
		FROM tag_pairings
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tag pairings: %w", err)
	}
	defer rows.Close()

	pairings := map[string]string{}
	for rows.Next() {
		var infantTagID, motherTagID string
		if err := rows.Scan(&infantTagID, &motherTagID); err != nil {
			return nil, fmt.Errorf("failed to scan tag pairing: %w", err)
		}
		pairings[infantTagID] = motherTagID
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tag pairings: %w", err)
	}

	return pairings, nil
}
