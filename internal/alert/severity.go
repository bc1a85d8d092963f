package alert

import "infantguard/internal/models"

// severityTable 报警类型 → 级别的静态映射
// 级别永远不动态计算，测试可以断言确切值
var severityTable = map[models.AlertType]models.Severity{
	models.AlertDoorForcedOpen:     models.SeverityCritical,
	models.AlertGeofenceBreach:     models.SeverityCritical,
	models.AlertUnauthorizedAccess: models.SeverityCritical,
	models.AlertDoorHeldOpen:       models.SeverityWarning,
	models.AlertTagLowBattery:      models.SeverityWarning,
	models.AlertExitZone:           models.SeverityWarning,
	models.AlertTagNoUpdate:        models.SeverityWarning,
	models.AlertPairingMismatch:    models.SeverityWarning,
	models.AlertSystemError:        models.SeverityInfo,
}

// SeverityFor 查静态级别表；未登记的类型按 info 兜底
func SeverityFor(t models.AlertType) models.Severity {
	if s, ok := severityTable[t]; ok {
		return s
	}
	return models.SeverityInfo
}
