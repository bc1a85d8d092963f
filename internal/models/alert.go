package models

import "time"

// AlertType 报警类型
type AlertType string

const (
	AlertDoorForcedOpen     AlertType = "DOOR_FORCED_OPEN"
	AlertDoorHeldOpen       AlertType = "DOOR_HELD_OPEN"
	AlertGeofenceBreach     AlertType = "GEOFENCE_BREACH"
	AlertUnauthorizedAccess AlertType = "UNAUTHORIZED_ACCESS"
	AlertExitZone           AlertType = "EXIT_ZONE"
	AlertTagLowBattery      AlertType = "TAG_LOW_BATTERY"
	AlertTagNoUpdate        AlertType = "TAG_NO_UPDATE"
	AlertPairingMismatch    AlertType = "PAIRING_MISMATCH"
	AlertSystemError        AlertType = "SYSTEM_ERROR"
)

// Severity 报警级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// EntityType 报警关联实体类型
type EntityType string

const (
	EntityGate   EntityType = "gate"
	EntityTag    EntityType = "tag"
	EntityZone   EntityType = "zone"
	EntitySystem EntityType = "system"
)

// Alert 报警记录
// AlertID 稳定，用于去重和客户端对账；仅通过生命周期操作变更
type Alert struct {
	ID             string     `json:"id"`
	AlertID        string     `json:"alertId"`
	Type           AlertType  `json:"type"`
	Severity       Severity   `json:"severity"`
	EntityType     EntityType `json:"entityType"`
	EntityID       string     `json:"entityId"`
	Message        string     `json:"message"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	EscalatedAt    *time.Time `json:"escalatedAt,omitempty"`
	DismissedAt    *time.Time `json:"dismissedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}
