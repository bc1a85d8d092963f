package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"infantguard/internal/alert"
	"infantguard/internal/models"
	"infantguard/internal/repository"

	"go.uber.org/zap"
)

// TagSource 标签最新状态来源（内存存储）
type TagSource interface {
	All(floor string) []models.Tag
	Tag(tagID string) (models.Tag, bool)
}

// GateSource 门禁当前状态来源（状态机）
type GateSource interface {
	Gates(floor string) []models.Gate
	Gate(gateID string) (models.Gate, bool)
}

// AlertService 报警生命周期操作
type AlertService interface {
	Active(severity models.Severity, acknowledged *bool) []models.Alert
	Acknowledge(alertID, userID string) (models.Alert, error)
	Escalate(alertID string) (models.Alert, error)
	Dismiss(alertID string) error
}

// PositionHistory 位置历史（DB 关闭时为 nil）
type PositionHistory interface {
	ListPositions(ctx context.Context, filters repository.PositionFilters, page, size int) ([]*models.Position, int, error)
}

// GateEventHistory 门禁事件历史（DB 关闭时为 nil）
type GateEventHistory interface {
	ListGateEvents(ctx context.Context, gateID string, filters repository.GateEventFilters, page, size int) ([]*models.GateEvent, int, error)
}

// AlertHistory 报警历史（DB 关闭时为 nil）
type AlertHistory interface {
	ListAlerts(ctx context.Context, filters repository.AlertFilters, page, size int) ([]*models.Alert, int, error)
}

// HealthInfo 健康检查快照
type HealthInfo struct {
	Status           string `json:"status"`
	MQTTConnected    bool   `json:"mqttConnected"`
	DBEnabled        bool   `json:"dbEnabled"`
	InvalidPositions int64  `json:"invalidPositions"`
	InvalidGates     int64  `json:"invalidGates"`
}

// HealthSource 健康状态来源
type HealthSource interface {
	Health() HealthInfo
}

// API 查询与生命周期接口
type API struct {
	tags   TagSource
	gates  GateSource
	alerts AlertService

	positionHistory PositionHistory
	gateHistory     GateEventHistory
	alertHistory    AlertHistory

	health HealthSource
	logger *zap.Logger
}

// NewAPI 创建接口层；history 仓库在 DB 关闭时传 nil
func NewAPI(
	tags TagSource,
	gates GateSource,
	alerts AlertService,
	positionHistory PositionHistory,
	gateHistory GateEventHistory,
	alertHistory AlertHistory,
	health HealthSource,
	logger *zap.Logger,
) *API {
	return &API{
		tags:            tags,
		gates:           gates,
		alerts:          alerts,
		positionHistory: positionHistory,
		gateHistory:     gateHistory,
		alertHistory:    alertHistory,
		health:          health,
		logger:          logger,
	}
}

// GetLatestPositions GET /api/v1/rtls/positions/latest?floor=
func (a *API) GetLatestPositions(w http.ResponseWriter, r *http.Request) {
	floor := r.URL.Query().Get("floor")
	tags := a.tags.All(floor)
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": tags,
		"total": len(tags),
	}))
}

// GetTagLatest GET /api/v1/rtls/tags/{tagId}/latest
func (a *API) GetTagLatest(w http.ResponseWriter, r *http.Request, tagID string) {
	tag, ok := a.tags.Tag(tagID)
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail("tag not found: "+tagID))
		return
	}
	writeJSON(w, http.StatusOK, Ok(tag))
}

// GetPositionHistory GET /api/v1/rtls/positions/history?tagId=&floor=&start=&end=&page=&size=
func (a *API) GetPositionHistory(w http.ResponseWriter, r *http.Request) {
	if a.positionHistory == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("history not available"))
		return
	}

	q := r.URL.Query()
	filters := repository.PositionFilters{
		TagID:     strPtr(q.Get("tagId")),
		Floor:     strPtr(q.Get("floor")),
		StartTime: parseTime(q.Get("start")),
		EndTime:   parseTime(q.Get("end")),
	}

	positions, total, err := a.positionHistory.ListPositions(r.Context(), filters, parseInt(q.Get("page"), 1), parseInt(q.Get("size"), 100))
	if err != nil {
		a.logger.Error("failed to list position history", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list position history"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": positions,
		"total": total,
	}))
}

// GetGates GET /api/v1/gates?floor=
func (a *API) GetGates(w http.ResponseWriter, r *http.Request) {
	gates := a.gates.Gates(r.URL.Query().Get("floor"))
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": gates,
		"total": len(gates),
	}))
}

// GetGateEvents GET /api/v1/gates/{gateId}/events?eventType=&start=&end=&page=&size=
func (a *API) GetGateEvents(w http.ResponseWriter, r *http.Request, gateID string) {
	if a.gateHistory == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("history not available"))
		return
	}
	if _, ok := a.gates.Gate(gateID); !ok {
		writeJSON(w, http.StatusNotFound, Fail("gate not found: "+gateID))
		return
	}

	q := r.URL.Query()
	filters := repository.GateEventFilters{
		EventType: strPtr(q.Get("eventType")),
		StartTime: parseTime(q.Get("start")),
		EndTime:   parseTime(q.Get("end")),
	}

	events, total, err := a.gateHistory.ListGateEvents(r.Context(), gateID, filters, parseInt(q.Get("page"), 1), parseInt(q.Get("size"), 50))
	if err != nil {
		a.logger.Error("failed to list gate events", zap.String("gate_id", gateID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list gate events"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": events,
		"total": total,
	}))
}

// GetActiveAlerts GET /api/v1/alerts?severity=&acknowledged=
func (a *API) GetActiveAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var acknowledged *bool
	switch q.Get("acknowledged") {
	case "true":
		v := true
		acknowledged = &v
	case "false":
		v := false
		acknowledged = &v
	}

	alerts := a.alerts.Active(models.Severity(q.Get("severity")), acknowledged)
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": alerts,
		"total": len(alerts),
	}))
}

type acknowledgeRequest struct {
	UserID string `json:"userId"`
}

// AcknowledgeAlert POST /api/v1/alerts/{alertId}/acknowledge
func (a *API) AcknowledgeAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	var body acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("userId is required"))
		return
	}

	ack, err := a.alerts.Acknowledge(alertID, body.UserID)
	if err != nil {
		a.writeAlertError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(ack))
}

// EscalateAlert POST /api/v1/alerts/{alertId}/escalate
func (a *API) EscalateAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	esc, err := a.alerts.Escalate(alertID)
	if err != nil {
		a.writeAlertError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(esc))
}

// DismissAlert DELETE /api/v1/alerts/{alertId}
func (a *API) DismissAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	if err := a.alerts.Dismiss(alertID); err != nil {
		a.writeAlertError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"dismissed": true}))
}

// GetAlertHistory GET /api/v1/alerts/history?type=&severity=&entityType=&entityId=&start=&end=&page=&size=
func (a *API) GetAlertHistory(w http.ResponseWriter, r *http.Request) {
	if a.alertHistory == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("history not available"))
		return
	}

	q := r.URL.Query()
	filters := repository.AlertFilters{
		Type:       strPtr(q.Get("type")),
		Severity:   strPtr(q.Get("severity")),
		EntityType: strPtr(q.Get("entityType")),
		EntityID:   strPtr(q.Get("entityId")),
		StartTime:  parseTime(q.Get("start")),
		EndTime:    parseTime(q.Get("end")),
	}

	alerts, total, err := a.alertHistory.ListAlerts(r.Context(), filters, parseInt(q.Get("page"), 1), parseInt(q.Get("size"), 50))
	if err != nil {
		a.logger.Error("failed to list alert history", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list alert history"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": alerts,
		"total": total,
	}))
}

// Healthz GET /healthz
func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	info := a.health.Health()
	status := http.StatusOK
	if info.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, info)
}

func (a *API) writeAlertError(w http.ResponseWriter, err error) {
	var notFound *alert.NotFoundError
	var dismissed *alert.AlreadyDismissedError
	switch {
	case errors.As(err, &dismissed):
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, Fail(err.Error()))
	default:
		a.logger.Error("alert operation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("alert operation failed"))
	}
}
