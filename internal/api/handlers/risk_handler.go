package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"quanttrade/internal/models"
	"quanttrade/internal/risk"
	"quanttrade/internal/service"
)

// RiskHandler отвечает за метрики риска, правила и алерты
//
// Endpoints:
// - GET /api/v1/risk/positions          - метрики риска пользователя
// - GET /api/v1/risk/limits             - лимиты риск-гейта
// - GET /api/v1/risk/rules              - список правил
// - POST /api/v1/risk/rules             - создание правила
// - GET /api/v1/risk/rules/{id}         - правило
// - PATCH /api/v1/risk/rules/{id}       - частичное обновление
// - DELETE /api/v1/risk/rules/{id}      - удаление
// - GET /api/v1/risk/alerts             - журнал алертов (?level=&unacknowledged=&limit=)
// - POST /api/v1/risk/alerts/{id}/ack   - подтверждение алерта
type RiskHandler struct {
	riskService service.RiskServiceInterface
}

// NewRiskHandler создает новый RiskHandler
func NewRiskHandler(riskService service.RiskServiceInterface) *RiskHandler {
	return &RiskHandler{riskService: riskService}
}

type listRulesResponse struct {
	Rules []*models.RiskRule `json:"rules"`
	Total int                `json:"total"`
}

type listAlertsResponse struct {
	Alerts []*models.RiskAlert `json:"alerts"`
	Total  int                 `json:"total"`
}

// GetPositionRisk возвращает текущие метрики риска
// GET /api/v1/risk/positions
func (h *RiskHandler) GetPositionRisk(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, h.riskService.GetPositionRisk(user))
}

// GetLimits возвращает лимиты риск-гейта
// GET /api/v1/risk/limits
func (h *RiskHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.riskService.GetLimits())
}

// ListRules возвращает все правила
// GET /api/v1/risk/rules
func (h *RiskHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.riskService.ListRules(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if rules == nil {
		rules = []*models.RiskRule{}
	}
	respondWithJSON(w, http.StatusOK, listRulesResponse{Rules: rules, Total: len(rules)})
}

// GetRule возвращает правило
// GET /api/v1/risk/rules/{id}
func (h *RiskHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.riskService.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rule)
}

// CreateRule создает правило
// POST /api/v1/risk/rules
//
// Request Body:
//
//	{
//	  "name": "btc drawdown",
//	  "type": "drawdown",
//	  "threshold": "0.1",
//	  "action": "close_position",
//	  "user_id": "alice"
//	}
//
// Response:
// - 201 Created: правило создано
// - 400 Bad Request: невалидные параметры
func (h *RiskHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rule, err := h.riskService.CreateRule(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, rule)
}

// UpdateRule обновляет переданные поля правила
// PATCH /api/v1/risk/rules/{id}
func (h *RiskHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rule, err := h.riskService.UpdateRule(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rule)
}

// DeleteRule удаляет правило
// DELETE /api/v1/risk/rules/{id}
func (h *RiskHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.riskService.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAlerts возвращает журнал алертов, новые первыми
// GET /api/v1/risk/alerts?level=HIGH&unacknowledged=true&limit=50
func (h *RiskHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := risk.AlertFilter{
		UserID: userID(r),
		Level:  models.AlertLevel(strings.ToUpper(strings.TrimSpace(q.Get("level")))),
		Limit:  queryInt(r, "limit", 0),
	}
	if raw := q.Get("unacknowledged"); raw != "" {
		unack, err := strconv.ParseBool(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid_parameter", "unacknowledged must be a boolean", raw)
			return
		}
		filter.Unacknowledged = unack
	}

	alerts, err := h.riskService.ListAlerts(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, listAlertsResponse{Alerts: alerts, Total: len(alerts)})
}

// AcknowledgeAlert отмечает алерт подтвержденным. Повторное подтверждение не ошибка.
// POST /api/v1/risk/alerts/{id}/ack
func (h *RiskHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.riskService.AcknowledgeAlert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, alert)
}
