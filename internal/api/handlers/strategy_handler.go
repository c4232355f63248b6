package handlers

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"quanttrade/internal/risk"
	"quanttrade/internal/service"
)

// StrategyHandler включает и отключает стратегии и торговлю пользователей
//
// Endpoints:
// - GET /api/v1/strategies/disabled
// - POST /api/v1/strategies/{id}/disable  {"reason": "..."} (тело опционально)
// - POST /api/v1/strategies/{id}/enable
// - GET /api/v1/users/disabled
// - POST /api/v1/users/{id}/disable  {"reason": "..."} (тело опционально)
// - POST /api/v1/users/{id}/enable
type StrategyHandler struct {
	riskService service.RiskServiceInterface
}

// NewStrategyHandler создает новый StrategyHandler
func NewStrategyHandler(riskService service.RiskServiceInterface) *StrategyHandler {
	return &StrategyHandler{riskService: riskService}
}

type disableStrategyRequest struct {
	Reason string `json:"reason"`
}

type strategyStateResponse struct {
	StrategyID string `json:"strategy_id"`
	Enabled    bool   `json:"enabled"`
	Changed    bool   `json:"changed"`
}

type userStateResponse struct {
	UserID  string `json:"user_id"`
	Enabled bool   `json:"enabled"`
	Changed bool   `json:"changed"`
}

type disabledUsersResponse struct {
	Users []risk.DisabledEntry `json:"users"`
	Total int                  `json:"total"`
}

type disabledStrategiesResponse struct {
	Strategies []risk.DisabledEntry `json:"strategies"`
	Total      int                  `json:"total"`
}

// ListDisabled возвращает отключенные стратегии
// GET /api/v1/strategies/disabled
func (h *StrategyHandler) ListDisabled(w http.ResponseWriter, r *http.Request) {
	entries := h.riskService.DisabledStrategies()
	respondWithJSON(w, http.StatusOK, disabledStrategiesResponse{Strategies: entries, Total: len(entries)})
}

// DisableStrategy запрещает новые ордера стратегии
// POST /api/v1/strategies/{id}/disable
func (h *StrategyHandler) DisableStrategy(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDisableRequest(w, r)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.riskService.DisableStrategy(id, req.Reason); err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, strategyStateResponse{StrategyID: id, Enabled: false, Changed: true})
}

// EnableStrategy снимает блокировку стратегии
// POST /api/v1/strategies/{id}/enable
//
// changed=false - стратегия не была отключена
func (h *StrategyHandler) EnableStrategy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	changed := h.riskService.EnableStrategy(id)
	respondWithJSON(w, http.StatusOK, strategyStateResponse{StrategyID: id, Enabled: true, Changed: changed})
}

// ListDisabledUsers возвращает пользователей с остановленной торговлей
// GET /api/v1/users/disabled
func (h *StrategyHandler) ListDisabledUsers(w http.ResponseWriter, r *http.Request) {
	entries := h.riskService.DisabledUsers()
	respondWithJSON(w, http.StatusOK, disabledUsersResponse{Users: entries, Total: len(entries)})
}

// DisableUser запрещает все новые ордера пользователя
// POST /api/v1/users/{id}/disable
func (h *StrategyHandler) DisableUser(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDisableRequest(w, r)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.riskService.DisableUser(id, req.Reason); err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, userStateResponse{UserID: id, Enabled: false, Changed: true})
}

// EnableUser снимает блокировку торговли пользователя
// POST /api/v1/users/{id}/enable
func (h *StrategyHandler) EnableUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	changed := h.riskService.EnableUser(id)
	respondWithJSON(w, http.StatusOK, userStateResponse{UserID: id, Enabled: true, Changed: changed})
}

// decodeDisableRequest читает необязательное тело {"reason": "..."}
func decodeDisableRequest(w http.ResponseWriter, r *http.Request) (disableStrategyRequest, bool) {
	var req disableStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return req, false
	}
	return req, true
}
