package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"quanttrade/internal/api/middleware"
	"quanttrade/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondWithError отправляет JSON ответ с ошибкой
func respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	respondWithJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// handleServiceError переводит ошибку ядра в HTTP статус
//
//	ValidationError           -> 400
//	RiskRejected              -> 422 (details = имя проверки)
//	NotCancellable, duplicate -> 409
//	not found                 -> 404
//	NotAvailable              -> 503
//	Connection                -> 502
func handleServiceError(w http.ResponseWriter, err error) {
	var validationErr *models.ValidationError
	var riskErr *models.RiskRejectedError

	switch {
	case errors.As(err, &validationErr):
		respondWithError(w, http.StatusBadRequest, "validation_error", validationErr.Error(), validationErr.Field)

	case errors.Is(err, models.ErrValidation):
		respondWithError(w, http.StatusBadRequest, "validation_error", err.Error(), "")

	case errors.As(err, &riskErr):
		respondWithError(w, http.StatusUnprocessableEntity, "risk_rejected", riskErr.Reason, riskErr.Check)

	case errors.Is(err, models.ErrOrderNotFound):
		respondWithError(w, http.StatusNotFound, "order_not_found", "Order not found", "")

	case errors.Is(err, models.ErrRuleNotFound):
		respondWithError(w, http.StatusNotFound, "rule_not_found", "Risk rule not found", "")

	case errors.Is(err, models.ErrAlertNotFound):
		respondWithError(w, http.StatusNotFound, "alert_not_found", "Risk alert not found", "")

	case errors.Is(err, models.ErrNotCancellable):
		respondWithError(w, http.StatusConflict, "not_cancellable", "Order is already in a terminal state", "")

	case errors.Is(err, models.ErrDuplicateClientOrderID):
		respondWithError(w, http.StatusConflict, "duplicate_client_order_id", "Order with this client_order_id already exists", "")

	case errors.Is(err, models.ErrLimitExceeded):
		respondWithError(w, http.StatusBadRequest, "limit_exceeded", err.Error(), "")

	case errors.Is(err, models.ErrNotAvailable):
		respondWithError(w, http.StatusServiceUnavailable, "not_available", "Price not available, retry later", err.Error())

	case errors.Is(err, models.ErrConnection):
		respondWithError(w, http.StatusBadGateway, "connection_error", "Market data feed unavailable", err.Error())

	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}

// decodeJSON разбирает тело запроса; при ошибке сам пишет 400
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return false
	}
	return true
}

// userID возвращает пользователя запроса: X-User-ID из контекста или ?user_id=
func userID(r *http.Request) string {
	if id := middleware.UserIDFromContext(r.Context()); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

// requireUser пишет 400, если пользователь не указан
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := userID(r)
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "missing_user", "User is required", "set X-User-ID header or user_id parameter")
		return "", false
	}
	return id, true
}

// queryInt читает целый query-параметр; пустой или некорректный - def
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// queryList разбирает "a,b" и повторяющиеся параметры
func queryList(r *http.Request, name string) []string {
	var out []string
	for _, raw := range r.URL.Query()[name] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
