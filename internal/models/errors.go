package models

import (
	"errors"
	"fmt"
)

// ============================================================
// Таксономия ошибок ядра
// ============================================================
//
// ValidationError  - некорректный запрос, отклоняется до сохранения
// RiskRejected     - нарушен лимит, причина показывается как есть
// NotAvailable     - нет цены, вызывающий может повторить
// NotCancellable   - ордер уже в терминальном статусе
// ConnectionError  - фид недоступен, внутренняя ошибка с backoff

var (
	ErrValidation             = errors.New("validation error")
	ErrRiskRejected           = errors.New("risk rejected")
	ErrNotAvailable           = errors.New("price not available")
	ErrNotCancellable         = errors.New("order not cancellable")
	ErrConnection             = errors.New("connection error")
	ErrLimitExceeded          = errors.New("subscription limit exceeded")
	ErrOrderNotFound          = errors.New("order not found")
	ErrDuplicateClientOrderID = errors.New("duplicate client order id")
	ErrRuleNotFound           = errors.New("risk rule not found")
	ErrAlertNotFound          = errors.New("risk alert not found")
)

// ValidationError описывает некорректное поле запроса
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// Is позволяет errors.Is(err, ErrValidation)
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError создаёт ошибку валидации
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RiskRejectedError - ордер нарушил лимит риск-гейта
type RiskRejectedError struct {
	Check  string
	Reason string
}

func (e *RiskRejectedError) Error() string {
	return "risk rejected: " + e.Reason
}

// Is позволяет errors.Is(err, ErrRiskRejected)
func (e *RiskRejectedError) Is(target error) bool {
	return target == ErrRiskRejected
}

// NewRiskRejected создаёт ошибку отказа риск-гейта
func NewRiskRejected(check, reason string) error {
	return &RiskRejectedError{Check: check, Reason: reason}
}

// ConnectionError - внешний фид недоступен
type ConnectionError struct {
	Venue    string
	Original error
}

func (e *ConnectionError) Error() string {
	if e.Original == nil {
		return e.Venue + ": connection error"
	}
	return e.Venue + ": connection error: " + e.Original.Error()
}

// Unwrap возвращает исходную ошибку для errors.Is() и errors.As()
func (e *ConnectionError) Unwrap() error {
	return e.Original
}

// Is позволяет errors.Is(err, ErrConnection)
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}
