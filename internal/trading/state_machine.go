package trading

import "quanttrade/internal/models"

// ValidTransitions определяет допустимые переходы статусов ордера
var ValidTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending: {
		models.OrderStatusPartial,
		models.OrderStatusFilled,
		models.OrderStatusCancelled,
		models.OrderStatusRejected,
	},
	models.OrderStatusPartial: {
		models.OrderStatusPartial, // очередное частичное исполнение
		models.OrderStatusFilled,
		models.OrderStatusCancelled, // исполненная часть остаётся
	},
	// FILLED, CANCELLED, REJECTED - терминальные
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.OrderStatus) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StatusInfo возвращает описание статуса для UI
func StatusInfo(s models.OrderStatus) string {
	switch s {
	case models.OrderStatusPending:
		return "Ордер принят, ожидает исполнения"
	case models.OrderStatusPartial:
		return "Ордер исполнен частично"
	case models.OrderStatusFilled:
		return "Ордер исполнен полностью"
	case models.OrderStatusCancelled:
		return "Ордер отменён"
	case models.OrderStatusRejected:
		return "Ордер отклонён"
	default:
		return "Неизвестный статус"
	}
}

// IsOpen возвращает true если ордер ещё может исполняться
func IsOpen(s models.OrderStatus) bool {
	return s == models.OrderStatusPending || s == models.OrderStatusPartial
}
