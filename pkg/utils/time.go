package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// - границы торгового дня (сброс дневного PnL в риск-мониторе)
// - конвертация Unix-миллисекунд из кадров площадки

// GetDayStartFrom возвращает начало дня для указанного времени в UTC
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay проверяет, что два момента относятся к одному дню UTC
func SameDay(a, b time.Time) bool {
	return GetDayStartFrom(a).Equal(GetDayStartFrom(b))
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time.
// Ноль означает "время не указано" и заменяется текущим.
func FromUnixMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
