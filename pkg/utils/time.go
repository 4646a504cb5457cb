package utils

import (
	"time"
)

// GetDayStartFrom возвращает начало дня (00:00:00 UTC) для указанного времени
//
// Пример:
//
//	GetDayStartFrom(2024-01-15 14:30:45 UTC) = 2024-01-15 00:00:00 UTC
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// UnixMillis возвращает время в миллисекундах (формат большинства бирж)
func UnixMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// ISOMillis форматирует время как ISO-8601 с миллисекундами в UTC (2006-01-02T15:04:05.000Z)
func ISOMillis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
