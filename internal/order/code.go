package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const codePrefix = "ORD"

// DayKey возвращает ключ дня для счётчика кодов заказов.
func DayKey(t time.Time) string {
	return t.Format("20060102")
}

// FormatCode собирает код заказа вида ORD-20250102-0007 из ключа дня
// и значения суточного счётчика.
func FormatCode(day string, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", codePrefix, day, seq)
}

// FallbackCode возвращает заведомо уникальный код на случай сбоя счётчика.
func FallbackCode(t time.Time) string {
	return fmt.Sprintf("%s-%s-%s", codePrefix, DayKey(t), uuid.NewString())
}
