package domain

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Курсоры таймлайна — ULID: 26 символов, лексикографический порядок
// совпадает с порядком по времени создания.

// CursorFromTime строит курсор для метки времени: ULID с нулевой энтропией.
// Детерминирован и монотонен, поэтому годится как граница диапазона.
func CursorFromTime(t time.Time) string {
	var id ulid.ULID
	_ = id.SetTime(ulid.Timestamp(t))
	return id.String()
}

// ParseCursor проверяет курсор и возвращает его каноническую форму.
func ParseCursor(raw string) (string, error) {
	id, err := ulid.ParseStrict(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCursor, raw)
	}
	return id.String(), nil
}

// CursorTime возвращает время, зашитое в курсор.
func CursorTime(cursor string) (time.Time, error) {
	id, err := ulid.ParseStrict(cursor)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	return ulid.Time(id.Time()), nil
}
