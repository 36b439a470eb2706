package playback

import (
	"errors"
	"fmt"
)

// ProtocolParseError — некорректный текстовый ответ движка. Не фатальна:
// вызывающий проглатывает её и сохраняет прежнее состояние.
type ProtocolParseError struct {
	Message string
}

func (e *ProtocolParseError) Error() string {
	return fmt.Sprintf("некорректный ответ движка: %s", e.Message)
}

func newProtocolParseError(format string, args ...interface{}) *ProtocolParseError {
	return &ProtocolParseError{Message: fmt.Sprintf(format, args...)}
}

// IsProtocolParseError проверяет, является ли ошибка ошибкой разбора протокола.
func IsProtocolParseError(err error) bool {
	var pe *ProtocolParseError
	return errors.As(err, &pe)
}
