package replay

import "errors"

// FormatError сигнализирует о повреждённом заголовке реплея.
// Фатальная ошибка: staging не должен начинаться.
type FormatError struct {
	Message string
}

func (e *FormatError) Error() string {
	return "replay format: " + e.Message
}

func newFormatError(message string) *FormatError {
	return &FormatError{Message: message}
}

// IsFormatError проверяет, является ли ошибка ошибкой формата реплея.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
