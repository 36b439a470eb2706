package engine

import "errors"

// EngineBootError сигнализирует о неудачном старте модуля движка.
// Фатальная ошибка: показывается пользователю, сессия завершается.
type EngineBootError struct {
	Message string
	Cause   error
}

func (e *EngineBootError) Error() string {
	if e.Cause != nil {
		return "engine boot: " + e.Message + ": " + e.Cause.Error()
	}
	return "engine boot: " + e.Message
}

func (e *EngineBootError) Unwrap() error {
	return e.Cause
}

// IsEngineBootError проверяет, является ли ошибка ошибкой старта движка.
func IsEngineBootError(err error) bool {
	var be *EngineBootError
	return errors.As(err, &be)
}

// ErrTornDown возвращается при любом вызове после Teardown.
var ErrTornDown = errors.New("engine session torn down")

// ErrNotBooted возвращается при запросе к модулю до завершения boot.
var ErrNotBooted = errors.New("engine module not booted")
