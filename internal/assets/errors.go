package assets

import "errors"

// NetworkError сигнализирует о неудачной загрузке по сети.
// Фатальна только для самого файла реплея; манифест и отдельные ассеты
// деградируют без прерывания пайплайна.
type NetworkError struct {
	URL     string
	Message string
	Cause   error
}

func (e *NetworkError) Error() string {
	if e.Cause != nil {
		return "network: " + e.Message + " (" + e.URL + "): " + e.Cause.Error()
	}
	return "network: " + e.Message + " (" + e.URL + ")"
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

func newNetworkError(url, message string, cause error) *NetworkError {
	return &NetworkError{URL: url, Message: message, Cause: cause}
}

// IsNetworkError проверяет, является ли ошибка сетевой.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
