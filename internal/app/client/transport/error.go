package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind класс ошибки удалённого сервиса
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindNotFound     ErrorKind = "notFound"
	KindValidation   ErrorKind = "validationError"
	KindNetwork      ErrorKind = "networkError"
	KindServer       ErrorKind = "serverError"
	KindRateLimit    ErrorKind = "rateLimitExceeded"
	KindUnknown      ErrorKind = "unknown"
)

// Error типизированная ошибка транспорта
type Error struct {
	Kind    ErrorKind
	Message string
	// Fields имена полей, не прошедших валидацию (для KindValidation).
	Fields []string
	// ResetAt время сброса лимита (для KindRateLimit).
	ResetAt time.Time
	// Conflict тело актуальной серверной версии при ответе 409.
	Conflict []byte
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// Retriable сообщает, имеет ли смысл автоматический повтор.
func (e *Error) Retriable() bool {
	switch e.Kind {
	case KindNetwork, KindServer, KindRateLimit:
		return true
	default:
		return false
	}
}

// AsError извлекает типизированную ошибку транспорта из цепочки.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsKind проверяет класс ошибки в цепочке.
func IsKind(err error, kind ErrorKind) bool {
	te, ok := AsError(err)
	return ok && te.Kind == kind
}

// ConflictBody возвращает серверную версию записи, приложенную к ответу 409.
// Конфликт не входит в таксономию ошибок: вызывающий код направляет его
// резолверу, а не в политику повторов.
func ConflictBody(err error) ([]byte, bool) {
	te, ok := AsError(err)
	if !ok || len(te.Conflict) == 0 {
		return nil, false
	}
	return te.Conflict, true
}
