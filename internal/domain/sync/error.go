package sync

import "errors"

var (
	// ErrNotSynced операция требует серверного идентификатора, которого у
	// записи ещё нет: сначала нужно синхронизировать родителя/саму запись.
	ErrNotSynced = errors.New("record is not synced with backend")

	// ErrDeleteConflict отложенное обновление адресует запись, которую сервер
	// уже удалил; запись не пересоздаётся молча.
	ErrDeleteConflict = errors.New("remote record was deleted")

	// ErrRetryExhausted операция исчерпала потолок повторов.
	ErrRetryExhausted = errors.New("operation permanently failed after retries")

	// ErrAuthRequired требуется повторная аутентификация; автоматически не
	// повторяется.
	ErrAuthRequired = errors.New("authentication required")

	ErrAlreadyRunning = errors.New("sync is already running")
	ErrOffline        = errors.New("no connectivity, sync suspended")
)

// FailureClass класс ошибки для политики повторов
type FailureClass int

const (
	// FailureTransient сетевые и серверные сбои — повторяются до потолка.
	FailureTransient FailureClass = iota
	// FailureAuth не повторяется автоматически, требует входа.
	FailureAuth
	// FailureValidation никогда не повторяется, требует локальной правки.
	FailureValidation
	// FailureConflict не ошибка — направляется резолверу.
	FailureConflict
	// FailurePermanent исчерпанный потолок повторов.
	FailurePermanent
)
