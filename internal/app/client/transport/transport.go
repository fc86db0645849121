package transport

import (
	"context"
)

// Transport контракт удалённого сервиса TaleKeeper. Ошибки типизированы (см.
// Error); таймауты — ответственность реализации, истёкший запрос трактуется
// вызывающим кодом как любой другой сбой.
type Transport interface {
	// Request выполняет запрос и декодирует ответ в out (если out != nil).
	Request(ctx context.Context, method, path string, body, out any) error

	// Upload загружает бинарные данные и возвращает URL размещённого ресурса.
	Upload(ctx context.Context, data []byte, path string) (string, error)

	// Delete удаляет удалённый ресурс.
	Delete(ctx context.Context, path string) error
}

// TokenSource поставщик актуального токена аутентификации. Пустая строка
// означает отсутствие сессии — запрос уходит без заголовка Authorization.
type TokenSource interface {
	CurrentToken(ctx context.Context) (string, error)
}
