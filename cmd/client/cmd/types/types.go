// cmd/client/cmd/types/types.go
package types

// ContextKey тип ключей контекста команд, чтобы не коллидировать со строками.
type ContextKey string

// ClientAppKey ключ, под которым в контексте команды лежит *client.App.
const ClientAppKey ContextKey = "client.app"
