// cmd/client/cmd/auth/login.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"talekeeper/cmd/client/cmd/types"
	"talekeeper/internal/app/client"
	"talekeeper/internal/domain/sync"
)

var LoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Войти в систему TaleKeeper",
	Long: `Аутентификация на сервере TaleKeeper.

После входа токен сохраняется локально для последующих операций.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		fmt.Println("=== Вход в систему ===")
		fmt.Println()

		// Запрашиваем email
		fmt.Print("Email: ")
		var email string
		_, _ = fmt.Scanln(&email)

		// Запрашиваем пароль
		fmt.Print("Пароль: ")
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("ошибка чтения пароля: %w", err)
		}
		fmt.Println()

		fmt.Println("Аутентификация...")
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if err := app.Session().Login(ctx, email, string(password)); err != nil {
			return fmt.Errorf("ошибка аутентификации: %w", err)
		}

		fmt.Println()
		color.Green("Вход выполнен успешно!")

		// Догоняем сервер: отложенные операции и свежие данные
		fmt.Println("Синхронизация данных...")
		result, err := app.Sync(ctx)
		switch {
		case errors.Is(err, sync.ErrOffline):
			color.Yellow("Нет соединения, работаем в офлайн-режиме")
		case err != nil:
			color.Yellow("Предупреждение: ошибка синхронизации: %v", err)
			fmt.Println("Вы можете продолжить работу в офлайн-режиме")
		default:
			fmt.Printf("Отправлено операций: %d, конфликтов: %d\n",
				result.Successful, result.Conflicts)
		}

		return nil
	},
}
