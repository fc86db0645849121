package auth

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"talekeeper/cmd/client/cmd/types"
	"talekeeper/internal/app/client"
)

var LogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Выйти из системы",
	Long: `Удаляет сохраненный токен. Локальные данные остаются на месте,
отложенные операции будут отправлены после следующего входа.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		if err := app.Session().Logout(); err != nil {
			return fmt.Errorf("ошибка выхода: %w", err)
		}

		color.Green("Выход выполнен")
		return nil
	},
}
