package auth

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"talekeeper/cmd/client/cmd/types"
	"talekeeper/internal/app/client"
)

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Статус сессии",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		if app.Session().IsValid() {
			color.Green("Сессия активна")
		} else {
			color.Yellow("Сессии нет. Выполните: talekeeper auth login")
		}
		return nil
	},
}
