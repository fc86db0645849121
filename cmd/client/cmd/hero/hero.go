package hero

import (
	"fmt"

	"github.com/spf13/cobra"

	"talekeeper/cmd/client/cmd/types"
	"talekeeper/internal/app/client"
)

// HeroCmd - родительская команда для работы с профилями героев
var HeroCmd = &cobra.Command{
	Use:   "hero",
	Short: "Управление профилями героев",
	Long:  `Создание и просмотр профилей героев, от лица которых генерируются истории.`,
}

func fromContext(cmd *cobra.Command) (*client.App, error) {
	app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
	if !ok || app == nil {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return app, nil
}
