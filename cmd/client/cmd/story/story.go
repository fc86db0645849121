package story

import (
	"fmt"

	"github.com/spf13/cobra"

	"talekeeper/cmd/client/cmd/types"
	"talekeeper/internal/app/client"
)

// StoryCmd - родительская команда для работы с историями
var StoryCmd = &cobra.Command{
	Use:   "story",
	Short: "Управление историями",
	Long:  `Просмотр сохраненных историй и генерация новых.`,
}

func fromContext(cmd *cobra.Command) (*client.App, error) {
	app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
	if !ok || app == nil {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return app, nil
}
