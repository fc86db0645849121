package hero

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"talekeeper/internal/domain/entity"
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Показать профили героев",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := fromContext(cmd)
		if err != nil {
			return err
		}

		heroes, err := app.Heroes().FetchAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка чтения профилей: %w", err)
		}

		if len(heroes) == 0 {
			fmt.Println("Профилей пока нет. Создайте первый: talekeeper hero create --name ...")
			return nil
		}

		for _, h := range heroes {
			fmt.Printf("%s  %s", h.LocalID, h.Name)
			if h.Age > 0 {
				fmt.Printf(" (%d)", h.Age)
			}
			fmt.Printf("  %s", statusLabel(h.SyncStatus))
			if h.SyncError != "" {
				fmt.Printf("  [%s]", h.SyncError)
			}
			fmt.Println()
		}
		return nil
	},
}

func statusLabel(s entity.SyncStatus) string {
	switch s {
	case entity.StatusSynced:
		return color.GreenString("synced")
	case entity.StatusConflict:
		return color.RedString("conflict")
	default:
		return color.YellowString(string(s))
	}
}
