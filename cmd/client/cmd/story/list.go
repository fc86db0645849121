package story

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"talekeeper/internal/domain/entity"
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Показать истории",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := fromContext(cmd)
		if err != nil {
			return err
		}

		stories, err := app.Stories().FetchAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка чтения историй: %w", err)
		}

		if len(stories) == 0 {
			fmt.Println("Историй пока нет")
			return nil
		}

		for _, s := range stories {
			fmt.Printf("%s  %q", s.LocalID, s.Title)
			if s.Theme != "" {
				fmt.Printf("  тема: %s", s.Theme)
			}
			fmt.Printf("  %s\n", statusLabel(s.SyncStatus))
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
