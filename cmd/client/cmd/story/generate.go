package story

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"talekeeper/internal/app/client/repo"
	"talekeeper/internal/domain/sync"
)

var (
	genHeroID string
	genTheme  string
	genPrompt string
)

var GenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Сгенерировать историю",
	Long: `Запускает генерацию истории на сервере для указанного героя.

Работает только онлайн: герой должен быть синхронизирован с сервером.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := fromContext(cmd)
		if err != nil {
			return err
		}

		if genHeroID == "" {
			return fmt.Errorf("идентификатор героя обязателен (--hero)")
		}

		hero, err := app.Heroes().Fetch(cmd.Context(), genHeroID)
		if err != nil {
			return fmt.Errorf("герой не найден: %w", err)
		}

		fmt.Println("Генерация истории...")
		story, err := app.Stories().Generate(cmd.Context(), hero, repo.GenerateRequest{
			Theme:  genTheme,
			Prompt: genPrompt,
		})
		switch {
		case errors.Is(err, sync.ErrNotSynced):
			return fmt.Errorf("герой еще не синхронизирован, выполните: talekeeper sync")
		case err != nil:
			return fmt.Errorf("ошибка генерации: %w", err)
		}

		color.Green("История готова: %q", story.Title)
		fmt.Println(story.Text)
		return nil
	},
}

func init() {
	GenerateCmd.Flags().StringVar(&genHeroID, "hero", "", "локальный идентификатор героя")
	GenerateCmd.Flags().StringVar(&genTheme, "theme", "", "тема истории")
	GenerateCmd.Flags().StringVar(&genPrompt, "prompt", "", "дополнительные пожелания")
}
