package hero

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"talekeeper/internal/domain/entity"
)

var (
	heroName   string
	heroAge    int
	heroGender string
	heroTraits []string
)

var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Создать профиль героя",
	Long: `Создает профиль героя в локальном кэше. Профиль сразу доступен
для просмотра; на сервер он уедет при ближайшей синхронизации.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := fromContext(cmd)
		if err != nil {
			return err
		}

		if heroName == "" {
			return fmt.Errorf("имя героя обязательно (--name)")
		}

		h := &entity.HeroProfile{
			Name:   heroName,
			Age:    heroAge,
			Gender: heroGender,
			Traits: heroTraits,
		}
		if err := app.Heroes().Create(cmd.Context(), h); err != nil {
			return fmt.Errorf("ошибка создания профиля: %w", err)
		}

		color.Green("Профиль героя создан: %s", h.LocalID)
		if len(heroTraits) > 0 {
			fmt.Printf("Черты: %s\n", strings.Join(heroTraits, ", "))
		}
		fmt.Println("Профиль будет отправлен на сервер при следующей синхронизации")
		return nil
	},
}

func init() {
	CreateCmd.Flags().StringVar(&heroName, "name", "", "имя героя")
	CreateCmd.Flags().IntVar(&heroAge, "age", 0, "возраст героя")
	CreateCmd.Flags().StringVar(&heroGender, "gender", "", "пол героя")
	CreateCmd.Flags().StringSliceVar(&heroTraits, "trait", nil, "черта характера (можно несколько)")
}
