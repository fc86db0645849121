// cmd/client/cmd/init.go
package cmd

import (
	"fmt"

	"talekeeper/cmd/client/cmd/auth"
	"talekeeper/cmd/client/cmd/hero"
	"talekeeper/cmd/client/cmd/migrate"
	"talekeeper/cmd/client/cmd/story"
	"talekeeper/cmd/client/cmd/sync"
	"talekeeper/internal/domain/entity"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Показать состояние клиента",
	Long: `Сводка по локальным данным, соединению и сессии:
сколько записей лежит в кэше, какой класс соединения и действует ли токен.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("=== Состояние TaleKeeper ===")
		fmt.Printf("Сервер: %s\n", cfg.ServerAddress)

		if app.Monitor().IsConnected() {
			fmt.Printf("Соединение: %s\n", app.Monitor().ConnectionClass())
		} else {
			fmt.Println("Соединение: нет (офлайн-режим)")
		}

		if app.Session().IsValid() {
			fmt.Println("Сессия: активна")
		} else {
			fmt.Println("Сессия: нет (выполните: talekeeper auth login)")
		}

		fmt.Println("Локальный кэш:")
		for _, typ := range []entity.Type{
			entity.TypeHeroProfile,
			entity.TypeStory,
			entity.TypeStoryTemplate,
			entity.TypeIllustration,
		} {
			n, err := app.Store().Count(typ)
			if err != nil {
				return err
			}
			fmt.Printf("  %-16s %d\n", typ, n)
		}
		return nil
	},
}

func init() {
	// Команды аутентификации
	rootCmd.AddCommand(auth.AuthCmd)
	auth.AuthCmd.AddCommand(auth.LoginCmd)
	auth.AuthCmd.AddCommand(auth.LogoutCmd)
	auth.AuthCmd.AddCommand(auth.StatusCmd)

	// Команды работы с данными
	rootCmd.AddCommand(hero.HeroCmd)
	hero.HeroCmd.AddCommand(hero.CreateCmd)
	hero.HeroCmd.AddCommand(hero.ListCmd)

	rootCmd.AddCommand(story.StoryCmd)
	story.StoryCmd.AddCommand(story.ListCmd)
	story.StoryCmd.AddCommand(story.GenerateCmd)

	rootCmd.AddCommand(sync.SyncCmd)
	rootCmd.AddCommand(migrate.MigrateCmd)
	rootCmd.AddCommand(statusCmd)
}
