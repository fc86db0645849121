package migrate

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"talekeeper/cmd/client/cmd/types"
	"talekeeper/internal/app/client"
	"talekeeper/internal/app/client/migration"
)

// MigrateCmd управление переносом локальных данных на сервер.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Перенос локальных данных на сервер",
	Long: `Однократный перенос всех локальных данных в облачный аккаунт.

Перенос идет по этапам и переживает обрывы: прерванный перенос
продолжается командой resume с того же этапа. Откат возвращает
локальные данные к домиграционному снимку и удаляет выгруженное.`,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Начать перенос",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := fromContext(cmd)
		if err != nil {
			return err
		}

		st, err := app.Migrator().Start(cmd.Context())
		report(st)
		return err
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Продолжить прерванный перенос",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := fromContext(cmd)
		if err != nil {
			return err
		}

		st, err := app.Migrator().Resume(cmd.Context())
		report(st)
		return err
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Откатить перенос",
	Long: `Удаляет выгруженные при переносе записи с сервера (по возможности)
и восстанавливает локальные данные из домиграционного снимка.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := fromContext(cmd)
		if err != nil {
			return err
		}

		if err := app.Migrator().Rollback(cmd.Context()); err != nil {
			return fmt.Errorf("ошибка отката: %w", err)
		}
		color.Green("Откат выполнен")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Статус переноса",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := fromContext(cmd)
		if err != nil {
			return err
		}

		st, err := app.Migrator().Status()
		if err != nil {
			return err
		}
		report(st)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Сбросить состояние переноса",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := fromContext(cmd)
		if err != nil {
			return err
		}

		if err := app.Migrator().Reset(); err != nil {
			return err
		}
		color.Green("Состояние переноса сброшено")
		return nil
	},
}

func fromContext(cmd *cobra.Command) (*client.App, error) {
	app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
	if !ok || app == nil {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return app, nil
}

func report(st migration.State) {
	fmt.Printf("Этап: %s\n", st.Stage)
	fmt.Printf("Статус: %s\n", st.Status)
	fmt.Printf("Прогресс: %.0f%%\n", st.Progress*100)
	for typ, n := range st.Uploaded {
		fmt.Printf("  выгружено %-16s %d\n", typ, n)
	}

	switch st.Status {
	case migration.StatusCompleted:
		color.Green("Перенос завершен")
	case migration.StatusFailed:
		color.Red("Перенос прерван: %s", st.LastError)
		fmt.Println("Продолжить: talekeeper migrate resume")
	case migration.StatusRolledBack:
		color.Yellow("Перенос откачен")
	}
}

func init() {
	MigrateCmd.AddCommand(startCmd)
	MigrateCmd.AddCommand(resumeCmd)
	MigrateCmd.AddCommand(rollbackCmd)
	MigrateCmd.AddCommand(statusCmd)
	MigrateCmd.AddCommand(resetCmd)
}
