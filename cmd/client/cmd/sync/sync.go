package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"talekeeper/cmd/client/cmd/types"
	"talekeeper/internal/app/client"
	"talekeeper/internal/domain/entity"
	domain "talekeeper/internal/domain/sync"
)

var (
	syncStatus    bool
	retryFailed   bool
	showConflicts bool
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Управление синхронизацией",
	Long: `Синхронизация данных между клиентом и сервером.

Команда отправляет отложенные операции, подтягивает серверные изменения
и показывает статус очереди и конфликтов.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		if syncStatus {
			return showSyncStatus(app)
		}
		if retryFailed {
			return runRetry(cmd.Context(), app)
		}
		if showConflicts {
			return listConflicts(cmd.Context(), app)
		}

		return runSync(cmd.Context(), app)
	},
}

func runSync(ctx context.Context, app *client.App) error {
	fmt.Println("=== Синхронизация данных ===")

	if !app.Session().IsValid() {
		return fmt.Errorf("требуется аутентификация. Выполните: talekeeper auth login")
	}

	fmt.Println("Начало синхронизации...")
	result, err := app.Sync(ctx)
	switch {
	case errors.Is(err, domain.ErrOffline):
		color.Yellow("Нет соединения, синхронизация отложена")
		return nil
	case err != nil:
		color.Yellow("Синхронизация завершена с ошибками: %v", err)
	default:
		color.Green("Синхронизация завершена!")
	}

	fmt.Printf("Время выполнения: %v\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("Отправлено операций: %d\n", result.Successful)
	if result.Failed > 0 {
		fmt.Printf("Ошибок: %d\n", result.Failed)
	}
	if result.Conflicts > 0 {
		fmt.Printf("Конфликтов: %d\n", result.Conflicts)
		fmt.Println("Используйте 'talekeeper sync --conflicts' для просмотра")
	}

	return nil
}

func runRetry(ctx context.Context, app *client.App) error {
	fmt.Println("=== Повтор неудачных операций ===")

	result, err := app.Engine().RetryFailedOperations(ctx)
	if err != nil && !errors.Is(err, domain.ErrOffline) {
		color.Yellow("Повтор завершен с ошибками: %v", err)
	}
	fmt.Printf("Успешно: %d, ошибок: %d\n", result.Successful, result.Failed)
	return nil
}

func showSyncStatus(app *client.App) error {
	fmt.Println("=== Статус синхронизации ===")

	stats := app.Engine().Stats()
	fmt.Printf("Всего прогонов: %d\n", stats.TotalRuns)
	fmt.Printf("Отправлено операций: %d\n", stats.TotalUploaded)
	fmt.Printf("Конфликтов: %d\n", stats.TotalConflicts)
	fmt.Printf("Ошибок: %d\n", stats.TotalErrors)
	if !stats.LastSuccessful.IsZero() {
		fmt.Printf("Последняя успешная: %s\n",
			stats.LastSuccessful.Format("2006-01-02 15:04:05"))
	}

	fmt.Println()
	fmt.Println("Очередь:")
	for _, typ := range allTypes() {
		pending, err := app.Queue().Pending(typ)
		if err != nil {
			return err
		}
		failed, err := app.Queue().Failed(typ)
		if err != nil {
			return err
		}
		if len(pending) == 0 && len(failed) == 0 {
			continue
		}
		fmt.Printf("  %-16s ожидает: %d, провалено: %d\n", typ, len(pending), len(failed))
	}
	return nil
}

func listConflicts(ctx context.Context, app *client.App) error {
	fmt.Println("=== Конфликты ===")

	total := 0
	for _, typ := range allTypes() {
		payloads, err := app.Store().ListByStatusRaw(typ, entity.StatusConflict)
		if err != nil {
			return err
		}
		for range payloads {
			total++
		}
		if len(payloads) > 0 {
			fmt.Printf("  %-16s %d\n", typ, len(payloads))
		}
	}

	if total == 0 {
		color.Green("Конфликтов нет")
	} else {
		fmt.Println("Конфликты разрешаются при следующей синхронизации записи")
	}
	return nil
}

func allTypes() []entity.Type {
	return []entity.Type{
		entity.TypeHeroProfile,
		entity.TypeStory,
		entity.TypeStoryTemplate,
		entity.TypeIllustration,
	}
}

func init() {
	SyncCmd.Flags().BoolVar(&syncStatus, "status", false, "показать статус синхронизации")
	SyncCmd.Flags().BoolVar(&retryFailed, "retry", false, "повторить неудачные операции")
	SyncCmd.Flags().BoolVar(&showConflicts, "conflicts", false, "показать конфликты")
}
