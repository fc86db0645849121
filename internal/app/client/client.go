package client

import (
	"context"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"
	"time"

	"golang.org/x/exp/slog"

	"talekeeper/internal/app/client/cache"
	"talekeeper/internal/app/client/config"
	"talekeeper/internal/app/client/connectivity"
	"talekeeper/internal/app/client/migration"
	"talekeeper/internal/app/client/queue"
	"talekeeper/internal/app/client/repo"
	"talekeeper/internal/app/client/session"
	"talekeeper/internal/app/client/syncer"
	"talekeeper/internal/app/client/transport"
	"talekeeper/internal/domain/sync"
)

// App собирает клиент целиком: кэш, очередь, транспорт, сессию, репозитории,
// движок синхронизации и оркестратор миграции. Все мутации проходят через
// локальный кэш; сервер догоняет в фоне.
type App struct {
	config  *config.Config
	log     *slog.Logger
	store   *cache.Store
	queue   *queue.Queue
	session *session.Manager
	monitor connectivity.Monitor
	engine  *syncer.Engine
	migrate *migration.Orchestrator

	heroes        *repo.Heroes
	stories       *repo.Stories
	templates     *repo.Templates
	illustrations *repo.Illustrations

	// nudge будит фоновый дрен очереди после локальной мутации, не дожидаясь
	// тика интервала.
	nudge  chan struct{}
	wg     gosync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	store, err := cache.New(cfg.CachePath, log)
	if err != nil {
		return nil, err
	}

	q := queue.New(store.DB(), log)

	sess := session.New(
		transport.NewHTTP(cfg.BaseURL(), nil, log),
		cfg.TokenPath,
		log,
	)

	tr := transport.NewHTTP(cfg.BaseURL(), sess, log)
	monitor := connectivity.NewInterfaceMonitor(cfg.AllowCellularSync)

	nudge := make(chan struct{}, 1)
	deps := repo.Deps{
		Store:         store,
		Queue:         q,
		Transport:     tr,
		Log:           log,
		RemoteEnabled: cfg.RemoteEnabled,
		Nudge:         nudge,
	}

	heroes := repo.NewHeroes(deps)
	stories := repo.NewStories(deps)
	templates := repo.NewTemplates(deps)
	illustrations := repo.NewIllustrations(deps)

	families := []repo.Family{heroes, stories, templates, illustrations}
	resolver := syncer.NewResolver(store, log, families...)
	engine := syncer.NewEngine(store, q, resolver, monitor, sess, log, families...)

	migr, err := migration.New(
		cfg.MigrationPath, store, sess, monitor, log,
		heroes,
		[]repo.Family{stories, illustrations},
		templates,
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		config:        cfg,
		log:           log,
		store:         store,
		queue:         q,
		session:       sess,
		monitor:       monitor,
		engine:        engine,
		migrate:       migr,
		heroes:        heroes,
		stories:       stories,
		templates:     templates,
		illustrations: illustrations,
		nudge:         nudge,
	}, nil
}

// Run запускает фоновый дрен очереди и блокируется до сигнала завершения.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.handleSignals()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.startSync(ctx)
	}()

	a.log.Info("Клиент запущен",
		"server", a.config.ServerAddress,
		"env", a.config.Env,
	)

	a.wg.Wait()
	return nil
}

// startSync дренирует очередь по тику интервала и по толчку от репозиториев.
func (a *App) startSync(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(a.config.SyncInterval) * time.Second)
	defer ticker.Stop()

	drain := func() {
		if _, err := a.engine.ProcessPendingQueue(ctx); err != nil {
			switch err {
			case sync.ErrOffline, sync.ErrAuthRequired, sync.ErrAlreadyRunning:
				a.log.Debug("Дрен очереди отложен", "reason", err)
			default:
				a.log.Error("Ошибка синхронизации", "error", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			a.log.Info("Синхронизация остановлена")
			return
		case <-ticker.C:
			drain()
		case <-a.nudge:
			drain()
		}
	}
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigChan
	a.log.Info("Получен сигнал завершения", "signal", sig.String())

	if a.cancel != nil {
		a.cancel()
	}
}

func (a *App) Shutdown() {
	a.log.Info("Завершение работы клиента...")

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if err := a.migrate.Close(); err != nil {
		a.log.Warn("Ошибка закрытия состояния миграции", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("Ошибка закрытия кэша", "error", err)
	}

	a.log.Info("Клиент завершил работу")
}

// Sync выполняет полный цикл вручную: дрен очереди, затем сверка кэша с
// сервером.
func (a *App) Sync(ctx context.Context) (sync.Result, error) {
	res, err := a.engine.ProcessPendingQueue(ctx)
	if err != nil {
		return res, err
	}
	if _, err := a.engine.Pull(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (a *App) Engine() *syncer.Engine { return a.engine }

func (a *App) Session() *session.Manager { return a.session }

func (a *App) Monitor() connectivity.Monitor { return a.monitor }

func (a *App) Migrator() *migration.Orchestrator { return a.migrate }

func (a *App) Queue() *queue.Queue { return a.queue }

func (a *App) Store() *cache.Store { return a.store }

func (a *App) Heroes() *repo.Heroes { return a.heroes }

func (a *App) Stories() *repo.Stories { return a.stories }

func (a *App) Templates() *repo.Templates { return a.templates }

func (a *App) Illustrations() *repo.Illustrations { return a.illustrations }
