package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/exp/slog"

	"talekeeper/internal/app/client/cache"
	"talekeeper/internal/app/client/connectivity"
	"talekeeper/internal/app/client/repo"
	"talekeeper/internal/app/client/transport"
	"talekeeper/internal/domain/entity"
	"talekeeper/internal/domain/sync"
)

var (
	bucketState    = []byte("migration_state")
	bucketBackup   = []byte("migration_backup")
	bucketManifest = []byte("migration_manifest")

	stateKey = []byte("state")
)

// Sessioner минимальная поверхность сессии для этапа authenticating.
type Sessioner interface {
	IsValid() bool
}

// Orchestrator однократный перенос локальных данных на сервер. Состояние
// живёт в отдельном bbolt-файле, а не в SQLite-кэше: падение или откат
// переноса не должны зависеть от той самой базы, которую переносим.
//
// Перед выгрузкой делается резервный снимок всех локальных записей; каждый
// выгруженный серверный идентификатор попадает в манифест, по которому
// работает best-effort откат.
type Orchestrator struct {
	db      *bbolt.DB
	store   *cache.Store
	session Sessioner
	monitor connectivity.Monitor
	log     *slog.Logger

	heroes   repo.Family
	content  []repo.Family
	tpls     repo.Family
	families []repo.Family

	mu      stdsync.Mutex
	running bool
	cancel  context.CancelFunc
}

func New(
	path string,
	store *cache.Store,
	session Sessioner,
	monitor connectivity.Monitor,
	log *slog.Logger,
	heroes repo.Family,
	content []repo.Family,
	tpls repo.Family,
) (*Orchestrator, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла состояния миграции: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketState, bucketBackup, bucketManifest} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации состояния миграции: %w", err)
	}

	all := append([]repo.Family{heroes}, content...)
	all = append(all, tpls)

	return &Orchestrator{
		db:       db,
		store:    store,
		session:  session,
		monitor:  monitor,
		log:      log,
		heroes:   heroes,
		content:  content,
		tpls:     tpls,
		families: all,
	}, nil
}

func (o *Orchestrator) Close() error { return o.db.Close() }

// Status возвращает персистентное состояние переноса.
func (o *Orchestrator) Status() (State, error) {
	st := State{Stage: StageIdle, Status: StatusNotStarted}
	err := o.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketState).Get(stateKey)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &st)
	})
	return st, err
}

// Start запускает перенос с начала. Завершённый перенос повторно не
// запускается; прерванный продолжает с текущего этапа через Resume.
func (o *Orchestrator) Start(ctx context.Context) (State, error) {
	st, err := o.Status()
	if err != nil {
		return st, err
	}
	switch st.Status {
	case StatusCompleted:
		return st, ErrCompleted
	case StatusInProgress:
		return st, ErrRunning
	}

	st = State{
		Stage:     StageIdle,
		Status:    StatusInProgress,
		StartedAt: time.Now(),
		Uploaded:  map[string]int{},
	}
	if err := o.saveState(&st); err != nil {
		return st, err
	}
	return o.run(ctx, st)
}

// Resume продолжает прерванный или упавший перенос с сохранённого этапа.
// Уже выгруженные записи synced и повторно не отправляются.
func (o *Orchestrator) Resume(ctx context.Context) (State, error) {
	st, err := o.Status()
	if err != nil {
		return st, err
	}
	switch st.Status {
	case StatusNotStarted, StatusRolledBack:
		return st, ErrNoMigration
	case StatusCompleted:
		return st, ErrCompleted
	}

	st.Status = StatusInProgress
	st.LastError = ""
	if st.Uploaded == nil {
		st.Uploaded = map[string]int{}
	}
	if err := o.saveState(&st); err != nil {
		return st, err
	}
	return o.run(ctx, st)
}

// Cancel останавливает идущий перенос между записями. Уже выгруженные записи
// остаются на сервере до явного Rollback.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running || o.cancel == nil {
		return ErrNoMigration
	}
	o.cancel()
	return nil
}

func (o *Orchestrator) run(parent context.Context, st State) (State, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return st, ErrRunning
	}
	ctx, cancel := context.WithCancel(parent)
	o.running = true
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.running = false
		o.cancel = nil
		o.mu.Unlock()
	}()

	err := o.advance(ctx, &st)
	switch {
	case err == nil:
		now := time.Now()
		st.Stage = StageComplete
		st.Status = StatusCompleted
		st.Progress = 1
		st.CompletedAt = &now
	case errors.Is(err, context.Canceled):
		// Отмена пользователем — тот же failed: возобновляемый через Resume.
		st.Status = StatusFailed
		st.LastError = ErrCancelled.Error()
		err = ErrCancelled
	default:
		st.Status = StatusFailed
		st.LastError = err.Error()
	}

	if serr := o.saveState(&st); serr != nil && err == nil {
		err = serr
	}
	return st, err
}

// advance прогоняет этапы по порядку. Прерванный этап выполняется заново:
// выгрузка идемпотентна, уже synced записи пропускаются.
func (o *Orchestrator) advance(ctx context.Context, st *State) error {
	stages := []Stage{
		StageAuthenticating,
		StageExporting,
		StageUploadingHeroes,
		StageUploadingContent,
		StageUploadingTpls,
	}

	start := 0
	for i, s := range stages {
		if s == st.Stage {
			start = i
			break
		}
	}

	for i := start; i < len(stages); i++ {
		stage := stages[i]
		st.Stage = stage
		st.Progress = floor(stage)
		if err := o.saveState(st); err != nil {
			return err
		}
		o.log.Info("Этап миграции", "stage", stage, "progress", st.Progress)

		var err error
		switch stage {
		case StageAuthenticating:
			err = o.authenticate()
		case StageExporting:
			err = o.export()
		case StageUploadingHeroes:
			err = o.uploadFamilies(ctx, st, []repo.Family{o.heroes})
		case StageUploadingContent:
			err = o.uploadFamilies(ctx, st, o.content)
		case StageUploadingTpls:
			err = o.uploadFamilies(ctx, st, []repo.Family{o.tpls})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) authenticate() error {
	if !o.monitor.IsConnected() {
		return sync.ErrOffline
	}
	if o.session != nil && !o.session.IsValid() {
		return sync.ErrAuthRequired
	}
	return nil
}

// export снимает резервную копию всех локальных записей в bbolt. Снимок
// делается один раз; при возобновлении существующая копия не затирается,
// иначе откат потерял бы исходное домиграционное состояние.
func (o *Orchestrator) export() error {
	for _, fam := range o.families {
		typ := fam.Type()

		exists := false
		if err := o.db.View(func(tx *bbolt.Tx) error {
			exists = tx.Bucket(bucketBackup).Get([]byte(typ)) != nil
			return nil
		}); err != nil {
			return err
		}
		if exists {
			continue
		}

		payloads, err := o.store.ListRaw(typ)
		if err != nil {
			return err
		}
		raws := make([]json.RawMessage, len(payloads))
		for i, p := range payloads {
			raws[i] = p
		}
		blob, err := json.Marshal(raws)
		if err != nil {
			return fmt.Errorf("ошибка сериализации резервной копии: %w", err)
		}

		if err := o.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketBackup).Put([]byte(typ), blob)
		}); err != nil {
			return fmt.Errorf("ошибка записи резервной копии: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) uploadFamilies(ctx context.Context, st *State, fams []repo.Family) error {
	for _, fam := range fams {
		if fam.MediaGated() && !o.monitor.ShouldSyncMedia() {
			o.log.Info("Медийное семейство отложено политикой соединения", "type", fam.Type())
			continue
		}
		if err := o.uploadFamily(ctx, st, fam); err != nil {
			return err
		}
	}
	return nil
}

// uploadFamily выгружает все ещё не синхронизированные записи семейства по
// одной, персистя прогресс и манифест после каждой.
func (o *Orchestrator) uploadFamily(ctx context.Context, st *State, fam repo.Family) error {
	typ := fam.Type()
	payloads, err := o.store.ListRaw(typ)
	if err != nil {
		return err
	}

	base := floor(st.Stage)
	span := floor(next(st.Stage)) - base

	for i, payload := range payloads {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := fam.DecodeRemote(payload)
		if err != nil {
			return err
		}
		meta := rec.Meta()
		if meta.SyncStatus == entity.StatusSynced {
			continue
		}

		if meta.RemoteID == "" {
			if err := fam.PushCreate(ctx, rec); err != nil {
				return o.wrapUploadErr(typ, meta.LocalID, err)
			}
			if err := o.appendManifest(typ, meta.RemoteID); err != nil {
				return err
			}
		} else {
			if _, err := fam.PushUpdate(ctx, rec); err != nil {
				return o.wrapUploadErr(typ, meta.LocalID, err)
			}
		}

		meta.MarkSynced(time.Now())
		if err := fam.SaveLocal(rec); err != nil {
			return err
		}

		st.Uploaded[string(typ)]++
		st.Progress = base + span*float64(i+1)/float64(len(payloads))
		if err := o.saveState(st); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) wrapUploadErr(typ entity.Type, localID string, err error) error {
	if transport.IsKind(err, transport.KindUnauthorized) {
		return fmt.Errorf("%w: %s", sync.ErrAuthRequired, err)
	}
	return fmt.Errorf("ошибка выгрузки записи %s/%s: %w", typ, localID, err)
}

// Rollback best-effort откат: удаляет с сервера записи из манифеста и
// восстанавливает локальные записи из резервной копии. Ошибки удаления
// отдельных записей логируются, но откат продолжается — итоговый статус
// всегда rolledBack. Без резервной копии откатывать нечего.
func (o *Orchestrator) Rollback(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrRunning
	}
	o.mu.Unlock()

	st, err := o.Status()
	if err != nil {
		return err
	}
	if st.Status == StatusNotStarted {
		return ErrNoMigration
	}

	if ok, err := o.hasBackup(); err != nil {
		return err
	} else if !ok {
		return ErrNoBackup
	}

	manifest, err := o.readManifest()
	if err != nil {
		return err
	}

	// Удаляем в обратном порядке этапов: сперва зависимые записи, потом
	// родительские.
	for i := len(o.families) - 1; i >= 0; i-- {
		fam := o.families[i]
		for _, remoteID := range manifest[string(fam.Type())] {
			rec, lerr := o.recordByRemote(fam, remoteID)
			if lerr != nil {
				o.log.Warn("Запись манифеста не найдена, удаление пропущено",
					"type", fam.Type(), "remote_id", remoteID, "error", lerr)
				continue
			}
			if derr := fam.PushDelete(ctx, rec); derr != nil && !transport.IsKind(derr, transport.KindNotFound) {
				o.log.Warn("Не удалось удалить запись при откате",
					"type", fam.Type(), "remote_id", remoteID, "error", derr)
			}
		}
	}

	if err := o.restoreBackup(); err != nil {
		return err
	}

	st.Status = StatusRolledBack
	st.Progress = 1
	st.LastError = ""
	return o.saveState(&st)
}

func (o *Orchestrator) hasBackup() (bool, error) {
	found := false
	err := o.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBackup).ForEach(func(_, _ []byte) error {
			found = true
			return nil
		})
	})
	return found, err
}

func (o *Orchestrator) recordByRemote(fam repo.Family, remoteID string) (entity.Syncable, error) {
	raw, err := o.store.GetByRemoteRaw(fam.Type(), remoteID)
	if err != nil {
		return nil, err
	}
	return fam.DecodeRemote(raw)
}

// restoreBackup возвращает кэш к домиграционному снимку.
func (o *Orchestrator) restoreBackup() error {
	for _, fam := range o.families {
		typ := fam.Type()

		var blob []byte
		if err := o.db.View(func(tx *bbolt.Tx) error {
			if v := tx.Bucket(bucketBackup).Get([]byte(typ)); v != nil {
				blob = append([]byte(nil), v...)
			}
			return nil
		}); err != nil {
			return err
		}
		if blob == nil {
			continue
		}

		var raws []json.RawMessage
		if err := json.Unmarshal(blob, &raws); err != nil {
			return fmt.Errorf("ошибка чтения резервной копии: %w", err)
		}
		for _, raw := range raws {
			rec, err := fam.DecodeRemote(raw)
			if err != nil {
				return err
			}
			if err := fam.SaveLocal(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset стирает состояние, манифест и резервную копию переноса.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrRunning
	}

	return o.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketState, bucketBackup, bucketManifest} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *Orchestrator) saveState(st *State) error {
	st.UpdatedAt = time.Now()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("ошибка сериализации состояния миграции: %w", err)
	}
	return o.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketState).Put(stateKey, data)
	})
}

func (o *Orchestrator) appendManifest(typ entity.Type, remoteID string) error {
	if remoteID == "" {
		return nil
	}
	return o.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketManifest)
		var ids []string
		if v := b.Get([]byte(typ)); v != nil {
			if err := json.Unmarshal(v, &ids); err != nil {
				return err
			}
		}
		ids = append(ids, remoteID)
		data, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		return b.Put([]byte(typ), data)
	})
}

func (o *Orchestrator) readManifest() (map[string][]string, error) {
	manifest := map[string][]string{}
	err := o.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketManifest).ForEach(func(k, v []byte) error {
			var ids []string
			if err := json.Unmarshal(v, &ids); err != nil {
				return err
			}
			manifest[string(k)] = ids
			return nil
		})
	})
	return manifest, err
}
