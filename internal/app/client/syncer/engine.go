package syncer

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slog"

	"talekeeper/internal/app/client/cache"
	"talekeeper/internal/app/client/connectivity"
	"talekeeper/internal/app/client/queue"
	"talekeeper/internal/app/client/repo"
	"talekeeper/internal/app/client/transport"
	"talekeeper/internal/domain/entity"
	"talekeeper/internal/domain/sync"
)

// Sessioner минимальная поверхность сессии, нужная движку.
type Sessioner interface {
	IsValid() bool
}

// Engine движок синхронизации: снимает отложенные операции с очереди и
// проталкивает их на сервер. Семейства сущностей дренируются независимо и
// параллельно, внутри семейства — строго в порядке постановки, чтобы create
// ушёл раньше зависимого update.
type Engine struct {
	store    *cache.Store
	queue    *queue.Queue
	resolver *Resolver
	monitor  connectivity.Monitor
	session  Sessioner
	log      *slog.Logger

	families []repo.Family
	byType   map[entity.Type]repo.Family

	// running гарантирует не более одного прогона очереди одновременно.
	running atomic.Bool

	statsMu stdsync.Mutex
	stats   sync.Stats
}

func NewEngine(
	store *cache.Store,
	q *queue.Queue,
	resolver *Resolver,
	monitor connectivity.Monitor,
	session Sessioner,
	log *slog.Logger,
	families ...repo.Family,
) *Engine {
	byType := make(map[entity.Type]repo.Family, len(families))
	for _, f := range families {
		byType[f.Type()] = f
	}
	return &Engine{
		store:    store,
		queue:    q,
		resolver: resolver,
		monitor:  monitor,
		session:  session,
		log:      log,
		families: families,
		byType:   byType,
	}
}

type drainCounters struct {
	successful int
	failed     int
	conflicts  int
}

// ProcessPendingQueue дренирует все семейства. Без связи или валидной сессии
// не делает ничего. Повторный вызов во время прогона возвращает
// ErrAlreadyRunning.
func (e *Engine) ProcessPendingQueue(ctx context.Context) (sync.Result, error) {
	return e.drainAll(ctx, e.queue.Pending)
}

// RetryFailedOperations повторяет операции, уже провалившиеся, но не
// исчерпавшие потолок повторов. Окончательно проваленные не трогает.
func (e *Engine) RetryFailedOperations(ctx context.Context) (sync.Result, error) {
	return e.drainAll(ctx, e.queue.Retryable)
}

func (e *Engine) drainAll(ctx context.Context, listOps func(entity.Type) ([]sync.Operation, error)) (sync.Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return sync.Result{}, sync.ErrAlreadyRunning
	}
	defer e.running.Store(false)

	if !e.monitor.IsConnected() {
		return sync.Result{}, sync.ErrOffline
	}
	if e.session != nil && !e.session.IsValid() {
		return sync.Result{}, sync.ErrAuthRequired
	}

	start := time.Now()

	var (
		mu   stdsync.Mutex
		res  sync.Result
		errs []error
		wg   stdsync.WaitGroup
	)
	for _, fam := range e.families {
		if fam.MediaGated() && !e.monitor.ShouldSyncMedia() {
			e.log.Debug("Медийное семейство пропущено политикой соединения",
				"type", fam.Type(), "class", e.monitor.ConnectionClass())
			continue
		}

		wg.Add(1)
		go func(fam repo.Family) {
			defer wg.Done()

			ops, err := listOps(fam.Type())
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}

			c, err := e.drainFamily(ctx, fam, ops)

			mu.Lock()
			res.Successful += c.successful
			res.Failed += c.failed
			res.Conflicts += c.conflicts
			if err != nil {
				errs = append(errs, err)
			}
			mu.Unlock()
		}(fam)
	}
	wg.Wait()

	res.Duration = time.Since(start)
	e.recordRun(res)

	return res, errors.Join(errs...)
}

// drainFamily выполняет операции семейства в порядке постановки. Ошибка
// авторизации прерывает дрен всего семейства: остальные операции остаются
// в очереди нетронутыми.
func (e *Engine) drainFamily(ctx context.Context, fam repo.Family, ops []sync.Operation) (drainCounters, error) {
	var c drainCounters
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return c, err
		}

		res, err := e.executeOp(ctx, fam, op)
		switch res {
		case opOK:
			c.successful++
		case opFailed:
			c.failed++
		case opConflict:
			c.conflicts++
		}

		if errors.Is(err, sync.ErrAuthRequired) {
			e.log.Warn("Дрен семейства прерван: требуется вход", "type", fam.Type())
			return c, err
		}
	}
	return c, nil
}

type opResult int

const (
	opSkipped opResult = iota
	opOK
	opFailed
	opConflict
)

// executeOp выполняет одну операцию и фиксирует её исход в очереди и на самой
// записи. Возвращённая ошибка уже учтена: вызывающему она нужна только чтобы
// распознать прерывание по авторизации.
func (e *Engine) executeOp(ctx context.Context, fam repo.Family, op sync.Operation) (opResult, error) {
	rec, err := fam.Load(op.LocalID)
	if errors.Is(err, entity.ErrNotFound) {
		// Запись исчезла локально — операции больше нечего делать.
		return opSkipped, e.queue.Discard(op.ID)
	}
	if err != nil {
		return opFailed, err
	}

	if err := e.queue.MarkInProgress(op.ID); err != nil {
		return opFailed, err
	}

	switch op.Kind {
	case sync.OpCreate:
		err = fam.PushCreate(ctx, rec)
		if err == nil {
			rec.Meta().MarkSynced(time.Now())
			if serr := fam.SaveLocal(rec); serr != nil {
				return opFailed, serr
			}
			return opOK, e.queue.Complete(op.ID)
		}

	case sync.OpUpdate:
		var server entity.Syncable
		server, err = fam.PushUpdate(ctx, rec)
		if err == nil {
			smeta := server.Meta()
			lmeta := rec.Meta()
			smeta.LocalID = lmeta.LocalID
			smeta.CreatedAt = lmeta.CreatedAt
			smeta.MarkSynced(time.Now())
			if serr := fam.SaveLocal(server); serr != nil {
				return opFailed, serr
			}
			return opOK, e.queue.Complete(op.ID)
		}
		// Сервер больше не знает запись: это конфликт удаления, он требует
		// явного разрешения и не решается автоматически.
		if transport.IsKind(err, transport.KindNotFound) {
			return e.markDeleteConflict(fam, rec, op)
		}

	case sync.OpDelete:
		err = fam.PushDelete(ctx, rec)
		if err == nil || transport.IsKind(err, transport.KindNotFound) {
			if derr := fam.DeleteLocal(op.LocalID); derr != nil {
				return opFailed, derr
			}
			return opOK, e.queue.Complete(op.ID)
		}

	default:
		return opFailed, e.queue.FailPermanently(op.ID, fmt.Sprintf("неизвестный вид операции: %s", op.Kind))
	}

	return e.handleFailure(ctx, fam, rec, op, err)
}

// handleFailure применяет политику повторов к ошибке операции.
func (e *Engine) handleFailure(ctx context.Context, fam repo.Family, rec entity.Syncable, op sync.Operation, opErr error) (opResult, error) {
	if body, ok := transport.ConflictBody(opErr); ok {
		return e.resolveConflict(ctx, fam, rec, op, body)
	}

	switch classify(opErr) {
	case sync.FailureAuth:
		// Повтор не тратится: операция возвращается в очередь и ждёт входа.
		if err := e.queue.Release(op.ID, opErr.Error()); err != nil {
			return opFailed, err
		}
		return opFailed, fmt.Errorf("%w: %s", sync.ErrAuthRequired, opErr)

	case sync.FailureValidation:
		// Ошибки валидации не лечатся повтором — только локальной правкой.
		if err := e.queue.FailPermanently(op.ID, opErr.Error()); err != nil {
			return opFailed, err
		}
		rec.Meta().SyncError = opErr.Error()
		if err := fam.SaveLocal(rec); err != nil {
			return opFailed, err
		}
		return opFailed, opErr

	default:
		permanent, err := e.queue.Fail(op.ID, opErr.Error())
		if err != nil {
			return opFailed, err
		}
		if permanent {
			rec.Meta().SyncError = fmt.Sprintf("%s: %s", sync.ErrRetryExhausted, opErr)
			if serr := fam.SaveLocal(rec); serr != nil {
				return opFailed, serr
			}
			e.log.Warn("Операция окончательно провалена",
				"type", op.EntityType, "local_id", op.LocalID, "kind", op.Kind, "error", opErr)
		}
		return opFailed, opErr
	}
}

// resolveConflict сохраняет серверный снимок, помечает запись и сразу
// запускает резолвер со стратегией семейства по умолчанию.
func (e *Engine) resolveConflict(ctx context.Context, fam repo.Family, rec entity.Syncable, op sync.Operation, body []byte) (opResult, error) {
	meta := rec.Meta()

	if err := e.store.SaveConflictSnapshot(op.EntityType, meta.LocalID, body); err != nil {
		return opFailed, err
	}
	meta.SyncStatus = entity.StatusConflict
	if err := fam.SaveLocal(rec); err != nil {
		return opFailed, err
	}

	remote, err := fam.DecodeRemote(body)
	if err != nil {
		return opFailed, fmt.Errorf("ошибка разбора серверной версии конфликта: %w", err)
	}

	conflict := sync.Conflict{
		EntityType: op.EntityType,
		Kind:       conflictKind(op.Kind),
		Local:      rec,
		Remote:     remote,
		DetectedAt: time.Now(),
	}
	if _, rerr := e.resolver.Resolve(ctx, conflict, ""); rerr != nil {
		// Конфликт остаётся на записи, операция уходит в повтор.
		if _, ferr := e.queue.Fail(op.ID, rerr.Error()); ferr != nil {
			return opConflict, ferr
		}
		return opConflict, rerr
	}

	return opConflict, e.queue.Complete(op.ID)
}

// markDeleteConflict фиксирует конфликт удаления: локальная правка против
// записи, стёртой на сервере. Данные пользователя остаются в кэше.
func (e *Engine) markDeleteConflict(fam repo.Family, rec entity.Syncable, op sync.Operation) (opResult, error) {
	meta := rec.Meta()
	meta.SyncStatus = entity.StatusConflict
	meta.SyncError = sync.ErrDeleteConflict.Error()
	if err := fam.SaveLocal(rec); err != nil {
		return opFailed, err
	}
	if err := e.queue.Discard(op.ID); err != nil {
		return opConflict, err
	}
	return opConflict, sync.ErrDeleteConflict
}

// SyncOne синхронизирует одну запись немедленно, вне общего прогона очереди.
// Запись в конфликте разрешается по стратегии семейства; synced — no-op.
func (e *Engine) SyncOne(ctx context.Context, rec entity.Syncable) error {
	if !e.monitor.IsConnected() {
		return sync.ErrOffline
	}
	if e.session != nil && !e.session.IsValid() {
		return sync.ErrAuthRequired
	}

	typ := rec.EntityType()
	fam, ok := e.byType[typ]
	if !ok {
		return fmt.Errorf("%w: %s", entity.ErrUnknownType, typ)
	}

	meta := rec.Meta()
	var kind sync.OperationKind
	switch meta.SyncStatus {
	case entity.StatusSynced:
		return nil
	case entity.StatusConflict:
		return e.resolveMarked(ctx, fam, rec)
	case entity.StatusPendingCreate:
		kind = sync.OpCreate
	case entity.StatusPendingUpdate:
		kind = sync.OpUpdate
	case entity.StatusPendingDelete:
		kind = sync.OpDelete
	default:
		return fmt.Errorf("неизвестный статус синхронизации: %s", meta.SyncStatus)
	}

	if err := e.queue.Enqueue(typ, meta.LocalID, kind); err != nil {
		return err
	}
	op, err := e.queue.Find(typ, meta.LocalID, kind)
	if err != nil {
		return err
	}
	if op == nil {
		return fmt.Errorf("операция не найдена в очереди: %s/%s", typ, meta.LocalID)
	}

	_, err = e.executeOp(ctx, fam, *op)
	return err
}

// resolveMarked разрешает уже помеченный конфликт по сохранённому серверному
// снимку. Снимка нет у конфликта удаления — тогда серверная версия пуста.
func (e *Engine) resolveMarked(ctx context.Context, fam repo.Family, rec entity.Syncable) error {
	meta := rec.Meta()

	conflict := sync.Conflict{
		EntityType: rec.EntityType(),
		Local:      rec,
		DetectedAt: time.Now(),
	}

	raw, err := e.store.GetConflictSnapshot(rec.EntityType(), meta.LocalID)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		conflict.Kind = sync.ConflictDelete
	case err != nil:
		return err
	default:
		remote, derr := fam.DecodeRemote(raw)
		if derr != nil {
			return derr
		}
		conflict.Kind = sync.ConflictUpdate
		conflict.Remote = remote
	}

	_, err = e.resolver.Resolve(ctx, conflict, "")
	return err
}

// BulkSync синхронизирует набор записей по одной, собирая агрегат.
func (e *Engine) BulkSync(ctx context.Context, recs []entity.Syncable) (sync.Result, error) {
	start := time.Now()

	var (
		res  sync.Result
		errs []error
	)
	for _, rec := range recs {
		err := e.SyncOne(ctx, rec)
		switch {
		case err == nil:
			res.Successful++
		case errors.Is(err, sync.ErrDeleteConflict):
			res.Conflicts++
			errs = append(errs, err)
		default:
			res.Failed++
			errs = append(errs, err)
		}
	}

	res.Duration = time.Since(start)
	return res, errors.Join(errs...)
}

// Pull сверяет кэш каждого семейства с авторитетным серверным списком.
// Возвращает суммарное число сохранённых записей.
func (e *Engine) Pull(ctx context.Context) (int, error) {
	if !e.monitor.IsConnected() {
		return 0, sync.ErrOffline
	}
	if e.session != nil && !e.session.IsValid() {
		return 0, sync.ErrAuthRequired
	}

	total := 0
	for _, fam := range e.families {
		if fam.MediaGated() && !e.monitor.ShouldSyncMedia() {
			continue
		}
		n, err := fam.PullRemote(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Stats текущая накопительная статистика движка.
func (e *Engine) Stats() sync.Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *Engine) recordRun(res sync.Result) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	e.stats.TotalRuns++
	e.stats.TotalUploaded += res.Successful
	e.stats.TotalConflicts += res.Conflicts
	e.stats.TotalErrors += res.Failed
	if res.Failed == 0 {
		e.stats.LastSuccessful = time.Now()
	} else {
		e.stats.LastFailed = time.Now()
	}
}

// classify относит ошибку операции к классу политики повторов.
func classify(err error) sync.FailureClass {
	te, ok := transport.AsError(err)
	if !ok {
		return sync.FailureTransient
	}
	switch te.Kind {
	case transport.KindUnauthorized:
		return sync.FailureAuth
	case transport.KindValidation:
		return sync.FailureValidation
	default:
		return sync.FailureTransient
	}
}

func conflictKind(k sync.OperationKind) sync.ConflictKind {
	switch k {
	case sync.OpCreate:
		return sync.ConflictCreate
	case sync.OpDelete:
		return sync.ConflictDelete
	default:
		return sync.ConflictUpdate
	}
}
