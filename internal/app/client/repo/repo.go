package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"talekeeper/internal/app/client/cache"
	"talekeeper/internal/app/client/queue"
	"talekeeper/internal/app/client/transport"
	"talekeeper/internal/domain/entity"
	"talekeeper/internal/domain/sync"
)

// Ptr ограничение «указатель на T, реализующий Syncable».
type Ptr[T any] interface {
	*T
	entity.Syncable
}

// Family нетипизированная поверхность репозитория семейства: через неё движок
// синхронизации работает с записями, не зная их конкретного типа.
type Family interface {
	Type() entity.Type
	// MediaGated сообщает, подпадает ли семейство под политику ShouldSyncMedia.
	MediaGated() bool

	Load(localID string) (entity.Syncable, error)
	SaveLocal(rec entity.Syncable) error
	DeleteLocal(localID string) error
	DecodeRemote(payload []byte) (entity.Syncable, error)

	PushCreate(ctx context.Context, rec entity.Syncable) error
	// PushUpdate отправляет локальную версию и возвращает авторитетный ответ
	// сервера.
	PushUpdate(ctx context.Context, rec entity.Syncable) (entity.Syncable, error)
	PushDelete(ctx context.Context, rec entity.Syncable) error
	FetchRemote(ctx context.Context, remoteID string) (entity.Syncable, error)

	// PullRemote сверяет кэш с авторитетным серверным списком (см.
	// SyncWithBackend).
	PullRemote(ctx context.Context) (int, error)
}

// Deps общие зависимости репозиториев.
type Deps struct {
	Store     *cache.Store
	Queue     *queue.Queue
	Transport transport.Transport
	Log       *slog.Logger
	// RemoteEnabled выключает серверную часть семейства: записи живут только
	// локально, удаление происходит сразу.
	RemoteEnabled bool
	// Nudge буферизованный канал «пни движок»: фоновая попытка синхронизации
	// после локальной записи моделируется явно, а не скрытой горутиной.
	Nudge chan<- struct{}
}

// Repository типовой репозиторий семейства сущностей с local-first семантикой:
// мутации сперва долговременно ложатся в кэш, сетевая сверка происходит позже
// и наблюдается только через syncStatus/syncError записи.
type Repository[T any, PT Ptr[T]] struct {
	deps     Deps
	typ      entity.Type
	endpoint string
	media    bool
	// parentExists проверка ссылочной целостности при приёме серверных
	// записей; nil для корневых семейств.
	parentExists func(parentRemoteID string) bool
	// linkParent проставляет на записи серверный идентификатор родителя по
	// его локальному перед отправкой на сервер; nil для корневых семейств.
	// Родитель без remoteID — sync.ErrNotSynced: ребёнок ждёт в очереди.
	linkParent func(rec PT) error
}

func newRepository[T any, PT Ptr[T]](deps Deps, typ entity.Type, endpoint string) *Repository[T, PT] {
	return &Repository[T, PT]{
		deps:     deps,
		typ:      typ,
		endpoint: endpoint,
	}
}

func (r *Repository[T, PT]) Type() entity.Type { return r.typ }

func (r *Repository[T, PT]) MediaGated() bool { return r.media }

// Create сохраняет запись локально со статусом pendingCreate, ставит операцию
// в очередь и сразу возвращается. Сбой фоновой синхронизации не виден
// вызывающему — он оседает в syncError записи.
func (r *Repository[T, PT]) Create(ctx context.Context, rec PT) error {
	meta := rec.Meta()
	if meta.LocalID == "" {
		meta.LocalID = uuid.NewString()
	}

	now := time.Now()
	meta.CreatedAt = now
	meta.UpdatedAt = now
	meta.SyncStatus = entity.StatusPendingCreate
	meta.SyncError = ""

	snapshot, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}
	meta.PendingChanges = snapshot

	if err := r.deps.Store.Save(rec); err != nil {
		return err
	}

	if r.deps.RemoteEnabled {
		if err := r.deps.Queue.Enqueue(r.typ, meta.LocalID, sync.OpCreate); err != nil {
			return err
		}
		r.nudge()
	}

	return nil
}

// Update требует существующей локальной записи; помечает её pendingUpdate,
// фиксирует снимок правок в pendingChanges и идемпотентно ставит операцию.
func (r *Repository[T, PT]) Update(ctx context.Context, rec PT) error {
	meta := rec.Meta()

	current, err := r.Fetch(ctx, meta.LocalID)
	if err != nil {
		return err
	}

	// Запись, ещё не созданная на сервере, остаётся pendingCreate: отложенный
	// create отправит уже актуальную версию.
	status := entity.StatusPendingUpdate
	kind := sync.OpUpdate
	if PT(current).Meta().SyncStatus == entity.StatusPendingCreate {
		status = entity.StatusPendingCreate
		kind = sync.OpCreate
	}

	meta.UpdatedAt = time.Now()
	meta.SyncStatus = status
	meta.SyncError = ""

	snapshot, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}
	meta.PendingChanges = snapshot

	if err := r.deps.Store.Save(rec); err != nil {
		return err
	}

	if r.deps.RemoteEnabled {
		if err := r.deps.Queue.Enqueue(r.typ, meta.LocalID, kind); err != nil {
			return err
		}
		r.nudge()
	}

	return nil
}

// Delete удаляет запись. Никогда не синхронизированная (без remoteID) или
// принадлежащая семейству с выключенным сервером запись убирается сразу;
// иначе она помечается pendingDelete и уходит из кэша только после
// подтверждения сервером.
func (r *Repository[T, PT]) Delete(ctx context.Context, rec PT) error {
	meta := rec.Meta()

	if meta.RemoteID == "" || !r.deps.RemoteEnabled {
		if err := r.deps.Queue.DropFor(r.typ, meta.LocalID); err != nil {
			return err
		}
		return r.deps.Store.Delete(r.typ, meta.LocalID)
	}

	meta.UpdatedAt = time.Now()
	meta.SyncStatus = entity.StatusPendingDelete
	meta.SyncError = ""

	if err := r.deps.Store.Save(rec); err != nil {
		return err
	}
	if err := r.deps.Queue.Enqueue(r.typ, meta.LocalID, sync.OpDelete); err != nil {
		return err
	}
	r.nudge()

	return nil
}

// Fetch читает запись из кэша; сети не касается.
func (r *Repository[T, PT]) Fetch(ctx context.Context, localID string) (*T, error) {
	payload, err := r.deps.Store.GetRaw(r.typ, localID)
	if err != nil {
		return nil, err
	}
	return decode[T](payload)
}

// FetchAll читает все записи семейства из кэша; сети не касается.
func (r *Repository[T, PT]) FetchAll(ctx context.Context) ([]*T, error) {
	payloads, err := r.deps.Store.ListRaw(r.typ)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](payloads)
}

// FetchByStatus читает записи семейства в заданном статусе синхронизации.
func (r *Repository[T, PT]) FetchByStatus(ctx context.Context, status entity.SyncStatus) ([]*T, error) {
	payloads, err := r.deps.Store.ListByStatusRaw(r.typ, status)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](payloads)
}

// SyncWithBackend подтягивает авторитетный серверный список и сверяет его с
// кэшем. Возвращает число сохранённых записей. Правила:
//   - запись без локальной пары вставляется как synced (сироты с
//     неразрешимым родителем пропускаются и в счётчик не попадают);
//   - локально чистая запись перезаписывается серверной;
//   - локально грязная запись помечается conflict, pendingChanges
//     сохраняются, серверный снимок остаётся доступен резолверу.
func (r *Repository[T, PT]) SyncWithBackend(ctx context.Context) (int, error) {
	if !r.deps.RemoteEnabled {
		return 0, nil
	}

	var resp struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := r.deps.Transport.Request(ctx, http.MethodGet, r.endpoint, nil, &resp); err != nil {
		return 0, err
	}

	saved := 0
	now := time.Now()
	for _, raw := range resp.Records {
		remote, err := decode[T](raw)
		if err != nil {
			r.deps.Log.Warn("Не удалось разобрать серверную запись", "type", r.typ, "error", err)
			continue
		}
		prec := PT(remote)
		rmeta := prec.Meta()
		if rmeta.RemoteID == "" {
			r.deps.Log.Warn("Серверная запись без идентификатора пропущена", "type", r.typ)
			continue
		}

		// Ссылочная целостность на приёме: запись с отсутствующим локально
		// родителем не вставляется висячей ссылкой.
		if parent := prec.ParentRemoteID(); parent != "" && r.parentExists != nil && !r.parentExists(parent) {
			r.deps.Log.Debug("Пропущена осиротевшая серверная запись",
				"type", r.typ, "remote_id", rmeta.RemoteID, "parent", parent)
			continue
		}

		localRaw, err := r.deps.Store.GetByRemoteRaw(r.typ, rmeta.RemoteID)
		switch {
		case err == entity.ErrNotFound:
			rmeta.LocalID = uuid.NewString()
			rmeta.CreatedAt = now
			rmeta.UpdatedAt = now
			rmeta.MarkSynced(now)
			if err := r.deps.Store.Save(prec); err != nil {
				return saved, err
			}
			saved++

		case err != nil:
			return saved, err

		default:
			local, derr := decode[T](localRaw)
			if derr != nil {
				return saved, derr
			}
			lmeta := PT(local).Meta()

			if lmeta.SyncStatus == entity.StatusSynced {
				rmeta.LocalID = lmeta.LocalID
				rmeta.CreatedAt = lmeta.CreatedAt
				rmeta.UpdatedAt = now
				rmeta.MarkSynced(now)
				if err := r.deps.Store.Save(prec); err != nil {
					return saved, err
				}
				saved++
				break
			}

			// Локальные правки не перезаписываются: запись уходит в conflict,
			// серверная версия сохраняется для резолвера.
			if err := r.deps.Store.SaveConflictSnapshot(r.typ, lmeta.LocalID, raw); err != nil {
				return saved, err
			}
			lmeta.SyncStatus = entity.StatusConflict
			lmeta.ServerUpdatedAt = rmeta.ServerUpdatedAt
			lmeta.UpdatedAt = now
			if err := r.deps.Store.Save(PT(local)); err != nil {
				return saved, err
			}
		}
	}

	return saved, nil
}

// PullRemote реализация Family поверх SyncWithBackend.
func (r *Repository[T, PT]) PullRemote(ctx context.Context) (int, error) {
	return r.SyncWithBackend(ctx)
}

// ---- Family: нетипизированный доступ для движка ----

func (r *Repository[T, PT]) Load(localID string) (entity.Syncable, error) {
	rec, err := r.Fetch(context.Background(), localID)
	if err != nil {
		return nil, err
	}
	return PT(rec), nil
}

func (r *Repository[T, PT]) SaveLocal(rec entity.Syncable) error {
	return r.deps.Store.Save(rec)
}

func (r *Repository[T, PT]) DeleteLocal(localID string) error {
	if err := r.deps.Queue.DropFor(r.typ, localID); err != nil {
		return err
	}
	return r.deps.Store.Delete(r.typ, localID)
}

func (r *Repository[T, PT]) DecodeRemote(payload []byte) (entity.Syncable, error) {
	rec, err := decode[T](payload)
	if err != nil {
		return nil, err
	}
	return PT(rec), nil
}

// PushCreate создает запись на сервере и проставляет полученные remoteID и
// serverUpdatedAt на локальной записи.
func (r *Repository[T, PT]) PushCreate(ctx context.Context, rec entity.Syncable) error {
	if err := r.resolveParent(rec); err != nil {
		return err
	}

	var resp json.RawMessage
	if err := r.deps.Transport.Request(ctx, http.MethodPost, r.endpoint, rec, &resp); err != nil {
		return err
	}

	server, err := decode[T](resp)
	if err != nil {
		return fmt.Errorf("ошибка разбора ответа сервера: %w", err)
	}

	smeta := PT(server).Meta()
	meta := rec.Meta()
	meta.RemoteID = smeta.RemoteID
	meta.ServerUpdatedAt = smeta.ServerUpdatedAt
	return nil
}

// PushUpdate отправляет локальную версию и возвращает авторитетный ответ
// сервера как новую базовую версию.
func (r *Repository[T, PT]) PushUpdate(ctx context.Context, rec entity.Syncable) (entity.Syncable, error) {
	meta := rec.Meta()
	if meta.RemoteID == "" {
		return nil, sync.ErrNotSynced
	}
	if err := r.resolveParent(rec); err != nil {
		return nil, err
	}

	var resp json.RawMessage
	path := r.endpoint + "/" + meta.RemoteID
	if err := r.deps.Transport.Request(ctx, http.MethodPut, path, rec, &resp); err != nil {
		return nil, err
	}

	server, err := decode[T](resp)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора ответа сервера: %w", err)
	}
	return PT(server), nil
}

func (r *Repository[T, PT]) PushDelete(ctx context.Context, rec entity.Syncable) error {
	meta := rec.Meta()
	if meta.RemoteID == "" {
		return sync.ErrNotSynced
	}
	return r.deps.Transport.Delete(ctx, r.endpoint+"/"+meta.RemoteID)
}

func (r *Repository[T, PT]) FetchRemote(ctx context.Context, remoteID string) (entity.Syncable, error) {
	var resp json.RawMessage
	if err := r.deps.Transport.Request(ctx, http.MethodGet, r.endpoint+"/"+remoteID, nil, &resp); err != nil {
		return nil, err
	}
	return r.DecodeRemote(resp)
}

func (r *Repository[T, PT]) resolveParent(rec entity.Syncable) error {
	if r.linkParent == nil {
		return nil
	}
	return r.linkParent(rec.(PT))
}

func (r *Repository[T, PT]) nudge() {
	if r.deps.Nudge == nil {
		return
	}
	select {
	case r.deps.Nudge <- struct{}{}:
	default:
	}
}

func (r *Repository[T, PT]) remoteExists(typ entity.Type, remoteID string) bool {
	_, err := r.deps.Store.GetByRemoteRaw(typ, remoteID)
	return err == nil
}

func decode[T any](payload []byte) (*T, error) {
	var rec T
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("ошибка парсинга записи: %w", err)
	}
	return &rec, nil
}

func decodeAll[T any](payloads [][]byte) ([]*T, error) {
	recs := make([]*T, 0, len(payloads))
	for _, p := range payloads {
		rec, err := decode[T](p)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
