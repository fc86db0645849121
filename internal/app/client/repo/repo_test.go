package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"talekeeper/internal/app/client/cache"
	"talekeeper/internal/app/client/queue"
	"talekeeper/internal/domain/entity"
	"talekeeper/internal/domain/sync"
)

// fakeTransport программируемый транспорт: handler получает метод и путь,
// возвращает объект для сериализации в out либо ошибку.
type fakeTransport struct {
	mu      stdsync.Mutex
	handler func(method, path string, body any) (any, error)
	calls   []string
}

func (f *fakeTransport) Request(_ context.Context, method, path string, body, out any) error {
	f.mu.Lock()
	f.calls = append(f.calls, method+" "+path)
	f.mu.Unlock()

	if f.handler == nil {
		return fmt.Errorf("неожиданный запрос: %s %s", method, path)
	}
	resp, err := f.handler(method, path, body)
	if err != nil {
		return err
	}
	if out != nil && resp != nil {
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, out)
	}
	return nil
}

func (f *fakeTransport) Upload(_ context.Context, _ []byte, path string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "UPLOAD "+path)
	f.mu.Unlock()
	return "https://cdn.example.com/u/1.png", nil
}

func (f *fakeTransport) Delete(ctx context.Context, path string) error {
	return f.Request(ctx, "DELETE", path, nil, nil)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testEnv struct {
	store *cache.Store
	queue *queue.Queue
	tr    *fakeTransport
	nudge chan struct{}
	deps  Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := cache.New(filepath.Join(t.TempDir(), "cache.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tr := &fakeTransport{}
	nudge := make(chan struct{}, 1)
	q := queue.New(store.DB(), log)

	return &testEnv{
		store: store,
		queue: q,
		tr:    tr,
		nudge: nudge,
		deps: Deps{
			Store:         store,
			Queue:         q,
			Transport:     tr,
			Log:           log,
			RemoteEnabled: true,
			Nudge:         nudge,
		},
	}
}

func TestHeroes_CreateIsLocalFirst(t *testing.T) {
	env := newTestEnv(t)
	heroes := NewHeroes(env.deps)

	h := &entity.HeroProfile{Name: "Алиса", Age: 7}
	require.NoError(t, heroes.Create(context.Background(), h))

	// сеть не трогается
	assert.Zero(t, env.tr.callCount())

	// запись сразу читается из кэша
	assert.NotEmpty(t, h.LocalID)
	got, err := heroes.Fetch(context.Background(), h.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "Алиса", got.Name)
	assert.Equal(t, entity.StatusPendingCreate, got.SyncStatus)
	assert.NotEmpty(t, got.PendingChanges)

	// операция в очереди, движок получил толчок
	ops, err := env.queue.Pending(entity.TypeHeroProfile)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, sync.OpCreate, ops[0].Kind)

	select {
	case <-env.nudge:
	default:
		t.Fatal("репозиторий не разбудил движок синхронизации")
	}
}

func TestHeroes_UpdateUnknownRecord(t *testing.T) {
	env := newTestEnv(t)
	heroes := NewHeroes(env.deps)

	h := &entity.HeroProfile{Name: "Алиса"}
	h.LocalID = "missing"
	assert.ErrorIs(t, heroes.Update(context.Background(), h), entity.ErrNotFound)
}

func TestHeroes_UpdateKeepsPendingCreate(t *testing.T) {
	env := newTestEnv(t)
	heroes := NewHeroes(env.deps)

	h := &entity.HeroProfile{Name: "Алиса"}
	require.NoError(t, heroes.Create(context.Background(), h))

	h.Name = "Алиса Вторая"
	require.NoError(t, heroes.Update(context.Background(), h))

	got, err := heroes.Fetch(context.Background(), h.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "Алиса Вторая", got.Name)
	// еще не созданная на сервере запись не становится pendingUpdate
	assert.Equal(t, entity.StatusPendingCreate, got.SyncStatus)

	// и не плодит вторую операцию
	ops, err := env.queue.Pending(entity.TypeHeroProfile)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestHeroes_UpdateSyncedRecord(t *testing.T) {
	env := newTestEnv(t)
	heroes := NewHeroes(env.deps)

	h := syncedHero(t, env, "h1", "srv-1")

	h.Name = "Новое имя"
	require.NoError(t, heroes.Update(context.Background(), h))

	got, err := heroes.Fetch(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPendingUpdate, got.SyncStatus)
	assert.NotEmpty(t, got.PendingChanges)

	ops, err := env.queue.Pending(entity.TypeHeroProfile)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, sync.OpUpdate, ops[0].Kind)
}

func TestHeroes_DeleteNeverSyncedIsImmediate(t *testing.T) {
	env := newTestEnv(t)
	heroes := NewHeroes(env.deps)

	h := &entity.HeroProfile{Name: "Алиса"}
	require.NoError(t, heroes.Create(context.Background(), h))
	require.NoError(t, heroes.Delete(context.Background(), h))

	_, err := heroes.Fetch(context.Background(), h.LocalID)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	// отложенный create тоже снят
	ops, err := env.queue.Pending(entity.TypeHeroProfile)
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.Zero(t, env.tr.callCount())
}

func TestHeroes_DeleteSyncedIsDeferred(t *testing.T) {
	env := newTestEnv(t)
	heroes := NewHeroes(env.deps)

	h := syncedHero(t, env, "h1", "srv-1")
	require.NoError(t, heroes.Delete(context.Background(), h))

	got, err := heroes.Fetch(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPendingDelete, got.SyncStatus)

	ops, err := env.queue.Pending(entity.TypeHeroProfile)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, sync.OpDelete, ops[0].Kind)
}

func TestHeroes_SyncWithBackend(t *testing.T) {
	env := newTestEnv(t)
	heroes := NewHeroes(env.deps)

	// чистая локальная запись — будет перезаписана серверной
	clean := syncedHero(t, env, "clean", "srv-clean")
	_ = clean

	// грязная локальная запись — уйдет в conflict
	dirty := syncedHero(t, env, "dirty", "srv-dirty")
	dirty.Name = "Локальная правка"
	require.NoError(t, heroes.Update(context.Background(), dirty))

	now := time.Now().UTC().Truncate(time.Second)
	env.tr.handler = func(method, path string, _ any) (any, error) {
		return map[string]any{"records": []map[string]any{
			{"remote_id": "srv-new", "sync_status": "synced", "name": "Новый герой",
				"server_updated_at": now, "created_at": now, "updated_at": now},
			{"remote_id": "srv-clean", "sync_status": "synced", "name": "Серверное имя",
				"server_updated_at": now, "created_at": now, "updated_at": now},
			{"remote_id": "srv-dirty", "sync_status": "synced", "name": "Серверная правка",
				"server_updated_at": now, "created_at": now, "updated_at": now},
		}}, nil
	}

	saved, err := heroes.SyncWithBackend(context.Background())
	require.NoError(t, err)
	// новая вставка + перезапись чистой; конфликтная не в счёте
	assert.Equal(t, 2, saved)

	// новая запись вставлена как synced
	all, err := heroes.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	cleanGot, err := heroes.Fetch(context.Background(), "clean")
	require.NoError(t, err)
	assert.Equal(t, "Серверное имя", cleanGot.Name)
	assert.Equal(t, entity.StatusSynced, cleanGot.SyncStatus)

	// локальные правки не перезаписаны
	dirtyGot, err := heroes.Fetch(context.Background(), "dirty")
	require.NoError(t, err)
	assert.Equal(t, "Локальная правка", dirtyGot.Name)
	assert.Equal(t, entity.StatusConflict, dirtyGot.SyncStatus)

	// серверная версия сохранена для резолвера
	snapshot, err := env.store.GetConflictSnapshot(entity.TypeHeroProfile, "dirty")
	require.NoError(t, err)
	assert.Contains(t, string(snapshot), "Серверная правка")
}

func TestStories_SyncWithBackendSkipsOrphans(t *testing.T) {
	env := newTestEnv(t)
	stories := NewStories(env.deps)

	_ = syncedHero(t, env, "h1", "srv-hero")

	now := time.Now().UTC().Truncate(time.Second)
	env.tr.handler = func(method, path string, _ any) (any, error) {
		return map[string]any{"records": []map[string]any{
			{"remote_id": "srv-s1", "sync_status": "synced", "title": "Сказка",
				"hero_remote_id": "srv-hero", "created_at": now, "updated_at": now},
			{"remote_id": "srv-s2", "sync_status": "synced", "title": "Сирота",
				"hero_remote_id": "srv-unknown-hero", "created_at": now, "updated_at": now},
		}}, nil
	}

	saved, err := stories.SyncWithBackend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	all, err := stories.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Сказка", all[0].Title)
}

func TestStories_GenerateRequiresSyncedHero(t *testing.T) {
	env := newTestEnv(t)
	stories := NewStories(env.deps)

	hero := &entity.HeroProfile{Name: "Алиса"}
	hero.LocalID = "h1"

	_, err := stories.Generate(context.Background(), hero, GenerateRequest{Theme: "космос"})
	assert.ErrorIs(t, err, sync.ErrNotSynced)
	assert.Zero(t, env.tr.callCount())
}

func TestStories_Generate(t *testing.T) {
	env := newTestEnv(t)
	stories := NewStories(env.deps)

	hero := syncedHero(t, env, "h1", "srv-hero")

	now := time.Now().UTC().Truncate(time.Second)
	env.tr.handler = func(method, path string, body any) (any, error) {
		assert.Equal(t, "POST /api/v1/stories/generate", method+" "+path)
		return map[string]any{
			"remote_id": "srv-story", "title": "Алиса в космосе",
			"text": "Жила-была...", "hero_remote_id": "srv-hero",
			"server_updated_at": now,
		}, nil
	}

	story, err := stories.Generate(context.Background(), hero, GenerateRequest{Theme: "космос"})
	require.NoError(t, err)
	assert.Equal(t, "Алиса в космосе", story.Title)
	assert.Equal(t, entity.StatusSynced, story.SyncStatus)
	assert.Equal(t, "h1", story.HeroLocalID)

	// история сразу в кэше
	got, err := stories.Fetch(context.Background(), story.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "srv-story", got.RemoteID)
}

func TestStories_PushCreateLinksHeroRemoteID(t *testing.T) {
	env := newTestEnv(t)
	stories := NewStories(env.deps)

	_ = syncedHero(t, env, "h1", "srv-hero")

	story := &entity.Story{Title: "Сказка", HeroLocalID: "h1"}
	story.LocalID = "s1"
	story.SyncStatus = entity.StatusPendingCreate
	require.NoError(t, env.store.Save(story))

	env.tr.handler = func(method, path string, body any) (any, error) {
		sent, ok := body.(*entity.Story)
		require.True(t, ok)
		// ребёнок уходит на сервер уже со ссылкой на серверного родителя
		assert.Equal(t, "srv-hero", sent.HeroRemoteID)
		return map[string]any{"remote_id": "srv-story", "title": sent.Title,
			"hero_remote_id": sent.HeroRemoteID, "server_updated_at": time.Now()}, nil
	}

	require.NoError(t, stories.PushCreate(context.Background(), story))
	assert.Equal(t, "srv-hero", story.HeroRemoteID)
	assert.Equal(t, "srv-story", story.RemoteID)
}

func TestStories_PushCreateWaitsForUnsyncedHero(t *testing.T) {
	env := newTestEnv(t)
	stories := NewStories(env.deps)
	heroes := NewHeroes(env.deps)

	hero := &entity.HeroProfile{Name: "Алиса"}
	require.NoError(t, heroes.Create(context.Background(), hero))

	story := &entity.Story{Title: "Сказка", HeroLocalID: hero.LocalID}
	story.LocalID = "s1"
	story.SyncStatus = entity.StatusPendingCreate
	require.NoError(t, env.store.Save(story))

	// родитель ещё не на сервере — ребёнок не отправляется
	err := stories.PushCreate(context.Background(), story)
	assert.ErrorIs(t, err, sync.ErrNotSynced)
	assert.Zero(t, env.tr.callCount())
}

func TestIllustrations_PushCreateLinksStoryRemoteID(t *testing.T) {
	env := newTestEnv(t)
	ills := NewIllustrations(env.deps)

	story := &entity.Story{Title: "Сказка"}
	story.LocalID = "s1"
	story.RemoteID = "srv-story"
	story.MarkSynced(time.Now())
	require.NoError(t, env.store.Save(story))

	ill := &entity.Illustration{Caption: "обложка", StoryLocalID: "s1"}
	ill.LocalID = "i1"
	ill.SyncStatus = entity.StatusPendingCreate
	require.NoError(t, env.store.Save(ill))

	env.tr.handler = func(method, path string, body any) (any, error) {
		sent, ok := body.(*entity.Illustration)
		require.True(t, ok)
		assert.Equal(t, "srv-story", sent.StoryRemoteID)
		return map[string]any{"remote_id": "srv-ill",
			"story_remote_id": sent.StoryRemoteID, "server_updated_at": time.Now()}, nil
	}

	require.NoError(t, ills.PushCreate(context.Background(), ill))
	assert.Equal(t, "srv-story", ill.StoryRemoteID)
}

func TestIllustrations_UploadImageRequiresSynced(t *testing.T) {
	env := newTestEnv(t)
	ills := NewIllustrations(env.deps)

	ill := &entity.Illustration{Caption: "обложка"}
	ill.LocalID = "i1"

	err := ills.UploadImage(context.Background(), ill, []byte{1, 2, 3})
	assert.ErrorIs(t, err, sync.ErrNotSynced)
}

func TestRepository_RemoteDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.deps.RemoteEnabled = false
	heroes := NewHeroes(env.deps)

	h := &entity.HeroProfile{Name: "Алиса"}
	require.NoError(t, heroes.Create(context.Background(), h))

	// без сервера операции в очередь не ставятся
	ops, err := env.queue.Pending(entity.TypeHeroProfile)
	require.NoError(t, err)
	assert.Empty(t, ops)

	saved, err := heroes.SyncWithBackend(context.Background())
	require.NoError(t, err)
	assert.Zero(t, saved)
	assert.Zero(t, env.tr.callCount())
}

// syncedHero кладет в кэш синхронизированного героя.
func syncedHero(t *testing.T, env *testEnv, localID, remoteID string) *entity.HeroProfile {
	t.Helper()

	h := &entity.HeroProfile{Name: "Герой " + localID}
	h.LocalID = localID
	h.RemoteID = remoteID
	h.CreatedAt = time.Now()
	h.UpdatedAt = time.Now()
	h.MarkSynced(time.Now())
	require.NoError(t, env.store.Save(h))
	return h
}
