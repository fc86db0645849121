package cache

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"talekeeper/internal/domain/entity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := New(filepath.Join(t.TempDir(), "cache.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func newHero(localID string) *entity.HeroProfile {
	h := &entity.HeroProfile{Name: "Алиса", Age: 7}
	h.LocalID = localID
	h.SyncStatus = entity.StatusPendingCreate
	h.CreatedAt = time.Now()
	h.UpdatedAt = time.Now()
	return h
}

func TestStore_NewKeepsConnectionOpen(t *testing.T) {
	store := newTestStore(t)

	// прогон миграций не должен закрывать общее соединение
	require.NoError(t, store.DB().Ping())
	require.NoError(t, store.Save(newHero("h1")))
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)

	hero := newHero("h1")
	require.NoError(t, store.Save(hero))

	raw, err := store.GetRaw(entity.TypeHeroProfile, "h1")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Алиса")

	_, err = store.GetRaw(entity.TypeHeroProfile, "missing")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestStore_SaveRejectsInvalid(t *testing.T) {
	store := newTestStore(t)

	// synced без remoteID нарушает инвариант
	hero := newHero("h1")
	hero.SyncStatus = entity.StatusSynced
	assert.Error(t, store.Save(hero))

	_, err := store.GetRaw(entity.TypeHeroProfile, "h1")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestStore_UpsertKeepsIdentity(t *testing.T) {
	store := newTestStore(t)

	hero := newHero("h1")
	require.NoError(t, store.Save(hero))

	hero.Name = "Боря"
	hero.SyncStatus = entity.StatusPendingUpdate
	require.NoError(t, store.Save(hero))

	raw, err := store.GetRaw(entity.TypeHeroProfile, "h1")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Боря")

	n, err := store.Count(entity.TypeHeroProfile)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_GetByRemote(t *testing.T) {
	store := newTestStore(t)

	hero := newHero("h1")
	hero.RemoteID = "srv-1"
	hero.SyncStatus = entity.StatusSynced
	now := time.Now()
	hero.LastSyncedAt = &now
	require.NoError(t, store.Save(hero))

	raw, err := store.GetByRemoteRaw(entity.TypeHeroProfile, "srv-1")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "h1")

	_, err = store.GetByRemoteRaw(entity.TypeHeroProfile, "srv-2")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestStore_ListByStatus(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(newHero("h1")))
	require.NoError(t, store.Save(newHero("h2")))

	conflicted := newHero("h3")
	conflicted.SyncStatus = entity.StatusConflict
	require.NoError(t, store.Save(conflicted))

	pending, err := store.ListByStatusRaw(entity.TypeHeroProfile, entity.StatusPendingCreate)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	conflicts, err := store.ListByStatusRaw(entity.TypeHeroProfile, entity.StatusConflict)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(newHero("h1")))
	require.NoError(t, store.Delete(entity.TypeHeroProfile, "h1"))

	_, err := store.GetRaw(entity.TypeHeroProfile, "h1")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	// повторное удаление не ошибка
	assert.NoError(t, store.Delete(entity.TypeHeroProfile, "h1"))
}

func TestStore_StatusChangeNotification(t *testing.T) {
	store := newTestStore(t)
	changes := store.Subscribe()

	hero := newHero("h1")
	require.NoError(t, store.Save(hero))

	select {
	case ch := <-changes:
		assert.Equal(t, entity.TypeHeroProfile, ch.EntityType)
		assert.Equal(t, "h1", ch.LocalID)
		assert.Equal(t, entity.StatusPendingCreate, ch.Status)
	case <-time.After(time.Second):
		t.Fatal("не дождались уведомления о смене статуса")
	}

	// сохранение без смены статуса не шлет уведомление
	hero.Name = "Боря"
	require.NoError(t, store.Save(hero))
	select {
	case ch := <-changes:
		t.Fatalf("лишнее уведомление: %+v", ch)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStore_ConflictSnapshots(t *testing.T) {
	store := newTestStore(t)

	payload := []byte(`{"name":"серверная версия"}`)
	require.NoError(t, store.SaveConflictSnapshot(entity.TypeStory, "s1", payload))

	got, err := store.GetConflictSnapshot(entity.TypeStory, "s1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// перезапись снимка
	updated := []byte(`{"name":"новее"}`)
	require.NoError(t, store.SaveConflictSnapshot(entity.TypeStory, "s1", updated))
	got, err = store.GetConflictSnapshot(entity.TypeStory, "s1")
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	require.NoError(t, store.DeleteConflictSnapshot(entity.TypeStory, "s1"))
	_, err = store.GetConflictSnapshot(entity.TypeStory, "s1")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestStore_ResolutionBaselines(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveResolutionBaseline(entity.TypeStory, "s1", []byte(`{"v":1}`)))
	require.NoError(t, store.SaveResolutionBaseline(entity.TypeStory, "s1", []byte(`{"v":2}`)))

	// новые версии первыми
	baselines, err := store.ResolutionBaselines(entity.TypeStory, "s1")
	require.NoError(t, err)
	require.Len(t, baselines, 2)
	assert.JSONEq(t, `{"v":2}`, string(baselines[0]))
	assert.JSONEq(t, `{"v":1}`, string(baselines[1]))
}
