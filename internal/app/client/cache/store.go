package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/exp/slog"

	"talekeeper/internal/domain/entity"
)

// StatusChange уведомление об изменении статуса синхронизации записи
// (для бейджей в UI).
type StatusChange struct {
	EntityType entity.Type       `json:"entity_type"`
	LocalID    string            `json:"local_id"`
	Status     entity.SyncStatus `json:"status"`
}

// Store локальное хранилище синхронизируемых записей. Пассивная поверхность:
// правом записи владеют репозитории, хранилище лишь сериализует записи по
// идентификатору, поэтому конкурентные вызовы к разным записям не мешают
// друг другу.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	subMu sync.RWMutex
	subs  []chan StatusChange
}

// New открывает (или создаёт) базу кэша и накатывает миграции.
func New(path string, log *slog.Logger) (*Store, error) {
	return NewWithEngine(path, log, DefaultEngine)
}

// NewWithEngine вариант конструктора с подменяемым движком миграций.
func NewWithEngine(path string, log *slog.Logger, engine MigrationEngine) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}

	if err := runMigrations(db, engine); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка миграции схемы кэша: %w", err)
	}

	return &Store{
		db:    db,
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// DB возвращает низкоуровневое соединение (его делит очередь синхронизации).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) lockFor(typ entity.Type, localID string) *sync.Mutex {
	key := string(typ) + "/" + localID
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	mu, ok := s.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[key] = mu
	}
	return mu
}

// Save сохраняет запись (вставка или перезапись) и при смене статуса
// рассылает уведомление подписчикам.
func (s *Store) Save(rec entity.Syncable) error {
	meta := rec.Meta()
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("ошибка валидации записи: %w", err)
	}

	mu := s.lockFor(rec.EntityType(), meta.LocalID)
	mu.Lock()
	defer mu.Unlock()

	var prevStatus sql.NullString
	err := s.db.QueryRow(
		"SELECT sync_status FROM entities WHERE entity_type = ? AND local_id = ?",
		rec.EntityType(), meta.LocalID,
	).Scan(&prevStatus)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("ошибка проверки существования записи: %w", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(`
		INSERT INTO entities (entity_type, local_id, remote_id, sync_status, payload,
		                      sync_error, last_synced_at, server_updated_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, local_id) DO UPDATE SET
			remote_id = excluded.remote_id,
			sync_status = excluded.sync_status,
			payload = excluded.payload,
			sync_error = excluded.sync_error,
			last_synced_at = excluded.last_synced_at,
			server_updated_at = excluded.server_updated_at,
			updated_at = excluded.updated_at
	`, rec.EntityType(), meta.LocalID, nullable(meta.RemoteID), meta.SyncStatus, string(payload),
		nullable(meta.SyncError), nullTime(meta.LastSyncedAt), nullTime(meta.ServerUpdatedAt), now, now)
	if err != nil {
		return fmt.Errorf("ошибка сохранения записи: %w", err)
	}

	if !prevStatus.Valid || prevStatus.String != string(meta.SyncStatus) {
		s.notify(StatusChange{
			EntityType: rec.EntityType(),
			LocalID:    meta.LocalID,
			Status:     meta.SyncStatus,
		})
	}

	return nil
}

// GetRaw возвращает сериализованную запись по локальному идентификатору.
func (s *Store) GetRaw(typ entity.Type, localID string) ([]byte, error) {
	var payload string
	err := s.db.QueryRow(
		"SELECT payload FROM entities WHERE entity_type = ? AND local_id = ?",
		typ, localID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return []byte(payload), nil
}

// GetByRemoteRaw возвращает запись по серверному идентификатору.
func (s *Store) GetByRemoteRaw(typ entity.Type, remoteID string) ([]byte, error) {
	var payload string
	err := s.db.QueryRow(
		"SELECT payload FROM entities WHERE entity_type = ? AND remote_id = ?",
		typ, remoteID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return []byte(payload), nil
}

// ListRaw возвращает все записи семейства в порядке обновления.
func (s *Store) ListRaw(typ entity.Type) ([][]byte, error) {
	return s.listWhere("entity_type = ?", typ)
}

// ListByStatusRaw возвращает записи семейства в заданном статусе.
func (s *Store) ListByStatusRaw(typ entity.Type, status entity.SyncStatus) ([][]byte, error) {
	return s.listWhere("entity_type = ? AND sync_status = ?", typ, status)
}

func (s *Store) listWhere(where string, args ...any) ([][]byte, error) {
	rows, err := s.db.Query(
		"SELECT payload FROM entities WHERE "+where+" ORDER BY updated_at ASC, local_id ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	defer rows.Close()

	var payloads [][]byte
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		payloads = append(payloads, []byte(p))
	}
	return payloads, rows.Err()
}

// Delete физически удаляет запись из кэша.
func (s *Store) Delete(typ entity.Type, localID string) error {
	mu := s.lockFor(typ, localID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.db.Exec(
		"DELETE FROM entities WHERE entity_type = ? AND local_id = ?", typ, localID); err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return nil
}

// Count возвращает число записей семейства.
func (s *Store) Count(typ entity.Type) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM entities WHERE entity_type = ?", typ).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета записей: %w", err)
	}
	return count, nil
}

// SaveConflictSnapshot сохраняет серверную версию записи, на которой был
// обнаружен конфликт: она остаётся доступной резолверу.
func (s *Store) SaveConflictSnapshot(typ entity.Type, localID string, payload []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO conflict_snapshots (entity_type, local_id, payload, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, local_id) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at
	`, typ, localID, string(payload), now)
	if err != nil {
		return fmt.Errorf("ошибка сохранения снимка конфликта: %w", err)
	}
	return nil
}

// GetConflictSnapshot возвращает сохранённую серверную версию конфликтной записи.
func (s *Store) GetConflictSnapshot(typ entity.Type, localID string) ([]byte, error) {
	var payload string
	err := s.db.QueryRow(
		"SELECT payload FROM conflict_snapshots WHERE entity_type = ? AND local_id = ?",
		typ, localID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения снимка конфликта: %w", err)
	}
	return []byte(payload), nil
}

// DeleteConflictSnapshot убирает снимок после разрешения конфликта.
func (s *Store) DeleteConflictSnapshot(typ entity.Type, localID string) error {
	_, err := s.db.Exec(
		"DELETE FROM conflict_snapshots WHERE entity_type = ? AND local_id = ?", typ, localID)
	if err != nil {
		return fmt.Errorf("ошибка удаления снимка конфликта: %w", err)
	}
	return nil
}

// SaveResolutionBaseline паркует вытесняемую локальную версию перед тем, как
// резолвер перезапишет её серверной: несинхронизированная правка не
// уничтожается без долговременной копии.
func (s *Store) SaveResolutionBaseline(typ entity.Type, localID string, payload []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO resolution_baselines (entity_type, local_id, payload, saved_at)
		VALUES (?, ?, ?, ?)
	`, typ, localID, string(payload), now)
	if err != nil {
		return fmt.Errorf("ошибка сохранения вытесненной версии: %w", err)
	}
	return nil
}

// ResolutionBaselines возвращает припаркованные версии записи (новые первыми).
func (s *Store) ResolutionBaselines(typ entity.Type, localID string) ([][]byte, error) {
	rows, err := s.db.Query(`
		SELECT payload FROM resolution_baselines
		WHERE entity_type = ? AND local_id = ?
		ORDER BY id DESC
	`, typ, localID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	defer rows.Close()

	var payloads [][]byte
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		payloads = append(payloads, []byte(p))
	}
	return payloads, rows.Err()
}

// Subscribe возвращает канал уведомлений о смене статусов. Отправка
// неблокирующая: медленный подписчик теряет уведомления, а не стопорит запись.
func (s *Store) Subscribe() <-chan StatusChange {
	ch := make(chan StatusChange, 64)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) notify(change StatusChange) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

// Close закрывает базу и каналы подписчиков.
func (s *Store) Close() error {
	s.subMu.Lock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.subMu.Unlock()

	return s.db.Close()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
