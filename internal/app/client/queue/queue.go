package queue

import (
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"talekeeper/internal/domain/entity"
	"talekeeper/internal/domain/sync"
)

// Queue долговременная очередь отложенных операций синхронизации. Живёт в той
// же базе SQLite, что и кэш, поэтому локальная запись и её операция становятся
// долговременными вместе. Очередь ссылается на записи только по
// идентификатору — живых копий не держит.
type Queue struct {
	db  *sql.DB
	log *slog.Logger
}

// New создает очередь поверх соединения кэша (схема накатывается миграциями кэша).
func New(db *sql.DB, log *slog.Logger) *Queue {
	return &Queue{db: db, log: log}
}

// Enqueue ставит операцию в очередь. Идемпотентна по (тип, локальный id, вид):
// повторная постановка того же обновления схлопывается в одну ожидающую
// операцию. Окончательно проваленную операцию новая мутация возвращает в
// работу со свежим счётчиком повторов — иначе запись навсегда выпала бы из
// синхронизации.
func (q *Queue) Enqueue(typ entity.Type, localID string, kind sync.OperationKind) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := q.db.Exec(`
		INSERT INTO sync_operations (entity_type, local_id, kind, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(entity_type, local_id, kind) DO UPDATE SET
			status = excluded.status,
			retry_count = 0,
			last_error = NULL
		WHERE sync_operations.status = ?
	`, typ, localID, kind, sync.OpPending, now, sync.OpFailed)
	if err != nil {
		return fmt.Errorf("ошибка постановки операции в очередь: %w", err)
	}
	return nil
}

// Pending возвращает активные операции семейства в порядке постановки.
// Операции, исчерпавшие потолок повторов, сюда не попадают.
func (q *Queue) Pending(typ entity.Type) ([]sync.Operation, error) {
	return q.list(
		"entity_type = ? AND status = ? AND retry_count < ?",
		typ, sync.OpPending, sync.MaxRetries,
	)
}

// Retryable возвращает операции семейства, уже хотя бы раз провалившиеся, но
// ещё не исчерпавшие потолок повторов.
func (q *Queue) Retryable(typ entity.Type) ([]sync.Operation, error) {
	return q.list(
		"entity_type = ? AND status = ? AND retry_count > 0 AND retry_count < ?",
		typ, sync.OpPending, sync.MaxRetries,
	)
}

// Failed возвращает окончательно проваленные операции семейства.
func (q *Queue) Failed(typ entity.Type) ([]sync.Operation, error) {
	return q.list("entity_type = ? AND status = ?", typ, sync.OpFailed)
}

// Find возвращает операцию по ключу (для проверок в тестах и ретраях).
func (q *Queue) Find(typ entity.Type, localID string, kind sync.OperationKind) (*sync.Operation, error) {
	ops, err := q.list("entity_type = ? AND local_id = ? AND kind = ?", typ, localID, kind)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}
	return &ops[0], nil
}

func (q *Queue) list(where string, args ...any) ([]sync.Operation, error) {
	rows, err := q.db.Query(`
		SELECT id, entity_type, local_id, kind, status, retry_count,
		       COALESCE(last_error, ''), created_at
		FROM sync_operations
		WHERE `+where+`
		ORDER BY id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки операций: %w", err)
	}
	defer rows.Close()

	var ops []sync.Operation
	for rows.Next() {
		var op sync.Operation
		var createdAt string
		if err := rows.Scan(&op.ID, &op.EntityType, &op.LocalID, &op.Kind,
			&op.Status, &op.RetryCount, &op.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования операции: %w", err)
		}
		op.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// MarkInProgress помечает операцию взятой в работу.
func (q *Queue) MarkInProgress(id int64) error {
	return q.setStatus(id, sync.OpInProgress)
}

// Complete завершает операцию и убирает её из очереди.
func (q *Queue) Complete(id int64) error {
	if _, err := q.db.Exec("DELETE FROM sync_operations WHERE id = ?", id); err != nil {
		return fmt.Errorf("ошибка завершения операции: %w", err)
	}
	return nil
}

// Fail фиксирует неудачную попытку. Возвращает true, если операция исчерпала
// потолок повторов и выведена из активной очереди — тогда вызывающий код
// обязан проставить записи постоянный syncError.
func (q *Queue) Fail(id int64, cause string) (permanent bool, err error) {
	res, err := q.db.Exec(`
		UPDATE sync_operations
		SET retry_count = retry_count + 1,
		    last_error = ?,
		    status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END
		WHERE id = ?
	`, cause, sync.MaxRetries, sync.OpFailed, sync.OpPending, id)
	if err != nil {
		return false, fmt.Errorf("ошибка фиксации неудачной попытки: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("операция %d не найдена", id)
	}

	var status sync.OperationStatus
	if err := q.db.QueryRow(
		"SELECT status FROM sync_operations WHERE id = ?", id).Scan(&status); err != nil {
		return false, fmt.Errorf("ошибка чтения статуса операции: %w", err)
	}
	return status == sync.OpFailed, nil
}

// Release возвращает операцию в ожидание без учёта попытки (например, при
// ошибке аутентификации, которая не является transient-сбоем).
func (q *Queue) Release(id int64, cause string) error {
	_, err := q.db.Exec(
		"UPDATE sync_operations SET status = ?, last_error = ? WHERE id = ?",
		sync.OpPending, cause, id)
	if err != nil {
		return fmt.Errorf("ошибка возврата операции в очередь: %w", err)
	}
	return nil
}

// Discard удаляет операцию без выполнения (например, конфликт ушёл резолверу).
func (q *Queue) Discard(id int64) error {
	return q.Complete(id)
}

// FailPermanently сразу выводит операцию из активной очереди (валидационные
// ошибки не повторяются).
func (q *Queue) FailPermanently(id int64, cause string) error {
	_, err := q.db.Exec(
		"UPDATE sync_operations SET status = ?, retry_count = ?, last_error = ? WHERE id = ?",
		sync.OpFailed, sync.MaxRetries, cause, id)
	if err != nil {
		return fmt.Errorf("ошибка пометки операции проваленной: %w", err)
	}
	return nil
}

// DropFor удаляет все операции записи (запись ушла из кэша).
func (q *Queue) DropFor(typ entity.Type, localID string) error {
	_, err := q.db.Exec(
		"DELETE FROM sync_operations WHERE entity_type = ? AND local_id = ?", typ, localID)
	if err != nil {
		return fmt.Errorf("ошибка очистки операций записи: %w", err)
	}
	return nil
}

func (q *Queue) setStatus(id int64, status sync.OperationStatus) error {
	_, err := q.db.Exec("UPDATE sync_operations SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("ошибка смены статуса операции: %w", err)
	}
	return nil
}
