package sync

import (
	"time"

	"talekeeper/internal/domain/entity"
)

// OperationKind вид отложенной операции синхронизации
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// OperationStatus статус операции в очереди
type OperationStatus string

const (
	OpPending    OperationStatus = "pending"
	OpInProgress OperationStatus = "inProgress"
	OpCompleted  OperationStatus = "completed"
	OpFailed     OperationStatus = "failed"
)

// MaxRetries потолок повторов: после трёх неудачных попыток операция
// считается окончательно проваленной и выводится из активной очереди.
const MaxRetries = 3

// Operation отложенная операция синхронизации. Очередь хранит только
// идентификаторы, а не живые копии записей.
type Operation struct {
	ID         int64           `json:"id"`
	EntityType entity.Type     `json:"entity_type"`
	LocalID    string          `json:"local_id"`
	Kind       OperationKind   `json:"kind"`
	Status     OperationStatus `json:"status"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ConflictKind вид конфликта
type ConflictKind string

const (
	ConflictCreate ConflictKind = "create"
	ConflictUpdate ConflictKind = "update"
	// ConflictDelete удаление против правки — отличается от правки против правки.
	ConflictDelete ConflictKind = "delete"
)

// Conflict расхождение локальной и серверной версии одной логической записи.
// Конструируется в момент обнаружения и сразу передаётся резолверу; отдельно
// не персистится — итог разрешения сохраняется на самой записи.
type Conflict struct {
	EntityType entity.Type
	Kind       ConflictKind
	Local      entity.Syncable
	Remote     entity.Syncable
	DetectedAt time.Time
}

// Strategy стратегия разрешения конфликта
type Strategy string

const (
	ServerWins Strategy = "serverWins"
	LocalWins  Strategy = "localWins"
	Merge      Strategy = "merge"
	UserPrompt Strategy = "userPrompt"
)

// Resolution фактически применённая стратегия и итоговое состояние записи.
// Производится резолвером и сразу применяется; не сохраняется.
type Resolution struct {
	Applied Strategy
	Record  entity.Syncable
}

// Result агрегированный итог прогона очереди
type Result struct {
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Conflicts  int           `json:"conflicts"`
	Duration   time.Duration `json:"duration"`
}

// Stats накопительная статистика движка синхронизации
type Stats struct {
	TotalRuns      int       `json:"total_runs"`
	LastSuccessful time.Time `json:"last_successful"`
	LastFailed     time.Time `json:"last_failed"`
	TotalUploaded  int       `json:"total_uploaded"`
	TotalConflicts int       `json:"total_conflicts"`
	TotalErrors    int       `json:"total_errors"`
}
