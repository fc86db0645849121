package entity

import (
	"encoding/json"
	"time"
)

// Type тип синхронизируемой сущности
type Type string

const (
	TypeHeroProfile   Type = "hero_profile"
	TypeStory         Type = "story"
	TypeStoryTemplate Type = "story_template"
	TypeIllustration  Type = "illustration"
)

// SyncStatus статус сверки локальной и серверной копии записи
type SyncStatus string

const (
	StatusSynced        SyncStatus = "synced"
	StatusPendingCreate SyncStatus = "pendingCreate"
	StatusPendingUpdate SyncStatus = "pendingUpdate"
	StatusPendingDelete SyncStatus = "pendingDelete"
	StatusConflict      SyncStatus = "conflict"
)

// IsPending сообщает, есть ли у записи несинхронизированные локальные правки.
func (s SyncStatus) IsPending() bool {
	return s == StatusPendingCreate || s == StatusPendingUpdate || s == StatusPendingDelete
}

// SyncMeta общая для всех сущностей часть состояния синхронизации.
// Инварианты: запись со статусом synced не имеет PendingChanges и SyncError;
// запись без RemoteID не может быть synced.
type SyncMeta struct {
	LocalID         string          `json:"local_id"`
	RemoteID        string          `json:"remote_id,omitempty"`
	SyncStatus      SyncStatus      `json:"sync_status"`
	LastSyncedAt    *time.Time      `json:"last_synced_at,omitempty"`
	ServerUpdatedAt *time.Time      `json:"server_updated_at,omitempty"`
	PendingChanges  json.RawMessage `json:"pending_changes,omitempty"`
	SyncError       string          `json:"sync_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Meta возвращает метаданные синхронизации (реализация Syncable для встраивания).
func (m *SyncMeta) Meta() *SyncMeta { return m }

// MarkSynced переводит запись в состояние synced, очищая локальные правки и ошибку.
func (m *SyncMeta) MarkSynced(now time.Time) {
	m.SyncStatus = StatusSynced
	m.LastSyncedAt = &now
	m.PendingChanges = nil
	m.SyncError = ""
}

// Syncable контракт, которому удовлетворяет каждая синхронизируемая сущность.
// Репозитории и кэш параметризуются этим интерфейсом вместо приведения типов.
type Syncable interface {
	Meta() *SyncMeta
	EntityType() Type
	// ParentRemoteID возвращает серверный идентификатор родительской записи
	// (пустая строка для корневых сущностей).
	ParentRemoteID() string
}

// Validate проверяет инварианты метаданных.
func (m *SyncMeta) Validate() error {
	if m.LocalID == "" {
		return ErrMissingLocalID
	}
	if m.SyncStatus == StatusSynced {
		if m.RemoteID == "" {
			return ErrSyncedWithoutRemote
		}
		if len(m.PendingChanges) > 0 || m.SyncError != "" {
			return ErrDirtySynced
		}
	}
	return nil
}
