package migration

import (
	"errors"
	"time"
)

// Stage этап переноса локальных данных на сервер. Этапы строго упорядочены;
// состояние персистится на каждом переходе, поэтому прерванный перенос
// возобновляется с текущего этапа, а не с нуля.
type Stage string

const (
	StageIdle             Stage = "idle"
	StageAuthenticating   Stage = "authenticating"
	StageExporting        Stage = "exporting"
	StageUploadingHeroes  Stage = "uploadingHeroProfiles"
	StageUploadingContent Stage = "uploadingContentRecords"
	StageUploadingTpls    Stage = "uploadingTemplates"
	StageComplete         Stage = "complete"
)

// Status итоговый статус переноса
type Status string

const (
	StatusNotStarted Status = "notStarted"
	StatusInProgress Status = "inProgress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusRolledBack достижим только из failed или inProgress; дальше —
	// только явный Reset.
	StatusRolledBack Status = "rolledBack"
)

// State персистентное состояние переноса
type State struct {
	Stage       Stage          `json:"stage"`
	Status      Status         `json:"status"`
	Progress    float64        `json:"progress"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
	LastError   string         `json:"last_error,omitempty"`
	Uploaded    map[string]int `json:"uploaded,omitempty"`
}

var (
	ErrRunning     = errors.New("migration is already running")
	ErrNoMigration = errors.New("no migration in progress")
	// ErrCompleted повторный запуск завершённого переноса требует Reset.
	ErrCompleted = errors.New("migration already completed")
	ErrCancelled = errors.New("migration cancelled by user")
	// ErrNoBackup откатывать нечего: резервный снимок ещё не снят.
	ErrNoBackup = errors.New("no backup available")
)

// next возвращает этап, следующий за s.
func next(s Stage) Stage {
	switch s {
	case StageIdle:
		return StageAuthenticating
	case StageAuthenticating:
		return StageExporting
	case StageExporting:
		return StageUploadingHeroes
	case StageUploadingHeroes:
		return StageUploadingContent
	case StageUploadingContent:
		return StageUploadingTpls
	default:
		return StageComplete
	}
}

// floor доля прогресса, достигаемая к началу этапа.
func floor(s Stage) float64 {
	switch s {
	case StageIdle:
		return 0
	case StageAuthenticating:
		return 0.05
	case StageExporting:
		return 0.15
	case StageUploadingHeroes:
		return 0.3
	case StageUploadingContent:
		return 0.6
	case StageUploadingTpls:
		return 0.9
	default:
		return 1
	}
}
