package entity

import (
	"errors"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrMissingLocalID      = errors.New("record has no local id")
	ErrSyncedWithoutRemote = errors.New("synced record has no remote id")
	ErrDirtySynced         = errors.New("synced record still carries pending changes")
	ErrUnknownType         = errors.New("unknown entity type")
)
