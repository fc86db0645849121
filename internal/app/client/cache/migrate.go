package cache

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator — поверхность миграций, нужная кэшу. Close закрывает только
// ресурсы самого мигратора: соединением с БД владеет Store.
type Migrator interface {
	Up() error
	Close() error
}

// MigrationEngine — фабрика мигратора (чтобы не лезть в ФС и БД в тестах)
type MigrationEngine func(db *sql.DB) (Migrator, error)

// embeddedMigrator гоняет встроенные миграции поверх уже открытого соединения.
// Соединение общее со Store, поэтому закрывать можно только источник —
// migrate.Migrate.Close() закрыл бы и саму БД.
type embeddedMigrator struct {
	m   *migrate.Migrate
	src source.Driver
}

func (e *embeddedMigrator) Up() error { return e.m.Up() }

func (e *embeddedMigrator) Close() error { return e.src.Close() }

// DefaultEngine — реальная реализация: встроенные миграции поверх открытого
// соединения SQLite.
func DefaultEngine(db *sql.DB) (Migrator, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения встроенных миграций: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации драйвера миграций: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, err
	}
	return &embeddedMigrator{m: m, src: src}, nil
}

func runMigrations(db *sql.DB, engine MigrationEngine) (err error) {
	m, err := engine(db)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("migration source error: %w", cerr))
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w; migration up error", err)
	}
	return nil
}
