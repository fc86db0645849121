package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"talekeeper/internal/app/client/cache"
	"talekeeper/internal/app/client/repo"
	"talekeeper/internal/domain/entity"
	"talekeeper/internal/domain/sync"
)

// Resolver разрешает конфликты локальной и серверной версий записи.
//
// Автономный клиент без интерфейса не может спросить пользователя и не умеет
// семантически сливать авторский текст, поэтому merge и userPrompt здесь
// деградируют до serverWins. Деградация не разрушает данные: локальная версия
// сперва долговременно паркуется как предыдущая базовая, и только потом
// серверная становится новой synced-базой.
type Resolver struct {
	store    *cache.Store
	families map[entity.Type]repo.Family
	log      *slog.Logger
}

func NewResolver(store *cache.Store, log *slog.Logger, families ...repo.Family) *Resolver {
	r := &Resolver{
		store:    store,
		families: make(map[entity.Type]repo.Family, len(families)),
		log:      log,
	}
	for _, f := range families {
		r.families[f.Type()] = f
	}
	return r
}

// Resolve применяет стратегию к конфликту и персистит итог одной записью в
// кэш. Пустая стратегия означает стратегию семейства по умолчанию. При ошибке
// кэш остаётся нетронутым, конфликт — неразрешённым.
func (r *Resolver) Resolve(ctx context.Context, c sync.Conflict, strategy sync.Strategy) (*sync.Resolution, error) {
	fam, ok := r.families[c.EntityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrUnknownType, c.EntityType)
	}

	if strategy == "" {
		strategy = sync.DefaultStrategy(c.EntityType)
	}

	applied := strategy
	if strategy == sync.Merge || strategy == sync.UserPrompt {
		// Конфликт удаления паркует базовую версию внутри applyServerWins,
		// здесь парковка дала бы дубль.
		if c.Kind != sync.ConflictDelete {
			if err := r.parkBaseline(c.Local); err != nil {
				return nil, err
			}
		}
		r.log.Info("Стратегия деградировала до serverWins",
			"type", c.EntityType, "requested", strategy)
		applied = sync.ServerWins
	}

	var (
		record entity.Syncable
		err    error
	)
	switch applied {
	case sync.ServerWins:
		record, err = r.applyServerWins(c, fam)
	case sync.LocalWins:
		record, err = r.applyLocalWins(ctx, c, fam)
	default:
		return nil, fmt.Errorf("неизвестная стратегия разрешения: %s", applied)
	}
	if err != nil {
		return nil, err
	}

	return &sync.Resolution{Applied: applied, Record: record}, nil
}

// applyServerWins делает серверную версию новой базовой. Для конфликта
// удаления сервер авторитетно говорит «записи нет» — локальная копия
// паркуется и удаляется.
func (r *Resolver) applyServerWins(c sync.Conflict, fam repo.Family) (entity.Syncable, error) {
	lmeta := c.Local.Meta()

	if c.Kind == sync.ConflictDelete {
		if err := r.parkBaseline(c.Local); err != nil {
			return nil, err
		}
		if err := fam.DeleteLocal(lmeta.LocalID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	rmeta := c.Remote.Meta()
	rmeta.LocalID = lmeta.LocalID
	rmeta.CreatedAt = lmeta.CreatedAt
	rmeta.UpdatedAt = time.Now()
	rmeta.MarkSynced(time.Now())

	if err := fam.SaveLocal(c.Remote); err != nil {
		return nil, err
	}
	if err := r.store.DeleteConflictSnapshot(c.EntityType, lmeta.LocalID); err != nil {
		return nil, err
	}
	return c.Remote, nil
}

// applyLocalWins отправляет локальную версию на сервер; новой базой становится
// авторитетный ответ. Запись без remoteID протолкнуть нельзя — это ошибка
// вызова, кэш не меняется.
func (r *Resolver) applyLocalWins(ctx context.Context, c sync.Conflict, fam repo.Family) (entity.Syncable, error) {
	lmeta := c.Local.Meta()

	if c.Kind == sync.ConflictDelete {
		// Запись воскрешается повторным созданием.
		if err := fam.PushCreate(ctx, c.Local); err != nil {
			return nil, err
		}
		lmeta.MarkSynced(time.Now())
		if err := fam.SaveLocal(c.Local); err != nil {
			return nil, err
		}
		return c.Local, nil
	}

	if lmeta.RemoteID == "" {
		return nil, sync.ErrNotSynced
	}

	server, err := fam.PushUpdate(ctx, c.Local)
	if err != nil {
		return nil, err
	}

	smeta := server.Meta()
	smeta.LocalID = lmeta.LocalID
	smeta.CreatedAt = lmeta.CreatedAt
	smeta.UpdatedAt = time.Now()
	smeta.MarkSynced(time.Now())

	if err := fam.SaveLocal(server); err != nil {
		return nil, err
	}
	if err := r.store.DeleteConflictSnapshot(c.EntityType, lmeta.LocalID); err != nil {
		return nil, err
	}
	return server, nil
}

func (r *Resolver) parkBaseline(local entity.Syncable) error {
	payload, err := json.Marshal(local)
	if err != nil {
		return fmt.Errorf("ошибка сериализации базовой версии: %w", err)
	}
	meta := local.Meta()
	return r.store.SaveResolutionBaseline(local.EntityType(), meta.LocalID, payload)
}
