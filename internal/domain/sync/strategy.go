package sync

import (
	"talekeeper/internal/domain/entity"
)

// DefaultStrategy возвращает стратегию разрешения конфликта по умолчанию для
// семейства сущностей. Профили героев и иллюстрации перезаписываются сервером,
// авторская проза требует решения пользователя, шаблоны авторитетны локально.
// Неизвестный тип безопасно сводится к serverWins.
func DefaultStrategy(t entity.Type) Strategy {
	switch t {
	case entity.TypeHeroProfile:
		return ServerWins
	case entity.TypeStory:
		return UserPrompt
	case entity.TypeStoryTemplate:
		return LocalWins
	case entity.TypeIllustration:
		return ServerWins
	default:
		return ServerWins
	}
}
