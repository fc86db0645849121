package repo

import "talekeeper/internal/domain/entity"

// Heroes репозиторий профилей героев, корневое семейство.
type Heroes struct {
	*Repository[entity.HeroProfile, *entity.HeroProfile]
}

func NewHeroes(deps Deps) *Heroes {
	return &Heroes{
		Repository: newRepository[entity.HeroProfile, *entity.HeroProfile](
			deps, entity.TypeHeroProfile, "/api/v1/heroes"),
	}
}
