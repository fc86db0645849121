package repo

import "talekeeper/internal/domain/entity"

// Templates репозиторий пользовательских шаблонов сюжета.
type Templates struct {
	*Repository[entity.StoryTemplate, *entity.StoryTemplate]
}

func NewTemplates(deps Deps) *Templates {
	return &Templates{
		Repository: newRepository[entity.StoryTemplate, *entity.StoryTemplate](
			deps, entity.TypeStoryTemplate, "/api/v1/templates"),
	}
}
