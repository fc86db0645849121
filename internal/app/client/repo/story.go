package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"talekeeper/internal/domain/entity"
	"talekeeper/internal/domain/sync"
)

// Stories репозиторий историй. Дочернее семейство: серверные записи с
// неизвестным локально героем при сверке пропускаются.
type Stories struct {
	*Repository[entity.Story, *entity.Story]
}

func NewStories(deps Deps) *Stories {
	r := newRepository[entity.Story, *entity.Story](deps, entity.TypeStory, "/api/v1/stories")
	r.parentExists = func(parentRemoteID string) bool {
		return r.remoteExists(entity.TypeHeroProfile, parentRemoteID)
	}
	r.linkParent = func(s *entity.Story) error {
		if s.HeroRemoteID != "" || s.HeroLocalID == "" {
			return nil
		}
		payload, err := deps.Store.GetRaw(entity.TypeHeroProfile, s.HeroLocalID)
		if err != nil {
			return err
		}
		hero, err := decode[entity.HeroProfile](payload)
		if err != nil {
			return err
		}
		if hero.RemoteID == "" {
			return sync.ErrNotSynced
		}
		s.HeroRemoteID = hero.RemoteID
		return nil
	}
	return &Stories{Repository: r}
}

// GenerateRequest параметры серверной генерации истории.
type GenerateRequest struct {
	HeroID     string `json:"hero_id"`
	TemplateID string `json:"template_id,omitempty"`
	Theme      string `json:"theme,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
}

// Generate запускает генерацию истории на сервере. Операция выполняется
// только онлайн: герой обязан быть синхронизирован, иначе серверу нечем его
// идентифицировать. Готовая история сразу сохраняется в кэш как synced.
func (s *Stories) Generate(ctx context.Context, hero *entity.HeroProfile, req GenerateRequest) (*entity.Story, error) {
	if hero.RemoteID == "" {
		return nil, sync.ErrNotSynced
	}
	req.HeroID = hero.RemoteID

	var resp json.RawMessage
	if err := s.deps.Transport.Request(ctx, http.MethodPost, s.endpoint+"/generate", req, &resp); err != nil {
		return nil, err
	}

	story, err := decode[entity.Story](resp)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	story.LocalID = uuid.NewString()
	story.HeroLocalID = hero.LocalID
	story.CreatedAt = now
	story.UpdatedAt = now
	story.MarkSynced(now)

	if err := s.deps.Store.Save(story); err != nil {
		return nil, err
	}
	return story, nil
}
