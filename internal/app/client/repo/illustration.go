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

// Illustrations репозиторий иллюстраций. Медийное семейство: движок
// синхронизирует его только когда позволяет политика соединения.
type Illustrations struct {
	*Repository[entity.Illustration, *entity.Illustration]
}

func NewIllustrations(deps Deps) *Illustrations {
	r := newRepository[entity.Illustration, *entity.Illustration](
		deps, entity.TypeIllustration, "/api/v1/illustrations")
	r.media = true
	r.parentExists = func(parentRemoteID string) bool {
		return r.remoteExists(entity.TypeStory, parentRemoteID)
	}
	r.linkParent = func(ill *entity.Illustration) error {
		if ill.StoryRemoteID != "" || ill.StoryLocalID == "" {
			return nil
		}
		payload, err := deps.Store.GetRaw(entity.TypeStory, ill.StoryLocalID)
		if err != nil {
			return err
		}
		story, err := decode[entity.Story](payload)
		if err != nil {
			return err
		}
		if story.RemoteID == "" {
			return sync.ErrNotSynced
		}
		ill.StoryRemoteID = story.RemoteID
		return nil
	}
	return &Illustrations{Repository: r}
}

// Generate запускает серверную генерацию иллюстрации к истории. Только
// онлайн: история обязана быть синхронизирована.
func (i *Illustrations) Generate(ctx context.Context, story *entity.Story, prompt string) (*entity.Illustration, error) {
	if story.RemoteID == "" {
		return nil, sync.ErrNotSynced
	}

	req := struct {
		StoryID string `json:"story_id"`
		Prompt  string `json:"prompt,omitempty"`
	}{StoryID: story.RemoteID, Prompt: prompt}

	var resp json.RawMessage
	if err := i.deps.Transport.Request(ctx, http.MethodPost, i.endpoint+"/generate", req, &resp); err != nil {
		return nil, err
	}

	ill, err := decode[entity.Illustration](resp)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ill.LocalID = uuid.NewString()
	ill.StoryLocalID = story.LocalID
	ill.CreatedAt = now
	ill.UpdatedAt = now
	ill.MarkSynced(now)

	if err := i.deps.Store.Save(ill); err != nil {
		return nil, err
	}
	return ill, nil
}

// UploadImage выгружает локальный файл изображения на сервер и привязывает
// полученный URL к записи. Иллюстрация обязана быть синхронизирована.
func (i *Illustrations) UploadImage(ctx context.Context, ill *entity.Illustration, data []byte) error {
	if ill.RemoteID == "" {
		return sync.ErrNotSynced
	}

	url, err := i.deps.Transport.Upload(ctx, data, i.endpoint+"/"+ill.RemoteID+"/image")
	if err != nil {
		return err
	}

	ill.ImageURL = url
	ill.SizeBytes = int64(len(data))
	return i.Update(ctx, ill)
}
