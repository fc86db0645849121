package entity

// Illustration сгенерированная иллюстрация к истории. Медийная сущность:
// её синхронизация дополнительно ограничена политикой ShouldSyncMedia.
type Illustration struct {
	SyncMeta

	StoryRemoteID string `json:"story_remote_id,omitempty"`
	StoryLocalID  string `json:"story_local_id,omitempty"`
	Caption       string `json:"caption,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	LocalPath     string `json:"local_path,omitempty"`
	SizeBytes     int64  `json:"size_bytes,omitempty"`
}

func (i *Illustration) EntityType() Type { return TypeIllustration }

func (i *Illustration) ParentRemoteID() string { return i.StoryRemoteID }

// IsMedia сообщает, требует ли сущность медиа-политики при синхронизации.
func IsMedia(t Type) bool { return t == TypeIllustration }
