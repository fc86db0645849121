package entity

// Story сгенерированная история. Привязана к профилю героя; текст — авторская
// проза пользователя и сервера, автоматически не сливается.
type Story struct {
	SyncMeta

	HeroRemoteID string `json:"hero_remote_id,omitempty"`
	HeroLocalID  string `json:"hero_local_id,omitempty"`
	Title        string `json:"title"`
	Text         string `json:"text,omitempty"`
	Theme        string `json:"theme,omitempty"`
	AudioURL     string `json:"audio_url,omitempty"`
	TemplateID   string `json:"template_id,omitempty"`
	IsFavorite   bool   `json:"is_favorite,omitempty"`
}

func (s *Story) EntityType() Type { return TypeStory }

func (s *Story) ParentRemoteID() string { return s.HeroRemoteID }
