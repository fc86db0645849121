package entity

// StoryTemplate пользовательский шаблон сюжета. Кастомизация пользователя
// считается авторитетной, поэтому по умолчанию конфликт решается в пользу клиента.
type StoryTemplate struct {
	SyncMeta

	Name     string            `json:"name"`
	Prompt   string            `json:"prompt"`
	Genre    string            `json:"genre,omitempty"`
	Length   string            `json:"length,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
	IsCustom bool              `json:"is_custom"`
}

func (t *StoryTemplate) EntityType() Type { return TypeStoryTemplate }

func (t *StoryTemplate) ParentRemoteID() string { return "" }
