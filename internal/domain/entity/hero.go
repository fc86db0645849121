package entity

// HeroProfile профиль героя, от лица которого генерируются истории.
type HeroProfile struct {
	SyncMeta

	Name      string   `json:"name"`
	Age       int      `json:"age,omitempty"`
	Gender    string   `json:"gender,omitempty"`
	Traits    []string `json:"traits,omitempty"`
	Interests []string `json:"interests,omitempty"`
	AvatarURL string   `json:"avatar_url,omitempty"`
}

func (h *HeroProfile) EntityType() Type { return TypeHeroProfile }

// ParentRemoteID у профиля героя нет родителя.
func (h *HeroProfile) ParentRemoteID() string { return "" }
