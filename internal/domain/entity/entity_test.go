package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMetaValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		meta    SyncMeta
		wantErr error
	}{
		{
			name: "valid pending record",
			meta: SyncMeta{
				LocalID:        "local-1",
				SyncStatus:     StatusPendingCreate,
				PendingChanges: json.RawMessage(`{"name":"Алиса"}`),
			},
		},
		{
			name:    "missing local id",
			meta:    SyncMeta{SyncStatus: StatusPendingCreate},
			wantErr: ErrMissingLocalID,
		},
		{
			name: "synced without remote id",
			meta: SyncMeta{
				LocalID:    "local-1",
				SyncStatus: StatusSynced,
			},
			wantErr: ErrSyncedWithoutRemote,
		},
		{
			name: "synced with pending changes",
			meta: SyncMeta{
				LocalID:        "local-1",
				RemoteID:       "srv-1",
				SyncStatus:     StatusSynced,
				LastSyncedAt:   &now,
				PendingChanges: json.RawMessage(`{}`),
			},
			wantErr: ErrDirtySynced,
		},
		{
			name: "synced with sync error",
			meta: SyncMeta{
				LocalID:    "local-1",
				RemoteID:   "srv-1",
				SyncStatus: StatusSynced,
				SyncError:  "stale failure",
			},
			wantErr: ErrDirtySynced,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMarkSynced(t *testing.T) {
	meta := SyncMeta{
		LocalID:        "local-1",
		RemoteID:       "srv-1",
		SyncStatus:     StatusPendingUpdate,
		PendingChanges: json.RawMessage(`{"title":"Новая сказка"}`),
		SyncError:      "network error",
	}

	now := time.Now()
	meta.MarkSynced(now)

	assert.Equal(t, StatusSynced, meta.SyncStatus)
	require.NotNil(t, meta.LastSyncedAt)
	assert.Equal(t, now, *meta.LastSyncedAt)
	assert.Nil(t, meta.PendingChanges)
	assert.Empty(t, meta.SyncError)
	assert.NoError(t, meta.Validate())
}

func TestParentRemoteID(t *testing.T) {
	hero := &HeroProfile{Name: "Миша"}
	assert.Empty(t, hero.ParentRemoteID())

	story := &Story{HeroRemoteID: "srv-hero-1", Title: "Полёт на Луну"}
	assert.Equal(t, "srv-hero-1", story.ParentRemoteID())

	ill := &Illustration{StoryRemoteID: "srv-story-1"}
	assert.Equal(t, "srv-story-1", ill.ParentRemoteID())

	tpl := &StoryTemplate{Name: "Космос"}
	assert.Empty(t, tpl.ParentRemoteID())
}

func TestIsMedia(t *testing.T) {
	assert.True(t, IsMedia(TypeIllustration))
	assert.False(t, IsMedia(TypeStory))
	assert.False(t, IsMedia(TypeHeroProfile))
}
