package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/loci-palace/internal/models"
	"gorm.io/gorm"
)

func TestSessionStateRepository_SaveAndGet(t *testing.T) {
	db := TestDB(t)
	repo := NewSessionStateRepository(db)
	ctx := context.Background()

	state := &models.SessionState{
		SessionID:    "session-1",
		UserID:       "user-1",
		RoomCode:     "room-1",
		CurrentPhase: "magnet_distribution",
		StateData:    `{"score":0}`,
	}
	require.NoError(t, repo.Save(ctx, state))

	loaded, err := repo.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", loaded.UserID)
	assert.Equal(t, "magnet_distribution", loaded.CurrentPhase)

	// 同一会话再次保存为覆盖
	state.CurrentPhase = "playing_main"
	state.StateData = `{"score":25}`
	require.NoError(t, repo.Save(ctx, state))

	loaded, err = repo.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, "playing_main", loaded.CurrentPhase)
	assert.Equal(t, `{"score":25}`, loaded.StateData)

	var count int64
	db.Model(&models.SessionState{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSessionStateRepository_ListByUser(t *testing.T) {
	db := TestDB(t)
	repo := NewSessionStateRepository(db)
	ctx := context.Background()

	for _, s := range []*models.SessionState{
		{SessionID: "s1", UserID: "user-1", RoomCode: "room-1", CurrentPhase: "ended"},
		{SessionID: "s2", UserID: "user-1", RoomCode: "room-2", CurrentPhase: "playing_main"},
		{SessionID: "s3", UserID: "user-2", RoomCode: "room-1", CurrentPhase: "memorize"},
	} {
		require.NoError(t, repo.Save(ctx, s))
	}

	states, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, states, 2)
	for _, s := range states {
		assert.Equal(t, "user-1", s.UserID)
	}
}

func TestSessionStateRepository_Delete(t *testing.T) {
	db := TestDB(t)
	repo := NewSessionStateRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &models.SessionState{
		SessionID: "s1", UserID: "user-1", RoomCode: "room-1", CurrentPhase: "ended",
	}))
	require.NoError(t, repo.Save(ctx, &models.SessionState{
		SessionID: "s2", UserID: "user-2", RoomCode: "room-1", CurrentPhase: "ended",
	}))

	require.NoError(t, repo.Delete(ctx, "s1"))
	_, err := repo.Get(ctx, "s1")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	// 按房间清理
	require.NoError(t, repo.DeleteByRoom(ctx, "room-1"))
	_, err = repo.Get(ctx, "s2")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}
