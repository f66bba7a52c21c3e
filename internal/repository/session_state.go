package repository

import (
	"context"

	"github.com/wfunc/loci-palace/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionStateRepository 会话状态仓储接口
type SessionStateRepository interface {
	BaseRepository
	Get(ctx context.Context, sessionID string) (*models.SessionState, error)
	// Save 保存会话状态快照（按 session_id 覆盖）
	Save(ctx context.Context, state *models.SessionState) error
	ListByUser(ctx context.Context, userID string) ([]*models.SessionState, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteByRoom(ctx context.Context, roomCode string) error
}

type sessionStateRepo struct {
	*BaseRepo
}

// NewSessionStateRepository 创建会话状态仓储
func NewSessionStateRepository(db *gorm.DB) SessionStateRepository {
	return &sessionStateRepo{BaseRepo: NewBaseRepo(db)}
}

// WithTx 使用事务
func (r *sessionStateRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &sessionStateRepo{BaseRepo: r.BaseRepo.WithTx(tx)}
}

// Get 按会话ID查询状态
func (r *sessionStateRepo) Get(ctx context.Context, sessionID string) (*models.SessionState, error) {
	var state models.SessionState
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Save 保存会话状态快照
func (r *sessionStateRepo) Save(ctx context.Context, state *models.SessionState) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id", "room_code", "current_phase", "state_data", "updated_at",
			}),
		}).
		Create(state).Error
}

// ListByUser 查询用户的所有会话状态
func (r *sessionStateRepo) ListByUser(ctx context.Context, userID string) ([]*models.SessionState, error) {
	var states []*models.SessionState
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&states).Error
	return states, err
}

// Delete 删除会话状态
func (r *sessionStateRepo) Delete(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.SessionState{}).Error
}

// DeleteByRoom 删除指定房间的所有会话状态
func (r *sessionStateRepo) DeleteByRoom(ctx context.Context, roomCode string) error {
	return r.db.WithContext(ctx).
		Where("room_code = ?", roomCode).
		Delete(&models.SessionState{}).Error
}
