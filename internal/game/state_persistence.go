package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/loci-palace/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionSnapshot 会话状态快照
type SessionSnapshot struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	RoomCode       string    `json:"room_code"`
	Phase          Phase     `json:"phase"`
	Score          int       `json:"score"`
	Streak         int       `json:"streak"`
	GameTime       float64   `json:"game_time"`
	EndedByTimeout bool      `json:"ended_by_timeout"`
	LastUpdate     time.Time `json:"last_update"`
}

// PhasePersister 会话快照持久化接口
type PhasePersister interface {
	Save(ctx context.Context, snapshot *SessionSnapshot) error
	Load(ctx context.Context, sessionID string) (*SessionSnapshot, error)
	Delete(ctx context.Context, sessionID string) error
}

// MemoryPhasePersister 内存快照持久化（用于测试）
type MemoryPhasePersister struct {
	mu        sync.RWMutex
	snapshots map[string]*SessionSnapshot
}

// NewMemoryPhasePersister 创建内存持久化器
func NewMemoryPhasePersister() *MemoryPhasePersister {
	return &MemoryPhasePersister{
		snapshots: make(map[string]*SessionSnapshot),
	}
}

// Save 保存快照
func (p *MemoryPhasePersister) Save(ctx context.Context, snapshot *SessionSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := *snapshot
	p.snapshots[snapshot.SessionID] = &copied
	return nil
}

// Load 加载快照
func (p *MemoryPhasePersister) Load(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snapshot, exists := p.snapshots[sessionID]
	if !exists {
		return nil, fmt.Errorf("快照不存在: %s", sessionID)
	}

	copied := *snapshot
	return &copied, nil
}

// Delete 删除快照
func (p *MemoryPhasePersister) Delete(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.snapshots, sessionID)
	return nil
}

// DatabasePhasePersister 数据库快照持久化
type DatabasePhasePersister struct {
	db *gorm.DB
}

// NewDatabasePhasePersister 创建数据库持久化器
func NewDatabasePhasePersister(db *gorm.DB) *DatabasePhasePersister {
	return &DatabasePhasePersister{db: db}
}

// Save 保存快照到数据库
func (p *DatabasePhasePersister) Save(ctx context.Context, snapshot *SessionSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("序列化快照失败: %w", err)
	}

	state := &models.SessionState{
		SessionID:    snapshot.SessionID,
		UserID:       snapshot.UserID,
		RoomCode:     snapshot.RoomCode,
		CurrentPhase: string(snapshot.Phase),
		StateData:    string(data),
	}

	err = p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id", "room_code", "current_phase", "state_data", "updated_at",
			}),
		}).
		Create(state).Error
	if err != nil {
		return fmt.Errorf("保存快照失败: %w", err)
	}

	return nil
}

// Load 从数据库加载快照
func (p *DatabasePhasePersister) Load(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	var state models.SessionState

	err := p.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&state).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("快照不存在: %s", sessionID)
		}
		return nil, fmt.Errorf("查询快照失败: %w", err)
	}

	var snapshot SessionSnapshot
	if err := json.Unmarshal([]byte(state.StateData), &snapshot); err != nil {
		return nil, fmt.Errorf("反序列化快照失败: %w", err)
	}
	if snapshot.LastUpdate.IsZero() {
		snapshot.LastUpdate = state.UpdatedAt
	}

	return &snapshot, nil
}

// Delete 从数据库删除快照
func (p *DatabasePhasePersister) Delete(ctx context.Context, sessionID string) error {
	result := p.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.SessionState{})
	if result.Error != nil {
		return fmt.Errorf("删除快照失败: %w", result.Error)
	}
	return nil
}
