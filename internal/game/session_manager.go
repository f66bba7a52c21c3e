package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/loci-palace/internal/geometry"
	"github.com/wfunc/loci-palace/internal/object"
	"github.com/wfunc/loci-palace/internal/room"
	"go.uber.org/zap"
)

// ManagerFactory 按会话构造游戏管理器
type ManagerFactory func(sessionID, userID string, r *room.Room) (*LociManager, error)

// SessionManager 游戏会话管理器
type SessionManager struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	logger         *zap.Logger
	persister      PhasePersister
	recovery       *RecoveryManager
	factory        ManagerFactory
	sessionTimeout time.Duration
	maxSessions    int
}

// Session 游戏会话
type Session struct {
	SessionID    string
	UserID       string
	RoomCode     string
	Manager      *LociManager
	StartTime    time.Time
	LastActivity time.Time
	mu           sync.RWMutex
}

// SessionManagerConfig 会话管理器配置
type SessionManagerConfig struct {
	Logger         *zap.Logger
	Persister      PhasePersister
	Factory        ManagerFactory
	SessionTimeout time.Duration
	MaxSessions    int
}

// NewSessionManager 创建会话管理器
func NewSessionManager(config *SessionManagerConfig) *SessionManager {
	return &SessionManager{
		sessions:       make(map[string]*Session),
		logger:         config.Logger,
		persister:      config.Persister,
		recovery:       NewRecoveryManager(config.Logger, config.Persister, config.SessionTimeout),
		factory:        config.Factory,
		sessionTimeout: config.SessionTimeout,
		maxSessions:    config.MaxSessions,
	}
}

// CreateSession 创建新会话
//
// concepts需在Start之前登记，锚点还原时要按概念ID对账。
func (sm *SessionManager) CreateSession(ctx context.Context, sessionID, userID string, r *room.Room, concepts []RegisterConceptRequest) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// 检查会话数量限制
	if len(sm.sessions) >= sm.maxSessions {
		return nil, errors.New("会话数量已达上限")
	}

	// 检查会话是否已存在
	if _, exists := sm.sessions[sessionID]; exists {
		return nil, fmt.Errorf("会话已存在: %s", sessionID)
	}

	manager, err := sm.factory(sessionID, userID, r)
	if err != nil {
		return nil, fmt.Errorf("创建游戏管理器失败: %w", err)
	}

	for i := range concepts {
		if err := registerConcept(manager.deps.Registry, &concepts[i]); err != nil {
			return nil, fmt.Errorf("登记概念失败: %w", err)
		}
	}

	// 启动时会先从锚点还原已布置的场景
	if err := manager.Start(ctx); err != nil {
		return nil, fmt.Errorf("启动会话失败: %w", err)
	}

	// 再尝试用快照校正恢复阶段
	if snapshot, err := sm.recovery.RecoverSnapshot(ctx, sessionID); err == nil {
		sm.recovery.ApplyResume(ctx, manager, snapshot)
	}

	session := &Session{
		SessionID:    sessionID,
		UserID:       userID,
		RoomCode:     r.Code,
		Manager:      manager,
		StartTime:    time.Now(),
		LastActivity: time.Now(),
	}
	sm.sessions[sessionID] = session

	sm.logger.Info("创建游戏会话",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.String("room_code", r.Code),
		zap.String("phase", string(manager.Phase())))

	// 落一份初始快照
	if err := sm.persister.Save(ctx, sm.snapshotOf(session)); err != nil {
		sm.logger.Error("保存会话快照失败",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	return session, nil
}

// GetSession 获取会话
func (sm *SessionManager) GetSession(sessionID string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("会话不存在: %s", sessionID)
	}

	session.UpdateActivity()
	return session, nil
}

// SaveSnapshot 保存会话当前快照
func (sm *SessionManager) SaveSnapshot(ctx context.Context, sessionID string) error {
	session, err := sm.GetSession(sessionID)
	if err != nil {
		return err
	}
	return sm.persister.Save(ctx, sm.snapshotOf(session))
}

// RemoveSession 移除会话
func (sm *SessionManager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return fmt.Errorf("会话不存在: %s", sessionID)
	}

	// 保存最终状态
	if err := sm.persister.Save(ctx, sm.snapshotOf(session)); err != nil {
		sm.logger.Error("保存会话快照失败",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	delete(sm.sessions, sessionID)

	sm.logger.Info("移除游戏会话",
		zap.String("session_id", sessionID),
		zap.String("phase", string(session.Manager.Phase())),
		zap.Int("score", session.Manager.Score()))

	return nil
}

// CleanupInactiveSessions 清理不活跃的会话
func (sm *SessionManager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	var toRemove []string

	for sessionID, session := range sm.sessions {
		if now.Sub(session.Activity()) > sm.sessionTimeout {
			toRemove = append(toRemove, sessionID)
		}
	}

	for _, sessionID := range toRemove {
		session := sm.sessions[sessionID]

		if err := sm.persister.Save(ctx, sm.snapshotOf(session)); err != nil {
			sm.logger.Error("保存超时会话快照失败",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}

		delete(sm.sessions, sessionID)

		sm.logger.Info("清理超时会话",
			zap.String("session_id", sessionID),
			zap.Duration("inactive", now.Sub(session.Activity())))
	}
}

// StartCleanupTask 启动清理任务
func (sm *SessionManager) StartCleanupTask(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				sm.logger.Info("停止会话清理任务")
				return
			case <-ticker.C:
				sm.CleanupInactiveSessions(ctx)
			}
		}
	}()
}

// SessionIDs 当前所有会话ID
func (sm *SessionManager) SessionIDs() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	return ids
}

// GetActiveSessions 获取活跃会话数
func (sm *SessionManager) GetActiveSessions() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// snapshotOf 构造会话快照
func (sm *SessionManager) snapshotOf(session *Session) *SessionSnapshot {
	lm := session.Manager
	return &SessionSnapshot{
		SessionID:      session.SessionID,
		UserID:         session.UserID,
		RoomCode:       session.RoomCode,
		Phase:          lm.Phase(),
		Score:          lm.Score(),
		Streak:         lm.Streak(),
		GameTime:       lm.GameTime(),
		EndedByTimeout: lm.EndedByTimeout(),
		LastUpdate:     time.Now(),
	}
}

// UpdateActivity 更新活动时间
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
}

// Activity 读取活动时间
func (s *Session) Activity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActivity
}

// Info 构造会话信息
func (s *Session) Info() SessionInfo {
	lm := s.Manager
	registry := lm.deps.Registry

	return SessionInfo{
		SessionID:       s.SessionID,
		UserID:          s.UserID,
		RoomCode:        s.RoomCode,
		Phase:           lm.Phase(),
		AvailablePhases: lm.AvailablePhases(),
		Score:           lm.Score(),
		Streak:          lm.Streak(),
		GameTime:        lm.GameTime(),
		MagnetCount:     registry.MagnetCount(),
		FreeMagnets:     registry.FreeMagnetCount(),
		ConceptsInScene: len(registry.ConceptsInScene()),
		CanSpawnMagnet:  lm.CanSpawnMagnet(),
		CanSpawnConcept: lm.CanSpawnConcept(),
		OutOfRoom:       lm.OutOfRoom(),
		EndedByTimeout:  lm.EndedByTimeout(),
		StartTime:       s.StartTime,
		Duration:        time.Since(s.StartTime).Seconds(),
	}
}

// RegisterConcept 向会话补登一张概念卡片
func (s *Session) RegisterConcept(req *RegisterConceptRequest) error {
	return registerConcept(s.Manager.deps.Registry, req)
}

func registerConcept(reg *object.Registry, req *RegisterConceptRequest) error {
	size := req.Size
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		size = geometry.Vec3{X: 0.2, Y: 0.2, Z: 0.2}
	}
	return reg.RegisterConcept(&object.Concept{
		ID:     object.ConceptID(req.ID),
		Kind:   object.ConceptKind(req.Kind),
		Name:   req.Name,
		Bounds: geometry.NewBounds(geometry.Vec3{}, size),
	})
}

// Magnets 当前磁珠视图列表
func (s *Session) Magnets() []MagnetView {
	magnets := s.Manager.deps.Registry.Magnets()
	views := make([]MagnetView, 0, len(magnets))
	for _, m := range magnets {
		views = append(views, NewMagnetView(m))
	}
	return views
}
