package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Manager 仓储管理器，提供所有仓储的统一访问接口
type Manager struct {
	db *gorm.DB

	// 事务管理器
	txManager TransactionManager

	// 仓储实例（懒加载）
	standingOnce sync.Once
	standing     StandingRepository

	sessionStateOnce sync.Once
	sessionState     SessionStateRepository
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{
		db:        db,
		txManager: NewTransactionManager(db),
	}
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Transaction 获取事务管理器
func (m *Manager) Transaction() TransactionManager {
	return m.txManager
}

// Standing 获取排行榜仓储
func (m *Manager) Standing() StandingRepository {
	m.standingOnce.Do(func() {
		m.standing = NewStandingRepository(m.db)
	})
	return m.standing
}

// SessionState 获取会话状态仓储
func (m *Manager) SessionState() SessionStateRepository {
	m.sessionStateOnce.Do(func() {
		m.sessionState = NewSessionStateRepository(m.db)
	})
	return m.sessionState
}
