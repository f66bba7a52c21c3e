package models

import (
	"time"
)

// SessionState 会话状态快照（用于跨进程恢复一局）
type SessionState struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SessionID    string    `gorm:"uniqueIndex;size:64;not null" json:"session_id"`
	UserID       string    `gorm:"index;size:64;not null" json:"user_id"`
	RoomCode     string    `gorm:"index;size:64" json:"room_code"`
	CurrentPhase string    `gorm:"size:32;not null" json:"current_phase"`
	StateData    string    `gorm:"type:text" json:"state_data"` // JSON格式的状态数据
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName 指定表名
func (SessionState) TableName() string {
	return "session_states"
}
