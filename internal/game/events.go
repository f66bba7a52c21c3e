package game

import (
	"sync"
	"time"
)

// EventType 游戏事件类型，推送给前端渲染与音效
type EventType string

const (
	EventPhaseChanged    EventType = "phase_changed"     // 阶段变更
	EventMagnetSpawned   EventType = "magnet_spawned"    // 生成磁珠
	EventMagnetReleased  EventType = "magnet_released"   // 释放磁珠
	EventConceptSpawned  EventType = "concept_spawned"   // 生成概念
	EventConceptAttached EventType = "concept_attached"  // 概念挂接（attach音效）
	EventConceptSwapped  EventType = "concept_swapped"   // 概念顶替（swap音效）
	EventConceptDetached EventType = "concept_detached"  // 概念脱落
	EventConceptRotated  EventType = "concept_rotated"   // 孤立概念转向
	EventScoreChanged    EventType = "score_changed"     // 得分变化
	EventWrongPlacement  EventType = "wrong_placement"   // 错误摆放
	EventIdlePenalty     EventType = "idle_penalty"      // 怠惰扣分
	EventGameEnded       EventType = "game_ended"        // 本局结束
	EventDialogShown     EventType = "dialog_shown"      // 对话框展示
	EventDialogDismissed EventType = "dialog_dismissed"  // 对话框关闭
)

// GameEvent 游戏事件
type GameEvent struct {
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventSink 事件接收方
type EventSink func(GameEvent)

// EventBus 进程内事件广播
type EventBus struct {
	mu    sync.RWMutex
	sinks []EventSink
}

// NewEventBus 创建事件广播器
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe 订阅事件
func (b *EventBus) Subscribe(sink EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Publish 广播事件
func (b *EventBus) Publish(ev GameEvent) {
	b.mu.RLock()
	sinks := make([]EventSink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, sink := range sinks {
		sink(ev)
	}
}
