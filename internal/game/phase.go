package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Phase 游戏阶段枚举
type Phase string

const (
	PhaseMagnetDistribution  Phase = "magnet_distribution"  // 磁珠布置
	PhaseConceptDistribution Phase = "concept_distribution" // 概念布置
	PhasePlayingMain         Phase = "playing_main"         // 主游戏
	PhasePlayingFinal        Phase = "playing_final"        // 终局游戏
	PhaseEnded               Phase = "ended"                // 已结束
	PhaseMemorize            Phase = "memorize"             // 回顾记忆
)

// 阶段事件
const (
	EventFinishMagnets  = "finish_magnets"   // 磁珠布置完成
	EventBackToMagnets  = "back_to_magnets"  // 返回磁珠布置
	EventStartMain      = "start_main"       // 开始主游戏
	EventBackToConcepts = "back_to_concepts" // 返回概念布置
	EventMainTimeout    = "main_timeout"     // 主游戏计时结束
	EventFinishFinal    = "finish_final"     // 终局完成
	EventFinalTimeout   = "final_timeout"    // 终局计时结束
	EventReview         = "review"           // 进入回顾
	EventEndReview      = "end_review"       // 结束回顾
	EventRestart        = "restart"          // 重新开始
)

// PhaseTransition 阶段转换定义
type PhaseTransition struct {
	From   Phase
	Event  string
	To     Phase
	Action func(ctx context.Context, pm *PhaseMachine) error
}

// PhaseMachine 阶段状态机
type PhaseMachine struct {
	mu           sync.RWMutex
	currentPhase Phase
	sessionID    string
	transitions  map[string][]PhaseTransition
	logger       *zap.Logger

	startTime  time.Time
	lastUpdate time.Time

	// 回调函数
	onPhaseChange func(from, to Phase)
}

// NewPhaseMachine 创建阶段状态机
func NewPhaseMachine(sessionID string, logger *zap.Logger) *PhaseMachine {
	pm := &PhaseMachine{
		currentPhase: PhaseMagnetDistribution,
		sessionID:    sessionID,
		transitions:  make(map[string][]PhaseTransition),
		logger:       logger,
		startTime:    time.Now(),
		lastUpdate:   time.Now(),
	}

	// 初始化阶段转换规则
	pm.initTransitions()

	return pm
}

// initTransitions 初始化阶段转换规则
func (pm *PhaseMachine) initTransitions() {
	// 磁珠布置 -> 概念布置（磁珠全部落位）
	pm.addTransition(PhaseTransition{
		From:  PhaseMagnetDistribution,
		Event: EventFinishMagnets,
		To:    PhaseConceptDistribution,
		Action: func(ctx context.Context, pm *PhaseMachine) error {
			pm.logger.Info("磁珠布置完成", zap.String("session_id", pm.sessionID))
			return nil
		},
	})

	// 概念布置 -> 磁珠布置（返回调整）
	pm.addTransition(PhaseTransition{
		From:  PhaseConceptDistribution,
		Event: EventBackToMagnets,
		To:    PhaseMagnetDistribution,
	})

	// 概念布置 -> 主游戏
	pm.addTransition(PhaseTransition{
		From:  PhaseConceptDistribution,
		Event: EventStartMain,
		To:    PhasePlayingMain,
		Action: func(ctx context.Context, pm *PhaseMachine) error {
			pm.logger.Info("主游戏开始", zap.String("session_id", pm.sessionID))
			return nil
		},
	})

	// 主游戏 -> 概念布置（提前退出）
	pm.addTransition(PhaseTransition{
		From:  PhasePlayingMain,
		Event: EventBackToConcepts,
		To:    PhaseConceptDistribution,
	})

	// 主游戏 -> 终局游戏（计时结束）
	pm.addTransition(PhaseTransition{
		From:  PhasePlayingMain,
		Event: EventMainTimeout,
		To:    PhasePlayingFinal,
		Action: func(ctx context.Context, pm *PhaseMachine) error {
			pm.logger.Info("主游戏计时结束，进入终局", zap.String("session_id", pm.sessionID))
			return nil
		},
	})

	// 主游戏 -> 磁珠布置（完全重置）
	pm.addTransition(PhaseTransition{
		From:  PhasePlayingMain,
		Event: EventBackToMagnets,
		To:    PhaseMagnetDistribution,
	})

	// 终局游戏 -> 已结束（全部完成）
	pm.addTransition(PhaseTransition{
		From:  PhasePlayingFinal,
		Event: EventFinishFinal,
		To:    PhaseEnded,
	})

	// 终局游戏 -> 概念布置（提前退出）
	pm.addTransition(PhaseTransition{
		From:  PhasePlayingFinal,
		Event: EventBackToConcepts,
		To:    PhaseConceptDistribution,
	})

	// 终局游戏 -> 磁珠布置（完全重置）
	pm.addTransition(PhaseTransition{
		From:  PhasePlayingFinal,
		Event: EventBackToMagnets,
		To:    PhaseMagnetDistribution,
	})

	// 终局游戏 -> 已结束（计时结束）
	pm.addTransition(PhaseTransition{
		From:  PhasePlayingFinal,
		Event: EventFinalTimeout,
		To:    PhaseEnded,
		Action: func(ctx context.Context, pm *PhaseMachine) error {
			pm.logger.Info("终局超时结束", zap.String("session_id", pm.sessionID))
			return nil
		},
	})

	// 概念布置 -> 回顾记忆（主游戏已解锁时可用）
	pm.addTransition(PhaseTransition{
		From:  PhaseConceptDistribution,
		Event: EventReview,
		To:    PhaseMemorize,
	})

	// 回顾记忆 -> 概念布置
	pm.addTransition(PhaseTransition{
		From:  PhaseMemorize,
		Event: EventEndReview,
		To:    PhaseConceptDistribution,
	})

	// 已结束 -> 概念布置（重新开始一轮）
	pm.addTransition(PhaseTransition{
		From:  PhaseEnded,
		Event: EventRestart,
		To:    PhaseConceptDistribution,
		Action: func(ctx context.Context, pm *PhaseMachine) error {
			pm.logger.Info("重新开始", zap.String("session_id", pm.sessionID))
			return nil
		},
	})

	// 已结束 -> 磁珠布置（完全重置）
	pm.addTransition(PhaseTransition{
		From:  PhaseEnded,
		Event: EventBackToMagnets,
		To:    PhaseMagnetDistribution,
	})
}

// addTransition 添加阶段转换
func (pm *PhaseMachine) addTransition(transition PhaseTransition) {
	key := pm.transitionKey(transition.From, transition.Event)
	pm.transitions[key] = append(pm.transitions[key], transition)
}

// transitionKey 生成转换键
func (pm *PhaseMachine) transitionKey(phase Phase, event string) string {
	return fmt.Sprintf("%s:%s", phase, event)
}

// Trigger 触发事件
func (pm *PhaseMachine) Trigger(ctx context.Context, event string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	key := pm.transitionKey(pm.currentPhase, event)
	transitions, exists := pm.transitions[key]
	if !exists || len(transitions) == 0 {
		return fmt.Errorf("无效的阶段转换: 阶段=%s, 事件=%s", pm.currentPhase, event)
	}

	// 执行第一个匹配的转换
	transition := transitions[0]
	oldPhase := pm.currentPhase

	// 执行转换动作
	if transition.Action != nil {
		if err := transition.Action(ctx, pm); err != nil {
			// 转换失败，保持原阶段
			return fmt.Errorf("阶段转换失败: %w", err)
		}
	}

	// 更新阶段
	pm.currentPhase = transition.To
	pm.lastUpdate = time.Now()

	// 触发阶段变更回调
	if pm.onPhaseChange != nil {
		pm.onPhaseChange(oldPhase, pm.currentPhase)
	}

	pm.logger.Info("阶段转换",
		zap.String("session_id", pm.sessionID),
		zap.String("from", string(oldPhase)),
		zap.String("to", string(pm.currentPhase)),
		zap.String("event", event))

	return nil
}

// GetPhase 获取当前阶段
func (pm *PhaseMachine) GetPhase() Phase {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.currentPhase
}

// SetPhase 直接设置当前阶段（恢复会话时使用）
func (pm *PhaseMachine) SetPhase(phase Phase) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.currentPhase = phase
	pm.lastUpdate = time.Now()
}

// OnPhaseChange 设置阶段变更回调
func (pm *PhaseMachine) OnPhaseChange(fn func(from, to Phase)) {
	pm.onPhaseChange = fn
}

// CanTransition 检查是否可以转换
func (pm *PhaseMachine) CanTransition(event string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	key := pm.transitionKey(pm.currentPhase, event)
	transitions, exists := pm.transitions[key]
	return exists && len(transitions) > 0
}

// GetValidEvents 获取当前阶段下的有效事件
func (pm *PhaseMachine) GetValidEvents() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var events []string
	prefix := string(pm.currentPhase) + ":"

	for key := range pm.transitions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			event := key[len(prefix):]
			events = append(events, event)
		}
	}

	return events
}

// ReachablePhases 当前阶段经单次事件可达的阶段集合
func (pm *PhaseMachine) ReachablePhases() []Phase {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	seen := make(map[Phase]bool)
	var phases []Phase
	prefix := string(pm.currentPhase) + ":"
	for key, transitions := range pm.transitions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			for _, tr := range transitions {
				if !seen[tr.To] {
					seen[tr.To] = true
					phases = append(phases, tr.To)
				}
			}
		}
	}
	return phases
}

// Reset 重置阶段状态机
func (pm *PhaseMachine) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.currentPhase = PhaseMagnetDistribution
	pm.startTime = time.Now()
	pm.lastUpdate = time.Now()
}
