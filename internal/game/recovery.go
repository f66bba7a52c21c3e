package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RecoveryManager 会话恢复管理器
type RecoveryManager struct {
	logger    *zap.Logger
	persister PhasePersister
	timeout   time.Duration // 快照有效期
}

// NewRecoveryManager 创建恢复管理器
func NewRecoveryManager(logger *zap.Logger, persister PhasePersister, timeout time.Duration) *RecoveryManager {
	return &RecoveryManager{
		logger:    logger,
		persister: persister,
		timeout:   timeout,
	}
}

// RecoverSnapshot 恢复会话快照
func (rm *RecoveryManager) RecoverSnapshot(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	snapshot, err := rm.persister.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("加载会话快照失败: %w", err)
	}

	// 检查快照是否过期
	if time.Since(snapshot.LastUpdate) > rm.timeout {
		rm.logger.Warn("会话快照已过期",
			zap.String("session_id", sessionID),
			zap.Time("last_update", snapshot.LastUpdate),
			zap.Duration("timeout", rm.timeout))

		if err := rm.persister.Delete(ctx, sessionID); err != nil {
			rm.logger.Error("删除过期快照失败", zap.Error(err))
		}

		return nil, errors.New("会话快照已过期")
	}

	rm.logger.Info("会话快照恢复成功",
		zap.String("session_id", sessionID),
		zap.String("phase", string(snapshot.Phase)))

	return snapshot, nil
}

// ResumeTarget 根据快照决定恢复后应处的阶段
//
// 游戏进行中的计时器无法跨进程存活，游玩类阶段一律退回概念布置；
// 布置类阶段以锚点还原结果为准，快照只作校验。
func (rm *RecoveryManager) ResumeTarget(snapshot *SessionSnapshot) Phase {
	switch snapshot.Phase {
	case PhasePlayingMain, PhasePlayingFinal, PhaseMemorize:
		return PhaseConceptDistribution
	case PhaseEnded:
		return PhaseConceptDistribution
	default:
		return snapshot.Phase
	}
}

// ApplyResume 将恢复目标套用到会话，仅在目标阶段可达时切换
func (rm *RecoveryManager) ApplyResume(ctx context.Context, lm *LociManager, snapshot *SessionSnapshot) {
	target := rm.ResumeTarget(snapshot)
	if lm.Phase() == target {
		return
	}

	for _, p := range lm.AvailablePhases() {
		if p == target {
			if err := lm.ChangePhase(ctx, target); err != nil {
				rm.logger.Warn("恢复阶段切换失败",
					zap.String("session_id", snapshot.SessionID),
					zap.String("target", string(target)),
					zap.Error(err))
			}
			return
		}
	}

	rm.logger.Debug("恢复目标阶段不可达，保持锚点还原结果",
		zap.String("session_id", snapshot.SessionID),
		zap.String("target", string(target)),
		zap.String("phase", string(lm.Phase())))
}
