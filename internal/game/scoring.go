package game

import (
	"math"
)

// 计分常量
const (
	pointsPerMagnet     = 5 // 每释放一个磁珠的基础得分
	wrongPlacementCost  = 5 // 错放扣分
	wrongStreakCost     = 2 // 错放连击回退
	idlePenaltyPoints   = 1 // 怠惰每次扣分
	streakWindowSize    = 4 // 连击窗口长度
	bonusMultiplier     = 2 // 高连击得分倍数
	finalBonusDivisor   = 5 // 终局完成奖励 score/5
)

// PlacementReward 一次正确摆放的结算结果
type PlacementReward struct {
	MagnetsToFree int  `json:"magnets_to_free"` // 应释放的磁珠数
	Multiplier    int  `json:"multiplier"`      // 得分倍数
	Points        int  `json:"points"`          // 本次得分
	RandomRelease bool `json:"random_release"`  // 释放是否随机挑选
}

// ScoreKeeper 计分器，维护得分与连击
type ScoreKeeper struct {
	score       int
	streak      int
	magnetCount int
}

// NewScoreKeeper 创建计分器，magnetCount 为本局磁珠总数N
func NewScoreKeeper(magnetCount int) *ScoreKeeper {
	return &ScoreKeeper{magnetCount: magnetCount}
}

// Score 当前得分
func (sk *ScoreKeeper) Score() int { return sk.score }

// Streak 当前连击
func (sk *ScoreKeeper) Streak() int { return sk.streak }

// MaxMagnets 单次释放上限 ceil(N/2)
func (sk *ScoreKeeper) MaxMagnets() int {
	return int(math.Ceil(float64(sk.magnetCount) / 2))
}

// aboveThreshold 连击是否已越过随机释放阈值
func (sk *ScoreKeeper) aboveThreshold() bool {
	return sk.streak/streakWindowSize >= sk.MaxMagnets()
}

// CorrectPlacement 正确摆放：连击加一并结算释放数量与得分
func (sk *ScoreKeeper) CorrectPlacement() PlacementReward {
	sk.streak++

	maxMagnets := sk.MaxMagnets()
	above := sk.aboveThreshold()

	adjusted := sk.streak
	if above {
		adjusted = sk.streak - maxMagnets*streakWindowSize
	}

	toFree := adjusted/streakWindowSize + 1
	if toFree > maxMagnets {
		toFree = maxMagnets
	}

	multiplier := 1
	if above {
		multiplier = bonusMultiplier
	}

	points := toFree * pointsPerMagnet * multiplier
	sk.score += points

	return PlacementReward{
		MagnetsToFree: toFree,
		Multiplier:    multiplier,
		Points:        points,
		RandomRelease: above,
	}
}

// WrongPlacement 错误摆放：扣分不把得分打成负数，连击回退不越过零
func (sk *ScoreKeeper) WrongPlacement() {
	sk.score -= wrongPlacementCost
	if sk.score < 0 {
		sk.score = 0
	}
	sk.streak -= wrongStreakCost
	if sk.streak < 0 {
		sk.streak = 0
	}
}

// IdlePenalty 怠惰扣分，允许得分为负
func (sk *ScoreKeeper) IdlePenalty() {
	sk.score -= idlePenaltyPoints
}

// FinalBonus 终局完成奖励，返回奖励分
func (sk *ScoreKeeper) FinalBonus() int {
	bonus := sk.score / finalBonusDivisor
	sk.score += bonus
	return bonus
}

// Restore 从存档恢复计分状态
func (sk *ScoreKeeper) Restore(score, streak int) {
	sk.score = score
	sk.streak = streak
}

// Reset 清零
func (sk *ScoreKeeper) Reset() {
	sk.score = 0
	sk.streak = 0
}
