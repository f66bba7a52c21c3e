package game

import (
	"math"
)

// 游戏时长模型参数。
// 每个因子都是对数压缩的软响应曲线：输入偏离参考值越远，
// 因子增长越慢，保证极端房间下时长仍然合理。
const (
	distanceFactorRef      = 1.5
	distanceFactorBase     = 1.0
	distanceFactorSens     = 0.3
	distanceFactorSoftness = 2.0

	magnetFactorRef      = 6.0
	magnetFactorBase     = 3.0
	magnetFactorSens     = 0.3
	magnetFactorSoftness = 2.0

	areaFactorRef      = 10.0
	areaFactorBase     = 1.0
	areaFactorSens     = 0.25
	areaFactorSoftness = 2.0
)

// softFactor 软响应因子
func softFactor(input, ref, base, sens, softness float64) float64 {
	d := (input - ref) / softness
	sign := 1.0
	if d < 0 {
		sign = -1.0
	}
	return base + sign*math.Log(1+math.Abs(d))*sens
}

// GameTime 游戏时长（分钟），由磁珠平均距离和磁珠数量决定
func GameTime(avgMagnetDistance float64, magnetCount int) float64 {
	distanceFactor := softFactor(avgMagnetDistance,
		distanceFactorRef, distanceFactorBase, distanceFactorSens, distanceFactorSoftness)
	magnetFactor := softFactor(float64(magnetCount),
		magnetFactorRef, magnetFactorBase, magnetFactorSens, magnetFactorSoftness)
	return distanceFactor + magnetFactor
}

// GameTimeByArea 游戏时长（分钟），房间面积替代磁珠距离的变体
func GameTimeByArea(roomArea float64, magnetCount int) float64 {
	areaFactor := softFactor(roomArea,
		areaFactorRef, areaFactorBase, areaFactorSens, areaFactorSoftness)
	magnetFactor := softFactor(float64(magnetCount),
		magnetFactorRef, magnetFactorBase, magnetFactorSens, magnetFactorSoftness)
	return areaFactor + magnetFactor
}

// FinalPhaseSeconds 终局阶段时长（秒）= gameTime*60/5
func FinalPhaseSeconds(gameTime float64) float64 {
	return gameTime * 60 / 5
}

// IdleThresholdSeconds 怠惰阈值（秒）：磁珠空闲超过 2*gameTime 触发扣分
func IdleThresholdSeconds(gameTime float64) float64 {
	return gameTime * 2
}
