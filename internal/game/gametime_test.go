package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGameTimeAtReference(t *testing.T) {
	// 输入恰好在参考值上时，两个因子都取基准值
	assert.InDelta(t, 4.0, GameTime(1.5, 6), 1e-9)
}

func TestGameTimeMonotonic(t *testing.T) {
	base := GameTime(1.5, 6)

	assert.Greater(t, GameTime(3.0, 6), base)
	assert.Greater(t, GameTime(1.5, 12), base)
	assert.Less(t, GameTime(0.5, 6), base)
	assert.Less(t, GameTime(1.5, 3), base)
}

func TestGameTimeDamping(t *testing.T) {
	// 对数阻尼：输入翻倍带来的增量逐步减小
	d1 := GameTime(3.0, 6) - GameTime(1.5, 6)
	d2 := GameTime(4.5, 6) - GameTime(3.0, 6)
	assert.Greater(t, d1, d2)
}

func TestGameTimeByAreaAtReference(t *testing.T) {
	assert.InDelta(t, 4.0, GameTimeByArea(10, 6), 1e-9)
}

func TestFinalPhaseSeconds(t *testing.T) {
	assert.InDelta(t, 60.0, FinalPhaseSeconds(5), 1e-9)
	assert.InDelta(t, 48.0, FinalPhaseSeconds(4), 1e-9)
}

func TestIdleThresholdSeconds(t *testing.T) {
	assert.InDelta(t, 8.0, IdleThresholdSeconds(4), 1e-9)
}
