package game

import (
	"math"
	"sort"

	"github.com/wfunc/loci-palace/internal/geometry"
)

// orphanRotateSpeed 孤立概念的转向角速度（弧度/秒）
const orphanRotateSpeed = 0.5

// rotateAroundY 旋转叠加一个绕Y轴的增量
func rotateAroundY(q geometry.Quat, angle float64) geometry.Quat {
	half := angle / 2
	sin, cos := math.Sin(half), math.Cos(half)
	// 增量四元数 (0, sin, 0, cos) 左乘原旋转
	return geometry.Quat{
		X: cos*q.X + sin*q.Z,
		Y: cos*q.Y + sin*q.W,
		Z: cos*q.Z - sin*q.X,
		W: cos*q.W - sin*q.Y,
	}
}

// sortStandings 按得分降序，同分按用户名升序稳定排序
func sortStandings(entries []StandingsEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Username < entries[j].Username
	})
}
