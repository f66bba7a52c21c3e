package game

import (
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/wfunc/loci-palace/internal/geometry"
	"github.com/wfunc/loci-palace/internal/room"
)

// 摆放搜索参数
const (
	placementTriesPerSide = 10  // 每个半圆的尝试次数
	placementMinRadius    = 0.3 // 距用户最小半径
	placementMaxRadius    = 1.0 // 距用户最大半径
	occupiedClearance     = 0.5 // 与已占用磁珠及其概念的最小间距
)

// PlacementResult 摆放搜索结果
type PlacementResult struct {
	Position geometry.Vec3 `json:"position"`
	// Fallback 搜索失败后退到用户脚下的保底位置
	Fallback bool `json:"fallback"`
}

// Placer 物体摆放位置搜索器。
// 先在用户前方半圆随机尝试，再试后方半圆，
// 全部失败时确定性地落在用户位置并抬高半个物体高度。
type Placer struct {
	room   *room.Room
	rng    *rand.Rand
	logger *zap.Logger
}

// NewPlacer 创建搜索器
func NewPlacer(r *room.Room, rng *rand.Rand, logger *zap.Logger) *Placer {
	return &Placer{room: r, rng: rng, logger: logger}
}

// FindSpot 为物体搜索落点。
// userPos 为用户位置，forward 为用户朝向（压平到水平面），
// objBounds 为物体包围盒，occupied 为已占用磁珠及其概念的位置。
func (p *Placer) FindSpot(userPos, forward geometry.Vec3, objBounds geometry.Bounds, occupied []geometry.Vec3) PlacementResult {
	halfHeight := objBounds.Extents.Y
	forwardAzimuth := geometry.AzimuthXZ(forward.FlattenY())
	floorCenter := userPos.FlattenY()

	// 前方半圆
	if pos, ok := p.searchSemicircle(floorCenter, forwardAzimuth, halfHeight, objBounds, occupied); ok {
		return PlacementResult{Position: pos}
	}
	// 后方半圆
	if pos, ok := p.searchSemicircle(floorCenter, forwardAzimuth+math.Pi, halfHeight, objBounds, occupied); ok {
		return PlacementResult{Position: pos}
	}

	// 保底：用户脚下抬高半个物体高度
	fallback := geometry.Vec3{X: userPos.X, Y: halfHeight, Z: userPos.Z}
	p.logger.Warn("摆放搜索失败，使用保底位置",
		zap.Float64("x", fallback.X),
		zap.Float64("z", fallback.Z))
	return PlacementResult{Position: fallback, Fallback: true}
}

// searchSemicircle 在指定朝向±90°的半圆内随机尝试
func (p *Placer) searchSemicircle(center geometry.Vec3, baseAzimuth, halfHeight float64, objBounds geometry.Bounds, occupied []geometry.Vec3) (geometry.Vec3, bool) {
	for try := 0; try < placementTriesPerSide; try++ {
		azimuth := baseAzimuth + (p.rng.Float64()-0.5)*math.Pi
		radius := placementMinRadius + p.rng.Float64()*(placementMaxRadius-placementMinRadius)

		candidate := geometry.PointOnCircleXZ(center, azimuth, radius)
		candidate.Y = 0

		if p.isValid(candidate, halfHeight, objBounds, occupied) {
			return candidate, true
		}
	}
	return geometry.Vec3{}, false
}

// isValid 校验候选落点的全部约束
func (p *Placer) isValid(candidate geometry.Vec3, halfHeight float64, objBounds geometry.Bounds, occupied []geometry.Vec3) bool {
	// 物体中心抬到半高处参与体积判定
	worldBounds := objBounds.MovedTo(geometry.Vec3{X: candidate.X, Y: halfHeight, Z: candidate.Z})

	// 8个角点都要在房间轮廓内
	if !p.room.ContainsBounds(worldBounds) {
		return false
	}

	// 与已占用磁珠及其概念保持间距
	for _, o := range occupied {
		if geometry.DistanceXZ(candidate, o) < occupiedClearance {
			return false
		}
	}

	// 不得包含或相交桌子
	if p.room.CollidesWithTable(worldBounds) {
		return false
	}

	// 不得侵入任何家具体积
	if p.room.InsideFurniture(worldBounds) {
		return false
	}

	return true
}

// RandomFloorPosition 房间内的随机落地点，被顶替的概念挪过去。
// 随机取轮廓包围矩形内的点，最多尝试若干次，失败则退到轮廓首顶点。
func (p *Placer) RandomFloorPosition() geometry.Vec3 {
	minX, maxX := math.Inf(1), math.Inf(-1)
	minZ, maxZ := math.Inf(1), math.Inf(-1)
	for _, v := range p.room.Outline {
		minX = math.Min(minX, v.X)
		maxX = math.Max(maxX, v.X)
		minZ = math.Min(minZ, v.Z)
		maxZ = math.Max(maxZ, v.Z)
	}

	for try := 0; try < 20; try++ {
		candidate := geometry.Vec3{
			X: minX + p.rng.Float64()*(maxX-minX),
			Z: minZ + p.rng.Float64()*(maxZ-minZ),
		}
		if p.room.ContainsPoint(candidate) {
			return candidate
		}
	}
	return p.room.Outline[0]
}
