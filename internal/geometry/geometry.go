package geometry

import (
	"math"
)

// Vec3 三维向量（米）
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat 四元数旋转
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// IdentityQuat 单位旋转
func IdentityQuat() Quat {
	return Quat{X: 0, Y: 0, Z: 0, W: 1}
}

// Add 向量相加
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub 向量相减
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale 向量缩放
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Length 向量长度
func (v Vec3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Distance 两点间距离
func Distance(a, b Vec3) float64 {
	return a.Sub(b).Length()
}

// DistanceXZ 水平面（XZ）上的两点距离，忽略高度差
func DistanceXZ(a, b Vec3) float64 {
	dx := a.X - b.X
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dz*dz)
}

// FlattenY 压平到水平面（Y置零）
func (v Vec3) FlattenY() Vec3 {
	return Vec3{X: v.X, Y: 0, Z: v.Z}
}

// AzimuthXZ 向量在水平面上的方位角（弧度，绕Y轴，+X方向为0）
func AzimuthXZ(v Vec3) float64 {
	return math.Atan2(v.Z, v.X)
}

// PointOnCircleXZ 以center为圆心、在水平面上按方位角和半径取点
func PointOnCircleXZ(center Vec3, azimuth, radius float64) Vec3 {
	return Vec3{
		X: center.X + math.Cos(azimuth)*radius,
		Y: center.Y,
		Z: center.Z + math.Sin(azimuth)*radius,
	}
}

// Bounds 轴对齐包围盒
type Bounds struct {
	Center Vec3 `json:"center"`
	// Extents 各轴半长
	Extents Vec3 `json:"extents"`
}

// NewBounds 以中心和整体尺寸构造包围盒
func NewBounds(center, size Vec3) Bounds {
	return Bounds{Center: center, Extents: size.Scale(0.5)}
}

// Min 包围盒最小角点
func (b Bounds) Min() Vec3 {
	return b.Center.Sub(b.Extents)
}

// Max 包围盒最大角点
func (b Bounds) Max() Vec3 {
	return b.Center.Add(b.Extents)
}

// Size 包围盒整体尺寸
func (b Bounds) Size() Vec3 {
	return b.Extents.Scale(2)
}

// Corners 包围盒的8个角点
func (b Bounds) Corners() [8]Vec3 {
	min := b.Min()
	max := b.Max()
	return [8]Vec3{
		{min.X, min.Y, min.Z},
		{max.X, min.Y, min.Z},
		{min.X, max.Y, min.Z},
		{max.X, max.Y, min.Z},
		{min.X, min.Y, max.Z},
		{max.X, min.Y, max.Z},
		{min.X, max.Y, max.Z},
		{max.X, max.Y, max.Z},
	}
}

// ContainsPoint 点是否在包围盒内（含边界）
func (b Bounds) ContainsPoint(p Vec3) bool {
	min := b.Min()
	max := b.Max()
	return p.X >= min.X && p.X <= max.X &&
		p.Y >= min.Y && p.Y <= max.Y &&
		p.Z >= min.Z && p.Z <= max.Z
}

// Intersects 两个包围盒是否相交
func (b Bounds) Intersects(o Bounds) bool {
	bMin, bMax := b.Min(), b.Max()
	oMin, oMax := o.Min(), o.Max()
	return bMin.X <= oMax.X && bMax.X >= oMin.X &&
		bMin.Y <= oMax.Y && bMax.Y >= oMin.Y &&
		bMin.Z <= oMax.Z && bMax.Z >= oMin.Z
}

// Contains 是否完整包含另一个包围盒
func (b Bounds) Contains(o Bounds) bool {
	for _, c := range o.Corners() {
		if !b.ContainsPoint(c) {
			return false
		}
	}
	return true
}

// MovedTo 返回中心移动到指定位置的包围盒副本
func (b Bounds) MovedTo(center Vec3) Bounds {
	return Bounds{Center: center, Extents: b.Extents}
}

// PointInPolygonXZ 判断点（水平投影）是否在多边形内，射线法。
// 多边形顶点按轮廓顺序给出，高度被忽略。
func PointInPolygonXZ(p Vec3, polygon []Vec3) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi := polygon[i]
		pj := polygon[j]
		if (pi.Z > p.Z) != (pj.Z > p.Z) {
			cross := (pj.X-pi.X)*(p.Z-pi.Z)/(pj.Z-pi.Z) + pi.X
			if p.X < cross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// PolygonAreaXZ 多边形水平投影面积，鞋带公式，顶点按轮廓顺序
func PolygonAreaXZ(polygon []Vec3) float64 {
	n := len(polygon)
	if n < 3 {
		return 0
	}

	sum := 0.0
	j := n - 1
	for i := 0; i < n; i++ {
		sum += (polygon[j].X + polygon[i].X) * (polygon[j].Z - polygon[i].Z)
		j = i
	}
	return math.Abs(sum) / 2
}
