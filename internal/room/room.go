package room

import (
	"github.com/wfunc/loci-palace/internal/errors"
	"github.com/wfunc/loci-palace/internal/geometry"
)

// Furniture 房间内的家具体积
type Furniture struct {
	Label  string          `json:"label"`
	Bounds geometry.Bounds `json:"bounds"`
}

// Table 房间内的桌子，概念卡片初始摆放区
type Table struct {
	Position geometry.Vec3   `json:"position"`
	Bounds   geometry.Bounds `json:"bounds"`
}

// TopPoint 桌面顶部参考点（桌子位置抬高包围盒高度）
func (t Table) TopPoint() geometry.Vec3 {
	return geometry.Vec3{
		X: t.Position.X,
		Y: t.Position.Y + t.Bounds.Size().Y,
		Z: t.Position.Z,
	}
}

// Room 扫描得到的房间布局
type Room struct {
	Code      string           `json:"code"`
	Outline   []geometry.Vec3  `json:"outline"`
	Furniture []Furniture      `json:"furniture"`
	Table     *Table           `json:"table,omitempty"`
}

// Area 房间水平面积（鞋带公式）
func (r *Room) Area() float64 {
	return geometry.PolygonAreaXZ(r.Outline)
}

// ContainsPoint 点（水平投影）是否在房间轮廓内
func (r *Room) ContainsPoint(p geometry.Vec3) bool {
	return geometry.PointInPolygonXZ(p, r.Outline)
}

// ContainsBounds 包围盒是否完整处于房间内，8个角点逐一判定
func (r *Room) ContainsBounds(b geometry.Bounds) bool {
	for _, c := range b.Corners() {
		if !r.ContainsPoint(c) {
			return false
		}
	}
	return true
}

// InsideFurniture 包围盒是否侵入任一家具体积。
// 8个角点全部在家具外才算在外，保守判定。
func (r *Room) InsideFurniture(b geometry.Bounds) bool {
	for _, f := range r.Furniture {
		for _, c := range b.Corners() {
			if f.Bounds.ContainsPoint(c) {
				return true
			}
		}
	}
	return false
}

// CollidesWithTable 包围盒是否包含或相交桌子
func (r *Room) CollidesWithTable(b geometry.Bounds) bool {
	if r.Table == nil {
		return false
	}
	return b.Contains(r.Table.Bounds) || b.Intersects(r.Table.Bounds)
}

// Validate 开局前的房间校验：房间存在、用户在房间内、面积有效。
// 任一条件不满足则返回房间设置错误，游戏不得初始化。
func Validate(r *Room, userPos geometry.Vec3) error {
	if r == nil || len(r.Outline) < 3 {
		return errors.New(errors.ErrRoomNotScanned, "房间未扫描")
	}
	if !r.ContainsPoint(userPos) {
		return errors.New(errors.ErrUserOutsideRoom, "用户不在扫描的房间内")
	}
	if r.Area() == 0 {
		return errors.New(errors.ErrRoomAreaInvalid, "房间面积无效")
	}
	return nil
}
