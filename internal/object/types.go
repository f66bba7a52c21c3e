package object

import (
	"github.com/wfunc/loci-palace/internal/geometry"
)

// Kind 场景物体类型
type Kind string

const (
	KindSphere  Kind = "loci_sphere"  // 参照球
	KindCube    Kind = "loci_cube"    // 参照方块
	KindConcept Kind = "loci_concept" // 概念卡片
	KindMagnet  Kind = "loci_magnet"  // 磁珠（记忆锚位）
	KindTable   Kind = "loci_table"   // 桌子
)

// ConceptKind 概念媒介类型
type ConceptKind string

const (
	ConceptImage    ConceptKind = "image"
	ConceptVideo    ConceptKind = "video"
	ConceptAudio    ConceptKind = "audio"
	ConceptObject3D ConceptKind = "object3d"
)

// ConceptID 概念卡片的固定标识，上传时确定
type ConceptID string

// MagnetID 磁珠的稳定句柄，生成时分配，整局不变
type MagnetID string

// Concept 概念卡片
type Concept struct {
	ID       ConceptID       `json:"id"`
	Kind     ConceptKind     `json:"kind"`
	Name     string          `json:"name"`
	Position geometry.Vec3   `json:"position"`
	Rotation geometry.Quat   `json:"rotation"`
	Bounds   geometry.Bounds `json:"bounds"`
	InScene  bool            `json:"in_scene"`
	Picked   bool            `json:"picked"`
	// FreeTime 概念悬空累计秒数，超过阈值后开始转向提醒
	FreeTime float64 `json:"free_time"`
}

// WorldBounds 概念在当前位置的包围盒
func (c *Concept) WorldBounds() geometry.Bounds {
	return c.Bounds.MovedTo(c.Position)
}

// MagnetSlot 磁珠运行时状态，按MagnetID索引
type MagnetSlot struct {
	ID                MagnetID        `json:"id"`
	Position          geometry.Vec3   `json:"position"`
	Bounds            geometry.Bounds `json:"bounds"`
	UploadIndex       int             `json:"upload_index"`
	OutsideTableSpace bool            `json:"outside_table_space"`
	AttachedConcept   ConceptID       `json:"attached_concept,omitempty"`
	ConceptPicked     bool            `json:"concept_picked"`
	// FreeTime 磁珠空闲累计秒数，用于怠惰扣分
	FreeTime float64 `json:"free_time"`
}

// IsFree 磁珠是否空闲（未挂接概念）
func (m *MagnetSlot) IsFree() bool {
	return m.AttachedConcept == ""
}

// WorldBounds 磁珠在当前位置的包围盒
func (m *MagnetSlot) WorldBounds() geometry.Bounds {
	return m.Bounds.MovedTo(m.Position)
}
