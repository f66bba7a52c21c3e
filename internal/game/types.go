package game

import (
	"time"

	"github.com/wfunc/loci-palace/internal/geometry"
	"github.com/wfunc/loci-palace/internal/object"
	"github.com/wfunc/loci-palace/internal/room"
)

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	SessionID    string      `json:"session_id" binding:"required"`
	UserID       string      `json:"user_id" binding:"required"`
	ExperienceID string      `json:"experience_id"`
	Room         RoomPayload `json:"room" binding:"required"`
	// Concepts 本局可投放的概念卡片，至少一张才能完成概念布置
	Concepts []RegisterConceptRequest `json:"concepts"`
}

// RoomPayload 房间描述
type RoomPayload struct {
	Code      string             `json:"code" binding:"required"`
	Outline   []geometry.Vec3    `json:"outline" binding:"required,min=3"`
	Table     *TablePayload      `json:"table,omitempty"`
	Furniture []FurniturePayload `json:"furniture"`
}

// TablePayload 桌子描述
type TablePayload struct {
	Position geometry.Vec3 `json:"position"`
	Center   geometry.Vec3 `json:"center"`
	Size     geometry.Vec3 `json:"size"`
}

// FurniturePayload 家具描述
type FurniturePayload struct {
	Label  string        `json:"label"`
	Center geometry.Vec3 `json:"center"`
	Size   geometry.Vec3 `json:"size"`
}

// ToRoom 转换为房间模型
func (p *RoomPayload) ToRoom() *room.Room {
	r := &room.Room{
		Code:    p.Code,
		Outline: p.Outline,
	}
	if p.Table != nil {
		r.Table = &room.Table{
			Position: p.Table.Position,
			Bounds:   geometry.NewBounds(p.Table.Center, p.Table.Size),
		}
	}
	for _, f := range p.Furniture {
		r.Furniture = append(r.Furniture, room.Furniture{
			Label:  f.Label,
			Bounds: geometry.NewBounds(f.Center, f.Size),
		})
	}
	return r
}

// ChangePhaseRequest 切换阶段请求
type ChangePhaseRequest struct {
	Phase string `json:"phase" binding:"required"`
}

// PoseUpdateRequest 用户位姿上报
type PoseUpdateRequest struct {
	Position geometry.Vec3 `json:"position"`
	Forward  geometry.Vec3 `json:"forward"`
}

// MagnetMoveRequest 磁珠移动请求
type MagnetMoveRequest struct {
	MagnetID string        `json:"magnet_id" binding:"required"`
	Position geometry.Vec3 `json:"position"`
}

// ConceptReleaseRequest 概念放置请求，Rotation 为放下时的朝向（可缺省）
type ConceptReleaseRequest struct {
	ConceptID string        `json:"concept_id" binding:"required"`
	Position  geometry.Vec3 `json:"position"`
	Rotation  geometry.Quat `json:"rotation"`
}

// RegisterConceptRequest 注册概念卡片请求
type RegisterConceptRequest struct {
	ID   string        `json:"id" binding:"required"`
	Kind string        `json:"kind" binding:"required,oneof=image video audio object3d"`
	Name string        `json:"name"`
	Size geometry.Vec3 `json:"size"`
}

// SessionInfo 会话信息
type SessionInfo struct {
	SessionID       string   `json:"session_id"`
	UserID          string   `json:"user_id"`
	RoomCode        string   `json:"room_code"`
	Phase           Phase    `json:"phase"`
	AvailablePhases []Phase  `json:"available_phases"`
	Score           int      `json:"score"`
	Streak          int      `json:"streak"`
	GameTime        float64  `json:"game_time"`
	MagnetCount     int      `json:"magnet_count"`
	FreeMagnets     int      `json:"free_magnets"`
	ConceptsInScene int      `json:"concepts_in_scene"`
	CanSpawnMagnet  bool     `json:"can_spawn_magnet"`
	CanSpawnConcept bool     `json:"can_spawn_concept"`
	OutOfRoom       bool     `json:"out_of_room"`
	EndedByTimeout  bool     `json:"ended_by_timeout"`
	StartTime       time.Time `json:"start_time"`
	Duration        float64  `json:"duration"`
}

// MagnetView 磁珠视图
type MagnetView struct {
	ID                string        `json:"id"`
	Position          geometry.Vec3 `json:"position"`
	UploadIndex       int           `json:"upload_index"`
	OutsideTableSpace bool          `json:"outside_table_space"`
	AttachedConcept   string        `json:"attached_concept,omitempty"`
	Free              bool          `json:"free"`
}

// NewMagnetView 由磁珠状态构造视图
func NewMagnetView(m *object.MagnetSlot) MagnetView {
	return MagnetView{
		ID:                string(m.ID),
		Position:          m.Position,
		UploadIndex:       m.UploadIndex,
		OutsideTableSpace: m.OutsideTableSpace,
		AttachedConcept:   string(m.AttachedConcept),
		Free:              m.IsFree(),
	}
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}
