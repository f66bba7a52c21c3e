package object

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/loci-palace/internal/errors"
	"github.com/wfunc/loci-palace/internal/geometry"
)

// Registry 场景物体注册表。
// 概念按上传时固定的ID顺序生成；磁珠状态存放在按稳定句柄索引的槽位表中。
type Registry struct {
	mu sync.RWMutex

	// 概念目录，conceptOrder 决定生成顺序
	concepts     map[ConceptID]*Concept
	conceptOrder []ConceptID

	// 磁珠槽位表
	slots       map[MagnetID]*MagnetSlot
	uploadOrder []MagnetID

	logger *zap.Logger
}

// NewRegistry 创建注册表
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		concepts: make(map[ConceptID]*Concept),
		slots:    make(map[MagnetID]*MagnetSlot),
		logger:   logger,
	}
}

// RegisterConcept 登记概念卡片（初始不在场景中）。
// 登记顺序即固定的生成顺序。
func (r *Registry) RegisterConcept(c *Concept) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.concepts[c.ID]; ok {
		return errors.Newf(errors.ErrAlreadyExists, "概念 %s 已登记", c.ID)
	}

	c.InScene = false
	// 未指定朝向时用单位旋转兜底
	if c.Rotation == (geometry.Quat{}) {
		c.Rotation = geometry.IdentityQuat()
	}
	r.concepts[c.ID] = c
	r.conceptOrder = append(r.conceptOrder, c.ID)

	r.logger.Debug("登记概念",
		zap.String("concept_id", string(c.ID)),
		zap.String("kind", string(c.Kind)))
	return nil
}

// SpawnNextConcept 按固定顺序取出第一个不在场景中的概念并启用到指定位置。
// 所有概念已在场景中时返回nil。
func (r *Registry) SpawnNextConcept(pos geometry.Vec3) *Concept {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.conceptOrder {
		c := r.concepts[id]
		if !c.InScene {
			c.InScene = true
			c.Position = pos
			r.logger.Info("生成概念",
				zap.String("concept_id", string(id)),
				zap.Float64("x", pos.X),
				zap.Float64("z", pos.Z))
			return c
		}
	}
	return nil
}

// EnableConcept 将概念放入场景
func (r *Registry) EnableConcept(id ConceptID, pos geometry.Vec3) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.concepts[id]
	if !ok {
		return errors.Newf(errors.ErrConceptNotFound, "concept_id=%s", id)
	}
	c.InScene = true
	c.Position = pos
	return nil
}

// DisableConcept 将概念移出场景
func (r *Registry) DisableConcept(id ConceptID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.concepts[id]
	if !ok {
		return errors.Newf(errors.ErrConceptNotFound, "concept_id=%s", id)
	}
	c.InScene = false
	c.Picked = false
	return nil
}

// GetConcept 获取概念
func (r *Registry) GetConcept(id ConceptID) (*Concept, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.concepts[id]
	return c, ok
}

// ConceptCount 登记的概念总数
func (r *Registry) ConceptCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.concepts)
}

// ConceptsInScene 场景中的概念快照，按生成顺序
func (r *Registry) ConceptsInScene() []*Concept {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Concept, 0, len(r.conceptOrder))
	for _, id := range r.conceptOrder {
		if c := r.concepts[id]; c.InScene {
			result = append(result, c)
		}
	}
	return result
}

// ConceptOrder 固定生成顺序快照
func (r *Registry) ConceptOrder() []ConceptID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order := make([]ConceptID, len(r.conceptOrder))
	copy(order, r.conceptOrder)
	return order
}

// NewMagnet 生成新的磁珠槽位，分配稳定句柄和上传序号
func (r *Registry) NewMagnet(pos geometry.Vec3, bounds geometry.Bounds) *MagnetSlot {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := &MagnetSlot{
		ID:          MagnetID(uuid.New().String()),
		Position:    pos,
		Bounds:      bounds,
		UploadIndex: len(r.uploadOrder),
	}
	r.slots[slot.ID] = slot
	r.uploadOrder = append(r.uploadOrder, slot.ID)

	r.logger.Info("生成磁珠",
		zap.String("magnet_id", string(slot.ID)),
		zap.Int("upload_index", slot.UploadIndex))
	return slot
}

// RestoreMagnet 从存档恢复磁珠槽位（保留原句柄）
func (r *Registry) RestoreMagnet(slot *MagnetSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[slot.ID]; ok {
		return errors.Newf(errors.ErrAlreadyExists, "磁珠 %s 已存在", slot.ID)
	}
	slot.UploadIndex = len(r.uploadOrder)
	r.slots[slot.ID] = slot
	r.uploadOrder = append(r.uploadOrder, slot.ID)
	return nil
}

// GetMagnet 获取磁珠槽位
func (r *Registry) GetMagnet(id MagnetID) (*MagnetSlot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.slots[id]
	return m, ok
}

// RemoveMagnet 移除磁珠槽位
func (r *Registry) RemoveMagnet(id MagnetID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[id]; !ok {
		return
	}
	delete(r.slots, id)
	for i, mid := range r.uploadOrder {
		if mid == id {
			r.uploadOrder = append(r.uploadOrder[:i], r.uploadOrder[i+1:]...)
			break
		}
	}
}

// Magnets 磁珠快照，按上传顺序。
// 迭代前先拍快照，调用方在迭代期间改表不会失效。
func (r *Registry) Magnets() []*MagnetSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*MagnetSlot, 0, len(r.uploadOrder))
	for _, id := range r.uploadOrder {
		result = append(result, r.slots[id])
	}
	return result
}

// MagnetCount 磁珠总数
func (r *Registry) MagnetCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// FreeMagnets 空闲磁珠快照，按上传顺序
func (r *Registry) FreeMagnets() []*MagnetSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*MagnetSlot
	for _, id := range r.uploadOrder {
		if m := r.slots[id]; m.IsFree() {
			result = append(result, m)
		}
	}
	return result
}

// FreeMagnetCount 空闲磁珠数量
func (r *Registry) FreeMagnetCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, m := range r.slots {
		if m.IsFree() {
			count++
		}
	}
	return count
}

// ReorderMagnetsFromFirst 以指定磁珠为起点重排上传顺序（保持环形相对顺序）
func (r *Registry) ReorderMagnetsFromFirst(first MagnetID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := -1
	for i, id := range r.uploadOrder {
		if id == first {
			start = i
			break
		}
	}
	if start < 0 {
		return errors.Newf(errors.ErrMagnetNotFound, "magnet_id=%s", first)
	}

	rotated := make([]MagnetID, 0, len(r.uploadOrder))
	rotated = append(rotated, r.uploadOrder[start:]...)
	rotated = append(rotated, r.uploadOrder[:start]...)
	r.uploadOrder = rotated
	for i, id := range r.uploadOrder {
		r.slots[id].UploadIndex = i
	}
	return nil
}

// Attach 将概念挂接到磁珠。
// 返回被顶替的概念ID（磁珠原本已挂接时），以及是否为顶替。
func (r *Registry) Attach(magnetID MagnetID, conceptID ConceptID) (ConceptID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.slots[magnetID]
	if !ok {
		return "", false, errors.Newf(errors.ErrMagnetNotFound, "magnet_id=%s", magnetID)
	}
	c, ok := r.concepts[conceptID]
	if !ok {
		return "", false, errors.Newf(errors.ErrConceptNotFound, "concept_id=%s", conceptID)
	}

	evicted := m.AttachedConcept
	m.AttachedConcept = conceptID
	m.ConceptPicked = false
	m.FreeTime = 0
	c.Position = m.Position
	c.Picked = false

	swapped := evicted != "" && evicted != conceptID
	r.logger.Info("挂接概念",
		zap.String("magnet_id", string(magnetID)),
		zap.String("concept_id", string(conceptID)),
		zap.Bool("swapped", swapped))
	return evicted, swapped, nil
}

// Detach 从磁珠上取下概念，返回被取下的概念ID
func (r *Registry) Detach(magnetID MagnetID) (ConceptID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.slots[magnetID]
	if !ok {
		return "", errors.Newf(errors.ErrMagnetNotFound, "magnet_id=%s", magnetID)
	}
	detached := m.AttachedConcept
	m.AttachedConcept = ""
	m.ConceptPicked = false
	m.FreeTime = 0
	return detached, nil
}

// MagnetOfConcept 查找挂接了指定概念的磁珠
func (r *Registry) MagnetOfConcept(conceptID ConceptID) (*MagnetSlot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.uploadOrder {
		if m := r.slots[id]; m.AttachedConcept == conceptID {
			return m, true
		}
	}
	return nil, false
}

// NearestFreeMagnet 距离指定位置最近且在阈值内的空闲磁珠
func (r *Registry) NearestFreeMagnet(pos geometry.Vec3, maxDistance float64) (*MagnetSlot, bool) {
	return r.nearestMagnet(pos, maxDistance, true)
}

// NearestMagnet 距离指定位置最近且在阈值内的磁珠（不论是否空闲）
func (r *Registry) NearestMagnet(pos geometry.Vec3, maxDistance float64) (*MagnetSlot, bool) {
	return r.nearestMagnet(pos, maxDistance, false)
}

func (r *Registry) nearestMagnet(pos geometry.Vec3, maxDistance float64, onlyFree bool) (*MagnetSlot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *MagnetSlot
	bestDist := maxDistance
	magnets := make([]*MagnetSlot, 0, len(r.uploadOrder))
	for _, id := range r.uploadOrder {
		magnets = append(magnets, r.slots[id])
	}
	sort.SliceStable(magnets, func(i, j int) bool {
		return magnets[i].UploadIndex < magnets[j].UploadIndex
	})

	for _, m := range magnets {
		if onlyFree && !m.IsFree() {
			continue
		}
		if d := geometry.Distance(pos, m.Position); d <= bestDist {
			best = m
			bestDist = d
		}
	}
	return best, best != nil
}

// Reset 清空注册表
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.concepts = make(map[ConceptID]*Concept)
	r.conceptOrder = nil
	r.slots = make(map[MagnetID]*MagnetSlot)
	r.uploadOrder = nil
}
