package anchor

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/wfunc/loci-palace/internal/errors"
	"github.com/wfunc/loci-palace/internal/geometry"
)

// Pose 锚点位姿
type Pose struct {
	Position geometry.Vec3 `json:"position"`
	Rotation geometry.Quat `json:"rotation"`
}

// RuntimeAnchor 运行时锚点，由平台创建或加载
type RuntimeAnchor struct {
	ID   uuid.UUID `json:"id"`
	Pose Pose      `json:"pose"`
}

// Platform 平台空间锚点接口。
// 真实设备上由头显SDK实现，这里只约定语义：
// 创建后的锚点需等待定位成功才能保存，擦除和加载按批次进行。
type Platform interface {
	// Create 创建运行时锚点
	Create(ctx context.Context, pose Pose) (*RuntimeAnchor, error)
	// WaitLocalized 等待锚点定位完成
	WaitLocalized(ctx context.Context, id uuid.UUID) error
	// Save 将已定位的锚点持久化到平台存储
	Save(ctx context.Context, id uuid.UUID) error
	// EraseChunk 批量擦除平台存储中的锚点
	EraseChunk(ctx context.Context, ids []uuid.UUID) error
	// LoadChunk 按批次从平台存储加载未绑定的锚点
	LoadChunk(ctx context.Context, ids []uuid.UUID) ([]*RuntimeAnchor, error)
	// Destroy 销毁运行时锚点
	Destroy(id uuid.UUID)
}

// MemoryPlatform 内存版平台实现。
// 无头运行和测试时使用，可注入指定锚点的定位、保存、擦除失败。
type MemoryPlatform struct {
	mu sync.Mutex

	// 平台存储中的锚点
	saved map[uuid.UUID]Pose
	// 运行时存在的锚点
	runtime map[uuid.UUID]Pose

	// 注入故障：对应锚点的操作失败
	LocalizeFailures map[uuid.UUID]bool
	SaveFailures     map[uuid.UUID]bool
	// 注入故障：所有锚点的操作一律失败
	LocalizeFailure bool
	SaveFailure     bool
	EraseFailure    bool
	LoadFailure     bool
}

// NewMemoryPlatform 创建内存平台
func NewMemoryPlatform() *MemoryPlatform {
	return &MemoryPlatform{
		saved:            make(map[uuid.UUID]Pose),
		runtime:          make(map[uuid.UUID]Pose),
		LocalizeFailures: make(map[uuid.UUID]bool),
		SaveFailures:     make(map[uuid.UUID]bool),
	}
}

// Create 创建运行时锚点
func (p *MemoryPlatform) Create(ctx context.Context, pose Pose) (*RuntimeAnchor, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrAnchorCreate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.New()
	p.runtime[id] = pose
	return &RuntimeAnchor{ID: id, Pose: pose}, nil
}

// WaitLocalized 等待定位，内存实现立即完成
func (p *MemoryPlatform) WaitLocalized(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrAnchorLocalizeTimeout)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.LocalizeFailure || p.LocalizeFailures[id] {
		return errors.Newf(errors.ErrAnchorLocalize, "anchor=%s", id)
	}
	if _, ok := p.runtime[id]; !ok {
		return errors.Newf(errors.ErrAnchorNotFound, "anchor=%s", id)
	}
	return nil
}

// Save 保存锚点到平台存储
func (p *MemoryPlatform) Save(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrAnchorSave)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.SaveFailure || p.SaveFailures[id] {
		return errors.Newf(errors.ErrAnchorSave, "anchor=%s", id)
	}
	pose, ok := p.runtime[id]
	if !ok {
		return errors.Newf(errors.ErrAnchorNotFound, "anchor=%s", id)
	}
	p.saved[id] = pose
	return nil
}

// EraseChunk 批量擦除
func (p *MemoryPlatform) EraseChunk(ctx context.Context, ids []uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrAnchorErase)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.EraseFailure {
		return errors.New(errors.ErrAnchorErase, "注入的擦除故障")
	}
	for _, id := range ids {
		delete(p.saved, id)
	}
	return nil
}

// LoadChunk 批量加载
func (p *MemoryPlatform) LoadChunk(ctx context.Context, ids []uuid.UUID) ([]*RuntimeAnchor, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrAnchorLoad)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.LoadFailure {
		return nil, errors.New(errors.ErrAnchorLoad, "注入的加载故障")
	}

	var result []*RuntimeAnchor
	for _, id := range ids {
		pose, ok := p.saved[id]
		if !ok {
			// 平台存储中没有的锚点直接跳过
			continue
		}
		p.runtime[id] = pose
		result = append(result, &RuntimeAnchor{ID: id, Pose: pose})
	}
	return result, nil
}

// Destroy 销毁运行时锚点
func (p *MemoryPlatform) Destroy(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.runtime, id)
}

// SavedCount 平台存储中的锚点数量
func (p *MemoryPlatform) SavedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saved)
}

// RuntimeCount 运行时锚点数量
func (p *MemoryPlatform) RuntimeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.runtime)
}
