package anchor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/loci-palace/internal/errors"
	"github.com/wfunc/loci-palace/internal/experience"
	"github.com/wfunc/loci-palace/internal/geometry"
	"github.com/wfunc/loci-palace/internal/object"
)

// 批次上限，平台接口单次操作允许的最大锚点数
const (
	DefaultEraseChunkSize = 30
	DefaultLoadChunkSize  = 45
)

// Config 锚点管理器配置
type Config struct {
	EraseChunkSize int
	LoadChunkSize  int
	// LocalizeTimeout 创建锚点时等待定位的上限
	LocalizeTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		EraseChunkSize:  DefaultEraseChunkSize,
		LoadChunkSize:   DefaultLoadChunkSize,
		LocalizeTimeout: 15 * time.Second,
	}
}

// Materialized 已在场景中物化的锚点
type Materialized struct {
	Anchor *RuntimeAnchor
	Ref    experience.AnchorRef
}

// Manager 空间锚点管理器。
// 维护当前体验的持久化锚点字典与运行时物化锚点的对应关系，
// 擦除和加载分批进行，批次按序逐一等待完成。
type Manager struct {
	mu sync.Mutex

	platform Platform
	store    experience.Store
	key      experience.Key
	data     *experience.Data
	cfg      Config

	materialized map[uuid.UUID]*Materialized
	// loadFailures 加载阶段定位失败被跳过的锚点数，就绪卡住时用于排查
	loadFailures int

	// onMaterialized 锚点物化后的回调，加载恢复场景物体时使用
	onMaterialized func(*Materialized)

	logger *zap.Logger
}

// NewManager 创建锚点管理器
func NewManager(platform Platform, store experience.Store, key experience.Key, cfg Config, logger *zap.Logger) *Manager {
	if cfg.EraseChunkSize <= 0 {
		cfg.EraseChunkSize = DefaultEraseChunkSize
	}
	if cfg.LoadChunkSize <= 0 {
		cfg.LoadChunkSize = DefaultLoadChunkSize
	}
	return &Manager{
		platform:     platform,
		store:        store,
		key:          key,
		data:         experience.NewData(),
		cfg:          cfg,
		materialized: make(map[uuid.UUID]*Materialized),
		logger:       logger,
	}
}

// OnMaterialized 设置锚点物化回调
func (m *Manager) OnMaterialized(fn func(*Materialized)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMaterialized = fn
}

// LoadDictionary 从存档加载当前体验的锚点字典
func (m *Manager) LoadDictionary() error {
	data, err := m.store.Load(m.key)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.logger.Info("加载锚点字典",
		zap.String("experience_key", m.key.String()),
		zap.Int("anchor_count", len(data.AnchorData)))
	return nil
}

// Data 当前体验存档数据（调用方只读）
func (m *Manager) Data() *experience.Data {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// SaveConceptRotation 记录概念首次落位的朝向并重写存档。
// 已经记录过的概念不覆盖，恢复体验时沿用最初的朝向。
func (m *Manager) SaveConceptRotation(id object.ConceptID, rot geometry.Quat) error {
	m.mu.Lock()
	if _, ok := m.data.ConceptRotations[id]; ok {
		m.mu.Unlock()
		return nil
	}
	m.data.ConceptRotations[id] = rot
	data := m.data
	m.mu.Unlock()

	return m.store.Save(m.key, data)
}

// ConceptRotation 读取概念已记录的落位朝向
func (m *Manager) ConceptRotation(id object.ConceptID) (geometry.Quat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rot, ok := m.data.ConceptRotations[id]
	return rot, ok
}

// AreAnchorsReady 持久化字典中的锚点是否已全部物化
func (m *Manager) AreAnchorsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data.AnchorData) == len(m.materialized)
}

// LoadFailureCount 加载时被跳过的锚点数
func (m *Manager) LoadFailureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadFailures
}

// MaterializedCount 已物化的锚点数
func (m *Manager) MaterializedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.materialized)
}

// GetMaterialized 获取已物化的锚点
func (m *Manager) GetMaterialized(id uuid.UUID) (*Materialized, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mat, ok := m.materialized[id]
	return mat, ok
}

// LoadCurrentExperience 分批加载当前体验的全部锚点并物化。
// onlyGameObjects 为真时只加载磁珠、概念和桌子。
// 单个锚点定位失败记录日志后跳过，不中断整个加载。
func (m *Manager) LoadCurrentExperience(ctx context.Context, onlyGameObjects bool) error {
	ids := m.pendingIDs(onlyGameObjects)

	for start := 0; start < len(ids); start += m.cfg.LoadChunkSize {
		end := start + m.cfg.LoadChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		// 批次按序进行，前一批完全结束才开始下一批
		if err := m.loadChunk(ctx, ids[start:end]); err != nil {
			return err
		}
	}

	m.logger.Info("体验锚点加载完成",
		zap.String("experience_key", m.key.String()),
		zap.Int("requested", len(ids)),
		zap.Int("materialized", m.MaterializedCount()),
		zap.Int("skipped", m.LoadFailureCount()))
	return nil
}

// pendingIDs 字典中尚未物化的锚点，按UUID排序保证批次划分稳定
func (m *Manager) pendingIDs(onlyGameObjects bool) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uuid.UUID
	for raw, ref := range m.data.AnchorData {
		id, err := uuid.Parse(raw)
		if err != nil {
			m.logger.Warn("存档中存在非法锚点ID", zap.String("raw", raw))
			continue
		}
		if _, ok := m.materialized[id]; ok {
			continue
		}
		if onlyGameObjects {
			switch ref.Kind {
			case object.KindMagnet, object.KindConcept, object.KindTable:
			default:
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (m *Manager) loadChunk(ctx context.Context, ids []uuid.UUID) error {
	anchors, err := m.platform.LoadChunk(ctx, ids)
	if err != nil {
		return errors.Wrapf(err, errors.ErrAnchorLoad, "批次大小 %d", len(ids))
	}

	for _, a := range anchors {
		if err := m.localizeLoaded(ctx, a); err != nil {
			// 定位失败只跳过该锚点，就绪计数会因此卡住，靠日志可定位
			m.mu.Lock()
			m.loadFailures++
			m.mu.Unlock()
			m.logger.Warn("锚点定位失败，跳过",
				zap.String("anchor_id", a.ID.String()),
				zap.Error(err))
			m.platform.Destroy(a.ID)
		}
	}
	return nil
}

func (m *Manager) localizeLoaded(ctx context.Context, a *RuntimeAnchor) error {
	if err := m.platform.WaitLocalized(ctx, a.ID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.data.AnchorData[a.ID.String()]
	if !ok {
		return errors.Newf(errors.ErrAnchorNotFound, "字典中不存在 anchor=%s", a.ID)
	}
	mat := &Materialized{Anchor: a, Ref: ref}
	m.materialized[a.ID] = mat

	if m.onMaterialized != nil {
		// 回调在锁内进行，物化与登记对调用方原子可见
		m.onMaterialized(mat)
	}
	return nil
}

// CreateAnchor 为场景物体创建并持久化锚点。
// 先等待定位（有超时上限），保存成功后写入字典并重写存档；
// 保存失败则销毁运行时锚点，字典不变。
func (m *Manager) CreateAnchor(ctx context.Context, pose Pose, ref experience.AnchorRef) (uuid.UUID, error) {
	a, err := m.platform.Create(ctx, pose)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, errors.ErrAnchorCreate)
	}

	localizeCtx, cancel := context.WithTimeout(ctx, m.cfg.LocalizeTimeout)
	defer cancel()
	if err := m.platform.WaitLocalized(localizeCtx, a.ID); err != nil {
		m.platform.Destroy(a.ID)
		if localizeCtx.Err() != nil {
			return uuid.Nil, errors.Wrapf(err, errors.ErrAnchorLocalizeTimeout,
				"超过 %s", m.cfg.LocalizeTimeout)
		}
		return uuid.Nil, errors.Wrap(err, errors.ErrAnchorLocalize)
	}

	if err := m.platform.Save(ctx, a.ID); err != nil {
		m.platform.Destroy(a.ID)
		return uuid.Nil, errors.Wrap(err, errors.ErrAnchorSave)
	}

	m.mu.Lock()
	m.data.AnchorData[a.ID.String()] = ref
	m.materialized[a.ID] = &Materialized{Anchor: a, Ref: ref}
	data := m.data
	m.mu.Unlock()

	if err := m.store.Save(m.key, data); err != nil {
		// 平台已保存而字典落盘失败，下次启动会出现孤儿锚点，记录后返回
		m.logger.Error("锚点字典落盘失败",
			zap.String("anchor_id", a.ID.String()),
			zap.Error(err))
		return a.ID, err
	}

	m.logger.Info("创建锚点",
		zap.String("anchor_id", a.ID.String()),
		zap.String("kind", string(ref.Kind)))
	return a.ID, nil
}

// EraseAnchors 分批擦除指定锚点。
// 先擦除平台存储，成功后才从字典移除并重写存档；
// 擦除失败的批次字典保持不变。
func (m *Manager) EraseAnchors(ctx context.Context, ids []uuid.UUID) error {
	var erased []uuid.UUID

	var eraseErr error
	for start := 0; start < len(ids); start += m.cfg.EraseChunkSize {
		end := start + m.cfg.EraseChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		if err := m.platform.EraseChunk(ctx, chunk); err != nil {
			eraseErr = errors.Wrapf(err, errors.ErrAnchorErase, "批次 %d-%d", start, end)
			break
		}
		erased = append(erased, chunk...)
	}

	if len(erased) > 0 {
		m.mu.Lock()
		for _, id := range erased {
			delete(m.data.AnchorData, id.String())
			if mat, ok := m.materialized[id]; ok {
				m.platform.Destroy(mat.Anchor.ID)
				delete(m.materialized, id)
			}
		}
		data := m.data
		m.mu.Unlock()

		if err := m.store.Save(m.key, data); err != nil {
			return err
		}
	}

	return eraseErr
}

// EraseByKind 擦除当前体验中指定类型的全部锚点
func (m *Manager) EraseByKind(ctx context.Context, kinds ...object.Kind) error {
	m.mu.Lock()
	var ids []uuid.UUID
	for raw, ref := range m.data.AnchorData {
		for _, k := range kinds {
			if ref.Kind == k {
				if id, err := uuid.Parse(raw); err == nil {
					ids = append(ids, id)
				}
				break
			}
		}
	}
	m.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return m.EraseAnchors(ctx, ids)
}

// MovementStarted 物体开始被搬动：擦除并销毁其锚点。
// 搬动期间物体没有锚点，此窗口内崩溃会丢失该物体，属已知代价。
func (m *Manager) MovementStarted(ctx context.Context, id uuid.UUID) error {
	m.logger.Debug("物体开始移动，擦除锚点", zap.String("anchor_id", id.String()))
	return m.EraseAnchors(ctx, []uuid.UUID{id})
}

// MovementEnded 物体搬动结束：在新位姿重新创建并持久化锚点
func (m *Manager) MovementEnded(ctx context.Context, pose Pose, ref experience.AnchorRef) (uuid.UUID, error) {
	return m.CreateAnchor(ctx, pose, ref)
}

// EraseAllExperiences 擦除所有体验的全部锚点。
// 每个体验独立尝试，失败的体验收进汇总错误，不中断其余体验。
func EraseAllExperiences(ctx context.Context, platform Platform, store experience.Store, cfg Config, logger *zap.Logger) error {
	keys, err := store.Keys()
	if err != nil {
		return err
	}

	var failed []string
	for _, raw := range keys {
		data, loadErr := store.Load(experience.Key{RoomCode: raw})
		if loadErr != nil {
			failed = append(failed, raw+": "+loadErr.Error())
			continue
		}

		var ids []uuid.UUID
		for s := range data.AnchorData {
			if id, parseErr := uuid.Parse(s); parseErr == nil {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

		chunk := cfg.EraseChunkSize
		if chunk <= 0 {
			chunk = DefaultEraseChunkSize
		}
		for start := 0; start < len(ids); start += chunk {
			end := start + chunk
			if end > len(ids) {
				end = len(ids)
			}
			if eraseErr := platform.EraseChunk(ctx, ids[start:end]); eraseErr != nil {
				failed = append(failed, raw+": "+eraseErr.Error())
				break
			}
		}
		logger.Info("擦除体验锚点",
			zap.String("experience_key", raw),
			zap.Int("anchor_count", len(ids)))
	}

	if err := store.DeleteAll(); err != nil {
		failed = append(failed, "delete_all: "+err.Error())
	}

	if len(failed) > 0 {
		return errors.New(errors.ErrAnchorErase, strings.Join(failed, "; "))
	}
	return nil
}
