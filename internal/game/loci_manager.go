package game

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/loci-palace/internal/anchor"
	"github.com/wfunc/loci-palace/internal/errors"
	"github.com/wfunc/loci-palace/internal/experience"
	"github.com/wfunc/loci-palace/internal/geometry"
	"github.com/wfunc/loci-palace/internal/object"
	"github.com/wfunc/loci-palace/internal/room"
)

// LociConfig 记忆宫殿一局的参数
type LociConfig struct {
	MagnetCount         int             // 本局磁珠配额N
	MagnetBounds        geometry.Bounds // 磁珠包围盒（尺寸）
	AttachDistance      float64         // 概念吸附阈值（米）
	TableClearance      float64         // 桌面出生点排斥半径（米）
	MainPhaseDuration   time.Duration   // 主游戏固定时长
	WrongDetachDelay    time.Duration   // 错放概念脱落延迟
	IdlePenaltyInterval float64         // 怠惰扣分间隔（秒）
	UseRoomAreaTime     bool            // 用房间面积代替磁珠距离估算时长
	StandingsPageSize   int             // 排行榜每页条数
}

// DefaultLociConfig 默认一局参数
func DefaultLociConfig() LociConfig {
	return LociConfig{
		MagnetCount:         8,
		MagnetBounds:        geometry.NewBounds(geometry.Vec3{}, geometry.Vec3{X: 0.1, Y: 0.1, Z: 0.1}),
		AttachDistance:      0.5,
		TableClearance:      0.5,
		MainPhaseDuration:   80 * time.Second,
		WrongDetachDelay:    1300 * time.Millisecond,
		IdlePenaltyInterval: 3,
		StandingsPageSize:   6,
	}
}

// Standings 排行榜外部接口，内核只追加成绩并整体保存
type Standings interface {
	Load() (map[string]int, error)
	Save(map[string]int) error
}

// StandingsEntry 排行榜单条
type StandingsEntry struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// LociManagerDeps 编排器依赖注入
type LociManagerDeps struct {
	SessionID string
	UserID    string
	Room      *room.Room
	Registry  *object.Registry
	Anchors   *anchor.Manager
	Placer    *Placer
	Scheduler *Scheduler
	Dialogs   *DialogCenter
	Bus       *EventBus
	Standings Standings
	Clock     Clock
	RNG       *rand.Rand
	Logger    *zap.Logger
}

// LociManager 记忆宫殿一局的编排器。
// 驱动阶段状态机、摆放与计分、锚点生命周期，所有变更在单把锁下串行化。
// 导出方法加锁；小写方法和定时器以外的回调默认调用方已持锁。
type LociManager struct {
	mu sync.Mutex

	cfg    LociConfig
	deps   LociManagerDeps
	phase  *PhaseMachine
	scores *ScoreKeeper
	logger *zap.Logger

	// 布置进度
	leftMagnetToSpawn int
	// rightMagnet 概念布置阶段确定的正确归属
	rightMagnet map[object.ConceptID]object.MagnetID
	playUnlock  bool

	// 句柄到锚点的映射，移动/改挂时先抹掉旧锚点
	magnetAnchor  map[object.MagnetID]uuid.UUID
	conceptAnchor map[object.ConceptID]uuid.UUID

	// 游玩状态
	gameTime      float64
	indexToFree   int
	idleTicks     map[object.MagnetID]int
	endedByTime   bool
	ended         bool
	userPos       geometry.Vec3
	userForward   geometry.Vec3
	outOfRoom     bool
	standingsOpen bool
}

// NewLociManager 创建编排器
func NewLociManager(cfg LociConfig, deps LociManagerDeps) *LociManager {
	return &LociManager{
		cfg:               cfg,
		deps:              deps,
		phase:             NewPhaseMachine(deps.SessionID, deps.Logger),
		scores:            NewScoreKeeper(cfg.MagnetCount),
		logger:            deps.Logger,
		leftMagnetToSpawn: cfg.MagnetCount,
		rightMagnet:       make(map[object.ConceptID]object.MagnetID),
		magnetAnchor:      make(map[object.MagnetID]uuid.UUID),
		conceptAnchor:     make(map[object.ConceptID]uuid.UUID),
		idleTicks:         make(map[object.MagnetID]int),
		userForward:       geometry.Vec3{X: 0, Y: 0, Z: 1},
	}
}

// Start 启动一局：校验房间、加载锚点字典并按存档恢复阶段
func (lm *LociManager) Start(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if err := room.Validate(lm.deps.Room, lm.userPos); err != nil {
		lm.deps.Dialogs.Show(ctx, &Dialog{
			Kind:  DialogInvalidRoom,
			Title: "房间不满足条件",
			Body:  err.Error(),
		})
		return err
	}

	if err := lm.deps.Anchors.LoadDictionary(); err != nil {
		return err
	}
	lm.deps.Anchors.OnMaterialized(lm.onAnchorMaterialized)
	if err := lm.deps.Anchors.LoadCurrentExperience(ctx, true); err != nil {
		lm.logger.Warn("体验锚点加载存在失败，已跳过失败项", zap.Error(err))
	}

	lm.reconcileRestored()
	lm.resumePhase()
	lm.publish(EventPhaseChanged, map[string]interface{}{
		"phase":            string(lm.phase.GetPhase()),
		"available_phases": lm.availablePhasesLocked(),
	})
	return nil
}

// onAnchorMaterialized 存档锚点落地后恢复场景物体。
// 仅在 Start 的加载流程里被锚点管理器回调，此时锁已持有。
func (lm *LociManager) onAnchorMaterialized(m *anchor.Materialized) {
	switch m.Ref.Kind {
	case object.KindMagnet:
		magnetID := object.MagnetID(m.Anchor.ID.String())
		_ = lm.deps.Registry.RestoreMagnet(&object.MagnetSlot{
			ID:                magnetID,
			Position:          m.Anchor.Pose.Position,
			Bounds:            lm.cfg.MagnetBounds,
			OutsideTableSpace: lm.outsideTableSpace(m.Anchor.Pose.Position),
		})
		lm.magnetAnchor[magnetID] = m.Anchor.ID
	case object.KindConcept:
		id := m.Ref.ConceptID
		_ = lm.deps.Registry.EnableConcept(id, m.Anchor.Pose.Position)
		if c, ok := lm.deps.Registry.GetConcept(id); ok {
			c.Rotation = m.Anchor.Pose.Rotation
		}
		lm.conceptAnchor[id] = m.Anchor.ID
	}
}

// reconcileRestored 锚点落地完成后再做概念归属，
// 避免概念锚点先于磁珠锚点落地时漏挂
func (lm *LociManager) reconcileRestored() {
	for _, c := range lm.deps.Registry.ConceptsInScene() {
		// 首次摆放时记下的旋转优先于锚点位姿
		if rot, ok := lm.deps.Anchors.ConceptRotation(c.ID); ok {
			c.Rotation = rot
		}
		if _, attached := lm.deps.Registry.MagnetOfConcept(c.ID); attached {
			continue
		}
		magnet, ok := lm.deps.Registry.NearestFreeMagnet(c.Position, lm.cfg.AttachDistance)
		if !ok {
			continue
		}
		if _, _, err := lm.deps.Registry.Attach(magnet.ID, c.ID); err == nil {
			lm.rightMagnet[c.ID] = magnet.ID
		}
	}
}

// resumePhase 按恢复的物体数量推导初始阶段
func (lm *LociManager) resumePhase() {
	magnets := lm.deps.Registry.MagnetCount()
	attached := magnets - lm.deps.Registry.FreeMagnetCount()
	total := lm.deps.Registry.ConceptCount()

	lm.leftMagnetToSpawn = lm.cfg.MagnetCount - magnets

	switch {
	case magnets >= lm.cfg.MagnetCount && total > 0 && attached >= total:
		// 磁珠和概念都已齐备：概念布置入场，主游戏解锁
		lm.playUnlock = true
		lm.phase.SetPhase(PhaseConceptDistribution)
	case magnets >= lm.cfg.MagnetCount:
		lm.phase.SetPhase(PhaseConceptDistribution)
	default:
		lm.phase.SetPhase(PhaseMagnetDistribution)
	}

	lm.logger.Info("恢复阶段",
		zap.String("session_id", lm.deps.SessionID),
		zap.String("phase", string(lm.phase.GetPhase())),
		zap.Int("magnets", magnets),
		zap.Int("attached", attached))
}

// Phase 当前阶段
func (lm *LociManager) Phase() Phase {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.phase.GetPhase()
}

// Score 当前得分
func (lm *LociManager) Score() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.scores.Score()
}

// Streak 当前连击
func (lm *LociManager) Streak() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.scores.Streak()
}

// GameTime 本局时长预算（秒），进入主游戏时确定
func (lm *LociManager) GameTime() float64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.gameTime
}

// EndedByTimeout 本局是否因超时结束
func (lm *LociManager) EndedByTimeout() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.endedByTime
}

// AvailablePhases 当前可切换的阶段集合（含当前阶段）
func (lm *LociManager) AvailablePhases() []Phase {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.availablePhasesLocked()
}

// availablePhasesLocked 按规则重算可用阶段
func (lm *LociManager) availablePhasesLocked() []Phase {
	current := lm.phase.GetPhase()
	avail := []Phase{current}
	add := func(p Phase) {
		for _, a := range avail {
			if a == p {
				return
			}
		}
		avail = append(avail, p)
	}

	switch current {
	case PhaseMagnetDistribution:
		if lm.magnetsDistributed() {
			add(PhaseConceptDistribution)
		}
	case PhaseConceptDistribution:
		add(PhaseMagnetDistribution)
		if lm.conceptsDistributed() {
			lm.playUnlock = true
		}
		if lm.playUnlock {
			add(PhasePlayingMain)
			add(PhaseMemorize)
		}
	case PhasePlayingMain, PhasePlayingFinal, PhaseEnded:
		add(PhaseMagnetDistribution)
		add(PhaseConceptDistribution)
	case PhaseMemorize:
		add(PhaseConceptDistribution)
	}
	return avail
}

// magnetsDistributed 磁珠配额用尽且全部离开桌面排斥区
func (lm *LociManager) magnetsDistributed() bool {
	if lm.leftMagnetToSpawn > 0 {
		return false
	}
	for _, m := range lm.deps.Registry.Magnets() {
		if !m.OutsideTableSpace {
			return false
		}
	}
	return lm.deps.Registry.MagnetCount() >= lm.cfg.MagnetCount
}

// conceptsDistributed 概念配额用尽且每个磁珠都有归属
func (lm *LociManager) conceptsDistributed() bool {
	if lm.leftConceptToSpawn() > 0 {
		return false
	}
	return lm.deps.Registry.FreeMagnetCount() == 0
}

// leftConceptToSpawn 尚未进入场景的概念数
func (lm *LociManager) leftConceptToSpawn() int {
	inScene := len(lm.deps.Registry.ConceptsInScene())
	return lm.deps.Registry.ConceptCount() - inScene
}

// ChangePhase 切换阶段。目标必须在可用集合内；
// 切换前取消全部定时任务，防止旧阶段的定时器在新阶段触发。
func (lm *LociManager) ChangePhase(ctx context.Context, target Phase) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	current := lm.phase.GetPhase()
	if target == current {
		return nil
	}

	allowed := false
	for _, p := range lm.availablePhasesLocked() {
		if p == target {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf(errors.ErrPhaseLocked, "阶段 %s 当前不可进入", target)
	}

	event, ok := lm.phaseEvent(current, target)
	if !ok {
		return errors.Newf(errors.ErrPhaseInvalid, "无法从 %s 切换到 %s", current, target)
	}

	lm.deps.Scheduler.CancelAll()

	if err := lm.phase.Trigger(ctx, event); err != nil {
		return errors.Wrap(err, errors.ErrPhaseInvalid, "阶段切换失败")
	}

	lm.enterPhase(ctx, current, target)
	lm.publish(EventPhaseChanged, map[string]interface{}{
		"phase":            string(target),
		"available_phases": lm.availablePhasesLocked(),
	})
	return nil
}

// phaseEvent 阶段对映射到状态机事件
func (lm *LociManager) phaseEvent(from, to Phase) (string, bool) {
	switch {
	case to == PhaseMagnetDistribution:
		return EventBackToMagnets, from != PhaseMemorize
	case to == PhaseConceptDistribution && from == PhaseMagnetDistribution:
		return EventFinishMagnets, true
	case to == PhaseConceptDistribution && from == PhasePlayingMain:
		return EventBackToConcepts, true
	case to == PhaseConceptDistribution && from == PhasePlayingFinal:
		return EventBackToConcepts, true
	case to == PhaseConceptDistribution && from == PhaseEnded:
		return EventRestart, true
	case to == PhaseConceptDistribution && from == PhaseMemorize:
		return EventEndReview, true
	case to == PhasePlayingMain && from == PhaseConceptDistribution:
		return EventStartMain, true
	case to == PhaseMemorize && from == PhaseConceptDistribution:
		return EventReview, true
	}
	return "", false
}

// enterPhase 阶段入场副作用
func (lm *LociManager) enterPhase(ctx context.Context, from, to Phase) {
	switch to {
	case PhaseMagnetDistribution:
		lm.fullReset(ctx)
	case PhaseConceptDistribution:
		if from == PhasePlayingMain || from == PhasePlayingFinal || from == PhaseEnded {
			lm.partialReset(ctx)
		}
	case PhasePlayingMain:
		lm.startMainPhase(ctx)
	}
}

// fullReset 回到磁珠布置：清空磁珠和概念的锚点与归属
func (lm *LociManager) fullReset(ctx context.Context) {
	if err := lm.deps.Anchors.EraseByKind(ctx, object.KindMagnet, object.KindConcept); err != nil {
		lm.logger.Warn("清除锚点失败", zap.Error(err))
	}

	for _, m := range lm.deps.Registry.Magnets() {
		lm.deps.Registry.RemoveMagnet(m.ID)
	}
	for _, c := range lm.deps.Registry.ConceptsInScene() {
		_ = lm.deps.Registry.DisableConcept(c.ID)
	}

	lm.rightMagnet = make(map[object.ConceptID]object.MagnetID)
	lm.magnetAnchor = make(map[object.MagnetID]uuid.UUID)
	lm.conceptAnchor = make(map[object.ConceptID]uuid.UUID)
	lm.idleTicks = make(map[object.MagnetID]int)
	lm.leftMagnetToSpawn = lm.cfg.MagnetCount
	lm.playUnlock = false
	lm.ended = false
	lm.endedByTime = false
	lm.indexToFree = 0
	lm.scores.Reset()
}

// partialReset 回到概念布置：只清概念锚点，保留磁珠与归属关系
func (lm *LociManager) partialReset(ctx context.Context) {
	if err := lm.deps.Anchors.EraseByKind(ctx, object.KindConcept); err != nil {
		lm.logger.Warn("清除概念锚点失败", zap.Error(err))
	}
	lm.conceptAnchor = make(map[object.ConceptID]uuid.UUID)
	lm.ended = false
	lm.endedByTime = false
	lm.indexToFree = 0
	lm.idleTicks = make(map[object.MagnetID]int)
	lm.scores.Reset()
}

// startMainPhase 主游戏入场：确定时长预算、释放首个磁珠、挂定时器
func (lm *LociManager) startMainPhase(ctx context.Context) {
	if lm.cfg.UseRoomAreaTime {
		lm.gameTime = GameTimeByArea(lm.deps.Room.Area(), lm.cfg.MagnetCount)
	} else {
		lm.gameTime = GameTime(lm.averageMagnetDistance(), lm.cfg.MagnetCount)
	}
	lm.scores.Reset()
	lm.indexToFree = 0
	lm.idleTicks = make(map[object.MagnetID]int)
	lm.ended = false
	lm.endedByTime = false

	// 释放顺序从离玩家最近的磁珠开始，沿上传顺序推进
	if m, ok := lm.deps.Registry.NearestMagnet(lm.userPos, math.Inf(1)); ok {
		if err := lm.deps.Registry.ReorderMagnetsFromFirst(m.ID); err != nil {
			lm.logger.Warn("重排磁珠释放顺序失败", zap.Error(err))
		}
	}

	// 先释放一个磁珠，给玩家第一个可归位的概念
	lm.releaseMagnets(ctx, 1, false)

	lm.deps.Scheduler.Schedule(ctx, TimerMainPhase, lm.cfg.MainPhaseDuration, func() {
		lm.onMainTimeout(ctx)
	})

	lm.logger.Info("主游戏开始",
		zap.String("session_id", lm.deps.SessionID),
		zap.Float64("game_time", lm.gameTime))
}

// averageMagnetDistance 磁珠两两间平均距离
func (lm *LociManager) averageMagnetDistance() float64 {
	magnets := lm.deps.Registry.Magnets()
	if len(magnets) < 2 {
		return 0
	}
	sum := 0.0
	pairs := 0
	for i := 0; i < len(magnets); i++ {
		for j := i + 1; j < len(magnets); j++ {
			sum += geometry.Distance(magnets[i].Position, magnets[j].Position)
			pairs++
		}
	}
	return sum / float64(pairs)
}

// onMainTimeout 主游戏计时结束，自动进入终局。
// 定时器回调在自己的goroutine里触达，这里自行加锁。
func (lm *LociManager) onMainTimeout(ctx context.Context) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.phase.GetPhase() != PhasePlayingMain {
		return
	}

	lm.deps.Scheduler.CancelAll()
	if err := lm.phase.Trigger(ctx, EventMainTimeout); err != nil {
		lm.logger.Error("进入终局失败", zap.Error(err))
		return
	}

	finalDuration := time.Duration(FinalPhaseSeconds(lm.gameTime) * float64(time.Second))
	lm.deps.Scheduler.Schedule(ctx, TimerFinalPhase, finalDuration, func() {
		lm.onFinalTimeout(ctx)
	})

	lm.publish(EventPhaseChanged, map[string]interface{}{
		"phase":            string(PhasePlayingFinal),
		"available_phases": lm.availablePhasesLocked(),
	})
}

// onFinalTimeout 终局计时结束
func (lm *LociManager) onFinalTimeout(ctx context.Context) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.phase.GetPhase() != PhasePlayingFinal {
		return
	}
	lm.endGame(ctx, true)
}

// endGame 结束本局，byTimeout 区分超时结束与完成结束
func (lm *LociManager) endGame(ctx context.Context, byTimeout bool) {
	if lm.ended {
		return
	}
	lm.deps.Scheduler.CancelAll()
	lm.endedByTime = byTimeout
	lm.ended = true

	event := EventFinalTimeout
	if !byTimeout {
		bonus := lm.scores.FinalBonus()
		lm.publish(EventScoreChanged, map[string]interface{}{
			"score": lm.scores.Score(),
			"bonus": bonus,
		})
		event = EventFinishFinal
	}
	if err := lm.phase.Trigger(ctx, event); err != nil {
		lm.logger.Error("结束本局失败", zap.Error(err))
		return
	}

	lm.recordStanding()

	lm.publish(EventGameEnded, map[string]interface{}{
		"score":            lm.scores.Score(),
		"ended_by_timeout": byTimeout,
	})
	lm.publish(EventPhaseChanged, map[string]interface{}{
		"phase":            string(PhaseEnded),
		"available_phases": lm.availablePhasesLocked(),
	})
}

// recordStanding 成绩追加进排行榜并整体保存
func (lm *LociManager) recordStanding() {
	if lm.deps.Standings == nil {
		return
	}
	standings, err := lm.deps.Standings.Load()
	if err != nil {
		lm.logger.Error("读取排行榜失败", zap.Error(err))
		return
	}
	if standings == nil {
		standings = make(map[string]int)
	}
	if lm.scores.Score() > standings[lm.deps.UserID] {
		standings[lm.deps.UserID] = lm.scores.Score()
	}
	if err := lm.deps.Standings.Save(standings); err != nil {
		lm.logger.Error("保存排行榜失败", zap.Error(err))
	}
}

// CanSpawnMagnet 磁珠生成条件：配额未用尽且已生成的磁珠都离开了桌面排斥区
func (lm *LociManager) CanSpawnMagnet() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.canSpawnMagnetLocked()
}

func (lm *LociManager) canSpawnMagnetLocked() bool {
	if lm.phase.GetPhase() != PhaseMagnetDistribution || lm.leftMagnetToSpawn <= 0 {
		return false
	}
	for _, m := range lm.deps.Registry.Magnets() {
		if !m.OutsideTableSpace {
			return false
		}
	}
	return true
}

// SpawnMagnet 在桌面出生点生成下一个磁珠
func (lm *LociManager) SpawnMagnet() (*object.MagnetSlot, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !lm.canSpawnMagnetLocked() {
		return nil, errors.New(errors.ErrSpawnRejected, "磁珠生成条件未满足")
	}

	spawnPoint := lm.deps.Room.Table.TopPoint()
	slot := lm.deps.Registry.NewMagnet(spawnPoint, lm.cfg.MagnetBounds)
	lm.leftMagnetToSpawn--

	lm.publish(EventMagnetSpawned, map[string]interface{}{
		"magnet_id": string(slot.ID),
		"left":      lm.leftMagnetToSpawn,
	})
	return slot, nil
}

// outsideTableSpace 位置是否在桌面出生点排斥半径之外
func (lm *LociManager) outsideTableSpace(pos geometry.Vec3) bool {
	return geometry.Distance(pos, lm.deps.Room.Table.TopPoint()) >= lm.cfg.TableClearance
}

// MagnetMoveStarted 玩家拿起磁珠：先抹掉旧锚点
func (lm *LociManager) MagnetMoveStarted(ctx context.Context, id object.MagnetID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, ok := lm.deps.Registry.GetMagnet(id); !ok {
		return errors.Newf(errors.ErrMagnetNotFound, "magnet_id=%s", id)
	}

	if anchorID, ok := lm.magnetAnchor[id]; ok {
		if err := lm.deps.Anchors.MovementStarted(ctx, anchorID); err != nil {
			lm.logger.Warn("移动前清除锚点失败", zap.Error(err))
		}
		delete(lm.magnetAnchor, id)
	}
	return nil
}

// MagnetMoveEnded 玩家放下磁珠：更新位置并重建锚点
func (lm *LociManager) MagnetMoveEnded(ctx context.Context, id object.MagnetID, pos geometry.Vec3) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	m, ok := lm.deps.Registry.GetMagnet(id)
	if !ok {
		return errors.Newf(errors.ErrMagnetNotFound, "magnet_id=%s", id)
	}

	m.Position = pos
	m.OutsideTableSpace = lm.outsideTableSpace(pos)

	anchorID, err := lm.deps.Anchors.MovementEnded(ctx,
		anchor.Pose{Position: pos, Rotation: geometry.IdentityQuat()},
		experience.AnchorRef{Kind: object.KindMagnet})
	if err != nil {
		// 锚点持久化失败不阻断布置，物体仍留在场景里
		lm.logger.Warn("磁珠锚点保存失败", zap.Error(err))
		return nil
	}
	lm.magnetAnchor[id] = anchorID
	return nil
}

// CanSpawnConcept 概念生成条件：空闲磁珠数恰好等于剩余概念数且大于零
func (lm *LociManager) CanSpawnConcept() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.canSpawnConceptLocked()
}

func (lm *LociManager) canSpawnConceptLocked() bool {
	phase := lm.phase.GetPhase()
	if phase != PhaseConceptDistribution && phase != PhasePlayingMain && phase != PhasePlayingFinal {
		return false
	}
	left := lm.leftConceptToSpawn()
	return left > 0 && lm.deps.Registry.FreeMagnetCount() == left
}

// SpawnConcept 按固定顺序生成下一个概念
func (lm *LociManager) SpawnConcept() (*object.Concept, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.spawnConceptLocked()
}

func (lm *LociManager) spawnConceptLocked() (*object.Concept, error) {
	if !lm.canSpawnConceptLocked() {
		return nil, errors.New(errors.ErrSpawnRejected, "概念生成条件未满足")
	}

	c := lm.deps.Registry.SpawnNextConcept(lm.deps.Room.Table.TopPoint())
	if c == nil {
		return nil, errors.New(errors.ErrSpawnRejected, "概念已全部生成")
	}

	lm.publish(EventConceptSpawned, map[string]interface{}{
		"concept_id": string(c.ID),
		"kind":       string(c.Kind),
	})
	return c, nil
}

// PickConcept 玩家拿起概念
func (lm *LociManager) PickConcept(id object.ConceptID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	c, ok := lm.deps.Registry.GetConcept(id)
	if !ok {
		return errors.Newf(errors.ErrConceptNotFound, "concept_id=%s", id)
	}
	c.Picked = true
	if m, found := lm.deps.Registry.MagnetOfConcept(id); found {
		m.ConceptPicked = true
	}
	return nil
}

// ReleaseConcept 玩家松手放下概念，行为按阶段分派。
// rot 为放下时的朝向，零值表示客户端未上报、保持原朝向。
func (lm *LociManager) ReleaseConcept(ctx context.Context, id object.ConceptID, pos geometry.Vec3, rot geometry.Quat) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	c, ok := lm.deps.Registry.GetConcept(id)
	if !ok {
		return errors.Newf(errors.ErrConceptNotFound, "concept_id=%s", id)
	}
	c.Picked = false
	c.Position = pos
	if rot != (geometry.Quat{}) {
		c.Rotation = rot
	}
	if m, found := lm.deps.Registry.MagnetOfConcept(id); found {
		m.ConceptPicked = false
	}

	switch lm.phase.GetPhase() {
	case PhaseConceptDistribution:
		return lm.associateConcept(ctx, c, pos)
	case PhasePlayingMain, PhasePlayingFinal:
		return lm.playConcept(ctx, c, pos)
	default:
		return nil
	}
}

// associateConcept 概念布置：吸附最近磁珠并记录正确归属
func (lm *LociManager) associateConcept(ctx context.Context, c *object.Concept, pos geometry.Vec3) error {
	magnet, found := lm.deps.Registry.NearestMagnet(pos, lm.cfg.AttachDistance)
	if !found {
		// 附近没有磁珠，概念独立存在并单独持久化
		lm.persistConceptAnchor(ctx, c)
		return nil
	}

	// 原挂接的磁珠先解开
	if prev, ok := lm.deps.Registry.MagnetOfConcept(c.ID); ok {
		_, _ = lm.deps.Registry.Detach(prev.ID)
		delete(lm.rightMagnet, c.ID)
	}

	evicted, swapped, err := lm.deps.Registry.Attach(magnet.ID, c.ID)
	if err != nil {
		return err
	}
	lm.rightMagnet[c.ID] = magnet.ID

	if swapped {
		// 被顶替的概念丢到房间内的随机落地点
		delete(lm.rightMagnet, evicted)
		lm.dropEvicted(ctx, evicted)
		lm.publish(EventConceptSwapped, map[string]interface{}{
			"concept_id": string(c.ID),
			"evicted_id": string(evicted),
			"magnet_id":  string(magnet.ID),
		})
	} else {
		lm.publish(EventConceptAttached, map[string]interface{}{
			"concept_id": string(c.ID),
			"magnet_id":  string(magnet.ID),
		})
	}

	lm.persistConceptAnchor(ctx, c)

	// 不变式仍成立时立刻生成下一个概念
	if lm.canSpawnConceptLocked() {
		if _, err := lm.spawnConceptLocked(); err != nil {
			lm.logger.Warn("接续生成概念失败", zap.Error(err))
		}
	}
	return nil
}

// persistConceptAnchor 概念锚点持久化：先抹旧锚点再建新的，失败只记日志
func (lm *LociManager) persistConceptAnchor(ctx context.Context, c *object.Concept) {
	if old, ok := lm.conceptAnchor[c.ID]; ok {
		if err := lm.deps.Anchors.EraseAnchors(ctx, []uuid.UUID{old}); err != nil {
			lm.logger.Warn("清除旧概念锚点失败", zap.Error(err))
		}
		delete(lm.conceptAnchor, c.ID)
	}

	anchorID, err := lm.deps.Anchors.CreateAnchor(ctx,
		anchor.Pose{Position: c.Position, Rotation: c.Rotation},
		experience.AnchorRef{Kind: object.KindConcept, ConceptID: c.ID})
	if err != nil {
		lm.logger.Warn("概念锚点保存失败",
			zap.String("concept_id", string(c.ID)),
			zap.Error(err))
		return
	}
	lm.conceptAnchor[c.ID] = anchorID

	// 立体概念首次落位的朝向记进存档，之后恢复时沿用
	if c.Kind == object.ConceptObject3D {
		if err := lm.deps.Anchors.SaveConceptRotation(c.ID, c.Rotation); err != nil {
			lm.logger.Warn("保存概念朝向失败",
				zap.String("concept_id", string(c.ID)),
				zap.Error(err))
		}
	}
}

// scatterConcept 概念送往一个新的随机落点
func (lm *LociManager) scatterConcept(ctx context.Context, id object.ConceptID) {
	c, ok := lm.deps.Registry.GetConcept(id)
	if !ok {
		return
	}
	spot := lm.deps.Placer.FindSpot(lm.userPos, lm.userForward, c.Bounds, lm.occupiedPositions())
	c.Position = spot.Position
	lm.persistConceptAnchor(ctx, c)
}

// dropEvicted 被顶替的概念不按视野搜索，直接落到房间内随机地点
func (lm *LociManager) dropEvicted(ctx context.Context, id object.ConceptID) {
	c, ok := lm.deps.Registry.GetConcept(id)
	if !ok {
		return
	}
	c.Position = lm.deps.Placer.RandomFloorPosition()
	lm.persistConceptAnchor(ctx, c)
}

// occupiedPositions 已占用磁珠及其概念的位置，摆放搜索的排斥点
func (lm *LociManager) occupiedPositions() []geometry.Vec3 {
	var positions []geometry.Vec3
	for _, m := range lm.deps.Registry.Magnets() {
		if m.IsFree() {
			continue
		}
		positions = append(positions, m.Position)
		if c, ok := lm.deps.Registry.GetConcept(m.AttachedConcept); ok {
			positions = append(positions, c.Position)
		}
	}
	return positions
}

// playConcept 游玩阶段：归位判定与计分
func (lm *LociManager) playConcept(ctx context.Context, c *object.Concept, pos geometry.Vec3) error {
	magnet, found := lm.deps.Registry.NearestFreeMagnet(pos, lm.cfg.AttachDistance)
	if !found {
		return nil
	}

	if lm.rightMagnet[c.ID] == magnet.ID {
		return lm.correctPlacement(ctx, c, magnet)
	}
	return lm.wrongPlacement(ctx, c, magnet)
}

// correctPlacement 归位正确：结算奖励并释放更多磁珠
func (lm *LociManager) correctPlacement(ctx context.Context, c *object.Concept, magnet *object.MagnetSlot) error {
	if _, _, err := lm.deps.Registry.Attach(magnet.ID, c.ID); err != nil {
		return err
	}
	delete(lm.idleTicks, magnet.ID)

	reward := lm.scores.CorrectPlacement()
	lm.publish(EventScoreChanged, map[string]interface{}{
		"score":      lm.scores.Score(),
		"streak":     lm.scores.Streak(),
		"points":     reward.Points,
		"multiplier": reward.Multiplier,
	})

	if lm.phase.GetPhase() == PhasePlayingMain {
		lm.releaseMagnets(ctx, reward.MagnetsToFree, reward.RandomRelease)
	}

	lm.checkCompletion(ctx)
	return nil
}

// wrongPlacement 归位错误：扣分并延迟自动脱落
func (lm *LociManager) wrongPlacement(ctx context.Context, c *object.Concept, magnet *object.MagnetSlot) error {
	if _, _, err := lm.deps.Registry.Attach(magnet.ID, c.ID); err != nil {
		return err
	}

	lm.scores.WrongPlacement()
	lm.publish(EventWrongPlacement, map[string]interface{}{
		"concept_id": string(c.ID),
		"magnet_id":  string(magnet.ID),
		"score":      lm.scores.Score(),
		"streak":     lm.scores.Streak(),
	})

	magnetID := magnet.ID
	conceptID := c.ID
	lm.deps.Scheduler.Schedule(ctx, TimerWrongDetach+":"+string(magnetID), lm.cfg.WrongDetachDelay, func() {
		lm.detachWrong(ctx, magnetID, conceptID)
	})
	return nil
}

// detachWrong 错放宽限期后自动脱落到随机落点，定时器回调自行加锁
func (lm *LociManager) detachWrong(ctx context.Context, magnetID object.MagnetID, conceptID object.ConceptID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	m, ok := lm.deps.Registry.GetMagnet(magnetID)
	if !ok || m.AttachedConcept != conceptID {
		return
	}
	if _, err := lm.deps.Registry.Detach(magnetID); err != nil {
		return
	}
	lm.scatterConcept(ctx, conceptID)
	lm.publish(EventConceptDetached, map[string]interface{}{
		"concept_id": string(conceptID),
		"magnet_id":  string(magnetID),
	})
}

// releaseMagnets 释放磁珠直到空闲数达到 target：解开其概念送往随机落点。
// 已空闲的磁珠计入目标，只补足差额。
// 低连击时沿上传顺序环形推进，高连击后改为均匀随机挑选。
func (lm *LociManager) releaseMagnets(ctx context.Context, target int, random bool) {
	magnets := lm.deps.Registry.Magnets()
	if len(magnets) == 0 {
		return
	}

	need := target - len(lm.deps.Registry.FreeMagnets())
	if need <= 0 {
		return
	}

	released := 0
	if random {
		// 高连击：随机挑占用中的磁珠
		candidates := make([]*object.MagnetSlot, 0, len(magnets))
		for _, m := range magnets {
			if !m.IsFree() {
				candidates = append(candidates, m)
			}
		}
		for released < need && len(candidates) > 0 {
			i := lm.deps.RNG.Intn(len(candidates))
			lm.releaseOne(ctx, candidates[i])
			candidates = append(candidates[:i], candidates[i+1:]...)
			released++
		}
	} else {
		// 低连击：沿上传顺序环形推进
		for tried := 0; released < need && tried < len(magnets); tried++ {
			m := magnets[lm.indexToFree%len(magnets)]
			lm.indexToFree++
			if !m.IsFree() {
				lm.releaseOne(ctx, m)
				released++
			}
		}
	}
}

// releaseOne 释放单个磁珠
func (lm *LociManager) releaseOne(ctx context.Context, m *object.MagnetSlot) {
	conceptID, err := lm.deps.Registry.Detach(m.ID)
	if err != nil || conceptID == "" {
		return
	}
	lm.scatterConcept(ctx, conceptID)
	lm.publish(EventMagnetReleased, map[string]interface{}{
		"magnet_id":  string(m.ID),
		"concept_id": string(conceptID),
	})
}

// checkCompletion 终局阶段所有概念归位即完成
func (lm *LociManager) checkCompletion(ctx context.Context) {
	if lm.phase.GetPhase() != PhasePlayingFinal {
		return
	}
	for conceptID, magnetID := range lm.rightMagnet {
		m, ok := lm.deps.Registry.GetMagnet(magnetID)
		if !ok || m.AttachedConcept != conceptID {
			return
		}
	}
	lm.endGame(ctx, false)
}

// roomMonitorInterval 出房间期间周期性重发提醒的间隔
const roomMonitorInterval = 2 * time.Second

// UpdateUserPose 每帧更新用户位姿，驱动出房间监测
func (lm *LociManager) UpdateUserPose(ctx context.Context, pos, forward geometry.Vec3) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.userPos = pos
	if forward.Length() > 0 {
		lm.userForward = forward
	}

	inside := lm.deps.Room.ContainsPoint(pos)
	if !inside {
		if !lm.outOfRoom {
			lm.outOfRoom = true
			lm.showOutOfRoomDialog(ctx)
		}
		// 人在房间外时对话框会超时自动关，监测任务负责重新挂出来；
		// 阶段切换的 CancelAll 会撤掉它，这里按需补挂
		if !lm.deps.Scheduler.IsActive(TimerRoomMonitor) {
			lm.deps.Scheduler.ScheduleRepeating(ctx, TimerRoomMonitor, roomMonitorInterval, func() {
				lm.onRoomMonitor(ctx)
			})
		}
	} else if lm.outOfRoom {
		lm.outOfRoom = false
		lm.deps.Scheduler.Cancel(TimerRoomMonitor)
		lm.deps.Dialogs.Dismiss()
	}
}

func (lm *LociManager) showOutOfRoomDialog(ctx context.Context) {
	lm.deps.Dialogs.Show(ctx, &Dialog{
		Kind:  DialogOutOfRoom,
		Title: "已离开房间",
		Body:  "请回到扫描过的房间继续",
	})
}

// onRoomMonitor 出房间监测，定时器回调自行加锁
func (lm *LociManager) onRoomMonitor(ctx context.Context) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !lm.outOfRoom {
		return
	}
	if lm.deps.Dialogs.Current() == nil {
		lm.showOutOfRoomDialog(ctx)
	}
}

// OutOfRoom 用户当前是否在房间外
func (lm *LociManager) OutOfRoom() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.outOfRoom
}

// Tick 每帧推进：主游戏阶段累计磁珠空闲时间、怠惰扣分与孤立概念转向
func (lm *LociManager) Tick(ctx context.Context, delta float64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.phase.GetPhase() != PhasePlayingMain {
		return
	}

	threshold := IdleThresholdSeconds(lm.gameTime)
	for _, m := range lm.deps.Registry.Magnets() {
		if !m.IsFree() {
			continue
		}
		m.FreeTime += delta
		if m.FreeTime < threshold {
			continue
		}

		// 超过阈值后每持续一个间隔扣1分
		fired := int((m.FreeTime - threshold) / lm.cfg.IdlePenaltyInterval)
		if fired > lm.idleTicks[m.ID] {
			for i := lm.idleTicks[m.ID]; i < fired; i++ {
				lm.scores.IdlePenalty()
			}
			lm.idleTicks[m.ID] = fired
			lm.publish(EventIdlePenalty, map[string]interface{}{
				"magnet_id": string(m.ID),
				"score":     lm.scores.Score(),
			})
		}
	}

	lm.rotateOrphans(delta)
}

// rotateOrphans 孤立概念缓慢转向。
// 概念被晾着的时间超过时长预算的两倍才开始转，提醒玩家它还没归位。
func (lm *LociManager) rotateOrphans(delta float64) {
	gate := lm.gameTime * 2
	for _, c := range lm.deps.Registry.ConceptsInScene() {
		if c.Picked {
			c.FreeTime = 0
			continue
		}
		if _, attached := lm.deps.Registry.MagnetOfConcept(c.ID); attached {
			c.FreeTime = 0
			continue
		}
		c.FreeTime += delta
		if c.FreeTime < gate {
			continue
		}
		if _, near := lm.deps.Registry.NearestMagnet(c.Position, lm.cfg.AttachDistance); near {
			continue
		}
		c.Rotation = rotateAroundY(c.Rotation, orphanRotateSpeed*delta)
		lm.publish(EventConceptRotated, map[string]interface{}{
			"concept_id": string(c.ID),
		})
	}
}

// StandingsPage 排行榜分页，按得分降序
func (lm *LociManager) StandingsPage(page int) ([]StandingsEntry, int, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.deps.Standings == nil {
		return nil, 0, errors.New(errors.ErrStandingsLoad, "排行榜不可用")
	}
	standings, err := lm.deps.Standings.Load()
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrStandingsLoad, "读取排行榜失败")
	}

	entries := make([]StandingsEntry, 0, len(standings))
	for name, score := range standings {
		entries = append(entries, StandingsEntry{Username: name, Score: score})
	}
	sortStandings(entries)

	pageSize := lm.cfg.StandingsPageSize
	totalPages := (len(entries) + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 0 {
		page = 0
	}
	start := page * pageSize
	if start >= len(entries) {
		return nil, totalPages, nil
	}
	end := start + pageSize
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end], totalPages, nil
}

// publish 广播游戏事件
func (lm *LociManager) publish(t EventType, data map[string]interface{}) {
	if lm.deps.Bus == nil {
		return
	}
	lm.deps.Bus.Publish(GameEvent{
		Type:      t,
		SessionID: lm.deps.SessionID,
		Data:      data,
		Timestamp: lm.deps.Clock.Now(),
	})
}
