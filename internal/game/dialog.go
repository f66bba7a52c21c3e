package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DialogKind 对话框类型
type DialogKind string

const (
	DialogInfo            DialogKind = "info"              // 普通提示
	DialogScore           DialogKind = "score"             // 得分通告
	DialogPhase           DialogKind = "phase"             // 阶段提示
	DialogStandings       DialogKind = "standings"         // 排行榜
	DialogInvalidRoom     DialogKind = "invalid_room"      // 房间不满足条件
	DialogOutOfRoom       DialogKind = "out_of_room"       // 用户离开房间
	DialogAnchorsNotReady DialogKind = "anchors_not_ready" // 锚点尚未就绪
)

// Dialog 展示给用户的对话框
type Dialog struct {
	Kind      DialogKind  `json:"kind"`
	Title     string      `json:"title"`
	Body      string      `json:"body"`
	Payload   interface{} `json:"payload,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// DialogCenter 对话框中心。
// 同一时刻只展示一个对话框，新对话框顶掉旧的，超时自动关闭。
type DialogCenter struct {
	mu        sync.Mutex
	current   *Dialog
	scheduler *Scheduler
	timeout   time.Duration
	onShow    func(*Dialog)
	onDismiss func(*Dialog)
	logger    *zap.Logger
}

// NewDialogCenter 创建对话框中心，timeout 为自动关闭时长
func NewDialogCenter(scheduler *Scheduler, timeout time.Duration, logger *zap.Logger) *DialogCenter {
	return &DialogCenter{
		scheduler: scheduler,
		timeout:   timeout,
		logger:    logger,
	}
}

// OnShow 设置展示回调
func (dc *DialogCenter) OnShow(fn func(*Dialog)) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.onShow = fn
}

// OnDismiss 设置关闭回调
func (dc *DialogCenter) OnDismiss(fn func(*Dialog)) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.onDismiss = fn
}

// Show 展示对话框，旧对话框被顶掉
func (dc *DialogCenter) Show(ctx context.Context, d *Dialog) {
	dc.mu.Lock()
	old := dc.current
	d.CreatedAt = dc.scheduler.clock.Now()
	dc.current = d
	onShow := dc.onShow
	onDismiss := dc.onDismiss
	dc.mu.Unlock()

	if old != nil && onDismiss != nil {
		onDismiss(old)
	}
	if onShow != nil {
		onShow(d)
	}

	dc.logger.Info("展示对话框",
		zap.String("kind", string(d.Kind)),
		zap.String("title", d.Title))

	dc.scheduler.Schedule(ctx, TimerDialogDismiss, dc.timeout, func() {
		dc.dismiss(d)
	})
}

// Dismiss 主动关闭当前对话框
func (dc *DialogCenter) Dismiss() {
	dc.mu.Lock()
	d := dc.current
	dc.mu.Unlock()
	if d != nil {
		dc.scheduler.Cancel(TimerDialogDismiss)
		dc.dismiss(d)
	}
}

// dismiss 仅当目标仍是当前对话框时才关闭
func (dc *DialogCenter) dismiss(d *Dialog) {
	dc.mu.Lock()
	if dc.current != d {
		dc.mu.Unlock()
		return
	}
	dc.current = nil
	onDismiss := dc.onDismiss
	dc.mu.Unlock()

	if onDismiss != nil {
		onDismiss(d)
	}
	dc.logger.Debug("关闭对话框", zap.String("kind", string(d.Kind)))
}

// Current 当前展示的对话框，无则返回nil
func (dc *DialogCenter) Current() *Dialog {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.current
}
