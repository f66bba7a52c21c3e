package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock 时间源抽象，测试时注入假时钟
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer 可取消的定时器
type Timer interface {
	Stop() bool
}

// realClock 真实时钟
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// NewRealClock 创建真实时钟
func NewRealClock() Clock { return realClock{} }

// 调度器内置的定时器名称
const (
	TimerMainPhase     = "main_phase"     // 主游戏80秒计时
	TimerFinalPhase    = "final_phase"    // 终局计时
	TimerWrongDetach   = "wrong_detach"   // 错放概念自动脱落
	TimerDialogDismiss = "dialog_dismiss" // 对话框自动关闭
	TimerRoomMonitor   = "room_monitor"   // 出房间监测
)

// Scheduler 协作式定时调度器。
// 所有游戏计时都挂在命名槽位上，换阶段时一次性取消，
// 回调通过注入的派发函数回到游戏主流程执行。
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	timers map[string]*scheduledTimer
	logger *zap.Logger
}

type scheduledTimer struct {
	name      string
	timer     Timer
	repeating bool
	interval  time.Duration
	cancel    context.CancelFunc
}

// NewScheduler 创建调度器
func NewScheduler(clock Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		clock:  clock,
		timers: make(map[string]*scheduledTimer),
		logger: logger,
	}
}

// Schedule 调度一次性定时任务，同名任务被替换
func (s *Scheduler) Schedule(ctx context.Context, name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(name)

	timerCtx, cancel := context.WithCancel(ctx)
	st := &scheduledTimer{name: name, cancel: cancel}
	st.timer = s.clock.AfterFunc(d, func() {
		if timerCtx.Err() != nil {
			return
		}
		s.mu.Lock()
		delete(s.timers, name)
		s.mu.Unlock()
		fn()
	})
	s.timers[name] = st

	s.logger.Debug("调度定时任务",
		zap.String("timer", name),
		zap.Duration("after", d))
}

// ScheduleRepeating 调度周期任务，同名任务被替换
func (s *Scheduler) ScheduleRepeating(ctx context.Context, name string, interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(name)

	timerCtx, cancel := context.WithCancel(ctx)
	st := &scheduledTimer{name: name, repeating: true, interval: interval, cancel: cancel}

	var tick func()
	tick = func() {
		if timerCtx.Err() != nil {
			return
		}
		fn()

		s.mu.Lock()
		if cur, ok := s.timers[name]; ok && cur == st && timerCtx.Err() == nil {
			st.timer = s.clock.AfterFunc(interval, tick)
		}
		s.mu.Unlock()
	}
	st.timer = s.clock.AfterFunc(interval, tick)
	s.timers[name] = st

	s.logger.Debug("调度周期任务",
		zap.String("timer", name),
		zap.Duration("interval", interval))
}

// Cancel 取消指定定时任务
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(name)
}

func (s *Scheduler) cancelLocked(name string) bool {
	st, ok := s.timers[name]
	if !ok {
		return false
	}
	st.cancel()
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(s.timers, name)
	return true
}

// CancelAll 取消所有定时任务，阶段切换时调用
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range s.timers {
		s.cancelLocked(name)
	}
	s.logger.Debug("取消全部定时任务")
}

// IsActive 指定定时任务是否在调度中
func (s *Scheduler) IsActive(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}

// ActiveTimers 当前调度中的任务名
func (s *Scheduler) ActiveTimers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.timers))
	for name := range s.timers {
		names = append(names, name)
	}
	return names
}
