package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// fakeClock 手动推进的时钟，定时器按截止时间顺序同步触发
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance 推进时钟，按截止顺序触发到期定时器；
// 触发回调可能再注册新定时器，循环直到没有到期项
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.deadline.After(target) {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		fn := next.fn
		c.mu.Unlock()
		fn()
	}
}

func newTestScheduler() (*Scheduler, *fakeClock) {
	clock := newFakeClock()
	return NewScheduler(clock, zap.NewNop()), clock
}

func TestSchedulerOneShot(t *testing.T) {
	s, clock := newTestScheduler()
	fired := 0

	s.Schedule(context.Background(), "t1", 5*time.Second, func() { fired++ })
	assert.True(t, s.IsActive("t1"))

	clock.Advance(4 * time.Second)
	assert.Equal(t, 0, fired)

	clock.Advance(1 * time.Second)
	assert.Equal(t, 1, fired)
	assert.False(t, s.IsActive("t1"))
}

func TestSchedulerReplacesSameName(t *testing.T) {
	s, clock := newTestScheduler()
	var order []string

	s.Schedule(context.Background(), "t1", 2*time.Second, func() { order = append(order, "first") })
	s.Schedule(context.Background(), "t1", 3*time.Second, func() { order = append(order, "second") })

	clock.Advance(5 * time.Second)
	assert.Equal(t, []string{"second"}, order)
}

func TestSchedulerCancel(t *testing.T) {
	s, clock := newTestScheduler()
	fired := false

	s.Schedule(context.Background(), "t1", 2*time.Second, func() { fired = true })
	assert.True(t, s.Cancel("t1"))
	assert.False(t, s.Cancel("t1"))

	clock.Advance(5 * time.Second)
	assert.False(t, fired)
}

func TestSchedulerCancelAll(t *testing.T) {
	s, clock := newTestScheduler()
	fired := 0

	s.Schedule(context.Background(), "a", time.Second, func() { fired++ })
	s.Schedule(context.Background(), "b", time.Second, func() { fired++ })
	s.ScheduleRepeating(context.Background(), "c", time.Second, func() { fired++ })
	assert.Len(t, s.ActiveTimers(), 3)

	s.CancelAll()
	assert.Empty(t, s.ActiveTimers())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 0, fired)
}

func TestSchedulerRepeating(t *testing.T) {
	s, clock := newTestScheduler()
	fired := 0

	s.ScheduleRepeating(context.Background(), "tick", 3*time.Second, func() { fired++ })

	clock.Advance(10 * time.Second)
	assert.Equal(t, 3, fired)
	assert.True(t, s.IsActive("tick"))

	s.Cancel("tick")
	clock.Advance(10 * time.Second)
	assert.Equal(t, 3, fired)
}
