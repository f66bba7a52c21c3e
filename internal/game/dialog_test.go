package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDialogCenter() (*DialogCenter, *fakeClock) {
	clock := newFakeClock()
	scheduler := NewScheduler(clock, zap.NewNop())
	return NewDialogCenter(scheduler, 10*time.Second, zap.NewNop()), clock
}

func TestDialogAutoDismiss(t *testing.T) {
	dc, clock := newTestDialogCenter()

	dc.Show(context.Background(), &Dialog{Kind: DialogInfo, Title: "你好"})
	require.NotNil(t, dc.Current())

	clock.Advance(9 * time.Second)
	assert.NotNil(t, dc.Current())

	clock.Advance(1 * time.Second)
	assert.Nil(t, dc.Current())
}

func TestDialogReplacesOld(t *testing.T) {
	dc, _ := newTestDialogCenter()

	var dismissed []DialogKind
	dc.OnDismiss(func(d *Dialog) { dismissed = append(dismissed, d.Kind) })

	dc.Show(context.Background(), &Dialog{Kind: DialogInfo})
	dc.Show(context.Background(), &Dialog{Kind: DialogScore})

	// 新对话框顶掉旧的而不是叠加
	require.NotNil(t, dc.Current())
	assert.Equal(t, DialogScore, dc.Current().Kind)
	assert.Equal(t, []DialogKind{DialogInfo}, dismissed)
}

func TestDialogManualDismiss(t *testing.T) {
	dc, clock := newTestDialogCenter()

	dc.Show(context.Background(), &Dialog{Kind: DialogInfo})
	dc.Dismiss()

	assert.Nil(t, dc.Current())

	// 关闭后旧的自动关闭定时器不得误伤后续对话框
	dc.Show(context.Background(), &Dialog{Kind: DialogScore})
	clock.Advance(5 * time.Second)
	assert.NotNil(t, dc.Current())
}
