package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfunc/loci-palace/internal/geometry"
	"github.com/wfunc/loci-palace/internal/room"
)

func newTestRoom() *room.Room {
	return &room.Room{
		Code: "room-1",
		Outline: []geometry.Vec3{
			{X: 0, Z: 0},
			{X: 10, Z: 0},
			{X: 10, Z: 10},
			{X: 0, Z: 10},
		},
		Table: &room.Table{
			Position: geometry.Vec3{X: 8, Y: 0, Z: 8},
			Bounds:   geometry.NewBounds(geometry.Vec3{X: 8, Y: 0.4, Z: 8}, geometry.Vec3{X: 1, Y: 0.8, Z: 1}),
		},
		Furniture: []room.Furniture{
			{
				Label:  "shelf",
				Bounds: geometry.NewBounds(geometry.Vec3{X: 1, Y: 1, Z: 9}, geometry.Vec3{X: 1, Y: 2, Z: 0.5}),
			},
		},
	}
}

func TestFindSpotAlwaysValid(t *testing.T) {
	r := newTestRoom()
	placer := NewPlacer(r, rand.New(rand.NewSource(42)), zap.NewNop())

	userPos := geometry.Vec3{X: 5, Y: 1.6, Z: 5}
	forward := geometry.Vec3{X: 0, Y: 0, Z: 1}
	bounds := geometry.NewBounds(geometry.Vec3{}, geometry.Vec3{X: 0.2, Y: 0.2, Z: 0.2})
	occupied := []geometry.Vec3{
		{X: 5.5, Z: 5.5},
		{X: 4.5, Z: 4.5},
	}

	fallbacks := 0
	for i := 0; i < 100; i++ {
		result := placer.FindSpot(userPos, forward, bounds, occupied)
		if result.Fallback {
			fallbacks++
			continue
		}

		pos := result.Position
		world := bounds.MovedTo(geometry.Vec3{X: pos.X, Y: bounds.Extents.Y, Z: pos.Z})

		assert.True(t, r.ContainsBounds(world), "第%d次落点越出房间: %+v", i, pos)
		assert.False(t, r.CollidesWithTable(world), "第%d次落点撞桌: %+v", i, pos)
		assert.False(t, r.InsideFurniture(world), "第%d次落点侵入家具: %+v", i, pos)
		for _, o := range occupied {
			assert.GreaterOrEqual(t, geometry.DistanceXZ(pos, o), 0.5, "第%d次落点离占用点过近", i)
		}
		assert.InDelta(t, 0.0, pos.Y, 1e-9)

		d := geometry.DistanceXZ(pos, userPos)
		assert.GreaterOrEqual(t, d, 0.3-1e-9)
		assert.LessOrEqual(t, d, 1.0+1e-9)
	}

	// 这种房间里搜索几乎不应落到保底
	assert.Less(t, fallbacks, 10)
}

func TestFindSpotFallback(t *testing.T) {
	// 房间小到放不下任何候选点时必须走保底，不得无限搜索
	tiny := &room.Room{
		Code: "tiny",
		Outline: []geometry.Vec3{
			{X: 0, Z: 0},
			{X: 0.1, Z: 0},
			{X: 0.1, Z: 0.1},
			{X: 0, Z: 0.1},
		},
	}
	placer := NewPlacer(tiny, rand.New(rand.NewSource(1)), zap.NewNop())

	bounds := geometry.NewBounds(geometry.Vec3{}, geometry.Vec3{X: 0.2, Y: 0.4, Z: 0.2})
	userPos := geometry.Vec3{X: 0.05, Y: 1.6, Z: 0.05}

	result := placer.FindSpot(userPos, geometry.Vec3{Z: 1}, bounds, nil)

	require.True(t, result.Fallback)
	assert.Equal(t, userPos.X, result.Position.X)
	assert.Equal(t, userPos.Z, result.Position.Z)
	// 保底位置抬高半个物体高度
	assert.InDelta(t, 0.2, result.Position.Y, 1e-9)
}

func TestRandomFloorPositionInsideRoom(t *testing.T) {
	r := newTestRoom()
	placer := NewPlacer(r, rand.New(rand.NewSource(7)), zap.NewNop())

	for i := 0; i < 50; i++ {
		pos := placer.RandomFloorPosition()
		assert.True(t, r.ContainsPoint(pos), "第%d次随机落点越界: %+v", i, pos)
	}
}
