package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfunc/loci-palace/internal/geometry"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(zap.NewNop())
}

func registerConcepts(t *testing.T, r *Registry, ids ...ConceptID) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, r.RegisterConcept(&Concept{
			ID:     id,
			Kind:   ConceptImage,
			Bounds: geometry.NewBounds(geometry.Vec3{}, geometry.Vec3{X: 0.2, Y: 0.2, Z: 0.05}),
		}))
	}
}

func TestSpawnNextConceptOrder(t *testing.T) {
	r := newTestRegistry(t)
	registerConcepts(t, r, "c1", "c2", "c3")

	// 按登记顺序依次生成
	c := r.SpawnNextConcept(geometry.Vec3{X: 1})
	require.NotNil(t, c)
	assert.Equal(t, ConceptID("c1"), c.ID)

	c = r.SpawnNextConcept(geometry.Vec3{X: 2})
	require.NotNil(t, c)
	assert.Equal(t, ConceptID("c2"), c.ID)

	// 移出场景后重新参与生成，仍保持固定顺序
	require.NoError(t, r.DisableConcept("c1"))
	c = r.SpawnNextConcept(geometry.Vec3{X: 3})
	require.NotNil(t, c)
	assert.Equal(t, ConceptID("c1"), c.ID)

	c = r.SpawnNextConcept(geometry.Vec3{})
	require.NotNil(t, c)
	assert.Equal(t, ConceptID("c3"), c.ID)

	// 全部在场景中时不再生成
	assert.Nil(t, r.SpawnNextConcept(geometry.Vec3{}))
}

func TestRegisterConceptDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	registerConcepts(t, r, "c1")
	err := r.RegisterConcept(&Concept{ID: "c1"})
	assert.Error(t, err)
}

func TestMagnetSlotArena(t *testing.T) {
	r := newTestRegistry(t)
	bounds := geometry.NewBounds(geometry.Vec3{}, geometry.Vec3{X: 0.1, Y: 0.1, Z: 0.1})

	m1 := r.NewMagnet(geometry.Vec3{X: 1}, bounds)
	m2 := r.NewMagnet(geometry.Vec3{X: 2}, bounds)
	m3 := r.NewMagnet(geometry.Vec3{X: 3}, bounds)

	// 句柄稳定且互不相同
	assert.NotEqual(t, m1.ID, m2.ID)
	assert.Equal(t, 0, m1.UploadIndex)
	assert.Equal(t, 2, m3.UploadIndex)
	assert.Equal(t, 3, r.MagnetCount())

	got, ok := r.GetMagnet(m2.ID)
	require.True(t, ok)
	assert.Same(t, m2, got)

	// 上传顺序快照
	magnets := r.Magnets()
	require.Len(t, magnets, 3)
	assert.Equal(t, m1.ID, magnets[0].ID)
	assert.Equal(t, m3.ID, magnets[2].ID)
}

func TestReorderMagnetsFromFirst(t *testing.T) {
	r := newTestRegistry(t)
	bounds := geometry.NewBounds(geometry.Vec3{}, geometry.Vec3{X: 0.1, Y: 0.1, Z: 0.1})
	m1 := r.NewMagnet(geometry.Vec3{X: 1}, bounds)
	m2 := r.NewMagnet(geometry.Vec3{X: 2}, bounds)
	m3 := r.NewMagnet(geometry.Vec3{X: 3}, bounds)

	require.NoError(t, r.ReorderMagnetsFromFirst(m2.ID))

	magnets := r.Magnets()
	assert.Equal(t, m2.ID, magnets[0].ID)
	assert.Equal(t, m3.ID, magnets[1].ID)
	assert.Equal(t, m1.ID, magnets[2].ID)
	assert.Equal(t, 0, m2.UploadIndex)
	assert.Equal(t, 2, m1.UploadIndex)

	assert.Error(t, r.ReorderMagnetsFromFirst(MagnetID("missing")))
}

func TestAttachDetach(t *testing.T) {
	r := newTestRegistry(t)
	registerConcepts(t, r, "c1", "c2")
	bounds := geometry.NewBounds(geometry.Vec3{}, geometry.Vec3{X: 0.1, Y: 0.1, Z: 0.1})
	m := r.NewMagnet(geometry.Vec3{X: 1, Y: 0.5}, bounds)

	// 首次挂接
	evicted, swapped, err := r.Attach(m.ID, "c1")
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.False(t, swapped)
	assert.False(t, m.IsFree())

	c1, _ := r.GetConcept("c1")
	assert.Equal(t, m.Position, c1.Position)

	// 顶替挂接
	evicted, swapped, err = r.Attach(m.ID, "c2")
	require.NoError(t, err)
	assert.Equal(t, ConceptID("c1"), evicted)
	assert.True(t, swapped)

	// 取下
	detached, err := r.Detach(m.ID)
	require.NoError(t, err)
	assert.Equal(t, ConceptID("c2"), detached)
	assert.True(t, m.IsFree())
	assert.Zero(t, m.FreeTime)
}

func TestNearestFreeMagnet(t *testing.T) {
	r := newTestRegistry(t)
	registerConcepts(t, r, "c1")
	bounds := geometry.NewBounds(geometry.Vec3{}, geometry.Vec3{X: 0.1, Y: 0.1, Z: 0.1})
	m1 := r.NewMagnet(geometry.Vec3{X: 1}, bounds)
	m2 := r.NewMagnet(geometry.Vec3{X: 2}, bounds)

	// 最近的空闲磁珠
	got, ok := r.NearestFreeMagnet(geometry.Vec3{X: 0.8}, 0.5)
	require.True(t, ok)
	assert.Equal(t, m1.ID, got.ID)

	// 阈值之外没有候选
	_, ok = r.NearestFreeMagnet(geometry.Vec3{X: 10}, 0.5)
	assert.False(t, ok)

	// 已占用的磁珠不参与空闲查找
	_, _, err := r.Attach(m1.ID, "c1")
	require.NoError(t, err)
	got, ok = r.NearestFreeMagnet(geometry.Vec3{X: 0.8}, 1.5)
	require.True(t, ok)
	assert.Equal(t, m2.ID, got.ID)

	// 不限空闲时仍能找到
	got, ok = r.NearestMagnet(geometry.Vec3{X: 0.8}, 0.5)
	require.True(t, ok)
	assert.Equal(t, m1.ID, got.ID)
}

func TestRemoveMagnet(t *testing.T) {
	r := newTestRegistry(t)
	bounds := geometry.NewBounds(geometry.Vec3{}, geometry.Vec3{X: 0.1, Y: 0.1, Z: 0.1})
	m1 := r.NewMagnet(geometry.Vec3{X: 1}, bounds)
	m2 := r.NewMagnet(geometry.Vec3{X: 2}, bounds)

	r.RemoveMagnet(m1.ID)
	assert.Equal(t, 1, r.MagnetCount())
	_, ok := r.GetMagnet(m1.ID)
	assert.False(t, ok)

	magnets := r.Magnets()
	require.Len(t, magnets, 1)
	assert.Equal(t, m2.ID, magnets[0].ID)

	// 重复移除无副作用
	r.RemoveMagnet(m1.ID)
	assert.Equal(t, 1, r.MagnetCount())
}

func TestRestoreMagnet(t *testing.T) {
	r := newTestRegistry(t)
	bounds := geometry.NewBounds(geometry.Vec3{}, geometry.Vec3{X: 0.1, Y: 0.1, Z: 0.1})

	slot := &MagnetSlot{ID: "restored-1", Position: geometry.Vec3{X: 1}, Bounds: bounds}
	require.NoError(t, r.RestoreMagnet(slot))
	assert.Equal(t, 0, slot.UploadIndex)

	// 句柄冲突
	assert.Error(t, r.RestoreMagnet(&MagnetSlot{ID: "restored-1"}))
}
