package anchor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfunc/loci-palace/internal/errors"
	"github.com/wfunc/loci-palace/internal/experience"
	"github.com/wfunc/loci-palace/internal/geometry"
	"github.com/wfunc/loci-palace/internal/object"
)

func newTestManager(t *testing.T) (*Manager, *MemoryPlatform, *experience.FileStore) {
	t.Helper()
	platform := NewMemoryPlatform()
	store := experience.NewFileStore(filepath.Join(t.TempDir(), "experiences.json"), zap.NewNop())
	key := experience.Key{RoomCode: "ROOM-01", UserID: "u1", ExperienceID: "e1"}
	mgr := NewManager(platform, store, key, DefaultConfig(), zap.NewNop())
	return mgr, platform, store
}

func testPose(x float64) Pose {
	return Pose{
		Position: geometry.Vec3{X: x, Y: 0.5, Z: 1},
		Rotation: geometry.IdentityQuat(),
	}
}

func createAnchors(t *testing.T, mgr *Manager, n int, kind object.Kind) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id, err := mgr.CreateAnchor(context.Background(), testPose(float64(i)), experience.AnchorRef{Kind: kind})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestCreateAnchorPersistsDictionary(t *testing.T) {
	mgr, platform, store := newTestManager(t)

	id, err := mgr.CreateAnchor(context.Background(), testPose(1),
		experience.AnchorRef{Kind: object.KindConcept, ConceptID: "c1"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	assert.Equal(t, 1, platform.SavedCount())
	assert.True(t, mgr.AreAnchorsReady())

	// 字典已落盘
	data, err := store.Load(experience.Key{RoomCode: "ROOM-01", UserID: "u1", ExperienceID: "e1"})
	require.NoError(t, err)
	ref, ok := data.AnchorData[id.String()]
	require.True(t, ok)
	assert.Equal(t, object.KindConcept, ref.Kind)
	assert.Equal(t, object.ConceptID("c1"), ref.ConceptID)
}

func TestCreateAnchorSaveFailureDestroysRuntime(t *testing.T) {
	mgr, platform, _ := newTestManager(t)

	platform.SaveFailure = true

	_, err := mgr.CreateAnchor(context.Background(), testPose(1), experience.AnchorRef{Kind: object.KindMagnet})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAnchorSave))

	// 保存失败后运行时锚点被销毁，字典保持为空
	assert.Equal(t, 0, platform.RuntimeCount())
	assert.Equal(t, 0, mgr.MaterializedCount())
	assert.Empty(t, mgr.Data().AnchorData)
}

func TestLocalizeFailureDuringCreate(t *testing.T) {
	mgr, platform, _ := newTestManager(t)
	platform.LocalizeFailure = true

	_, err := mgr.CreateAnchor(context.Background(), testPose(1), experience.AnchorRef{Kind: object.KindMagnet})
	require.Error(t, err)
	assert.Equal(t, 0, platform.RuntimeCount())
}

func TestAreAnchorsReadyAfterReload(t *testing.T) {
	mgr, platform, store := newTestManager(t)
	ids := createAnchors(t, mgr, 5, object.KindMagnet)

	// 模拟重启：新的管理器，加载字典后物化
	key := experience.Key{RoomCode: "ROOM-01", UserID: "u1", ExperienceID: "e1"}
	mgr2 := NewManager(platform, store, key, DefaultConfig(), zap.NewNop())
	require.NoError(t, mgr2.LoadDictionary())
	assert.False(t, mgr2.AreAnchorsReady())

	var materialized []uuid.UUID
	mgr2.OnMaterialized(func(mat *Materialized) {
		materialized = append(materialized, mat.Anchor.ID)
	})

	require.NoError(t, mgr2.LoadCurrentExperience(context.Background(), false))
	assert.True(t, mgr2.AreAnchorsReady())
	assert.ElementsMatch(t, ids, materialized)
}

func TestLoadSkipsLocalizeFailures(t *testing.T) {
	mgr, platform, store := newTestManager(t)
	ids := createAnchors(t, mgr, 4, object.KindMagnet)

	key := experience.Key{RoomCode: "ROOM-01", UserID: "u1", ExperienceID: "e1"}
	mgr2 := NewManager(platform, store, key, DefaultConfig(), zap.NewNop())
	require.NoError(t, mgr2.LoadDictionary())

	// 其中一个锚点定位失败
	platform.LocalizeFailures = map[uuid.UUID]bool{ids[1]: true}

	require.NoError(t, mgr2.LoadCurrentExperience(context.Background(), false))

	// 失败的被跳过，就绪计数因此卡住且可观测
	assert.Equal(t, 3, mgr2.MaterializedCount())
	assert.Equal(t, 1, mgr2.LoadFailureCount())
	assert.False(t, mgr2.AreAnchorsReady())
}

func TestLoadOnlyGameObjects(t *testing.T) {
	mgr, platform, store := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateAnchor(ctx, testPose(1), experience.AnchorRef{Kind: object.KindMagnet})
	require.NoError(t, err)
	_, err = mgr.CreateAnchor(ctx, testPose(2), experience.AnchorRef{Kind: object.KindConcept, ConceptID: "c1"})
	require.NoError(t, err)
	_, err = mgr.CreateAnchor(ctx, testPose(3), experience.AnchorRef{Kind: object.KindTable})
	require.NoError(t, err)
	_, err = mgr.CreateAnchor(ctx, testPose(4), experience.AnchorRef{Kind: object.KindSphere})
	require.NoError(t, err)

	key := experience.Key{RoomCode: "ROOM-01", UserID: "u1", ExperienceID: "e1"}
	mgr2 := NewManager(platform, store, key, DefaultConfig(), zap.NewNop())
	require.NoError(t, mgr2.LoadDictionary())
	require.NoError(t, mgr2.LoadCurrentExperience(ctx, true))

	// 参照球不属于游戏物体，未被物化
	assert.Equal(t, 3, mgr2.MaterializedCount())
	assert.False(t, mgr2.AreAnchorsReady())
}

func TestEraseAnchorsRemovesFromDictionary(t *testing.T) {
	mgr, platform, store := newTestManager(t)
	ids := createAnchors(t, mgr, 3, object.KindMagnet)

	require.NoError(t, mgr.EraseAnchors(context.Background(), ids[:2]))

	assert.Equal(t, 1, platform.SavedCount())
	assert.Len(t, mgr.Data().AnchorData, 1)

	// 存档同步更新
	data, err := store.Load(experience.Key{RoomCode: "ROOM-01", UserID: "u1", ExperienceID: "e1"})
	require.NoError(t, err)
	assert.Len(t, data.AnchorData, 1)
	_, ok := data.AnchorData[ids[2].String()]
	assert.True(t, ok)

	// 重复擦除同一批ID是幂等的
	require.NoError(t, mgr.EraseAnchors(context.Background(), ids[:2]))
	assert.Len(t, mgr.Data().AnchorData, 1)
}

func TestEraseFailureLeavesDictionaryUntouched(t *testing.T) {
	mgr, platform, _ := newTestManager(t)
	ids := createAnchors(t, mgr, 3, object.KindMagnet)

	platform.EraseFailure = true
	err := mgr.EraseAnchors(context.Background(), ids)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAnchorErase))

	// 擦除失败时字典原样保留
	assert.Len(t, mgr.Data().AnchorData, 3)
	assert.Equal(t, 3, platform.SavedCount())
}

func TestEraseChunking(t *testing.T) {
	platform := NewMemoryPlatform()
	store := experience.NewFileStore(filepath.Join(t.TempDir(), "exp.json"), zap.NewNop())
	key := experience.Key{RoomCode: "R", UserID: "u", ExperienceID: "e"}
	cfg := DefaultConfig()
	cfg.EraseChunkSize = 2
	cfg.LoadChunkSize = 2
	mgr := NewManager(platform, store, key, cfg, zap.NewNop())

	ids := createAnchors(t, mgr, 5, object.KindMagnet)
	require.NoError(t, mgr.EraseAnchors(context.Background(), ids))

	assert.Equal(t, 0, platform.SavedCount())
	assert.Empty(t, mgr.Data().AnchorData)
}

func TestEraseByKind(t *testing.T) {
	mgr, platform, _ := newTestManager(t)
	ctx := context.Background()

	createAnchors(t, mgr, 2, object.KindMagnet)
	_, err := mgr.CreateAnchor(ctx, testPose(5), experience.AnchorRef{Kind: object.KindConcept, ConceptID: "c1"})
	require.NoError(t, err)

	require.NoError(t, mgr.EraseByKind(ctx, object.KindMagnet))

	assert.Equal(t, 1, platform.SavedCount())
	assert.Len(t, mgr.Data().AnchorData, 1)
	for _, ref := range mgr.Data().AnchorData {
		assert.Equal(t, object.KindConcept, ref.Kind)
	}
}

func TestMovementCycle(t *testing.T) {
	mgr, platform, _ := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.CreateAnchor(ctx, testPose(1), experience.AnchorRef{Kind: object.KindMagnet})
	require.NoError(t, err)

	// 开始搬动：锚点被擦除销毁
	require.NoError(t, mgr.MovementStarted(ctx, id))
	assert.Equal(t, 0, platform.SavedCount())
	assert.Empty(t, mgr.Data().AnchorData)

	// 搬动结束：新位姿重新持久化，分配新锚点
	newID, err := mgr.MovementEnded(ctx, testPose(9), experience.AnchorRef{Kind: object.KindMagnet})
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)
	assert.Equal(t, 1, platform.SavedCount())
	assert.True(t, mgr.AreAnchorsReady())
}

func TestEraseAllExperiences(t *testing.T) {
	platform := NewMemoryPlatform()
	store := experience.NewFileStore(filepath.Join(t.TempDir(), "exp.json"), zap.NewNop())
	logger := zap.NewNop()

	// 两个体验各建若干锚点
	for i, key := range []experience.Key{
		{RoomCode: "R1", UserID: "u", ExperienceID: "e"},
		{RoomCode: "R2", UserID: "u", ExperienceID: "e"},
	} {
		mgr := NewManager(platform, store, key, DefaultConfig(), logger)
		_, err := mgr.CreateAnchor(context.Background(), testPose(float64(i)),
			experience.AnchorRef{Kind: object.KindMagnet})
		require.NoError(t, err)
	}
	require.Equal(t, 2, platform.SavedCount())

	require.NoError(t, EraseAllExperiences(context.Background(), platform, store, DefaultConfig(), logger))

	assert.Equal(t, 0, platform.SavedCount())
	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}
