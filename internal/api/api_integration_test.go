package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfunc/loci-palace/internal/anchor"
	"github.com/wfunc/loci-palace/internal/config"
	"github.com/wfunc/loci-palace/internal/experience"
	"github.com/wfunc/loci-palace/internal/game"
	"github.com/wfunc/loci-palace/internal/geometry"
	"github.com/wfunc/loci-palace/internal/object"
	"github.com/wfunc/loci-palace/internal/repository"
	"github.com/wfunc/loci-palace/internal/room"
	"github.com/wfunc/loci-palace/internal/service"
	"github.com/wfunc/loci-palace/internal/utils"
	ws "github.com/wfunc/loci-palace/internal/websocket"
)

const (
	testOperator = "ops"
	testPassword = "operator-pass"
)

// apiTestEnv 集成测试环境，路由之外还暴露底层网关方便断言
type apiTestEnv struct {
	router   *Router
	platform *anchor.MemoryPlatform
	store    experience.Store
}

func newTestRouter(t *testing.T) *Router {
	return newTestEnv(t).router
}

// newTestEnv 组装一套完整的API路由用于集成测试
func newTestEnv(t *testing.T) *apiTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	db := repository.TestDB(t)
	dir := t.TempDir()
	platform := anchor.NewMemoryPlatform()

	hash, err := utils.HashPassword(testPassword)
	require.NoError(t, err)

	jwtManager := utils.NewJWTManager("test-secret", time.Hour, 24*time.Hour)
	authService := service.NewAuthService(config.OperatorConfig{
		Username:     testOperator,
		PasswordHash: hash,
	}, jwtManager, logger)

	store := experience.NewFileStore(filepath.Join(dir, "experiences.json"), logger)
	standingRepo := repository.NewStandingRepository(db)

	factory := func(sessionID, userID string, r *room.Room) (*game.LociManager, error) {
		clock := game.NewRealClock()
		scheduler := game.NewScheduler(clock, logger)
		rng := rand.New(rand.NewSource(1))
		key := experience.Key{RoomCode: r.Code, UserID: userID, ExperienceID: "exp-1"}
		anchors := anchor.NewManager(platform, store, key, anchor.DefaultConfig(), logger)

		return game.NewLociManager(game.DefaultLociConfig(), game.LociManagerDeps{
			SessionID: sessionID,
			UserID:    userID,
			Room:      r,
			Registry:  object.NewRegistry(logger),
			Anchors:   anchors,
			Placer:    game.NewPlacer(r, rng, logger),
			Scheduler: scheduler,
			Dialogs:   game.NewDialogCenter(scheduler, 10*time.Second, logger),
			Bus:       game.NewEventBus(),
			Standings: game.NewRepositoryStandings(standingRepo),
			Clock:     clock,
			RNG:       rng,
			Logger:    logger,
		}), nil
	}

	sessions := game.NewSessionManager(&game.SessionManagerConfig{
		Logger:         logger,
		Persister:      game.NewDatabasePhasePersister(db),
		Factory:        factory,
		SessionTimeout: 30 * time.Minute,
		MaxSessions:    8,
	})

	hub := ws.NewHub(logger)

	router := NewRouter(&RouterConfig{
		DB:           db,
		AuthService:  authService,
		Sessions:     sessions,
		Hub:          hub,
		Standings:    standingRepo,
		Experiences:  store,
		Platform:     platform,
		AnchorConfig: anchor.DefaultConfig(),
		Log:          logger,
	})
	return &apiTestEnv{router: router, platform: platform, store: store}
}

func doJSON(t *testing.T, router *Router, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.GetEngine().ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, router *Router) string {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/auth/login", "", LoginRequest{
		Username: testOperator,
		Password: testPassword,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp service.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func testRoomPayload() game.RoomPayload {
	return game.RoomPayload{
		Code: "room-1",
		Outline: []geometry.Vec3{
			{X: 0, Z: 0},
			{X: 10, Z: 0},
			{X: 10, Z: 10},
			{X: 0, Z: 10},
		},
		Table: &game.TablePayload{
			Position: geometry.Vec3{X: 8, Y: 0, Z: 8},
			Center:   geometry.Vec3{X: 8, Y: 0.4, Z: 8},
			Size:     geometry.Vec3{X: 1, Y: 0.8, Z: 1},
		},
	}
}

func testConcepts(n int) []game.RegisterConceptRequest {
	concepts := make([]game.RegisterConceptRequest, 0, n)
	for i := 1; i <= n; i++ {
		concepts = append(concepts, game.RegisterConceptRequest{
			ID:   fmt.Sprintf("c%d", i),
			Kind: "image",
			Name: fmt.Sprintf("概念%d", i),
		})
	}
	return concepts
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestLogin(t *testing.T) {
	router := newTestRouter(t)

	t.Run("登录成功", func(t *testing.T) {
		token := loginToken(t, router)
		assert.NotEmpty(t, token)
	})

	t.Run("密码错误", func(t *testing.T) {
		w := doJSON(t, router, "POST", "/api/v1/auth/login", "", LoginRequest{
			Username: testOperator,
			Password: "wrong-password",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("缺少字段", func(t *testing.T) {
		w := doJSON(t, router, "POST", "/api/v1/auth/login", "", map[string]string{
			"username": testOperator,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRefreshToken(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, "POST", "/api/v1/auth/login", "", LoginRequest{
		Username: testOperator,
		Password: testPassword,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var login service.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.RefreshToken)

	w = doJSON(t, router, "POST", "/api/v1/auth/refresh", "", RefreshTokenRequest{
		RefreshToken: login.RefreshToken,
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var refreshed service.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refreshed))
	assert.NotEmpty(t, refreshed.AccessToken)

	// 访问令牌不能当刷新令牌用
	w = doJSON(t, router, "POST", "/api/v1/auth/refresh", "", RefreshTokenRequest{
		RefreshToken: login.AccessToken,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, "POST", "/api/v1/sessions", "", game.CreateSessionRequest{
		SessionID: "s1",
		UserID:    "u1",
		Room:      testRoomPayload(),
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionLifecycle(t *testing.T) {
	router := newTestRouter(t)
	token := loginToken(t, router)

	createReq := game.CreateSessionRequest{
		SessionID: "s1",
		UserID:    "u1",
		Room:      testRoomPayload(),
		Concepts:  testConcepts(4),
	}

	w := doJSON(t, router, "POST", "/api/v1/sessions", token, createReq)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 重复创建被拒
	w = doJSON(t, router, "POST", "/api/v1/sessions", token, createReq)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 查询会话
	w = doJSON(t, router, "GET", "/api/v1/sessions/s1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info game.SessionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "s1", info.SessionID)
	assert.Equal(t, game.PhaseMagnetDistribution, info.Phase)
	assert.Equal(t, "room-1", info.RoomCode)

	// 磁珠未布置时不能进入概念布置
	w = doJSON(t, router, "POST", "/api/v1/sessions/s1/phase", token, game.ChangePhaseRequest{
		Phase: string(game.PhaseConceptDistribution),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 磁珠列表为空
	w = doJSON(t, router, "GET", "/api/v1/sessions/s1/magnets", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var magnets struct {
		Magnets []game.MagnetView `json:"magnets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &magnets))
	assert.Empty(t, magnets.Magnets)

	// 补登概念，重复ID被拒
	w = doJSON(t, router, "POST", "/api/v1/sessions/s1/concepts", token, game.RegisterConceptRequest{
		ID:   "c9",
		Kind: "audio",
		Name: "概念9",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/sessions/s1/concepts", token, game.RegisterConceptRequest{
		ID:   "c9",
		Kind: "audio",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 会话排行榜（空榜也返回200）
	w = doJSON(t, router, "GET", "/api/v1/sessions/s1/standings?page=0", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// 移除会话
	w = doJSON(t, router, "DELETE", "/api/v1/sessions/s1", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/api/v1/sessions/s1", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionNotFound(t *testing.T) {
	router := newTestRouter(t)
	token := loginToken(t, router)

	w := doJSON(t, router, "GET", "/api/v1/sessions/no-such", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SESSION_NOT_FOUND", resp.Code)
}

func TestGlobalStandings(t *testing.T) {
	router := newTestRouter(t)

	// 读榜不需要认证
	w := doJSON(t, router, "GET", "/api/v1/standings", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(0), resp["total"])

	// 删除需要运维角色
	w = doJSON(t, router, "DELETE", "/api/v1/standings/alice", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := loginToken(t, router)
	w = doJSON(t, router, "DELETE", "/api/v1/standings/alice", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExperienceErase(t *testing.T) {
	env := newTestEnv(t)
	token := loginToken(t, env.router)

	// 先落两个锚点，平台侧和存档里都有记录
	key := experience.Key{RoomCode: "room-1", UserID: "user-1", ExperienceID: "exp-1"}
	anchors := anchor.NewManager(env.platform, env.store, key, anchor.DefaultConfig(), zap.NewNop())
	ctx := context.Background()
	_, err := anchors.CreateAnchor(ctx, anchor.Pose{}, experience.AnchorRef{Kind: object.KindMagnet})
	require.NoError(t, err)
	_, err = anchors.CreateAnchor(ctx, anchor.Pose{}, experience.AnchorRef{Kind: object.KindConcept, ConceptID: "c1"})
	require.NoError(t, err)
	require.Equal(t, 2, env.platform.SavedCount())

	w := doJSON(t, env.router, "GET", "/api/v1/experiences", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, env.router, "DELETE", "/api/v1/experiences", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// 平台侧锚点和存档一并被抹掉
	assert.Equal(t, 0, env.platform.SavedCount())
	keys, err := env.store.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	// 未认证被拒
	w = doJSON(t, env.router, "DELETE", "/api/v1/experiences", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNotFoundRoute(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, "GET", "/api/v1/no-such-endpoint", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "NOT_FOUND", resp["code"])
}
