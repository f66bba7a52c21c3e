package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/loci-palace/internal/game"
	"go.uber.org/zap"
)

// SessionHandler 游戏会话处理器
type SessionHandler struct {
	sessions *game.SessionManager
	log      *zap.Logger
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(sessions *game.SessionManager, log *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log,
	}
}

// CreateSession 创建游戏会话
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req game.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), req.SessionID, req.UserID, req.Room.ToRoom(), req.Concepts)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "SESSION_CREATE_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "会话创建成功",
		Data:    session.Info(),
	})
}

// GetSession 查询会话信息
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, ok := h.sessionOf(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Info())
}

// DeleteSession 结束并移除会话
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.sessions.RemoveSession(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "SESSION_NOT_FOUND",
			Message: "会话不存在",
		})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "会话已移除"})
}

// ChangePhase 切换游戏阶段
func (h *SessionHandler) ChangePhase(c *gin.Context) {
	session, ok := h.sessionOf(c)
	if !ok {
		return
	}

	var req game.ChangePhaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	if err := session.Manager.ChangePhase(c.Request.Context(), game.Phase(req.Phase)); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "PHASE_CHANGE_FAILED",
			Message: err.Error(),
		})
		return
	}

	if err := h.sessions.SaveSnapshot(c.Request.Context(), session.SessionID); err != nil {
		h.log.Warn("保存会话快照失败",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, session.Info())
}

// GetMagnets 查询会话内的磁珠状态
func (h *SessionHandler) GetMagnets(c *gin.Context) {
	session, ok := h.sessionOf(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"magnets": session.Magnets()})
}

// RegisterConcept 向会话补登概念卡片
func (h *SessionHandler) RegisterConcept(c *gin.Context) {
	session, ok := h.sessionOf(c)
	if !ok {
		return
	}

	var req game.RegisterConceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	if err := session.RegisterConcept(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "CONCEPT_REGISTER_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "概念已登记"})
}

// GetStandings 查询会话排行榜，按得分降序分页
func (h *SessionHandler) GetStandings(c *gin.Context) {
	session, ok := h.sessionOf(c)
	if !ok {
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		page = 0
	}

	entries, totalPages, err := session.Manager.StandingsPage(page)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "STANDINGS_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":     entries,
		"page":        page,
		"total_pages": totalPages,
	})
}

// sessionOf 按路径参数取会话，不存在时直接写404
func (h *SessionHandler) sessionOf(c *gin.Context) (*game.Session, bool) {
	session, err := h.sessions.GetSession(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "SESSION_NOT_FOUND",
			Message: "会话不存在",
		})
		return nil, false
	}
	return session, true
}
