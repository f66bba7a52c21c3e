package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/loci-palace/internal/middleware"
	ws "github.com/wfunc/loci-palace/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler WebSocket处理器
type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: 生产环境收紧来源校验
				return true
			},
		},
		logger: logger,
	}
}

// GameWebSocket 游戏WebSocket连接入口
func (h *WebSocketHandler) GameWebSocket(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok || userID == "" {
		// 未认证连接按访客处理
		userID = "guest"
		h.logger.Debug("访客WebSocket连接", zap.String("ip", c.ClientIP()))
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, userID)

	// 握手时可直接带上会话ID，也可连接后再subscribe
	if sessionID := c.Query("session_id"); sessionID != "" {
		client.SessionID = sessionID
	}

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	h.logger.Info("WebSocket连接建立",
		zap.String("client_id", client.ID),
		zap.String("user_id", userID),
		zap.String("session_id", client.SessionID))
}
