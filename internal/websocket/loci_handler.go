package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wfunc/loci-palace/internal/game"
	"github.com/wfunc/loci-palace/internal/object"
	"go.uber.org/zap"
)

// LociHandler 把客户端消息路由到游戏会话
type LociHandler struct {
	hub      *Hub
	sessions *game.SessionManager
	logger   *zap.Logger
}

// NewLociHandler 创建消息处理器并挂到Hub上
func NewLociHandler(hub *Hub, sessions *game.SessionManager, logger *zap.Logger) *LociHandler {
	h := &LociHandler{
		hub:      hub,
		sessions: sessions,
		logger:   logger,
	}
	hub.SetMessageHandler(h)
	return h
}

// NewEventBridge 构造把游戏事件推给会话订阅者的回调
func NewEventBridge(hub *Hub) game.EventSink {
	return func(e game.GameEvent) {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return
		}
		_ = hub.SendToSession(e.SessionID, &Message{
			Type:      MessageTypeGameEvent,
			SessionID: e.SessionID,
			Data:      json.RawMessage(`{"event":"` + string(e.Type) + `","payload":` + string(data) + `}`),
			Timestamp: e.Timestamp.Unix(),
		})
	}
}

// HandleClientMessage 处理客户端消息
func (h *LociHandler) HandleClientMessage(client *Client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Error("解析WebSocket消息失败",
			zap.String("client_id", client.ID),
			zap.Error(err))
		client.sendError("消息格式错误")
		return
	}

	switch msg.Type {
	case MessageTypePong:
		return

	case MessageTypeSubscribe:
		h.handleSubscribe(client, &msg)
		return
	}

	// 之后的消息都要求已订阅会话
	session, err := h.sessionOf(client)
	if err != nil {
		client.sendError(err.Error())
		return
	}

	ctx := context.Background()
	lm := session.Manager

	switch msg.Type {
	case MessageTypeSessionInfo:
		client.SendMessage(MessageTypeSessionInfo, session.Info())

	case MessageTypeChangePhase:
		var req game.ChangePhaseRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			client.sendError("消息格式错误")
			return
		}
		if err := lm.ChangePhase(ctx, game.Phase(req.Phase)); err != nil {
			client.sendError(err.Error())
			return
		}
		h.saveSnapshot(ctx, client.SessionID)
		client.SendMessage(MessageTypeSessionInfo, session.Info())

	case MessageTypePoseUpdate:
		var req game.PoseUpdateRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			client.sendError("消息格式错误")
			return
		}
		lm.UpdateUserPose(ctx, req.Position, req.Forward)

	case MessageTypeSpawnMagnet:
		magnet, err := lm.SpawnMagnet()
		if err != nil {
			client.sendError(err.Error())
			return
		}
		client.SendMessage(MessageTypeSpawnMagnet, game.NewMagnetView(magnet))

	case MessageTypeMagnetMoveBeg:
		var req game.MagnetMoveRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			client.sendError("消息格式错误")
			return
		}
		if err := lm.MagnetMoveStarted(ctx, object.MagnetID(req.MagnetID)); err != nil {
			client.sendError(err.Error())
		}

	case MessageTypeMagnetMoveEnd:
		var req game.MagnetMoveRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			client.sendError("消息格式错误")
			return
		}
		if err := lm.MagnetMoveEnded(ctx, object.MagnetID(req.MagnetID), req.Position); err != nil {
			client.sendError(err.Error())
		}

	case MessageTypeSpawnConcept:
		concept, err := lm.SpawnConcept()
		if err != nil {
			client.sendError(err.Error())
			return
		}
		client.SendMessage(MessageTypeSpawnConcept, concept)

	case MessageTypePickConcept:
		var req game.ConceptReleaseRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			client.sendError("消息格式错误")
			return
		}
		if err := lm.PickConcept(object.ConceptID(req.ConceptID)); err != nil {
			client.sendError(err.Error())
		}

	case MessageTypeReleaseConcept:
		var req game.ConceptReleaseRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			client.sendError("消息格式错误")
			return
		}
		if err := lm.ReleaseConcept(ctx, object.ConceptID(req.ConceptID), req.Position, req.Rotation); err != nil {
			client.sendError(err.Error())
			return
		}
		h.saveSnapshot(ctx, client.SessionID)

	case MessageTypeTick:
		var req struct {
			Delta float64 `json:"delta"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.Delta <= 0 {
			client.sendError("消息格式错误")
			return
		}
		lm.Tick(ctx, req.Delta)

	default:
		h.logger.Warn("收到不支持的消息类型",
			zap.String("client_id", client.ID),
			zap.String("type", msg.Type))
		client.sendError("不支持的消息类型: " + msg.Type)
	}
}

// handleSubscribe 订阅会话事件
func (h *LociHandler) handleSubscribe(client *Client, msg *Message) {
	if msg.SessionID == "" {
		client.sendError("缺少会话ID")
		return
	}

	session, err := h.sessions.GetSession(msg.SessionID)
	if err != nil {
		client.sendError(err.Error())
		return
	}

	client.SessionID = msg.SessionID
	client.SendMessage(MessageTypeSessionInfo, session.Info())

	h.logger.Info("客户端订阅会话",
		zap.String("client_id", client.ID),
		zap.String("session_id", msg.SessionID))
}

// sessionOf 取客户端当前订阅的会话
func (h *LociHandler) sessionOf(client *Client) (*game.Session, error) {
	if client.SessionID == "" {
		return nil, ErrSessionNotFound
	}
	return h.sessions.GetSession(client.SessionID)
}

// saveSnapshot 落一份快照，失败只记日志
func (h *LociHandler) saveSnapshot(ctx context.Context, sessionID string) {
	saveCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.sessions.SaveSnapshot(saveCtx, sessionID); err != nil {
		h.logger.Warn("保存会话快照失败",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}
