package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/UlleongUlleong/server-sub000/internal/directory"
	"github.com/UlleongUlleong/server-sub000/internal/metrics"
	"github.com/UlleongUlleong/server-sub000/internal/models"
	"github.com/UlleongUlleong/server-sub000/internal/registry"
	"github.com/UlleongUlleong/server-sub000/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// 网关收发的事件名。
const (
	EventCreateRoom  = "create_room"
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventChat        = "chat"
	EventRoomCreated = "room_created"
	EventRoomJoined  = "room_joined"
	EventRoomLeft    = "room_left"
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventError       = "error"
)

// Directory 是网关对房间目录的依赖面。
type Directory interface {
	CreateRoom(creatorID uint, spec directory.RoomSpec) (*models.Room, error)
	Join(roomID, userID uint) (uint, error)
	Leave(userID uint) (uint, error)
	ActiveUser(userID uint) (*models.User, error)
}

// TokenVerifier 校验握手凭证，由 token.Manager 提供。
type TokenVerifier interface {
	Parse(tokenStr string) (*token.Claims, error)
}

// Gateway 编排连接生命周期与房间成员动作：
// 握手认证、绑定连接身份、create/join/leave 的分发与广播、断连清理。
type Gateway struct {
	hub    *Hub
	reg    *registry.Registry
	tokens TokenVerifier
	dir    Directory
}

func NewGateway(hub *Hub, reg *registry.Registry, tokens TokenVerifier, dir Directory) *Gateway {
	return &Gateway{hub: hub, reg: reg, tokens: tokens, dir: dir}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 处理握手：校验 bearer 凭证并确认账号可用。
// 任一步失败都直接切断传输、不回任何载荷——此时还没有可寻址的通道。
func Serve(gw *Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		tokenStr := c.Query("token")
		if tokenStr == "" && len(authz) > 7 && (authz[:7] == "Bearer " || authz[:7] == "bearer ") {
			tokenStr = authz[7:]
		}
		if tokenStr == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		claims, err := gw.tokens.Parse(tokenStr)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		user, err := gw.dir.ActiveUser(claims.UserID)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{
			id:    uuid.NewString(),
			gw:    gw,
			conn:  conn,
			send:  make(chan []byte, 256),
			state: StateConnecting,
		}
		if err := gw.Connect(client, user.ID); err != nil {
			log.Error().Err(err).Str("conn_id", client.id).Uint("user_id", user.ID).Msg("ws bind")
			_ = conn.Close()
			return
		}
		metrics.WsConnections.Inc()

		go client.writePump()
		client.readPump()
	}
}

// Connect 把连接标识绑定到用户标识，连接进入 Authenticated 状态。
func (gw *Gateway) Connect(c *Client, userID uint) error {
	if err := gw.reg.Bind(context.Background(), c.id, userID); err != nil {
		return err
	}
	c.userID = userID
	c.state = StateAuthenticated
	return nil
}

// inbound 是客户端动作的统一信封，按 event 字段分发。
type inbound struct {
	Event           string `json:"event"`
	Name            string `json:"name"`
	ThemeID         uint   `json:"themeId"`
	MaxParticipants int    `json:"maxParticipants"`
	Description     string `json:"description"`
	AlcoholCategory []uint `json:"alcoholCategory"`
	MoodCategory    []uint `json:"moodCategory"`
	RoomID          uint   `json:"roomId"`
	Content         string `json:"content"`
}

// HandleMessage 分发单条客户端消息。同一连接的动作在 readPump
// 里串行处理，因此 state 与 room 字段不需要额外加锁。
func (gw *Gateway) HandleMessage(c *Client, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		gw.replyError(c, "invalid payload")
		return
	}
	switch in.Event {
	case EventCreateRoom:
		gw.createRoom(c, in)
	case EventJoinRoom:
		gw.joinRoom(c, in.RoomID)
	case EventLeaveRoom:
		gw.leaveRoom(c)
	case EventChat:
		gw.chat(c, in.Content)
	default:
		gw.replyError(c, "unknown event")
	}
}

// createRoom 校验并创建房间，创建者直接进入新房间的广播组。
// 失败时连接停留在原状态，仅向请求者回失败通知，不做任何广播。
func (gw *Gateway) createRoom(c *Client, in inbound) {
	userID, err := gw.reg.Resolve(context.Background(), c.id)
	if err != nil {
		metrics.RoomActionsTotal.WithLabelValues(EventCreateRoom, "error").Inc()
		gw.replyError(c, "not authenticated")
		return
	}
	// 先离开旧房间，保证一个用户只在一个房间
	if c.room != nil {
		if _, err := gw.dir.Leave(userID); err != nil {
			log.Warn().Err(err).Uint("user_id", userID).Msg("leave before create")
		}
		gw.detach(c)
		c.state = StateAuthenticated
	}
	room, err := gw.dir.CreateRoom(userID, directory.RoomSpec{
		Name:            in.Name,
		ThemeID:         in.ThemeID,
		MaxParticipants: in.MaxParticipants,
		Description:     in.Description,
		AlcoholIDs:      in.AlcoholCategory,
		MoodIDs:         in.MoodCategory,
	})
	if err != nil {
		metrics.RoomActionsTotal.WithLabelValues(EventCreateRoom, "error").Inc()
		gw.replyActionError(c, err)
		return
	}
	c.room = gw.hub.GetRoom(room.ID)
	c.room.register <- c
	c.state = StateInRoom
	metrics.RoomActionsTotal.WithLabelValues(EventCreateRoom, "ok").Inc()
	gw.reply(c, EventRoomCreated, gin.H{
		"id":              room.ID,
		"name":            room.Name,
		"themeId":         room.ThemeID,
		"maxParticipants": room.MaxParticipants,
	})
}

// joinRoom 建立参与者记录并加入广播组。
// 加入者收到 room_joined 回执，user_joined 事件广播给全房间。
func (gw *Gateway) joinRoom(c *Client, roomID uint) {
	userID, err := gw.reg.Resolve(context.Background(), c.id)
	if err != nil {
		metrics.RoomActionsTotal.WithLabelValues(EventJoinRoom, "error").Inc()
		gw.replyError(c, "not authenticated")
		return
	}
	// 显式先离开旧房间再加入新房间
	if c.room != nil {
		if _, err := gw.dir.Leave(userID); err != nil {
			log.Warn().Err(err).Uint("user_id", userID).Msg("leave before join")
		}
		gw.detach(c)
	}
	if _, err := gw.dir.Join(roomID, userID); err != nil {
		c.state = StateAuthenticated
		metrics.RoomActionsTotal.WithLabelValues(EventJoinRoom, "error").Inc()
		gw.replyActionError(c, err)
		return
	}
	c.room = gw.hub.GetRoom(roomID)
	c.room.register <- c
	c.state = StateInRoom
	metrics.RoomActionsTotal.WithLabelValues(EventJoinRoom, "ok").Inc()
	gw.reply(c, EventRoomJoined, gin.H{"roomId": roomID})
}

// leaveRoom 删除参与者记录并退出广播组。
// 用户本就不在房间里时是良性 no-op，依旧回 room_left。
func (gw *Gateway) leaveRoom(c *Client) {
	userID, err := gw.reg.Resolve(context.Background(), c.id)
	if err != nil {
		metrics.RoomActionsTotal.WithLabelValues(EventLeaveRoom, "error").Inc()
		gw.replyError(c, "not authenticated")
		return
	}
	roomID, err := gw.dir.Leave(userID)
	if err != nil {
		metrics.RoomActionsTotal.WithLabelValues(EventLeaveRoom, "error").Inc()
		gw.replyActionError(c, err)
		return
	}
	if roomID != 0 || c.room != nil {
		gw.detach(c)
	}
	c.state = StateAuthenticated
	metrics.RoomActionsTotal.WithLabelValues(EventLeaveRoom, "ok").Inc()
	gw.reply(c, EventRoomLeft, gin.H{"roomId": roomID})
}

// chat 把聊天内容转发给当前房间，不落库。
func (gw *Gateway) chat(c *Client, content string) {
	if c.state != StateInRoom || c.room == nil || content == "" {
		gw.replyError(c, "not in a room")
		return
	}
	evt := gin.H{"event": EventChat, "roomId": c.room.roomID, "userId": c.userID, "content": content}
	if b, err := json.Marshal(evt); err == nil {
		metrics.RoomBroadcastsTotal.WithLabelValues(EventChat).Inc()
		c.room.broadcast <- b
	}
}

// Disconnect 是断连清理：先尽力离开房间（失败只记日志），
// 然后无条件解绑连接身份。顺序不能反——先解绑就再也解析不出用户了。
func (gw *Gateway) Disconnect(c *Client) {
	if c.state == StateClosed {
		return
	}
	userID, err := gw.reg.Resolve(context.Background(), c.id)
	if err != nil {
		// 注册表查不到就退回连接上记的身份，离房清理不能因此跳过。
		log.Warn().Err(err).Str("conn_id", c.id).Msg("disconnect resolve, falling back to client identity")
		userID = c.userID
	}
	if userID != 0 {
		if _, err := gw.dir.Leave(userID); err != nil {
			log.Warn().Err(err).Uint("user_id", userID).Str("conn_id", c.id).Msg("disconnect leave")
		}
	}
	gw.detach(c)
	if err := gw.reg.Unbind(context.Background(), c.id); err != nil {
		log.Warn().Err(err).Str("conn_id", c.id).Msg("disconnect unbind")
	}
	c.state = StateClosed
	close(c.send)
	metrics.WsConnections.Dec()
}

// detach 把连接从当前广播组摘除，组内其余成员会收到 user_left。
func (gw *Gateway) detach(c *Client) {
	if c.room == nil {
		return
	}
	c.room.unregister <- c
	c.room = nil
}

func (gw *Gateway) reply(c *Client, event string, message interface{}) {
	b, err := json.Marshal(gin.H{"event": event, "message": message})
	if err != nil {
		return
	}
	c.enqueue(b)
}

// replyError 只通知请求者本人，绝不广播。
func (gw *Gateway) replyError(c *Client, msg string) {
	b, err := json.Marshal(gin.H{"event": EventError, "error": msg})
	if err != nil {
		return
	}
	c.enqueue(b)
}

// replyActionError 把目录/存储错误映射为用户可见的失败通知。
// 基础设施错误对外只给笼统提示，完整细节进日志。
func (gw *Gateway) replyActionError(c *Client, err error) {
	switch {
	case errors.Is(err, directory.ErrValidation):
		gw.replyError(c, "invalid payload")
	case errors.Is(err, directory.ErrInvalidReference):
		gw.replyError(c, "invalid reference")
	case errors.Is(err, directory.ErrRoomNotFound):
		gw.replyError(c, "room not found")
	default:
		log.Error().Err(err).Str("conn_id", c.id).Msg("gateway action")
		gw.replyError(c, "internal error")
	}
}
