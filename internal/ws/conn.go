package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"dmchat/internal/auth"
	"dmchat/internal/config"
	"dmchat/internal/metrics"
	"dmchat/internal/models"
	"dmchat/internal/presence"
	"dmchat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	connID string
	userID uint
	name   string
	deps   deps
}

type deps struct {
	rooms *service.RoomService
	msgs  *service.MessageService
	pres  *presence.Store
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event 是 WebSocket 双向事件的统一外壳。
type Event struct {
	Type    string `json:"type"`
	RoomID  uint   `json:"room_id,omitempty"`
	Content string `json:"content,omitempty"`
	MsgType string `json:"message_type,omitempty"`
	Status  string `json:"status,omitempty"`
}

// NewMessageEvent 把持久化后的消息包装成 newMessage 广播事件，REST 发消息路径也复用。
func NewMessageEvent(msg interface{}) []byte {
	b, _ := json.Marshal(map[string]interface{}{"type": "newMessage", "message": msg})
	return b
}

func marshalEvent(typ string, fields map[string]interface{}) []byte {
	evt := map[string]interface{}{"type": typ}
	for k, v := range fields {
		evt[k] = v
	}
	b, _ := json.Marshal(evt)
	return b
}

// Serve 处理 WebSocket 握手：鉴权、登记连接、写在线状态、
// 自动订阅用户在籍的全部房间，并广播上线通知。
func Serve(h *Hub, db *gorm.DB, cfg config.Config, pres *presence.Store, rooms *service.RoomService, msgs *service.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		var user models.User
		if err := db.First(&user, claims.UserID).Error; err != nil || !user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		client := &Client{
			hub:    h,
			conn:   conn,
			send:   make(chan []byte, 256),
			connID: uuid.NewString(),
			userID: user.ID,
			name:   user.DisplayName(),
			deps:   deps{rooms: rooms, msgs: msgs, pres: pres},
		}
		h.Register(client)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := pres.SetOnline(ctx, user.ID, client.connID); err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).Msg("presence set online")
		}
		cancel()

		// 断线重连后重建订阅：把连接挂到用户在籍的全部房间频道上。
		userRooms, err := rooms.ListForUser(user.ID)
		if err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).Msg("ws auto join rooms")
		}
		for _, r := range userRooms {
			h.JoinRoom(r.ID, client)
		}

		h.BroadcastAll(marshalEvent("userConnected", map[string]interface{}{
			"user_id": user.ID, "name": client.name,
		}))
		log.Info().Uint("user_id", user.ID).Str("conn_id", client.connID).Int("rooms", len(userRooms)).Msg("ws connected")

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer c.disconnect()
	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in Event
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendError("invalid event payload")
			continue
		}
		c.handleEvent(in)
	}
}

// handleEvent 分发客户端事件；任何业务失败折叠成 error 事件，只带一条文案。
func (c *Client) handleEvent(in Event) {
	switch in.Type {
	case "joinRoom":
		room, err := c.deps.rooms.GetForUser(in.RoomID, c.userID)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.hub.JoinRoom(room.ID, c)
		c.hub.BroadcastRoom(room.ID, marshalEvent("userJoinedRoom", map[string]interface{}{
			"room_id": room.ID, "user_id": c.userID, "name": c.name,
		}))
	case "leaveRoom":
		// 只有真正订阅过的连接才广播退出事件，防止伪造别人房间里的通知。
		if !c.hub.LeaveRoom(in.RoomID, c) {
			c.sendError("not subscribed to room")
			return
		}
		c.hub.BroadcastRoom(in.RoomID, marshalEvent("userLeftRoom", map[string]interface{}{
			"room_id": in.RoomID, "user_id": c.userID, "name": c.name,
		}))
	case "sendMessage":
		dto, err := c.deps.msgs.Create(c.userID, in.RoomID, in.Content, in.MsgType)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		metrics.WsMessagesTotal.Inc()
		c.hub.BroadcastRoom(in.RoomID, NewMessageEvent(dto))
	case "getOnlineUsers":
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		recs, err := c.deps.pres.ListOnline(ctx)
		if err != nil {
			c.sendError("failed to list online users")
			return
		}
		b, _ := json.Marshal(map[string]interface{}{"type": "onlineUsers", "users": recs})
		c.trySend(b)
	case "status":
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.deps.pres.UpdateStatus(ctx, c.userID, in.Status); err != nil {
			c.sendError(err.Error())
		}
	default:
		c.sendError("unknown event type")
	}
}

// disconnect 统一的断开清理：注销连接、删在线记录、广播下线通知。
func (c *Client) disconnect() {
	c.hub.Unregister(c)
	_ = c.conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.deps.pres.SetOffline(ctx, c.connID); err != nil {
		log.Error().Err(err).Str("conn_id", c.connID).Msg("presence set offline")
	}
	c.hub.BroadcastAll(marshalEvent("userDisconnected", map[string]interface{}{
		"user_id": c.userID, "name": c.name,
	}))
	log.Info().Uint("user_id", c.userID).Str("conn_id", c.connID).Msg("ws disconnected")
}

func (c *Client) sendError(msg string) {
	c.trySend(marshalEvent("error", map[string]interface{}{"message": msg}))
}

func (c *Client) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
