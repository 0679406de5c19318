package ws

import (
	"sync"

	"dmchat/internal/metrics"
)

// Hub 维护进程内的连接登记表（连接 ID -> 客户端）和房间订阅表。
// 状态只存在于本进程，重启即丢，靠在线状态表的 TTL 自行收敛；
// 单实例假设：跨实例的广播扇出需要外部 pub/sub，当前不支持。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client          // connID -> client
	users   map[uint]map[string]*Client // userID -> connID -> client（多端登录）
	rooms   map[uint]map[string]*Client // roomID -> connID -> client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		users:   make(map[uint]map[string]*Client),
		rooms:   make(map[uint]map[string]*Client),
	}
}

// Register 登记一条新连接。
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.connID] = c
	if h.users[c.userID] == nil {
		h.users[c.userID] = make(map[string]*Client)
	}
	h.users[c.userID][c.connID] = c
	metrics.WsConnections.Inc()
}

// Unregister 注销连接：移出登记表和所有房间订阅，关闭发送通道。
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.connID]; !ok {
		return
	}
	delete(h.clients, c.connID)
	if conns := h.users[c.userID]; conns != nil {
		delete(conns, c.connID)
		if len(conns) == 0 {
			delete(h.users, c.userID)
		}
	}
	for roomID, subs := range h.rooms {
		if _, ok := subs[c.connID]; ok {
			delete(subs, c.connID)
			if len(subs) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	close(c.send)
	metrics.WsConnections.Dec()
}

// JoinRoom 将连接订阅到房间频道。
func (h *Hub) JoinRoom(roomID uint, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.connID]; !ok {
		return
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][c.connID] = c
}

// LeaveRoom 取消连接对房间频道的订阅，返回该连接此前是否在订阅表中。
// 未订阅的连接返回 false，调用方据此决定要不要广播退出事件。
func (h *Hub) LeaveRoom(roomID uint, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.rooms[roomID]
	if subs == nil {
		return false
	}
	if _, ok := subs[c.connID]; !ok {
		return false
	}
	delete(subs, c.connID)
	if len(subs) == 0 {
		delete(h.rooms, roomID)
	}
	return true
}

// BroadcastRoom 向房间的全部订阅连接投递；无人订阅时静默丢弃。
// 发送通道已满的慢连接直接跳过，不做重试。
func (h *Hub) BroadcastRoom(roomID uint, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[roomID] {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// BroadcastAll 向全部在线连接投递，用于上下线通知。
func (h *Hub) BroadcastAll(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// SendToUser 向某用户的全部连接单播。
func (h *Hub) SendToUser(userID uint, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.users[userID] {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// OnlineInRoom 返回房间当前的订阅连接数，REST 层复用。
func (h *Hub) OnlineInRoom(roomID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Online 返回当前登记的连接总数。
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserID 按连接 ID 反查用户，未登记返回 false。
func (h *Hub) UserID(connID string) (uint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return 0, false
	}
	return c.userID, true
}
