package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dmchat/internal/auth"
	"dmchat/internal/presence"
	"dmchat/internal/service"
	"dmchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc *service.UserService
	roomSvc *service.RoomService
	msgSvc  *service.MessageService
	pres    *presence.Store
	hub     *ws.Hub
}

func NewHandler(userSvc *service.UserService, roomSvc *service.RoomService, msgSvc *service.MessageService, pres *presence.Store, hub *ws.Hub) *Handler {
	return &Handler{userSvc: userSvc, roomSvc: roomSvc, msgSvc: msgSvc, pres: pres, hub: hub}
}

// respondErr 把业务层 sentinel 错误映射到 HTTP 状态码，未识别的一律 500。
func respondErr(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotMember),
		errors.Is(err, service.ErrNotRoomAdmin),
		errors.Is(err, service.ErrNotSiteAdmin),
		errors.Is(err, service.ErrNotSender):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAlreadyMember),
		errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSelfDirectRoom),
		errors.Is(err, service.ErrMessageDeleted),
		errors.Is(err, service.ErrInvalidContent),
		errors.Is(err, service.ErrInvalidType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("op", op).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func paramID(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Password  string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.Email == "" || !strings.Contains(req.Email, "@") || len(req.Email) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if req.FirstName == "" || req.LastName == "" || len(req.FirstName) > 64 || len(req.LastName) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid name"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.userSvc.Register(req.Email, req.FirstName, req.LastName, req.Password)
	if err != nil {
		respondErr(c, err, "register")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": result})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Email, req.Password)
	if err != nil {
		respondErr(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          service.ToUserDTO(result.User),
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Me 返回当前登录用户，直接复用中间件已解析的用户，不再查库。
func (h *Handler) Me(c *gin.Context) {
	user, ok := auth.GetUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": service.ToUserDTO(user)})
}

// UpdateMe 更新当前登录用户的展示名。
func (h *Handler) UpdateMe(c *gin.Context) {
	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.FirstName) > 64 || len(req.LastName) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid name"})
		return
	}
	user, err := h.userSvc.UpdateProfile(auth.GetUserID(c), strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName))
	if err != nil {
		respondErr(c, err, "update profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// GetUser 按 ID 查询其他用户的公开资料（私聊建房前的对端查询），
// 附带在线状态；在线状态表不可用时降级为 false，不影响主查询。
func (h *Handler) GetUser(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	user, err := h.userSvc.Get(userID)
	if err != nil {
		respondErr(c, err, "get user")
		return
	}
	online, err := h.pres.IsOnline(c.Request.Context(), userID)
	if err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("presence lookup")
		online = false
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "online": online})
}

// CreateMessage 发送消息，同时向房间频道广播实时事件。
func (h *Handler) CreateMessage(c *gin.Context) {
	var req struct {
		RoomID  uint   `json:"room_id"`
		Content string `json:"content"`
		Type    string `json:"message_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	dto, err := h.msgSvc.Create(auth.GetUserID(c), req.RoomID, req.Content, req.Type)
	if err != nil {
		respondErr(c, err, "create message")
		return
	}
	h.hub.BroadcastRoom(req.RoomID, ws.NewMessageEvent(dto))
	c.JSON(http.StatusOK, gin.H{"message": dto})
}

// ListMessages 分页查询房间消息，before 参数为 RFC3339 时间游标。
func (h *Handler) ListMessages(c *gin.Context) {
	roomID, ok := paramID(c, "roomId")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	var before time.Time
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
		before = t
	}
	msgs, err := h.msgSvc.ListByRoom(auth.GetUserID(c), roomID, limit, offset, before)
	if err != nil {
		respondErr(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// EditMessage 编辑自己发送的消息。
func (h *Handler) EditMessage(c *gin.Context) {
	msgID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	dto, err := h.msgSvc.Edit(msgID, auth.GetUserID(c), req.Content)
	if err != nil {
		respondErr(c, err, "edit message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": dto})
}

// DeleteMessage 软删除自己发送的消息。
func (h *Handler) DeleteMessage(c *gin.Context) {
	msgID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.msgSvc.SoftDelete(msgID, auth.GetUserID(c)); err != nil {
		respondErr(c, err, "delete message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// CreateDirectRoom 获取或创建与目标用户的私聊房间（幂等）。
func (h *Handler) CreateDirectRoom(c *gin.Context) {
	var req struct {
		TargetUserID uint `json:"target_user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetUserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	room, err := h.roomSvc.CreateOrGetDirect(auth.GetUserID(c), req.TargetUserID)
	if err != nil {
		respondErr(c, err, "create direct room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": service.ToRoomDTO(room, h.hub.OnlineInRoom(room.ID))})
}

// ListRooms 返回当前用户在籍的房间列表。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.roomSvc.ListForUser(auth.GetUserID(c))
	if err != nil {
		respondErr(c, err, "list rooms")
		return
	}
	out := make([]service.RoomDTO, 0, len(rooms))
	for i := range rooms {
		out = append(out, service.ToRoomDTO(&rooms[i], h.hub.OnlineInRoom(rooms[i].ID)))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

// GetRoom 返回单个房间详情，要求调用者在籍。
func (h *Handler) GetRoom(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}
	room, err := h.roomSvc.GetForUser(roomID, auth.GetUserID(c))
	if err != nil {
		respondErr(c, err, "get room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": service.ToRoomDTO(room, h.hub.OnlineInRoom(room.ID))})
}

// AddMember 房间 admin 拉人进房。
func (h *Handler) AddMember(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	room, err := h.roomSvc.AddMember(roomID, auth.GetUserID(c), req.UserID)
	if err != nil {
		respondErr(c, err, "add member")
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": service.ToRoomDTO(room, h.hub.OnlineInRoom(room.ID))})
}

// LeaveRoom 退出房间（成员行保留，LeftAt 置为当前时间）。
func (h *Handler) LeaveRoom(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.roomSvc.Leave(roomID, auth.GetUserID(c)); err != nil {
		respondErr(c, err, "leave room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": true})
}

// DeleteRoom 站点管理员停用房间并清空消息历史，不可恢复。
func (h *Handler) DeleteRoom(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.roomSvc.Delete(roomID, auth.GetUserID(c)); err != nil {
		respondErr(c, err, "delete room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// OnlineUsers 返回当前在线用户（按用户去重）。
func (h *Handler) OnlineUsers(c *gin.Context) {
	recs, err := h.pres.ListOnline(c.Request.Context())
	if err != nil {
		respondErr(c, err, "online users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": recs})
}
