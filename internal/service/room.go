package service

import (
	"errors"
	"time"

	"dmchat/internal/models"

	"gorm.io/gorm"
)

// RoomService 封装房间与成员关系的业务逻辑。
type RoomService struct {
	db *gorm.DB
}

func NewRoomService(db *gorm.DB) *RoomService {
	return &RoomService{db: db}
}

// HasAccess 判断用户当前是否可读写房间：存在成员行且未退出。
// 纯判断，消息读写和频道订阅统一走这里。
func HasAccess(room *models.Room, userID uint) bool {
	for _, m := range room.Members {
		if m.UserID == userID && m.LeftAt == nil {
			return true
		}
	}
	return false
}

// Get 加载房间及成员，房间不存在或已停用按 NotFound 处理。
func (s *RoomService) Get(roomID uint) (*models.Room, error) {
	var room models.Room
	err := s.db.Preload("Members").Where("is_active = ?", true).First(&room, roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// GetForUser 在 Get 的基础上校验调用者的访问权。
func (s *RoomService) GetForUser(roomID, userID uint) (*models.Room, error) {
	room, err := s.Get(roomID)
	if err != nil {
		return nil, err
	}
	if !HasAccess(room, userID) {
		return nil, ErrNotMember
	}
	return room, nil
}

// ListForUser 返回用户当前在籍的活跃房间，按最近活动倒序。
func (s *RoomService) ListForUser(userID uint) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.Preload("Members").
		Where("is_active = ?", true).
		Where("id IN (?)", s.db.Model(&models.RoomMember{}).Select("room_id").Where("user_id = ? AND left_at IS NULL", userID)).
		Order("last_activity desc").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

// CreateOrGetDirect 获取或创建两人私聊房间。同一对用户（无关顺序）重复调用
// 返回同一个房间；唯一性靠成员对查找保证，没有库级约束。
func (s *RoomService) CreateOrGetDirect(creatorID, targetID uint) (*models.Room, error) {
	if creatorID == targetID {
		return nil, ErrSelfDirectRoom
	}
	var creator, target models.User
	if err := s.db.First(&creator, creatorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if err := s.db.First(&target, targetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	pair := s.db.Model(&models.RoomMember{}).Select("room_id").
		Where("user_id IN ?", []uint{creatorID, targetID}).
		Group("room_id").
		Having("COUNT(DISTINCT user_id) = 2")
	var existing models.Room
	err := s.db.Preload("Members").
		Where("type = ? AND is_active = ?", models.RoomTypeDirect, true).
		Where("id IN (?)", pair).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now()
	room := models.Room{
		Name:         creator.FirstName + " & " + target.FirstName,
		Type:         models.RoomTypeDirect,
		CreatorID:    creatorID,
		IsActive:     true,
		LastActivity: now,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		members := []models.RoomMember{
			{RoomID: room.ID, UserID: creatorID, Role: models.RoleAdmin, JoinedAt: now},
			{RoomID: room.ID, UserID: targetID, Role: models.RoleMember, JoinedAt: now},
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(room.ID)
}

// AddMember 仅房间 admin 可拉人。目标已在籍报冲突；曾退出则复活原成员行
// （清 LeftAt、重置 JoinedAt），不产生重复行。
func (s *RoomService) AddMember(roomID, callerID, targetID uint) (*models.Room, error) {
	room, err := s.Get(roomID)
	if err != nil {
		return nil, err
	}
	caller := findMember(room, callerID)
	if caller == nil || caller.LeftAt != nil || caller.Role != models.RoleAdmin {
		return nil, ErrNotRoomAdmin
	}
	var target models.User
	if err := s.db.First(&target, targetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	now := time.Now()
	if existing := findMember(room, targetID); existing != nil {
		if existing.LeftAt == nil {
			return nil, ErrAlreadyMember
		}
		err = s.db.Model(&models.RoomMember{}).Where("id = ?", existing.ID).
			Updates(map[string]interface{}{"left_at": nil, "joined_at": now, "role": models.RoleMember}).Error
	} else {
		member := models.RoomMember{RoomID: roomID, UserID: targetID, Role: models.RoleMember, JoinedAt: now}
		err = s.db.Create(&member).Error
	}
	if err != nil {
		return nil, err
	}
	return s.Get(roomID)
}

// Leave 标记调用者退出，非在籍成员报错。
func (s *RoomService) Leave(roomID, callerID uint) error {
	room, err := s.Get(roomID)
	if err != nil {
		return err
	}
	member := findMember(room, callerID)
	if member == nil || member.LeftAt != nil {
		return ErrNotMember
	}
	now := time.Now()
	return s.db.Model(&models.RoomMember{}).Where("id = ?", member.ID).Update("left_at", &now).Error
}

// Delete 站点管理员专用：停用房间并物理删除其全部消息，不可恢复。
func (s *RoomService) Delete(roomID, callerID uint) error {
	var caller models.User
	if err := s.db.First(&caller, callerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if !caller.IsAdmin {
		return ErrNotSiteAdmin
	}
	room, err := s.Get(roomID)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Room{}).Where("id = ?", room.ID).Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Where("room_id = ?", room.ID).Delete(&models.Message{}).Error
	})
}

// TouchActivity 更新房间最近活动时间，消息写入后调用。
func (s *RoomService) TouchActivity(tx *gorm.DB, roomID uint, at time.Time) error {
	return tx.Model(&models.Room{}).Where("id = ?", roomID).Update("last_activity", at).Error
}

// MemberDTO 是对外输出的成员数据。
type MemberDTO struct {
	UserID   uint       `json:"user_id"`
	Role     string     `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// RoomDTO 是对外输出的房间数据，Online 为当前订阅连接数。
type RoomDTO struct {
	ID           uint        `json:"id"`
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	CreatorID    uint        `json:"creator_id"`
	LastActivity time.Time   `json:"last_activity"`
	Members      []MemberDTO `json:"members"`
	Online       int         `json:"online"`
}

func ToRoomDTO(room *models.Room, online int) RoomDTO {
	members := make([]MemberDTO, 0, len(room.Members))
	for _, m := range room.Members {
		members = append(members, MemberDTO{UserID: m.UserID, Role: m.Role, JoinedAt: m.JoinedAt, LeftAt: m.LeftAt})
	}
	return RoomDTO{
		ID:           room.ID,
		Name:         room.Name,
		Type:         room.Type,
		CreatorID:    room.CreatorID,
		LastActivity: room.LastActivity,
		Members:      members,
		Online:       online,
	}
}

func findMember(room *models.Room, userID uint) *models.RoomMember {
	for i := range room.Members {
		if room.Members[i].UserID == userID {
			return &room.Members[i]
		}
	}
	return nil
}
