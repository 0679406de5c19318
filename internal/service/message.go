package service

import (
	"errors"
	"time"

	"dmchat/internal/models"

	"gorm.io/gorm"
)

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	db    *gorm.DB
	rooms *RoomService
}

func NewMessageService(db *gorm.DB, rooms *RoomService) *MessageService {
	return &MessageService{db: db, rooms: rooms}
}

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	ID         uint       `json:"id"`
	RoomID     uint       `json:"room_id"`
	SenderID   uint       `json:"sender_id"`
	SenderName string     `json:"sender_name"`
	Content    string     `json:"content"`
	Type       string     `json:"message_type"`
	IsEdited   bool       `json:"is_edited"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toDTO(m models.Message) MessageDTO {
	return MessageDTO{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Type:       m.Type,
		IsEdited:   m.IsEdited,
		EditedAt:   m.EditedAt,
		CreatedAt:  m.CreatedAt,
	}
}

func validContent(content string) bool {
	return len(content) >= 1 && len(content) <= 2000
}

// Create 写入一条消息：校验房间、访问权和内容，冗余发送者展示名，
// 并在同一事务里刷新房间的最近活动时间。
func (s *MessageService) Create(senderID, roomID uint, content, msgType string) (*MessageDTO, error) {
	if !validContent(content) {
		return nil, ErrInvalidContent
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if msgType != models.MessageTypeText && msgType != models.MessageTypeImage {
		return nil, ErrInvalidType
	}
	room, err := s.rooms.Get(roomID)
	if err != nil {
		return nil, err
	}
	if !HasAccess(room, senderID) {
		return nil, ErrNotMember
	}
	var sender models.User
	if err := s.db.First(&sender, senderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	msg := models.Message{
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: sender.DisplayName(),
		Content:    content,
		Type:       msgType,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return s.rooms.TouchActivity(tx, roomID, msg.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	dto := toDTO(msg)
	return &dto, nil
}

// ListByRoom 分页查询房间内未删除的消息，按时间倒序（最新在前）。
// limit 默认 50、上限 200；before 为可选的时间游标。
func (s *MessageService) ListByRoom(callerID, roomID uint, limit, offset int, before time.Time) ([]MessageDTO, error) {
	if _, err := s.rooms.GetForUser(roomID, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := s.db.Where("room_id = ? AND is_deleted = ?", roomID, false)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}
	var msgs []models.Message
	if err := q.Order("created_at desc, id desc").Limit(limit).Offset(offset).Find(&msgs).Error; err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toDTO(m))
	}
	return out, nil
}

// Edit 仅原发送者可编辑；已软删除的消息拒绝编辑。
func (s *MessageService) Edit(messageID, callerID uint, content string) (*MessageDTO, error) {
	msg, err := s.get(messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != callerID {
		return nil, ErrNotSender
	}
	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}
	if !validContent(content) {
		return nil, ErrInvalidContent
	}
	now := time.Now()
	err = s.db.Model(&models.Message{}).Where("id = ?", msg.ID).
		Updates(map[string]interface{}{"content": content, "is_edited": true, "edited_at": &now}).Error
	if err != nil {
		return nil, err
	}
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now
	dto := toDTO(*msg)
	return &dto, nil
}

// SoftDelete 仅原发送者可删除；只置标志位，内容按保留策略原样留存。
func (s *MessageService) SoftDelete(messageID, callerID uint) error {
	msg, err := s.get(messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != callerID {
		return ErrNotSender
	}
	if msg.IsDeleted {
		return ErrMessageDeleted
	}
	now := time.Now()
	return s.db.Model(&models.Message{}).Where("id = ?", msg.ID).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_at": &now}).Error
}

func (s *MessageService) get(messageID uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.First(&msg, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}
