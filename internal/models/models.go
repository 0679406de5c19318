package models

import "time"

const (
	RoomTypeDirect = "direct"

	RoleAdmin  = "admin"
	RoleMember = "member"

	MessageTypeText  = "text"
	MessageTypeImage = "image"
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;size:128;not null"`
	FirstName    string `gorm:"size:64;not null"`
	LastName     string `gorm:"size:64;not null"`
	PasswordHash string `gorm:"not null"`
	IsActive     bool   `gorm:"not null;default:true"`
	IsAdmin      bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayName 返回消息中冗余存储的展示名。
func (u User) DisplayName() string {
	return u.FirstName + " " + u.LastName
}

type Room struct {
	ID           uint      `gorm:"primaryKey"`
	Name         string    `gorm:"size:128;not null"`
	Type         string    `gorm:"size:16;not null;default:direct"`
	CreatorID    uint      `gorm:"not null"`
	IsActive     bool      `gorm:"not null;default:true;index"`
	LastActivity time.Time `gorm:"index"`
	Members      []RoomMember
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RoomMember 记录成员关系；退出只填 LeftAt，行保留作为历史。
type RoomMember struct {
	ID       uint      `gorm:"primaryKey"`
	RoomID   uint      `gorm:"uniqueIndex:idx_member_room_user;not null"`
	UserID   uint      `gorm:"uniqueIndex:idx_member_room_user;not null"`
	Role     string    `gorm:"size:16;not null"`
	JoinedAt time.Time `gorm:"not null"`
	LeftAt   *time.Time
}

// Message 软删除只置标志位，内容保留在行内（既定的保留策略，勿改成清空）。
type Message struct {
	ID         uint   `gorm:"primaryKey"`
	RoomID     uint   `gorm:"index:idx_msg_room_created;not null"`
	SenderID   uint   `gorm:"index;not null"`
	SenderName string `gorm:"size:129;not null"`
	Content    string `gorm:"type:text;not null"`
	Type       string `gorm:"size:16;not null;default:text"`
	IsEdited   bool   `gorm:"not null;default:false"`
	EditedAt   *time.Time
	IsDeleted  bool `gorm:"not null;default:false;index"`
	DeletedAt  *time.Time
	CreatedAt  time.Time `gorm:"index:idx_msg_room_created"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
