package service

import "errors"

// 业务层通用错误，handler 按类型映射 HTTP 状态码：
// NotFound 类 -> 404，权限类 -> 403，冲突 -> 409，其余校验失败 -> 400。
var (
	ErrEmailTaken         = errors.New("email taken")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrUserNotFound    = errors.New("user not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")

	ErrNotMember    = errors.New("not a member of the room")
	ErrNotRoomAdmin = errors.New("room admin role required")
	ErrNotSiteAdmin = errors.New("admin privileges required")
	ErrNotSender    = errors.New("only the sender may modify the message")

	ErrAlreadyMember  = errors.New("already an active member")
	ErrSelfDirectRoom = errors.New("direct room requires two distinct users")
	ErrMessageDeleted = errors.New("message is deleted")
	ErrInvalidContent = errors.New("content must be 1-2000 characters")
	ErrInvalidType    = errors.New("unknown message type")
)
