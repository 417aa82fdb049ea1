package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	KindDirect  = "dm"
	KindSupport = "support"
)

const (
	MessageText = "text"
	MessageFile = "file"
)

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"size:128;not null" json:"name"`
	Username     string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"size:16;not null;default:user;index" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Conversation 只允许两名成员；PairKey 唯一约束保证同一对用户只有一个 dm、每个用户只有一个 support。
type Conversation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"size:16;not null;index" json:"kind"`
	Title     string    `gorm:"size:255" json:"title,omitempty"`
	PairKey   *string   `gorm:"uniqueIndex;size:64" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type ConversationMember struct {
	ConversationID uint `gorm:"primaryKey;autoIncrement:false"`
	UserID         uint `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt      time.Time
}

type Message struct {
	ID             uint       `gorm:"primaryKey"`
	ConversationID uint       `gorm:"index:idx_msg_conv_created,priority:1;not null"`
	SenderID       uint       `gorm:"index;not null"`
	Type           string     `gorm:"size:8;not null"`
	Content        string     `gorm:"type:text"`
	FileName       string     `gorm:"size:255"`
	FilePath       string     `gorm:"size:255"`
	CreatedAt      time.Time  `gorm:"index:idx_msg_conv_created,priority:2"`
	ReadAt         *time.Time `gorm:"index"`
}

// Attachment 是对存储侧文件的不透明引用。
type Attachment struct {
	Name string `json:"file_name"`
	Path string `json:"file_path"`
}

// MessageView 是消息与发送者显示名的联表投影，也是对外广播的消息形态。
type MessageView struct {
	ID             uint       `json:"id"`
	ConversationID uint       `json:"conversation_id"`
	SenderID       uint       `json:"sender_id"`
	SenderName     string     `json:"sender_name"`
	Type           string     `json:"type"`
	Content        string     `json:"content"`
	FileName       string     `json:"file_name,omitempty"`
	FilePath       string     `json:"file_path,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at"`
}
