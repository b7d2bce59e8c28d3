package models

import (
	"time"

	"gorm.io/gorm"
)

// 用户状态，deactivated 的账号不允许建立连接。
const (
	UserStatusActive      = "active"
	UserStatusDeactivated = "deactivated"
)

type User struct {
	ID            uint   `gorm:"primaryKey"`
	Email         string `gorm:"uniqueIndex;size:128;not null"`
	Nickname      string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash  string `gorm:"not null"`
	Status        string `gorm:"size:16;not null;default:active"`
	EmailVerified bool   `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

type Theme struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:64;not null"`
}

type AlcoholCategory struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:64;not null"`
}

type MoodCategory struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:64;not null"`
}

type Room struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"size:50;not null"`
	ThemeID         uint   `gorm:"index;not null"`
	MaxParticipants int    `gorm:"not null"`
	Description     string `gorm:"size:200"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// 房间与酒类/氛围分类的多对多关联行。
type RoomAlcoholCategory struct {
	ID                uint `gorm:"primaryKey"`
	RoomID            uint `gorm:"index:idx_room_alcohol,unique;not null"`
	AlcoholCategoryID uint `gorm:"index:idx_room_alcohol,unique;not null"`
}

type RoomMoodCategory struct {
	ID             uint `gorm:"primaryKey"`
	RoomID         uint `gorm:"index:idx_room_mood,unique;not null"`
	MoodCategoryID uint `gorm:"index:idx_room_mood,unique;not null"`
}

// Participant 表示用户与房间的归属关系。
// UserID 全局唯一：一个用户同一时刻只能在一个房间。
type Participant struct {
	ID        uint `gorm:"primaryKey"`
	RoomID    uint `gorm:"index;not null"`
	UserID    uint `gorm:"uniqueIndex;not null"`
	IsHost    bool `gorm:"not null;default:false"`
	CreatedAt time.Time
}
