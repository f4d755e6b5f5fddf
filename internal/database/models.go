package database

import "time"

// Connection is a stored backend host profile: one SSH, RDP, VNC or Docker
// target that sessions can be opened against.
type Connection struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	Kind      string    `gorm:"not null" json:"kind"` // ssh | rdp | vnc | docker
	Host      string    `gorm:"not null" json:"host"`
	Port      int       `gorm:"not null;default:22" json:"port"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null;default:user" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UserConnection assigns a non-admin user access to a connection profile.
type UserConnection struct {
	UserID       uint `gorm:"primaryKey" json:"user_id"`
	ConnectionID uint `gorm:"primaryKey" json:"connection_id"`
}
