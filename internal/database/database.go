package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/termgate/termgate/internal/config"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	if dbDir := filepath.Dir(dbPath); dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&Connection{}, &Setting{}, &User{}, &UserConnection{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if err := seedDefaults(); err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}

	return nil
}

func Close() {
	if DB == nil {
		return
	}
	if sqlDB, err := DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// seedDefaults inserts runtime-tunable settings that are absent, leaving
// operator-edited values untouched.
func seedDefaults() error {
	defaults := map[string]string{
		"heartbeat_desktop_interval": "30s",
		"heartbeat_desktop_missed":   "2",
		"heartbeat_mobile_interval":  "15s",
		"heartbeat_mobile_missed":    "3",
		"suspend_expiry":             "30m",
		"max_suspended_per_user":     "5",
	}

	for key, value := range defaults {
		var count int64
		if err := DB.Model(&Setting{}).Where("key = ?", key).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			if err := DB.Create(&Setting{Key: key, Value: value}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// GetSetting returns the stored value for key, or fallback when missing.
func GetSetting(key, fallback string) string {
	var s Setting
	if err := DB.First(&s, "key = ?", key).Error; err != nil {
		return fallback
	}
	return s.Value
}

// GetSettingInt returns the stored integer value for key, or fallback when
// missing or unparsable.
func GetSettingInt(key string, fallback int) int {
	v := GetSetting(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func GetConnectionByID(id uint) (*Connection, error) {
	var c Connection
	if err := DB.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func GetUserByID(id uint) (*User, error) {
	var u User
	if err := DB.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByUsername(username string) (*User, error) {
	var u User
	if err := DB.First(&u, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func GetFirstAdmin() (*User, error) {
	var u User
	if err := DB.First(&u, "role = ?", "admin").Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func CreateUser(user *User) error {
	return DB.Create(user).Error
}

// IsUserAssignedToConnection reports whether the user has an explicit
// assignment to the connection. Admins are handled by the caller.
func IsUserAssignedToConnection(userID, connectionID uint) bool {
	var count int64
	DB.Model(&UserConnection{}).
		Where("user_id = ? AND connection_id = ?", userID, connectionID).
		Count(&count)
	return count > 0
}

// ListConnectionsForUser returns connections visible to the user: all of
// them for admins, assigned ones otherwise.
func ListConnectionsForUser(user *User) ([]Connection, error) {
	var conns []Connection
	q := DB.Order("name")
	if user.Role != "admin" {
		q = q.Joins("JOIN user_connections ON user_connections.connection_id = connections.id").
			Where("user_connections.user_id = ?", user.ID)
	}
	if err := q.Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}
