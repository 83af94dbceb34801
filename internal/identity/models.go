package identity

import (
	"time"

	"gorm.io/gorm"
)

type Session struct {
	SessionID string    `gorm:"primaryKey" json:"-"`
	UserID    string    `gorm:"not null;index" json:"-"`
	ExpiresAt time.Time `gorm:"not null"`
}

type User struct {
	UserID           string `gorm:"primaryKey" json:"user_id"`
	Username         string `gorm:"uniqueIndex;not null" json:"username"`
	Email            string `json:"email"`
	Password         string `json:"password" gorm:"-"`
	HashedPassword   string `json:"-"`
	Role             Role   `gorm:"default:'user'" json:"role"`
	HasPaid          bool   `gorm:"default:false" json:"has_paid"`
	PublisherPackage string `json:"publisher_package,omitempty"`
}

func (Session) TableName() string { return "sessions" }
func (User) TableName() string    { return "users" }

// Init migrates the credential-store tables.
func Init(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Session{})
}
