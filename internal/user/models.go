package user

import (
	"time"

	"github.com/lib/pq"
)

type User struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Username  string         `gorm:"not null" json:"username"`
	Email     string         `gorm:"uniqueIndex;not null" json:"email"`
	Password  string         `gorm:"not null" json:"-"`
	Avatar    string         `json:"avatar,omitempty"`
	Code      string         `gorm:"uniqueIndex" json:"code,omitempty"`
	Status    bool           `json:"status"`
	Anonymous bool           `json:"anonymous"`
	PublicKey string         `json:"public_key,omitempty"`
	Blocked   pq.StringArray `gorm:"type:text[]" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
