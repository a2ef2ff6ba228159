package model

import (
	"time"
)

// JWTTokenBlacklist holds revoked token IDs until they would have expired anyway.
type JWTTokenBlacklist struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TokenID   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"token_id"` // JWT jti
	UserID    uint      `gorm:"index" json:"user_id"`
	Reason    string    `gorm:"type:varchar(100)" json:"reason"` // logout, security
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (JWTTokenBlacklist) TableName() string {
	return "jwt_token_blacklist"
}
