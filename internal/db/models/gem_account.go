package models

import "time"

// GemAccount stores credentials and gem balance for a pooled game account
// used to fulfill gift purchases.
type GemAccount struct {
	ID              string `gorm:"primaryKey"` // UUID
	AccountNumber   int    `gorm:"uniqueIndex"`
	Email           string `gorm:"uniqueIndex"`
	Password        string
	CurrentNickname string // live display name on the upstream platform
	GemsRemaining   int
	IsActive        bool       `gorm:"default:true"`
	LastUsedAt      *time.Time // nil until the account first spends gems
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
