package models

import "time"

// Alert is a token call that was posted to the alert channel and is still
// being followed up.
type Alert struct {
	Address                  string    `gorm:"primaryKey"`
	MessageID                int64     `gorm:"not null"`       // Message id in the alert channel, replies thread on it
	InitialMarketCap         float64   `gorm:"not null"`       // Market cap when the call was posted
	ChatID                   int64     `gorm:"not null"`       // Chat the call came from
	BotName                  string    `gorm:"not null"`       // Userbot that posted the alert
	CreatedAt                time.Time `gorm:"not null;index"` // Reset when the address is called again
	Bonded                   bool      `gorm:"default:false"`
	TokenName                string
	TokenSymbol              string
	CreationTime             time.Time // Pair creation time reported by DexScreener
	MarketCapIncreaseAlerted bool      `gorm:"default:false"`
	BondingAlerted           bool      `gorm:"default:false"`
	NextCheckAt              time.Time `gorm:"not null;index"`
}

// UserCall records that a user (or channel) called an address.
type UserCall struct {
	ID               uint      `gorm:"primaryKey"`
	UserID           int64     `gorm:"not null;index:idx_user_calls_user_created"`
	Address          string    `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null;index:idx_user_calls_user_created"`
	InitialMarketCap float64   `gorm:"not null"`
	Success          bool      `gorm:"default:false"` // Set once the call reached 2x
}

// Keyword is a word that triggers a keyword alert when the owning user
// mentions it.
type Keyword struct {
	ID      uint   `gorm:"primaryKey"`
	UserID  int64  `gorm:"not null;uniqueIndex:idx_keywords_user_keyword"`
	Keyword string `gorm:"not null;uniqueIndex:idx_keywords_user_keyword"`
}

// UptimeConfig is the single row describing the monitored uptime URL.
type UptimeConfig struct {
	ID       uint `gorm:"primaryKey"`
	URL      string
	LastPing *time.Time
	Status   string
}

func (UptimeConfig) TableName() string { return "uptime_config" }

// TargetKind names the registry set a Target belongs to.
type TargetKind string

const (
	TargetUser       TargetKind = "user"       // Calls from this user are tracked anywhere
	TargetChat       TargetKind = "chat"       // Every call in this chat is tracked
	TargetChannel    TargetKind = "channel"    // Monitored broadcast channel
	TargetAdmin      TargetKind = "admin"      // May use management commands
	TargetCaller     TargetKind = "caller"     // Label overrides the caller name for a chat
	TargetAssignment TargetKind = "assignment" // Label is the userbot posting for a chat
)

// Target is one entry of the admin-managed registry.
type Target struct {
	ID       uint       `gorm:"primaryKey"`
	Kind     TargetKind `gorm:"not null;uniqueIndex:idx_targets_kind_target"`
	TargetID int64      `gorm:"not null;uniqueIndex:idx_targets_kind_target"`
	Label    string
}
