package model

import (
	"time"
)

// Market binds an asset identifier to its ledger contracts and per-asset
// trading policy.
type Market struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	AssetID string `gorm:"size:100;not null;uniqueIndex" json:"asset_id"`
	Name    string `gorm:"size:255" json:"name"`

	ExchangeAddress string `gorm:"size:42;not null" json:"exchange_address"`
	TokenAddress    string `gorm:"size:42;not null" json:"token_address"`
	CurrencyAddress string `gorm:"size:42;not null" json:"currency_address"`

	TokenDecimals    int32 `gorm:"not null;default:18" json:"token_decimals"`
	CurrencyDecimals int32 `gorm:"not null;default:6" json:"currency_decimals"`

	FallbackEnabled bool       `gorm:"column:fallback_enabled;not null;default:false" json:"fallback_enabled"`
	TradingDeadline *time.Time `json:"trading_deadline,omitempty"`
	Active          bool       `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Market) TableName() string {
	return "markets"
}

// DeadlinePassed reports whether trading for the market closed before now.
func (m *Market) DeadlinePassed(now time.Time) bool {
	return m.TradingDeadline != nil && now.After(*m.TradingDeadline)
}
