package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account 实体余额表
// 记录每个实体最后一次落库的余额，内存缓存才是读取的权威来源
type Account struct {
	EntityID    uuid.UUID       `gorm:"type:char(36);primaryKey" json:"entity_id"`
	DisplayName string          `gorm:"type:varchar(64);not null" json:"display_name"` // 展示名，加载时不一致则覆盖
	Balance     Amount          `gorm:"not null;default:0" json:"balance"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string {
	return "economy_account"
}

// NewAccount 创建零余额账户
func NewAccount(entityID uuid.UUID, displayName string, now time.Time) Account {
	return Account{
		EntityID:    entityID,
		DisplayName: displayName,
		Balance:     NewAmount(decimal.Zero),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
