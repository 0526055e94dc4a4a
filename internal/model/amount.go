package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Amount 余额列类型，落库时不丢精度
//
// SQLite 的 decimal 列是 NUMERIC 亲和性，超过 15 位有效数字会被转成浮点，
// 所以按方言选择列类型：SQLite 存 TEXT，MySQL 用最大精度 DECIMAL，PostgreSQL 用不限精度的 NUMERIC
type Amount struct {
	decimal.Decimal
}

func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

func (Amount) GormDataType() string {
	return "decimal"
}

func (Amount) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "sqlite":
		return "TEXT"
	case "mysql":
		return "DECIMAL(65,30)"
	case "postgres":
		return "NUMERIC"
	}
	return ""
}
