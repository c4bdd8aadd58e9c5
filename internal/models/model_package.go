package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Package is a purchasable plan. Read-only to the reconciliation pipeline
// apart from the price-id lookup.
type Package struct {
	ID int64 `gorm:"column:id;primaryKey" json:"id"`
	// Name is keyed by locale, e.g. {"en": "Basic", "de": "Basis"}.
	Name           datatypes.JSONType[map[string]string] `gorm:"column:name;type:jsonb;not null" json:"name"`
	MonthlyPrice   decimal.Decimal                       `gorm:"column:monthly_price;type:numeric(12,2);not null" json:"monthly_price"`
	Currency       string                                `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	GatewayPriceID string                                `gorm:"column:gateway_price_id;type:varchar(128);not null;uniqueIndex:uq_packages_gateway_price_id" json:"gateway_price_id"`
	Active         bool                                  `gorm:"column:active;not null;default:true" json:"active"`
	Popular        bool                                  `gorm:"column:popular;not null;default:false" json:"popular"`
	CreatedAt      time.Time                             `json:"created_at"`
	UpdatedAt      time.Time                             `json:"updated_at"`
}

func (Package) TableName() string { return "packages" }

// LocalizedName falls back to English, then to any name present.
func (p *Package) LocalizedName(locale string) string {
	names := p.Name.Data()
	if n, ok := names[locale]; ok && n != "" {
		return n
	}
	if n, ok := names["en"]; ok && n != "" {
		return n
	}
	for _, n := range names {
		return n
	}
	return ""
}
