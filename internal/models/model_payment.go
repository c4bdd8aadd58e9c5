package models

import (
	"strings"
	"time"

	"github.com/fatflowers/subledger/pkg/types"
	"github.com/shopspring/decimal"
)

// Payment is an append-only record of one successful charge.
type Payment struct {
	ID                     string              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SubscriptionID         string              `gorm:"column:subscription_id;type:uuid;not null;index:idx_payments_subscription_id" json:"subscription_id"`
	UserID                 int64               `gorm:"column:user_id;not null" json:"user_id"`
	GatewayInvoiceID       string              `gorm:"column:gateway_invoice_id;type:varchar(128);not null;uniqueIndex:uq_payments_gateway_invoice_id" json:"gateway_invoice_id"`
	GatewayPaymentIntentID *string             `gorm:"column:gateway_payment_intent_id;type:varchar(128)" json:"gateway_payment_intent_id"`
	Amount                 decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Currency               string              `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	Status                 types.PaymentStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	PaymentMethod          string              `gorm:"column:payment_method;type:varchar(64)" json:"payment_method"`
	PaidAt                 time.Time           `gorm:"column:paid_at;not null" json:"paid_at"`
	CreatedAt              time.Time           `json:"created_at"`
}

func (Payment) TableName() string { return "payments" }

// Currencies whose gateway minor unit is not the cent.
var (
	zeroDecimalCurrencies = map[string]bool{
		"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
		"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
		"vuv": true, "xaf": true, "xof": true, "xpf": true,
	}
	threeDecimalCurrencies = map[string]bool{
		"bhd": true, "jod": true, "kwd": true, "omr": true, "tnd": true,
	}
)

// CurrencyExponent is the number of decimal places of the currency's minor
// unit as the gateway reports amounts.
func CurrencyExponent(currency string) int32 {
	c := strings.ToLower(currency)
	switch {
	case zeroDecimalCurrencies[c]:
		return 0
	case threeDecimalCurrencies[c]:
		return 3
	}
	return 2
}

// AmountFromMinor converts gateway minor units into a decimal amount:
// 3990 eur becomes 39.90, 500 jpy stays 500.
func AmountFromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -CurrencyExponent(currency))
}

// FormatAmount renders amount with the currency's usual number of decimals.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(CurrencyExponent(currency))
}
