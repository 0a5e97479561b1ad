package opsqueue

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payload-структуры операций. Все количества и суммы — decimal, чтобы
// ретрансляция через JSON не накапливала плавающую ошибку.

// SaleCreatedPayload продажа целиком
type SaleCreatedPayload struct {
	SaleID      string          `json:"sale_id"`
	Total       decimal.Decimal `json:"total"`
	PaymentMode string          `json:"payment_mode"`
	SoldAt      time.Time       `json:"sold_at"`
	LinesCount  int             `json:"lines_count"`
}

// SaleLinePayload строка продажи; движение остатка со знаком минус
type SaleLinePayload struct {
	SaleID    string          `json:"sale_id"`
	ProductID int64           `json:"product_id"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ReceptionLinePayload строка приемки; движение со знаком плюс
type ReceptionLinePayload struct {
	ReceptionID string          `json:"reception_id"`
	ProductID   int64           `json:"product_id"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost,omitempty"`
}

// SessionStartPayload начало инвентаризации
type SessionStartPayload struct {
	SessionUUID string    `json:"session_uuid"`
	StartedAt   time.Time `json:"started_at"`
	User        string    `json:"user,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// CountAddPayload подсчитанный товар в рамках сессии
type CountAddPayload struct {
	SessionUUID string          `json:"session_uuid"`
	ProductID   int64           `json:"product_id"`
	Qty         decimal.Decimal `json:"qty"`
	CountedAt   time.Time       `json:"counted_at"`
}

// FinalizePayload закрытие сессии инвентаризации
type FinalizePayload struct {
	SessionUUID string    `json:"session_uuid"`
	EndedAt     time.Time `json:"ended_at"`
}

// InventoryAdjustPayload корректировка остатка по итогам подсчета
type InventoryAdjustPayload struct {
	ProductID   int64           `json:"product_id"`
	Delta       decimal.Decimal `json:"delta"`
	CountedQty  decimal.Decimal `json:"counted_qty"`
	SessionUUID string          `json:"session_uuid,omitempty"`
}

// StockSetPayload прямая установка остатка
type StockSetPayload struct {
	ProductID int64           `json:"product_id"`
	Qty       decimal.Decimal `json:"qty"`
	PrevQty   decimal.Decimal `json:"prev_qty"`
}
