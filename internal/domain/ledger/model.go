package ledger

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Reason причина движения товара
type Reason string

const (
	ReasonSale       Reason = "sale"
	ReasonReception  Reason = "reception"
	ReasonInventory  Reason = "inventory"
	ReasonAdjustment Reason = "adjustment"
)

// Valid проверяет, что причина входит в известный набор
func (r Reason) Valid() bool {
	switch r {
	case ReasonSale, ReasonReception, ReasonInventory, ReasonAdjustment:
		return true
	}
	return false
}

// StockMovement запись журнала движений товара.
// Запись неизменяема после вставки: журнал является единственным
// источником истины о том, что и когда произошло с остатками.
type StockMovement struct {
	ID        string          `json:"id"`
	ProductID int64           `json:"product_id"`
	Delta     decimal.Decimal `json:"delta"`
	Reason    Reason          `json:"reason"`
	RefType   string          `json:"ref_type,omitempty"`
	RefID     string          `json:"ref_id,omitempty"`
	DeviceID  string          `json:"device_id"`
	CreatedAt time.Time       `json:"created_at"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

// SamePayload сравнивает бизнес-содержимое двух движений с одинаковым ID.
// Повторная вставка того же движения (ретрай) легальна, вставка другого
// содержимого под тем же ID — ошибка.
func (m *StockMovement) SamePayload(other *StockMovement) bool {
	if other == nil {
		return false
	}
	return m.ProductID == other.ProductID &&
		m.Delta.Equal(other.Delta) &&
		m.Reason == other.Reason &&
		m.RefType == other.RefType &&
		m.RefID == other.RefID
}

// CurrentStock проекция текущего остатка по товару.
// Производная величина: всегда восстанавливается из журнала и базового
// остатка, авторитетным не является.
type CurrentStock struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// StockSnapshot срез остатка на дату, один на товар в день.
// Используется для трендов и как страховка при очистке старых движений.
type StockSnapshot struct {
	TenantID     string          `json:"tenant_id"`
	SnapshotDate time.Time       `json:"snapshot_date"`
	ProductID    int64           `json:"product_id"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// StockTotal агрегат по товару: базовый остаток плюс сумма дельт журнала
type StockTotal struct {
	ProductID     int64
	Total         decimal.Decimal
	MovementCount int
}
