package opsqueue

import (
	"encoding/json"
	"time"
)

// Типы операций, передаваемых на сервер. Таксономия точечная и
// расширяемая: каждый payload самодостаточен и восстанавливает
// бизнес-эффект без обращения к другим операциям.
const (
	OpSaleCreated           = "sale.created"
	OpSaleLineAdded         = "sale.line_added"
	OpReceptionLineAdded    = "reception.line_added"
	OpInventorySessionStart = "inventory.session_start"
	OpInventoryCountAdd     = "inventory.count_add"
	OpInventoryFinalize     = "inventory.finalize"
	OpInventoryAdjust       = "inventory.adjust"
	OpStockSet              = "stock.set"
)

// Status состояние записи очереди
type Status string

const (
	StatusPending Status = "pending"
	StatusAcked   Status = "acked"
	StatusBlocked Status = "blocked"
)

// Entry запись очереди операций: локальная durable-запись бизнес-мутации,
// ожидающая передачи на сервер. Создается бизнес-действием, дальше ее
// трогает только движок синхронизации.
type Entry struct {
	ID         string          `json:"id"`
	DeviceID   string          `json:"device_id"`
	OpType     string          `json:"op_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	Ack        bool            `json:"ack"`
	SentAt     time.Time       `json:"sent_at,omitempty"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	FailedAt   time.Time       `json:"failed_at,omitempty"`
	Blocked    bool            `json:"blocked"`
}

// Status возвращает текущее состояние записи
func (e *Entry) Status() Status {
	switch {
	case e.Ack:
		return StatusAcked
	case e.Blocked:
		return StatusBlocked
	default:
		return StatusPending
	}
}
