package sync

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DTO протокола синхронизации (HTTP+JSON).
// Имена полей справочников французские — это контракт с историческими
// клиентами, менять нельзя.

// PushOp операция в пакете push
type PushOp struct {
	ID         string          `json:"id" doc:"Клиентский идемпотентный идентификатор операции"`
	OpType     string          `json:"op_type" example:"sale.created"`
	EntityType string          `json:"entity_type" example:"vente"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload_json"`
	CreatedAt  time.Time       `json:"created_at" format:"date-time"`
}

// PushOpsRequest пакет операций с одного устройства
type PushOpsRequest struct {
	DeviceID string   `json:"deviceId" minLength:"1"`
	Ops      []PushOp `json:"ops"`
}

// OpError отклоненная операция с причиной
type OpError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// PushOpsResponse результат обработки пакета: каждая операция либо
// подтверждена, либо отклонена с причиной
type PushOpsResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Acked    []string  `json:"acked,omitempty"`
	Rejected []OpError `json:"rejected,omitempty"`
}

// RefProduct товар в справочнике
type RefProduct struct {
	ID          int64           `json:"id"`
	Nom         string          `json:"nom"`
	CodeBarre   string          `json:"code_barre,omitempty"`
	Prix        decimal.Decimal `json:"prix"`
	Stock       decimal.Decimal `json:"stock"`
	CategorieID int64           `json:"categorie_id,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RefCategory категория товаров
type RefCategory struct {
	ID        int64     `json:"id"`
	Nom       string    `json:"nom"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RefPaymentMode способ оплаты
type RefPaymentMode struct {
	ID        int64     `json:"id"`
	Nom       string    `json:"nom"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RefData справочные и агрегатные данные сервера
type RefData struct {
	Produits      []RefProduct     `json:"produits"`
	Categories    []RefCategory    `json:"categories"`
	ModesPaiement []RefPaymentMode `json:"modes_paiement"`
}

// PullRefsResponse ответ pull-цикла
type PullRefsResponse struct {
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	Data       RefData   `json:"data"`
	ServerTime time.Time `json:"server_time"`
}
