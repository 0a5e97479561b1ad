package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store интерфейс хранилища журнала движений и его проекций
type Store interface {
	// Append вставляет движение. Повторная вставка того же ID с тем же
	// содержимым — no-op; с другим содержимым — ErrDuplicateMovement.
	Append(ctx context.Context, m *StockMovement) error

	// ComputeStock возвращает базовый остаток плюс сумму дельт журнала
	ComputeStock(ctx context.Context, productID int64) (decimal.Decimal, error)

	// ProjectedStock возвращает кэшированный остаток из current_stock
	ProjectedStock(ctx context.Context, productID int64) (decimal.Decimal, error)

	// SetProjectedStock обновляет кэшированный остаток товара
	SetProjectedStock(ctx context.Context, productID int64, qty decimal.Decimal) error

	// ListStockTotals возвращает агрегаты по всем товарам с движениями
	// или ненулевым базовым остатком
	ListStockTotals(ctx context.Context) ([]StockTotal, error)

	// WriteSnapshot записывает срез; существующая строка за ту же дату
	// по тому же товару не перезаписывается
	WriteSnapshot(ctx context.Context, snap *StockSnapshot) error

	// LatestSnapshotDate возвращает дату последнего среза,
	// нулевое время если срезов нет
	LatestSnapshotDate(ctx context.Context, tenantID string) (time.Time, error)

	// SnapshotCount возвращает число строк среза за дату
	SnapshotCount(ctx context.Context, tenantID string, date time.Time) (int, error)

	// PruneMovementsBefore удаляет движения старше cutoff
	PruneMovementsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// PruneSnapshotsBefore удаляет срезы старше cutoff
	PruneSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TxStore хранилище, умеющее выполнять набор операций в одной транзакции
type TxStore interface {
	Store

	// InTx выполняет fn в одной транзакции; ошибка откатывает всё
	InTx(ctx context.Context, fn func(Store) error) error
}
