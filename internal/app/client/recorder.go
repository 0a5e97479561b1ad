package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"possync/internal/domain/ledger"
	"possync/internal/domain/opsqueue"
)

// Recorder фиксирует бизнес-события устройства. Каждое действие в одной
// локальной транзакции: движение в журнал, обновление проекции остатка и
// запись в очередь операций. Либо всё, либо ничего — частичная запись
// это единственное состояние, которое дизайн запрещает. Синхронизацию
// Recorder не запускает, очередь разбирает движок отдельно.
type Recorder struct {
	storage  *SQLiteStorage
	log      *slog.Logger
	deviceID string
	now      func() time.Time
}

// NewRecorder создает регистратор бизнес-событий
func NewRecorder(storage *SQLiteStorage, log *slog.Logger, deviceID string) *Recorder {
	return &Recorder{
		storage:  storage,
		log:      log,
		deviceID: deviceID,
		now:      time.Now,
	}
}

// SaleLine строка продажи
type SaleLine struct {
	ProductID int64
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
}

// ReceptionLine строка приемки
type ReceptionLine struct {
	ProductID int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
}

// RecordSale регистрирует продажу: по движению и операции на строку плюс
// итоговая операция sale.created
func (r *Recorder) RecordSale(ctx context.Context, lines []SaleLine, paymentMode string) (string, error) {
	if len(lines) == 0 {
		return "", fmt.Errorf("продажа без строк")
	}

	saleID := uuid.NewString()
	now := r.now()

	err := r.storage.inTx(ctx, func(txs *SQLiteStorage) error {
		total := decimal.Zero

		for _, line := range lines {
			if line.Qty.Sign() <= 0 {
				return fmt.Errorf("количество должно быть положительным (товар %d)", line.ProductID)
			}
			total = total.Add(line.Qty.Mul(line.UnitPrice))

			if err := r.applyMovement(ctx, txs, &ledger.StockMovement{
				ID:        uuid.NewString(),
				ProductID: line.ProductID,
				Delta:     line.Qty.Neg(),
				Reason:    ledger.ReasonSale,
				RefType:   "vente",
				RefID:     saleID,
				DeviceID:  r.deviceID,
				CreatedAt: now,
			}); err != nil {
				return err
			}

			if err := r.enqueue(ctx, txs, opsqueue.OpSaleLineAdded, "produit",
				strconv.FormatInt(line.ProductID, 10), now,
				opsqueue.SaleLinePayload{
					SaleID:    saleID,
					ProductID: line.ProductID,
					Qty:       line.Qty,
					UnitPrice: line.UnitPrice,
				}); err != nil {
				return err
			}
		}

		return r.enqueue(ctx, txs, opsqueue.OpSaleCreated, "vente", saleID, now,
			opsqueue.SaleCreatedPayload{
				SaleID:      saleID,
				Total:       total,
				PaymentMode: paymentMode,
				SoldAt:      now,
				LinesCount:  len(lines),
			})
	})
	if err != nil {
		return "", fmt.Errorf("не удалось записать продажу: %w", err)
	}

	r.log.Info("sale recorded", "sale_id", saleID, "lines", len(lines))
	return saleID, nil
}

// RecordReception регистрирует приемку товара от поставщика
func (r *Recorder) RecordReception(ctx context.Context, lines []ReceptionLine) (string, error) {
	if len(lines) == 0 {
		return "", fmt.Errorf("приемка без строк")
	}

	receptionID := uuid.NewString()
	now := r.now()

	err := r.storage.inTx(ctx, func(txs *SQLiteStorage) error {
		for _, line := range lines {
			if line.Qty.Sign() <= 0 {
				return fmt.Errorf("количество должно быть положительным (товар %d)", line.ProductID)
			}

			if err := r.applyMovement(ctx, txs, &ledger.StockMovement{
				ID:        uuid.NewString(),
				ProductID: line.ProductID,
				Delta:     line.Qty,
				Reason:    ledger.ReasonReception,
				RefType:   "reception",
				RefID:     receptionID,
				DeviceID:  r.deviceID,
				CreatedAt: now,
			}); err != nil {
				return err
			}

			if err := r.enqueue(ctx, txs, opsqueue.OpReceptionLineAdded, "produit",
				strconv.FormatInt(line.ProductID, 10), now,
				opsqueue.ReceptionLinePayload{
					ReceptionID: receptionID,
					ProductID:   line.ProductID,
					Qty:         line.Qty,
					UnitCost:    line.UnitCost,
				}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("не удалось записать приемку: %w", err)
	}

	r.log.Info("reception recorded", "reception_id", receptionID, "lines", len(lines))
	return receptionID, nil
}

// AdjustStock корректирует остаток на delta (итог инвентаризации)
func (r *Recorder) AdjustStock(ctx context.Context, productID int64, delta decimal.Decimal, sessionUUID string) error {
	if delta.IsZero() {
		return nil
	}
	now := r.now()

	err := r.storage.inTx(ctx, func(txs *SQLiteStorage) error {
		counted, err := txs.ComputeStock(ctx, productID)
		if err != nil {
			return err
		}
		return r.adjustInTx(ctx, txs, productID, delta, counted.Add(delta), sessionUUID, now)
	})
	if err != nil {
		return fmt.Errorf("не удалось записать корректировку: %w", err)
	}

	r.log.Info("stock adjusted", "product_id", productID, "delta", delta.String())
	return nil
}

// SetStock выставляет остаток товара в qty; в журнал попадает дельта
func (r *Recorder) SetStock(ctx context.Context, productID int64, qty decimal.Decimal) error {
	now := r.now()

	err := r.storage.inTx(ctx, func(txs *SQLiteStorage) error {
		current, err := txs.ComputeStock(ctx, productID)
		if err != nil {
			return err
		}
		delta := qty.Sub(current)
		if delta.IsZero() {
			return nil
		}

		if err := r.applyMovement(ctx, txs, &ledger.StockMovement{
			ID:        uuid.NewString(),
			ProductID: productID,
			Delta:     delta,
			Reason:    ledger.ReasonAdjustment,
			RefType:   "stock",
			RefID:     strconv.FormatInt(productID, 10),
			DeviceID:  r.deviceID,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		return r.enqueue(ctx, txs, opsqueue.OpStockSet, "produit",
			strconv.FormatInt(productID, 10), now,
			opsqueue.StockSetPayload{
				ProductID: productID,
				Qty:       qty,
				PrevQty:   current,
			})
	})
	if err != nil {
		return fmt.Errorf("не удалось установить остаток: %w", err)
	}

	r.log.Info("stock set", "product_id", productID, "qty", qty.String())
	return nil
}

// adjustInTx корректировка остатка внутри уже открытой транзакции
// (используется и отдельной корректировкой, и закрытием инвентаризации)
func (r *Recorder) adjustInTx(ctx context.Context, txs *SQLiteStorage, productID int64, delta, counted decimal.Decimal, sessionUUID string, now time.Time) error {
	if err := r.applyMovement(ctx, txs, &ledger.StockMovement{
		ID:        uuid.NewString(),
		ProductID: productID,
		Delta:     delta,
		Reason:    ledger.ReasonInventory,
		RefType:   "inventaire",
		RefID:     sessionUUID,
		DeviceID:  r.deviceID,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	return r.enqueue(ctx, txs, opsqueue.OpInventoryAdjust, "produit",
		strconv.FormatInt(productID, 10), now,
		opsqueue.InventoryAdjustPayload{
			ProductID:   productID,
			Delta:       delta,
			CountedQty:  counted,
			SessionUUID: sessionUUID,
		})
}

// applyMovement вставляет движение и пересчитывает кэшированный остаток
func (r *Recorder) applyMovement(ctx context.Context, txs *SQLiteStorage, m *ledger.StockMovement) error {
	if err := txs.Append(ctx, m); err != nil {
		return err
	}
	stock, err := txs.ComputeStock(ctx, m.ProductID)
	if err != nil {
		return err
	}
	return txs.SetProjectedStock(ctx, m.ProductID, stock)
}

func (r *Recorder) enqueue(ctx context.Context, txs *SQLiteStorage, opType, entityType, entityID string, now time.Time, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return txs.Enqueue(ctx, &opsqueue.Entry{
		ID:         uuid.NewString(),
		DeviceID:   r.deviceID,
		OpType:     opType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    raw,
		CreatedAt:  now,
	})
}
