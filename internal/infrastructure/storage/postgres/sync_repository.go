package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"possync/internal/domain/opsqueue"
	"possync/internal/domain/sync"
)

// SyncRepository реализация серверного хранилища синхронизации для PostgreSQL
type SyncRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewSyncRepository создает новый репозиторий синхронизации
func NewSyncRepository(pool *pgxpool.Pool, log *slog.Logger) *SyncRepository {
	return &SyncRepository{
		pool: pool,
		log:  log,
	}
}

// ApplyOp применяет операцию устройства ровно один раз. Дедупликация и
// бизнес-эффект идут в одной транзакции: вставка в ops_applied либо
// резервирует ID за этим применением, либо (ON CONFLICT DO NOTHING)
// говорит, что эффект уже в базе.
func (r *SyncRepository) ApplyOp(ctx context.Context, deviceID string, op sync.PushOp) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO ops_applied (id, device_id, op_type, applied_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO NOTHING`,
		op.ID, deviceID, op.OpType)
	if err != nil {
		return fmt.Errorf("failed to register op: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sync.ErrAlreadyApplied
	}

	if err := r.applyPayload(ctx, tx, deviceID, op); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *SyncRepository) applyPayload(ctx context.Context, tx pgx.Tx, deviceID string, op sync.PushOp) error {
	switch op.OpType {
	case opsqueue.OpSaleCreated:
		var p opsqueue.SaleCreatedPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return sync.Reject(op.ID, "bad payload: %v", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO ventes (uuid, total, mode_paiement, device_id, sold_at, lines_count)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (uuid) DO NOTHING`,
			p.SaleID, p.Total, p.PaymentMode, deviceID, p.SoldAt, p.LinesCount)
		if err != nil {
			return fmt.Errorf("failed to insert sale: %w", err)
		}
		return nil

	case opsqueue.OpSaleLineAdded:
		var p opsqueue.SaleLinePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return sync.Reject(op.ID, "bad payload: %v", err)
		}
		if p.Qty.Sign() <= 0 {
			return sync.Reject(op.ID, "qty must be positive, got %s", p.Qty)
		}
		if err := r.applyMovement(ctx, tx, op.ID, p.ProductID, p.Qty.Neg(),
			"sale", "vente", p.SaleID, deviceID, op.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO lignes_vente (vente_uuid, produit_id, qty, prix_unitaire)
			VALUES ($1, $2, $3, $4)`,
			p.SaleID, p.ProductID, p.Qty, p.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to insert sale line: %w", err)
		}
		return nil

	case opsqueue.OpReceptionLineAdded:
		var p opsqueue.ReceptionLinePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return sync.Reject(op.ID, "bad payload: %v", err)
		}
		if p.Qty.Sign() <= 0 {
			return sync.Reject(op.ID, "qty must be positive, got %s", p.Qty)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO receptions (uuid, device_id, received_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (uuid) DO NOTHING`,
			p.ReceptionID, deviceID, op.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert reception: %w", err)
		}
		if err := r.applyMovement(ctx, tx, op.ID, p.ProductID, p.Qty,
			"reception", "reception", p.ReceptionID, deviceID, op.CreatedAt); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO lignes_reception (reception_uuid, produit_id, qty, cout_unitaire)
			VALUES ($1, $2, $3, $4)`,
			p.ReceptionID, p.ProductID, p.Qty, p.UnitCost)
		if err != nil {
			return fmt.Errorf("failed to insert reception line: %w", err)
		}
		return nil

	case opsqueue.OpInventorySessionStart:
		var p opsqueue.SessionStartPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return sync.Reject(op.ID, "bad payload: %v", err)
		}
		// UNIQUE по uuid гасит дубликаты сессий от ретраев старых
		// клиентов: вторая вставка того же uuid — no-op
		_, err := tx.Exec(ctx, `
			INSERT INTO inventory_sessions (uuid, device_id, status, started_at, started_by, notes)
			VALUES ($1, $2, 'open', $3, $4, $5)
			ON CONFLICT (uuid) DO NOTHING`,
			p.SessionUUID, deviceID, p.StartedAt, p.User, p.Notes)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil

	case opsqueue.OpInventoryCountAdd:
		var p opsqueue.CountAddPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return sync.Reject(op.ID, "bad payload: %v", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO inventory_counts (session_uuid, produit_id, qty, counted_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (session_uuid, produit_id) DO UPDATE SET
				qty = EXCLUDED.qty, counted_at = EXCLUDED.counted_at`,
			p.SessionUUID, p.ProductID, p.Qty, p.CountedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert count: %w", err)
		}
		return nil

	case opsqueue.OpInventoryFinalize:
		var p opsqueue.FinalizePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return sync.Reject(op.ID, "bad payload: %v", err)
		}
		_, err := tx.Exec(ctx, `
			UPDATE inventory_sessions SET status = 'closed', ended_at = $1
			WHERE uuid = $2 AND status = 'open'`,
			p.EndedAt, p.SessionUUID)
		if err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
		return nil

	case opsqueue.OpInventoryAdjust:
		var p opsqueue.InventoryAdjustPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return sync.Reject(op.ID, "bad payload: %v", err)
		}
		if p.Delta.IsZero() {
			return sync.Reject(op.ID, "zero delta adjustment")
		}
		return r.applyMovement(ctx, tx, op.ID, p.ProductID, p.Delta,
			"inventory", "inventaire", p.SessionUUID, deviceID, op.CreatedAt)

	case opsqueue.OpStockSet:
		var p opsqueue.StockSetPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return sync.Reject(op.ID, "bad payload: %v", err)
		}
		// Дельта считается от серверного остатка, не от клиентского
		// prev_qty: другие устройства могли двигать товар между делом
		current, err := r.productStock(ctx, tx, p.ProductID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return sync.Reject(op.ID, "unknown product %d", p.ProductID)
			}
			return err
		}
		delta := p.Qty.Sub(current)
		if delta.IsZero() {
			return nil
		}
		return r.applyMovement(ctx, tx, op.ID, p.ProductID, delta,
			"adjustment", "stock", fmt.Sprintf("%d", p.ProductID), deviceID, op.CreatedAt)

	default:
		return sync.Reject(op.ID, "unknown op type %q", op.OpType)
	}
}

// applyMovement пишет движение в серверный журнал и сдвигает остаток.
// ID движения — ID операции: ретраи упираются в дедупликацию раньше.
func (r *SyncRepository) applyMovement(ctx context.Context, tx pgx.Tx, opID string,
	productID int64, delta decimal.Decimal, reason, refType, refID, deviceID string, at time.Time) error {

	tag, err := tx.Exec(ctx, `
		UPDATE produits SET stock = stock + $1, updated_at = now()
		WHERE id = $2`,
		delta, productID)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sync.Reject(opID, "unknown product %d", productID)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO stock_movements (id, produit_id, delta, reason, ref_type, ref_id, device_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		opID, productID, delta, reason, refType, refID, deviceID, at)
	if err != nil {
		return fmt.Errorf("failed to insert movement: %w", err)
	}
	return nil
}

func (r *SyncRepository) productStock(ctx context.Context, tx pgx.Tx, productID int64) (decimal.Decimal, error) {
	var stock decimal.Decimal
	err := tx.QueryRow(ctx,
		`SELECT stock FROM produits WHERE id = $1 FOR UPDATE`, productID).Scan(&stock)
	if err != nil {
		return decimal.Zero, err
	}
	return stock, nil
}

// TouchDevice фиксирует время последней синхронизации устройства
func (r *SyncRepository) TouchDevice(ctx context.Context, deviceID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO devices (id, last_sync_at, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET last_sync_at = EXCLUDED.last_sync_at`,
		deviceID, at)
	if err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	return nil
}

// ListProducts возвращает товары, измененные после since
func (r *SyncRepository) ListProducts(ctx context.Context, since time.Time) ([]sync.RefProduct, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, nom, COALESCE(code_barre, ''), prix, stock, COALESCE(categorie_id, 0), updated_at
		FROM produits
		WHERE updated_at > $1
		ORDER BY id`,
		since)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var produits []sync.RefProduct
	for rows.Next() {
		var p sync.RefProduct
		if err := rows.Scan(&p.ID, &p.Nom, &p.CodeBarre, &p.Prix, &p.Stock, &p.CategorieID, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		produits = append(produits, p)
	}
	return produits, rows.Err()
}

// ListCategories возвращает категории, измененные после since
func (r *SyncRepository) ListCategories(ctx context.Context, since time.Time) ([]sync.RefCategory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, nom, updated_at FROM categories
		WHERE updated_at > $1
		ORDER BY id`,
		since)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []sync.RefCategory
	for rows.Next() {
		var c sync.RefCategory
		if err := rows.Scan(&c.ID, &c.Nom, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// ListPaymentModes возвращает способы оплаты, измененные после since
func (r *SyncRepository) ListPaymentModes(ctx context.Context, since time.Time) ([]sync.RefPaymentMode, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, nom, updated_at FROM modes_paiement
		WHERE updated_at > $1
		ORDER BY id`,
		since)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment modes: %w", err)
	}
	defer rows.Close()

	var modes []sync.RefPaymentMode
	for rows.Next() {
		var m sync.RefPaymentMode
		if err := rows.Scan(&m.ID, &m.Nom, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment mode: %w", err)
		}
		modes = append(modes, m)
	}
	return modes, rows.Err()
}
