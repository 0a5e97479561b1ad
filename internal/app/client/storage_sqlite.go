package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"possync/internal/domain/ledger"
	"possync/internal/domain/opsqueue"
	syncdomain "possync/internal/domain/sync"
)

// querier общий срез *sql.DB и *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStorage локальное хранилище устройства: журнал движений, очередь
// операций, проекции и справочники. Единственный писатель — этот процесс.
type SQLiteStorage struct {
	db *sql.DB // nil внутри транзакции
	q  querier
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}

	storage := &SQLiteStorage{db: db, q: db}

	if err := storage.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка инициализации таблиц: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS produits (
			id INTEGER PRIMARY KEY,
			nom TEXT NOT NULL DEFAULT '',
			code_barre TEXT NOT NULL DEFAULT '',
			prix TEXT NOT NULL DEFAULT '0',
			categorie_id INTEGER,
			base_stock TEXT NOT NULL DEFAULT '0',
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS categories (
			id INTEGER PRIMARY KEY,
			nom TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS modes_paiement (
			id INTEGER PRIMARY KEY,
			nom TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS stock_movements (
			id TEXT PRIMARY KEY,
			product_id INTEGER NOT NULL,
			delta TEXT NOT NULL,
			reason TEXT NOT NULL,
			ref_type TEXT NOT NULL DEFAULT '',
			ref_id TEXT NOT NULL DEFAULT '',
			device_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			meta TEXT,
			absorbed INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_movements_product ON stock_movements(product_id);
		CREATE INDEX IF NOT EXISTS idx_movements_created ON stock_movements(created_at);

		CREATE TABLE IF NOT EXISTS current_stock (
			product_id INTEGER PRIMARY KEY,
			quantity TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS stock_snapshots (
			tenant_id TEXT NOT NULL,
			snapshot_date TEXT NOT NULL,
			product_id INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			PRIMARY KEY (tenant_id, snapshot_date, product_id)
		);

		CREATE TABLE IF NOT EXISTS ops_queue (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			op_type TEXT NOT NULL,
			entity_type TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			ack INTEGER NOT NULL DEFAULT 0,
			sent_at DATETIME,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			failed_at DATETIME,
			blocked INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_ops_pending ON ops_queue(ack, blocked, created_at);
		CREATE INDEX IF NOT EXISTS idx_ops_entity ON ops_queue(entity_type, entity_id);

		CREATE TABLE IF NOT EXISTS inventory_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			remote_uuid TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			user TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_remote ON inventory_sessions(remote_uuid);

		CREATE TABLE IF NOT EXISTS inventory_counts (
			session_id INTEGER NOT NULL REFERENCES inventory_sessions(id) ON DELETE CASCADE,
			product_id INTEGER NOT NULL,
			qty TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, product_id)
		);
	`)

	return err
}

func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// inTx выполняет fn в одной транзакции SQLite. Вложенный вызов (хранилище
// уже транзакционное) просто выполняет fn.
func (s *SQLiteStorage) inTx(ctx context.Context, fn func(*SQLiteStorage) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	txStorage := &SQLiteStorage{q: tx}
	if err := fn(txStorage); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w; rollback failed: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// InTx реализация ledger.TxStore
func (s *SQLiteStorage) InTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.inTx(ctx, func(txs *SQLiteStorage) error {
		return fn(txs)
	})
}

// --- ledger.Store ---

// Append вставляет движение в журнал. Повтор того же ID с тем же
// содержимым — no-op, с другим — ledger.ErrDuplicateMovement.
func (s *SQLiteStorage) Append(ctx context.Context, m *ledger.StockMovement) error {
	existing, err := s.getMovement(ctx, m.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check movement: %w", err)
	}
	if existing != nil {
		if existing.SamePayload(m) {
			return nil
		}
		return ledger.ErrDuplicateMovement
	}

	var meta any
	if len(m.Meta) > 0 {
		meta = string(m.Meta)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, delta, reason, ref_type, ref_id, device_id, created_at, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProductID, m.Delta.String(), string(m.Reason),
		m.RefType, m.RefID, m.DeviceID, m.CreatedAt.UTC().Format(time.RFC3339Nano), meta,
	)
	if err != nil {
		return fmt.Errorf("failed to insert movement: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) getMovement(ctx context.Context, id string) (*ledger.StockMovement, error) {
	var (
		m         ledger.StockMovement
		delta     string
		reason    string
		createdAt string
		meta      sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, product_id, delta, reason, ref_type, ref_id, device_id, created_at, meta
		FROM stock_movements WHERE id = ?`, id,
	).Scan(&m.ID, &m.ProductID, &delta, &reason, &m.RefType, &m.RefID, &m.DeviceID, &createdAt, &meta)
	if err != nil {
		return nil, err
	}

	m.Delta, err = decimal.NewFromString(delta)
	if err != nil {
		return nil, fmt.Errorf("failed to parse delta %q: %w", delta, err)
	}
	m.Reason = ledger.Reason(reason)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if meta.Valid {
		m.Meta = []byte(meta.String)
	}
	return &m, nil
}

// ComputeStock возвращает базовый остаток плюс сумму непоглощенных дельт
func (s *SQLiteStorage) ComputeStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	base, err := s.baseStock(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT delta FROM stock_movements WHERE product_id = ? AND absorbed = 0`, productID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query deltas: %w", err)
	}
	defer rows.Close()

	total := base
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan delta: %w", err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse delta %q: %w", raw, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

func (s *SQLiteStorage) baseStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var raw string
	err := s.q.QueryRowContext(ctx,
		`SELECT base_stock FROM produits WHERE id = ?`, productID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		// Движения могут опережать справочник
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get base stock: %w", err)
	}
	return decimal.NewFromString(raw)
}

func (s *SQLiteStorage) ProjectedStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var raw string
	err := s.q.QueryRowContext(ctx,
		`SELECT quantity FROM current_stock WHERE product_id = ?`, productID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get projected stock: %w", err)
	}
	return decimal.NewFromString(raw)
}

func (s *SQLiteStorage) SetProjectedStock(ctx context.Context, productID int64, qty decimal.Decimal) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO current_stock (product_id, quantity) VALUES (?, ?)
		ON CONFLICT(product_id) DO UPDATE SET quantity = excluded.quantity`,
		productID, qty.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set projected stock: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListStockTotals(ctx context.Context) ([]ledger.StockTotal, error) {
	// Суммы decimal считаются на стороне Go: SQLite сложил бы TEXT как float
	type agg struct {
		sum   decimal.Decimal
		count int
	}
	deltas := make(map[int64]*agg)

	rows, err := s.q.QueryContext(ctx,
		`SELECT product_id, delta, absorbed FROM stock_movements`)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID int64
			raw       string
			absorbed  bool
		)
		if err := rows.Scan(&productID, &raw, &absorbed); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		a := deltas[productID]
		if a == nil {
			a = &agg{sum: decimal.Zero}
			deltas[productID] = a
		}
		a.count++
		if absorbed {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse delta %q: %w", raw, err)
		}
		a.sum = a.sum.Add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	bases := make(map[int64]decimal.Decimal)
	prows, err := s.q.QueryContext(ctx, `SELECT id, base_stock FROM produits`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		var (
			id  int64
			raw string
		)
		if err := prows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		base, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse base stock %q: %w", raw, err)
		}
		bases[id] = base
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var totals []ledger.StockTotal
	for id, base := range bases {
		total := base
		count := 0
		if a := deltas[id]; a != nil {
			total = total.Add(a.sum)
			count = a.count
		}
		totals = append(totals, ledger.StockTotal{ProductID: id, Total: total, MovementCount: count})
		seen[id] = true
	}
	for id, a := range deltas {
		if seen[id] {
			continue
		}
		totals = append(totals, ledger.StockTotal{ProductID: id, Total: a.sum, MovementCount: a.count})
	}

	return totals, nil
}

func (s *SQLiteStorage) WriteSnapshot(ctx context.Context, snap *ledger.StockSnapshot) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO stock_snapshots (tenant_id, snapshot_date, product_id, quantity)
		VALUES (?, ?, ?, ?)`,
		snap.TenantID, snap.SnapshotDate.Format("2006-01-02"), snap.ProductID, snap.Quantity.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) LatestSnapshotDate(ctx context.Context, tenantID string) (time.Time, error) {
	var raw sql.NullString
	err := s.q.QueryRowContext(ctx,
		`SELECT MAX(snapshot_date) FROM stock_snapshots WHERE tenant_id = ?`, tenantID).Scan(&raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest snapshot date: %w", err)
	}
	if !raw.Valid {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw.String)
}

func (s *SQLiteStorage) SnapshotCount(ctx context.Context, tenantID string, date time.Time) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stock_snapshots WHERE tenant_id = ? AND snapshot_date = ?`,
		tenantID, date.Format("2006-01-02")).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

// PruneMovementsBefore удаляет движения старше cutoff. Непоглощенные
// дельты перед удалением сворачиваются в base_stock, иначе сломался бы
// инвариант base + sum(deltas) == current.
func (s *SQLiteStorage) PruneMovementsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cut := cutoff.UTC().Format(time.RFC3339Nano)

	rows, err := s.q.QueryContext(ctx, `
		SELECT product_id, delta FROM stock_movements
		WHERE created_at < ? AND absorbed = 0`, cut)
	if err != nil {
		return 0, fmt.Errorf("failed to query prunable movements: %w", err)
	}
	defer rows.Close()

	rollup := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var (
			productID int64
			raw       string
		)
		if err := rows.Scan(&productID, &raw); err != nil {
			return 0, fmt.Errorf("failed to scan movement: %w", err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return 0, fmt.Errorf("failed to parse delta %q: %w", raw, err)
		}
		rollup[productID] = rollup[productID].Add(d)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for productID, sum := range rollup {
		base, err := s.baseStock(ctx, productID)
		if err != nil {
			return 0, err
		}
		// Заглушка для товара вне справочника получает нулевой
		// updated_at, иначе первый настоящий pull проиграет ей по LWW
		_, err = s.q.ExecContext(ctx, `
			INSERT INTO produits (id, base_stock, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET base_stock = ?`,
			productID, base.Add(sum).String(), time.Time{}.Format(time.RFC3339Nano), base.Add(sum).String(),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to roll up base stock: %w", err)
		}
	}

	res, err := s.q.ExecContext(ctx,
		`DELETE FROM stock_movements WHERE created_at < ?`, cut)
	if err != nil {
		return 0, fmt.Errorf("failed to prune movements: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) PruneSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM stock_snapshots WHERE snapshot_date < ?`, cutoff.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// --- opsqueue.Repository ---

func (s *SQLiteStorage) Enqueue(ctx context.Context, e *opsqueue.Entry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ops_queue (id, device_id, op_type, entity_type, entity_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeviceID, e.OpType, e.EntityType, e.EntityID, string(e.Payload),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return opsqueue.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to enqueue op: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListPending(ctx context.Context, limit int) ([]*opsqueue.Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, device_id, op_type, entity_type, entity_id, payload, created_at,
		       ack, sent_at, retry_count, last_error, failed_at, blocked
		FROM ops_queue
		WHERE ack = 0 AND blocked = 0
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending ops: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *SQLiteStorage) HasPendingFor(ctx context.Context, entityType, entityID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM ops_queue
			WHERE entity_type = ? AND entity_id = ? AND ack = 0
		)`, entityType, entityID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending ops: %w", err)
	}
	return exists, nil
}

func (s *SQLiteStorage) MarkAcked(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		_, err := s.q.ExecContext(ctx,
			`UPDATE ops_queue SET ack = 1, sent_at = ? WHERE id = ?`, now, id)
		if err != nil {
			return fmt.Errorf("failed to ack op %s: %w", id, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) MarkFailed(ctx context.Context, id, errMsg string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.q.ExecContext(ctx, `
		UPDATE ops_queue
		SET retry_count = retry_count + 1, last_error = ?, failed_at = ?
		WHERE id = ?`, errMsg, now, id)
	if err != nil {
		return 0, fmt.Errorf("failed to mark op failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, opsqueue.ErrEntryNotFound
	}

	var retryCount int
	if err := s.q.QueryRowContext(ctx,
		`SELECT retry_count FROM ops_queue WHERE id = ?`, id).Scan(&retryCount); err != nil {
		return 0, fmt.Errorf("failed to read retry count: %w", err)
	}
	return retryCount, nil
}

func (s *SQLiteStorage) MarkFailedBatch(ctx context.Context, ids []string, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, errMsg, time.Now().UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`
		UPDATE ops_queue
		SET retry_count = retry_count + 1, last_error = ?, failed_at = ?
		WHERE id IN (?%s)`, strings.Repeat(", ?", len(ids)-1))
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark batch failed: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Block(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE ops_queue SET blocked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to block op: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return opsqueue.ErrEntryNotFound
	}
	return nil
}

func (s *SQLiteStorage) Unblock(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE ops_queue SET blocked = 0, retry_count = 0, last_error = NULL WHERE id = ? AND blocked = 1`, id)
	if err != nil {
		return fmt.Errorf("failed to unblock op: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return opsqueue.ErrEntryNotFound
	}
	return nil
}

func (s *SQLiteStorage) ListBlocked(ctx context.Context) ([]*opsqueue.Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, device_id, op_type, entity_type, entity_id, payload, created_at,
		       ack, sent_at, retry_count, last_error, failed_at, blocked
		FROM ops_queue
		WHERE blocked = 1
		ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked ops: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *SQLiteStorage) PruneAcked(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM ops_queue WHERE ack = 1 AND sent_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to prune acked ops: %w", err)
	}
	return res.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*opsqueue.Entry, error) {
	var entries []*opsqueue.Entry
	for rows.Next() {
		var (
			e         opsqueue.Entry
			payload   string
			createdAt string
			sentAt    sql.NullString
			lastError sql.NullString
			failedAt  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.OpType, &e.EntityType, &e.EntityID,
			&payload, &createdAt, &e.Ack, &sentAt, &e.RetryCount, &lastError, &failedAt, &e.Blocked); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		e.Payload = []byte(payload)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if sentAt.Valid {
			e.SentAt, _ = time.Parse(time.RFC3339Nano, sentAt.String)
		}
		if lastError.Valid {
			e.LastError = lastError.String
		}
		if failedAt.Valid {
			e.FailedAt, _ = time.Parse(time.RFC3339Nano, failedAt.String)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- справочники (pull-цикл) ---

// ApplyProductRef применяет товар из pull по правилу last-writer-wins.
// Остаток сервера становится новым базовым; локальные движения товара к
// этому моменту все подтверждены (гарантирует вызывающий) и уже учтены в
// серверной цифре, поэтому помечаются поглощенными.
func (s *SQLiteStorage) ApplyProductRef(ctx context.Context, p syncdomain.RefProduct) error {
	return s.inTx(ctx, func(txs *SQLiteStorage) error {
		var updatedAt sql.NullString
		err := txs.q.QueryRowContext(ctx,
			`SELECT updated_at FROM produits WHERE id = ?`, p.ID).Scan(&updatedAt)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check product: %w", err)
		}
		if updatedAt.Valid {
			local, _ := time.Parse(time.RFC3339Nano, updatedAt.String)
			if !p.UpdatedAt.After(local) {
				return nil
			}
		}

		_, err = txs.q.ExecContext(ctx, `
			INSERT INTO produits (id, nom, code_barre, prix, categorie_id, base_stock, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				nom = excluded.nom,
				code_barre = excluded.code_barre,
				prix = excluded.prix,
				categorie_id = excluded.categorie_id,
				base_stock = excluded.base_stock,
				updated_at = excluded.updated_at`,
			p.ID, p.Nom, p.CodeBarre, p.Prix.String(), nullableID(p.CategorieID),
			p.Stock.String(), p.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert product: %w", err)
		}

		_, err = txs.q.ExecContext(ctx,
			`UPDATE stock_movements SET absorbed = 1 WHERE product_id = ?`, p.ID)
		if err != nil {
			return fmt.Errorf("failed to absorb movements: %w", err)
		}

		return txs.SetProjectedStock(ctx, p.ID, p.Stock)
	})
}

func (s *SQLiteStorage) ApplyCategoryRef(ctx context.Context, c syncdomain.RefCategory) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO categories (id, nom, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET nom = excluded.nom, updated_at = excluded.updated_at
		WHERE excluded.updated_at > categories.updated_at`,
		c.ID, c.Nom, c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert category: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ApplyPaymentModeRef(ctx context.Context, m syncdomain.RefPaymentMode) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO modes_paiement (id, nom, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET nom = excluded.nom, updated_at = excluded.updated_at
		WHERE excluded.updated_at > modes_paiement.updated_at`,
		m.ID, m.Nom, m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert payment mode: %w", err)
	}
	return nil
}

// ProductStock строка витрины остатков для CLI
type ProductStock struct {
	ID        int64
	Nom       string
	CodeBarre string
	Prix      decimal.Decimal
	Stock     decimal.Decimal
}

// ListProductStocks возвращает товары с кэшированными остатками
func (s *SQLiteStorage) ListProductStocks(ctx context.Context) ([]ProductStock, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT p.id, p.nom, p.code_barre, p.prix, COALESCE(cs.quantity, p.base_stock)
		FROM produits p
		LEFT JOIN current_stock cs ON cs.product_id = p.id
		ORDER BY p.nom`)
	if err != nil {
		return nil, fmt.Errorf("failed to query product stocks: %w", err)
	}
	defer rows.Close()

	var products []ProductStock
	for rows.Next() {
		var (
			p     ProductStock
			prix  string
			stock string
		)
		if err := rows.Scan(&p.ID, &p.Nom, &p.CodeBarre, &prix, &stock); err != nil {
			return nil, fmt.Errorf("failed to scan product stock: %w", err)
		}
		if p.Prix, err = decimal.NewFromString(prix); err != nil {
			return nil, fmt.Errorf("failed to parse prix %q: %w", prix, err)
		}
		if p.Stock, err = decimal.NewFromString(stock); err != nil {
			return nil, fmt.Errorf("failed to parse stock %q: %w", stock, err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
