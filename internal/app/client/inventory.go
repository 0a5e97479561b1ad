package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"possync/internal/domain/opsqueue"
)

// InventorySession сессия инвентаризации. На устройстве ожидается не
// более одной открытой сессии; дубликаты по remote_uuid — известный
// сбой ретраев, который чинит ReconcileSessions.
type InventorySession struct {
	ID         int64
	RemoteUUID string
	Status     string
	StartedAt  time.Time
	EndedAt    time.Time
	User       string
	Notes      string
}

var (
	ErrSessionOpen     = errors.New("инвентаризация уже открыта")
	ErrSessionNotFound = errors.New("сессия инвентаризации не найдена")
	ErrSessionClosed   = errors.New("сессия инвентаризации закрыта")
)

// Inventory сервис инвентаризации
type Inventory struct {
	storage  *SQLiteStorage
	recorder *Recorder
	log      *slog.Logger
	deviceID string
	now      func() time.Time
}

// NewInventory создает сервис инвентаризации
func NewInventory(storage *SQLiteStorage, recorder *Recorder, log *slog.Logger, deviceID string) *Inventory {
	return &Inventory{
		storage:  storage,
		recorder: recorder,
		log:      log,
		deviceID: deviceID,
		now:      time.Now,
	}
}

// StartSession открывает сессию инвентаризации и ставит операцию
// session_start в очередь (одной транзакцией)
func (inv *Inventory) StartSession(ctx context.Context, user, notes string) (*InventorySession, error) {
	if open, err := inv.OpenSession(ctx); err != nil {
		return nil, err
	} else if open != nil {
		return nil, ErrSessionOpen
	}

	now := inv.now()
	session := &InventorySession{
		RemoteUUID: uuid.NewString(),
		Status:     "open",
		StartedAt:  now,
		User:       user,
		Notes:      notes,
	}

	err := inv.storage.inTx(ctx, func(txs *SQLiteStorage) error {
		res, err := txs.q.ExecContext(ctx, `
			INSERT INTO inventory_sessions (remote_uuid, status, started_at, user, notes)
			VALUES (?, 'open', ?, ?, ?)`,
			session.RemoteUUID, now.UTC().Format(time.RFC3339Nano), user, notes)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		session.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		return inv.recorder.enqueue(ctx, txs, opsqueue.OpInventorySessionStart,
			"inventaire", session.RemoteUUID, now,
			opsqueue.SessionStartPayload{
				SessionUUID: session.RemoteUUID,
				StartedAt:   now,
				User:        user,
				Notes:       notes,
			})
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть инвентаризацию: %w", err)
	}

	inv.log.Info("inventory session started", "session_id", session.ID, "remote_uuid", session.RemoteUUID)
	return session, nil
}

// AddCount записывает подсчитанное количество товара в открытую сессию
func (inv *Inventory) AddCount(ctx context.Context, sessionID, productID int64, qty decimal.Decimal) error {
	session, err := inv.session(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != "open" {
		return ErrSessionClosed
	}

	now := inv.now()
	err = inv.storage.inTx(ctx, func(txs *SQLiteStorage) error {
		_, err := txs.q.ExecContext(ctx, `
			INSERT INTO inventory_counts (session_id, product_id, qty, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id, product_id) DO UPDATE SET
				qty = excluded.qty, updated_at = excluded.updated_at`,
			sessionID, productID, qty.String(), now.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to upsert count: %w", err)
		}

		return inv.recorder.enqueue(ctx, txs, opsqueue.OpInventoryCountAdd,
			"inventaire", session.RemoteUUID, now,
			opsqueue.CountAddPayload{
				SessionUUID: session.RemoteUUID,
				ProductID:   productID,
				Qty:         qty,
				CountedAt:   now,
			})
	})
	if err != nil {
		return fmt.Errorf("не удалось записать подсчет: %w", err)
	}
	return nil
}

// Finalize закрывает сессию: для каждого подсчитанного товара в журнал
// пишется корректирующее движение (подсчет минус расчетный остаток),
// очередь получает inventory.adjust на товар и итоговый inventory.finalize.
// Всё одной транзакцией.
func (inv *Inventory) Finalize(ctx context.Context, sessionID int64) error {
	session, err := inv.session(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != "open" {
		return ErrSessionClosed
	}

	now := inv.now()
	err = inv.storage.inTx(ctx, func(txs *SQLiteStorage) error {
		rows, err := txs.q.QueryContext(ctx,
			`SELECT product_id, qty FROM inventory_counts WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("failed to query counts: %w", err)
		}
		defer rows.Close()

		type count struct {
			productID int64
			qty       decimal.Decimal
		}
		var counts []count
		for rows.Next() {
			var (
				c   count
				raw string
			)
			if err := rows.Scan(&c.productID, &raw); err != nil {
				return fmt.Errorf("failed to scan count: %w", err)
			}
			if c.qty, err = decimal.NewFromString(raw); err != nil {
				return fmt.Errorf("failed to parse qty %q: %w", raw, err)
			}
			counts = append(counts, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, c := range counts {
			current, err := txs.ComputeStock(ctx, c.productID)
			if err != nil {
				return err
			}
			delta := c.qty.Sub(current)
			if delta.IsZero() {
				continue
			}

			if err := inv.recorder.adjustInTx(ctx, txs, c.productID, delta, c.qty, session.RemoteUUID, now); err != nil {
				return err
			}
		}

		_, err = txs.q.ExecContext(ctx, `
			UPDATE inventory_sessions SET status = 'closed', ended_at = ? WHERE id = ?`,
			now.UTC().Format(time.RFC3339Nano), sessionID)
		if err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}

		return inv.recorder.enqueue(ctx, txs, opsqueue.OpInventoryFinalize,
			"inventaire", session.RemoteUUID, now,
			opsqueue.FinalizePayload{
				SessionUUID: session.RemoteUUID,
				EndedAt:     now,
			})
	})
	if err != nil {
		return fmt.Errorf("не удалось закрыть инвентаризацию: %w", err)
	}

	inv.log.Info("inventory session finalized", "session_id", sessionID)
	return nil
}

// OpenSession возвращает открытую сессию или nil
func (inv *Inventory) OpenSession(ctx context.Context) (*InventorySession, error) {
	session, err := inv.scanSession(inv.storage.q.QueryRowContext(ctx, `
		SELECT id, remote_uuid, status, started_at, ended_at, user, notes
		FROM inventory_sessions WHERE status = 'open' ORDER BY id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return session, err
}

func (inv *Inventory) session(ctx context.Context, id int64) (*InventorySession, error) {
	session, err := inv.scanSession(inv.storage.q.QueryRowContext(ctx, `
		SELECT id, remote_uuid, status, started_at, ended_at, user, notes
		FROM inventory_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

func (inv *Inventory) scanSession(row *sql.Row) (*InventorySession, error) {
	var (
		s         InventorySession
		startedAt string
		endedAt   sql.NullString
	)
	err := row.Scan(&s.ID, &s.RemoteUUID, &s.Status, &startedAt, &endedAt, &s.User, &s.Notes)
	if err != nil {
		return nil, err
	}
	s.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt.Valid {
		s.EndedAt, _ = time.Parse(time.RFC3339Nano, endedAt.String)
	}
	return &s, nil
}

// ReconcileSessions чинит дубликаты сессий с одним remote_uuid (наследие
// ретраев session_start до дедупликации): выживает самая свежая строка,
// подсчеты переезжают на нее, дубликат удаляется. Запускается на старте
// и по расписанию. Возвращает число удаленных дубликатов.
func (inv *Inventory) ReconcileSessions(ctx context.Context) (int, error) {
	removed := 0

	err := inv.storage.inTx(ctx, func(txs *SQLiteStorage) error {
		rows, err := txs.q.QueryContext(ctx, `
			SELECT remote_uuid, MAX(id) FROM inventory_sessions
			GROUP BY remote_uuid HAVING COUNT(*) > 1`)
		if err != nil {
			return fmt.Errorf("failed to find duplicate sessions: %w", err)
		}
		defer rows.Close()

		type dup struct {
			remoteUUID string
			keepID     int64
		}
		var dups []dup
		for rows.Next() {
			var d dup
			if err := rows.Scan(&d.remoteUUID, &d.keepID); err != nil {
				return fmt.Errorf("failed to scan duplicate: %w", err)
			}
			dups = append(dups, d)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, d := range dups {
			// Переносим подсчеты на выжившую строку; пары
			// (session_id, product_id), уже существующие у нее, остаются
			// как есть и уйдут каскадом вместе с дубликатом
			_, err := txs.q.ExecContext(ctx, `
				UPDATE OR IGNORE inventory_counts SET session_id = ?
				WHERE session_id IN (
					SELECT id FROM inventory_sessions WHERE remote_uuid = ? AND id != ?
				)`, d.keepID, d.remoteUUID, d.keepID)
			if err != nil {
				return fmt.Errorf("failed to repoint counts: %w", err)
			}

			res, err := txs.q.ExecContext(ctx, `
				DELETE FROM inventory_sessions WHERE remote_uuid = ? AND id != ?`,
				d.remoteUUID, d.keepID)
			if err != nil {
				return fmt.Errorf("failed to delete duplicate sessions: %w", err)
			}
			n, _ := res.RowsAffected()
			removed += int(n)

			inv.log.Warn("duplicate inventory sessions reconciled",
				"remote_uuid", d.remoteUUID,
				"kept_id", d.keepID,
				"removed", n,
			)
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reconciliation failed: %w", err)
	}

	return removed, nil
}
