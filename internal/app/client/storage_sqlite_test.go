package client

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possync/internal/domain/ledger"
	"possync/internal/domain/opsqueue"
	syncdomain "possync/internal/domain/sync"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func seedProduct(t *testing.T, s *SQLiteStorage, id int64, baseStock string, updatedAt time.Time) {
	t.Helper()

	_, err := s.db.Exec(`
		INSERT INTO produits (id, nom, prix, base_stock, updated_at)
		VALUES (?, ?, '0', ?, ?)`,
		id, fmt.Sprintf("produit-%d", id), baseStock, updatedAt.UTC().Format(time.RFC3339Nano))
	require.NoError(t, err)
}

func movement(id string, productID int64, delta string) *ledger.StockMovement {
	return &ledger.StockMovement{
		ID:        id,
		ProductID: productID,
		Delta:     decimal.RequireFromString(delta),
		Reason:    ledger.ReasonSale,
		RefType:   "vente",
		RefID:     "sale-1",
		DeviceID:  "device-1",
		CreatedAt: time.Now(),
	}
}

func TestAppend_ReplaySamePayloadIsNoop(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()
	seedProduct(t, storage, 1, "10", time.Now())

	m := movement("mov-1", 1, "-2")
	require.NoError(t, storage.Append(ctx, m))

	// Same id, same payload: accepted silently, no second row
	require.NoError(t, storage.Append(ctx, m))

	stock, err := storage.ComputeStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "8", stock.String())
}

func TestAppend_SameIDDifferentPayloadRejected(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()
	seedProduct(t, storage, 1, "10", time.Now())

	require.NoError(t, storage.Append(ctx, movement("mov-1", 1, "-2")))

	err := storage.Append(ctx, movement("mov-1", 1, "-3"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateMovement)

	// Ledger unchanged
	stock, err := storage.ComputeStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "8", stock.String())
}

func TestComputeStock_BasePlusDeltas(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()
	seedProduct(t, storage, 1, "10", time.Now())

	require.NoError(t, storage.Append(ctx, movement("m1", 1, "-3")))
	require.NoError(t, storage.Append(ctx, movement("m2", 1, "5.5")))

	stock, err := storage.ComputeStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "12.5", stock.String())
}

func TestComputeStock_MovementsAheadOfCatalog(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	// A reception can land before the product ref was ever pulled
	require.NoError(t, storage.Append(ctx, movement("m1", 42, "3")))

	stock, err := storage.ComputeStock(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "3", stock.String())
}

func TestApplyProductRef_ServerStockBecomesBase(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()
	seedProduct(t, storage, 1, "10", time.Now().Add(-time.Hour))

	require.NoError(t, storage.Append(ctx, movement("m1", 1, "-3")))

	// Server already accounts for the acked movement in its figure
	require.NoError(t, storage.ApplyProductRef(ctx, syncdomain.RefProduct{
		ID:        1,
		Nom:       "produit-1",
		Prix:      decimal.RequireFromString("4.50"),
		Stock:     decimal.RequireFromString("7"),
		UpdatedAt: time.Now(),
	}))

	stock, err := storage.ComputeStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "7", stock.String())

	// New local movements keep applying on top of the fresh base
	require.NoError(t, storage.Append(ctx, movement("m2", 1, "-2")))
	stock, err = storage.ComputeStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "5", stock.String())
}

func TestApplyProductRef_StaleUpdateIgnored(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()
	seedProduct(t, storage, 1, "10", time.Now())

	require.NoError(t, storage.ApplyProductRef(ctx, syncdomain.RefProduct{
		ID:        1,
		Nom:       "ancien nom",
		Stock:     decimal.RequireFromString("99"),
		UpdatedAt: time.Now().Add(-time.Hour),
	}))

	stock, err := storage.ComputeStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "10", stock.String())
}

func TestPruneMovements_FoldsDeltasIntoBase(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()
	seedProduct(t, storage, 1, "10", time.Now())

	old := movement("m1", 1, "5")
	old.CreatedAt = time.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, storage.Append(ctx, old))

	fresh := movement("m2", 1, "-2")
	require.NoError(t, storage.Append(ctx, fresh))

	before, err := storage.ComputeStock(ctx, 1)
	require.NoError(t, err)

	deleted, err := storage.PruneMovementsBefore(ctx, time.Now().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// Invariant: base + remaining deltas gives the same stock
	after, err := storage.ComputeStock(ctx, 1)
	require.NoError(t, err)
	assert.True(t, before.Equal(after), "stock changed by pruning: %s != %s", before, after)
}

func TestPruneMovements_UncataloguedProductAcceptsFirstPull(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	// Товар двигался до того, как попал в справочник
	old := movement("m1", 42, "5")
	old.CreatedAt = time.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, storage.Append(ctx, old))

	deleted, err := storage.PruneMovementsBefore(ctx, time.Now().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// Первый настоящий pull товара обязан примениться, свертка не
	// должна была застолбить updated_at
	require.NoError(t, storage.ApplyProductRef(ctx, syncdomain.RefProduct{
		ID: 42, Nom: "Eau 1L",
		Prix:      decimal.RequireFromString("1.20"),
		Stock:     decimal.RequireFromString("50"),
		UpdatedAt: time.Now().Add(-time.Hour),
	}))

	var nom string
	require.NoError(t, storage.db.QueryRow(
		`SELECT nom FROM produits WHERE id = 42`).Scan(&nom))
	assert.Equal(t, "Eau 1L", nom)

	stock, err := storage.ComputeStock(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "50", stock.String())
}

func TestSnapshots_WriteIsIdempotent(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	snap := &ledger.StockSnapshot{
		TenantID:     "tenant-1",
		SnapshotDate: day,
		ProductID:    1,
		Quantity:     decimal.RequireFromString("7"),
	}
	require.NoError(t, storage.WriteSnapshot(ctx, snap))
	require.NoError(t, storage.WriteSnapshot(ctx, snap))

	count, err := storage.SnapshotCount(ctx, "tenant-1", day)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	latest, err := storage.LatestSnapshotDate(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-28", latest.Format("2006-01-02"))
}

func TestLatestSnapshotDate_Empty(t *testing.T) {
	storage := newTestStorage(t)

	latest, err := storage.LatestSnapshotDate(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.True(t, latest.IsZero())
}

func TestQueue_Lifecycle(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	first := &opsqueue.Entry{
		ID: "op-1", DeviceID: "device-1", OpType: opsqueue.OpSaleCreated,
		EntityType: "vente", EntityID: "sale-1",
		Payload: []byte(`{}`), CreatedAt: time.Now().Add(-time.Minute),
	}
	second := &opsqueue.Entry{
		ID: "op-2", DeviceID: "device-1", OpType: opsqueue.OpSaleLineAdded,
		EntityType: "produit", EntityID: "1",
		Payload: []byte(`{}`), CreatedAt: time.Now(),
	}
	require.NoError(t, storage.Enqueue(ctx, first))
	require.NoError(t, storage.Enqueue(ctx, second))

	assert.ErrorIs(t, storage.Enqueue(ctx, first), opsqueue.ErrDuplicateEntry)

	pending, err := storage.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "op-1", pending[0].ID, "pending ops must come out in creation order")

	// A failed attempt keeps the op pending with the attempt counted
	retries, err := storage.MarkFailed(ctx, "op-1", "connection refused")
	require.NoError(t, err)
	assert.Equal(t, 1, retries)

	pending, err = storage.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	assert.Equal(t, opsqueue.StatusPending, pending[0].Status())
	assert.Equal(t, "connection refused", pending[0].LastError)

	require.NoError(t, storage.Block(ctx, "op-1"))

	pending, err = storage.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "op-2", pending[0].ID)

	blocked, err := storage.ListBlocked(ctx)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, opsqueue.StatusBlocked, blocked[0].Status())

	// An operator releases the op: attempts start over
	require.NoError(t, storage.Unblock(ctx, "op-1"))
	pending, err = storage.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 0, pending[0].RetryCount)

	require.NoError(t, storage.MarkAcked(ctx, []string{"op-1", "op-2"}))
	pending, err = storage.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestQueue_MarkFailedBatch(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	for _, id := range []string{"op-1", "op-2"} {
		require.NoError(t, storage.Enqueue(ctx, &opsqueue.Entry{
			ID: id, DeviceID: "device-1", OpType: opsqueue.OpSaleCreated,
			EntityType: "vente", EntityID: "sale-" + id,
			Payload: []byte(`{}`), CreatedAt: time.Now(),
		}))
	}

	require.NoError(t, storage.MarkFailedBatch(ctx, []string{"op-1", "op-2"}, "connection refused"))
	require.NoError(t, storage.MarkFailedBatch(ctx, nil, "ignored"))

	pending, err := storage.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, e := range pending {
		assert.Equal(t, opsqueue.StatusPending, e.Status())
		assert.Equal(t, 1, e.RetryCount)
		assert.Equal(t, "connection refused", e.LastError)
		assert.False(t, e.FailedAt.IsZero())
	}
}

func TestQueue_HasPendingFor(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	entry := &opsqueue.Entry{
		ID: "op-1", DeviceID: "device-1", OpType: opsqueue.OpSaleLineAdded,
		EntityType: "produit", EntityID: "7",
		Payload: []byte(`{}`), CreatedAt: time.Now(),
	}
	require.NoError(t, storage.Enqueue(ctx, entry))

	pending, err := storage.HasPendingFor(ctx, "produit", "7")
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, storage.MarkAcked(ctx, []string{"op-1"}))

	pending, err = storage.HasPendingFor(ctx, "produit", "7")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestQueue_PruneAcked(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	entry := &opsqueue.Entry{
		ID: "op-1", DeviceID: "device-1", OpType: opsqueue.OpSaleCreated,
		EntityType: "vente", EntityID: "sale-1",
		Payload: []byte(`{}`), CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, storage.Enqueue(ctx, entry))
	require.NoError(t, storage.MarkAcked(ctx, []string{"op-1"}))

	// Cutoff in the past: the ack is recent, nothing goes
	deleted, err := storage.PruneAcked(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	deleted, err = storage.PruneAcked(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()
	seedProduct(t, storage, 1, "10", time.Now())

	boom := errors.New("boom")
	err := storage.inTx(ctx, func(txs *SQLiteStorage) error {
		if err := txs.Append(ctx, movement("m1", 1, "-2")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// Nothing from the failed transaction is visible
	stock, err := storage.ComputeStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "10", stock.String())
}
