package client

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"possync/internal/domain/opsqueue"
)

func newTestInventory(t *testing.T) (*Inventory, *SQLiteStorage) {
	t.Helper()

	storage := newTestStorage(t)
	recorder := NewRecorder(storage, slog.Default(), "device-1")
	return NewInventory(storage, recorder, slog.Default(), "device-1"), storage
}

func TestStartSession_OnlyOneOpen(t *testing.T) {
	inventory, _ := newTestInventory(t)
	ctx := context.Background()

	session, err := inventory.StartSession(ctx, "alice", "contrôle mensuel")
	require.NoError(t, err)
	assert.NotZero(t, session.ID)
	assert.NotEmpty(t, session.RemoteUUID)

	_, err = inventory.StartSession(ctx, "bob", "")
	assert.ErrorIs(t, err, ErrSessionOpen)

	open, err := inventory.OpenSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, session.ID, open.ID)
}

func TestAddCount_UpsertsPerProduct(t *testing.T) {
	inventory, storage := newTestInventory(t)
	ctx := context.Background()
	seedProduct(t, storage, 1, "10", time.Now())

	session, err := inventory.StartSession(ctx, "alice", "")
	require.NoError(t, err)

	require.NoError(t, inventory.AddCount(ctx, session.ID, 1, decimal.RequireFromString("7")))
	// Recount replaces the previous figure
	require.NoError(t, inventory.AddCount(ctx, session.ID, 1, decimal.RequireFromString("8")))

	var qty string
	err = storage.db.QueryRow(
		`SELECT qty FROM inventory_counts WHERE session_id = ? AND product_id = 1`,
		session.ID).Scan(&qty)
	require.NoError(t, err)
	assert.Equal(t, "8", qty)
}

func TestAddCount_UnknownSession(t *testing.T) {
	inventory, _ := newTestInventory(t)

	err := inventory.AddCount(context.Background(), 99, 1, decimal.RequireFromString("5"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFinalize_AdjustsCountedProducts(t *testing.T) {
	inventory, storage := newTestInventory(t)
	ctx := context.Background()
	seedProduct(t, storage, 1, "10", time.Now())
	seedProduct(t, storage, 2, "5", time.Now())

	session, err := inventory.StartSession(ctx, "alice", "")
	require.NoError(t, err)

	// Product 1 counted short, product 2 matches exactly
	require.NoError(t, inventory.AddCount(ctx, session.ID, 1, decimal.RequireFromString("8")))
	require.NoError(t, inventory.AddCount(ctx, session.ID, 2, decimal.RequireFromString("5")))

	require.NoError(t, inventory.Finalize(ctx, session.ID))

	stock, err := storage.ComputeStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "8", stock.String())

	stock, err = storage.ComputeStock(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "5", stock.String())

	// Matching count produced no adjustment op
	pending, err := storage.ListPending(ctx, 20)
	require.NoError(t, err)
	var adjusts int
	for _, e := range pending {
		if e.OpType == opsqueue.OpInventoryAdjust {
			adjusts++
		}
	}
	assert.Equal(t, 1, adjusts)

	closed, err := inventory.OpenSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, closed)

	assert.ErrorIs(t, inventory.Finalize(ctx, session.ID), ErrSessionClosed)
	assert.ErrorIs(t, inventory.AddCount(ctx, session.ID, 1, decimal.RequireFromString("9")), ErrSessionClosed)
}

func TestReconcileSessions_MergesDuplicates(t *testing.T) {
	inventory, storage := newTestInventory(t)
	ctx := context.Background()

	// Two local rows for the same logical session, as left behind by a
	// retried session_start before deduplication existed
	started := time.Now().UTC().Format(time.RFC3339Nano)
	for i := 0; i < 2; i++ {
		_, err := storage.db.Exec(`
			INSERT INTO inventory_sessions (remote_uuid, status, started_at)
			VALUES ('uuid-dup', 'open', ?)`, started)
		require.NoError(t, err)
	}

	var oldID, newID int64
	require.NoError(t, storage.db.QueryRow(
		`SELECT MIN(id), MAX(id) FROM inventory_sessions WHERE remote_uuid = 'uuid-dup'`).
		Scan(&oldID, &newID))

	// A count was written against the older duplicate
	_, err := storage.db.Exec(`
		INSERT INTO inventory_counts (session_id, product_id, qty, updated_at)
		VALUES (?, 1, '12', ?)`, oldID, started)
	require.NoError(t, err)

	removed, err := inventory.ReconcileSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// The newest row survives and owns the count
	var count int
	require.NoError(t, storage.db.QueryRow(
		`SELECT COUNT(*) FROM inventory_sessions WHERE remote_uuid = 'uuid-dup'`).Scan(&count))
	assert.Equal(t, 1, count)

	var sessionID int64
	require.NoError(t, storage.db.QueryRow(
		`SELECT session_id FROM inventory_counts WHERE product_id = 1`).Scan(&sessionID))
	assert.Equal(t, newID, sessionID)
}

func TestReconcileSessions_NothingToDo(t *testing.T) {
	inventory, _ := newTestInventory(t)

	removed, err := inventory.ReconcileSessions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
