package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"possync/internal/app/client/config"
	"possync/internal/domain/opsqueue"
	syncdomain "possync/internal/domain/sync"
)

type fakeTransport struct {
	pushErr   error
	pushCalls []syncdomain.PushOpsRequest
	reject    map[string]string

	pullErr   error
	pullResp  *syncdomain.PullRefsResponse
	pullSince []time.Time
}

func (f *fakeTransport) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeTransport) PushOps(ctx context.Context, req syncdomain.PushOpsRequest) (*syncdomain.PushOpsResponse, error) {
	f.pushCalls = append(f.pushCalls, req)
	if f.pushErr != nil {
		return nil, f.pushErr
	}

	resp := &syncdomain.PushOpsResponse{OK: true}
	for _, op := range req.Ops {
		if reason, ok := f.reject[op.ID]; ok {
			resp.Rejected = append(resp.Rejected, syncdomain.OpError{ID: op.ID, Error: reason})
			continue
		}
		resp.Acked = append(resp.Acked, op.ID)
	}
	return resp, nil
}

func (f *fakeTransport) PullRefs(ctx context.Context, since time.Time) (*syncdomain.PullRefsResponse, error) {
	f.pullSince = append(f.pullSince, since)
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if f.pullResp != nil {
		return f.pullResp, nil
	}
	return &syncdomain.PullRefsResponse{OK: true, ServerTime: time.Now()}, nil
}

func newTestSync(t *testing.T, transport *fakeTransport) (*SyncService, *SQLiteStorage) {
	t.Helper()

	storage := newTestStorage(t)
	cfg := &config.Config{
		DeviceID:   "device-1",
		BatchSize:  100,
		MaxRetries: 3,
	}
	return NewSyncService(storage, storage, transport, cfg, slog.Default()), storage
}

func enqueueOp(t *testing.T, storage *SQLiteStorage, id string, createdAt time.Time) {
	t.Helper()

	require.NoError(t, storage.Enqueue(context.Background(), &opsqueue.Entry{
		ID: id, DeviceID: "device-1", OpType: opsqueue.OpSaleCreated,
		EntityType: "vente", EntityID: "sale-" + id,
		Payload: []byte(`{}`), CreatedAt: createdAt,
	}))
}

func TestPushOps_AcksDrainQueue(t *testing.T) {
	transport := &fakeTransport{}
	service, storage := newTestSync(t, transport)
	ctx := context.Background()

	enqueueOp(t, storage, "op-1", time.Now().Add(-time.Minute))
	enqueueOp(t, storage, "op-2", time.Now())

	acked, err := service.PushOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, acked)
	assert.True(t, service.Online())

	pending, err := storage.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPushOps_EmptyQueueSkipsNetwork(t *testing.T) {
	transport := &fakeTransport{}
	service, _ := newTestSync(t, transport)

	acked, err := service.PushOps(context.Background())
	require.NoError(t, err)
	assert.Zero(t, acked)
	assert.Empty(t, transport.pushCalls)
}

func TestPushOps_TimeoutResendsSameBatch(t *testing.T) {
	transport := &fakeTransport{pushErr: errors.New("context deadline exceeded")}
	service, storage := newTestSync(t, transport)
	ctx := context.Background()

	enqueueOp(t, storage, "op-1", time.Now().Add(-time.Minute))
	enqueueOp(t, storage, "op-2", time.Now())

	_, err := service.PushOps(ctx)
	require.Error(t, err)
	assert.False(t, service.Online())

	// The batch stays pending with the attempt counted
	pending, err := storage.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].RetryCount)

	// Server comes back: the exact same ops go out again
	transport.pushErr = nil
	acked, err := service.PushOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, acked)

	require.Len(t, transport.pushCalls, 2)
	assert.Equal(t, transport.pushCalls[0].Ops[0].ID, transport.pushCalls[1].Ops[0].ID)
	assert.Equal(t, transport.pushCalls[0].Ops[1].ID, transport.pushCalls[1].Ops[1].ID)
}

func TestPushOps_LongOutageKeepsOpsPending(t *testing.T) {
	transport := &fakeTransport{pushErr: errors.New("connection refused")}
	service, storage := newTestSync(t, transport)
	ctx := context.Background()

	enqueueOp(t, storage, "op-1", time.Now())

	// Сбоев больше лимита попыток: касса просто долго офлайн
	for i := 0; i < 5; i++ {
		_, err := service.PushOps(ctx)
		require.Error(t, err)
	}
	assert.False(t, service.Online())

	pending, err := storage.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 5, pending[0].RetryCount)
	assert.Equal(t, "connection refused", pending[0].LastError)

	blocked, err := storage.ListBlocked(ctx)
	require.NoError(t, err)
	assert.Empty(t, blocked)

	// Сеть вернулась: операция уходит без вмешательства оператора
	transport.pushErr = nil
	acked, err := service.PushOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acked)
	assert.True(t, service.Online())

	pending, err = storage.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPushOps_RejectedOpBlockedImmediately(t *testing.T) {
	transport := &fakeTransport{reject: map[string]string{"op-2": "unknown product 99"}}
	service, storage := newTestSync(t, transport)
	ctx := context.Background()

	enqueueOp(t, storage, "op-1", time.Now().Add(-time.Minute))
	enqueueOp(t, storage, "op-2", time.Now())

	acked, err := service.PushOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acked)

	blocked, err := storage.ListBlocked(ctx)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "op-2", blocked[0].ID)
	assert.Equal(t, "unknown product 99", blocked[0].LastError)

	pending, err := storage.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPullRefs_AppliesAndAdvancesCursor(t *testing.T) {
	serverTime := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	transport := &fakeTransport{
		pullResp: &syncdomain.PullRefsResponse{
			OK: true,
			Data: syncdomain.RefData{
				Produits: []syncdomain.RefProduct{{
					ID: 1, Nom: "Eau 1L",
					Prix:      decimal.RequireFromString("1.20"),
					Stock:     decimal.RequireFromString("50"),
					UpdatedAt: serverTime,
				}},
				Categories: []syncdomain.RefCategory{{
					ID: 3, Nom: "Boissons", UpdatedAt: serverTime,
				}},
				ModesPaiement: []syncdomain.RefPaymentMode{{
					ID: 1, Nom: "Espèces", UpdatedAt: serverTime,
				}},
			},
			ServerTime: serverTime,
		},
	}
	service, storage := newTestSync(t, transport)
	ctx := context.Background()

	require.NoError(t, service.PullRefs(ctx, false))

	stock, err := storage.ComputeStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "50", stock.String())

	// First pull is full, second is incremental from server time
	require.NoError(t, service.PullRefs(ctx, false))
	require.Len(t, transport.pullSince, 2)
	assert.True(t, transport.pullSince[0].IsZero())
	assert.Equal(t, serverTime, transport.pullSince[1])
}

func TestPullRefs_SkipsProductsWithPendingOps(t *testing.T) {
	serverTime := time.Now()
	transport := &fakeTransport{
		pullResp: &syncdomain.PullRefsResponse{
			OK: true,
			Data: syncdomain.RefData{
				Produits: []syncdomain.RefProduct{{
					ID: 7, Nom: "Lait",
					Stock:     decimal.RequireFromString("100"),
					UpdatedAt: serverTime,
				}},
			},
			ServerTime: serverTime,
		},
	}
	service, storage := newTestSync(t, transport)
	ctx := context.Background()

	seedProduct(t, storage, 7, "10", time.Now().Add(-time.Hour))
	require.NoError(t, storage.Append(ctx, movement("m1", 7, "-2")))
	require.NoError(t, storage.Enqueue(ctx, &opsqueue.Entry{
		ID: "op-1", DeviceID: "device-1", OpType: opsqueue.OpSaleLineAdded,
		EntityType: "produit", EntityID: "7",
		Payload: []byte(`{}`), CreatedAt: time.Now(),
	}))

	require.NoError(t, service.PullRefs(ctx, false))

	// The unacked local movement is not overwritten by the server figure
	stock, err := storage.ComputeStock(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "8", stock.String())

	// Once the op is acked the next pull takes the server stock
	require.NoError(t, storage.MarkAcked(ctx, []string{"op-1"}))
	require.NoError(t, service.PullRefs(ctx, true))

	stock, err = storage.ComputeStock(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "100", stock.String())
}

func TestPullRefs_OfflineOnTransportError(t *testing.T) {
	transport := &fakeTransport{pullErr: errors.New("connection refused")}
	service, _ := newTestSync(t, transport)

	err := service.PullRefs(context.Background(), false)
	require.Error(t, err)
	assert.False(t, service.Online())
}

func TestSubscribe_StateTransitions(t *testing.T) {
	transport := &fakeTransport{}
	service, storage := newTestSync(t, transport)
	ctx := context.Background()

	states := service.Subscribe()
	enqueueOp(t, storage, "op-1", time.Now())

	require.NoError(t, service.SyncAll(ctx))

	var seen []State
	for {
		select {
		case s := <-states:
			seen = append(seen, s)
			continue
		default:
		}
		break
	}
	assert.Equal(t, []State{StatePushing, StateOnline, StatePulling, StateIdle}, seen)
}
