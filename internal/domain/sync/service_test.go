package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// mockRepo репозиторий в памяти: дедупликация по ID как в Postgres
type mockRepo struct {
	applied      map[string]PushOp
	rejectOps    map[string]string
	failOps      map[string]error
	applyCalls   int
	touchedAt    time.Time
	touchedCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		applied:   make(map[string]PushOp),
		rejectOps: make(map[string]string),
		failOps:   make(map[string]error),
	}
}

func (m *mockRepo) ApplyOp(_ context.Context, _ string, op PushOp) error {
	m.applyCalls++
	if err, ok := m.failOps[op.ID]; ok {
		return err
	}
	if reason, ok := m.rejectOps[op.ID]; ok {
		return Reject(op.ID, "%s", reason)
	}
	if _, ok := m.applied[op.ID]; ok {
		return ErrAlreadyApplied
	}
	m.applied[op.ID] = op
	return nil
}

func (m *mockRepo) TouchDevice(_ context.Context, _ string, at time.Time) error {
	m.touchedCalls++
	m.touchedAt = at
	return nil
}

func (m *mockRepo) ListProducts(_ context.Context, _ time.Time) ([]RefProduct, error) {
	return []RefProduct{{ID: 42, Nom: "Café moulu"}}, nil
}

func (m *mockRepo) ListCategories(_ context.Context, _ time.Time) ([]RefCategory, error) {
	return nil, nil
}

func (m *mockRepo) ListPaymentModes(_ context.Context, _ time.Time) ([]RefPaymentMode, error) {
	return []RefPaymentMode{{ID: 1, Nom: "Espèces"}}, nil
}

func op(id, opType string) PushOp {
	return PushOp{
		ID:         id,
		OpType:     opType,
		EntityType: "produit",
		EntityID:   "42",
		Payload:    json.RawMessage(`{"product_id":42,"delta":"-3"}`),
		CreatedAt:  time.Now(),
	}
}

func TestService_ProcessPushOps(t *testing.T) {
	ctx := context.Background()
	log := slog.Default()

	t.Run("acks every op of a valid batch", func(t *testing.T) {
		repo := newMockRepo()
		service := NewService(repo, log, nil)

		resp, err := service.ProcessPushOps(ctx, PushOpsRequest{
			DeviceID: "dev-1",
			Ops:      []PushOp{op("op-1", "sale.created"), op("op-2", "sale.line_added")},
		})

		require.NoError(t, err)
		assert.True(t, resp.OK)
		assert.ElementsMatch(t, []string{"op-1", "op-2"}, resp.Acked)
		assert.Empty(t, resp.Rejected)
		assert.Equal(t, 1, repo.touchedCalls)
	})

	t.Run("resubmitted op id is acked without double apply", func(t *testing.T) {
		repo := newMockRepo()
		service := NewService(repo, log, nil)

		first, err := service.ProcessPushOps(ctx, PushOpsRequest{
			DeviceID: "dev-1",
			Ops:      []PushOp{op("op-1", "inventory.adjust")},
		})
		require.NoError(t, err)
		require.Equal(t, []string{"op-1"}, first.Acked)

		// Ретрай после неоднозначного сбоя: тот же ID еще раз
		second, err := service.ProcessPushOps(ctx, PushOpsRequest{
			DeviceID: "dev-1",
			Ops:      []PushOp{op("op-1", "inventory.adjust")},
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"op-1"}, second.Acked)
		assert.Len(t, repo.applied, 1, "op must be applied exactly once")
	})

	t.Run("partial rejection keeps the rest acked", func(t *testing.T) {
		repo := newMockRepo()
		repo.rejectOps["op-bad"] = "product 999 not found"
		service := NewService(repo, log, nil)

		resp, err := service.ProcessPushOps(ctx, PushOpsRequest{
			DeviceID: "dev-1",
			Ops:      []PushOp{op("op-ok", "sale.created"), op("op-bad", "sale.line_added")},
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"op-ok"}, resp.Acked)
		require.Len(t, resp.Rejected, 1)
		assert.Equal(t, "op-bad", resp.Rejected[0].ID)
		assert.Equal(t, "product 999 not found", resp.Rejected[0].Error)
	})

	t.Run("transient storage error aborts the batch", func(t *testing.T) {
		repo := newMockRepo()
		repo.failOps["op-2"] = errors.New("connection reset")
		service := NewService(repo, log, nil)

		resp, err := service.ProcessPushOps(ctx, PushOpsRequest{
			DeviceID: "dev-1",
			Ops:      []PushOp{op("op-1", "sale.created"), op("op-2", "sale.created")},
		})

		require.Error(t, err)
		assert.Nil(t, resp)
	})

	t.Run("empty device id is refused", func(t *testing.T) {
		service := NewService(newMockRepo(), log, nil)

		_, err := service.ProcessPushOps(ctx, PushOpsRequest{Ops: []PushOp{op("op-1", "stock.set")}})

		assert.ErrorIs(t, err, ErrEmptyDeviceID)
	})

	t.Run("oversized batch is refused", func(t *testing.T) {
		service := NewService(newMockRepo(), log, &ServiceConfig{MaxBatchSize: 1})

		_, err := service.ProcessPushOps(ctx, PushOpsRequest{
			DeviceID: "dev-1",
			Ops:      []PushOp{op("op-1", "stock.set"), op("op-2", "stock.set")},
		})

		assert.Error(t, err)
	})
}

func TestService_GetRefs(t *testing.T) {
	repo := newMockRepo()
	service := NewService(repo, slog.Default(), nil)

	resp, err := service.GetRefs(context.Background(), time.Time{})

	require.NoError(t, err)
	assert.True(t, resp.OK)
	require.Len(t, resp.Data.Produits, 1)
	assert.Equal(t, int64(42), resp.Data.Produits[0].ID)
	assert.Len(t, resp.Data.ModesPaiement, 1)
	assert.False(t, resp.ServerTime.IsZero())
}
