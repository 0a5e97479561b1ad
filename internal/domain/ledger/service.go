package ledger

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slog"
)

// ProjectorConfig конфигурация консолидации проекций
type ProjectorConfig struct {
	// MovementRetentionDays сколько дней хранить движения в журнале
	MovementRetentionDays int
	// SnapshotRetentionDays сколько дней хранить дневные срезы
	SnapshotRetentionDays int
}

// Projector поддерживает проекцию current_stock и серию дневных срезов
type Projector struct {
	store    TxStore
	log      *slog.Logger
	config   *ProjectorConfig
	tenantID string
	now      func() time.Time
}

// NewProjector создает новый проектор остатков
func NewProjector(store TxStore, log *slog.Logger, tenantID string, config *ProjectorConfig) *Projector {
	if config == nil {
		config = &ProjectorConfig{
			MovementRetentionDays: 90,
			SnapshotRetentionDays: 730,
		}
	}

	return &Projector{
		store:    store,
		log:      log,
		config:   config,
		tenantID: tenantID,
		now:      time.Now,
	}
}

// RefreshAll пересчитывает current_stock для всех товаров из журнала.
// Идемпотентна; гонка с параллельной вставкой движения дает либо остаток
// до него, либо после — проекция не авторитетна, это допустимо.
func (p *Projector) RefreshAll(ctx context.Context) error {
	return p.refreshAll(ctx, p.store)
}

func (p *Projector) refreshAll(ctx context.Context, store Store) error {
	totals, err := store.ListStockTotals(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stock totals: %w", err)
	}

	for _, t := range totals {
		if err := store.SetProjectedStock(ctx, t.ProductID, t.Total); err != nil {
			return fmt.Errorf("failed to set projected stock for product %d: %w", t.ProductID, err)
		}
	}

	p.log.Debug("current stock refreshed", "products", len(totals))
	return nil
}

// CreateDailySnapshot записывает по одному срезу на товар за date.
// Товары, уже имеющие срез за эту дату, пропускаются — повторный запуск
// за тот же день не создает дублей.
func (p *Projector) CreateDailySnapshot(ctx context.Context, date time.Time) (int, error) {
	return p.createDailySnapshot(ctx, p.store, date)
}

func (p *Projector) createDailySnapshot(ctx context.Context, store Store, date time.Time) (int, error) {
	totals, err := store.ListStockTotals(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list stock totals: %w", err)
	}

	day := truncateToDay(date)
	written := 0
	for _, t := range totals {
		// Срез нужен товарам с активностью или ненулевым остатком
		if t.MovementCount == 0 && t.Total.IsZero() {
			continue
		}

		snap := &StockSnapshot{
			TenantID:     p.tenantID,
			SnapshotDate: day,
			ProductID:    t.ProductID,
			Quantity:     t.Total,
		}
		if err := store.WriteSnapshot(ctx, snap); err != nil {
			return written, fmt.Errorf("failed to write snapshot for product %d: %w", t.ProductID, err)
		}
		written++
	}

	p.log.Debug("daily snapshot created", "date", day.Format("2006-01-02"), "products", written)
	return written, nil
}

// Consolidate выполняет плановое обслуживание журнала в одной транзакции:
// пересчет проекции, дневной срез, очистка старых движений и срезов.
// Падение на любом шаге откатывает всё; каждый шаг идемпотентен, поэтому
// задачу безопасно просто перезапустить по следующему расписанию.
func (p *Projector) Consolidate(ctx context.Context) error {
	start := p.now()

	err := p.store.InTx(ctx, func(store Store) error {
		// 1. Пересчитываем проекцию из журнала
		if err := p.refreshAll(ctx, store); err != nil {
			return err
		}

		// 2. Срез за сегодня
		today := truncateToDay(p.now())
		if _, err := p.createDailySnapshot(ctx, store, today); err != nil {
			return err
		}

		// 3. Очистка движений, уже покрытых срезом
		if err := p.pruneMovements(ctx, store); err != nil {
			return err
		}

		// 4. Очистка срезов за пределами окна хранения
		snapCutoff := p.now().AddDate(0, 0, -p.config.SnapshotRetentionDays)
		if _, err := store.PruneSnapshotsBefore(ctx, snapCutoff); err != nil {
			return fmt.Errorf("failed to prune snapshots: %w", err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("consolidation failed: %w", err)
	}

	p.log.Info("consolidation completed", "duration", p.now().Sub(start))
	return nil
}

// pruneMovements удаляет старые движения, но только те, чей эффект уже
// зафиксирован в срезе. Очистка без среза теряет историю — при отсутствии
// срезов шаг пропускается целиком.
func (p *Projector) pruneMovements(ctx context.Context, store Store) error {
	latest, err := store.LatestSnapshotDate(ctx, p.tenantID)
	if err != nil {
		return fmt.Errorf("failed to get latest snapshot date: %w", err)
	}
	if latest.IsZero() {
		p.log.Warn("movement pruning skipped: no snapshots exist")
		return nil
	}

	cutoff := p.now().AddDate(0, 0, -p.config.MovementRetentionDays)
	// Движение за день D покрыто срезом с датой >= D
	if snapDay := truncateToDay(latest); snapDay.Before(cutoff) {
		cutoff = snapDay
	}

	pruned, err := store.PruneMovementsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune movements: %w", err)
	}
	if pruned > 0 {
		p.log.Info("old movements pruned", "count", pruned, "cutoff", cutoff.Format("2006-01-02"))
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
