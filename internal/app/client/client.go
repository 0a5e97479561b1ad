package client

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/app/client/config"
	"possync/internal/domain/ledger"
)

// App собирает клиентское приложение кассы: локальное хранилище,
// запись бизнес-событий, инвентаризацию и движок синхронизации
type App struct {
	Config    *config.Config
	Log       *slog.Logger
	Storage   *SQLiteStorage
	Recorder  *Recorder
	Inventory *Inventory
	Sync      *SyncService
	Projector *ledger.Projector
	Cache     *RefCache

	transport Transport
}

func NewApp(cfg *config.Config, log *slog.Logger) (*App, error) {
	storage, err := NewSQLiteStorage(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть локальную базу: %w", err)
	}

	// Дубликаты сессий появляются после повторной доставки
	// inventory.session_start; чистим их до запуска синхронизации.
	recorder := NewRecorder(storage, log, cfg.DeviceID)
	inventory := NewInventory(storage, recorder, log, cfg.DeviceID)
	if removed, err := inventory.ReconcileSessions(context.Background()); err != nil {
		log.Warn("session reconciliation failed", "error", err)
	} else if removed > 0 {
		log.Info("duplicate inventory sessions reconciled", "removed", removed)
	}

	transport, err := NewHTTPClient(cfg, log)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("не удалось создать HTTP-клиент: %w", err)
	}

	return &App{
		Config:    cfg,
		Log:       log,
		Storage:   storage,
		Recorder:  recorder,
		Inventory: inventory,
		Sync:      NewSyncService(storage, storage, transport, cfg, log),
		Projector: ledger.NewProjector(storage, log, cfg.TenantID, nil),
		Cache:     NewRefCache(5 * time.Minute),
		transport: transport,
	}, nil
}

// CheckConnection проверяет доступность сервера синхронизации
func (a *App) CheckConnection(ctx context.Context) error {
	return a.transport.HealthCheck(ctx)
}

func (a *App) Close() error {
	return a.Storage.Close()
}
