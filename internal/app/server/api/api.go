//Серверная сторона синхронизации кассовых устройств:
//прием пакетов операций от устройств (push);
//раздача справочников — товары, категории, способы оплаты (pull);
//проверка живости сервиса и базы.

//POST /sync/push_ops   # Принять пакет операций устройства
//GET  /sync/pull_refs  # Отдать справочники (инкрементально по since)
//GET  /health          # Живость сервиса
//GET  /health/db       # Живость базы данных

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"possync/internal/app/server/api/http/health"
	"possync/internal/app/server/api/http/middleware"
	loggerMW "possync/internal/app/server/api/http/middleware/logger"
	"possync/internal/app/server/api/http/syncapi"
	"possync/internal/app/server/config"
	"possync/internal/domain/sync"
	"possync/internal/infrastructure/storage/postgres"
)

type Handlers struct {
	Health *health.Handler
	Sync   *syncapi.Handler
}

// New создает *chi.Mux со всеми операциями через huma.Register
func New(storage *postgres.Storage, cfg *config.Config, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()

	humaConfig := huma.DefaultConfig("PosSync API", "1.0.0")
	API := humachi.New(mux, humaConfig)

	h := handlers(storage, cfg, log)
	h.Health.SetupRoutes(API)
	h.Sync.SetupRoutes(API)

	return mux
}

func handlers(storage *postgres.Storage, cfg *config.Config, log *slog.Logger) *Handlers {
	logMW := loggerMW.New(log)
	middlewares := middleware.NewContainer()

	middlewares.Add(logMW.Middleware())
	healthHandler := health.NewHandler(storage, log, middlewares.GetAllAndClear())

	syncRepo := postgres.NewSyncRepository(storage.Pool(), log)
	syncService := sync.NewService(syncRepo, log, &sync.ServiceConfig{
		MaxBatchSize: cfg.Sync.MaxBatchSize,
	})
	middlewares.Add(logMW.Middleware())
	syncHandler := syncapi.NewHandler(syncService, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health: healthHandler,
		Sync:   syncHandler,
	}
}
