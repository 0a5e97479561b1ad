package sync

import (
	"context"
	"fmt"
	"time"

	"possync/internal/app/client"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	syncStatus bool
	fullPull   bool
	watchMode  bool
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Синхронизация с сервером",
	Long: `Отправляет очередь операций на сервер и забирает обновления
справочников (товары, категории, способы оплаты).

Флаг --full игнорирует сохраненный курсор и забирает справочники
целиком. Флаг --watch оставляет процесс работать и синхронизирует
по расписанию из конфигурации.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		if syncStatus {
			return showSyncStatus(cmd.Context(), app)
		}

		if watchMode {
			return runWatch(cmd.Context(), app)
		}

		return runSync(cmd.Context(), app)
	},
}

func runSync(ctx context.Context, app *client.App) error {
	fmt.Println("=== Синхронизация данных ===")

	fmt.Println("Проверка соединения с сервером...")
	if err := app.CheckConnection(ctx); err != nil {
		return fmt.Errorf("сервер недоступен: %v", err)
	}

	start := time.Now()

	pushed, err := app.Sync.PushOps(ctx)
	if err != nil {
		return fmt.Errorf("ошибка отправки операций: %w", err)
	}

	if err := app.Sync.PullRefs(ctx, fullPull); err != nil {
		return fmt.Errorf("ошибка загрузки справочников: %w", err)
	}

	duration := time.Since(start)

	fmt.Println()
	color.Green("✅ Синхронизация завершена!")
	fmt.Printf("Время выполнения: %v\n", duration.Round(time.Millisecond))
	fmt.Printf("Отправлено операций: %d\n", pushed)

	blocked, err := app.Storage.ListBlocked(ctx)
	if err != nil {
		return fmt.Errorf("ошибка чтения очереди: %w", err)
	}
	if len(blocked) > 0 {
		color.Yellow("⚠️  Заблокированных операций: %d", len(blocked))
		fmt.Println("   Разбор: possync queue blocked")
	}

	return nil
}

func runWatch(ctx context.Context, app *client.App) error {
	fmt.Println("=== Фоновая синхронизация ===")
	fmt.Printf("Интервал: %ds, остановка по Ctrl+C\n", app.Config.SyncInterval)

	states := app.Sync.Subscribe()
	go app.Sync.Loop(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case state := <-states:
			switch state {
			case client.StateOnline:
				color.Green("✅ Сервер доступен")
			case client.StateOffline:
				color.Yellow("⚠️  Сервер недоступен, работаем офлайн")
			case client.StateIdle:
				// Заодно чиним дубликаты сессий, появившиеся после ретраев
				if removed, err := app.Inventory.ReconcileSessions(ctx); err == nil && removed > 0 {
					fmt.Printf("Слито дубликатов сессий: %d\n", removed)
				}
				fmt.Printf("%s цикл завершен\n", time.Now().Format("15:04:05"))
			}
		}
	}
}

func showSyncStatus(ctx context.Context, app *client.App) error {
	fmt.Println("=== Статус синхронизации ===")

	pending, err := app.Storage.ListPending(ctx, app.Config.BatchSize)
	if err != nil {
		return fmt.Errorf("ошибка чтения очереди: %w", err)
	}
	blocked, err := app.Storage.ListBlocked(ctx)
	if err != nil {
		return fmt.Errorf("ошибка чтения очереди: %w", err)
	}

	fmt.Println("📊 Очередь операций:")
	fmt.Printf("  Ожидают отправки: %d\n", len(pending))
	fmt.Printf("  Заблокировано: %d\n", len(blocked))

	fmt.Printf("\n⚙️  Конфигурация:\n")
	fmt.Printf("  Сервер: %s\n", app.Config.APIBaseURL)
	fmt.Printf("  Устройство: %s\n", app.Config.DeviceID)
	fmt.Printf("  Интервал: %ds\n", app.Config.SyncInterval)
	fmt.Printf("  Размер пакета: %d операций\n", app.Config.BatchSize)
	fmt.Printf("  Макс. попыток: %d\n", app.Config.MaxRetries)

	fmt.Printf("\n🌐 Соединение с сервером: ")
	if err := app.CheckConnection(ctx); err != nil {
		color.Red("❌ Ошибка: %v", err)
	} else {
		color.Green("✅ OK")
	}

	return nil
}

func init() {
	SyncCmd.Flags().BoolVar(&syncStatus, "status", false, "показать статус синхронизации")
	SyncCmd.Flags().BoolVar(&fullPull, "full", false, "полная загрузка справочников без курсора")
	SyncCmd.Flags().BoolVar(&watchMode, "watch", false, "синхронизировать по расписанию")
}
