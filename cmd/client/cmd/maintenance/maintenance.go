package maintenance

import (
	"fmt"
	"time"

	"possync/internal/app/client"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var pruneDays int

var MaintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Обслуживание локальной базы",
	Long: `Плановое обслуживание локальной базы кассы: свертка журнала движений
в снимки и чистка подтвержденных операций. Команды безопасно запускать
в любой момент, текущие остатки не меняются.`,
}

var ConsolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Свернуть журнал движений",
	Long: `Пересчитывает проекцию остатков, записывает дневной снимок и удаляет
старые движения, уже покрытые снимком. База перестает расти на объем
всей истории продаж.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		fmt.Println("=== Свертка журнала ===")
		start := time.Now()

		if err := app.Projector.Consolidate(cmd.Context()); err != nil {
			return fmt.Errorf("ошибка свертки: %w", err)
		}

		app.Cache.InvalidatePrefix("produits")

		color.Green("✅ Свертка завершена за %v", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var PruneOpsCmd = &cobra.Command{
	Use:   "prune-ops",
	Short: "Удалить старые подтвержденные операции",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		cutoff := time.Now().AddDate(0, 0, -pruneDays)
		removed, err := app.Storage.PruneAcked(cmd.Context(), cutoff)
		if err != nil {
			return fmt.Errorf("ошибка чистки очереди: %w", err)
		}

		color.Green("✅ Удалено подтвержденных операций: %d", removed)
		return nil
	},
}

var ReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Починить дубликаты сессий инвентаризации",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		removed, err := app.Inventory.ReconcileSessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка слияния сессий: %w", err)
		}

		if removed == 0 {
			fmt.Println("Дубликатов не найдено")
			return nil
		}

		color.Green("✅ Слито дубликатов сессий: %d", removed)
		return nil
	},
}

func init() {
	PruneOpsCmd.Flags().IntVar(&pruneDays, "days", 30, "хранить подтвержденные операции N дней")
}
