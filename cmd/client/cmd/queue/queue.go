package queue

import (
	"fmt"

	"possync/internal/app/client"
	"possync/internal/domain/opsqueue"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Очередь операций",
	Long: `Просмотр и разбор очереди операций синхронизации.

Без аргументов показывает операции, ожидающие отправки. Команда blocked
выводит операции, отклоненные сервером, команда unblock возвращает
операцию в очередь после исправления причины.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		pending, err := app.Storage.ListPending(cmd.Context(), app.Config.BatchSize)
		if err != nil {
			return fmt.Errorf("ошибка чтения очереди: %w", err)
		}

		fmt.Println("=== Очередь операций ===")
		if len(pending) == 0 {
			fmt.Println("Очередь пуста")
			return nil
		}

		printEntries(pending)
		fmt.Printf("\nВсего: %d\n", len(pending))

		return nil
	},
}

var BlockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "Показать заблокированные операции",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		blocked, err := app.Storage.ListBlocked(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка чтения очереди: %w", err)
		}

		fmt.Println("=== Заблокированные операции ===")
		if len(blocked) == 0 {
			color.Green("✅ Заблокированных операций нет")
			return nil
		}

		for _, e := range blocked {
			color.Red("❌ %s", e.ID)
			fmt.Printf("   Тип: %s, сущность: %s/%s\n", e.OpType, e.EntityType, e.EntityID)
			fmt.Printf("   Попыток: %d\n", e.RetryCount)
			if e.LastError != "" {
				fmt.Printf("   Ошибка: %s\n", e.LastError)
			}
		}
		fmt.Printf("\nВсего: %d\n", len(blocked))
		fmt.Println("Вернуть операцию в очередь: possync queue unblock <id>")

		return nil
	},
}

var UnblockCmd = &cobra.Command{
	Use:   "unblock <id>",
	Short: "Вернуть заблокированную операцию в очередь",
	Long: `Возвращает операцию из состояния blocked в очередь отправки и
сбрасывает счетчик попыток. Выполняется оператором после исправления
причины блокировки.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		if err := app.Storage.Unblock(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("ошибка разблокировки: %w", err)
		}

		color.Green("✅ Операция %s возвращена в очередь", args[0])
		fmt.Println("Отправка: possync sync")

		return nil
	},
}

func printEntries(entries []*opsqueue.Entry) {
	for _, e := range entries {
		fmt.Printf("%s  %-26s %s/%s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.OpType, e.EntityType, e.EntityID)
		if e.RetryCount > 0 {
			fmt.Printf("  (попыток: %d)", e.RetryCount)
		}
		fmt.Println()
	}
}
