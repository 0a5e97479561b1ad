package inventory

import (
	"fmt"
	"strconv"

	"possync/internal/app/client"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	sessionUser  string
	sessionNotes string
)

var InventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Инвентаризация остатков",
	Long: `Управление сессиями инвентаризации.

Сессия открывается командой start, подсчеты вносятся командой count,
команда finalize сравнивает подсчеты с расчетными остатками и
записывает корректирующие движения. Открытой может быть только одна
сессия.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd)
	},
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Открыть сессию инвентаризации",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		session, err := app.Inventory.StartSession(cmd.Context(), sessionUser, sessionNotes)
		if err != nil {
			return fmt.Errorf("ошибка открытия сессии: %w", err)
		}

		color.Green("✅ Сессия инвентаризации открыта")
		fmt.Printf("ID: %d\n", session.ID)
		fmt.Printf("UUID: %s\n", session.RemoteUUID)
		fmt.Println()
		fmt.Println("Вносите подсчеты: possync inventory count <товар> <кол-во>")

		return nil
	},
}

var CountCmd = &cobra.Command{
	Use:   "count <товар> <кол-во>",
	Short: "Внести подсчет по товару",
	Long: `Записывает фактически подсчитанное количество товара в открытую
сессию. Повторный подсчет того же товара заменяет предыдущий.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		productID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("неверный идентификатор товара %q", args[0])
		}
		qty, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("неверное количество %q", args[1])
		}

		session, err := app.Inventory.OpenSession(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка поиска сессии: %w", err)
		}
		if session == nil {
			return fmt.Errorf("нет открытой сессии. Выполните: possync inventory start")
		}

		if err := app.Inventory.AddCount(cmd.Context(), session.ID, productID, qty); err != nil {
			return fmt.Errorf("ошибка записи подсчета: %w", err)
		}

		fmt.Printf("✅ Товар %d: подсчитано %s\n", productID, qty.String())
		return nil
	},
}

var FinalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Завершить сессию инвентаризации",
	Long: `Закрывает открытую сессию. По каждому подсчитанному товару расчетный
остаток сравнивается с фактическим, разница записывается как
корректирующее движение и уходит на сервер операцией
inventory.adjust.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		session, err := app.Inventory.OpenSession(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка поиска сессии: %w", err)
		}
		if session == nil {
			return fmt.Errorf("нет открытой сессии")
		}

		if err := app.Inventory.Finalize(cmd.Context(), session.ID); err != nil {
			return fmt.Errorf("ошибка завершения инвентаризации: %w", err)
		}

		app.Cache.InvalidatePrefix("produits")

		color.Green("✅ Инвентаризация завершена")
		fmt.Println("Корректировки поставлены в очередь: possync sync")

		return nil
	},
}

func showStatus(cmd *cobra.Command) error {
	app, ok := cmd.Context().Value("app").(*client.App)
	if !ok {
		return fmt.Errorf("приложение не инициализировано")
	}

	session, err := app.Inventory.OpenSession(cmd.Context())
	if err != nil {
		return fmt.Errorf("ошибка поиска сессии: %w", err)
	}

	fmt.Println("=== Инвентаризация ===")
	if session == nil {
		fmt.Println("Открытых сессий нет")
		fmt.Println("Открыть сессию: possync inventory start")
		return nil
	}

	fmt.Printf("Сессия: %d (%s)\n", session.ID, session.RemoteUUID)
	fmt.Printf("Открыта: %s\n", session.StartedAt.Format("2006-01-02 15:04:05"))
	if session.User != "" {
		fmt.Printf("Сотрудник: %s\n", session.User)
	}
	if session.Notes != "" {
		fmt.Printf("Заметки: %s\n", session.Notes)
	}

	return nil
}

func init() {
	StartCmd.Flags().StringVarP(&sessionUser, "user", "u", "", "сотрудник, проводящий инвентаризацию")
	StartCmd.Flags().StringVar(&sessionNotes, "notes", "", "заметки к сессии")
}
