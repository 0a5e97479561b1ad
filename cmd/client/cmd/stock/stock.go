package stock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"possync/internal/app/client"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var watchInterval int

var StockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Показать остатки товаров",
	Long: `Выводит текущие остатки по локальной проекции. Данные берутся из
локальной базы и актуальны на момент последней синхронизации плюс
незакрытые локальные операции.

С флагом --watch остатки перерисовываются при каждом завершении
цикла синхронизации.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		if watchInterval > 0 {
			return watchStocks(cmd.Context(), app)
		}

		return printStocks(cmd.Context(), app)
	},
}

var SetCmd = &cobra.Command{
	Use:   "set <товар> <кол-во>",
	Short: "Установить остаток товара",
	Long: `Устанавливает абсолютный остаток товара. В журнал записывается
движение на разницу с текущим остатком, на сервер уходит операция
stock.set.`,
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

		if err := app.Recorder.SetStock(cmd.Context(), productID, qty); err != nil {
			return fmt.Errorf("ошибка установки остатка: %w", err)
		}

		app.Cache.InvalidatePrefix("produits")

		color.Green("✅ Остаток товара %d установлен: %s", productID, qty.String())
		return nil
	},
}

func printStocks(ctx context.Context, app *client.App) error {
	// Витрина кэшируется, в режиме --watch запрос к базе идет
	// только после инвалидации по итогам синхронизации
	products, ok := cachedStocks(app)
	if !ok {
		var err error
		products, err = app.Storage.ListProductStocks(ctx)
		if err != nil {
			return fmt.Errorf("ошибка чтения остатков: %w", err)
		}
		app.Cache.Set("produits:list", products)
	}

	if len(products) == 0 {
		fmt.Println("Справочник товаров пуст. Выполните: possync sync")
		return nil
	}

	fmt.Println("=== Остатки товаров ===")
	fmt.Printf("%-6s %-30s %-14s %10s %10s\n", "ID", "Наименование", "Штрихкод", "Цена", "Остаток")
	for _, p := range products {
		line := fmt.Sprintf("%-6d %-30s %-14s %10s %10s", p.ID, p.Nom, p.CodeBarre, p.Prix.String(), p.Stock.String())
		if p.Stock.IsNegative() {
			color.Red(line)
		} else if p.Stock.IsZero() {
			color.Yellow(line)
		} else {
			fmt.Println(line)
		}
	}
	fmt.Printf("\nВсего товаров: %d\n", len(products))

	return nil
}

func cachedStocks(app *client.App) ([]client.ProductStock, bool) {
	v, ok := app.Cache.Get("produits:list")
	if !ok {
		return nil, false
	}
	products, ok := v.([]client.ProductStock)
	return products, ok
}

func watchStocks(ctx context.Context, app *client.App) error {
	states := app.Sync.Subscribe()

	go app.Sync.Loop(ctx)

	if err := printStocks(ctx, app); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case state := <-states:
			if state != client.StateIdle {
				continue
			}
			// Цикл синхронизации завершился, локальная база могла измениться
			app.Cache.InvalidatePrefix("produits")
			if err := printStocks(ctx, app); err != nil {
				return err
			}
		case <-ticker.C:
			app.Sync.TriggerSync()
		}
	}
}

func init() {
	StockCmd.Flags().IntVar(&watchInterval, "watch", 0, "перерисовывать остатки, запуская синхронизацию каждые N секунд")
}
