package sale

import (
	"fmt"
	"strconv"
	"strings"

	"possync/internal/app/client"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var paymentMode string

var SaleCmd = &cobra.Command{
	Use:   "sale <товар:кол-во:цена> [товар:кол-во:цена...]",
	Short: "Зарегистрировать продажу",
	Long: `Регистрирует продажу в локальной базе и ставит операции в очередь
синхронизации. Сеть не требуется.

Каждая строка продажи задается в формате товар:кол-во:цена, например:

  possync sale 12:2:3.50 7:1:10 --mode especes`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		lines, err := parseLines(args)
		if err != nil {
			return err
		}

		saleID, err := app.Recorder.RecordSale(cmd.Context(), lines, paymentMode)
		if err != nil {
			return fmt.Errorf("ошибка регистрации продажи: %w", err)
		}

		total := decimal.Zero
		for _, l := range lines {
			total = total.Add(l.Qty.Mul(l.UnitPrice))
		}

		color.Green("✅ Продажа зарегистрирована")
		fmt.Printf("ID: %s\n", saleID)
		fmt.Printf("Строк: %d\n", len(lines))
		fmt.Printf("Сумма: %s\n", total.String())
		fmt.Printf("Оплата: %s\n", paymentMode)
		fmt.Println()
		fmt.Println("Операции поставлены в очередь: possync sync")

		return nil
	},
}

func parseLines(args []string) ([]client.SaleLine, error) {
	lines := make([]client.SaleLine, 0, len(args))
	for _, arg := range args {
		parts := strings.Split(arg, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("неверный формат строки %q, ожидается товар:кол-во:цена", arg)
		}

		productID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("неверный идентификатор товара %q", parts[0])
		}
		qty, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("неверное количество %q", parts[1])
		}
		price, err := decimal.NewFromString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("неверная цена %q", parts[2])
		}

		lines = append(lines, client.SaleLine{ProductID: productID, Qty: qty, UnitPrice: price})
	}
	return lines, nil
}

func init() {
	SaleCmd.Flags().StringVarP(&paymentMode, "mode", "m", "especes", "способ оплаты")
}
