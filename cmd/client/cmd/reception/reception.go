package reception

import (
	"fmt"
	"strconv"
	"strings"

	"possync/internal/app/client"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var ReceptionCmd = &cobra.Command{
	Use:   "reception <товар:кол-во:закупка> [товар:кол-во:закупка...]",
	Short: "Зарегистрировать приемку товара",
	Long: `Регистрирует поступление товара от поставщика. Остатки увеличиваются
сразу, операции отправляются на сервер при следующей синхронизации.

Каждая строка приемки задается в формате товар:кол-во:закупочная_цена:

  possync reception 12:50:2.10 7:20:8`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}

		lines := make([]client.ReceptionLine, 0, len(args))
		for _, arg := range args {
			parts := strings.Split(arg, ":")
			if len(parts) != 3 {
				return fmt.Errorf("неверный формат строки %q, ожидается товар:кол-во:закупка", arg)
			}

			productID, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				return fmt.Errorf("неверный идентификатор товара %q", parts[0])
			}
			qty, err := decimal.NewFromString(parts[1])
			if err != nil {
				return fmt.Errorf("неверное количество %q", parts[1])
			}
			cost, err := decimal.NewFromString(parts[2])
			if err != nil {
				return fmt.Errorf("неверная закупочная цена %q", parts[2])
			}

			lines = append(lines, client.ReceptionLine{ProductID: productID, Qty: qty, UnitCost: cost})
		}

		receptionID, err := app.Recorder.RecordReception(cmd.Context(), lines)
		if err != nil {
			return fmt.Errorf("ошибка регистрации приемки: %w", err)
		}

		color.Green("✅ Приемка зарегистрирована")
		fmt.Printf("ID: %s\n", receptionID)
		fmt.Printf("Строк: %d\n", len(lines))

		return nil
	},
}
