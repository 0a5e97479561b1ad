// cmd/client/cmd/init.go
package cmd

import (
	"possync/cmd/client/cmd/inventory"
	"possync/cmd/client/cmd/maintenance"
	"possync/cmd/client/cmd/queue"
	"possync/cmd/client/cmd/reception"
	"possync/cmd/client/cmd/sale"
	"possync/cmd/client/cmd/stock"
	"possync/cmd/client/cmd/sync"
)

func init() {
	// Бизнес-события кассы
	rootCmd.AddCommand(sale.SaleCmd)
	rootCmd.AddCommand(reception.ReceptionCmd)

	// Остатки
	rootCmd.AddCommand(stock.StockCmd)
	stock.StockCmd.AddCommand(stock.SetCmd)

	// Инвентаризация
	rootCmd.AddCommand(inventory.InventoryCmd)
	inventory.InventoryCmd.AddCommand(inventory.StartCmd)
	inventory.InventoryCmd.AddCommand(inventory.CountCmd)
	inventory.InventoryCmd.AddCommand(inventory.FinalizeCmd)

	// Синхронизация и очередь
	rootCmd.AddCommand(sync.SyncCmd)
	rootCmd.AddCommand(queue.QueueCmd)
	queue.QueueCmd.AddCommand(queue.BlockedCmd)
	queue.QueueCmd.AddCommand(queue.UnblockCmd)

	// Обслуживание
	rootCmd.AddCommand(maintenance.MaintenanceCmd)
	maintenance.MaintenanceCmd.AddCommand(maintenance.ConsolidateCmd)
	maintenance.MaintenanceCmd.AddCommand(maintenance.PruneOpsCmd)
	maintenance.MaintenanceCmd.AddCommand(maintenance.ReconcileCmd)
}
