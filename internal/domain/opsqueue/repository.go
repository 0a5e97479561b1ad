package opsqueue

import (
	"context"
	"time"
)

// Repository интерфейс очереди операций
type Repository interface {
	// Enqueue сохраняет запись с ack=false. Вызывается в той же локальной
	// транзакции, что и бизнес-мутация, которую запись описывает.
	Enqueue(ctx context.Context, e *Entry) error

	// ListPending возвращает непотвержденные незаблокированные записи
	// в порядке created_at (FIFO), не более limit
	ListPending(ctx context.Context, limit int) ([]*Entry, error)

	// HasPendingFor проверяет, есть ли ожидающие операции по сущности
	HasPendingFor(ctx context.Context, entityType, entityID string) (bool, error)

	// MarkAcked помечает записи подтвержденными сервером
	MarkAcked(ctx context.Context, ids []string) error

	// MarkFailed фиксирует неудачную попытку и возвращает новый счетчик
	// попыток; запись остается в очереди
	MarkFailed(ctx context.Context, id, errMsg string) (int, error)

	// MarkFailedBatch фиксирует одну неудачную попытку доставки сразу
	// для всех записей пакета; записи остаются в очереди
	MarkFailedBatch(ctx context.Context, ids []string, errMsg string) error

	// Block переводит запись в терминальное состояние blocked
	Block(ctx context.Context, id string) error

	// Unblock возвращает заблокированную запись в очередь (действие
	// оператора после исправления причины)
	Unblock(ctx context.Context, id string) error

	// ListBlocked возвращает заблокированные записи для разбора
	ListBlocked(ctx context.Context) ([]*Entry, error)

	// PruneAcked удаляет подтвержденные записи, отправленные раньше cutoff
	PruneAcked(ctx context.Context, cutoff time.Time) (int64, error)
}
