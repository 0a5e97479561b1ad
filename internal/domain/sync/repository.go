package sync

import (
	"context"
	"time"
)

// Repository интерфейс серверного хранилища синхронизации
type Repository interface {
	// ApplyOp применяет операцию ровно один раз: дедупликация по op.ID,
	// повторное применение возвращает ErrAlreadyApplied. Доменно-невалидный
	// payload — *RejectedError.
	ApplyOp(ctx context.Context, deviceID string, op PushOp) error

	// TouchDevice фиксирует время последней синхронизации устройства
	TouchDevice(ctx context.Context, deviceID string, at time.Time) error

	// ListProducts возвращает товары, измененные после since
	// (нулевое since — все)
	ListProducts(ctx context.Context, since time.Time) ([]RefProduct, error)

	// ListCategories возвращает категории, измененные после since
	ListCategories(ctx context.Context, since time.Time) ([]RefCategory, error)

	// ListPaymentModes возвращает способы оплаты, измененные после since
	ListPaymentModes(ctx context.Context, since time.Time) ([]RefPaymentMode, error)
}
