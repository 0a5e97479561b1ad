package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"
)

// Servicer интерфейс серверного сервиса синхронизации
type Servicer interface {
	// ProcessPushOps обрабатывает пакет операций устройства
	ProcessPushOps(ctx context.Context, req PushOpsRequest) (*PushOpsResponse, error)

	// GetRefs возвращает справочные данные, при ненулевом since — инкрементально
	GetRefs(ctx context.Context, since time.Time) (*PullRefsResponse, error)
}

// ServiceConfig конфигурация сервиса синхронизации
type ServiceConfig struct {
	// MaxBatchSize максимальный размер принимаемого пакета операций
	MaxBatchSize int
}

// Service реализация сервиса синхронизации
type Service struct {
	repo   Repository
	log    *slog.Logger
	config *ServiceConfig
	now    func() time.Time
}

// NewService создает новый сервис синхронизации
func NewService(repo Repository, log *slog.Logger, config *ServiceConfig) *Service {
	if config == nil {
		config = &ServiceConfig{
			MaxBatchSize: 1000,
		}
	}

	return &Service{
		repo:   repo,
		log:    log,
		config: config,
		now:    time.Now,
	}
}

// ProcessPushOps применяет пакет операций. Каждая операция применяется
// ровно один раз: повторная отправка уже примененного ID подтверждается
// без эффекта — это центральное свойство корректности всего протокола.
// Доменно-невалидные операции отклоняются поштучно, остальные
// подтверждаются; транзиентная ошибка хранилища прерывает пакет целиком,
// и клиент повторит его позже.
func (s *Service) ProcessPushOps(ctx context.Context, req PushOpsRequest) (*PushOpsResponse, error) {
	if req.DeviceID == "" {
		return nil, ErrEmptyDeviceID
	}
	if len(req.Ops) > s.config.MaxBatchSize {
		return nil, fmt.Errorf("batch size %d exceeds limit %d", len(req.Ops), s.config.MaxBatchSize)
	}

	resp := &PushOpsResponse{OK: true}

	for _, op := range req.Ops {
		err := s.repo.ApplyOp(ctx, req.DeviceID, op)

		switch {
		case err == nil:
			resp.Acked = append(resp.Acked, op.ID)

		case errors.Is(err, ErrAlreadyApplied):
			// Ретрай после неоднозначного сетевого сбоя: подтверждаем
			// без повторного применения
			s.log.Debug("duplicate op acked", "op_id", op.ID, "device", req.DeviceID)
			resp.Acked = append(resp.Acked, op.ID)

		default:
			var rejected *RejectedError
			if errors.As(err, &rejected) {
				s.log.Warn("op rejected",
					"op_id", op.ID,
					"op_type", op.OpType,
					"reason", rejected.Reason,
				)
				resp.Rejected = append(resp.Rejected, OpError{ID: op.ID, Error: rejected.Reason})
				continue
			}
			// Транзиентная ошибка: пакет не дообработан, клиент не должен
			// считать неподтвержденные операции потерянными
			return nil, fmt.Errorf("failed to apply op %s: %w", op.ID, err)
		}
	}

	if err := s.repo.TouchDevice(ctx, req.DeviceID, s.now()); err != nil {
		s.log.Warn("failed to update device sync time", "device", req.DeviceID, "error", err)
	}

	s.log.Info("push batch processed",
		"device", req.DeviceID,
		"acked", len(resp.Acked),
		"rejected", len(resp.Rejected),
	)

	return resp, nil
}

// GetRefs возвращает справочные данные для pull-цикла
func (s *Service) GetRefs(ctx context.Context, since time.Time) (*PullRefsResponse, error) {
	produits, err := s.repo.ListProducts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	categories, err := s.repo.ListCategories(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	modes, err := s.repo.ListPaymentModes(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment modes: %w", err)
	}

	return &PullRefsResponse{
		OK: true,
		Data: RefData{
			Produits:      produits,
			Categories:    categories,
			ModesPaiement: modes,
		},
		ServerTime: s.now(),
	}, nil
}
