package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/app/client/config"
	"possync/internal/domain/opsqueue"
	syncdomain "possync/internal/domain/sync"
)

// State наблюдаемое состояние движка синхронизации
type State string

const (
	StateIdle    State = "idle"
	StatePushing State = "pushing"
	StatePulling State = "pulling"
	StateOnline  State = "online"
	StateOffline State = "offline"
)

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 5 * time.Minute
)

// Transport то, что движку нужно от HTTP-клиента
type Transport interface {
	HealthCheck(ctx context.Context) error
	PushOps(ctx context.Context, req syncdomain.PushOpsRequest) (*syncdomain.PushOpsResponse, error)
	PullRefs(ctx context.Context, since time.Time) (*syncdomain.PullRefsResponse, error)
}

// RefApplier локальное применение справочников из pull
type RefApplier interface {
	ApplyProductRef(ctx context.Context, p syncdomain.RefProduct) error
	ApplyCategoryRef(ctx context.Context, c syncdomain.RefCategory) error
	ApplyPaymentModeRef(ctx context.Context, m syncdomain.RefPaymentMode) error
}

// SyncService движок синхронизации: проталкивает очередь операций на
// сервер и подтягивает справочники. Очередь — единственный источник
// правды о несинхронизированных мутациях; движок никогда не создает и
// не переписывает бизнес-данные, только состояния записей очереди.
type SyncService struct {
	queue     opsqueue.Repository
	refs      RefApplier
	transport Transport
	config    *config.Config
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	lastPull time.Time
	backoff  time.Duration
	online   bool

	trigger chan struct{}

	subMu sync.Mutex
	subs  []chan State
}

func NewSyncService(queue opsqueue.Repository, refs RefApplier, transport Transport, cfg *config.Config, log *slog.Logger) *SyncService {
	return &SyncService{
		queue:     queue,
		refs:      refs,
		transport: transport,
		config:    cfg,
		log:       log,
		now:       time.Now,
		backoff:   initialBackoff,
		trigger:   make(chan struct{}, 1),
	}
}

// Subscribe возвращает канал переходов состояния. Публикация
// неблокирующая: медленный подписчик теряет промежуточные состояния,
// но не тормозит синхронизацию.
func (s *SyncService) Subscribe() <-chan State {
	ch := make(chan State, 16)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *SyncService) publish(state State) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- state:
		default:
		}
	}
}

// Online сообщает, был ли сервер доступен при последнем обмене
func (s *SyncService) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *SyncService) setOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	if online {
		s.backoff = initialBackoff
	}
	s.mu.Unlock()

	if changed {
		if online {
			s.publish(StateOnline)
		} else {
			s.publish(StateOffline)
		}
	}
}

// nextBackoff возвращает текущую задержку и удваивает ее до потолка
func (s *SyncService) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.backoff
	s.backoff *= 2
	if s.backoff > maxBackoff {
		s.backoff = maxBackoff
	}
	return d
}

// PushOps отправляет один пакет ожидающих операций.
// Возвращает число подтвержденных операций.
//
// Сетевая ошибка или 5xx не меняют содержимое очереди кроме счетчика
// попыток: без явного acked от сервера ничего не считается доставленным,
// повторная отправка того же пакета безопасна благодаря клиентским
// идентификаторам операций.
func (s *SyncService) PushOps(ctx context.Context) (int, error) {
	entries, err := s.queue.ListPending(ctx, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending ops: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	s.publish(StatePushing)

	req := syncdomain.PushOpsRequest{
		DeviceID: s.config.DeviceID,
		Ops:      make([]syncdomain.PushOp, 0, len(entries)),
	}
	for _, e := range entries {
		req.Ops = append(req.Ops, syncdomain.PushOp{
			ID:         e.ID,
			OpType:     e.OpType,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Payload:    e.Payload,
			CreatedAt:  e.CreatedAt,
		})
	}

	resp, err := s.transport.PushOps(ctx, req)
	if err != nil {
		s.setOnline(false)
		s.markBatchFailed(ctx, entries, err.Error())
		return 0, fmt.Errorf("push failed: %w", err)
	}
	s.setOnline(true)

	if len(resp.Acked) > 0 {
		if err := s.queue.MarkAcked(ctx, resp.Acked); err != nil {
			return 0, fmt.Errorf("failed to ack ops: %w", err)
		}
	}

	// Отклоненные операции блокируются сразу: сервер уже признал их
	// невалидными, повторная отправка даст тот же ответ.
	for _, rej := range resp.Rejected {
		s.log.Warn("op rejected by server", "id", rej.ID, "reason", rej.Error)
		if _, err := s.queue.MarkFailed(ctx, rej.ID, rej.Error); err != nil {
			s.log.Error("failed to mark op failed", "id", rej.ID, "error", err)
			continue
		}
		if err := s.queue.Block(ctx, rej.ID); err != nil {
			s.log.Error("failed to block op", "id", rej.ID, "error", err)
		}
	}

	s.log.Info("push complete",
		"sent", len(entries), "acked", len(resp.Acked), "rejected", len(resp.Rejected))
	return len(resp.Acked), nil
}

// markBatchFailed фиксирует неудачную попытку доставки. Сетевой сбой —
// штатный режим офлайн-кассы: записи остаются ожидающими сколько угодно
// долго и уйдут первым же успешным пакетом. Блокировка зарезервирована
// за операциями, которые сервер отклонил явно. MaxRetries здесь только
// порог тревоги в логах.
func (s *SyncService) markBatchFailed(ctx context.Context, entries []*opsqueue.Entry, reason string) {
	ids := make([]string, 0, len(entries))
	stale := 0
	for _, e := range entries {
		ids = append(ids, e.ID)
		if e.RetryCount+1 >= s.config.MaxRetries {
			stale++
		}
	}

	if err := s.queue.MarkFailedBatch(ctx, ids, reason); err != nil {
		s.log.Error("failed to record batch failure", "error", err)
		return
	}
	if stale > 0 {
		s.log.Warn("ops pending beyond retry threshold, still offline",
			"count", stale, "threshold", s.config.MaxRetries)
	}
}

// PullRefs подтягивает справочники. full игнорирует отметку последнего
// pull и запрашивает полный снимок.
//
// Товары применяются по last-writer-wins, но пропускаются, пока по
// товару есть неотправленные операции: серверная цифра остатка еще не
// учитывает локальные движения, принять ее значило бы их потерять.
func (s *SyncService) PullRefs(ctx context.Context, full bool) error {
	s.publish(StatePulling)

	s.mu.Lock()
	since := s.lastPull
	s.mu.Unlock()
	if full {
		since = time.Time{}
	}

	resp, err := s.transport.PullRefs(ctx, since)
	if err != nil {
		s.setOnline(false)
		return fmt.Errorf("pull failed: %w", err)
	}
	s.setOnline(true)

	applied, skipped := 0, 0
	for _, p := range resp.Data.Produits {
		pending, err := s.queue.HasPendingFor(ctx, "produit", fmt.Sprintf("%d", p.ID))
		if err != nil {
			return fmt.Errorf("failed to check pending ops: %w", err)
		}
		if pending {
			skipped++
			continue
		}
		if err := s.refs.ApplyProductRef(ctx, p); err != nil {
			return fmt.Errorf("failed to apply product %d: %w", p.ID, err)
		}
		applied++
	}
	for _, c := range resp.Data.Categories {
		if err := s.refs.ApplyCategoryRef(ctx, c); err != nil {
			return fmt.Errorf("failed to apply category %d: %w", c.ID, err)
		}
	}
	for _, m := range resp.Data.ModesPaiement {
		if err := s.refs.ApplyPaymentModeRef(ctx, m); err != nil {
			return fmt.Errorf("failed to apply payment mode %d: %w", m.ID, err)
		}
	}

	s.mu.Lock()
	s.lastPull = resp.ServerTime
	s.mu.Unlock()

	s.log.Info("pull complete",
		"produits", applied, "skipped", skipped,
		"categories", len(resp.Data.Categories),
		"modes_paiement", len(resp.Data.ModesPaiement))
	return nil
}

// SyncAll полный цикл: сначала push, чтобы pull не перетер
// непереданные локальные движения, затем pull
func (s *SyncService) SyncAll(ctx context.Context) error {
	if _, err := s.PushOps(ctx); err != nil {
		return err
	}
	if err := s.PullRefs(ctx, false); err != nil {
		return err
	}
	s.publish(StateIdle)
	return nil
}

// TriggerSync просит фоновый цикл синхронизироваться немедленно
func (s *SyncService) TriggerSync() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Loop фоновый цикл: периодическая синхронизация плюс реакция на
// TriggerSync. После неудачи интервал растет экспоненциально и
// сбрасывается первым успешным обменом.
func (s *SyncService) Loop(ctx context.Context) {
	interval := time.Duration(s.config.SyncInterval) * time.Second
	timer := time.NewTimer(interval)
	defer timer.Stop()

	s.log.Info("sync loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sync loop stopped")
			return
		case <-s.trigger:
		case <-timer.C:
		}

		next := interval
		if err := s.SyncAll(ctx); err != nil {
			next = s.nextBackoff()
			s.log.Warn("sync failed, backing off", "error", err, "retry_in", next)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)
	}
}
