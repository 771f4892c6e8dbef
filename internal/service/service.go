// Package service реализует бизнес-логику сервиса столовой:
// оформление заказов, оплату, бонусную программу и сопутствующие записи.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/cafeteria-system/internal/loyalty"
	"github.com/mmeshcher/cafeteria-system/internal/model"
	"github.com/mmeshcher/cafeteria-system/internal/money"
	"github.com/mmeshcher/cafeteria-system/internal/order"
	"github.com/mmeshcher/cafeteria-system/internal/payment"
	"github.com/mmeshcher/cafeteria-system/internal/repository"
)

// Внешняя оплата трактуется как блокирующий вызов с таймаутом:
// по истечении — отказ, баллы не трогаем.
const paymentTimeout = 5 * time.Second

// ErrInvalidRequest возвращается при оформлении заказа без студента или без позиций.
var (
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidCredentials возвращается при неверной паре код/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateStudent(ctx context.Context, code string, passwordHash []byte) (int64, error)
	GetStudentByCode(ctx context.Context, code string) (*model.Student, error)
	FindCatalogItem(ctx context.Context, id int64) (*model.CatalogItem, error)
	ListAvailableItems(ctx context.Context) ([]model.CatalogItem, error)
	SaveOrder(ctx context.Context, o *order.Order) (string, error)
	GetOrderByCode(ctx context.Context, code string) (*order.Order, error)
	GetOrdersByStudent(ctx context.Context, studentCode string) ([]order.Order, error)
	GetPendingOrders(ctx context.Context) ([]order.Order, error)
	UpdateOrderStatus(ctx context.Context, code string, from, to order.Status) error
	AwardPoints(ctx context.Context, studentCode string, points int64) (*model.ProgramRecord, error)
	DeductPoints(ctx context.Context, studentCode string, points int64) (*model.ProgramRecord, error)
	GetProgramRecord(ctx context.Context, studentCode string) (*model.ProgramRecord, error)
	RecordPayment(ctx context.Context, p *payment.Payment) error
	RecordHistory(ctx context.Context, rec model.HistoryRecord) error
	UpdateHistoryStatus(ctx context.Context, orderCode, status string) error
	CreateNotification(ctx context.Context, studentCode, message string, typ model.NotificationType) error
	GetUnsentNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	MarkNotificationSent(ctx context.Context, id int64) error
}

// Service координирует оформление заказа, оплату, баллы и производные записи.
type Service struct {
	repo    Repository
	gateway *payment.Gateway
	ledger  *loyalty.Ledger
	logger  *zap.Logger
}

// NewService создаёт сервис с указанным репозиторием и платёжным шлюзом.
func NewService(repo Repository, gateway *payment.Gateway, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		ledger:  loyalty.NewLedger(repo),
		logger:  logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterStudent регистрирует студента. Программная запись бонусной
// программы создаётся репозиторием в той же транзакции.
func (s *Service) RegisterStudent(ctx context.Context, code, password string) (int64, error) {
	hashed := hashPassword(code, password)
	return s.repo.CreateStudent(ctx, code, hashed)
}

// AuthenticateStudent проверяет код и пароль студента.
func (s *Service) AuthenticateStudent(ctx context.Context, code, password string) (int64, error) {
	st, err := s.repo.GetStudentByCode(ctx, code)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(code, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(st.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return st.ID, nil
}

func hashPassword(code, password string) []byte {
	sum := sha256.Sum256([]byte(code + ":" + password))
	return sum[:]
}

// ListMenu возвращает доступные позиции меню.
func (s *Service) ListMenu(ctx context.Context) ([]model.CatalogItem, error) {
	return s.repo.ListAvailableItems(ctx)
}

// PlaceOrder оформляет заказ студента: собирает агрегат по каталогу,
// сохраняет его со статусом NEW и ставит уведомление о статусе.
func (s *Service) PlaceOrder(ctx context.Context, studentCode string, selections []order.Selection) (*order.Order, error) {
	if studentCode == "" || len(selections) == 0 {
		return nil, ErrInvalidRequest
	}

	if _, err := s.repo.GetStudentByCode(ctx, studentCode); err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return nil, fmt.Errorf("%w: unknown student %s", ErrInvalidRequest, studentCode)
		}
		return nil, err
	}

	// Сбой каталога и отсутствие позиции различаются: позиция, которой нет,
	// пропускается, а ошибка хранилища прерывает оформление.
	var resolveErr error
	resolve := func(id int64) (*model.CatalogItem, bool) {
		item, err := s.repo.FindCatalogItem(ctx, id)
		if err != nil {
			if !errors.Is(err, repository.ErrItemNotFound) {
				resolveErr = err
			}
			return nil, false
		}
		return item, true
	}

	o, err := order.Place(studentCode, selections, resolve, s.logger)
	if resolveErr != nil {
		return nil, fmt.Errorf("resolve catalog item: %w", resolveErr)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.SaveOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	s.notify(ctx, studentCode,
		fmt.Sprintf("Order %s accepted, status %s", o.Code, o.Status),
		model.NotificationStatus)

	return o, nil
}

// AdvanceStatus переводит заказ в новый статус с оптимистической проверкой
// текущего. Зеркалирование истории и уведомление о готовности выполняются
// после перехода и при сбое не откатывают его, только логируются.
func (s *Service) AdvanceStatus(ctx context.Context, orderCode string, newStatus order.Status) error {
	o, err := s.repo.GetOrderByCode(ctx, orderCode)
	if err != nil {
		return err
	}

	prev := o.Status
	switch newStatus {
	case order.StatusPreparing:
		err = o.MarkPreparing()
	case order.StatusReady:
		err = o.MarkReady()
	default:
		err = fmt.Errorf("%w: %s -> %s", order.ErrInvalidTransition, prev, newStatus)
	}
	if err != nil {
		return err
	}

	if err := s.repo.UpdateOrderStatus(ctx, orderCode, prev, newStatus); err != nil {
		return err
	}

	if err := s.repo.UpdateHistoryStatus(ctx, orderCode, string(newStatus)); err != nil {
		s.logger.Error("mirror status to history failed",
			zap.String("order", orderCode), zap.Error(err))
	}

	if newStatus == order.StatusReady {
		s.notify(ctx, o.StudentCode,
			fmt.Sprintf("Order %s is ready for pickup", orderCode),
			model.NotificationPickup)
	}

	return nil
}

// CompleteOrderWithLoyalty проводит оплату заказа и начисляет баллы от его
// полной суммы. Списание баллов сюда не входит: скидка оформляется до вызова,
// и оплачивается уже уменьшенная сумма.
func (s *Service) CompleteOrderWithLoyalty(ctx context.Context, orderCode string, method payment.Method, amount money.Money) (payment.Result, error) {
	o, err := s.repo.GetOrderByCode(ctx, orderCode)
	if err != nil {
		return payment.Result{}, err
	}

	payCtx, cancel := context.WithTimeout(ctx, paymentTimeout)
	defer cancel()

	res := s.gateway.Process(payCtx, method, amount)

	p := &payment.Payment{
		OrderCode: orderCode,
		Method:    method,
		Amount:    amount,
		Status:    payment.StatusPending,
		Reference: res.Reference,
	}
	next := payment.StatusFailed
	if res.Success {
		next = payment.StatusSuccess
	}
	if err := p.Advance(next); err != nil {
		return payment.Result{}, err
	}
	if err := s.repo.RecordPayment(ctx, p); err != nil {
		if errors.Is(err, repository.ErrPaymentExists) {
			// Заказ уже оплачен: повтор не начисляет баллы и не пишет историю.
			s.logger.Info("payment already recorded, skipping loyalty accrual",
				zap.String("order", orderCode))
			return res, nil
		}
		// Запись платежа идемпотентна по коду заказа и может быть повторена,
		// поэтому её сбой не отменяет уже проведённую оплату.
		s.logger.Error("record payment failed",
			zap.String("order", orderCode), zap.Error(err))
	}

	if !res.Success {
		return res, nil
	}

	total, err := o.Total()
	if err != nil {
		return res, fmt.Errorf("compute order total: %w", err)
	}

	points, err := s.ledger.Award(ctx, o.StudentCode, total)
	if err != nil {
		// Баллы не начислены — успех не объявляется, вызывающий видит сбой.
		return res, err
	}

	if err := s.repo.RecordHistory(ctx, model.HistoryRecord{
		OrderCode:     orderCode,
		StudentCode:   o.StudentCode,
		PaymentMethod: string(method),
		Amount:        amount,
		Status:        string(o.Status),
		RecordedAt:    time.Now(),
	}); err != nil {
		s.logger.Error("record order history failed",
			zap.String("order", orderCode), zap.Error(err))
	}

	if points > 0 {
		s.notify(ctx, o.StudentCode,
			fmt.Sprintf("You earned %d loyalty points for order %s", points, orderCode),
			model.NotificationPoints)
	}

	return res, nil
}

// RedeemPoints списывает баллы студента и возвращает скидку.
func (s *Service) RedeemPoints(ctx context.Context, studentCode string, points int64) (*loyalty.Discount, error) {
	return s.ledger.Redeem(ctx, studentCode, points)
}

// GetBalance возвращает текущий баланс баллов студента.
func (s *Service) GetBalance(ctx context.Context, studentCode string) (int64, error) {
	rec, err := s.repo.GetProgramRecord(ctx, studentCode)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return rec.Points, nil
}

// GetOrdersByStudent возвращает заказы студента.
func (s *Service) GetOrdersByStudent(ctx context.Context, studentCode string) ([]order.Order, error) {
	return s.repo.GetOrdersByStudent(ctx, studentCode)
}

// TrackPendingOrders возвращает заказы в работе: NEW и PREPARING.
func (s *Service) TrackPendingOrders(ctx context.Context) ([]order.Order, error) {
	return s.repo.GetPendingOrders(ctx)
}

// notify ставит уведомление в очередь. Сбой логируется и не прерывает операцию.
func (s *Service) notify(ctx context.Context, studentCode, message string, typ model.NotificationType) {
	if err := s.repo.CreateNotification(ctx, studentCode, message, typ); err != nil {
		s.logger.Error("create notification failed",
			zap.String("studentCode", studentCode),
			zap.String("type", string(typ)),
			zap.Error(err))
	}
}

// StartNotificationDispatch запускает фоновую доставку отложенных уведомлений.
func (s *Service) StartNotificationDispatch(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchBatch(ctx)
		}
	}
}

func (s *Service) dispatchBatch(ctx context.Context) {
	notifications, err := s.repo.GetUnsentNotifications(ctx, 100)
	if err != nil {
		return
	}

	for _, n := range notifications {
		// Доставка — запись в лог: внешнего канала у столовой нет.
		s.logger.Info("notification delivered",
			zap.String("studentCode", n.StudentCode),
			zap.String("type", string(n.Type)),
			zap.String("message", n.Message))

		if err := s.repo.MarkNotificationSent(ctx, n.ID); err != nil {
			s.logger.Error("mark notification sent failed",
				zap.Int64("id", n.ID), zap.Error(err))
		}
	}
}
