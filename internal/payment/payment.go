package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/cafeteria-system/internal/money"
)

// Status описывает состояние платежа.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusConfirmed Status = "CONFIRMED"
	StatusRefunded  Status = "REFUNDED"
)

// ErrInvalidPaymentTransition возвращается при нарушении порядка состояний платежа.
var ErrInvalidPaymentTransition = errors.New("invalid payment transition")

// Payment — запись о платеже за заказ.
type Payment struct {
	ID        int64
	OrderCode string
	Method    Method
	Amount    money.Money
	Status    Status
	Reference string
	CreatedAt time.Time
}

// Переходы строго линейны, перескоки запрещены.
// FAILED — терминальное состояние: подтверждать и возвращать нечего.
var paymentTransitions = map[Status][]Status{
	StatusPending:   {StatusSuccess, StatusFailed},
	StatusSuccess:   {StatusConfirmed},
	StatusConfirmed: {StatusRefunded},
}

// Advance переводит платёж в следующее состояние, проверяя порядок.
func (p *Payment) Advance(to Status) error {
	for _, allowed := range paymentTransitions[p.Status] {
		if allowed == to {
			p.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidPaymentTransition, p.Status, to)
}
