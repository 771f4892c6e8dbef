// Package loyalty реализует бонусную программу: начисление и списание баллов,
// синхронизацию программной записи и единые константы конвертации.
package loyalty

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cafeteria-system/internal/model"
	"github.com/mmeshcher/cafeteria-system/internal/money"
)

// EarnDivisor — сколько целых единиц валюты даёт один балл при начислении.
const EarnDivisor = 10

// PointValue — стоимость одного балла при списании, в единицах валюты.
// Единственное место, где задан курс 0.1: предпросмотр скидки в меню,
// списание при заказе и расчёт в обработчиках используют эту константу.
var PointValue = decimal.New(1, -1)

// ErrInvalidPoints возвращается при списании нулевого или отрицательного числа баллов.
var (
	ErrInvalidPoints = errors.New("points must be positive")
	// ErrInsufficientPoints возвращается, если на счету меньше баллов, чем запрошено.
	ErrInsufficientPoints = errors.New("insufficient points")
)

// Discount описывает денежную скидку, полученную за списанные баллы.
type Discount struct {
	Amount      money.Money
	Description string
}

// EarnedPoints возвращает число баллов за потраченную сумму:
// один балл за каждые полные десять единиц валюты, остаток отбрасывается.
func EarnedPoints(spent money.Money) int64 {
	return spent.Amount().Div(decimal.NewFromInt(EarnDivisor)).Floor().IntPart()
}

// DiscountFor возвращает денежный эквивалент указанного числа баллов.
func DiscountFor(points int64, currency money.Currency) (money.Money, error) {
	return money.New(decimal.NewFromInt(points).Mul(PointValue), currency)
}

// Store описывает контракт хранилища бонусных счетов, используемый гроссбухом.
// Обе операции атомарны: изменение баланса и обновление программной записи
// выполняются одним шагом, частичного успеха не бывает.
type Store interface {
	// AwardPoints увеличивает баланс студента и возвращает обновлённую запись.
	// Если программной записи ещё нет, она создаётся, а связь сохраняется у студента.
	AwardPoints(ctx context.Context, studentCode string, points int64) (*model.ProgramRecord, error)
	// DeductPoints списывает баллы условным обновлением: при нехватке баланса
	// возвращает ErrInsufficientPoints, не меняя состояние.
	DeductPoints(ctx context.Context, studentCode string, points int64) (*model.ProgramRecord, error)
}

// Ledger реализует протокол начисления и списания баллов поверх хранилища.
type Ledger struct {
	store Store
}

// NewLedger создаёт гроссбух бонусной программы.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Award начисляет баллы за потраченную сумму. Если баллов не набралось,
// операция завершается без обращения к хранилищу.
// Ошибка хранилища возвращается вызывающему: успех без записи недопустим.
func (l *Ledger) Award(ctx context.Context, studentCode string, spent money.Money) (int64, error) {
	points := EarnedPoints(spent)
	if points <= 0 {
		return 0, nil
	}

	if _, err := l.store.AwardPoints(ctx, studentCode, points); err != nil {
		return 0, fmt.Errorf("award %d points to %s: %w", points, studentCode, err)
	}

	return points, nil
}

// Redeem списывает баллы и возвращает скидку по курсу PointValue.
func (l *Ledger) Redeem(ctx context.Context, studentCode string, points int64) (*Discount, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPoints, points)
	}

	if _, err := l.store.DeductPoints(ctx, studentCode, points); err != nil {
		if errors.Is(err, ErrInsufficientPoints) {
			return nil, err
		}
		return nil, fmt.Errorf("redeem %d points from %s: %w", points, studentCode, err)
	}

	amount, err := DiscountFor(points, money.RUB)
	if err != nil {
		return nil, fmt.Errorf("discount for %d points: %w", points, err)
	}

	return &Discount{
		Amount:      amount,
		Description: fmt.Sprintf("Redeemed %d loyalty points", points),
	}, nil
}
