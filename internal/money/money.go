// Package money реализует денежный тип с фиксированной точностью и тегом валюты.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency обозначает валюту денежной суммы.
type Currency string

// RUB — валюта по умолчанию для всех расчётов столовой.
const RUB Currency = "RUB"

// ErrCurrencyMismatch возвращается при операции над суммами в разных валютах.
var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	// ErrNegativeResult возвращается, если вычитание привело бы к отрицательной сумме.
	ErrNegativeResult = errors.New("negative result")
	// ErrInvalidFactor возвращается при умножении на отрицательный множитель.
	ErrInvalidFactor = errors.New("invalid factor")
	// ErrNegativeAmount возвращается при попытке создать отрицательную сумму.
	ErrNegativeAmount = errors.New("negative amount")
)

// Money представляет неизменяемую денежную сумму с точностью до копейки.
// Все операции возвращают новое значение, исходное не меняется.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// New создаёт сумму из decimal-значения, округляя до двух знаков.
// Округление — арифметическое, половина вверх: 10.005 -> 10.01.
func New(amount decimal.Decimal, currency Currency) (Money, error) {
	if amount.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	return Money{amount: amount.Round(2), currency: currency}, nil
}

// FromFloat создаёт сумму из числа с плавающей точкой.
func FromFloat(amount float64, currency Currency) (Money, error) {
	return New(decimal.NewFromFloat(amount), currency)
}

// FromCents восстанавливает сумму из целого числа копеек, как она хранится в БД.
func FromCents(cents int64, currency Currency) Money {
	return Money{amount: decimal.New(cents, -2), currency: currency}
}

// Zero возвращает нулевую сумму в указанной валюте.
func Zero(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// Amount возвращает значение суммы.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency возвращает валюту суммы.
func (m Money) Currency() Currency { return m.currency }

// Cents возвращает сумму в копейках для хранения в БД.
func (m Money) Cents() int64 {
	return m.amount.Mul(decimal.New(1, 2)).IntPart()
}

// Float64 возвращает приближённое значение суммы для JSON-ответов.
func (m Money) Float64() float64 {
	f, _ := m.amount.Float64()
	return f
}

// IsZero сообщает, равна ли сумма нулю.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsPositive сообщает, больше ли сумма нуля.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// String возвращает текстовое представление вида "125.50 RUB".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(2), m.currency)
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}

// Add возвращает сумму двух значений в одной валюте.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount).Round(2), currency: m.currency}, nil
}

// Sub возвращает разность двух значений. Результат не может быть отрицательным.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	res := m.amount.Sub(other.amount)
	if res.IsNegative() {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrNegativeResult, m, other)
	}
	return Money{amount: res.Round(2), currency: m.currency}, nil
}

// Mul умножает сумму на неотрицательное целое количество.
func (m Money) Mul(factor int) (Money, error) {
	if factor < 0 {
		return Money{}, fmt.Errorf("%w: %d", ErrInvalidFactor, factor)
	}
	return Money{amount: m.amount.Mul(decimal.NewFromInt(int64(factor))).Round(2), currency: m.currency}, nil
}

// Cmp сравнивает две суммы в одной валюте: -1, 0 или 1.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// LessThan сообщает, меньше ли сумма другой суммы в той же валюте.
func (m Money) LessThan(other Money) (bool, error) {
	c, err := m.Cmp(other)
	if err != nil {
		return false, err
	}
	return c < 0, nil
}
