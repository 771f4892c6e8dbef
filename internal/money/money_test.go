package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoundsHalfUp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "half rounds up", input: "10.005", want: "10.01"},
		{name: "below half rounds down", input: "10.004", want: "10.00"},
		{name: "above half rounds up", input: "10.006", want: "10.01"},
		{name: "already two places", input: "10.00", want: "10.00"},
		{name: "many places", input: "0.999", want: "1.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decimal.NewFromString(tt.input)
			require.NoError(t, err)

			m, err := New(d, RUB)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Amount().StringFixed(2))
		})
	}
}

func TestNewRejectsNegative(t *testing.T) {
	_, err := FromFloat(-1, RUB)
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestAddSubSameCurrency(t *testing.T) {
	a, err := FromFloat(10.50, RUB)
	require.NoError(t, err)
	b, err := FromFloat(4.25, RUB)
	require.NoError(t, err)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(1475), sum.Cents())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, int64(625), diff.Cents())
}

func TestSubNegativeResult(t *testing.T) {
	a, _ := FromFloat(1, RUB)
	b, _ := FromFloat(2, RUB)

	_, err := a.Sub(b)
	assert.ErrorIs(t, err, ErrNegativeResult)
}

func TestCurrencyMismatch(t *testing.T) {
	a, _ := FromFloat(1, RUB)
	b, _ := FromFloat(1, Currency("USD"))

	_, err := a.Add(b)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = a.Sub(b)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = a.Cmp(b)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMul(t *testing.T) {
	price, _ := FromFloat(12.33, RUB)

	total, err := price.Mul(3)
	require.NoError(t, err)
	assert.Equal(t, int64(3699), total.Cents())

	zero, err := price.Mul(0)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = price.Mul(-1)
	if !errors.Is(err, ErrInvalidFactor) {
		t.Fatalf("expected ErrInvalidFactor, got %v", err)
	}
}

func TestCentsRoundTrip(t *testing.T) {
	m := FromCents(12550, RUB)
	assert.Equal(t, int64(12550), m.Cents())
	assert.Equal(t, "125.50 RUB", m.String())
}
