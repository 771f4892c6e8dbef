package loyalty

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mmeshcher/cafeteria-system/internal/model"
	"github.com/mmeshcher/cafeteria-system/internal/money"
)

// stubStore имитирует атомарные операции хранилища над балансом.
type stubStore struct {
	mu     sync.Mutex
	points map[string]int64

	awardErr  error
	deductErr error

	awardCalls  int
	deductCalls int
}

func newStubStore() *stubStore {
	return &stubStore{points: make(map[string]int64)}
}

func (s *stubStore) AwardPoints(ctx context.Context, studentCode string, points int64) (*model.ProgramRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.awardCalls++
	if s.awardErr != nil {
		return nil, s.awardErr
	}

	s.points[studentCode] += points
	return &model.ProgramRecord{StudentCode: studentCode, Points: s.points[studentCode]}, nil
}

func (s *stubStore) DeductPoints(ctx context.Context, studentCode string, points int64) (*model.ProgramRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deductCalls++
	if s.deductErr != nil {
		return nil, s.deductErr
	}

	if s.points[studentCode] < points {
		return nil, ErrInsufficientPoints
	}
	s.points[studentCode] -= points
	return &model.ProgramRecord{StudentCode: studentCode, Points: s.points[studentCode]}, nil
}

func (s *stubStore) balance(studentCode string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points[studentCode]
}

func mustMoney(t *testing.T, v float64) money.Money {
	t.Helper()
	m, err := money.FromFloat(v, money.RUB)
	if err != nil {
		t.Fatalf("money.FromFloat(%v): %v", v, err)
	}
	return m
}

func TestEarnedPoints(t *testing.T) {
	tests := []struct {
		spent float64
		want  int64
	}{
		{spent: 0, want: 0},
		{spent: 9.99, want: 0},
		{spent: 10, want: 1},
		{spent: 25, want: 2},
		{spent: 29.99, want: 2},
		{spent: 100, want: 10},
	}

	for _, tt := range tests {
		if got := EarnedPoints(mustMoney(t, tt.spent)); got != tt.want {
			t.Errorf("EarnedPoints(%v) = %d, want %d", tt.spent, got, tt.want)
		}
	}
}

func TestAwardIncrementsBalance(t *testing.T) {
	store := newStubStore()
	ledger := NewLedger(store)

	points, err := ledger.Award(context.Background(), "S-1", mustMoney(t, 25))
	if err != nil {
		t.Fatalf("Award error: %v", err)
	}
	if points != 2 {
		t.Fatalf("points = %d, want 2", points)
	}
	if store.balance("S-1") != 2 {
		t.Fatalf("balance = %d, want 2", store.balance("S-1"))
	}
}

func TestAwardZeroPointsSkipsStore(t *testing.T) {
	store := newStubStore()
	ledger := NewLedger(store)

	points, err := ledger.Award(context.Background(), "S-1", mustMoney(t, 9.99))
	if err != nil {
		t.Fatalf("Award error: %v", err)
	}
	if points != 0 {
		t.Fatalf("points = %d, want 0", points)
	}
	if store.awardCalls != 0 {
		t.Fatalf("store must not be touched for zero points, calls = %d", store.awardCalls)
	}
}

func TestAwardPropagatesStoreError(t *testing.T) {
	store := newStubStore()
	store.awardErr = errors.New("connection refused")
	ledger := NewLedger(store)

	_, err := ledger.Award(context.Background(), "S-1", mustMoney(t, 50))
	if err == nil {
		t.Fatalf("expected store error to propagate")
	}
}

func TestRedeemReturnsDiscount(t *testing.T) {
	store := newStubStore()
	store.points["S-1"] = 50
	ledger := NewLedger(store)

	d, err := ledger.Redeem(context.Background(), "S-1", 30)
	if err != nil {
		t.Fatalf("Redeem error: %v", err)
	}
	if d.Amount.Cents() != 300 {
		t.Fatalf("discount = %d cents, want 300", d.Amount.Cents())
	}
	if store.balance("S-1") != 20 {
		t.Fatalf("balance = %d, want 20", store.balance("S-1"))
	}
}

func TestRedeemValidation(t *testing.T) {
	ledger := NewLedger(newStubStore())

	for _, p := range []int64{0, -5} {
		_, err := ledger.Redeem(context.Background(), "S-1", p)
		if !errors.Is(err, ErrInvalidPoints) {
			t.Fatalf("Redeem(%d): expected ErrInvalidPoints, got %v", p, err)
		}
	}
}

func TestRedeemInsufficientLeavesBalance(t *testing.T) {
	store := newStubStore()
	store.points["S-1"] = 50
	ledger := NewLedger(store)

	_, err := ledger.Redeem(context.Background(), "S-1", 60)
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	if store.balance("S-1") != 50 {
		t.Fatalf("balance changed to %d", store.balance("S-1"))
	}
}

func TestRedeemThenAwardRoundTrip(t *testing.T) {
	store := newStubStore()
	store.points["S-1"] = 10
	ledger := NewLedger(store)

	if _, err := ledger.Redeem(context.Background(), "S-1", 3); err != nil {
		t.Fatalf("Redeem error: %v", err)
	}

	// Возврат: начисление за трату, эквивалентную списанным баллам (3 балла = 30 единиц).
	if _, err := ledger.Award(context.Background(), "S-1", mustMoney(t, 3*EarnDivisor)); err != nil {
		t.Fatalf("Award error: %v", err)
	}
	if store.balance("S-1") != 10 {
		t.Fatalf("balance = %d, want 10 after round trip", store.balance("S-1"))
	}
}

func TestConcurrentAwardsNoLostUpdate(t *testing.T) {
	store := newStubStore()
	ledger := NewLedger(store)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Award(context.Background(), "S-1", mustMoney(t, 10)); err != nil {
				t.Errorf("Award error: %v", err)
			}
		}()
	}
	wg.Wait()

	if store.balance("S-1") != 2 {
		t.Fatalf("balance = %d, want 2 (lost update)", store.balance("S-1"))
	}
}

func TestProgramCodeRoundTrip(t *testing.T) {
	for _, id := range []int64{0, 1, 42, 999999, 1000000} {
		code := ProgramCode(id)
		got, err := ParseProgramCode(code)
		if err != nil {
			t.Fatalf("ParseProgramCode(%s): %v", code, err)
		}
		if got != id {
			t.Fatalf("round trip %d -> %s -> %d", id, code, got)
		}
	}
}

func TestParseProgramCodeRejectsGarbage(t *testing.T) {
	for _, code := range []string{"", "XX000001", "LP", "LPabc"} {
		if _, err := ParseProgramCode(code); err == nil {
			t.Fatalf("ParseProgramCode(%q): expected error", code)
		}
	}
}
