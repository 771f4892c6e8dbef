package order

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/cafeteria-system/internal/model"
	"github.com/mmeshcher/cafeteria-system/internal/money"
)

func catalogOf(items ...model.CatalogItem) func(id int64) (*model.CatalogItem, bool) {
	byID := make(map[int64]model.CatalogItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	return func(id int64) (*model.CatalogItem, bool) {
		it, ok := byID[id]
		if !ok {
			return nil, false
		}
		return &it, true
	}
}

func mustMoney(t *testing.T, v float64) money.Money {
	t.Helper()
	m, err := money.FromFloat(v, money.RUB)
	if err != nil {
		t.Fatalf("money.FromFloat(%v): %v", v, err)
	}
	return m
}

func TestPlaceSnapshotsNameAndPrice(t *testing.T) {
	resolve := catalogOf(
		model.CatalogItem{ID: 1, Name: "Борщ", Price: mustMoney(t, 80)},
		model.CatalogItem{ID: 2, Name: "Компот", Price: mustMoney(t, 25.50)},
	)

	o, err := Place("S-100", []Selection{{CatalogItemID: 1, Quantity: 2}, {CatalogItemID: 2, Quantity: 1}}, resolve, zap.NewNop())
	if err != nil {
		t.Fatalf("Place error: %v", err)
	}

	if o.Status != StatusNew {
		t.Fatalf("status = %s, want NEW", o.Status)
	}
	if len(o.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(o.Items))
	}
	if o.Items[0].Name != "Борщ" || o.Items[0].UnitPrice.Cents() != 8000 {
		t.Fatalf("unexpected first line: %+v", o.Items[0])
	}

	total, err := o.Total()
	if err != nil {
		t.Fatalf("Total error: %v", err)
	}
	if total.Cents() != 18550 {
		t.Fatalf("total = %d cents, want 18550", total.Cents())
	}
}

func TestPlaceSkipsUnresolvedSelections(t *testing.T) {
	resolve := catalogOf(model.CatalogItem{ID: 1, Name: "Чай", Price: mustMoney(t, 15)})

	o, err := Place("S-100", []Selection{
		{CatalogItemID: 999, Quantity: 1},
		{CatalogItemID: 1, Quantity: 1},
	}, resolve, zap.NewNop())
	if err != nil {
		t.Fatalf("Place error: %v", err)
	}
	if len(o.Items) != 1 || o.Items[0].CatalogItemID != 1 {
		t.Fatalf("unexpected items: %+v", o.Items)
	}
}

func TestPlaceEmptyAfterSkips(t *testing.T) {
	resolve := catalogOf()

	_, err := Place("S-100", []Selection{{CatalogItemID: 42, Quantity: 1}}, resolve, zap.NewNop())
	if !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
}

func TestPlaceClampsQuantity(t *testing.T) {
	resolve := catalogOf(model.CatalogItem{ID: 1, Name: "Булочка", Price: mustMoney(t, 12)})

	o, err := Place("S-100", []Selection{{CatalogItemID: 1, Quantity: -3}}, resolve, zap.NewNop())
	if err != nil {
		t.Fatalf("Place error: %v", err)
	}
	if o.Items[0].Quantity != 1 {
		t.Fatalf("quantity = %d, want 1", o.Items[0].Quantity)
	}
}

func TestTotalSurvivesCentsRoundTrip(t *testing.T) {
	resolve := catalogOf(
		model.CatalogItem{ID: 1, Name: "Борщ", Price: mustMoney(t, 80)},
		model.CatalogItem{ID: 2, Name: "Компот", Price: mustMoney(t, 25.50)},
		model.CatalogItem{ID: 3, Name: "Хлеб", Price: mustMoney(t, 7.05)},
	)

	o, err := Place("S-100", []Selection{
		{CatalogItemID: 1, Quantity: 2},
		{CatalogItemID: 2, Quantity: 1},
		{CatalogItemID: 3, Quantity: 3},
	}, resolve, zap.NewNop())
	if err != nil {
		t.Fatalf("Place error: %v", err)
	}

	total, err := o.Total()
	if err != nil {
		t.Fatalf("Total error: %v", err)
	}

	// Хранилище держит цены в целых копейках: прогоняем каждую позицию
	// через Cents/FromCents и сверяем сумму восстановленного заказа.
	restored := &Order{Code: o.Code, StudentCode: o.StudentCode, Status: o.Status}
	for _, it := range o.Items {
		restored.Items = append(restored.Items, LineItem{
			CatalogItemID: it.CatalogItemID,
			Name:          it.Name,
			UnitPrice:     money.FromCents(it.UnitPrice.Cents(), money.RUB),
			Quantity:      it.Quantity,
		})
	}

	restoredTotal, err := restored.Total()
	if err != nil {
		t.Fatalf("restored Total error: %v", err)
	}
	if restoredTotal.Cents() != total.Cents() {
		t.Fatalf("restored total = %d cents, want %d", restoredTotal.Cents(), total.Cents())
	}

	var sum int64
	for _, it := range restored.Items {
		lt, err := it.LineTotal()
		if err != nil {
			t.Fatalf("LineTotal error: %v", err)
		}
		sum += lt.Cents()
	}
	if sum != restoredTotal.Cents() {
		t.Fatalf("line totals sum = %d cents, total = %d", sum, restoredTotal.Cents())
	}
}

func TestStatusMachine(t *testing.T) {
	tests := []struct {
		name    string
		steps   []Status
		wantErr bool
	}{
		{name: "full happy path", steps: []Status{StatusPreparing, StatusReady}},
		{name: "skip preparing", steps: []Status{StatusReady}, wantErr: true},
		{name: "double preparing", steps: []Status{StatusPreparing, StatusPreparing}, wantErr: true},
		{name: "backwards from ready", steps: []Status{StatusPreparing, StatusReady, StatusPreparing}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{Status: StatusNew}

			var err error
			for _, s := range tt.steps {
				switch s {
				case StatusPreparing:
					err = o.MarkPreparing()
				case StatusReady:
					err = o.MarkReady()
				}
				if err != nil {
					break
				}
			}

			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFormatCode(t *testing.T) {
	day := DayKey(time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC))
	code := FormatCode(day, 7)
	if code != "ORD-20250102-0007" {
		t.Fatalf("code = %s", code)
	}
}

func TestFallbackCodeUnique(t *testing.T) {
	now := time.Now()
	a := FallbackCode(now)
	b := FallbackCode(now)
	if a == b {
		t.Fatalf("fallback codes must differ: %s", a)
	}
	if !strings.HasPrefix(a, "ORD-") {
		t.Fatalf("fallback code without prefix: %s", a)
	}
}
