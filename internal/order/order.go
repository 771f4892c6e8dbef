// Package order реализует агрегат заказа и его машину состояний.
package order

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/cafeteria-system/internal/model"
	"github.com/mmeshcher/cafeteria-system/internal/money"
)

// Status описывает статус обработки заказа.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
)

// ParseStatus преобразует строку в статус заказа.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusNew, StatusPreparing, StatusReady:
		return Status(s), true
	default:
		return "", false
	}
}

// ErrEmptySelection возвращается, если после подбора позиций заказ остался пустым.
var (
	ErrEmptySelection = errors.New("empty selection")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса заказа.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Selection описывает выбранную студентом позицию меню.
type Selection struct {
	CatalogItemID int64
	Quantity      int
}

// LineItem — снимок позиции меню, зафиксированный в момент оформления.
// Имя и цена не перечитываются из каталога после сохранения заказа.
type LineItem struct {
	CatalogItemID int64
	Name          string
	UnitPrice     money.Money
	Quantity      int
}

// LineTotal возвращает стоимость строки: цена за единицу, умноженная на количество.
func (li LineItem) LineTotal() (money.Money, error) {
	return li.UnitPrice.Mul(li.Quantity)
}

// Order — агрегат заказа. Состав фиксируется при создании,
// после сохранения меняется только статус.
type Order struct {
	ID          int64
	Code        string
	StudentCode string
	Status      Status
	Items       []LineItem
	CreatedAt   time.Time
}

// Place собирает заказ из выбора студента. Позиции, которых нет в каталоге,
// пропускаются с предупреждением в лог; количество меньше единицы поднимается до единицы.
func Place(studentCode string, selections []Selection, resolve func(id int64) (*model.CatalogItem, bool), logger *zap.Logger) (*Order, error) {
	o := &Order{
		StudentCode: studentCode,
		Status:      StatusNew,
		CreatedAt:   time.Now(),
	}

	for _, sel := range selections {
		item, ok := resolve(sel.CatalogItemID)
		if !ok {
			logger.Warn("catalog item not found, selection skipped",
				zap.Int64("catalogItemID", sel.CatalogItemID),
				zap.String("studentCode", studentCode))
			continue
		}

		qty := sel.Quantity
		if qty < 1 {
			qty = 1
		}

		o.Items = append(o.Items, LineItem{
			CatalogItemID: item.ID,
			Name:          item.Name,
			UnitPrice:     item.Price,
			Quantity:      qty,
		})
	}

	if len(o.Items) == 0 {
		return nil, ErrEmptySelection
	}

	return o, nil
}

// Total пересчитывает сумму заказа по текущим строкам при каждом вызове.
func (o *Order) Total() (money.Money, error) {
	total := money.Zero(money.RUB)
	for _, li := range o.Items {
		lt, err := li.LineTotal()
		if err != nil {
			return money.Money{}, fmt.Errorf("line total for item %d: %w", li.CatalogItemID, err)
		}
		total, err = total.Add(lt)
		if err != nil {
			return money.Money{}, fmt.Errorf("sum line totals: %w", err)
		}
	}
	return total, nil
}

// CanTransition проверяет допустимость перехода между статусами.
func CanTransition(from, to Status) bool {
	switch {
	case from == StatusNew && to == StatusPreparing:
		return true
	case from == StatusPreparing && to == StatusReady:
		return true
	default:
		return false
	}
}

func (o *Order) transition(to Status) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	return nil
}

// MarkPreparing переводит заказ из NEW в PREPARING.
func (o *Order) MarkPreparing() error {
	return o.transition(StatusPreparing)
}

// MarkReady переводит заказ из PREPARING в READY.
func (o *Order) MarkReady() error {
	return o.transition(StatusReady)
}
