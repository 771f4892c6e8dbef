// Package model содержит доменные сущности сервиса столовой.
package model

import (
	"time"

	"github.com/mmeshcher/cafeteria-system/internal/money"
)

// Student представляет зарегистрированного студента системы лояльности.
type Student struct {
	ID           int64
	Code         string
	PasswordHash []byte
	ProgramCode  string
	CreatedAt    time.Time
}

// CatalogItem описывает позицию меню столовой.
type CatalogItem struct {
	ID        int64
	Name      string
	Price     money.Money
	Available bool
}

// ProgramRecord — долговременная проекция бонусного счёта студента.
// Идентифицируется программным кодом, отличным от кода студента.
type ProgramRecord struct {
	ID          int64
	Code        string
	StudentCode string
	Points      int64
	UpdatedAt   time.Time
}

// HistoryRecord описывает запись истории заказа, создаваемую при оплате.
type HistoryRecord struct {
	OrderCode     string
	StudentCode   string
	PaymentMethod string
	Amount        money.Money
	Status        string
	RecordedAt    time.Time
}

// NotificationType различает уведомления по причине отправки.
type NotificationType string

const (
	NotificationStatus NotificationType = "ORDER_STATUS"
	NotificationPickup NotificationType = "READY_FOR_PICKUP"
	NotificationPoints NotificationType = "POINTS_EARNED"
)

// Notification описывает отложенное уведомление студенту.
type Notification struct {
	ID          int64
	StudentCode string
	Message     string
	Type        NotificationType
	Sent        bool
	CreatedAt   time.Time
}
