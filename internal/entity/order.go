package entity

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// OrderStatus статус заказа
type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "PENDING"
	OrderStatusConfirmed           OrderStatus = "CONFIRMED"
	OrderStatusPaymentFailed       OrderStatus = "PAYMENT_FAILED"
	OrderStatusStockRejected       OrderStatus = "STOCK_REJECTED"
	OrderStatusUpstreamUnavailable OrderStatus = "UPSTREAM_UNAVAILABLE"
)

// IsTerminal сообщает, является ли статус конечным. Конечный заказ
// больше не изменяется.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusPaymentFailed, OrderStatusStockRejected, OrderStatusUpstreamUnavailable:
		return true
	}
	return false
}

// OrderItem позиция заказа
type OrderItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Order хранит информацию о заказе, его статусе и позициях.
// Позиции хранятся JSONB-колонкой.
type Order struct {
	ID            string         `json:"id" gorm:"primaryKey;type:uuid"`
	Status        OrderStatus    `json:"status" gorm:"type:varchar(32);not null;index"`
	Items         datatypes.JSON `json:"-" gorm:"not null"`
	AmountCents   int64          `json:"amount_cents" gorm:"not null"`
	Currency      string         `json:"currency" gorm:"type:varchar(3);not null"`
	TransactionID *string        `json:"transaction_id,omitempty" gorm:"type:uuid"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// SetItems сериализует позиции заказа в JSONB-колонку
func (o *Order) SetItems(items []OrderItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("ошибка при сериализации позиций заказа: %w", err)
	}
	o.Items = datatypes.JSON(data)
	return nil
}

// GetItems десериализует позиции заказа из JSONB-колонки
func (o *Order) GetItems() ([]OrderItem, error) {
	var items []OrderItem
	if len(o.Items) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(o.Items, &items); err != nil {
		return nil, fmt.Errorf("ошибка при десериализации позиций заказа: %w", err)
	}
	return items, nil
}

var skuPattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

// supportedCurrencies список поддерживаемых валют
var supportedCurrencies = map[string]bool{
	"EUR": true,
	"USD": true,
	"GBP": true,
}

// OrderItemRequest позиция заказа в запросе
type OrderItemRequest struct {
	SKU      string `json:"sku" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

// CreateOrderRequest запрос на создание заказа
type CreateOrderRequest struct {
	Items       []OrderItemRequest `json:"items" binding:"required,min=1"`
	AmountCents int64              `json:"amount_cents" binding:"required,gt=0"`
	Currency    string             `json:"currency" binding:"required"`
}

// Normalize приводит SKU и валюту к верхнему регистру и проверяет формат полей
func (r *CreateOrderRequest) Normalize() error {
	for i := range r.Items {
		sku := strings.ToUpper(r.Items[i].SKU)
		if !skuPattern.MatchString(sku) {
			return fmt.Errorf("некорректный SKU: %s", r.Items[i].SKU)
		}
		r.Items[i].SKU = sku
		if r.Items[i].Quantity <= 0 {
			return fmt.Errorf("количество должно быть положительным для SKU %s", sku)
		}
	}
	currency := strings.ToUpper(r.Currency)
	if !supportedCurrencies[currency] {
		return fmt.Errorf("неподдерживаемая валюта: %s", r.Currency)
	}
	r.Currency = currency
	if r.AmountCents <= 0 {
		return fmt.Errorf("сумма заказа должна быть положительной")
	}
	return nil
}

// ToItems преобразует позиции запроса в позиции заказа
func (r *CreateOrderRequest) ToItems() []OrderItem {
	items := make([]OrderItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = OrderItem{SKU: it.SKU, Quantity: it.Quantity}
	}
	return items
}

// CreateOrderResponse ответ на запрос создания заказа
type CreateOrderResponse struct {
	ID            string      `json:"id"`
	Status        OrderStatus `json:"status"`
	Items         []OrderItem `json:"items"`
	AmountCents   int64       `json:"amount_cents"`
	Currency      string      `json:"currency"`
	TransactionID string      `json:"transaction_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// GetOrderResponse ответ на запрос получения заказа
type GetOrderResponse struct {
	ID            string      `json:"id"`
	Status        OrderStatus `json:"status"`
	Items         []OrderItem `json:"items"`
	AmountCents   int64       `json:"amount_cents"`
	Currency      string      `json:"currency"`
	TransactionID string      `json:"transaction_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ListOrdersResponse список заказов с общим количеством
type ListOrdersResponse struct {
	Orders []GetOrderResponse `json:"orders"`
	Total  int64              `json:"total"`
}
