package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRefunded  OrderStatus = "REFUNDED"
)

func (s OrderStatus) String() string {
	return string(s)
}

// Terminal statuses admit no further transition.
func (s OrderStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

func (s PaymentStatus) String() string {
	return string(s)
}

type OrderType string

const (
	TypeProducts OrderType = "PRODUCTS"
	TypeTickets  OrderType = "TICKETS"
	TypeMixed    OrderType = "MIXED"
)

func (t OrderType) String() string {
	return string(t)
}

type TicketStatus string

const (
	TicketValid     TicketStatus = "VALID"
	TicketCancelled TicketStatus = "CANCELLED"
	TicketRefunded  TicketStatus = "REFUNDED"
)

type ShippingAddress struct {
	Address string `json:"address" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type OrderItem struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	OrderID    uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID  uuid.UUID       `json:"product_id" db:"product_id"`
	VariantID  uuid.NullUUID   `json:"variant_id" db:"variant_id"`
	Quantity   int             `json:"quantity" db:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price" db:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price" db:"total_price"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

type Ticket struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	OrderID      uuid.UUID    `json:"order_id" db:"order_id"`
	TicketTypeID uuid.UUID    `json:"ticket_type_id" db:"ticket_type_id"`
	Code         string       `json:"code" db:"code"`
	Status       TicketStatus `json:"status" db:"status"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

type Payment struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	OrderID       uuid.UUID       `json:"order_id" db:"order_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Method        string          `json:"payment_method" db:"payment_method"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	Status        PaymentStatus   `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

type Order struct {
	ID              uuid.UUID        `json:"id"`
	OrderNumber     string           `json:"order_number"`
	IdempotencyKey  string           `json:"-"`
	CustomerEmail   string           `json:"customer_email"`
	CustomerName    string           `json:"customer_name"`
	CustomerPhone   string           `json:"customer_phone,omitempty"`
	Type            OrderType        `json:"order_type"`
	EventID         uuid.NullUUID    `json:"event_id"`
	Shipping        *ShippingAddress `json:"shipping_address,omitempty"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	ShippingFee     decimal.Decimal  `json:"shipping_fee"`
	Tax             decimal.Decimal  `json:"tax"`
	Total           decimal.Decimal  `json:"total"`
	PaymentMethod   string           `json:"payment_method"`
	PaymentIntentID string           `json:"payment_intent_id,omitempty"`
	Status          OrderStatus      `json:"status"`
	PaymentStatus   PaymentStatus    `json:"payment_status"`
	Items           []OrderItem      `json:"items"`
	Tickets         []Ticket         `json:"tickets"`
	Payments        []Payment        `json:"payments"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type ItemRequest struct {
	ProductID uuid.UUID     `json:"product_id" validate:"required"`
	VariantID uuid.NullUUID `json:"variant_id"`
	Quantity  int           `json:"quantity" validate:"gt=0"`
}

type TicketRequest struct {
	TicketTypeID uuid.UUID `json:"ticket_type_id" validate:"required"`
	Quantity     int       `json:"quantity" validate:"gt=0"`
}

type CreateOrderRequest struct {
	CustomerEmail  string           `json:"customer_email" validate:"required,email"`
	CustomerName   string           `json:"customer_name" validate:"required,min=2"`
	CustomerPhone  string           `json:"customer_phone,omitempty"`
	Type           OrderType        `json:"order_type,omitempty" validate:"omitempty,oneof=PRODUCTS TICKETS MIXED"`
	EventID        uuid.NullUUID    `json:"event_id"`
	Items          []ItemRequest    `json:"items" validate:"dive"`
	Tickets        []TicketRequest  `json:"tickets" validate:"dive"`
	Shipping       *ShippingAddress `json:"shipping_address"`
	PaymentMethod  string           `json:"payment_method,omitempty" validate:"max=32"`
	IdempotencyKey string           `json:"idempotency_key,omitempty" validate:"max=128"`
}

// EventCancellation summarises the cascade of an event cancellation.
type EventCancellation struct {
	EventID         uuid.UUID   `json:"event_id"`
	CancelledOrders []uuid.UUID `json:"cancelled_orders"`
	ReleasedTickets int         `json:"released_tickets"`
}
