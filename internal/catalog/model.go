package catalog

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventPublished EventStatus = "PUBLISHED"
	EventCancelled EventStatus = "CANCELLED"
)

func (s EventStatus) String() string {
	return string(s)
}

type Product struct {
	ID          uuid.UUID           `json:"id" db:"id"`
	Name        string              `json:"name" db:"name"`
	Price       decimal.Decimal     `json:"price" db:"price"`
	Stock       int                 `json:"stock" db:"stock"`
	WeightGrams decimal.NullDecimal `json:"weight_grams" db:"weight_grams"`
	IsActive    bool                `json:"is_active" db:"is_active"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at" db:"updated_at"`
}

// Weight is the per-unit shipping weight in grams, zero when unknown.
func (p Product) Weight() decimal.Decimal {
	if !p.WeightGrams.Valid {
		return decimal.Zero
	}
	return p.WeightGrams.Decimal
}

type ProductVariant struct {
	ID        uuid.UUID           `json:"id" db:"id"`
	ProductID uuid.UUID           `json:"product_id" db:"product_id"`
	Name      string              `json:"name" db:"name"`
	SKU       string              `json:"sku" db:"sku"`
	Price     decimal.NullDecimal `json:"price" db:"price"`
	Stock     int                 `json:"stock" db:"stock"`
	IsActive  bool                `json:"is_active" db:"is_active"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt time.Time           `json:"updated_at" db:"updated_at"`
}

// UnitPrice is the variant's own price, falling back to its product's.
func (v ProductVariant) UnitPrice(p Product) decimal.Decimal {
	if v.Price.Valid {
		return v.Price.Decimal
	}
	return p.Price
}

type Event struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	Title     string      `json:"title" db:"title"`
	Venue     string      `json:"venue" db:"venue"`
	Date      time.Time   `json:"date" db:"date"`
	Status    EventStatus `json:"status" db:"status"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

type TicketType struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	EventID     uuid.UUID       `json:"event_id" db:"event_id"`
	Name        string          `json:"name" db:"name"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Quantity    int             `json:"quantity" db:"quantity"`
	Sold        int             `json:"sold" db:"sold"`
	MaxPerOrder int             `json:"max_per_order" db:"max_per_order"`
	SalesStart  *time.Time      `json:"sales_start,omitempty" db:"sales_start"`
	SalesEnd    *time.Time      `json:"sales_end,omitempty" db:"sales_end"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

func (t TicketType) Remaining() int {
	return t.Quantity - t.Sold
}

// SalesOpen reports whether now falls inside the sales window. A missing
// bound leaves that side open.
func (t TicketType) SalesOpen(now time.Time) bool {
	if t.SalesStart != nil && now.Before(*t.SalesStart) {
		return false
	}
	if t.SalesEnd != nil && now.After(*t.SalesEnd) {
		return false
	}
	return true
}
