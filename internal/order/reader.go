package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/artist-platform/internal/domain"
)

type orderRow struct {
	ID              uuid.UUID       `db:"id"`
	OrderNumber     string          `db:"order_number"`
	IdempotencyKey  *string         `db:"idempotency_key"`
	CustomerEmail   string          `db:"customer_email"`
	CustomerName    string          `db:"customer_name"`
	CustomerPhone   *string         `db:"customer_phone"`
	OrderType       string          `db:"order_type"`
	EventID         uuid.NullUUID   `db:"event_id"`
	ShippingAddress *string         `db:"shipping_address"`
	ShippingCity    *string         `db:"shipping_city"`
	ShippingState   *string         `db:"shipping_state"`
	ShippingZip     *string         `db:"shipping_zip"`
	ShippingCountry *string         `db:"shipping_country"`
	Subtotal        decimal.Decimal `db:"subtotal"`
	ShippingFee     decimal.Decimal `db:"shipping_fee"`
	Tax             decimal.Decimal `db:"tax"`
	Total           decimal.Decimal `db:"total"`
	PaymentMethod   string          `db:"payment_method"`
	PaymentIntentID *string         `db:"payment_intent_id"`
	Status          string          `db:"status"`
	PaymentStatus   string          `db:"payment_status"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (r orderRow) toOrder() *Order {
	o := &Order{
		ID:              r.ID,
		OrderNumber:     r.OrderNumber,
		IdempotencyKey:  deref(r.IdempotencyKey),
		CustomerEmail:   r.CustomerEmail,
		CustomerName:    r.CustomerName,
		CustomerPhone:   deref(r.CustomerPhone),
		Type:            OrderType(r.OrderType),
		EventID:         r.EventID,
		Subtotal:        r.Subtotal,
		ShippingFee:     r.ShippingFee,
		Tax:             r.Tax,
		Total:           r.Total,
		PaymentMethod:   r.PaymentMethod,
		PaymentIntentID: deref(r.PaymentIntentID),
		Status:          OrderStatus(r.Status),
		PaymentStatus:   PaymentStatus(r.PaymentStatus),
		Items:           []OrderItem{},
		Tickets:         []Ticket{},
		Payments:        []Payment{},
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.ShippingAddress != nil {
		o.Shipping = &ShippingAddress{
			Address: *r.ShippingAddress,
			City:    deref(r.ShippingCity),
			State:   deref(r.ShippingState),
			Zip:     deref(r.ShippingZip),
			Country: deref(r.ShippingCountry),
		}
	}
	return o
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// reader serves the query side of the store.
type reader struct {
	db *sqlx.DB
}

func (r *reader) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.getOrder(ctx, "id", id)
}

func (r *reader) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	return r.getOrder(ctx, "order_number", number)
}

func (r *reader) GetOrderByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	return r.getOrder(ctx, "idempotency_key", key)
}

// getOrder selects one order by a unique column. column is never user input.
func (r *reader) getOrder(ctx context.Context, column string, value any) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + column + ` = $1`

	var row orderRow
	if err := r.db.GetContext(ctx, &row, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order with %s %v", domain.ErrNotFound, column, value)
		}
		return nil, fmt.Errorf("repository: failed to select order by %s: %w", column, err)
	}

	o := row.toOrder()
	if err := r.attachChildren(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *reader) GetOrdersByEmail(ctx context.Context, email string) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE customer_email = $1 ORDER BY created_at DESC`

	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows, query, email); err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for %s: %w", email, err)
	}
	if len(rows) == 0 {
		return []Order{}, nil
	}

	orders := make([]*Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toOrder())
	}
	if err := r.attachChildren(ctx, orders); err != nil {
		return nil, err
	}

	result := make([]Order, 0, len(orders))
	for _, o := range orders {
		result = append(result, *o)
	}
	return result, nil
}

// attachChildren loads items, tickets and payments of all orders with one
// query per table.
func (r *reader) attachChildren(ctx context.Context, orders []*Order) error {
	byID := make(map[uuid.UUID]*Order, len(orders))
	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	var items []OrderItem
	if err := r.selectIn(ctx, &items, `
		SELECT id, order_id, product_id, variant_id, quantity, unit_price, total_price, created_at
		FROM order_items
		WHERE order_id IN (?)
		ORDER BY created_at, id`, ids); err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	for _, item := range items {
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	var tickets []Ticket
	if err := r.selectIn(ctx, &tickets, `
		SELECT id, order_id, ticket_type_id, code, status, created_at, updated_at
		FROM tickets
		WHERE order_id IN (?)
		ORDER BY created_at, id`, ids); err != nil {
		return fmt.Errorf("repository: failed to query tickets: %w", err)
	}
	for _, ticket := range tickets {
		if o, ok := byID[ticket.OrderID]; ok {
			o.Tickets = append(o.Tickets, ticket)
		}
	}

	var payments []Payment
	if err := r.selectIn(ctx, &payments, `
		SELECT id, order_id, amount, payment_method, transaction_id, status, created_at
		FROM payments
		WHERE order_id IN (?)
		ORDER BY created_at, id`, ids); err != nil {
		return fmt.Errorf("repository: failed to query payments: %w", err)
	}
	for _, p := range payments {
		if o, ok := byID[p.OrderID]; ok {
			o.Payments = append(o.Payments, p)
		}
	}

	return nil
}

func (r *reader) selectIn(ctx context.Context, dest any, query string, ids []uuid.UUID) error {
	query, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	return r.db.SelectContext(ctx, dest, r.db.Rebind(query), args...)
}
