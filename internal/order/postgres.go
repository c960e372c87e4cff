package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/artist-platform/internal/catalog"
	"github.com/vasiliy-maslov/artist-platform/internal/domain"
	"github.com/vasiliy-maslov/artist-platform/internal/inventory"
)

const (
	constraintOrderNumber    = "orders_order_number_key"
	constraintIdempotencyKey = "orders_idempotency_key_key"
	constraintOnePayment     = "payments_one_completed_per_order"
)

const orderColumns = `
	id, order_number, idempotency_key, customer_email, customer_name, customer_phone,
	order_type, event_id, shipping_address, shipping_city, shipping_state, shipping_zip,
	shipping_country, subtotal, shipping_fee, tax, total, payment_method, payment_intent_id,
	status, payment_status, created_at, updated_at`

// PostgresStore writes through pgx transactions and reads through sqlx.
type PostgresStore struct {
	pool   *pgxpool.Pool
	ledger *inventory.Ledger
	*reader
}

func NewPostgresStore(pool *pgxpool.Pool, readDB *sqlx.DB, ledger *inventory.Ledger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		ledger: ledger,
		reader: &reader{db: readDB},
	}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, beginErr := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if beginErr != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("repository: panic recovered inside transaction, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(ctx, &pgTx{
		tx:         tx,
		Repository: catalog.NewRepository(tx),
		ledger:     s.ledger,
	})
}

type pgTx struct {
	tx pgx.Tx
	*catalog.Repository
	ledger *inventory.Ledger
}

func (t *pgTx) Reserve(ctx context.Context, r inventory.Reservation) error {
	return t.ledger.Reserve(ctx, t.tx, r)
}

func (t *pgTx) Release(ctx context.Context, r inventory.Reservation) error {
	return t.ledger.Release(ctx, t.tx, r)
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`

	var addr, city, state, zip, country *string
	if o.Shipping != nil {
		addr = &o.Shipping.Address
		city = &o.Shipping.City
		state = nullable(o.Shipping.State)
		zip = nullable(o.Shipping.Zip)
		country = nullable(o.Shipping.Country)
	}

	_, err := t.tx.Exec(ctx, query,
		o.ID,
		o.OrderNumber,
		nullable(o.IdempotencyKey),
		o.CustomerEmail,
		o.CustomerName,
		nullable(o.CustomerPhone),
		string(o.Type),
		o.EventID,
		addr,
		city,
		state,
		zip,
		country,
		o.Subtotal,
		o.ShippingFee,
		o.Tax,
		o.Total,
		o.PaymentMethod,
		nullable(o.PaymentIntentID),
		string(o.Status),
		string(o.PaymentStatus),
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case constraintIdempotencyKey:
				return ErrIdempotencyKeyExists
			case constraintOrderNumber:
				return fmt.Errorf("%w: order number %s already taken, retry", domain.ErrConflict, o.OrderNumber)
			}
		}
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (id, order_id, product_id, variant_id, quantity, unit_price, total_price, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, o.ID, item.ProductID, item.VariantID, item.Quantity, item.UnitPrice, item.TotalPrice, item.CreatedAt,
		)
	}
	for _, ticket := range o.Tickets {
		batch.Queue(`
			INSERT INTO tickets (id, order_id, ticket_type_id, code, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ticket.ID, o.ID, ticket.TicketTypeID, ticket.Code, string(ticket.Status), ticket.CreatedAt, ticket.UpdatedAt,
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("repository: failed to insert items of order %s: %w", o.ID, err)
	}

	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	o, err := scanOrder(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("repository: failed to lock order %s: %w", id, err)
	}

	if err := t.loadChildren(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (t *pgTx) LockOpenOrdersByEvent(ctx context.Context, eventID uuid.UUID) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE event_id = $1 AND status IN ($2, $3)
		ORDER BY id
		FOR UPDATE
	`

	rows, err := t.tx.Query(ctx, query, eventID, string(StatusPending), string(StatusConfirmed))
	if err != nil {
		return nil, fmt.Errorf("repository: failed to lock orders of event %s: %w", eventID, err)
	}

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("repository: failed to scan order of event %s: %w", eventID, err)
		}
		orders = append(orders, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders of event %s: %w", eventID, err)
	}

	for i := range orders {
		if err := t.loadChildren(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}

	return orders, nil
}

func (t *pgTx) loadChildren(ctx context.Context, o *Order) error {
	itemRows, err := t.tx.Query(ctx, `
		SELECT id, order_id, product_id, variant_id, quantity, unit_price, total_price, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id`, o.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to query items of order %s: %w", o.ID, err)
	}
	o.Items, err = pgx.CollectRows(itemRows, func(row pgx.CollectableRow) (OrderItem, error) {
		var item OrderItem
		err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantID,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.CreatedAt)
		return item, err
	})
	if err != nil {
		return fmt.Errorf("repository: failed to scan items of order %s: %w", o.ID, err)
	}

	ticketRows, err := t.tx.Query(ctx, `
		SELECT id, order_id, ticket_type_id, code, status, created_at, updated_at
		FROM tickets
		WHERE order_id = $1
		ORDER BY created_at, id`, o.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to query tickets of order %s: %w", o.ID, err)
	}
	o.Tickets, err = pgx.CollectRows(ticketRows, func(row pgx.CollectableRow) (Ticket, error) {
		var ticket Ticket
		err := row.Scan(&ticket.ID, &ticket.OrderID, &ticket.TicketTypeID, &ticket.Code,
			&ticket.Status, &ticket.CreatedAt, &ticket.UpdatedAt)
		return ticket, err
	})
	if err != nil {
		return fmt.Errorf("repository: failed to scan tickets of order %s: %w", o.ID, err)
	}

	paymentRows, err := t.tx.Query(ctx, `
		SELECT id, order_id, amount, payment_method, transaction_id, status, created_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at, id`, o.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to query payments of order %s: %w", o.ID, err)
	}
	o.Payments, err = pgx.CollectRows(paymentRows, func(row pgx.CollectableRow) (Payment, error) {
		var p Payment
		err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.TransactionID, &p.Status, &p.CreatedAt)
		return p, err
	})
	if err != nil {
		return fmt.Errorf("repository: failed to scan payments of order %s: %w", o.ID, err)
	}

	return nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, id uuid.UUID, upd StatusUpdate) error {
	query := `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    payment_intent_id = COALESCE($3, payment_intent_id),
		    updated_at = $4
		WHERE id = $5
	`

	cmdTag, err := t.tx.Exec(ctx, query,
		string(upd.Status),
		string(upd.PaymentStatus),
		nullable(upd.PaymentIntentID),
		upd.At,
		id,
	)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Stringer("new_status", upd.Status).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}

	return nil
}

func (t *pgTx) SetTicketsStatus(ctx context.Context, orderID uuid.UUID, from, to TicketStatus, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE tickets
		SET status = $1, updated_at = $2
		WHERE order_id = $3 AND status = $4`,
		string(to), at, orderID, string(from),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update tickets of order %s: %w", orderID, err)
	}
	return nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p *Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, amount, payment_method, transaction_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.OrderID, p.Amount, p.Method, p.TransactionID, string(p.Status), p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == constraintOnePayment {
			return fmt.Errorf("%w: order %s already has a completed payment", domain.ErrConflict, p.OrderID)
		}
		return fmt.Errorf("repository: failed to insert payment for order %s: %w", p.OrderID, err)
	}
	return nil
}

func (t *pgTx) SetPaymentsStatus(ctx context.Context, orderID uuid.UUID, from, to PaymentStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE payments
		SET status = $1
		WHERE order_id = $2 AND status = $3`,
		string(to), orderID, string(from),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update payments of order %s: %w", orderID, err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var r orderRow
	err := row.Scan(
		&r.ID,
		&r.OrderNumber,
		&r.IdempotencyKey,
		&r.CustomerEmail,
		&r.CustomerName,
		&r.CustomerPhone,
		&r.OrderType,
		&r.EventID,
		&r.ShippingAddress,
		&r.ShippingCity,
		&r.ShippingState,
		&r.ShippingZip,
		&r.ShippingCountry,
		&r.Subtotal,
		&r.ShippingFee,
		&r.Tax,
		&r.Total,
		&r.PaymentMethod,
		&r.PaymentIntentID,
		&r.Status,
		&r.PaymentStatus,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r.toOrder(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
