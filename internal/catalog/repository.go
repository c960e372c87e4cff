package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/artist-platform/internal/db"
	"github.com/vasiliy-maslov/artist-platform/internal/domain"
)

// Repository reads catalog rows through q, which is usually the transaction
// of the operation that needs them.
type Repository struct {
	q db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, name, price, stock, weight_grams, is_active, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	var p Product
	err := r.q.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Price,
		&p.Stock,
		&p.WeightGrams,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", id, err)
	}

	return &p, nil
}

func (r *Repository) GetVariant(ctx context.Context, id uuid.UUID) (*ProductVariant, error) {
	query := `
		SELECT id, product_id, name, sku, price, stock, is_active, created_at, updated_at
		FROM product_variants
		WHERE id = $1
	`

	var v ProductVariant
	err := r.q.QueryRow(ctx, query, id).Scan(
		&v.ID,
		&v.ProductID,
		&v.Name,
		&v.SKU,
		&v.Price,
		&v.Stock,
		&v.IsActive,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: product variant %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("repository: failed to select product variant %s: %w", id, err)
	}

	return &v, nil
}

func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	return r.selectEvent(ctx, id, "")
}

// LockEvent reads the event and holds its row lock until the transaction ends.
func (r *Repository) LockEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	return r.selectEvent(ctx, id, "FOR UPDATE")
}

// ShareLockEvent reads the event and blocks LockEvent callers until the
// transaction ends. Concurrent share lockers do not wait for each other.
func (r *Repository) ShareLockEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	return r.selectEvent(ctx, id, "FOR SHARE")
}

func (r *Repository) selectEvent(ctx context.Context, id uuid.UUID, lock string) (*Event, error) {
	query := `
		SELECT id, title, venue, date, status, created_at, updated_at
		FROM events
		WHERE id = $1
	` + lock

	var e Event
	err := r.q.QueryRow(ctx, query, id).Scan(
		&e.ID,
		&e.Title,
		&e.Venue,
		&e.Date,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: event %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("repository: failed to select event %s: %w", id, err)
	}

	return &e, nil
}

func (r *Repository) SetEventStatus(ctx context.Context, id uuid.UUID, status EventStatus) error {
	query := `
		UPDATE events
		SET status = $1, updated_at = $2
		WHERE id = $3
	`

	cmdTag, err := r.q.Exec(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repository: failed to update event status %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %s", domain.ErrNotFound, id)
	}

	return nil
}

func (r *Repository) GetTicketType(ctx context.Context, id uuid.UUID) (*TicketType, error) {
	query := `
		SELECT id, event_id, name, price, quantity, sold, max_per_order,
		       sales_start, sales_end, is_active, created_at, updated_at
		FROM ticket_types
		WHERE id = $1
	`

	var t TicketType
	err := r.q.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.EventID,
		&t.Name,
		&t.Price,
		&t.Quantity,
		&t.Sold,
		&t.MaxPerOrder,
		&t.SalesStart,
		&t.SalesEnd,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: ticket type %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("repository: failed to select ticket type %s: %w", id, err)
	}

	return &t, nil
}
