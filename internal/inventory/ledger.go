// Package inventory owns the consumable counters of the catalog: product and
// variant stock, and ticket type sales. Every change goes through Reserve or
// Release inside the caller's transaction.
package inventory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/artist-platform/internal/catalog"
	"github.com/vasiliy-maslov/artist-platform/internal/db"
	"github.com/vasiliy-maslov/artist-platform/internal/domain"
	"github.com/vasiliy-maslov/artist-platform/internal/metrics"
)

type Kind string

const (
	KindProduct    Kind = "product"
	KindVariant    Kind = "variant"
	KindTicketType Kind = "ticket_type"
)

// Ref identifies one inventory counter.
type Ref struct {
	Kind Kind
	ID   uuid.UUID
}

func ProductRef(id uuid.UUID) Ref    { return Ref{Kind: KindProduct, ID: id} }
func VariantRef(id uuid.UUID) Ref    { return Ref{Kind: KindVariant, ID: id} }
func TicketTypeRef(id uuid.UUID) Ref { return Ref{Kind: KindTicketType, ID: id} }

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID.String()
}

type Reservation struct {
	Ref      Ref
	Quantity int
}

// Merge sums quantities per counter and sorts the result by kind and id, so
// that concurrent transactions touch rows in the same order.
func Merge(rs []Reservation) []Reservation {
	totals := make(map[Ref]int, len(rs))
	for _, r := range rs {
		totals[r.Ref] += r.Quantity
	}

	merged := make([]Reservation, 0, len(totals))
	for ref, qty := range totals {
		merged = append(merged, Reservation{Ref: ref, Quantity: qty})
	}
	slices.SortFunc(merged, func(a, b Reservation) int {
		if c := cmp.Compare(a.Ref.Kind, b.Ref.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.Ref.ID.String(), b.Ref.ID.String())
	})

	return merged
}

// CheckStock decides whether qty units can be taken from a stock counter.
func CheckStock(ref Ref, active bool, stock, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity for %s must be positive, got %d", domain.ErrValidation, ref, qty)
	}
	if !active {
		return fmt.Errorf("%w: %s is not active", domain.ErrInactiveOrClosed, ref)
	}
	if stock < qty {
		return fmt.Errorf("%w: %s has %d in stock, requested %d", domain.ErrInsufficientInventory, ref, stock, qty)
	}
	return nil
}

// CheckTicketType decides whether qty tickets of t can be sold at now.
func CheckTicketType(t *catalog.TicketType, qty int, now time.Time) error {
	ref := TicketTypeRef(t.ID)
	if qty <= 0 {
		return fmt.Errorf("%w: quantity for %s must be positive, got %d", domain.ErrValidation, ref, qty)
	}
	if !t.IsActive {
		return fmt.Errorf("%w: %s is not active", domain.ErrInactiveOrClosed, ref)
	}
	if !t.SalesOpen(now) {
		return fmt.Errorf("%w: sales for %s are closed", domain.ErrInactiveOrClosed, ref)
	}
	if qty > t.MaxPerOrder {
		return fmt.Errorf("%w: at most %d tickets of %s per order, requested %d", domain.ErrInsufficientInventory, t.MaxPerOrder, ref, qty)
	}
	if t.Remaining() < qty {
		return fmt.Errorf("%w: %s has %d tickets left, requested %d", domain.ErrInsufficientInventory, ref, t.Remaining(), qty)
	}
	return nil
}

// CheckRelease guards a release against returning more than was consumed.
// consumed is the ticket type's sold count; stock counters pass -1 to skip.
func CheckRelease(ref Ref, consumed, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: release quantity for %s must be positive, got %d", domain.ErrValidation, ref, qty)
	}
	if consumed >= 0 && consumed < qty {
		return fmt.Errorf("%w: cannot release %d units of %s, only %d sold", domain.ErrConflict, qty, ref, consumed)
	}
	return nil
}

// Ledger applies reservations with conditional updates, so the capacity check
// and the decrement are one statement and no lost update is possible.
type Ledger struct {
	now func() time.Time
}

func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

func (l *Ledger) Reserve(ctx context.Context, q db.Querier, r Reservation) (err error) {
	defer func() {
		metrics.ObserveInventory("reserve", string(r.Ref.Kind), r.Quantity, err)
	}()

	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity for %s must be positive, got %d", domain.ErrValidation, r.Ref, r.Quantity)
	}

	var query string
	args := []any{r.Ref.ID, r.Quantity}

	switch r.Ref.Kind {
	case KindProduct:
		query = `
			UPDATE products
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1 AND is_active AND stock >= $2
		`
	case KindVariant:
		query = `
			UPDATE product_variants
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1 AND is_active AND stock >= $2
		`
	case KindTicketType:
		query = `
			UPDATE ticket_types
			SET sold = sold + $2, updated_at = now()
			WHERE id = $1
			  AND is_active
			  AND sold + $2 <= quantity
			  AND $2 <= max_per_order
			  AND (sales_start IS NULL OR sales_start <= $3)
			  AND (sales_end IS NULL OR sales_end >= $3)
		`
		args = append(args, l.now())
	default:
		return fmt.Errorf("ledger: unknown inventory kind %q", r.Ref.Kind)
	}

	cmdTag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ledger: failed to reserve %s: %w", r.Ref, err)
	}
	if cmdTag.RowsAffected() == 1 {
		log.Debug().Stringer("resource", r.Ref).Int("quantity", r.Quantity).Msg("ledger: reserved")
		return nil
	}

	return l.diagnose(ctx, q, r)
}

// diagnose explains why a conditional reservation matched no row.
func (l *Ledger) diagnose(ctx context.Context, q db.Querier, r Reservation) error {
	repo := catalog.NewRepository(q)

	var err error
	switch r.Ref.Kind {
	case KindProduct:
		var p *catalog.Product
		if p, err = repo.GetProduct(ctx, r.Ref.ID); err == nil {
			err = CheckStock(r.Ref, p.IsActive, p.Stock, r.Quantity)
		}
	case KindVariant:
		var v *catalog.ProductVariant
		if v, err = repo.GetVariant(ctx, r.Ref.ID); err == nil {
			err = CheckStock(r.Ref, v.IsActive, v.Stock, r.Quantity)
		}
	case KindTicketType:
		var t *catalog.TicketType
		if t, err = repo.GetTicketType(ctx, r.Ref.ID); err == nil {
			err = CheckTicketType(t, r.Quantity, l.now())
		}
	}

	if err == nil {
		// The row changed between the update and the read.
		err = fmt.Errorf("%w: %s", domain.ErrInsufficientInventory, r.Ref)
	}

	log.Info().Err(err).Stringer("resource", r.Ref).Int("quantity", r.Quantity).Msg("ledger: reservation rejected")
	return err
}

// Release returns previously reserved units. It fails when the counter is
// missing or when more tickets would be released than were sold, and the
// caller must then abort its transaction.
func (l *Ledger) Release(ctx context.Context, q db.Querier, r Reservation) (err error) {
	defer func() {
		metrics.ObserveInventory("release", string(r.Ref.Kind), r.Quantity, err)
	}()

	if err := CheckRelease(r.Ref, -1, r.Quantity); err != nil {
		return err
	}

	var query string
	switch r.Ref.Kind {
	case KindProduct:
		query = `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`
	case KindVariant:
		query = `UPDATE product_variants SET stock = stock + $2, updated_at = now() WHERE id = $1`
	case KindTicketType:
		query = `UPDATE ticket_types SET sold = sold - $2, updated_at = now() WHERE id = $1 AND sold >= $2`
	default:
		return fmt.Errorf("ledger: unknown inventory kind %q", r.Ref.Kind)
	}

	cmdTag, err := q.Exec(ctx, query, r.Ref.ID, r.Quantity)
	if err != nil {
		return fmt.Errorf("ledger: failed to release %s: %w", r.Ref, err)
	}
	if cmdTag.RowsAffected() == 1 {
		log.Debug().Stringer("resource", r.Ref).Int("quantity", r.Quantity).Msg("ledger: released")
		return nil
	}

	if r.Ref.Kind != KindTicketType {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, r.Ref)
	}

	var sold int
	err = q.QueryRow(ctx, `SELECT sold FROM ticket_types WHERE id = $1`, r.Ref.ID).Scan(&sold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, r.Ref)
		}
		return fmt.Errorf("ledger: failed to read sold count of %s: %w", r.Ref, err)
	}

	if err := CheckRelease(r.Ref, sold, r.Quantity); err != nil {
		return err
	}
	return fmt.Errorf("%w: release of %s did not apply", domain.ErrConflict, r.Ref)
}
