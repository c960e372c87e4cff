package order

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/artist-platform/internal/catalog"
	"github.com/vasiliy-maslov/artist-platform/internal/inventory"
)

// ErrIdempotencyKeyExists is returned by InsertOrder when another order
// already carries the same idempotency key.
var ErrIdempotencyKeyExists = errors.New("idempotency key already used")

// Store is the persistence of orders. Reads run outside of a transaction;
// every write goes through WithinTx.
type Store interface {
	// WithinTx runs fn in one transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	GetOrdersByEmail(ctx context.Context, email string) ([]Order, error)
}

// StatusUpdate is the new state of an order. An empty PaymentIntentID keeps
// the stored one.
type StatusUpdate struct {
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentIntentID string
	At              time.Time
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error)
	GetVariant(ctx context.Context, id uuid.UUID) (*catalog.ProductVariant, error)
	GetTicketType(ctx context.Context, id uuid.UUID) (*catalog.TicketType, error)
	LockEvent(ctx context.Context, id uuid.UUID) (*catalog.Event, error)
	// ShareLockEvent keeps the event from being cancelled until the
	// transaction ends.
	ShareLockEvent(ctx context.Context, id uuid.UUID) (*catalog.Event, error)
	SetEventStatus(ctx context.Context, id uuid.UUID, status catalog.EventStatus) error

	Reserve(ctx context.Context, r inventory.Reservation) error
	Release(ctx context.Context, r inventory.Reservation) error

	InsertOrder(ctx context.Context, o *Order) error
	// LockOrder loads the order with its items and tickets and locks it until
	// the transaction ends.
	LockOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	// LockOpenOrdersByEvent does the same for every non-terminal order of an event.
	LockOpenOrdersByEvent(ctx context.Context, eventID uuid.UUID) ([]Order, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, upd StatusUpdate) error
	SetTicketsStatus(ctx context.Context, orderID uuid.UUID, from, to TicketStatus, at time.Time) error
	InsertPayment(ctx context.Context, p *Payment) error
	SetPaymentsStatus(ctx context.Context, orderID uuid.UUID, from, to PaymentStatus) error
}

type Mutation func(ctx context.Context, tx Tx) error

// UnitOfWork is a set of inventory changes and row mutations that must be
// committed together. Apply runs reservations first, then releases, then the
// mutations, and stops at the first error.
type UnitOfWork struct {
	Reserve   []inventory.Reservation
	Release   []inventory.Reservation
	Mutations []Mutation
}

func (w *UnitOfWork) Add(other UnitOfWork) {
	w.Reserve = append(w.Reserve, other.Reserve...)
	w.Release = append(w.Release, other.Release...)
	w.Mutations = append(w.Mutations, other.Mutations...)
}

func (w UnitOfWork) Apply(ctx context.Context, tx Tx) error {
	for _, r := range inventory.Merge(w.Reserve) {
		if err := tx.Reserve(ctx, r); err != nil {
			return err
		}
	}
	for _, r := range inventory.Merge(w.Release) {
		if err := tx.Release(ctx, r); err != nil {
			return err
		}
	}
	for _, m := range w.Mutations {
		if err := m(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}
