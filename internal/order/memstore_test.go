package order_test

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/artist-platform/internal/catalog"
	"github.com/vasiliy-maslov/artist-platform/internal/domain"
	"github.com/vasiliy-maslov/artist-platform/internal/inventory"
	"github.com/vasiliy-maslov/artist-platform/internal/order"
)

// memState is everything a transaction can touch.
type memState struct {
	products    map[uuid.UUID]catalog.Product
	variants    map[uuid.UUID]catalog.ProductVariant
	events      map[uuid.UUID]catalog.Event
	ticketTypes map[uuid.UUID]catalog.TicketType
	orders      map[uuid.UUID]order.Order
}

func (s *memState) clone() *memState {
	c := &memState{
		products:    make(map[uuid.UUID]catalog.Product, len(s.products)),
		variants:    make(map[uuid.UUID]catalog.ProductVariant, len(s.variants)),
		events:      make(map[uuid.UUID]catalog.Event, len(s.events)),
		ticketTypes: make(map[uuid.UUID]catalog.TicketType, len(s.ticketTypes)),
		orders:      make(map[uuid.UUID]order.Order, len(s.orders)),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.variants {
		c.variants[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.ticketTypes {
		c.ticketTypes[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	return c
}

func copyOrder(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)
	o.Tickets = slices.Clone(o.Tickets)
	o.Payments = slices.Clone(o.Payments)
	if o.Shipping != nil {
		shipping := *o.Shipping
		o.Shipping = &shipping
	}
	return o
}

// memStore is an order.Store whose transactions are serialised and
// applied atomically: fn works on a copy that replaces the state only on
// success.
type memStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time

	// beforeInsert, when set, runs inside InsertOrder and can fail it.
	beforeInsert func(o *order.Order) error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		state: &memState{
			products:    map[uuid.UUID]catalog.Product{},
			variants:    map[uuid.UUID]catalog.ProductVariant{},
			events:      map[uuid.UUID]catalog.Event{},
			ticketTypes: map[uuid.UUID]catalog.TicketType{},
			orders:      map[uuid.UUID]order.Order{},
		},
		now: now,
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &memTx{state: work, store: s}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *memStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	c := copyOrder(o)
	return &c, nil
}

func (s *memStore) GetOrderByNumber(ctx context.Context, number string) (*order.Order, error) {
	return s.find(func(o order.Order) bool { return o.OrderNumber == number })
}

func (s *memStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	return s.find(func(o order.Order) bool { return o.IdempotencyKey == key })
}

func (s *memStore) find(match func(o order.Order) bool) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.state.orders {
		if match(o) {
			c := copyOrder(o)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: order", domain.ErrNotFound)
}

func (s *memStore) GetOrdersByEmail(ctx context.Context, email string) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []order.Order
	for _, o := range s.state.orders {
		if o.CustomerEmail == email {
			out = append(out, copyOrder(o))
		}
	}
	slices.SortFunc(out, func(a, b order.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// seed helpers, used outside of transactions.

func (s *memStore) addProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
}

func (s *memStore) addVariant(v catalog.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.variants[v.ID] = v
}

func (s *memStore) addEvent(e catalog.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.events[e.ID] = e
}

func (s *memStore) addTicketType(t catalog.TicketType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ticketTypes[t.ID] = t
}

func (s *memStore) product(id uuid.UUID) catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.products[id]
}

func (s *memStore) variant(id uuid.UUID) catalog.ProductVariant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.variants[id]
}

func (s *memStore) event(id uuid.UUID) catalog.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.events[id]
}

func (s *memStore) ticketType(id uuid.UUID) catalog.TicketType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ticketTypes[id]
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

type memTx struct {
	state *memState
	store *memStore
}

func (t *memTx) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	p, ok := t.state.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	return &p, nil
}

func (t *memTx) GetVariant(ctx context.Context, id uuid.UUID) (*catalog.ProductVariant, error) {
	v, ok := t.state.variants[id]
	if !ok {
		return nil, fmt.Errorf("%w: product variant %s", domain.ErrNotFound, id)
	}
	return &v, nil
}

func (t *memTx) GetTicketType(ctx context.Context, id uuid.UUID) (*catalog.TicketType, error) {
	tt, ok := t.state.ticketTypes[id]
	if !ok {
		return nil, fmt.Errorf("%w: ticket type %s", domain.ErrNotFound, id)
	}
	return &tt, nil
}

func (t *memTx) GetEvent(ctx context.Context, id uuid.UUID) (*catalog.Event, error) {
	e, ok := t.state.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", domain.ErrNotFound, id)
	}
	return &e, nil
}

func (t *memTx) LockEvent(ctx context.Context, id uuid.UUID) (*catalog.Event, error) {
	return t.GetEvent(ctx, id)
}

func (t *memTx) ShareLockEvent(ctx context.Context, id uuid.UUID) (*catalog.Event, error) {
	return t.GetEvent(ctx, id)
}

func (t *memTx) SetEventStatus(ctx context.Context, id uuid.UUID, status catalog.EventStatus) error {
	e, ok := t.state.events[id]
	if !ok {
		return fmt.Errorf("%w: event %s", domain.ErrNotFound, id)
	}
	e.Status = status
	t.state.events[id] = e
	return nil
}

func (t *memTx) Reserve(ctx context.Context, r inventory.Reservation) error {
	switch r.Ref.Kind {
	case inventory.KindProduct:
		p, ok := t.state.products[r.Ref.ID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, r.Ref)
		}
		if err := inventory.CheckStock(r.Ref, p.IsActive, p.Stock, r.Quantity); err != nil {
			return err
		}
		p.Stock -= r.Quantity
		t.state.products[p.ID] = p
	case inventory.KindVariant:
		v, ok := t.state.variants[r.Ref.ID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, r.Ref)
		}
		if err := inventory.CheckStock(r.Ref, v.IsActive, v.Stock, r.Quantity); err != nil {
			return err
		}
		v.Stock -= r.Quantity
		t.state.variants[v.ID] = v
	case inventory.KindTicketType:
		tt, ok := t.state.ticketTypes[r.Ref.ID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, r.Ref)
		}
		if err := inventory.CheckTicketType(&tt, r.Quantity, t.store.now()); err != nil {
			return err
		}
		tt.Sold += r.Quantity
		t.state.ticketTypes[tt.ID] = tt
	}
	return nil
}

func (t *memTx) Release(ctx context.Context, r inventory.Reservation) error {
	switch r.Ref.Kind {
	case inventory.KindProduct:
		p, ok := t.state.products[r.Ref.ID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, r.Ref)
		}
		p.Stock += r.Quantity
		t.state.products[p.ID] = p
	case inventory.KindVariant:
		v, ok := t.state.variants[r.Ref.ID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, r.Ref)
		}
		v.Stock += r.Quantity
		t.state.variants[v.ID] = v
	case inventory.KindTicketType:
		tt, ok := t.state.ticketTypes[r.Ref.ID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, r.Ref)
		}
		if err := inventory.CheckRelease(r.Ref, tt.Sold, r.Quantity); err != nil {
			return err
		}
		tt.Sold -= r.Quantity
		t.state.ticketTypes[tt.ID] = tt
	}
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *order.Order) error {
	if t.store.beforeInsert != nil {
		if err := t.store.beforeInsert(o); err != nil {
			return err
		}
	}
	for _, existing := range t.state.orders {
		if existing.OrderNumber == o.OrderNumber {
			return fmt.Errorf("%w: order number %s already taken, retry", domain.ErrConflict, o.OrderNumber)
		}
		if o.IdempotencyKey != "" && existing.IdempotencyKey == o.IdempotencyKey {
			return order.ErrIdempotencyKeyExists
		}
	}
	t.state.orders[o.ID] = copyOrder(*o)
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	c := copyOrder(o)
	return &c, nil
}

func (t *memTx) LockOpenOrdersByEvent(ctx context.Context, eventID uuid.UUID) ([]order.Order, error) {
	var out []order.Order
	for _, o := range t.state.orders {
		if o.EventID.Valid && o.EventID.UUID == eventID && !o.Status.Terminal() {
			out = append(out, copyOrder(o))
		}
	}
	slices.SortFunc(out, func(a, b order.Order) int { return bytes.Compare(a.ID.Bytes(), b.ID.Bytes()) })
	return out, nil
}

func (t *memTx) UpdateOrder(ctx context.Context, id uuid.UUID, upd order.StatusUpdate) error {
	o, ok := t.state.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	o.Status = upd.Status
	o.PaymentStatus = upd.PaymentStatus
	if upd.PaymentIntentID != "" {
		o.PaymentIntentID = upd.PaymentIntentID
	}
	o.UpdatedAt = upd.At
	t.state.orders[id] = o
	return nil
}

func (t *memTx) SetTicketsStatus(ctx context.Context, orderID uuid.UUID, from, to order.TicketStatus, at time.Time) error {
	o := t.state.orders[orderID]
	for i := range o.Tickets {
		if o.Tickets[i].Status == from {
			o.Tickets[i].Status = to
			o.Tickets[i].UpdatedAt = at
		}
	}
	t.state.orders[orderID] = o
	return nil
}

func (t *memTx) InsertPayment(ctx context.Context, p *order.Payment) error {
	o, ok := t.state.orders[p.OrderID]
	if !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, p.OrderID)
	}
	for _, existing := range o.Payments {
		if existing.Status == order.PaymentCompleted {
			return fmt.Errorf("%w: order %s already has a completed payment", domain.ErrConflict, p.OrderID)
		}
	}
	o.Payments = append(o.Payments, *p)
	t.state.orders[o.ID] = o
	return nil
}

func (t *memTx) SetPaymentsStatus(ctx context.Context, orderID uuid.UUID, from, to order.PaymentStatus) error {
	o := t.state.orders[orderID]
	for i := range o.Payments {
		if o.Payments[i].Status == from {
			o.Payments[i].Status = to
		}
	}
	t.state.orders[orderID] = o
	return nil
}
