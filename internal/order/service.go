package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/artist-platform/internal/catalog"
	"github.com/vasiliy-maslov/artist-platform/internal/domain"
	"github.com/vasiliy-maslov/artist-platform/internal/inventory"
	"github.com/vasiliy-maslov/artist-platform/internal/metrics"
	"github.com/vasiliy-maslov/artist-platform/internal/notify"
	"github.com/vasiliy-maslov/artist-platform/internal/pricing"
)

const defaultPaymentMethod = "card"

var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
		StatusRefunded:  true,
	},
	StatusConfirmed: {
		StatusCancelled: true,
		StatusRefunded:  true,
	},
	StatusCancelled: {},
	StatusRefunded:  {},
}

var (
	ErrStatusAlreadySet        = fmt.Errorf("%w: status is already set to the desired value", domain.ErrConflict)
	ErrInvalidStatusTransition = fmt.Errorf("%w: invalid order status transition", domain.ErrConflict)
)

// Notifier receives fulfillment messages once an operation has committed.
// Implementations must not block and have no way to fail the operation.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message)
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*Order, error)
	GetCustomerOrders(ctx context.Context, email string) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status OrderStatus) (*Order, error)
	ProcessPayment(ctx context.Context, id uuid.UUID, transactionID string) (*Order, error)
	RefundOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	CancelEvent(ctx context.Context, eventID uuid.UUID) (*EventCancellation, error)
}

type service struct {
	store    Store
	pricer   *pricing.Calculator
	notifier Notifier
	codes    CodeGenerator
	validate *validator.Validate
	now      func() time.Time
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithCodeGenerator(codes CodeGenerator) Option {
	return func(s *service) { s.codes = codes }
}

func NewService(store Store, pricer *pricing.Calculator, notifier Notifier, opts ...Option) Service {
	s := &service{
		store:    store,
		pricer:   pricer,
		notifier: notifier,
		codes:    NewCodeGenerator(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateOrder(ctx context.Context, req CreateOrderRequest) (created *Order, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("create_order", started, err) }()

	if err := s.normalizeRequest(&req); err != nil {
		log.Warn().Err(err).Msg("service: rejected order request")
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			log.Info().Stringer("order_id", existing.ID).Msg("service: idempotent replay of order creation")
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("service: failed to look up idempotency key: %w", err)
		}
	}

	var event *catalog.Event
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		plan, err := s.planOrder(ctx, tx, req)
		if err != nil {
			return err
		}
		created, event = plan.order, plan.event
		return plan.work.Apply(ctx, tx)
	})
	if err != nil {
		if errors.Is(err, ErrIdempotencyKeyExists) {
			existing, getErr := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr == nil {
				return existing, nil
			}
			err = getErr
		}
		log.Warn().Err(err).Str("customer_email", req.CustomerEmail).Msg("service: failed to create order")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	metrics.OrderCreated(created.Type.String())
	log.Info().
		Stringer("order_id", created.ID).
		Str("order_number", created.OrderNumber).
		Stringer("order_type", created.Type).
		Str("total", created.Total.StringFixed(2)).
		Msg("service: order created")

	s.notifyCreated(ctx, created, event)

	return created, nil
}

// normalizeRequest validates the shape of req and fills in derived fields.
func (s *service) normalizeRequest(req *CreateOrderRequest) error {
	req.CustomerEmail = strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", domain.ErrValidation, formatValidationErrors(verrs))
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if len(req.Items) == 0 && len(req.Tickets) == 0 {
		return fmt.Errorf("%w: order must contain at least one item or ticket", domain.ErrValidation)
	}
	if len(req.Tickets) > 0 && !req.EventID.Valid {
		return fmt.Errorf("%w: event_id is required for ticket orders", domain.ErrValidation)
	}
	if len(req.Tickets) == 0 && req.EventID.Valid {
		return fmt.Errorf("%w: event_id given without tickets", domain.ErrValidation)
	}
	if len(req.Items) > 0 && req.Shipping == nil {
		return fmt.Errorf("%w: shipping_address is required for physical items", domain.ErrValidation)
	}

	derived := TypeProducts
	switch {
	case len(req.Items) > 0 && len(req.Tickets) > 0:
		derived = TypeMixed
	case len(req.Tickets) > 0:
		derived = TypeTickets
	}
	if req.Type != "" && req.Type != derived {
		return fmt.Errorf("%w: order_type %s does not match its contents (%s)", domain.ErrValidation, req.Type, derived)
	}
	req.Type = derived

	if req.PaymentMethod == "" {
		req.PaymentMethod = defaultPaymentMethod
	}

	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed on '%s'", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

type orderPlan struct {
	order *Order
	event *catalog.Event
	work  UnitOfWork
}

// planOrder loads and checks everything the request references, prices it,
// and returns the unit of work that creates the order.
func (s *service) planOrder(ctx context.Context, tx Tx, req CreateOrderRequest) (*orderPlan, error) {
	now := s.now().UTC()

	o := &Order{
		ID:             newID(),
		OrderNumber:    s.codes.OrderNumber(now),
		IdempotencyKey: req.IdempotencyKey,
		CustomerEmail:  req.CustomerEmail,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		Type:           req.Type,
		Shipping:       req.Shipping,
		PaymentMethod:  req.PaymentMethod,
		Status:         StatusPending,
		PaymentStatus:  PaymentPending,
		Items:          []OrderItem{},
		Tickets:        []Ticket{},
		Payments:       []Payment{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var goods, tickets []pricing.Line
	var reservations []inventory.Reservation

	for _, item := range req.Items {
		product, err := tx.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if !product.IsActive {
			return nil, fmt.Errorf("%w: product %s is not available", domain.ErrInactiveOrClosed, product.ID)
		}

		unitPrice := product.Price
		ref := inventory.ProductRef(product.ID)

		if item.VariantID.Valid {
			variant, err := tx.GetVariant(ctx, item.VariantID.UUID)
			if err != nil {
				return nil, err
			}
			if variant.ProductID != product.ID {
				return nil, fmt.Errorf("%w: variant %s of product %s", domain.ErrNotFound, variant.ID, product.ID)
			}
			if !variant.IsActive {
				return nil, fmt.Errorf("%w: variant %s is not available", domain.ErrInactiveOrClosed, variant.ID)
			}
			unitPrice = variant.UnitPrice(*product)
			ref = inventory.VariantRef(variant.ID)
		}

		goods = append(goods, pricing.Line{UnitPrice: unitPrice, Quantity: item.Quantity, WeightGrams: product.Weight()})
		reservations = append(reservations, inventory.Reservation{Ref: ref, Quantity: item.Quantity})
		o.Items = append(o.Items, OrderItem{
			ID:         newID(),
			OrderID:    o.ID,
			ProductID:  product.ID,
			VariantID:  item.VariantID,
			Quantity:   item.Quantity,
			UnitPrice:  unitPrice,
			TotalPrice: s.pricer.LineTotal(unitPrice, item.Quantity),
			CreatedAt:  now,
		})
	}

	var event *catalog.Event
	if len(req.Tickets) > 0 {
		var err error
		event, err = tx.ShareLockEvent(ctx, req.EventID.UUID)
		if err != nil {
			return nil, err
		}
		if event.Status != catalog.EventPublished {
			return nil, fmt.Errorf("%w: event %s is %s", domain.ErrInactiveOrClosed, event.ID, event.Status)
		}
		o.EventID = uuid.NullUUID{UUID: event.ID, Valid: true}

		for _, tr := range req.Tickets {
			ticketType, err := tx.GetTicketType(ctx, tr.TicketTypeID)
			if err != nil {
				return nil, err
			}
			if ticketType.EventID != event.ID {
				return nil, fmt.Errorf("%w: ticket type %s for event %s", domain.ErrNotFound, ticketType.ID, event.ID)
			}
			if err := inventory.CheckTicketType(ticketType, tr.Quantity, now); err != nil {
				return nil, err
			}

			tickets = append(tickets, pricing.Line{UnitPrice: ticketType.Price, Quantity: tr.Quantity})
			reservations = append(reservations, inventory.Reservation{Ref: inventory.TicketTypeRef(ticketType.ID), Quantity: tr.Quantity})
			for i := 0; i < tr.Quantity; i++ {
				o.Tickets = append(o.Tickets, Ticket{
					ID:           newID(),
					OrderID:      o.ID,
					TicketTypeID: ticketType.ID,
					Code:         s.codes.TicketCode(),
					Status:       TicketValid,
					CreatedAt:    now,
					UpdatedAt:    now,
				})
			}
		}
	}

	var dest *pricing.Destination
	if req.Shipping != nil {
		dest = &pricing.Destination{State: req.Shipping.State, Country: req.Shipping.Country}
	}
	quote := s.pricer.Quote(goods, tickets, dest)
	o.Subtotal = quote.Subtotal
	o.ShippingFee = quote.ShippingFee
	o.Tax = quote.Tax
	o.Total = quote.Total

	return &orderPlan{
		order: o,
		event: event,
		work: UnitOfWork{
			Reserve: reservations,
			Mutations: []Mutation{
				func(ctx context.Context, tx Tx) error { return tx.InsertOrder(ctx, o) },
			},
		},
	}, nil
}

func (s *service) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.store.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

func (s *service) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, fmt.Errorf("%w: order number is required", domain.ErrValidation)
	}

	o, err := s.store.GetOrderByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		log.Error().Err(err).Str("order_number", number).Msg("service: failed to fetch order by number")
		return nil, fmt.Errorf("service: failed to fetch order by number: %w", err)
	}
	return o, nil
}

func (s *service) GetCustomerOrders(ctx context.Context, email string) ([]Order, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: customer email is required", domain.ErrValidation)
	}

	orders, err := s.store.GetOrdersByEmail(ctx, email)
	if err != nil {
		log.Error().Err(err).Str("customer_email", email).Msg("service: failed to fetch customer orders")
		return nil, fmt.Errorf("service: failed to fetch customer orders: %w", err)
	}
	if orders == nil {
		orders = []Order{}
	}
	return orders, nil
}

// UpdateOrderStatus moves an order along the status machine. Cancelling and
// refunding are compensating transactions that also return inventory;
// confirmation only happens through ProcessPayment.
func (s *service) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status OrderStatus) (*Order, error) {
	switch status {
	case StatusCancelled:
		return s.reverseOrder(ctx, id, StatusCancelled)
	case StatusRefunded:
		return s.reverseOrder(ctx, id, StatusRefunded)
	case StatusConfirmed:
		return nil, fmt.Errorf("%w: orders are confirmed by processing a payment", domain.ErrValidation)
	case StatusPending:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, "any", status)
	default:
		return nil, fmt.Errorf("%w: unknown order status %q", domain.ErrValidation, status)
	}
}

// ProcessPayment records a completed payment and confirms the order. A second
// call for an already paid order returns the order unchanged.
func (s *service) ProcessPayment(ctx context.Context, id uuid.UUID, transactionID string) (paid *Order, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("process_payment", started, err) }()

	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, fmt.Errorf("%w: payment transaction id is required", domain.ErrValidation)
	}

	confirmed := false
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		paid = o

		if o.PaymentStatus == PaymentCompleted {
			return nil
		}
		if err := checkTransition(o, StatusConfirmed); err != nil {
			return err
		}

		now := s.now().UTC()
		payment := &Payment{
			ID:            newID(),
			OrderID:       o.ID,
			Amount:        o.Total,
			Method:        o.PaymentMethod,
			TransactionID: transactionID,
			Status:        PaymentCompleted,
			CreatedAt:     now,
		}

		work := UnitOfWork{Mutations: []Mutation{
			func(ctx context.Context, tx Tx) error { return tx.InsertPayment(ctx, payment) },
			func(ctx context.Context, tx Tx) error {
				return tx.UpdateOrder(ctx, o.ID, StatusUpdate{
					Status:          StatusConfirmed,
					PaymentStatus:   PaymentCompleted,
					PaymentIntentID: transactionID,
					At:              now,
				})
			},
		}}
		if err := work.Apply(ctx, tx); err != nil {
			return err
		}

		o.Status = StatusConfirmed
		o.PaymentStatus = PaymentCompleted
		o.PaymentIntentID = transactionID
		o.UpdatedAt = now
		o.Payments = append(o.Payments, *payment)
		confirmed = true
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", id).Msg("service: failed to process payment")
		return nil, fmt.Errorf("service: failed to process payment: %w", err)
	}

	if !confirmed {
		log.Info().Stringer("order_id", id).Msg("service: payment already completed, nothing to do")
		return paid, nil
	}

	log.Info().Stringer("order_id", id).Str("transaction_id", transactionID).Msg("service: payment completed, order confirmed")
	s.notify(ctx, orderEvent(paid, notify.EventOrderConfirmed, s.now()))

	return paid, nil
}

func checkTransition(o *Order, to OrderStatus) error {
	if o.Status == to {
		return fmt.Errorf("%w: order %s is %s", ErrStatusAlreadySet, o.ID, to)
	}
	if !allowedTransitions[o.Status][to] {
		return fmt.Errorf("%w: order %s %s -> %s", ErrInvalidStatusTransition, o.ID, o.Status, to)
	}
	return nil
}

func (s *service) notifyCreated(ctx context.Context, o *Order, event *catalog.Event) {
	now := s.now()

	if o.Type == TypeProducts || o.Type == TypeMixed {
		s.notify(ctx, notify.Message{
			Kind:         notify.KindOrderConfirmation,
			OrderID:      o.ID.String(),
			OrderNumber:  o.OrderNumber,
			Email:        o.CustomerEmail,
			CustomerName: o.CustomerName,
			Amount:       o.Total,
			ItemCount:    len(o.Items),
			OccurredAt:   now,
		})
	}

	if (o.Type == TypeTickets || o.Type == TypeMixed) && event != nil {
		s.notify(ctx, notify.Message{
			Kind:         notify.KindTicketConfirmation,
			OrderID:      o.ID.String(),
			OrderNumber:  o.OrderNumber,
			Email:        o.CustomerEmail,
			CustomerName: o.CustomerName,
			Amount:       o.Total,
			TicketCount:  len(o.Tickets),
			Event:        &notify.EventDetails{Title: event.Title, Venue: event.Venue, Date: event.Date},
			OccurredAt:   now,
		})
	}

	s.notify(ctx, orderEvent(o, notify.EventOrderCreated, now))
}

func (s *service) notify(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(context.WithoutCancel(ctx), msg)
}

func orderEvent(o *Order, eventType string, at time.Time) notify.Message {
	return notify.Message{
		Kind:        notify.KindOrderEvent,
		EventType:   eventType,
		OrderID:     o.ID.String(),
		OrderNumber: o.OrderNumber,
		Email:       o.CustomerEmail,
		Status:      o.Status.String(),
		Amount:      o.Total,
		ItemCount:   len(o.Items),
		TicketCount: len(o.Tickets),
		OccurredAt:  at,
	}
}
