package order

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/artist-platform/internal/catalog"
	"github.com/vasiliy-maslov/artist-platform/internal/domain"
	"github.com/vasiliy-maslov/artist-platform/internal/inventory"
	"github.com/vasiliy-maslov/artist-platform/internal/metrics"
	"github.com/vasiliy-maslov/artist-platform/internal/notify"
)

// RefundOrder returns every unit the order consumed and marks it REFUNDED.
// Refunding a terminal order is a conflict and changes nothing.
func (s *service) RefundOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.reverseOrder(ctx, id, StatusRefunded)
}

func (s *service) reverseOrder(ctx context.Context, id uuid.UUID, to OrderStatus) (reversed *Order, err error) {
	operation := "refund_order"
	if to == StatusCancelled {
		operation = "cancel_order"
	}
	started := time.Now()
	defer func() { metrics.ObserveOperation(operation, started, err) }()

	var wasPaid bool
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(o, to); err != nil {
			return err
		}

		wasPaid = o.PaymentStatus == PaymentCompleted
		work := reversalWork(o, to, s.now().UTC())
		if err := work.Apply(ctx, tx); err != nil {
			return err
		}

		reversed = o
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", id).Stringer("target_status", to).Msg("service: failed to reverse order")
		return nil, fmt.Errorf("service: failed to %s order: %w", reverseVerb(to), err)
	}

	log.Info().
		Stringer("order_id", reversed.ID).
		Stringer("status", reversed.Status).
		Int("items", len(reversed.Items)).
		Int("tickets", len(reversed.Tickets)).
		Msg("service: order reversed, inventory released")

	s.notifyReversed(ctx, reversed, wasPaid || to == StatusRefunded)

	return reversed, nil
}

// CancelEvent cancels the event and, in the same transaction, every open
// order for it. Ticket releases are batched per ticket type.
func (s *service) CancelEvent(ctx context.Context, eventID uuid.UUID) (result *EventCancellation, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("cancel_event", started, err) }()

	var cancelled []Order
	var paid map[uuid.UUID]bool
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		event, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if event.Status == catalog.EventCancelled {
			return fmt.Errorf("%w: event %s is already cancelled", domain.ErrConflict, eventID)
		}

		orders, err := tx.LockOpenOrdersByEvent(ctx, eventID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		work := UnitOfWork{Mutations: []Mutation{
			func(ctx context.Context, tx Tx) error { return tx.SetEventStatus(ctx, eventID, catalog.EventCancelled) },
		}}

		result = &EventCancellation{EventID: eventID, CancelledOrders: []uuid.UUID{}}
		paid = make(map[uuid.UUID]bool, len(orders))
		for i := range orders {
			o := &orders[i]
			paid[o.ID] = o.PaymentStatus == PaymentCompleted
			result.ReleasedTickets += countValidTickets(o)
			work.Add(reversalWork(o, StatusCancelled, now))
			result.CancelledOrders = append(result.CancelledOrders, o.ID)
		}

		if err := work.Apply(ctx, tx); err != nil {
			return err
		}
		cancelled = orders
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Stringer("event_id", eventID).Msg("service: failed to cancel event")
		return nil, fmt.Errorf("service: failed to cancel event: %w", err)
	}

	log.Info().
		Stringer("event_id", eventID).
		Int("orders", len(result.CancelledOrders)).
		Int("tickets_released", result.ReleasedTickets).
		Msg("service: event cancelled")

	for i := range cancelled {
		s.notifyReversed(ctx, &cancelled[i], paid[cancelled[i].ID])
	}

	return result, nil
}

// reversalWork builds the compensating unit of work for o and applies the
// resulting state to o in memory. Only valid tickets are released.
func reversalWork(o *Order, to OrderStatus, now time.Time) UnitOfWork {
	ticketStatus := TicketCancelled
	if to == StatusRefunded {
		ticketStatus = TicketRefunded
	}
	paymentStatus := o.PaymentStatus
	if paymentStatus == PaymentCompleted {
		paymentStatus = PaymentRefunded
	}

	var work UnitOfWork
	for _, item := range o.Items {
		ref := inventory.ProductRef(item.ProductID)
		if item.VariantID.Valid {
			ref = inventory.VariantRef(item.VariantID.UUID)
		}
		work.Release = append(work.Release, inventory.Reservation{Ref: ref, Quantity: item.Quantity})
	}
	for _, t := range o.Tickets {
		if t.Status == TicketValid {
			work.Release = append(work.Release, inventory.Reservation{Ref: inventory.TicketTypeRef(t.TicketTypeID), Quantity: 1})
		}
	}

	orderID := o.ID
	wasPaid := o.PaymentStatus == PaymentCompleted
	work.Mutations = append(work.Mutations,
		func(ctx context.Context, tx Tx) error {
			return tx.UpdateOrder(ctx, orderID, StatusUpdate{Status: to, PaymentStatus: paymentStatus, At: now})
		},
		func(ctx context.Context, tx Tx) error {
			return tx.SetTicketsStatus(ctx, orderID, TicketValid, ticketStatus, now)
		},
	)
	if wasPaid {
		work.Mutations = append(work.Mutations, func(ctx context.Context, tx Tx) error {
			return tx.SetPaymentsStatus(ctx, orderID, PaymentCompleted, PaymentRefunded)
		})
	}

	o.Status = to
	o.PaymentStatus = paymentStatus
	o.UpdatedAt = now
	for i := range o.Tickets {
		if o.Tickets[i].Status == TicketValid {
			o.Tickets[i].Status = ticketStatus
			o.Tickets[i].UpdatedAt = now
		}
	}
	for i := range o.Payments {
		if o.Payments[i].Status == PaymentCompleted {
			o.Payments[i].Status = PaymentRefunded
		}
	}

	return work
}

func countValidTickets(o *Order) int {
	n := 0
	for _, t := range o.Tickets {
		if t.Status == TicketValid {
			n++
		}
	}
	return n
}

// notifyReversed sends the refund confirmation when money goes back to the
// customer, and always publishes the lifecycle event.
func (s *service) notifyReversed(ctx context.Context, o *Order, refunded bool) {
	now := s.now()

	if refunded {
		s.notify(ctx, notify.Message{
			Kind:         notify.KindRefundConfirmation,
			OrderID:      o.ID.String(),
			OrderNumber:  o.OrderNumber,
			Email:        o.CustomerEmail,
			CustomerName: o.CustomerName,
			Amount:       o.Total,
			OccurredAt:   now,
		})
	}

	eventType := notify.EventOrderCancelled
	if o.Status == StatusRefunded {
		eventType = notify.EventOrderRefunded
	}
	s.notify(ctx, orderEvent(o, eventType, now))
}

func reverseVerb(to OrderStatus) string {
	if to == StatusCancelled {
		return "cancel"
	}
	return "refund"
}
