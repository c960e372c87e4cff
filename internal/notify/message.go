// Package notify delivers fulfillment notifications after an order operation
// has committed. Delivery is asynchronous and best effort: failures are
// logged and counted, never reported back to the caller.
package notify

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindOrderConfirmation  Kind = "order_confirmation"
	KindTicketConfirmation Kind = "ticket_confirmation"
	KindRefundConfirmation Kind = "refund_confirmation"
	// KindOrderEvent messages go to the event stream, not to customers.
	KindOrderEvent Kind = "order_event"
)

func (k Kind) String() string {
	return string(k)
}

func (k Kind) IsEmail() bool {
	return k != KindOrderEvent
}

// Order lifecycle event types published with KindOrderEvent.
const (
	EventOrderCreated   = "order.created"
	EventOrderConfirmed = "order.confirmed"
	EventOrderRefunded  = "order.refunded"
	EventOrderCancelled = "order.cancelled"
)

type EventDetails struct {
	Title string    `json:"title"`
	Venue string    `json:"venue"`
	Date  time.Time `json:"date"`
}

type Message struct {
	Kind         Kind            `json:"kind"`
	EventType    string          `json:"event_type,omitempty"`
	OrderID      string          `json:"order_id"`
	OrderNumber  string          `json:"order_number"`
	Email        string          `json:"email,omitempty"`
	CustomerName string          `json:"customer_name,omitempty"`
	Status       string          `json:"status,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	ItemCount    int             `json:"item_count,omitempty"`
	TicketCount  int             `json:"ticket_count,omitempty"`
	Event        *EventDetails   `json:"event,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}
