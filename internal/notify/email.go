package notify

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"

	"github.com/domodwyer/mailyak/v3"
)

var emailTemplates = template.Must(template.New("emails").Parse(`
{{define "order_confirmation"}}<p>Hi {{.CustomerName}},</p>
<p>Thanks for your order <strong>{{.OrderNumber}}</strong>. We received {{.ItemCount}} item(s) and will let you know when they ship.</p>
<p>Total: ${{.Amount.StringFixed 2}}</p>{{end}}

{{define "ticket_confirmation"}}<p>Hi {{.CustomerName}},</p>
<p>Your {{.TicketCount}} ticket(s) for <strong>{{.Event.Title}}</strong> are confirmed.</p>
<p>{{.Event.Venue}}, {{.Event.Date.Format "Mon Jan 2 2006 15:04"}}</p>
<p>Order {{.OrderNumber}}, total ${{.Amount.StringFixed 2}}</p>{{end}}

{{define "refund_confirmation"}}<p>Hi {{.CustomerName}},</p>
<p>Your refund for order <strong>{{.OrderNumber}}</strong> has been processed.</p>
<p>Amount: ${{.Amount.StringFixed 2}}</p>{{end}}
`))

// SMTPSender e-mails customers through a plain SMTP relay.
type SMTPSender struct {
	addr     string
	auth     smtp.Auth
	from     string
	fromName string
}

// NewSMTPSender returns a sender for host:port. Authentication is skipped
// when user is empty.
func NewSMTPSender(host, port, user, password, from string) *SMTPSender {
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &SMTPSender{
		addr:     net.JoinHostPort(host, port),
		auth:     auth,
		from:     from,
		fromName: "Artist Platform",
	}
}

func (s *SMTPSender) Name() string {
	return "smtp"
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	mail, err := s.compose(msg)
	if err != nil {
		return err
	}
	if err := mail.Send(); err != nil {
		return fmt.Errorf("notify: failed to send %s to %s: %w", msg.Kind, msg.Email, err)
	}
	return nil
}

func (s *SMTPSender) compose(msg Message) (*mailyak.MailYak, error) {
	if msg.Email == "" {
		return nil, fmt.Errorf("notify: %s for order %s has no recipient", msg.Kind, msg.OrderID)
	}
	if msg.Kind == KindTicketConfirmation && msg.Event == nil {
		return nil, fmt.Errorf("notify: ticket confirmation for order %s has no event", msg.OrderID)
	}

	subject, err := subjectFor(msg)
	if err != nil {
		return nil, err
	}

	mail := mailyak.New(s.addr, s.auth)
	mail.To(msg.Email)
	mail.From(s.from)
	mail.FromName(s.fromName)
	mail.Subject(subject)
	if err := emailTemplates.ExecuteTemplate(mail.HTML(), msg.Kind.String(), msg); err != nil {
		return nil, fmt.Errorf("notify: failed to render %s: %w", msg.Kind, err)
	}
	return mail, nil
}

func subjectFor(msg Message) (string, error) {
	switch msg.Kind {
	case KindOrderConfirmation:
		return "Order Confirmation - " + msg.OrderNumber, nil
	case KindTicketConfirmation:
		return "Ticket Confirmation - " + msg.Event.Title, nil
	case KindRefundConfirmation:
		return "Refund Processed - " + msg.OrderNumber, nil
	default:
		return "", fmt.Errorf("notify: %s is not an e-mail", msg.Kind)
	}
}
