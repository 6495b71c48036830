// Package notify tells customers, the shop admin and connected browsers about
// order activity. Every channel is best-effort and reported, never returned
// as an error.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/events"
	"github.com/vasiliy-maslov/storefront/internal/mail"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/realtime"
)

const (
	ChannelCustomerEmail = "email_customer"
	ChannelAdminEmail    = "email_admin"
	ChannelBroadcast     = "realtime_broadcast"
	ChannelSession       = "realtime_session"
	ChannelKafka         = "kafka"
)

const (
	outcomeDelivered = "delivered"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

// Realtime is the part of the websocket hub the notifier uses.
type Realtime interface {
	Broadcast(event string, payload any) (int, error)
	SendTo(email, event string, payload any) (bool, error)
}

// Recorder counts channel outcomes.
type Recorder interface {
	NotificationOutcome(channel, outcome string)
}

type Option func(*Notifier)

func WithRecorder(r Recorder) Option {
	return func(n *Notifier) {
		n.recorder = r
	}
}

type Notifier struct {
	mailer     mail.Sender
	realtime   Realtime
	publisher  events.Publisher
	adminEmail string
	recorder   Recorder
}

var _ order.Notifier = (*Notifier)(nil)

func New(mailer mail.Sender, rt Realtime, publisher events.Publisher, adminEmail string, opts ...Option) *Notifier {
	if mailer == nil {
		mailer = mail.NopSender{}
	}
	if publisher == nil {
		publisher = events.DisabledPublisher{}
	}
	n := &Notifier{
		mailer:     mailer,
		realtime:   rt,
		publisher:  publisher,
		adminEmail: adminEmail,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// StatusPayload is the data of an orderUpdate event.
type StatusPayload struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// OrderPlaced emails the customer and the admin, then announces the order to
// connected sessions and to Kafka. Realtime delivery does not depend on the
// email outcome.
func (n *Notifier) OrderPlaced(ctx context.Context, o *order.Order) order.DispatchReport {
	var report order.DispatchReport

	n.sendConfirmation(ctx, &report, ChannelCustomerEmail, o, o.Email, subjectCustomer, false)
	if n.adminEmail == "" {
		n.skip(&report, ChannelAdminEmail)
	} else {
		n.sendConfirmation(ctx, &report, ChannelAdminEmail, o, n.adminEmail, subjectAdmin, true)
	}

	if n.realtime == nil {
		n.skip(&report, ChannelBroadcast)
		n.skip(&report, ChannelSession)
	} else {
		if reached, err := n.realtime.Broadcast(realtime.EventNewOrder, o); err != nil {
			n.fail(&report, ChannelBroadcast, err)
		} else if reached == 0 {
			n.skip(&report, ChannelBroadcast)
		} else {
			n.deliver(&report, ChannelBroadcast)
		}
		n.sendToSession(&report, o.Email, realtime.EventOrderSuccess, o)
	}

	n.publish(ctx, &report, events.TypeOrderPlaced, o, o)
	return report
}

// StatusChanged tells the session registered for the order email, if any,
// about the new status. No email is sent.
func (n *Notifier) StatusChanged(ctx context.Context, o *order.Order) order.DispatchReport {
	var report order.DispatchReport
	payload := StatusPayload{OrderID: o.ID.String(), Status: o.Status.String()}

	if n.realtime == nil {
		n.skip(&report, ChannelSession)
	} else {
		n.sendToSession(&report, o.Email, realtime.EventOrderUpdate, payload)
	}

	n.publish(ctx, &report, events.TypeOrderStatusUpdated, o, payload)
	return report
}

func (n *Notifier) sendConfirmation(ctx context.Context, report *order.DispatchReport, channel string, o *order.Order, to, subject string, forAdmin bool) {
	body, err := renderConfirmation(o, forAdmin)
	if err != nil {
		n.fail(report, channel, err)
		return
	}

	err = n.mailer.Send(ctx, mail.Message{To: to, Subject: subject, HTML: body})
	switch {
	case errors.Is(err, mail.ErrDisabled):
		n.skip(report, channel)
	case err != nil:
		log.Error().Err(err).Stringer("order_id", o.ID).Str("to", to).Msg("notify: failed to send order email")
		n.fail(report, channel, err)
	default:
		n.deliver(report, channel)
	}
}

func (n *Notifier) sendToSession(report *order.DispatchReport, email, event string, payload any) {
	found, err := n.realtime.SendTo(email, event, payload)
	switch {
	case err != nil:
		n.fail(report, ChannelSession, err)
	case !found:
		n.skip(report, ChannelSession)
	default:
		n.deliver(report, ChannelSession)
	}
}

func (n *Notifier) publish(ctx context.Context, report *order.DispatchReport, eventType string, o *order.Order, payload any) {
	orderID := o.ID.String()
	err := n.publisher.Publish(ctx, orderID, events.NewEvent(eventType, orderID, payload))
	switch {
	case errors.Is(err, events.ErrDisabled):
		n.skip(report, ChannelKafka)
	case err != nil:
		log.Error().Err(err).Stringer("order_id", o.ID).Str("event_type", eventType).Msg("notify: failed to publish order event")
		n.fail(report, ChannelKafka, err)
	default:
		n.deliver(report, ChannelKafka)
	}
}

func (n *Notifier) deliver(report *order.DispatchReport, channel string) {
	report.Deliver(channel)
	n.record(channel, outcomeDelivered)
}

func (n *Notifier) skip(report *order.DispatchReport, channel string) {
	report.Skip(channel)
	n.record(channel, outcomeSkipped)
}

func (n *Notifier) fail(report *order.DispatchReport, channel string, err error) {
	report.Fail(fmt.Errorf("%s: %w", channel, err))
	n.record(channel, outcomeFailed)
}

func (n *Notifier) record(channel, outcome string) {
	if n.recorder != nil {
		n.recorder.NotificationOutcome(channel, outcome)
	}
}
