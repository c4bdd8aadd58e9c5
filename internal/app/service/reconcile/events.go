package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"

	"github.com/fatflowers/subledger/internal/platform/gateway"
)

const (
	eventCheckoutSessionCompleted = "checkout.session.completed"
	eventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	eventInvoicePaid              = "invoice.paid"
	eventSubscriptionCreated      = "customer.subscription.created"
	eventSubscriptionUpdated      = "customer.subscription.updated"
	eventSubscriptionDeleted      = "customer.subscription.deleted"
)

// Event is a verified gateway event mapped onto one of the variants below.
// The set is closed: code switching on it only has to handle these types.
type Event interface {
	EventID() string
	EventType() string
	// ObjectID is the id of the gateway object the event is about.
	ObjectID() string
	CreatedAt() time.Time
	sealed()
}

type envelope struct {
	ID      string
	Type    string
	Created time.Time
}

func (e envelope) EventID() string { return e.ID }
func (e envelope) EventType() string { return e.Type }

func (e envelope) CreatedAt() time.Time { return e.Created }
func (envelope) sealed() {}

type CheckoutCompleted struct {
	envelope
	SessionID         string
	CustomerID        string
	SubscriptionID    string
	ClientReferenceID string
	Mode              string
	Metadata          map[string]string
}

func (e CheckoutCompleted) ObjectID() string { return e.SessionID }

type InvoicePaid struct {
	envelope
	InvoiceID       string
	SubscriptionID  string
	CustomerID      string
	PaymentIntentID string
	// AmountPaid is in minor units.
	AmountPaid    int64
	Currency      string
	PaymentMethod string
	PaidAt        time.Time
}

func (e InvoicePaid) ObjectID() string { return e.InvoiceID }

// SubscriptionUpdated also covers subscription creation.
type SubscriptionUpdated struct {
	envelope
	Subscription *gateway.SubscriptionSnapshot
}

func (e SubscriptionUpdated) ObjectID() string { return e.Subscription.ID }

type SubscriptionDeleted struct {
	envelope
	Subscription *gateway.SubscriptionSnapshot
}

func (e SubscriptionDeleted) ObjectID() string { return e.Subscription.ID }

// Unknown is any event type the ledger does not act on.
type Unknown struct {
	envelope
}

func (Unknown) ObjectID() string { return "" }

// Malformed is a handled event type whose object could not be decoded.
type Malformed struct {
	envelope
	Err error
}

func (Malformed) ObjectID() string { return "" }

// ParseEvent classifies a verified event. It never fails: bodies that do not
// decode become Malformed.
func ParseEvent(ev stripe.Event) Event {
	env := envelope{ID: ev.ID, Type: string(ev.Type), Created: time.Unix(ev.Created, 0).UTC()}
	var raw json.RawMessage
	if ev.Data != nil {
		raw = ev.Data.Raw
	}

	switch env.Type {
	case eventCheckoutSessionCompleted:
		var s stripe.CheckoutSession
		if err := decode(raw, &s); err != nil {
			return Malformed{envelope: env, Err: err}
		}
		if s.ID == "" {
			return Malformed{envelope: env, Err: errors.New("checkout session without id")}
		}
		out := CheckoutCompleted{
			envelope:          env,
			SessionID:         s.ID,
			ClientReferenceID: s.ClientReferenceID,
			Mode:              string(s.Mode),
			Metadata:          s.Metadata,
		}
		if s.Customer != nil {
			out.CustomerID = s.Customer.ID
		}
		if s.Subscription != nil {
			out.SubscriptionID = s.Subscription.ID
		}
		return out

	case eventInvoicePaymentSucceeded, eventInvoicePaid:
		var in stripe.Invoice
		if err := decode(raw, &in); err != nil {
			return Malformed{envelope: env, Err: err}
		}
		if in.ID == "" {
			return Malformed{envelope: env, Err: errors.New("invoice without id")}
		}
		out := InvoicePaid{
			envelope:      env,
			InvoiceID:     in.ID,
			AmountPaid:    in.AmountPaid,
			Currency:      strings.ToLower(string(in.Currency)),
			PaymentMethod: invoicePaymentMethod(&in),
			PaidAt:        env.Created,
		}
		if in.Subscription != nil {
			out.SubscriptionID = in.Subscription.ID
		}
		if in.Customer != nil {
			out.CustomerID = in.Customer.ID
		}
		if in.PaymentIntent != nil {
			out.PaymentIntentID = in.PaymentIntent.ID
		}
		if in.StatusTransitions != nil && in.StatusTransitions.PaidAt > 0 {
			out.PaidAt = time.Unix(in.StatusTransitions.PaidAt, 0).UTC()
		}
		return out

	case eventSubscriptionCreated, eventSubscriptionUpdated, eventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := decode(raw, &sub); err != nil {
			return Malformed{envelope: env, Err: err}
		}
		if sub.ID == "" {
			return Malformed{envelope: env, Err: errors.New("subscription without id")}
		}
		// the embedded object is the state as of the event's creation
		snap := gateway.SnapshotFromSubscription(&sub, env.Created)
		if env.Type == eventSubscriptionDeleted {
			return SubscriptionDeleted{envelope: env, Subscription: snap}
		}
		return SubscriptionUpdated{envelope: env, Subscription: snap}
	}

	return Unknown{envelope: env}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("event without data object")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode event object: %w", err)
	}
	return nil
}

func invoicePaymentMethod(in *stripe.Invoice) string {
	if in.PaymentSettings != nil && len(in.PaymentSettings.PaymentMethodTypes) > 0 {
		return string(in.PaymentSettings.PaymentMethodTypes[0])
	}
	return string(in.CollectionMethod)
}
