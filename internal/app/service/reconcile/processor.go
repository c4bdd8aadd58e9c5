// Package reconcile applies verified gateway events to the ledger.
//
// Deduplication is entirely store-backed: subscriptions are upserted by
// gateway subscription id with a state_as_of guard, payments are inserted by
// gateway invoice id with ON CONFLICT DO NOTHING. The processor keeps no
// in-memory record of what it has seen, so any number of instances can
// receive the same delivery.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/subledger/internal/app/service/ledger"
	"github.com/fatflowers/subledger/internal/app/service/notifier"
	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/internal/platform/gateway"
	"github.com/fatflowers/subledger/pkg/apperr"
	"github.com/fatflowers/subledger/pkg/logctx"
	"github.com/fatflowers/subledger/pkg/metrics"
	"github.com/fatflowers/subledger/pkg/types"
)

type Gateway interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
	GetSubscription(ctx context.Context, id string) (*gateway.SubscriptionSnapshot, error)
}

type Ledger interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx *ledger.Tx) error) error
}

type EventRecorder interface {
	Record(ctx context.Context, entry *models.WebhookEventLog)
}

// Result describes how an acknowledged delivery was resolved.
type Result struct {
	EventID   string
	EventType string
	Outcome   types.WebhookOutcome
	// Detail explains ignored and correlation outcomes.
	Detail string
}

// enqueueTimeout bounds one background push to the notification queue.
const enqueueTimeout = 5 * time.Second

type Processor struct {
	gw       Gateway
	ledger   Ledger
	recorder EventRecorder
	notify   notifier.Enqueuer
	log      *zap.SugaredLogger
	wg       sync.WaitGroup
}

func NewProcessor(gw Gateway, l Ledger, recorder EventRecorder, notify notifier.Enqueuer, log *zap.SugaredLogger) *Processor {
	if notify == nil {
		notify = notifier.Noop{}
	}
	return &Processor{gw: gw, ledger: l, recorder: recorder, notify: notify, log: log}
}

// Handle verifies and applies one webhook delivery.
//
// A returned error is either authenticity (reject, nothing was touched) or
// transient (the transaction rolled back, the gateway should retry).
// Correlation failures, malformed objects and unhandled event types are
// acknowledged with a nil error and reported through Result.Outcome.
func (p *Processor) Handle(ctx context.Context, payload []byte, header string) (Result, error) {
	start := time.Now()
	raw, err := p.gw.ConstructEvent(payload, header)
	if err != nil {
		metrics.IncWebhookEvent("unverified", "rejected")
		logctx.FromCtx(ctx, p.log).Warnw("webhook_stripe_rejected", "err", err)
		if !apperr.IsKind(err, apperr.KindAuthenticity) {
			err = apperr.Authenticity(err)
		}
		return Result{}, err
	}

	ev := ParseEvent(raw)
	log := logctx.FromCtx(ctx, p.log).With("event_id", ev.EventID(), "event_type", ev.EventType())
	ctx = logctx.WithLogger(ctx, log)
	log.Infow("webhook_stripe_received", "object_id", ev.ObjectID())

	res := Result{EventID: ev.EventID(), EventType: ev.EventType()}
	out, err := p.apply(ctx, ev)
	res.Outcome, res.Detail = out.outcome, out.detail

	var lastErr error
	switch {
	case err == nil:
		if m, ok := ev.(Malformed); ok {
			lastErr = m.Err
			log.Warnw("webhook_stripe_malformed", "err", m.Err)
		}
	case apperr.IsKind(err, apperr.KindCorrelation):
		res.Outcome, res.Detail = types.WebhookOutcomeCorrelation, err.Error()
		lastErr = err
		err = nil
		log.Warnw("webhook_stripe_correlation_failed", "err", lastErr)
	default:
		res.Outcome = types.WebhookOutcomeFailed
		lastErr = err
		if !apperr.IsKind(err, apperr.KindTransient) {
			err = apperr.Transient(err, "failed to apply event")
		}
		log.Errorw("webhook_stripe_failed", "err", lastErr)
	}

	p.record(ctx, ev, payload, res.Outcome, lastErr)
	if err == nil {
		p.enqueue(ctx, out.jobs)
		log.Infow("webhook_stripe_handled", "outcome", res.Outcome, "detail", res.Detail)
	}
	metrics.IncWebhookEvent(ev.EventType(), string(res.Outcome))
	metrics.ObserveBusinessProcess("webhook", ev.EventType(), start)
	return res, err
}

// Resync re-fetches one subscription from the gateway and applies it through
// the same transactional path as webhook events.
func (p *Processor) Resync(ctx context.Context, gatewaySubscriptionID string) (*models.Subscription, error) {
	snap, err := p.gw.GetSubscription(ctx, gatewaySubscriptionID)
	if err != nil {
		return nil, err
	}
	var (
		after *models.Subscription
		jobs  []notifier.Job
	)
	err = p.ledger.InTx(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		before, stored, err := p.applySnapshot(ctx, tx, snap, snapshotRefs{}, types.SubscriptionChangeReasonResync, "")
		if err != nil {
			return err
		}
		after = stored
		jobs = cancellationJobs(ctx, before, stored)
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.enqueue(ctx, jobs)
	return after, nil
}

type applied struct {
	outcome types.WebhookOutcome
	detail  string
	jobs    []notifier.Job
}

func handled(jobs ...notifier.Job) applied {
	return applied{outcome: types.WebhookOutcomeHandled, jobs: jobs}
}

func ignored(detail string) applied {
	return applied{outcome: types.WebhookOutcomeIgnored, detail: detail}
}

func (p *Processor) apply(ctx context.Context, ev Event) (applied, error) {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return p.applyCheckout(ctx, e)
	case InvoicePaid:
		return p.applyInvoice(ctx, e)
	case SubscriptionUpdated:
		return p.applyUpdated(ctx, e)
	case SubscriptionDeleted:
		return p.applyDeleted(ctx, e)
	case Malformed:
		return ignored("malformed event object"), nil
	case Unknown:
		return ignored("unhandled event type"), nil
	}
	return ignored("unhandled event type"), nil
}

func (p *Processor) applyCheckout(ctx context.Context, e CheckoutCompleted) (applied, error) {
	if e.Mode != string(stripe.CheckoutSessionModeSubscription) || e.SubscriptionID == "" {
		return ignored("checkout session is not a subscription"), nil
	}
	snap, err := p.fetch(ctx, e.SubscriptionID)
	if err != nil {
		return applied{}, err
	}
	refs := snapshotRefs{
		customerID: e.CustomerID,
		userHints:  []string{e.Metadata[gateway.MetadataUserID], e.ClientReferenceID},
	}
	var jobs []notifier.Job
	err = p.ledger.InTx(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		before, after, err := p.applySnapshot(ctx, tx, snap, refs, types.SubscriptionChangeReasonCheckout, e.ID)
		if err != nil {
			return err
		}
		jobs = cancellationJobs(ctx, before, after)
		return nil
	})
	if err != nil {
		return applied{}, err
	}
	return handled(jobs...), nil
}

func (p *Processor) applyInvoice(ctx context.Context, e InvoicePaid) (applied, error) {
	if e.SubscriptionID == "" {
		return ignored("invoice has no subscription"), nil
	}
	snap, err := p.fetch(ctx, e.SubscriptionID)
	if err != nil {
		return applied{}, err
	}
	refs := snapshotRefs{customerID: e.CustomerID}

	var jobs []notifier.Job
	err = p.ledger.InTx(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		before, sub, err := p.applySnapshot(ctx, tx, snap, refs, types.SubscriptionChangeReasonInvoicePaid, e.ID)
		if err != nil {
			return err
		}
		jobs = cancellationJobs(ctx, before, sub)

		payment := &models.Payment{
			SubscriptionID:         sub.ID,
			UserID:                 sub.UserID,
			GatewayInvoiceID:       e.InvoiceID,
			GatewayPaymentIntentID: lo.EmptyableToPtr(e.PaymentIntentID),
			Amount:                 models.AmountFromMinor(e.AmountPaid, e.Currency),
			Currency:               e.Currency,
			Status:                 types.PaymentStatusSucceeded,
			PaymentMethod:          e.PaymentMethod,
			PaidAt:                 e.PaidAt,
		}
		inserted, err := tx.InsertPayment(payment)
		if err != nil {
			return err
		}
		if !inserted {
			logctx.FromCtx(ctx, p.log).Infow("payment_already_recorded", "invoice_id", e.InvoiceID)
			return nil
		}
		jobs = append(jobs, notifier.Job{
			Kind:                  notifier.KindPaymentReceipt,
			UserID:                sub.UserID,
			GatewaySubscriptionID: sub.GatewaySubscriptionID,
			InvoiceID:             e.InvoiceID,
			Amount:                models.FormatAmount(payment.Amount, payment.Currency),
			Currency:              payment.Currency,
			TraceID:               logctx.TraceID(ctx),
		})
		return nil
	})
	if err != nil {
		return applied{}, err
	}
	return handled(jobs...), nil
}

// applyUpdated applies the gateway's current view of the subscription. The
// embedded object is only used when the gateway no longer returns it, since
// its created timestamp and a live fetch's timestamp come from different
// clocks and cannot be ordered against each other reliably.
func (p *Processor) applyUpdated(ctx context.Context, e SubscriptionUpdated) (applied, error) {
	snap, err := p.fetch(ctx, e.Subscription.ID)
	switch {
	case apperr.IsKind(err, apperr.KindCorrelation):
		logctx.FromCtx(ctx, p.log).Infow("subscription not returned by gateway, using event object", "gateway_subscription_id", e.Subscription.ID)
		snap = e.Subscription
	case err != nil:
		return applied{}, err
	}

	var jobs []notifier.Job
	err = p.ledger.InTx(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		before, after, err := p.applySnapshot(ctx, tx, snap, snapshotRefs{customerID: e.Subscription.CustomerID}, types.SubscriptionChangeReasonUpdated, e.ID)
		if err != nil {
			return err
		}
		jobs = cancellationJobs(ctx, before, after)
		return nil
	})
	if err != nil {
		return applied{}, err
	}
	return handled(jobs...), nil
}

func (p *Processor) applyDeleted(ctx context.Context, e SubscriptionDeleted) (applied, error) {
	snap := *e.Subscription
	snap.Status = types.SubscriptionStatusCanceled
	canceledAt := e.Created
	if snap.CanceledAt != nil {
		canceledAt = *snap.CanceledAt
	} else {
		snap.CanceledAt = &canceledAt
	}

	var jobs []notifier.Job
	err := p.ledger.InTx(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		before, err := tx.SubscriptionByGatewayID(snap.ID)
		if errors.Is(err, ledger.ErrNotFound) {
			// deletion seen before anything else: create the row already canceled
			_, after, err := p.applySnapshot(ctx, tx, &snap, snapshotRefs{}, types.SubscriptionChangeReasonDeleted, e.ID)
			if err != nil {
				return err
			}
			jobs = cancellationJobs(ctx, nil, after)
			return nil
		}
		if err != nil {
			return err
		}
		after, err := tx.MarkSubscriptionCanceled(snap.ID, canceledAt, snap.AsOf)
		if err != nil {
			return err
		}
		if before.Status == types.SubscriptionStatusCanceled {
			return nil
		}
		if err := tx.AppendSubscriptionLog(before, after, types.SubscriptionChangeReasonDeleted, e.ID, nil); err != nil {
			return err
		}
		jobs = cancellationJobs(ctx, before, after)
		return nil
	})
	if err != nil {
		return applied{}, err
	}
	return handled(jobs...), nil
}

// fetch re-reads the subscription from the gateway before any transaction is
// opened. A subscription the gateway does not know cannot be correlated.
func (p *Processor) fetch(ctx context.Context, id string) (*gateway.SubscriptionSnapshot, error) {
	snap, err := p.gw.GetSubscription(ctx, id)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return nil, apperr.Correlation("subscription %s not found at gateway", id)
	}
	return snap, err
}

func (p *Processor) record(ctx context.Context, ev Event, payload []byte, outcome types.WebhookOutcome, lastErr error) {
	if p.recorder == nil || ev.EventID() == "" {
		return
	}
	entry := &models.WebhookEventLog{
		ProviderID: types.PaymentProviderStripe,
		EventID:    ev.EventID(),
		EventType:  ev.EventType(),
		TraceID:    logctx.TraceID(ctx),
		ObjectID:   ev.ObjectID(),
		Data:       datatypes.JSON(payload),
		Outcome:    outcome,
	}
	if created := ev.CreatedAt(); !created.IsZero() {
		entry.EventTime = created
	}
	if lastErr != nil {
		entry.LastError = lo.ToPtr(lastErr.Error())
	}
	p.recorder.Record(ctx, entry)
}

// enqueue pushes jobs in the background so a slow queue never delays the
// acknowledgement. Wait drains pending pushes.
func (p *Processor) enqueue(ctx context.Context, jobs []notifier.Job) {
	if len(jobs) == 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(logctx.Detach(ctx), enqueueTimeout)
		defer cancel()
		if err := p.notify.Enqueue(ctx, jobs...); err != nil {
			logctx.FromCtx(ctx, p.log).Warnw("failed to enqueue notifications", "jobs", len(jobs), "err", err)
		}
	}()
}

// Wait blocks until pending notification pushes finish.
func (p *Processor) Wait() { p.wg.Wait() }

// cancellationJobs emits a notification when a row moves into canceled.
func cancellationJobs(ctx context.Context, before, after *models.Subscription) []notifier.Job {
	if after == nil || after.Status != types.SubscriptionStatusCanceled {
		return nil
	}
	if before != nil && before.Status == types.SubscriptionStatusCanceled {
		return nil
	}
	return []notifier.Job{{
		Kind:                  notifier.KindSubscriptionCanceled,
		UserID:                after.UserID,
		GatewaySubscriptionID: after.GatewaySubscriptionID,
		PeriodEnd:             after.CurrentPeriodEnd,
		TraceID:               logctx.TraceID(ctx),
	}}
}
