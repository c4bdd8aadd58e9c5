// Package notifier delivers best-effort customer emails after the ledger has
// committed. Jobs travel through a Redis list so a slow mail provider never
// sits on the webhook response path.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindPaymentReceipt       Kind = "payment_receipt"
	KindSubscriptionCanceled Kind = "subscription_canceled"
)

type Job struct {
	Kind                  Kind       `json:"kind"`
	UserID                int64      `json:"user_id"`
	GatewaySubscriptionID string     `json:"gateway_subscription_id"`
	InvoiceID             string     `json:"invoice_id,omitempty"`
	Amount                string     `json:"amount,omitempty"`
	Currency              string     `json:"currency,omitempty"`
	PeriodEnd             *time.Time `json:"period_end,omitempty"`
	TraceID               string     `json:"trace_id,omitempty"`
	EnqueuedAt            time.Time  `json:"enqueued_at"`
}

func (j Job) encode() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to encode job: %w", err)
	}
	return string(b), nil
}

func decodeJob(s string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(s), &j); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	if j.Kind == "" {
		return nil, fmt.Errorf("job without kind")
	}
	return &j, nil
}

// Enqueuer accepts jobs after commit.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobs ...Job) error
}

// Noop drops jobs; used when no queue is configured.
type Noop struct{}

func (Noop) Enqueue(context.Context, ...Job) error { return nil }
