package types

type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
)

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
)

// WebhookOutcome is how a delivery was resolved.
type WebhookOutcome string

const (
	WebhookOutcomeReceived    WebhookOutcome = "received"
	WebhookOutcomeHandled     WebhookOutcome = "handled"
	WebhookOutcomeIgnored     WebhookOutcome = "ignored"
	WebhookOutcomeCorrelation WebhookOutcome = "correlation_failed"
	WebhookOutcomeFailed      WebhookOutcome = "failed"
)
