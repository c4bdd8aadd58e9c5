package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const businessSubsystem = "subledger"

var MetricsWebhookEvents = &Metric{
	ID:          "webhookEvents",
	Name:        "webhook_events_total",
	Description: "Webhook deliveries, partitioned by event type and outcome.",
	Type:        KindCounterVec,
	Args:        []string{"type", "outcome"},
}

var MetricsGatewayRequests = &Metric{
	ID:          "gatewayRequests",
	Name:        "gateway_requests_total",
	Description: "Outbound payment gateway calls, partitioned by operation and outcome.",
	Type:        KindCounterVec,
	Args:        []string{"op", "outcome"},
}

var MetricsNotifications = &Metric{
	ID:          "notifications",
	Name:        "notifications_total",
	Description: "Post-commit notifications, partitioned by kind and outcome.",
	Type:        KindCounterVec,
	Args:        []string{"kind", "outcome"},
}

var (
	webhookEvents   = NewMetric(MetricsWebhookEvents, businessSubsystem).(*prometheus.CounterVec)
	gatewayRequests = NewMetric(MetricsGatewayRequests, businessSubsystem).(*prometheus.CounterVec)
	notifications   = NewMetric(MetricsNotifications, businessSubsystem).(*prometheus.CounterVec)
	businessProcess = NewMetric(MetricsBusinessProcess, businessSubsystem).(*prometheus.HistogramVec)
)

func init() {
	MetricsWebhookEvents.MetricCollector = webhookEvents
	MetricsGatewayRequests.MetricCollector = gatewayRequests
	MetricsNotifications.MetricCollector = notifications
	MetricsBusinessProcess.MetricCollector = businessProcess
	prometheus.MustRegister(webhookEvents, gatewayRequests, notifications, businessProcess)
}

func IncWebhookEvent(eventType, outcome string) {
	webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func IncGatewayRequest(op, outcome string) {
	gatewayRequests.WithLabelValues(op, outcome).Inc()
}

func IncNotification(kind, outcome string) {
	notifications.WithLabelValues(kind, outcome).Inc()
}

// ObserveBusinessProcess records the latency of one unit of work in milliseconds.
func ObserveBusinessProcess(typ, subtype string, start time.Time) {
	businessProcess.WithLabelValues(typ, subtype).Observe(MillisecondsSince(start))
}
