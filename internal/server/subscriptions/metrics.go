package subscriptions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reqgraph_subscription_events_dropped_total",
		Help: "Element change events dropped because the queue was full",
	})

	notificationsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reqgraph_subscription_notifications_total",
		Help: "Subscription matches",
	})

	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reqgraph_webhook_deliveries_total",
		Help: "Webhook deliveries by outcome",
	}, []string{"outcome"})
)
