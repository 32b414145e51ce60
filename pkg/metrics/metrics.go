package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bus metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kros_bus_queue_depth",
			Help: "Number of envelopes currently on the bus queue",
		},
	)

	SubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kros_bus_subscribers_total",
			Help: "Number of registered subscribers",
		},
	)

	EnvelopesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kros_envelopes_published_total",
			Help: "Total number of envelopes published by event group",
		},
		[]string{"group"},
	)

	EnvelopesRepublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kros_envelopes_republished_total",
			Help: "Total number of envelope republishes",
		},
	)

	EnvelopesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kros_envelopes_processed_total",
			Help: "Total number of envelopes handled by subscriber",
		},
		[]string{"subscriber"},
	)

	EnvelopesCollected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kros_envelopes_collected_total",
			Help: "Total number of retired envelopes by reason (expired, acknowledged)",
		},
		[]string{"reason"},
	)

	DeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kros_delivery_failures_total",
			Help: "Envelopes retired before reaching the controller",
		},
	)

	Arbitrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kros_arbitrations_total",
			Help: "Total number of payloads forwarded to the controller by event",
		},
		[]string{"event"},
	)

	DoubleArbitrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kros_double_arbitrations_total",
			Help: "Arbitration attempts refused because the envelope was already arbitrated",
		},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kros_handler_duration_seconds",
			Help:    "Subscriber handler duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"subscriber"},
	)

	// Lifecycle metrics
	IllegalTransitions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kros_illegal_transitions_total",
			Help: "Total number of rejected lifecycle transitions",
		},
	)

	// Behaviour metrics
	ActiveBehaviour = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kros_behaviour_active",
			Help: "Whether the behaviour is the active one (1 = active, 0 = not)",
		},
		[]string{"behaviour"},
	)

	BehaviourTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kros_behaviour_transitions_total",
			Help: "Behaviour suppress/release/activate actions by behaviour",
		},
		[]string{"behaviour", "action"},
	)

	UnregisteredTriggers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kros_unregistered_triggers_total",
			Help: "Events reaching the arbitrator without a registered behaviour",
		},
	)

	// Controller metrics
	ControllerCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kros_controller_callbacks_total",
			Help: "Controller callbacks by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	// Publisher metrics
	QueuePublisherPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kros_queue_publisher_pending",
			Help: "Envelopes waiting in the queue publisher",
		},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(SubscribersTotal)
	prometheus.MustRegister(EnvelopesPublished)
	prometheus.MustRegister(EnvelopesRepublished)
	prometheus.MustRegister(EnvelopesProcessed)
	prometheus.MustRegister(EnvelopesCollected)
	prometheus.MustRegister(DeliveryFailures)
	prometheus.MustRegister(Arbitrations)
	prometheus.MustRegister(DoubleArbitrations)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(IllegalTransitions)
	prometheus.MustRegister(ActiveBehaviour)
	prometheus.MustRegister(BehaviourTransitions)
	prometheus.MustRegister(UnregisteredTriggers)
	prometheus.MustRegister(ControllerCallbacks)
	prometheus.MustRegister(QueuePublisherPending)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
