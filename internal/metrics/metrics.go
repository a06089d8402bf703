package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the metrics surface used by the gateway and order services.
type Recorder interface {
	GatewayCall(gateway, operation, outcome string, elapsed time.Duration)
	Verification(gateway, outcome string)
	OrderSubmission(result string)
}

type promRecorder struct {
	gatewayCalls    *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	verifications   *prometheus.CounterVec
	orderSubmission *prometheus.CounterVec
}

// New registers the shop collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) Recorder {
	r := &promRecorder{
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "calls_total",
			Help: "Outbound payment gateway calls by operation and outcome.",
		}, []string{"gateway", "operation", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "call_duration_seconds",
			Help:    "Latency of outbound payment gateway calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"gateway", "operation"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "payment", Name: "verifications_total",
			Help: "Payment verification attempts by outcome.",
		}, []string{"gateway", "outcome"}),
		orderSubmission: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "order", Name: "submissions_total",
			Help: "Cart submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(r.gatewayCalls, r.gatewayLatency, r.verifications, r.orderSubmission)
	return r
}

func (r *promRecorder) GatewayCall(gateway, operation, outcome string, elapsed time.Duration) {
	r.gatewayCalls.WithLabelValues(gateway, operation, outcome).Inc()
	r.gatewayLatency.WithLabelValues(gateway, operation).Observe(elapsed.Seconds())
}

func (r *promRecorder) Verification(gateway, outcome string) {
	r.verifications.WithLabelValues(gateway, outcome).Inc()
}

func (r *promRecorder) OrderSubmission(result string) {
	r.orderSubmission.WithLabelValues(result).Inc()
}

type nop struct{}

// Nop discards everything.
func Nop() Recorder { return nop{} }

func (nop) GatewayCall(string, string, string, time.Duration) {}
func (nop) Verification(string, string)                      {}
func (nop) OrderSubmission(string)                           {}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
