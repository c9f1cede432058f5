package metrics

import "github.com/prometheus/client_golang/prometheus"

// Fully qualified metric names referenced by dashboards and tests.
const (
	InboundMetric    = "serviya_conversation_inbound_total"
	LLMLatencyMetric = "serviya_llm_latency_seconds"
)

// BrokerMetrics exposes counters/histograms for the conversation broker.
type BrokerMetrics struct {
	inboundTotal        *prometheus.CounterVec
	outboundTotal       *prometheus.CounterVec
	pipelineTotal       *prometheus.CounterVec
	moderationTotal     *prometheus.CounterVec
	availabilityTotal   *prometheus.CounterVec
	availabilityReplies *prometheus.CounterVec
	gatherLatency       *prometheus.HistogramVec
	llmTotal            *prometheus.CounterVec
	llmLatency          *prometheus.HistogramVec
}

func NewBrokerMetrics(reg prometheus.Registerer) *BrokerMetrics {
	m := &BrokerMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serviya",
			Subsystem: "conversation",
			Name:      "inbound_total",
			Help:      "Total inbound messages by channel and flow state",
		}, []string{"channel", "state"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serviya",
			Subsystem: "conversation",
			Name:      "outbound_total",
			Help:      "Total outbound sends by status",
		}, []string{"status"}),
		pipelineTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serviya",
			Subsystem: "conversation",
			Name:      "search_pipeline_total",
			Help:      "Background search pipeline runs by outcome",
		}, []string{"outcome"}),
		moderationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serviya",
			Subsystem: "conversation",
			Name:      "moderation_total",
			Help:      "Moderation verdicts",
		}, []string{"verdict"}),
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serviya",
			Subsystem: "availability",
			Name:      "requests_total",
			Help:      "Availability scatter/gather requests by outcome",
		}, []string{"outcome"}),
		availabilityReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serviya",
			Subsystem: "availability",
			Name:      "responses_total",
			Help:      "Provider responses received over MQTT by status",
		}, []string{"status"}),
		gatherLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "serviya",
			Subsystem: "availability",
			Name:      "gather_seconds",
			Help:      "Wall time of the availability gather loop",
			Buckets:   []float64{1, 2, 5, 10, 15, 20, 30, 45, 60},
		}, []string{"outcome"}),
		llmTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serviya",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM completions by provider, operation and status",
		}, []string{"provider", "op", "status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "serviya",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "Latency of LLM completions",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10},
		}, []string{"provider", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.inboundTotal,
		m.outboundTotal,
		m.pipelineTotal,
		m.moderationTotal,
		m.availabilityTotal,
		m.availabilityReplies,
		m.gatherLatency,
		m.llmTotal,
		m.llmLatency,
	)
	return m
}

func (m *BrokerMetrics) ObserveInbound(channel, state string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(channel, state).Inc()
}

func (m *BrokerMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *BrokerMetrics) ObservePipeline(outcome string) {
	if m == nil {
		return
	}
	m.pipelineTotal.WithLabelValues(outcome).Inc()
}

func (m *BrokerMetrics) ObserveModeration(verdict string) {
	if m == nil {
		return
	}
	m.moderationTotal.WithLabelValues(verdict).Inc()
}

func (m *BrokerMetrics) ObserveAvailabilityRequest(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.availabilityTotal.WithLabelValues(outcome).Inc()
	m.gatherLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *BrokerMetrics) ObserveAvailabilityResponse(status string) {
	if m == nil {
		return
	}
	m.availabilityReplies.WithLabelValues(status).Inc()
}

func (m *BrokerMetrics) ObserveLLMCall(provider, op, status string, seconds float64) {
	if m == nil {
		return
	}
	m.llmTotal.WithLabelValues(provider, op, status).Inc()
	m.llmLatency.WithLabelValues(provider, status).Observe(seconds)
}
