package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status_code"},
	)

	// Bot metrics
	inboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_inbound_messages_total",
			Help: "Total number of inbound chat messages",
		},
		[]string{"source"}, // webhook, nats, console
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of dispatched commands",
		},
		[]string{"command", "outcome"}, // ok, error
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_command_duration_seconds",
			Help:    "Command handling duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"command"},
	)

	gatewayMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_messages_total",
			Help: "Total number of outbound messages",
		},
		[]string{"provider", "status"}, // sent, unreachable, error
	)

	// Business metrics
	questionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "survey_questions_total",
			Help: "Total number of questions asked",
		},
	)

	answersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_answers_total",
			Help: "Total number of survey answers received",
		},
		[]string{"status"}, // recorded, discarded
	)

	registryEmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_emails_total",
			Help: "Total number of customer email registration attempts",
		},
		[]string{"result"}, // added, rejected
	)
)

// PrometheusMiddleware creates a middleware that records Prometheus metrics
func PrometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Skip metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		statusCode := strconv.Itoa(wrapped.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, statusCode).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, statusCode).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordInbound records an inbound chat message
func RecordInbound(source string) {
	inboundMessagesTotal.WithLabelValues(source).Inc()
}

// RecordCommand records a handled command
func RecordCommand(command string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	commandsTotal.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordGatewayMessage records an outbound message attempt
func RecordGatewayMessage(provider, status string) {
	gatewayMessagesTotal.WithLabelValues(provider, status).Inc()
}

// RecordQuestion records a newly asked question
func RecordQuestion() {
	questionsTotal.Inc()
}

// RecordAnswer records an answer that was stored or discarded
func RecordAnswer(recorded bool) {
	status := "discarded"
	if recorded {
		status = "recorded"
	}
	answersTotal.WithLabelValues(status).Inc()
}

// RecordRegistryEmail records a customer email registration attempt
func RecordRegistryEmail(added bool) {
	result := "rejected"
	if added {
		result = "added"
	}
	registryEmailsTotal.WithLabelValues(result).Inc()
}
