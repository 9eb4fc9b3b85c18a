package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofilter_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autofilter_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Update intake
	updatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofilter_updates_total",
			Help: "Telegram updates received, by kind",
		},
		[]string{"kind"}, // message, edited_message, callback_query, duplicate, ignored
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofilter_commands_total",
			Help: "Bot commands handled",
		},
		[]string{"command"},
	)

	filterMatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "autofilter_filter_matches_total",
			Help: "Messages removed by the banned-word filter",
		},
	)

	filesSavedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofilter_files_saved_total",
			Help: "File metadata records saved",
		},
		[]string{"file_type"},
	)

	// Outbound Bot API
	telegramRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofilter_telegram_requests_total",
			Help: "Bot API calls by method and outcome",
		},
		[]string{"method", "outcome"}, // ok, api_error, transport_error
	)

	telegramRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autofilter_telegram_request_duration_seconds",
			Help:    "Bot API call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	// Dispatcher
	dispatcherQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autofilter_dispatcher_queue_depth",
			Help: "Tasks waiting for a dispatcher worker",
		},
	)

	dispatcherTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofilter_dispatcher_tasks_total",
			Help: "Dispatcher tasks by outcome",
		},
		[]string{"outcome"}, // ok, error, dropped
	)

	// Broadcasts
	broadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofilter_broadcasts_total",
			Help: "Broadcast runs by status",
		},
		[]string{"status"}, // started, finished, rejected
	)

	broadcastMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofilter_broadcast_messages_total",
			Help: "Broadcast deliveries by result",
		},
		[]string{"result"}, // success, fail
	)

	broadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autofilter_broadcast_duration_seconds",
			Help:    "Broadcast run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800},
		},
	)

	autoDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofilter_auto_deleted_total",
			Help: "Scheduled message deletions by outcome",
		},
		[]string{"outcome"},
	)

	// Event feed
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autofilter_websocket_connections",
			Help: "Number of active admin event feed connections",
		},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofilter_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"},
	)
)

// PrometheusMiddleware creates a Fiber middleware for Prometheus metrics
func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		method := c.Method()
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// IncrementUpdate counts an incoming update by kind
func IncrementUpdate(kind string) {
	updatesTotal.WithLabelValues(kind).Inc()
}

// IncrementCommand counts a handled bot command
func IncrementCommand(command string) {
	commandsTotal.WithLabelValues(command).Inc()
}

// IncrementFilterMatch counts a filtered message
func IncrementFilterMatch() {
	filterMatchesTotal.Inc()
}

// IncrementFileSaved counts a saved file record
func IncrementFileSaved(fileType string) {
	filesSavedTotal.WithLabelValues(fileType).Inc()
}

// ObserveTelegramRequest records one Bot API call
func ObserveTelegramRequest(method, outcome string, d time.Duration) {
	telegramRequestsTotal.WithLabelValues(method, outcome).Inc()
	telegramRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetDispatcherQueueDepth updates the dispatcher backlog gauge
func SetDispatcherQueueDepth(n int) {
	dispatcherQueueDepth.Set(float64(n))
}

// IncrementDispatcherTask counts a dispatcher task outcome
func IncrementDispatcherTask(outcome string) {
	dispatcherTasksTotal.WithLabelValues(outcome).Inc()
}

// IncrementBroadcast counts a broadcast lifecycle step
func IncrementBroadcast(status string) {
	broadcastsTotal.WithLabelValues(status).Inc()
}

// RecordBroadcast records the outcome of a finished broadcast
func RecordBroadcast(success, fail int, duration time.Duration) {
	broadcastMessagesTotal.WithLabelValues("success").Add(float64(success))
	broadcastMessagesTotal.WithLabelValues("fail").Add(float64(fail))
	broadcastDuration.Observe(duration.Seconds())
}

// IncrementAutoDelete counts a scheduled deletion outcome
func IncrementAutoDelete(outcome string) {
	autoDeletedTotal.WithLabelValues(outcome).Inc()
}

// UpdateWebSocketConnections updates WebSocket connections gauge
func UpdateWebSocketConnections(count int) {
	websocketConnections.Set(float64(count))
}

// IncrementError increments error counter
func IncrementError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
