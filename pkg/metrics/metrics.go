package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PairingStarts tracks pairing start requests by result
	PairingStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackrpc_pairing_starts_total",
			Help: "Total number of pairing start requests by result",
		},
		[]string{"result", "reason"},
	)

	// HostnameRotations tracks start requests that replaced a live binding
	HostnameRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slackrpc_hostname_rotations_total",
			Help: "Total number of pairing starts that replaced an existing hostname binding",
		},
	)

	// CallbacksReceived tracks OAuth callbacks received
	CallbacksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackrpc_callbacks_received_total",
			Help: "Total number of OAuth callbacks received by result",
		},
		[]string{"result", "reason"},
	)

	// Polls tracks client polls by status
	Polls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackrpc_polls_total",
			Help: "Total number of token polls by status (complete/waiting)",
		},
		[]string{"status"},
	)

	// StatusUpdates tracks authenticated status operations by outcome
	StatusUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackrpc_status_updates_total",
			Help: "Total number of status update operations by outcome",
		},
		[]string{"outcome"},
	)

	// TokenRefreshes tracks access token refresh operations
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackrpc_token_refreshes_total",
			Help: "Total number of access token refresh operations by result",
		},
		[]string{"result", "reason"},
	)

	// ReauthNotifications tracks re-authentication messages sent to users
	ReauthNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackrpc_reauth_notifications_total",
			Help: "Total number of re-authentication notifications by result",
		},
		[]string{"result"},
	)

	// HTTPRequestDuration tracks HTTP request duration by endpoint
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slackrpc_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by endpoint and status",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method", "status"},
	)

	// HTTPRequestsInFlight tracks current in-flight HTTP requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slackrpc_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// RateLimitHits tracks rate limit hits
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackrpc_rate_limit_hits_total",
			Help: "Total number of requests that hit rate limits by route",
		},
		[]string{"route"},
	)

	// ProviderRequests tracks requests to the Slack API
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackrpc_provider_requests_total",
			Help: "Total number of requests to Slack by operation and result",
		},
		[]string{"operation", "result"},
	)

	// ProviderDuration tracks Slack API request duration
	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slackrpc_provider_duration_seconds",
			Help:    "Duration of Slack API requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)
)

// RecordPairingStart records a pairing start
func RecordPairingStart(result, reason string) {
	PairingStarts.WithLabelValues(result, reason).Inc()
}

// RecordCallbackSuccess records a successful OAuth callback
func RecordCallbackSuccess() {
	CallbacksReceived.WithLabelValues("success", "").Inc()
}

// RecordCallbackFailure records a failed OAuth callback with reason
func RecordCallbackFailure(reason string) {
	CallbacksReceived.WithLabelValues("failure", reason).Inc()
}

// RecordPoll records a poll by its status
func RecordPoll(status string) {
	Polls.WithLabelValues(status).Inc()
}

// RecordTokenRefreshSuccess records a successful token refresh
func RecordTokenRefreshSuccess() {
	TokenRefreshes.WithLabelValues("success", "").Inc()
}

// RecordTokenRefreshFailure records a failed token refresh with reason
func RecordTokenRefreshFailure(reason string) {
	TokenRefreshes.WithLabelValues("failure", reason).Inc()
}

// RecordStatusUpdate records the outcome of a status operation
func RecordStatusUpdate(outcome string) {
	StatusUpdates.WithLabelValues(outcome).Inc()
}

// RecordReauthNotification records a re-authentication notification
func RecordReauthNotification(result string) {
	ReauthNotifications.WithLabelValues(result).Inc()
}

// RecordProviderRequest records a Slack API request
func RecordProviderRequest(operation, result string) {
	ProviderRequests.WithLabelValues(operation, result).Inc()
}
