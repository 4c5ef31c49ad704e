package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Synthesis backend
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_synthesis_requests_total",
		Help: "Total number of synthesis calls by final outcome",
	}, []string{"status"})

	synthesisAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_synthesis_attempts_total",
		Help: "HTTP attempts made against the synthesis backend by status code class",
	}, []string{"code"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "narrator_synthesis_latency_seconds",
		Help:    "Time until the synthesis backend returned a response, retries included",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Cache
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_cache_lookups_total",
		Help: "Cache lookups by result (hit, miss, error)",
	}, []string{"result"})

	cacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_cache_writes_total",
		Help: "Cache writes by status",
	}, []string{"status"})

	// Playback queue
	queueItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_queue_items_total",
		Help: "Queue items finished by outcome (completed, skipped, stopped, error)",
	}, []string{"outcome"})

	playbackState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "narrator_playback_state",
		Help: "Global playback state (0=idle, 1=loading, 2=playing, 3=paused)",
	})

	// HTTP surface
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})

	audioBytesServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrator_audio_bytes_total",
		Help: "Total audio bytes returned by the speak endpoint",
	})

	// Circuit breaker
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "narrator_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_circuit_breaker_rejections_total",
		Help: "Calls rejected because the circuit was open",
	}, []string{"service"})
)

// SynthesisTimer measures one synthesis call
type SynthesisTimer struct {
	start time.Time
}

// StartSynthesis starts timing a synthesis call
func StartSynthesis() *SynthesisTimer {
	return &SynthesisTimer{start: time.Now()}
}

// Done records latency and the final status of the call
func (t *SynthesisTimer) Done(status string) {
	synthesisLatency.Observe(time.Since(t.start).Seconds())
	synthesisRequests.WithLabelValues(status).Inc()
}

// RecordSynthesisAttempt records one HTTP attempt. code is "2xx", "4xx", "5xx" or "network".
func RecordSynthesisAttempt(code string) {
	synthesisAttempts.WithLabelValues(code).Inc()
}

// RecordCacheLookup records a cache lookup result
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheWrite records a cache write
func RecordCacheWrite(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	cacheWrites.WithLabelValues(status).Inc()
}

// RecordQueueItem records a finished queue item
func RecordQueueItem(outcome string) {
	queueItems.WithLabelValues(outcome).Inc()
}

// SetPlaybackState updates the playback state gauge
func SetPlaybackState(state int) {
	playbackState.Set(float64(state))
}

// RecordHTTPRequest records an HTTP request outcome
func RecordHTTPRequest(route string, code int) {
	httpRequests.WithLabelValues(route, StatusClass(code)).Inc()
}

// RecordAudioBytes records audio bytes served
func RecordAudioBytes(n int) {
	audioBytesServed.Add(float64(n))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerRejections increments the open-circuit rejection counter
func IncrementCircuitBreakerRejections(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// StatusClass maps an HTTP status code to its class label ("2xx", "4xx", ...)
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	}
	return "other"
}
