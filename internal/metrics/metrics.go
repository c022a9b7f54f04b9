package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
// Every method is a no-op on a nil receiver.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	scanCycles          *prometheus.CounterVec
	scanFailures        prometheus.Counter
	scanCycleDuration   prometheus.Histogram
	devicesSeen         prometheus.Gauge
	newDeviceNotified   prometheus.Counter
	blockSessions       prometheus.Gauge
	arpPacketsSent      prometheus.Counter
	arpSendErrors       prometheus.Counter
}

// New creates a fresh Metrics registry with HTTP, scan and block metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by sentinel-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by sentinel-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	scanCycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "scan_cycles_total",
		Help:      "Reconciliation cycles that completed a scan, by discovery strategy",
	}, []string{"strategy"})

	scanFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "scan_failures_total",
		Help:      "Reconciliation cycles skipped because the scan failed",
	})

	scanCycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "scan_cycle_duration_seconds",
		Help:      "Duration of reconciliation cycles from scan to last side effect",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 30, 60},
	})

	devicesSeen := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "devices_seen",
		Help:      "Devices present in the most recent snapshot",
	})

	newDeviceNotified := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "new_device_notifications_total",
		Help:      "New device notifications emitted",
	})

	blockSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "block_sessions_active",
		Help:      "Block sessions currently injecting forged ARP replies",
	})

	arpPacketsSent := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "arp_packets_sent_total",
		Help:      "Forged ARP replies written to the interface",
	})

	arpSendErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "arp_packet_send_errors_total",
		Help:      "Forged ARP replies that failed to send",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		scanCycles,
		scanFailures,
		scanCycleDuration,
		devicesSeen,
		newDeviceNotified,
		blockSessions,
		arpPacketsSent,
		arpSendErrors,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		scanCycles:          scanCycles,
		scanFailures:        scanFailures,
		scanCycleDuration:   scanCycleDuration,
		devicesSeen:         devicesSeen,
		newDeviceNotified:   newDeviceNotified,
		blockSessions:       blockSessions,
		arpPacketsSent:      arpPacketsSent,
		arpSendErrors:       arpSendErrors,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveScanCycle records a completed cycle and the snapshot size.
func (m *Metrics) ObserveScanCycle(strategy string, devices int, duration time.Duration) {
	if m == nil {
		return
	}
	m.scanCycles.WithLabelValues(strategy).Inc()
	m.devicesSeen.Set(float64(devices))
	m.scanCycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncScanFailure() {
	if m == nil {
		return
	}
	m.scanFailures.Inc()
}

func (m *Metrics) IncNewDeviceNotification() {
	if m == nil {
		return
	}
	m.newDeviceNotified.Inc()
}

func (m *Metrics) SetBlockSessions(n int) {
	if m == nil {
		return
	}
	m.blockSessions.Set(float64(n))
}

// ObserveARPSend counts one forged reply attempt.
func (m *Metrics) ObserveARPSend(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.arpSendErrors.Inc()
		return
	}
	m.arpPacketsSent.Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
