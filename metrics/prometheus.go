package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider aggregates the Prometheus side of request accounting. It
// is optional; when the config carries no metrics_addr nothing is
// registered or served.
type Provider struct {
	reg *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	featuresTotal   *prometheus.CounterVec
	storeDuration   prometheus.Histogram
}

func InitProvider() *Provider {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := &Provider{reg: reg}

	p.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ows_requests_total",
			Help: "OWS requests by service, operation and HTTP status.",
		},
		[]string{"service", "operation", "status"},
	)

	p.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ows_request_duration_seconds",
			Help:    "OWS request duration by service and operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)

	p.featuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ows_features_returned_total",
			Help: "Features returned by feature type and output format.",
		},
		[]string{"type_name", "output_format"},
	)

	p.storeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ows_store_query_duration_seconds",
			Help:    "Backing store query duration.",
			Buckets: prometheus.DefBuckets,
		},
	)

	reg.MustRegister(p.requestsTotal, p.requestDuration, p.featuresTotal, p.storeDuration)
	return p
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed request from the collected
// info.
func (p *Provider) ObserveRequest(service string, status int, info *MetricsInfo) {
	if p == nil {
		return
	}
	op := "unknown"
	if info.WFS != nil && len(info.WFS.Operation) > 0 {
		op = info.WFS.Operation
	}
	p.requestsTotal.WithLabelValues(service, op, httpStatusClass(status)).Inc()
	p.requestDuration.WithLabelValues(service, op).Observe(info.ReqDuration.Seconds())

	if info.WFS != nil && info.WFS.NumFeatures > 0 {
		p.featuresTotal.WithLabelValues(info.WFS.TypeName, info.WFS.OutputFormat).Add(float64(info.WFS.NumFeatures))
	}
	if info.Store != nil && info.Store.Duration > 0 {
		p.storeDuration.Observe(info.Store.Duration.Seconds())
	}
}

func httpStatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

// Serve exposes /metrics on its own listener so operational traffic
// stays off the OWS port.
func (p *Provider) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
