package metrics

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute labels requests that hit no registered route, so arbitrary
// paths never become label values.
const unmatchedRoute = "unmatched"

type sizeWriter struct {
	gin.ResponseWriter
	bytes int
}

func (w *sizeWriter) Write(data []byte) (int, error) {
	n, err := w.ResponseWriter.Write(data)
	w.bytes += n
	return n, err
}

func (w *sizeWriter) WriteString(s string) (int, error) {
	n, err := w.ResponseWriter.WriteString(s)
	w.bytes += n
	return n, err
}

// PrometheusMiddleware records request count, latency and response size per
// route template. Requests to skipPaths, /metrics by default, are not counted.
func PrometheusMiddleware(skipPaths ...string) gin.HandlerFunc {
	if len(skipPaths) == 0 {
		skipPaths = []string{"/metrics"}
	}
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	m := Get()

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		start := time.Now()
		sw := &sizeWriter{ResponseWriter: c.Writer}
		c.Writer = sw
		c.Next()

		m.RecordHTTPRequest(routeLabel(c), c.Request.Method, c.Writer.Status(), time.Since(start), sw.bytes)
	}
}

// routeLabel is the matched template, e.g. /api/v1/sessions/:id.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

// PrometheusHandler serves the default registry.
func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Sampler refreshes gauges that are read rather than pushed, such as the
// goroutine count, on a fixed interval.
type Sampler struct {
	metrics  *Metrics
	interval time.Duration
	samples  []func(*Metrics)
	stop     chan struct{}
	once     sync.Once
}

// NewSampler samples goroutines plus any extra gauges every interval.
func NewSampler(interval time.Duration, extra ...func(*Metrics)) *Sampler {
	samples := append([]func(*Metrics){(*Metrics).UpdateGoroutines}, extra...)
	return &Sampler{
		metrics:  Get(),
		interval: interval,
		samples:  samples,
		stop:     make(chan struct{}),
	}
}

// Start takes one sample immediately and then one per interval until Stop.
func (s *Sampler) Start() {
	s.sample()
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sample()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop is safe to call more than once.
func (s *Sampler) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *Sampler) sample() {
	for _, fn := range s.samples {
		fn(s.metrics)
	}
}
