// VibePHP HTTP middleware: request ids, panic recovery, access logging,
// per-IP rate limiting and CORS.

package middleware

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Success   bool                   `json:"success"`
	Error     string                 `json:"error"`
	Code      string                 `json:"code"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, msg string, details map[string]interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     msg,
		Code:      code,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: GetRequestID(c),
	})
}

// RequestID middleware adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Header(RequestIDHeader, requestID)
		c.Set(requestIDKey, requestID)
		c.Next()
	}
}

// GetRequestID returns the id assigned by RequestID, or the inbound header.
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return c.GetHeader(RequestIDHeader)
}

// Recovery turns panics into a 500 and logs the stack.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error("panic recovered",
			zap.String("request_id", GetRequestID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered),
			zap.ByteString("stack", debug.Stack()))

		abortWithError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error", nil)
	})
}

// Logger writes one structured line per request. Paths in skip are not logged.
func Logger(log *zap.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if skipped[c.Request.URL.Path] {
			return
		}
		fields := []zap.Field{
			zap.String("request_id", GetRequestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny).String(); errs != "" {
			fields = append(fields, zap.String("errors", errs))
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages rate limiters for different IP addresses
type IPRateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	idle     time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter allows requestsPerMinute per client IP with the given burst.
// Limiters idle for an hour are evicted.
func NewIPRateLimiter(requestsPerMinute, burst int) *IPRateLimiter {
	irl := &IPRateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(requestsPerMinute) / 60,
		burst:    burst,
		idle:     time.Hour,
		stop:     make(chan struct{}),
	}
	go irl.cleanupRoutine(10 * time.Minute)
	return irl
}

// GetLimiter returns the rate limiter for a given IP
func (irl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	irl.mu.Lock()
	defer irl.mu.Unlock()

	cl, exists := irl.limiters[ip]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(irl.rate, irl.burst)}
		irl.limiters[ip] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

// Stop ends the eviction goroutine.
func (irl *IPRateLimiter) Stop() {
	irl.stopOnce.Do(func() { close(irl.stop) })
}

func (irl *IPRateLimiter) cleanupRoutine(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-irl.stop:
			return
		case <-ticker.C:
			irl.evict(time.Now().Add(-irl.idle))
		}
	}
}

func (irl *IPRateLimiter) evict(cutoff time.Time) {
	irl.mu.Lock()
	defer irl.mu.Unlock()
	for ip, cl := range irl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(irl.limiters, ip)
		}
	}
}

// RateLimit rejects requests over the client's budget with 429.
func RateLimit(irl *IPRateLimiter) gin.HandlerFunc {
	perMinute := strconv.Itoa(int(irl.rate*60+0.5)) + " requests per minute"
	return func(c *gin.Context) {
		if !irl.GetLimiter(c.ClientIP()).Allow() {
			c.Header("Retry-After", "60")
			abortWithError(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded",
				map[string]interface{}{"limit": perMinute})
			return
		}
		c.Next()
	}
}

// CORS allows the listed origins. An empty list allows any origin without
// credentials.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case origin == "":
		case len(allowed) == 0:
			c.Header("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
