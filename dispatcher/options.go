package dispatcher

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures an HTTPDispatcher.
type Option func(*HTTPDispatcher)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(d *HTTPDispatcher) { d.client = c }
}

// WithTimeout bounds each individual request attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(d *HTTPDispatcher) { d.timeout = timeout }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *HTTPDispatcher) { d.logger = logger }
}

// WithMaxTries sets how many times a transient failure is attempted in
// place before it is reported as retryable. One disables transport retries.
func WithMaxTries(n uint) Option {
	return func(d *HTTPDispatcher) { d.maxTries = n }
}

// WithRetryInterval sets the initial and maximum delay between transport
// retries.
func WithRetryInterval(initial, maxInterval time.Duration) Option {
	return func(d *HTTPDispatcher) {
		d.initialInterval = initial
		d.maxInterval = maxInterval
	}
}

// WithLimiter throttles sends per counterparty.
func WithLimiter(l *Limiter) Option {
	return func(d *HTTPDispatcher) { d.limiter = l }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(d *HTTPDispatcher) { d.header.Add(key, value) }
}
