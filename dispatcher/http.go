package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// HeaderMessageType carries Message.Type on every request.
const HeaderMessageType = "X-Connector-Message-Type"

// maxReplyBytes bounds how much of a response body is read.
const maxReplyBytes = 1 << 20

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("status %d", e.code)
	}
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// transientStatus reports whether a response status may succeed on retry.
func transientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// HTTPDispatcher POSTs messages as JSON to the counterparty address.
type HTTPDispatcher struct {
	client          *http.Client
	timeout         time.Duration
	logger          *slog.Logger
	maxTries        uint
	initialInterval time.Duration
	maxInterval     time.Duration
	limiter         *Limiter
	header          http.Header
}

// NewHTTPDispatcher creates an HTTP dispatcher.
func NewHTTPDispatcher(opts ...Option) *HTTPDispatcher {
	d := &HTTPDispatcher{
		client:          http.DefaultClient,
		logger:          slog.Default(),
		maxTries:        3,
		initialInterval: 200 * time.Millisecond,
		maxInterval:     5 * time.Second,
		header:          make(http.Header),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers msg. Transient failures are retried in place up to the
// configured number of tries.
func (d *HTTPDispatcher) Send(ctx context.Context, msg Message) Outcome {
	if msg.CounterpartyAddress == "" {
		return Fatal(fmt.Sprintf("%s: missing counterparty address", msg.Type))
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return Fatal(fmt.Sprintf("%s: encode: %v", msg.Type, err))
	}

	if d.limiter != nil {
		release, err := d.limiter.Acquire(ctx, msg.CounterpartyAddress)
		if err != nil {
			return Retryable(fmt.Sprintf("%s: %v", msg.Type, err))
		}
		defer release()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.initialInterval
	eb.MaxInterval = d.maxInterval

	reply, err := backoff.Retry(ctx, func() ([]byte, error) {
		return d.post(ctx, msg, body)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(d.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.Debug("dispatch attempt failed, retrying",
				slog.String("message_type", msg.Type),
				slog.String("process_id", msg.ProcessID),
				slog.String("counterparty", msg.CounterpartyAddress),
				slog.Duration("next", next),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err == nil {
		return Succeeded(reply)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Retryable(fmt.Sprintf("%s: %v", msg.Type, ctxErr))
	}

	var se *statusError
	if errors.As(err, &se) && !transientStatus(se.code) {
		return Fatal(fmt.Sprintf("%s: %v", msg.Type, se))
	}
	return Retryable(fmt.Sprintf("%s: %v", msg.Type, err))
}

func (d *HTTPDispatcher) post(ctx context.Context, msg Message, body []byte) ([]byte, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.CounterpartyAddress, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(&statusError{code: http.StatusBadRequest, body: err.Error()})
	}
	for k, vs := range d.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderMessageType, msg.Type)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		return data, nil
	case transientStatus(resp.StatusCode):
		return nil, &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(data))}
	default:
		return nil, backoff.Permanent(&statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(data))})
	}
}
