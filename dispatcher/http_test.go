package dispatcher_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-edc/Connector-sub001/dispatcher"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatcher(opts ...dispatcher.Option) *dispatcher.HTTPDispatcher {
	base := []dispatcher.Option{
		dispatcher.WithLogger(testLogger()),
		dispatcher.WithRetryInterval(time.Millisecond, 5*time.Millisecond),
		dispatcher.WithMaxTries(3),
	}
	return dispatcher.NewHTTPDispatcher(append(base, opts...)...)
}

// statusSequence replies with the given statuses in order, repeating the
// last one, and counts requests.
func statusSequence(t *testing.T, hits *atomic.Int32, statuses ...int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(hits.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.WriteHeader(statuses[n])
		if statuses[n] < 300 {
			_, _ = w.Write([]byte(`{"agreementId":"agr-1"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func message(addr string) dispatcher.Message {
	return dispatcher.Message{
		Protocol:            "dsp-http",
		CounterpartyAddress: addr,
		Type:                "ContractRequestMessage",
		ProcessID:           "neg_1",
		Payload:             json.RawMessage(`{"offer":"o-1"}`),
	}
}

func TestHTTPDispatcher_Success(t *testing.T) {
	var got dispatcher.Message
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"agreementId":"agr-1"}`))
	}))
	defer srv.Close()

	d := newDispatcher(dispatcher.WithHeader("Authorization", "Bearer token"))
	out := d.Send(context.Background(), message(srv.URL))

	require.True(t, out.OK(), out.Reason)
	assert.JSONEq(t, `{"agreementId":"agr-1"}`, string(out.Reply))
	assert.Equal(t, "neg_1", got.ProcessID)
	assert.JSONEq(t, `{"offer":"o-1"}`, string(got.Payload))
	assert.Equal(t, "ContractRequestMessage", header.Get(dispatcher.HeaderMessageType))
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "Bearer token", header.Get("Authorization"))
}

func TestHTTPDispatcher_EmptyReply(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	out := newDispatcher().Send(context.Background(), message(srv.URL))
	assert.True(t, out.OK())
	assert.Nil(t, out.Reply)
}

func TestHTTPDispatcher_TransientThenSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := statusSequence(t, &hits, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusOK)

	out := newDispatcher().Send(context.Background(), message(srv.URL))

	assert.True(t, out.OK(), out.Reason)
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPDispatcher_Classification(t *testing.T) {
	tests := []struct {
		status   int
		kind     dispatcher.Kind
		wantHits int32
	}{
		{http.StatusInternalServerError, dispatcher.RetryableFailure, 3},
		{http.StatusBadGateway, dispatcher.RetryableFailure, 3},
		{http.StatusRequestTimeout, dispatcher.RetryableFailure, 3},
		{http.StatusTooEarly, dispatcher.RetryableFailure, 3},
		{http.StatusTooManyRequests, dispatcher.RetryableFailure, 3},
		{http.StatusBadRequest, dispatcher.FatalFailure, 1},
		{http.StatusUnauthorized, dispatcher.FatalFailure, 1},
		{http.StatusNotFound, dispatcher.FatalFailure, 1},
		{http.StatusConflict, dispatcher.FatalFailure, 1},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var hits atomic.Int32
			srv := statusSequence(t, &hits, tt.status)

			out := newDispatcher().Send(context.Background(), message(srv.URL))

			assert.Equal(t, tt.kind, out.Kind, out.Reason)
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestHTTPDispatcher_NetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	out := newDispatcher().Send(context.Background(), message(addr))
	assert.Equal(t, dispatcher.RetryableFailure, out.Kind)
}

func TestHTTPDispatcher_CancelledContextIsRetryable(t *testing.T) {
	var hits atomic.Int32
	srv := statusSequence(t, &hits, http.StatusServiceUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newDispatcher().Send(ctx, message(srv.URL))
	assert.Equal(t, dispatcher.RetryableFailure, out.Kind)
	assert.Contains(t, out.Reason, "context canceled")
}

func TestHTTPDispatcher_PerAttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := newDispatcher(dispatcher.WithTimeout(20*time.Millisecond), dispatcher.WithMaxTries(1))
	out := d.Send(context.Background(), message(srv.URL))
	assert.Equal(t, dispatcher.RetryableFailure, out.Kind)
}

func TestHTTPDispatcher_MissingAddressIsFatal(t *testing.T) {
	out := newDispatcher().Send(context.Background(), message(""))
	assert.Equal(t, dispatcher.FatalFailure, out.Kind)
}

func TestHTTPDispatcher_MalformedAddressIsFatal(t *testing.T) {
	out := newDispatcher().Send(context.Background(), message("http://bad host"))
	assert.Equal(t, dispatcher.FatalFailure, out.Kind)
}

func TestHTTPDispatcher_LimiterWaitCancelled(t *testing.T) {
	var hits atomic.Int32
	srv := statusSequence(t, &hits, http.StatusOK)

	lim := dispatcher.NewLimiter(dispatcher.Limit{Rate: 0.001, Burst: 1})
	d := newDispatcher(dispatcher.WithLimiter(lim))

	require.True(t, d.Send(context.Background(), message(srv.URL)).OK())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := d.Send(ctx, message(srv.URL))

	assert.Equal(t, dispatcher.RetryableFailure, out.Kind)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 0, lim.InFlight(srv.URL))
}
