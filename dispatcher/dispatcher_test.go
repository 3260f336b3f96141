package dispatcher_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/dispatcher"
	"github.com/eclipse-edc/Connector-sub001/dispatcher/mocks"
	"github.com/eclipse-edc/Connector-sub001/handler"
)

func TestOutcome_Err(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		outcome   dispatcher.Outcome
		sentinel  error
		permanent bool
	}{
		{"success", dispatcher.Succeeded(nil), nil, false},
		{"retryable", dispatcher.Retryable("busy"), connector.ErrDispatchRetryable, false},
		{"fatal", dispatcher.Fatal("rejected"), connector.ErrDispatchFatal, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.outcome.Err()
			if tt.sentinel == nil {
				assert.NoError(t, err)
				assert.True(t, tt.outcome.OK())
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.permanent, handler.IsPermanent(err))
			assert.Contains(t, err.Error(), tt.outcome.Reason)
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "success", dispatcher.Success.String())
	assert.Equal(t, "retryable", dispatcher.RetryableFailure.String())
	assert.Equal(t, "fatal", dispatcher.FatalFailure.String())
	assert.Equal(t, "kind(9)", dispatcher.Kind(9).String())
}

func TestRegistry_RoutesByProtocol(t *testing.T) {
	ctrl := gomock.NewController(t)

	dsp := mocks.NewMockDispatcher(ctrl)
	other := mocks.NewMockDispatcher(ctrl)

	msg := dispatcher.Message{Protocol: "dsp-http", Type: "ContractRequestMessage", ProcessID: "neg_1"}
	dsp.EXPECT().Send(gomock.Any(), msg).Return(dispatcher.Succeeded([]byte(`{"ok":true}`)))

	reg := dispatcher.NewRegistry()
	reg.Register("dsp-http", dsp)
	reg.Register("legacy", other)

	out := reg.Send(context.Background(), msg)
	assert.True(t, out.OK())
	assert.JSONEq(t, `{"ok":true}`, string(out.Reply))
	assert.Equal(t, []string{"dsp-http", "legacy"}, reg.Protocols())
}

func TestRegistry_UnknownProtocolIsFatal(t *testing.T) {
	reg := dispatcher.NewRegistry()

	out := reg.Send(context.Background(), dispatcher.Message{Protocol: "carrier-pigeon"})
	assert.Equal(t, dispatcher.FatalFailure, out.Kind)
	assert.Contains(t, out.Reason, "carrier-pigeon")
	assert.True(t, handler.IsPermanent(out.Err()))
}

func TestFunc(t *testing.T) {
	var got dispatcher.Message
	d := dispatcher.Func(func(_ context.Context, msg dispatcher.Message) dispatcher.Outcome {
		got = msg
		return dispatcher.Retryable("later")
	})

	out := d.Send(context.Background(), dispatcher.Message{Type: "X"})
	assert.Equal(t, "X", got.Type)
	assert.True(t, errors.Is(out.Err(), connector.ErrDispatchRetryable))
}
