package policymonitor_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/eclipse-edc/Connector-sub001/dispatcher"
	dispatchermocks "github.com/eclipse-edc/Connector-sub001/dispatcher/mocks"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/handler"
	"github.com/eclipse-edc/Connector-sub001/id"
	"github.com/eclipse-edc/Connector-sub001/message"
	"github.com/eclipse-edc/Connector-sub001/policy"
	policymocks "github.com/eclipse-edc/Connector-sub001/policy/mocks"
	"github.com/eclipse-edc/Connector-sub001/policymonitor"
	"github.com/eclipse-edc/Connector-sub001/store/memory"
	"github.com/eclipse-edc/Connector-sub001/transfer"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	reg        *handler.Registry
	store      *memory.Store
	dispatcher *dispatchermocks.MockDispatcher
	evaluator  *policymocks.MockEvaluator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		reg:        handler.NewRegistry(),
		store:      memory.New(),
		dispatcher: dispatchermocks.NewMockDispatcher(ctrl),
		evaluator:  policymocks.NewMockEvaluator(ctrl),
	}
	policymonitor.Register(f.reg, policymonitor.Deps{
		Transfers:  f.store,
		Dispatcher: f.dispatcher,
		Evaluator:  f.evaluator,
		Interval:   10 * time.Minute,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, f.reg.Validate())
	return f
}

// watch stores a transfer in state and returns a monitor for it.
func (f *fixture) watch(t *testing.T, state entity.State) *entity.Entity {
	t.Helper()
	tp, err := transfer.New(transfer.Payload{AgreementID: "agr-1"}, epoch)
	require.NoError(t, err)
	tp.State = state
	require.NoError(t, f.store.Create(context.Background(), tp))

	return f.monitorFor(t, tp.ID.String())
}

func (f *fixture) monitorFor(t *testing.T, transferID string) *entity.Entity {
	t.Helper()
	m, err := policymonitor.New(policymonitor.Payload{
		TransferID:          transferID,
		Policy:              policy.Policy{ID: "pol-1", Expression: "now() < expiresAt"},
		Context:             map[string]any{"expiresAt": 1e12},
		Protocol:            "dsp-http",
		CounterpartyAddress: "https://provider.example/dsp",
		ProviderPID:         "prov-1",
	}, epoch)
	require.NoError(t, err)
	return m
}

func (f *fixture) run(t *testing.T, e *entity.Entity) (handler.Result, error) {
	t.Helper()
	fn, ok := f.reg.Lookup(policymonitor.Type, e.State)
	require.True(t, ok)
	return fn(context.Background(), e)
}

func decode(t *testing.T, b []byte) policymonitor.Payload {
	t.Helper()
	var p policymonitor.Payload
	require.NoError(t, json.Unmarshal(b, &p))
	return p
}

func TestDescriptor(t *testing.T) {
	d := policymonitor.Descriptor()
	require.NoError(t, d.Validate())
	assert.Equal(t, policymonitor.Started, d.Initial())
	assert.True(t, d.CanTransition(policymonitor.Started, policymonitor.Started))
	assert.True(t, d.CanTransition(policymonitor.Started, policymonitor.Completed))
}

func TestStarted_AllowRechecksAfterInterval(t *testing.T) {
	f := newFixture(t)
	m := f.watch(t, transfer.Started)

	f.evaluator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p policy.Policy, vars map[string]any) (policy.Decision, error) {
			assert.Equal(t, "pol-1", p.ID)
			assert.Equal(t, 1e12, vars["expiresAt"])
			assert.Equal(t, "STARTED", vars["transfer"].(map[string]any)["state"])
			return policy.Allow, nil
		})

	res, err := f.run(t, m)
	require.NoError(t, err)
	assert.Equal(t, policymonitor.Started, res.Next)
	assert.Equal(t, 10*time.Minute, res.Delay)
	assert.Equal(t, 1, decode(t, res.Payload).Checks)
}

func TestStarted_DenyMovesToTerminating(t *testing.T) {
	f := newFixture(t)
	m := f.watch(t, transfer.Started)

	f.evaluator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).Return(policy.Deny, nil)

	res, err := f.run(t, m)
	require.NoError(t, err)
	assert.Equal(t, policymonitor.Terminating, res.Next)
	assert.Zero(t, res.Delay)
	assert.Contains(t, decode(t, res.Payload).Reason, "pol-1")
}

func TestStarted_TerminalTransferCompletesMonitor(t *testing.T) {
	for _, state := range []entity.State{transfer.Completed, transfer.Terminated, transfer.Failed} {
		t.Run(string(state), func(t *testing.T) {
			f := newFixture(t)
			m := f.watch(t, state)

			res, err := f.run(t, m)
			require.NoError(t, err)
			assert.Equal(t, policymonitor.Completed, res.Next)
		})
	}
}

func TestStarted_PermanentFailures(t *testing.T) {
	t.Run("unparseable transfer id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.run(t, f.monitorFor(t, "not-an-id"))
		assert.True(t, handler.IsPermanent(err))
	})

	t.Run("transfer not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.run(t, f.monitorFor(t, id.NewTransferID().String()))
		assert.True(t, handler.IsPermanent(err))
	})

	t.Run("evaluation error", func(t *testing.T) {
		f := newFixture(t)
		m := f.watch(t, transfer.Started)
		f.evaluator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).Return(policy.Deny, errors.New("boom"))
		_, err := f.run(t, m)
		assert.True(t, handler.IsPermanent(err))
	})
}

func TestTerminating_SendsTerminationForTransfer(t *testing.T) {
	f := newFixture(t)
	m := f.watch(t, transfer.Started)
	m.State = policymonitor.Terminating
	transferID := decode(t, m.Payload).TransferID

	f.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msg dispatcher.Message) dispatcher.Outcome {
		assert.Equal(t, message.TypeTransferTermination, msg.Type)
		assert.Equal(t, transferID, msg.ProcessID)
		var body message.TransferTermination
		require.NoError(t, json.Unmarshal(msg.Payload, &body))
		assert.Equal(t, "prov-1", body.ProviderPID)
		assert.Equal(t, "POLICY_VIOLATION", body.Code)
		return dispatcher.Succeeded(nil)
	})

	res, err := f.run(t, m)
	require.NoError(t, err)
	assert.Equal(t, policymonitor.Terminated, res.Next)
}

func TestTerminating_RetryableDispatch(t *testing.T) {
	f := newFixture(t)
	m := f.watch(t, transfer.Started)
	m.State = policymonitor.Terminating

	f.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(dispatcher.Retryable("timeout"))

	_, err := f.run(t, m)
	require.Error(t, err)
	assert.False(t, handler.IsPermanent(err))
}
