package message_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/dispatcher"
	"github.com/eclipse-edc/Connector-sub001/dispatcher/mocks"
	"github.com/eclipse-edc/Connector-sub001/handler"
	"github.com/eclipse-edc/Connector-sub001/message"
)

func TestSend_EncodesBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mocks.NewMockDispatcher(ctrl)

	d.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msg dispatcher.Message) dispatcher.Outcome {
		assert.Equal(t, message.TypeContractRequest, msg.Type)
		var body message.ContractRequest
		require.NoError(t, json.Unmarshal(msg.Payload, &body))
		assert.Equal(t, "offer-1", body.OfferID)
		return dispatcher.Succeeded(json.RawMessage(`{"providerPid":"p-1","agreementId":"agr-1"}`))
	})

	reply, err := message.Send(context.Background(), d,
		dispatcher.Message{Type: message.TypeContractRequest},
		message.ContractRequest{ConsumerPID: "neg_1", OfferID: "offer-1"},
	)
	require.NoError(t, err)

	agreement, err := message.DecodeReply[message.ContractAgreement](message.TypeContractRequest, reply)
	require.NoError(t, err)
	assert.Equal(t, "agr-1", agreement.AgreementID)
	assert.Equal(t, "p-1", agreement.ProviderPID)
}

func TestSend_MapsOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mocks.NewMockDispatcher(ctrl)

	d.EXPECT().Send(gomock.Any(), gomock.Any()).Return(dispatcher.Fatal("rejected"))
	_, err := message.Send(context.Background(), d, dispatcher.Message{}, struct{}{})
	assert.ErrorIs(t, err, connector.ErrDispatchFatal)
	assert.True(t, handler.IsPermanent(err))

	d.EXPECT().Send(gomock.Any(), gomock.Any()).Return(dispatcher.Retryable("busy"))
	_, err = message.Send(context.Background(), d, dispatcher.Message{}, struct{}{})
	assert.ErrorIs(t, err, connector.ErrDispatchRetryable)
	assert.False(t, handler.IsPermanent(err))
}

func TestDecodeReply_Invalid(t *testing.T) {
	_, err := message.DecodeReply[message.TransferStart](message.TypeTransferRequest, nil)
	assert.ErrorIs(t, err, message.ErrEmptyReply)
	assert.True(t, handler.IsPermanent(err))

	_, err = message.DecodeReply[message.TransferStart](message.TypeTransferRequest, json.RawMessage(`[1,2`))
	assert.Error(t, err)
	assert.True(t, handler.IsPermanent(err))
}
