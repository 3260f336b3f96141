// Package message defines the protocol messages the connector's consumer
// side exchanges with providers, and their JSON bodies.
package message

// Message types, carried in dispatcher.Message.Type.
const (
	TypeContractRequest               = "ContractRequestMessage"
	TypeContractAgreementVerification = "ContractAgreementVerificationMessage"
	TypeTransferRequest               = "TransferRequestMessage"
	TypeTransferCompletion            = "TransferCompletionMessage"
	TypeTransferTermination           = "TransferTerminationMessage"
)

// ContractRequest asks a provider to negotiate an offer.
type ContractRequest struct {
	ConsumerPID string `json:"consumerPid"`
	OfferID     string `json:"offerId"`
	AssetID     string `json:"assetId"`
	Purpose     string `json:"purpose,omitempty"`
}

// ContractAgreement is the provider's reply to a ContractRequest.
type ContractAgreement struct {
	ProviderPID string `json:"providerPid"`
	AgreementID string `json:"agreementId"`
}

// ContractAgreementVerification confirms a received agreement.
type ContractAgreementVerification struct {
	ConsumerPID string `json:"consumerPid"`
	ProviderPID string `json:"providerPid"`
	AgreementID string `json:"agreementId"`
}

// TransferRequest asks a provider to start a transfer under an agreement.
type TransferRequest struct {
	ConsumerPID string `json:"consumerPid"`
	AgreementID string `json:"agreementId"`
	Format      string `json:"format,omitempty"`
}

// TransferStart is the provider's reply to a TransferRequest.
type TransferStart struct {
	ProviderPID string `json:"providerPid"`
}

// TransferCompletion tells the provider the transfer finished.
type TransferCompletion struct {
	ConsumerPID string `json:"consumerPid"`
	ProviderPID string `json:"providerPid"`
}

// TransferTermination tells the provider the transfer is aborted.
type TransferTermination struct {
	ConsumerPID string `json:"consumerPid"`
	ProviderPID string `json:"providerPid"`
	Code        string `json:"code,omitempty"`
	Reason      string `json:"reason,omitempty"`
}
