package entity

// ReasonCode classifies the outcome of a transfer attempt.
type ReasonCode string

const (
	ReasonApproved          ReasonCode = "APPROVED"
	ReasonAuthorized        ReasonCode = "AUTHORIZED"
	ReasonInsufficientFunds ReasonCode = "INSUFFICIENT_FUNDS"
	ReasonProviderTimeout   ReasonCode = "PROVIDER_TIMEOUT"
	ReasonProviderError     ReasonCode = "PROVIDER_ERROR"
)

// TransferResult is the uniform reply of every transfer engine, internal
// or external. Business rejections come back as Success=false with a
// reason code; transient infrastructure failures are returned as errors
// by the engine instead.
type TransferResult struct {
	Success     bool
	ReasonCode  ReasonCode
	ReferenceID string
}
