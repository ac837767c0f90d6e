package goidx

import "github.com/idxlabs/goidx/token"

// Status is the outcome classification of one Run or Proceed call.
type Status int

const (
	// StatusPending means the flow needs more input; NextStep says what.
	StatusPending Status = iota
	// StatusSuccess means tokens were acquired and stored.
	StatusSuccess
	// StatusFailure means the call failed; Err carries the cause.
	StatusFailure
	// StatusTerminal means the provider ended the flow with no further
	// remediation and no interaction code.
	StatusTerminal
	// StatusCanceled means the provider reported the flow as canceled.
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusTerminal:
		return "TERMINAL"
	case StatusCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Feature is a capability advertised by the provider's current policy,
// detected from the remediation steps and actions a fresh response offers.
type Feature string

const (
	// FeatureRegistration means self-service enrollment is offered.
	FeatureRegistration Feature = "registration"
	// FeaturePasswordRecovery means a recover action is offered.
	FeaturePasswordRecovery Feature = "password-recovery"
	// FeatureSocialIDP means at least one external IdP redirect is offered.
	FeatureSocialIDP Feature = "social-idp"
)

// Transaction is the caller-facing result of one Run or Proceed call.
type Transaction struct {
	Status Status

	// NextStep is set while Status is StatusPending.
	NextStep *NextStep

	// Tokens is set when Status is StatusSuccess.
	Tokens *token.Bag

	// EnabledFeatures is populated on the first response of a flow, before
	// any values are submitted.
	EnabledFeatures []Feature

	// AvailableSteps lists the offered remediation steps this library
	// knows how to drive.
	AvailableSteps []string

	// Messages carries provider messages attached to the last response.
	Messages []Message

	// Meta is the saved transaction state while Status is StatusPending;
	// its State field is the resume token for the next call.
	Meta *TransactionMeta

	// Err is set when Status is StatusFailure.
	Err error

	// Response is the last parsed provider response, when one exists.
	Response *Response
}
