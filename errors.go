package goidx

import (
	"errors"
	"fmt"
)

var (
	// ErrClientNotReady is returned by Build when a required collaborator
	// is missing or the configuration fails validation.
	ErrClientNotReady = errors.New("client not ready")
	// ErrNoSavedTransaction is returned by Proceed when no transaction
	// meta exists to resume.
	ErrNoSavedTransaction = errors.New("no saved transaction to proceed")
	// ErrFlowPolicyViolation is returned when an interaction code appears
	// before the flow's monitor considers the flow finished.
	ErrFlowPolicyViolation = errors.New("flow policy violation")
	// ErrActionNotAllowed is returned when a requested action is not in the
	// flow's action whitelist.
	ErrActionNotAllowed = errors.New("action not allowed in this flow")
)

// FlowError tags a guardrail failure with the flow and the step or action
// it happened on.
type FlowError struct {
	Flow FlowIdentifier
	Step string
	Err  error
}

func (e *FlowError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("flow %q: %v", e.Flow, e.Err)
	}
	return fmt.Sprintf("flow %q step %q: %v", e.Flow, e.Step, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}
