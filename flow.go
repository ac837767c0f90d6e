package goidx

import (
	"context"
	"slices"

	"github.com/idxlabs/goidx/internal/remediators"
)

// FlowIdentifier names an interaction flow. Identifiers are matched through
// canonicalFlow, so common aliases resolve to the same specification.
type FlowIdentifier string

const (
	// FlowAuthenticate is the default sign-in flow.
	FlowAuthenticate FlowIdentifier = "authenticate"
	// FlowRegister drives self-service enrollment.
	FlowRegister FlowIdentifier = "register"
	// FlowRecoverPassword drives password recovery; its monitor refuses an
	// interaction code until a recover action or password reset happened.
	FlowRecoverPassword FlowIdentifier = "recoverPassword"
)

// Provider action names this library dispatches.
const (
	ActionCancel                                = "cancel"
	ActionCurrentAuthenticatorRecover           = "currentAuthenticator-recover"
	ActionCurrentAuthenticatorEnrollmentRecover = "currentAuthenticatorEnrollment-recover"
	ActionUnlockAccount                         = "unlock-account"
)

// FlowMonitor observes a transaction's progress and gates code exchange.
// Observations are persisted through TransactionMeta, so a monitor rebuilt
// on a resumed call sees everything earlier calls observed.
type FlowMonitor interface {
	ObserveRemediation(step string)
	ObserveAction(name string)

	// IsFinished reports whether an interaction code may be exchanged.
	IsFinished(ctx context.Context) (bool, error)
}

// FlowSpecification is the guardrail set for one flow: which remediation
// steps may be driven, which actions may be dispatched, and the monitor
// that decides when the flow is legitimately done.
type FlowSpecification struct {
	Flow FlowIdentifier

	// Remediators whitelists step names; empty means every known step.
	Remediators []string

	// Actions whitelists dispatchable action names.
	Actions []string

	// SSO starts the transaction with an existing-session hint.
	SSO bool

	// NewMonitor builds the flow's monitor over the transaction's meta.
	NewMonitor func(meta *TransactionMeta) FlowMonitor
}

// canonicalFlow resolves aliases. Unknown identifiers fall back to the
// authenticate flow.
func canonicalFlow(flow FlowIdentifier) FlowIdentifier {
	switch flow {
	case "signup", "enrollProfile", FlowRegister:
		return FlowRegister
	case "resetPassword", FlowRecoverPassword:
		return FlowRecoverPassword
	default:
		return FlowAuthenticate
	}
}

func specificationFor(flow FlowIdentifier) *FlowSpecification {
	switch canonicalFlow(flow) {
	case FlowRegister:
		return &FlowSpecification{
			Flow: FlowRegister,
			Remediators: []string{
				remediators.StepSelectEnrollProfile,
				remediators.StepEnrollProfile,
				remediators.StepSelectAuthenticatorEnroll,
				remediators.StepEnrollAuthenticator,
				remediators.StepSkip,
			},
			Actions:    []string{ActionCancel},
			NewMonitor: newFinishedMonitor,
		}
	case FlowRecoverPassword:
		return &FlowSpecification{
			Flow: FlowRecoverPassword,
			Remediators: []string{
				remediators.StepIdentify,
				remediators.StepSelectAuthenticatorAuthenticate,
				remediators.StepChallengeAuthenticator,
				remediators.StepResetAuthenticator,
			},
			Actions: []string{
				ActionCancel,
				ActionCurrentAuthenticatorRecover,
				ActionCurrentAuthenticatorEnrollmentRecover,
			},
			NewMonitor: newRecoverMonitor,
		}
	default:
		return &FlowSpecification{
			Flow:       FlowAuthenticate,
			SSO:        true,
			Actions:    []string{ActionCancel, ActionUnlockAccount},
			NewMonitor: newFinishedMonitor,
		}
	}
}

// finishedMonitor records observations and never blocks code exchange.
type finishedMonitor struct {
	meta *TransactionMeta
}

func newFinishedMonitor(meta *TransactionMeta) FlowMonitor {
	return &finishedMonitor{meta: meta}
}

func (m *finishedMonitor) ObserveRemediation(step string) {
	if !slices.Contains(m.meta.CompletedSteps, step) {
		m.meta.CompletedSteps = append(m.meta.CompletedSteps, step)
	}
}

func (m *finishedMonitor) ObserveAction(name string) {
	if !slices.Contains(m.meta.CompletedActions, name) {
		m.meta.CompletedActions = append(m.meta.CompletedActions, name)
	}
}

func (m *finishedMonitor) IsFinished(ctx context.Context) (bool, error) {
	return true, nil
}

// recoverMonitor fails closed: an interaction code is only honored after a
// recover action was dispatched or a reset-authenticator step completed.
// An authenticate flow that happens to yield a code cannot be laundered
// into a password recovery.
type recoverMonitor struct {
	finishedMonitor
}

func newRecoverMonitor(meta *TransactionMeta) FlowMonitor {
	return &recoverMonitor{finishedMonitor{meta: meta}}
}

func (m *recoverMonitor) IsFinished(ctx context.Context) (bool, error) {
	if slices.Contains(m.meta.CompletedActions, ActionCurrentAuthenticatorRecover) ||
		slices.Contains(m.meta.CompletedActions, ActionCurrentAuthenticatorEnrollmentRecover) {
		return true, nil
	}
	if slices.Contains(m.meta.CompletedSteps, remediators.StepResetAuthenticator) {
		return true, nil
	}
	return false, nil
}
