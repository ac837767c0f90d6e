// Package remediators implements one handler per named remediation step kind.
// Handlers are dispatched through an explicit name-keyed table rather than a
// class hierarchy: each variant is independently constructible and testable.
package remediators

import "github.com/idxlabs/goidx/internal/idx"

// Step names known to the engine.
const (
	StepIdentify                        = "identify"
	StepSelectAuthenticatorAuthenticate = "select-authenticator-authenticate"
	StepSelectAuthenticatorEnroll       = "select-authenticator-enroll"
	StepChallengeAuthenticator          = "challenge-authenticator"
	StepEnrollAuthenticator             = "enroll-authenticator"
	StepEnrollProfile                   = "enroll-profile"
	StepSelectEnrollProfile             = "select-enroll-profile"
	StepResetAuthenticator              = "reset-authenticator"
	StepRedirectIDP                     = "redirect-idp"
	StepSkip                            = "skip"
)

// AuthenticatorPassword is the authenticator type whose verification rule
// requires a password value instead of a one-time code.
const AuthenticatorPassword = "password"

// Remediator converts between a server remediation step and the flat value
// bag the caller supplies.
type Remediator interface {
	// Name is the step name this handler was built for.
	Name() string

	// CanRemediate reports whether the supplied values satisfy this step.
	// Pure; must not mutate values.
	CanRemediate(values map[string]string) bool

	// MapCredentials translates the value bag into the payload the provider
	// expects for this step. Only called when CanRemediate holds.
	MapCredentials(values map[string]string) map[string]any

	// NextStep projects the step into its UI-facing descriptor.
	NextStep() *idx.NextStep

	// ValuesAfterProceed returns the value bag with the step's spent
	// secrets removed so they are never replayed into a later step.
	ValuesAfterProceed(values map[string]string) map[string]string
}

// Constructor builds a handler bound to one concrete step instance.
type Constructor func(step *idx.RemediationStep) Remediator

// Registry maps step names to handler constructors.
type Registry map[string]Constructor

// Default returns a registry holding every handler this package knows.
func Default() Registry {
	return Registry{
		StepIdentify:                        newIdentify,
		StepSelectAuthenticatorAuthenticate: newSelectAuthenticator,
		StepSelectAuthenticatorEnroll:       newSelectAuthenticator,
		StepChallengeAuthenticator:          newChallengeAuthenticator,
		StepEnrollAuthenticator:             newEnrollAuthenticator,
		StepEnrollProfile:                   newEnrollProfile,
		StepSelectEnrollProfile:             newSelectEnrollProfile,
		StepResetAuthenticator:              newResetAuthenticator,
		StepRedirectIDP:                     newRedirectIDP,
		StepSkip:                            newSkip,
	}
}

// For builds the handler for step, restricted to the allowed name set.
// An empty allowed set permits every registered handler. Steps outside the
// set (or without a registered handler) cannot be remediated.
func (r Registry) For(step *idx.RemediationStep, allowed []string) (Remediator, bool) {
	if len(allowed) > 0 && !contains(allowed, step.Name) {
		return nil, false
	}
	ctor, ok := r[step.Name]
	if !ok {
		return nil, false
	}
	return ctor(step), true
}

// Knows reports whether a handler is registered for the step name.
func (r Registry) Knows(name string) bool {
	_, ok := r[name]
	return ok
}

func contains(set []string, name string) bool {
	for _, s := range set {
		if s == name {
			return true
		}
	}
	return false
}

// base supplies the plumbing shared by all variants: generic field->input
// projection and pass-through value handling.
type base struct {
	step *idx.RemediationStep
}

func (b *base) Name() string {
	return b.step.Name
}

func (b *base) NextStep() *idx.NextStep {
	next := &idx.NextStep{
		Name:   b.step.Name,
		Inputs: b.inputs(),
	}
	if a := b.step.Authenticator; a != nil {
		next.ContextualData = a.ContextualData
	}
	return next
}

func (b *base) ValuesAfterProceed(values map[string]string) map[string]string {
	return cloneValues(values)
}

// inputs projects the raw field schema into renderable inputs. Secret fields
// render as password inputs; the generic "string" type renders as text.
func (b *base) inputs() []idx.Input {
	if len(b.step.Fields) == 0 {
		return nil
	}
	inputs := make([]idx.Input, 0, len(b.step.Fields))
	for _, f := range b.step.Fields {
		inputs = append(inputs, idx.Input{
			Name:     f.Name,
			Label:    fieldLabel(f),
			Type:     inputType(f),
			Required: f.Required,
		})
	}
	return inputs
}

func inputType(f idx.Field) string {
	switch {
	case f.Secret:
		return "password"
	case f.Type == "" || f.Type == "string":
		return "text"
	default:
		return f.Type
	}
}

func fieldLabel(f idx.Field) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func cloneValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func pruneValues(values map[string]string, names ...string) map[string]string {
	out := cloneValues(values)
	for _, n := range names {
		delete(out, n)
	}
	return out
}
