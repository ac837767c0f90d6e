package remediators

import "github.com/idxlabs/goidx/internal/idx"

// skip declines an optional step when the caller explicitly asks to.
type skip struct {
	base
}

func newSkip(step *idx.RemediationStep) Remediator {
	return &skip{base{step: step}}
}

func (s *skip) CanRemediate(values map[string]string) bool {
	return values["skip"] == "true"
}

func (s *skip) MapCredentials(map[string]string) map[string]any {
	return map[string]any{}
}

func (s *skip) NextStep() *idx.NextStep {
	return &idx.NextStep{Name: s.step.Name, CanSkip: true}
}

func (s *skip) ValuesAfterProceed(values map[string]string) map[string]string {
	return pruneValues(values, "skip")
}

// redirectIDP represents a social identity provider hand-off. It is never
// satisfiable with in-band values; its next step carries the redirect target.
type redirectIDP struct {
	base
}

func newRedirectIDP(step *idx.RemediationStep) Remediator {
	return &redirectIDP{base{step: step}}
}

func (r *redirectIDP) CanRemediate(map[string]string) bool {
	return false
}

func (r *redirectIDP) MapCredentials(map[string]string) map[string]any {
	return map[string]any{}
}

func (r *redirectIDP) NextStep() *idx.NextStep {
	return &idx.NextStep{
		Name:     r.step.Name,
		Redirect: r.step.Href,
	}
}
