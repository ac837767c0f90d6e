package remediators

import "github.com/idxlabs/goidx/internal/idx"

// enrollProfile collects the registration profile attributes the provider
// asks for (first name, last name, email, ...). Satisfiable once every
// required field is present in the value bag.
type enrollProfile struct {
	base
}

func newEnrollProfile(step *idx.RemediationStep) Remediator {
	return &enrollProfile{base{step: step}}
}

func (e *enrollProfile) CanRemediate(values map[string]string) bool {
	if len(e.step.Fields) == 0 {
		return false
	}
	for _, f := range e.step.Fields {
		if f.Required && values[f.Name] == "" {
			return false
		}
	}
	return true
}

func (e *enrollProfile) MapCredentials(values map[string]string) map[string]any {
	profile := make(map[string]any)
	for _, f := range e.step.Fields {
		if v := values[f.Name]; v != "" {
			profile[f.Name] = v
		}
	}
	return map[string]any{"userProfile": profile}
}

func (e *enrollProfile) ValuesAfterProceed(values map[string]string) map[string]string {
	names := make([]string, 0, len(e.step.Fields))
	for _, f := range e.step.Fields {
		names = append(names, f.Name)
	}
	return pruneValues(values, names...)
}

// selectEnrollProfile chooses the registration path. It takes no user input:
// when the active flow allows it (registration), it auto-advances.
type selectEnrollProfile struct {
	base
}

func newSelectEnrollProfile(step *idx.RemediationStep) Remediator {
	return &selectEnrollProfile{base{step: step}}
}

func (s *selectEnrollProfile) CanRemediate(map[string]string) bool {
	return true
}

func (s *selectEnrollProfile) MapCredentials(map[string]string) map[string]any {
	return map[string]any{}
}

func (s *selectEnrollProfile) NextStep() *idx.NextStep {
	return &idx.NextStep{Name: s.step.Name}
}
