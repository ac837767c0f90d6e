package remediators

import (
	"strings"

	"github.com/idxlabs/goidx/internal/idx"
)

// selectAuthenticator handles both the authenticate- and enroll-time
// authenticator choice. The caller supplies the choice under the
// "authenticator" value, matched against the step's enumerated options by
// value or case-insensitive label.
type selectAuthenticator struct {
	base
}

func newSelectAuthenticator(step *idx.RemediationStep) Remediator {
	return &selectAuthenticator{base{step: step}}
}

func (s *selectAuthenticator) CanRemediate(values map[string]string) bool {
	_, ok := s.match(values["authenticator"])
	return ok
}

func (s *selectAuthenticator) MapCredentials(values map[string]string) map[string]any {
	opt, _ := s.match(values["authenticator"])
	return map[string]any{
		"authenticator": map[string]any{"id": opt.Value},
	}
}

func (s *selectAuthenticator) NextStep() *idx.NextStep {
	return &idx.NextStep{
		Name: s.step.Name,
		Select: &idx.Select{
			Name:    "authenticator",
			Options: s.options(),
		},
	}
}

func (s *selectAuthenticator) ValuesAfterProceed(values map[string]string) map[string]string {
	return pruneValues(values, "authenticator")
}

func (s *selectAuthenticator) options() []idx.FieldOption {
	for _, f := range s.step.Fields {
		if f.Name == "authenticator" {
			return f.Options
		}
	}
	return nil
}

func (s *selectAuthenticator) match(choice string) (idx.FieldOption, bool) {
	if choice == "" {
		return idx.FieldOption{}, false
	}
	for _, opt := range s.options() {
		if opt.Value == choice || strings.EqualFold(opt.Label, choice) {
			return opt, true
		}
	}
	return idx.FieldOption{}, false
}
