package remediators

import "github.com/idxlabs/goidx/internal/idx"

// identify submits the user's identifier, optionally carrying the password
// along when the provider's identify step accepts credentials inline.
type identify struct {
	base
}

func newIdentify(step *idx.RemediationStep) Remediator {
	return &identify{base{step: step}}
}

func (i *identify) CanRemediate(values map[string]string) bool {
	return values["identifier"] != ""
}

func (i *identify) MapCredentials(values map[string]string) map[string]any {
	data := map[string]any{
		"identifier": values["identifier"],
	}
	if password := values["password"]; password != "" && i.acceptsCredentials() {
		data["credentials"] = map[string]any{"passcode": password}
	}
	if values["rememberMe"] == "true" {
		data["rememberMe"] = true
	}
	return data
}

func (i *identify) ValuesAfterProceed(values map[string]string) map[string]string {
	return pruneValues(values, "identifier")
}

func (i *identify) acceptsCredentials() bool {
	for _, f := range i.step.Fields {
		if f.Name == "credentials" {
			return true
		}
	}
	return false
}
