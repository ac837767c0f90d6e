package remediators

import "github.com/idxlabs/goidx/internal/idx"

// credentialStep is the shared behavior of every step satisfied by a single
// credential: if the bound authenticator is a password, a password value is
// required; otherwise a verification code (or otp) is.
type credentialStep struct {
	base
}

func (c *credentialStep) isPassword() bool {
	return c.step.Authenticator != nil && c.step.Authenticator.Type == AuthenticatorPassword
}

func (c *credentialStep) credential(values map[string]string) string {
	if c.isPassword() {
		return values["password"]
	}
	if code := values["verificationCode"]; code != "" {
		return code
	}
	return values["otp"]
}

func (c *credentialStep) CanRemediate(values map[string]string) bool {
	return c.credential(values) != ""
}

func (c *credentialStep) MapCredentials(values map[string]string) map[string]any {
	// The provider always names the credential field "passcode"; the
	// caller-facing names (password, verificationCode, otp) are renamed here.
	return map[string]any{
		"credentials": map[string]any{"passcode": c.credential(values)},
	}
}

func (c *credentialStep) NextStep() *idx.NextStep {
	input := idx.Input{Name: "verificationCode", Label: "Verification Code", Type: "text", Required: true}
	if c.isPassword() {
		input = idx.Input{Name: "password", Label: "Password", Type: "password", Required: true}
	}
	next := &idx.NextStep{
		Name:   c.step.Name,
		Inputs: []idx.Input{input},
	}
	if a := c.step.Authenticator; a != nil {
		next.ContextualData = a.ContextualData
	}
	return next
}

func (c *credentialStep) ValuesAfterProceed(values map[string]string) map[string]string {
	return pruneValues(values, "password", "verificationCode", "otp")
}

// challengeAuthenticator verifies an already-enrolled factor.
type challengeAuthenticator struct {
	credentialStep
}

func newChallengeAuthenticator(step *idx.RemediationStep) Remediator {
	return &challengeAuthenticator{credentialStep{base{step: step}}}
}

// enrollAuthenticator establishes a new factor; the credential rule is the
// same as for verification (new password vs. confirmation code).
type enrollAuthenticator struct {
	credentialStep
}

func newEnrollAuthenticator(step *idx.RemediationStep) Remediator {
	return &enrollAuthenticator{credentialStep{base{step: step}}}
}

// resetAuthenticator replaces a recovered factor, typically the password at
// the end of a recovery flow. Accepts newPassword with password as fallback.
type resetAuthenticator struct {
	credentialStep
}

func newResetAuthenticator(step *idx.RemediationStep) Remediator {
	return &resetAuthenticator{credentialStep{base{step: step}}}
}

func (r *resetAuthenticator) credential(values map[string]string) string {
	if v := values["newPassword"]; v != "" {
		return v
	}
	return r.credentialStep.credential(values)
}

func (r *resetAuthenticator) CanRemediate(values map[string]string) bool {
	return r.credential(values) != ""
}

func (r *resetAuthenticator) MapCredentials(values map[string]string) map[string]any {
	return map[string]any{
		"credentials": map[string]any{"passcode": r.credential(values)},
	}
}

func (r *resetAuthenticator) NextStep() *idx.NextStep {
	return &idx.NextStep{
		Name:   r.step.Name,
		Inputs: []idx.Input{{Name: "newPassword", Label: "New Password", Type: "password", Required: true}},
	}
}

func (r *resetAuthenticator) ValuesAfterProceed(values map[string]string) map[string]string {
	return pruneValues(values, "newPassword", "password", "verificationCode", "otp")
}
