package idx

import "encoding/json"

// NextStep is the UI-facing projection of a remediation step: what the
// caller should render to collect the values the step needs.
type NextStep struct {
	Name string

	// Inputs is the ordered field list to render. Empty when the step is a
	// selection among named options or needs no user input at all.
	Inputs []Input

	// Select is set instead of Inputs when the step is a single choice among
	// enumerated options (e.g. picking an authenticator).
	Select *Select

	// ContextualData carries step-specific extras such as a QR code for an
	// enrollment step.
	ContextualData map[string]json.RawMessage

	// Redirect is the target URL for steps satisfied by leaving the app,
	// such as a social identity provider redirect.
	Redirect string

	// CanSkip marks steps the user may decline.
	CanSkip bool
}

// Input is one renderable form field of a NextStep.
type Input struct {
	Name     string
	Label    string
	Type     string
	Required bool
}

// Select describes a single-choice step.
type Select struct {
	Name    string
	Options []FieldOption
}
