// Package idx holds the wire-level view of an interaction-code conversation:
// the subset of the identity provider's remediation response that the engine
// actually inspects, plus the UI-facing step descriptors projected from it.
package idx

import (
	"encoding/json"
	"sort"
)

// Response is a server-asserted snapshot of the conversation state. It is
// immutable once parsed; every introspection or remediation call produces a
// fresh one that supersedes it.
type Response struct {
	raw []byte

	StateHandle     string
	Remediations    []RemediationStep
	ActionNames     []string
	Messages        []Message
	InteractionCode string
	Canceled        bool
}

// RemediationStep is one named step the provider still needs satisfied,
// with its input field schema and optional authenticator binding.
type RemediationStep struct {
	Name          string         `json:"name"`
	Href          string         `json:"href,omitempty"`
	Fields        []Field        `json:"value,omitempty"`
	Authenticator *Authenticator `json:"relatesTo,omitempty"`
}

// Field is a single input descriptor inside a remediation step.
type Field struct {
	Name     string        `json:"name"`
	Label    string        `json:"label,omitempty"`
	Type     string        `json:"type,omitempty"`
	Secret   bool          `json:"secret,omitempty"`
	Required bool          `json:"required,omitempty"`
	Options  []FieldOption `json:"options,omitempty"`
}

// FieldOption is one enumerated choice of a select-style field.
type FieldOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Authenticator identifies the factor a step relates to (password,
// email, possession factor, ...) plus any contextual data the UI needs,
// such as a QR code for an enrollment step.
type Authenticator struct {
	Type           string                     `json:"type"`
	Key            string                     `json:"key,omitempty"`
	ContextualData map[string]json.RawMessage `json:"contextualData,omitempty"`
}

// Message is a human-readable notice attached to a response.
type Message struct {
	Text  string `json:"message"`
	Class string `json:"class,omitempty"`
	Key   string `json:"i18nKey,omitempty"`
}

type wireResponse struct {
	StateHandle     string                     `json:"stateHandle"`
	Remediation     []RemediationStep          `json:"remediation"`
	Actions         map[string]json.RawMessage `json:"actions"`
	Messages        []Message                  `json:"messages"`
	InteractionCode string                     `json:"interactionCode"`
	Canceled        bool                       `json:"canceled"`
}

// Parse decodes a raw remediation response. The original payload is retained
// verbatim so an in-progress transaction can persist it and skip a redundant
// introspection on the next invocation.
func Parse(raw []byte) (*Response, error) {
	var w wireResponse
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}

	actions := make([]string, 0, len(w.Actions))
	for name := range w.Actions {
		actions = append(actions, name)
	}
	sort.Strings(actions)

	buf := make([]byte, len(raw))
	copy(buf, raw)

	return &Response{
		raw:             buf,
		StateHandle:     w.StateHandle,
		Remediations:    w.Remediation,
		ActionNames:     actions,
		Messages:        w.Messages,
		InteractionCode: w.InteractionCode,
		Canceled:        w.Canceled,
	}, nil
}

// Raw returns the verbatim payload this response was parsed from.
func (r *Response) Raw() []byte {
	return r.raw
}

// Terminal reports whether the conversation ended in a state that can only
// continue outside the current context (no remediations left, no code).
// Terminal outranks the canceled flag: a response with nothing left to do
// has ended regardless of how it got there.
func (r *Response) Terminal() bool {
	return r.InteractionCode == "" && len(r.Remediations) == 0
}

// HasAction reports whether the named side-action is currently allowed.
func (r *Response) HasAction(name string) bool {
	for _, a := range r.ActionNames {
		if a == name {
			return true
		}
	}
	return false
}

// Find returns the remediation step with the given name, or nil.
func (r *Response) Find(name string) *RemediationStep {
	for i := range r.Remediations {
		if r.Remediations[i].Name == name {
			return &r.Remediations[i]
		}
	}
	return nil
}
