package goidx

import (
	"github.com/idxlabs/goidx/internal/idx"
)

// Re-exported wire and step types. The canonical definitions live in
// internal/idx so the remediation packages can share them without import
// cycles; callers only ever see these names.

// Response is one parsed identity-provider state response.
type Response = idx.Response

// RemediationStep is one step offered by the current response.
type RemediationStep = idx.RemediationStep

// Field is one input a remediation step requires.
type Field = idx.Field

// FieldOption is one selectable choice for a Field.
type FieldOption = idx.FieldOption

// Authenticator describes the authenticator a step relates to.
type Authenticator = idx.Authenticator

// Message is one informational or error message from the provider.
type Message = idx.Message

// NextStep is the caller-facing description of what input the flow needs
// next.
type NextStep = idx.NextStep

// Input is one required value inside a NextStep.
type Input = idx.Input

// Select describes a choice the caller must make inside a NextStep.
type Select = idx.Select

// ParseResponse decodes a raw provider response body.
func ParseResponse(raw []byte) (*Response, error) {
	return idx.Parse(raw)
}
