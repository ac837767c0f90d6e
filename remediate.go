package goidx

import (
	"context"

	"github.com/idxlabs/goidx/internal/remediators"
)

// remediationOutcome is what one drive of the remediation loop produced:
// the response it stopped on, the value bag with spent secrets pruned, and
// the step descriptor to surface when the loop is blocked on input.
type remediationOutcome struct {
	resp   *Response
	values map[string]string
	next   *NextStep
}

// remediate drives the interact/proceed loop as far as the supplied values
// allow. Each iteration either dispatches one requested action, satisfies
// one remediation step, or stops: on a canceled response, an interaction
// code, a terminal response, or a step the values cannot satisfy.
func (c *Client) remediate(
	ctx context.Context,
	resp *Response,
	values map[string]string,
	requested []string,
	spec *FlowSpecification,
	monitor FlowMonitor,
) (*remediationOutcome, error) {
	pending := actionQueue(values, requested, spec)

	for {
		if resp.Canceled {
			return &remediationOutcome{resp: resp, values: values}, nil
		}

		if len(pending) > 0 {
			name := pending[0]
			pending = pending[1:]
			if !actionAllowed(spec, name) {
				c.metricInc(MetricRemediationBlocked)
				return nil, &FlowError{Flow: spec.Flow, Step: name, Err: ErrActionNotAllowed}
			}
			if !resp.HasAction(name) {
				// Offered actions vary by state; a whitelisted action the
				// provider is not offering right now is simply skipped.
				continue
			}
			raw, err := c.transport.InvokeAction(ctx, resp, name, nil)
			if err != nil {
				return nil, err
			}
			next, err := ParseResponse(raw)
			if err != nil {
				return nil, err
			}
			monitor.ObserveAction(name)
			c.metricInc(MetricActionDispatched)
			c.emitAudit(auditEventAction, spec.Flow, name, true, nil)
			resp = next
			continue
		}

		if resp.InteractionCode != "" || resp.Terminal() {
			return &remediationOutcome{resp: resp, values: values}, nil
		}

		rem, blocked := c.selectRemediator(resp, values, spec)
		if rem == nil {
			// Nothing satisfiable. Report the first handled-but-unsatisfied
			// step so the caller knows what input to collect.
			out := &remediationOutcome{resp: resp, values: values}
			if blocked != nil {
				out.next = blocked.NextStep()
			}
			return out, nil
		}

		step := resp.Find(rem.Name())
		data := rem.MapCredentials(values)
		data["stateHandle"] = resp.StateHandle

		raw, err := c.transport.Proceed(ctx, step, data)
		if err != nil {
			c.emitAudit(auditEventRemediation, spec.Flow, rem.Name(), false, err)
			return nil, err
		}
		next, err := ParseResponse(raw)
		if err != nil {
			return nil, err
		}

		monitor.ObserveRemediation(rem.Name())
		c.metricInc(MetricRemediationProceed)
		c.emitAudit(auditEventRemediation, spec.Flow, rem.Name(), true, nil)

		values = rem.ValuesAfterProceed(values)
		resp = next
	}
}

// selectRemediator returns the first offered step whose handler the values
// satisfy, plus the first handled step they do not, for NextStep reporting.
func (c *Client) selectRemediator(
	resp *Response,
	values map[string]string,
	spec *FlowSpecification,
) (satisfied, blocked remediators.Remediator) {
	for i := range resp.Remediations {
		rem, ok := c.registry.For(&resp.Remediations[i], spec.Remediators)
		if !ok {
			continue
		}
		if rem.CanRemediate(values) {
			return rem, nil
		}
		if blocked == nil {
			blocked = rem
		}
	}
	return nil, blocked
}

// actionQueue merges explicitly requested actions with value-triggered ones:
// a value whose key names a whitelisted action and whose value is "true" is
// treated as a request to dispatch it.
func actionQueue(values map[string]string, requested []string, spec *FlowSpecification) []string {
	queue := make([]string, 0, len(requested))
	queue = append(queue, requested...)
	for _, name := range spec.Actions {
		if values[name] == "true" && !containsString(queue, name) {
			queue = append(queue, name)
		}
	}
	return queue
}

func actionAllowed(spec *FlowSpecification, name string) bool {
	return containsString(spec.Actions, name)
}

func containsString(set []string, name string) bool {
	for _, s := range set {
		if s == name {
			return true
		}
	}
	return false
}
