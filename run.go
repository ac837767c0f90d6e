package goidx

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/idxlabs/goidx/internal/remediators"
	"github.com/idxlabs/goidx/token"
)

// RunOptions parameterizes one Run or Proceed call.
type RunOptions struct {
	// Flow selects the flow specification. Empty keeps a resumed
	// transaction's saved flow, or starts authenticate when nothing is
	// saved. Supplying a different flow supersedes the saved transaction.
	Flow FlowIdentifier

	// State correlates the transaction; empty starts a new one with a
	// generated state.
	State string

	// CodeVerifier is the PKCE verifier the caller's OAuth layer prepared.
	// It is persisted with the transaction and used at code exchange.
	CodeVerifier string

	// Scopes overrides the configured scope set for this transaction.
	Scopes []string

	// Values is the flat input bag the remediation loop consumes.
	Values map[string]string

	// Actions are provider actions to dispatch before remediating.
	Actions []string
}

// Run drives the flow as far as the supplied values allow. It resumes a
// saved transaction when one exists and starts a new one otherwise. Errors
// are reported through the returned Transaction, never a second return:
// callers always get a status plus whatever response context exists.
func (c *Client) Run(ctx context.Context, opts RunOptions) *Transaction {
	start := time.Now()
	tx := c.run(ctx, opts, false)
	c.observeRunLatency(start)
	return tx
}

// Proceed resumes a saved transaction. Unlike Run it refuses to start a new
// one: with nothing saved it fails with ErrNoSavedTransaction before any
// provider round trip.
func (c *Client) Proceed(ctx context.Context, opts RunOptions) (*Transaction, error) {
	start := time.Now()
	tx := c.run(ctx, opts, true)
	c.observeRunLatency(start)
	if tx.Status == StatusFailure && tx.Err != nil {
		return tx, tx.Err
	}
	return tx, nil
}

// CanProceed reports whether a saved transaction exists for state.
func (c *Client) CanProceed(ctx context.Context, state string) bool {
	meta, err := c.metaStore.SavedTransactionMeta(ctx, state)
	return err == nil && meta != nil
}

func (c *Client) run(ctx context.Context, opts RunOptions, requireSaved bool) *Transaction {
	meta, err := c.metaStore.SavedTransactionMeta(ctx, opts.State)
	if err != nil {
		return c.fail(ctx, nil, err, false)
	}

	flow := opts.Flow
	if meta != nil {
		if flow == "" {
			// A resumed transaction keeps the flow it was started with.
			flow = meta.Flow
		} else if canonicalFlow(flow) != canonicalFlow(meta.Flow) {
			// An explicitly requested different flow supersedes the saved
			// transaction; discard it and start over.
			meta = nil
		}
	}
	spec := specificationFor(flow)

	if meta == nil {
		if requireSaved {
			return c.fail(ctx, nil, ErrNoSavedTransaction, false)
		}
		meta, err = c.interact(ctx, opts, spec)
		if err != nil {
			return c.fail(ctx, nil, err, true)
		}
	}

	resp, err := c.currentResponse(ctx, meta)
	if err != nil {
		return c.fail(ctx, nil, err, true)
	}

	monitor := spec.NewMonitor(meta)

	if len(opts.Values) == 0 && len(opts.Actions) == 0 {
		return c.snapshot(ctx, resp, meta, spec)
	}

	outcome, err := c.remediate(ctx, resp, opts.Values, opts.Actions, spec, monitor)
	if err != nil {
		return c.fail(ctx, resp, err, true)
	}

	return c.settle(ctx, outcome, meta, spec, monitor)
}

// interact starts a new transaction at the provider and persists its meta.
func (c *Client) interact(ctx context.Context, opts RunOptions, spec *FlowSpecification) (*TransactionMeta, error) {
	if err := c.metaStore.Clear(ctx, ClearOptions{SharedStorage: true}); err != nil {
		return nil, err
	}

	state := opts.State
	if state == "" {
		state = uuid.NewString()
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = c.config.Client.Scopes
	}

	handle, err := c.transport.Interact(ctx, InteractRequest{
		State:  state,
		Scopes: scopes,
		SSO:    spec.SSO,
	})
	if err != nil {
		c.emitAudit(auditEventInteract, spec.Flow, "", false, err)
		return nil, err
	}
	c.metricInc(MetricInteract)
	c.emitAudit(auditEventInteract, spec.Flow, "", true, nil)

	meta := &TransactionMeta{
		State:             state,
		InteractionHandle: handle,
		CodeVerifier:      opts.CodeVerifier,
		ClientID:          c.config.Client.ClientID,
		RedirectURI:       c.config.Client.RedirectURI,
		Scopes:            scopes,
		Flow:              spec.Flow,
		SSO:               spec.SSO,
	}
	if err := c.metaStore.SaveTransactionMeta(ctx, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// currentResponse prefers the cached raw response over a fresh introspect.
func (c *Client) currentResponse(ctx context.Context, meta *TransactionMeta) (*Response, error) {
	if len(meta.RawResponse) > 0 {
		resp, err := ParseResponse(meta.RawResponse)
		if err == nil {
			return resp, nil
		}
		// Unparseable cache falls through to a fresh introspect.
	}

	raw, err := c.transport.Introspect(ctx, IntrospectRequest{
		InteractionHandle: meta.InteractionHandle,
		SSO:               meta.SSO,
	})
	if err != nil {
		c.emitAudit(auditEventIntrospect, meta.Flow, "", false, err)
		return nil, err
	}
	c.metricInc(MetricIntrospect)
	c.emitAudit(auditEventIntrospect, meta.Flow, "", true, nil)

	return ParseResponse(raw)
}

// snapshot answers a no-input call: it reports what the provider's policy
// currently offers without submitting anything.
func (c *Client) snapshot(ctx context.Context, resp *Response, meta *TransactionMeta, spec *FlowSpecification) *Transaction {
	if resp.Canceled || resp.Terminal() || resp.InteractionCode != "" {
		// Even a no-input call can land on a finished response, for example
		// when resuming a transaction another context completed.
		monitor := spec.NewMonitor(meta)
		return c.settle(ctx, &remediationOutcome{resp: resp}, meta, spec, monitor)
	}

	meta.RawResponse = resp.Raw()
	if err := c.metaStore.SaveResponse(ctx, resp.Raw()); err != nil {
		return c.fail(ctx, resp, err, true)
	}

	tx := &Transaction{
		Status:          StatusPending,
		EnabledFeatures: detectFeatures(resp),
		AvailableSteps:  availableSteps(resp, c.registry, spec),
		Messages:        resp.Messages,
		Meta:            meta,
		Response:        resp,
	}
	for i := range resp.Remediations {
		if rem, ok := c.registry.For(&resp.Remediations[i], spec.Remediators); ok {
			tx.NextStep = rem.NextStep()
			break
		}
	}
	return tx
}

// settle maps the remediation outcome onto a final or pending transaction
// and applies the matching persistence rule.
func (c *Client) settle(
	ctx context.Context,
	outcome *remediationOutcome,
	meta *TransactionMeta,
	spec *FlowSpecification,
	monitor FlowMonitor,
) *Transaction {
	resp := outcome.resp

	// Terminal before canceled: a provider that reports both has ended the
	// conversation, and terminal is the stronger claim.
	switch {
	case resp.Terminal():
		c.metricInc(MetricTransactionTerminal)
		c.emitAudit(auditEventTransaction, spec.Flow, "", true, nil)
		// Shared meta survives: a sibling context (the email the provider
		// sent, another tab) may still pick the transaction up.
		if err := c.metaStore.Clear(ctx, ClearOptions{SharedStorage: false}); err != nil {
			return c.fail(ctx, resp, err, false)
		}
		return &Transaction{Status: StatusTerminal, Messages: resp.Messages, Response: resp}

	case resp.Canceled:
		c.metricInc(MetricTransactionCanceled)
		c.emitAudit(auditEventTransaction, spec.Flow, "", true, nil)
		if err := c.metaStore.Clear(ctx, ClearOptions{SharedStorage: true}); err != nil {
			return c.fail(ctx, resp, err, false)
		}
		return &Transaction{Status: StatusCanceled, Messages: resp.Messages, Response: resp}

	case resp.InteractionCode != "":
		return c.exchange(ctx, resp, meta, spec, monitor)

	default:
		meta.RawResponse = resp.Raw()
		if err := c.metaStore.SaveTransactionMeta(ctx, meta); err != nil {
			return c.fail(ctx, resp, err, true)
		}
		return &Transaction{
			Status:   StatusPending,
			NextStep: outcome.next,
			Messages: resp.Messages,
			Meta:     meta,
			Response: resp,
		}
	}
}

// exchange gates the interaction code on the flow monitor, then trades it
// for tokens and stores them.
func (c *Client) exchange(
	ctx context.Context,
	resp *Response,
	meta *TransactionMeta,
	spec *FlowSpecification,
	monitor FlowMonitor,
) *Transaction {
	finished, err := monitor.IsFinished(ctx)
	if err != nil {
		return c.fail(ctx, resp, err, true)
	}
	if !finished {
		c.metricInc(MetricPolicyViolation)
		return c.fail(ctx, resp, &FlowError{Flow: spec.Flow, Err: ErrFlowPolicyViolation}, true)
	}

	bag, err := c.transport.ExchangeCode(ctx, ExchangeRequest{
		InteractionCode: resp.InteractionCode,
		ClientID:        meta.ClientID,
		CodeVerifier:    meta.CodeVerifier,
		RedirectURI:     meta.RedirectURI,
		Scopes:          meta.Scopes,
		IgnoreSignature: c.config.Client.IgnoreSignature,
	})
	if err != nil {
		c.emitAudit(auditEventExchange, spec.Flow, "", false, err)
		return c.fail(ctx, resp, err, true)
	}
	c.metricInc(MetricTokenExchange)
	c.emitAudit(auditEventExchange, spec.Flow, "", true, nil)

	if err := c.tokens.SetTokens(ctx, bag, nil); err != nil {
		return c.fail(ctx, resp, err, true)
	}

	if err := c.metaStore.Clear(ctx, ClearOptions{SharedStorage: true}); err != nil {
		return c.fail(ctx, resp, err, false)
	}

	c.metricInc(MetricTransactionSuccess)
	c.emitAudit(auditEventTransaction, spec.Flow, "", true, nil)

	return &Transaction{
		Status:   StatusSuccess,
		Tokens:   bag,
		Messages: resp.Messages,
		Response: resp,
	}
}

// fail builds the failure transaction; clearMeta removes saved state so the
// next call starts clean instead of resuming into the failed conversation.
func (c *Client) fail(ctx context.Context, resp *Response, cause error, clearMeta bool) *Transaction {
	if clearMeta {
		if err := c.metaStore.Clear(ctx, ClearOptions{SharedStorage: true}); err != nil {
			cause = err
		}
	}
	c.metricInc(MetricTransactionFailure)
	c.emitAudit(auditEventTransaction, "", "", false, cause)
	return &Transaction{Status: StatusFailure, Err: cause, Response: resp}
}

// detectFeatures scans a fresh response for provider capabilities.
func detectFeatures(resp *Response) []Feature {
	var features []Feature
	if resp.Find(remediators.StepSelectEnrollProfile) != nil || resp.Find(remediators.StepEnrollProfile) != nil {
		features = append(features, FeatureRegistration)
	}
	if resp.HasAction(ActionCurrentAuthenticatorRecover) ||
		resp.HasAction(ActionCurrentAuthenticatorEnrollmentRecover) {
		features = append(features, FeaturePasswordRecovery)
	}
	if resp.Find(remediators.StepRedirectIDP) != nil {
		features = append(features, FeatureSocialIDP)
	}
	return features
}

// availableSteps lists the offered steps this client can drive under the
// flow's whitelist.
func availableSteps(resp *Response, registry remediators.Registry, spec *FlowSpecification) []string {
	var steps []string
	for i := range resp.Remediations {
		if _, ok := registry.For(&resp.Remediations[i], spec.Remediators); ok {
			steps = append(steps, resp.Remediations[i].Name)
		}
	}
	return steps
}

// Tokens returns the stored token set through the manager.
func (c *Client) Tokens(ctx context.Context) (*token.Bag, error) {
	return c.tokens.GetTokens(ctx)
}
