package internaldefs

import (
	goidx "github.com/idxlabs/goidx"
)

// CounterDef binds a core metric id to its exported name and help text.
type CounterDef struct {
	ID   goidx.MetricID
	Name string
	Help string
}

// HistogramDef binds a core histogram id to its exported name and help text.
type HistogramDef struct {
	ID   goidx.MetricID
	Name string
	Help string
}

// CounterDefs is the full exported counter set, in snapshot order.
var CounterDefs = []CounterDef{
	{ID: goidx.MetricInteract, Name: "goidx_interact_total", Help: "Transactions started at the identity provider."},
	{ID: goidx.MetricIntrospect, Name: "goidx_introspect_total", Help: "Transaction state fetches."},
	{ID: goidx.MetricRemediationProceed, Name: "goidx_remediation_proceed_total", Help: "Remediation steps submitted."},
	{ID: goidx.MetricRemediationBlocked, Name: "goidx_remediation_blocked_total", Help: "Steps or actions refused by flow guardrails."},
	{ID: goidx.MetricActionDispatched, Name: "goidx_action_dispatched_total", Help: "Top-level actions invoked."},
	{ID: goidx.MetricTransactionSuccess, Name: "goidx_transaction_success_total", Help: "Runs ending in token acquisition."},
	{ID: goidx.MetricTransactionFailure, Name: "goidx_transaction_failure_total", Help: "Runs ending in an error."},
	{ID: goidx.MetricTransactionTerminal, Name: "goidx_transaction_terminal_total", Help: "Runs ending on a terminal response."},
	{ID: goidx.MetricTransactionCanceled, Name: "goidx_transaction_canceled_total", Help: "Runs ending canceled."},
	{ID: goidx.MetricPolicyViolation, Name: "goidx_policy_violation_total", Help: "Interaction codes refused by a flow monitor."},
	{ID: goidx.MetricTokenExchange, Name: "goidx_token_exchange_total", Help: "Interaction-code exchanges performed."},
	{ID: goidx.MetricTokenAdded, Name: "goidx_token_added_total", Help: "Tokens written to storage."},
	{ID: goidx.MetricTokenRenewed, Name: "goidx_token_renewed_total", Help: "Successful token renewals."},
	{ID: goidx.MetricTokenRemoved, Name: "goidx_token_removed_total", Help: "Tokens removed from storage."},
	{ID: goidx.MetricTokenExpired, Name: "goidx_token_expired_total", Help: "Expiry timers fired."},
	{ID: goidx.MetricTokenRenewError, Name: "goidx_token_renew_error_total", Help: "Failed or throttled renewals."},
}

// HistogramDefs is the full exported histogram set.
var HistogramDefs = []HistogramDef{
	{ID: goidx.MetricRunLatency, Name: "goidx_run_latency_seconds", Help: "Run latency histogram."},
}

// HistogramBounds are the upper bounds of the core latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are metric-name-safe forms of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
