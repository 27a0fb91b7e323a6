package engine

import "github.com/technosupport/ts-radio/internal/calls"

// Result is the coarse outcome class of a routing operation.
type Result string

const (
	ResultApplied  Result = "APPLIED"
	ResultRejected Result = "REJECTED"
	ResultFailed   Result = "FAILED"
)

// Outcome is what Route/Handle reports back to the transport. Rejected is
// a terminal, expected outcome: the message is consumed. Failed means the
// store or ledger was unavailable; the caller retries with backoff.
type Outcome struct {
	Result Result
	State  calls.State  // new state when applied
	Reason RejectReason // set when rejected
	Err    error        // set when failed; retryable
}

func appliedOutcome(s calls.State) Outcome {
	return Outcome{Result: ResultApplied, State: s}
}

func rejectedOutcome(r RejectReason) Outcome {
	return Outcome{Result: ResultRejected, Reason: r}
}

func failedOutcome(err error) Outcome {
	return Outcome{Result: ResultFailed, Err: err}
}
