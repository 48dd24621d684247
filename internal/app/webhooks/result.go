package webhooks

type Outcome string

const (
	OutcomeProcessed        Outcome = "PROCESSED"
	OutcomeIgnored          Outcome = "IGNORED"
	OutcomeDuplicate        Outcome = "DUPLICATE"
	OutcomeNotFound         Outcome = "NOT_FOUND"
	OutcomeInvalidSignature Outcome = "INVALID_SIGNATURE"
	OutcomeMalformed        Outcome = "MALFORMED"
	OutcomeRateLimited      Outcome = "RATE_LIMITED"
	OutcomeRetryScheduled   Outcome = "RETRY_SCHEDULED"
	// OutcomeTransientFailure is returned when processing failed and no retry
	// task exists for it yet.
	OutcomeTransientFailure Outcome = "TRANSIENT_FAILURE"
)

// Result is the explicit outcome of running one webhook through the pipeline.
type Result struct {
	Outcome     Outcome
	EventID     string
	OrderID     string
	RetryTaskID string
	Err         error
}

// Final reports whether replaying the same payload could change the outcome.
func (r Result) Final() bool {
	return r.Outcome != OutcomeTransientFailure && r.Outcome != OutcomeRetryScheduled
}

func (r Result) Message() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return string(r.Outcome)
}
