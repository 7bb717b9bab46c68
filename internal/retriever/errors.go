package retriever

import "fmt"

// ConfigurationError is returned when the retriever cannot run at all: no credentials,
// or a data directory that is missing, not a directory or not writable.
type ConfigurationError struct {
	Reason string // Human-readable explanation of what is misconfigured
	Err    error  // Underlying error, if any
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid retriever configuration: %s: %v", e.Reason, e.Err)
	}

	return fmt.Sprintf("invalid retriever configuration: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// InvalidRangeError is returned when the requested end date precedes the start date.
type InvalidRangeError struct {
	Start Date
	End   Date
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid date range: end %s is before start %s", e.End, e.Start)
}

// RetrievalError records a failed fetch for one date. It carries enough detail
// to retry the date by hand.
type RetrievalError struct {
	Date     Date   // The date whose artifact could not be retrieved
	Identity string // Identity of the credential that was used
	Err      error  // Error returned by the fetcher
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("failed to retrieve %s with credential %s: %v", e.Date, e.Identity, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}
