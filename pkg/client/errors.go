package client

import "errors"

// ErrNoAddresses is returned when a fan-out has no candidate addresses to
// try.
var ErrNoAddresses = errors.New("client: no addresses to send request to")

// FanoutError aggregates the per-address failures of a request that was
// tried against every address in a replica set and failed everywhere.
// RequestID is the correlation id stamped on the request envelope
// (wire.Request.RequestID) before the first attempt, so a single fan-out's
// failures can be tied back to one log line on each shard it reached.
type FanoutError struct {
	RequestID string
	Attempts  map[string]error
}

func (e *FanoutError) Error() string {
	s := "client: request " + e.RequestID + " failed against all addresses:"
	for addr, err := range e.Attempts {
		s += " [" + addr + ": " + err.Error() + "]"
	}
	return s
}

func (e *FanoutError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, err := range e.Attempts {
		errs = append(errs, err)
	}
	return errs
}
