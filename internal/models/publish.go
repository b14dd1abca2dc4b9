package models

import "fmt"

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeStatusFailure
	OutcomeConnectionFailure
	OutcomeTimeout
	OutcomeTransportFailure
	// OutcomeNoData means nothing was sent because the station had no
	// valid hour.
	OutcomeNoData
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeStatusFailure:
		return "http_error"
	case OutcomeConnectionFailure:
		return "connection_error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeTransportFailure:
		return "transport_error"
	case OutcomeNoData:
		return "no_data"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// PublishResult is the outcome of one batched upsert. It is returned, never
// raised, so callers can keep going after a failed station.
type PublishResult struct {
	Station    string
	Outcome    Outcome
	Entities   int
	StatusCode int
	Reason     string
	Detail     string
	Cause      error
}

func (r PublishResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Err returns a *PublishError for failed publications. Success and a station
// with nothing to send are not errors.
func (r PublishResult) Err() error {
	if r.OK() || r.Outcome == OutcomeNoData {
		return nil
	}
	return &PublishError{
		Station:    r.Station,
		StatusCode: r.StatusCode,
		Reason:     r.Reason,
		Err:        r.Cause,
	}
}
