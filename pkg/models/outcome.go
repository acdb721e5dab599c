package models

import "encoding/json"

// OutcomeKind is the closed set of terminal results a fetch can resolve to.
type OutcomeKind int64

const (
	// Success means every part of the item was fetched
	Success OutcomeKind = iota
	// PartialSuccess means at least one part was fetched and at least one failed terminally
	PartialSuccess
	// NotFound means the item does not exist on the remote service
	NotFound
	// TransientError means retries were exhausted on a retryable failure
	TransientError
	// FatalError means the failure was not retryable (malformed body, invalid key, 4xx)
	FatalError
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case PartialSuccess:
		return "partial_success"
	case NotFound:
		return "not_found"
	case TransientError:
		return "transient_error"
	case FatalError:
		return "fatal_error"
	}

	return "unknown"
}

// ErrorKind refines TransientError and FatalError outcomes.
type ErrorKind string

const (
	ErrKindNone        ErrorKind = ""
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindConnection  ErrorKind = "connection"
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindServer      ErrorKind = "server_error"
	ErrKindClient      ErrorKind = "client_error"
	ErrKindMalformed   ErrorKind = "malformed"
	ErrKindInvalidKey  ErrorKind = "invalid_key"
	// ErrKindCanceled marks work interrupted by shutdown. Such outcomes are
	// never persisted and never count as completed.
	ErrKindCanceled ErrorKind = "canceled"
)

// Transient reports whether the kind is worth retrying.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrKindTimeout, ErrKindConnection, ErrKindRateLimited, ErrKindServer:
		return true
	}
	return false
}

// FetchOutcome is the result of fetching every part of one WorkItem.
type FetchOutcome struct {
	Kind         OutcomeKind
	ErrorKind    ErrorKind                  // set for TransientError and FatalError
	Payload      map[string]json.RawMessage // payload blob per part
	HTTP         map[string]int             // last HTTP status per part, 0 when no response
	MissingParts []string                   // parts that failed terminally
	Errors       map[string]string          // error description per failed part
	Attempts     int                        // total HTTP attempts across parts
}

// Canceled reports whether the outcome was cut short by shutdown.
func (o FetchOutcome) Canceled() bool {
	return o.ErrorKind == ErrKindCanceled
}

// Status maps the outcome to the status persisted on the stored record.
func (o FetchOutcome) Status() RecordStatus {
	switch o.Kind {
	case Success:
		return StatusOK
	case PartialSuccess, TransientError:
		return StatusPartialError
	case FatalError:
		if o.ErrorKind == ErrKindMalformed {
			return StatusPartialError
		}
		return StatusNoData
	}

	return StatusNoData
}

// NewTransientOutcome builds a TransientError outcome for a whole item.
func NewTransientOutcome(kind ErrorKind, err string) FetchOutcome {
	return FetchOutcome{
		Kind:      TransientError,
		ErrorKind: kind,
		Errors:    map[string]string{"item": err},
	}
}

// NewFatalOutcome builds a FatalError outcome for a whole item.
func NewFatalOutcome(kind ErrorKind, err string) FetchOutcome {
	return FetchOutcome{
		Kind:      FatalError,
		ErrorKind: kind,
		Errors:    map[string]string{"item": err},
	}
}
