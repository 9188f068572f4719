// Package fetcher retrieves raw XML documents from configured remote sources,
// applying per-source timeout, retry with exponential backoff, and in-flight
// request deduplication.
package fetcher

import "time"

// ErrorKind classifies a terminal fetch failure
type ErrorKind string

const (
	// ErrorKindTimeout means the attempt exceeded its per-attempt timeout
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindDNSError means name resolution failed
	ErrorKindDNSError ErrorKind = "dnsError"

	// ErrorKindConnectionRefused means the remote refused the connection
	ErrorKindConnectionRefused ErrorKind = "connectionRefused"

	// ErrorKindConnectionReset means the connection was reset mid-request
	ErrorKindConnectionReset ErrorKind = "connectionReset"

	// ErrorKindClientError means the remote returned a 4xx status
	ErrorKindClientError ErrorKind = "clientError"

	// ErrorKindServerError means the remote returned a 5xx status
	ErrorKindServerError ErrorKind = "serverError"

	// ErrorKindTLSError means the TLS handshake or certificate validation failed
	ErrorKindTLSError ErrorKind = "tlsError"

	// ErrorKindAlreadyInFlight means a retrieval for the same source id was
	// already outstanding; the call was rejected without network I/O
	ErrorKindAlreadyInFlight ErrorKind = "alreadyInFlight"

	// ErrorKindUnknown covers everything else
	ErrorKindUnknown ErrorKind = "unknown"
)

// SuccessOutcome carries the payload of a successful retrieval
type SuccessOutcome struct {
	// RawBody is the raw document text
	RawBody string `json:"raw_body"`

	// ContentType is the Content-Type reported by the remote
	ContentType string `json:"content_type"`

	// HTTPStatus is the HTTP status code of the winning attempt
	HTTPStatus int `json:"http_status"`

	// ResponseTime is the elapsed time of the winning attempt
	ResponseTime time.Duration `json:"response_time_ns"`

	// Attempt is the 1-based attempt number that succeeded
	Attempt int `json:"attempt"`

	// FetchedAt is when the document was retrieved
	FetchedAt time.Time `json:"fetched_at"`
}

// FailureOutcome carries the payload of a terminal retrieval failure
type FailureOutcome struct {
	// ErrorKind classifies the terminal error
	ErrorKind ErrorKind `json:"error_kind"`

	// Message is the terminal error text
	Message string `json:"message"`

	// AttemptsExhausted is true when every configured attempt was used
	AttemptsExhausted bool `json:"attempts_exhausted"`

	// ResponseTime is the elapsed wall time of the whole attempt sequence
	ResponseTime time.Duration `json:"response_time_ns"`
}

// FetchOutcome is the result of one retrieval attempt sequence for one
// descriptor. Exactly one of Success or Failure is set.
type FetchOutcome struct {
	// SourceID identifies the descriptor the outcome belongs to
	SourceID string `json:"source_id"`

	// Success is set when the retrieval produced a document
	Success *SuccessOutcome `json:"success,omitempty"`

	// Failure is set when the retrieval failed terminally
	Failure *FailureOutcome `json:"failure,omitempty"`
}

// IsSuccess reports whether the outcome carries a document
func (o *FetchOutcome) IsSuccess() bool {
	return o.Success != nil
}

// FetchAllStats aggregates counters over one FetchAll call
type FetchAllStats struct {
	// Requested is the number of descriptors fetched
	Requested int `json:"requested"`

	// Succeeded is the number of successful outcomes
	Succeeded int `json:"succeeded"`

	// Failed is the number of terminal failures
	Failed int `json:"failed"`

	// Elapsed is the wall time of the whole bulk fetch
	Elapsed time.Duration `json:"elapsed_ns"`
}

// FetchAllResult is the result of a bulk fetch. Outcomes preserve the
// order of the input descriptor list.
type FetchAllResult struct {
	Outcomes []FetchOutcome `json:"outcomes"`
	Stats    FetchAllStats  `json:"stats"`
}
