package errors

const (
	HttpInternalError         = "internal_error"
	HttpInvalidRequestError   = "invalid_request"
	HttpPayloadTooLargeError  = "payload_too_large"
	HttpStreamNotFoundError   = "stream_not_found"
	HttpStreamExistsError     = "stream_exists"
	HttpStreamFullError       = "stream_full"
	HttpStoreUnavailableError = "store_unavailable"
	HttpNoAggregateError      = "no_aggregate"
)

// ErrorResponse is the error body shared by every HTTP endpoint.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
