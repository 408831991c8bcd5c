package message

// Status codes carried in the statusCode field of an error envelope
const (
	CodeOK                 = 200
	CodeCreated            = 201
	CodeAccepted           = 202
	CodeBadRequest         = 400
	CodeUnauthorized       = 401
	CodeNotFound           = 404
	CodeRequestTimeout     = 408
	CodeServiceUnavailable = 503
)

// Reason phrases paired with the codes above. Details are appended after the
// trailing space, e.g. "Service unavailable. roster provider failed".
const (
	ReasonOK                 = "OK. "
	ReasonCreated            = "Created. "
	ReasonAccepted           = "Accepted. "
	ReasonBadRequest         = "Bad request. "
	ReasonUnauthorized       = "Unauthorized. "
	ReasonNotFound           = "Not found. "
	ReasonRequestTimeout     = "Request timeout. "
	ReasonServiceUnavailable = "Service unavailable. "
)

var reasons = map[int]string{
	CodeOK:                 ReasonOK,
	CodeCreated:            ReasonCreated,
	CodeAccepted:           ReasonAccepted,
	CodeBadRequest:         ReasonBadRequest,
	CodeUnauthorized:       ReasonUnauthorized,
	CodeNotFound:           ReasonNotFound,
	CodeRequestTimeout:     ReasonRequestTimeout,
	CodeServiceUnavailable: ReasonServiceUnavailable,
}

// Reason returns the reason phrase for a code, or "" when the code is unknown
func Reason(code int) string {
	return reasons[code]
}
