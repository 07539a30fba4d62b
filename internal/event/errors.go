package event

import "fmt"

// Error codes reported to the originating connection as `error` events.
const (
	CodeNotAuthenticated = "not_authenticated"
	CodeNotAuthorized    = "not_authorized"
	CodeNotFound         = "not_found"
	CodeInvalidPayload   = "invalid_payload"
	CodeInternalError    = "internal_error"
)

// Err is a wire-reportable error. Feature code returns these; the transport
// layer turns them into `error{code,message}` frames for the sender.
type Err struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Err) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NotAuthorized(msg string) *Err { return &Err{Code: CodeNotAuthorized, Message: msg} }

func NotFound(msg string) *Err { return &Err{Code: CodeNotFound, Message: msg} }

func InvalidPayload(msg string) *Err { return &Err{Code: CodeInvalidPayload, Message: msg} }

// Internal wraps a storage or transport failure. The underlying error is kept
// out of the wire message; callers log it separately.
func Internal(msg string) *Err { return &Err{Code: CodeInternalError, Message: msg} }

// AsErr returns the wire form of err. Unclassified errors downgrade to
// internal_error so storage details never leak to clients.
func AsErr(err error) *Err {
	if e, ok := err.(*Err); ok {
		return e
	}
	return Internal("internal error")
}
