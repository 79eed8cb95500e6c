package operator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/flashbots/zkml-operator/zkerr"
)

// Envelope codes outside the taxonomy. The transport codes match the HTTP
// status the response is sent with.
const (
	CodeOK         = http.StatusOK
	CodeTimeout    = http.StatusRequestTimeout
	CodeOverloaded = http.StatusServiceUnavailable
	CodeInternal   = http.StatusInternalServerError
)

const msgTimeout = "request timed out"

// ProveRequest asks the tool to produce a proof for a compiled circuit.
type ProveRequest struct {
	RequestID string `json:"requestId"`
	// Input is a path or reference to the compiled circuit. It must not be empty.
	Input string `json:"input"`
}

// VerifyRequest asks the tool to verify a remote proof against a local model.
type VerifyRequest struct {
	RequestID     string `json:"requestId"`
	Model         string `json:"model"`
	ProofLocation string `json:"proofLocation"`
}

// Envelope is the uniform response shape for success and failure.
type Envelope[T any] struct {
	RequestID string `json:"requestId"`
	Code      int    `json:"code"`
	Result    T      `json:"result"`
}

// Success wraps result with CodeOK.
func Success[T any](requestID string, result T) Envelope[T] {
	return Envelope[T]{RequestID: requestID, Code: CodeOK, Result: result}
}

// Failure reports err through its taxonomy code and message.
func Failure(requestID string, err error) Envelope[string] {
	e := zkerr.From(err)
	return Envelope[string]{RequestID: requestID, Code: e.Code(), Result: e.Message}
}

// TransportFailure reports a condition that aborted the request before an
// envelope could be produced: an expired deadline (408), admission shedding
// (503) and anything else unexpected (500).
func TransportFailure(requestID string, err error) Envelope[string] {
	var code int
	var message string
	switch {
	case errors.Is(err, ErrOverloaded):
		code, message = CodeOverloaded, ErrOverloaded.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code, message = CodeTimeout, msgTimeout
	default:
		code, message = CodeInternal, fmt.Sprintf("Unhandled internal error: %v", err)
	}
	return Envelope[string]{RequestID: requestID, Code: code, Result: message}
}
