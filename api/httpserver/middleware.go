package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/flashbots/zkml-operator/operator"
)

// WriteJSON encodes v with the given HTTP status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteTransportError reports conditions the envelope code alone cannot carry:
// an expired request deadline (408), admission shedding (503) and anything
// else unexpected (500). The HTTP status matches the envelope code.
func WriteTransportError(w http.ResponseWriter, requestID string, err error) {
	env := operator.TransportFailure(requestID, err)
	WriteJSON(w, env.Code, env)
}

// Timeout attaches a deadline to every request context.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recoverer turns a handler panic into a 500 envelope and logs the stack.
func Recoverer(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				log.Error("Handler panic", "path", r.URL.Path, "panic", rvr, "stack", string(debug.Stack()))
				WriteTransportError(w, "", fmt.Errorf("%v", rvr))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
