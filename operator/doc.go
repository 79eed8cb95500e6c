// Package operator orchestrates proof generation and verification requests
// against an external proving tool.
//
// The package owns four collaborators:
//
//   - State: the immutable configuration snapshot plus the admission gate that
//     lets only one prove or verify operation run at a time, process-wide.
//   - Runner: executes the tool binary once per request and captures its output.
//   - Fetcher: downloads a remote proof artifact into a temporary file.
//   - HistoryStore: records the outcome of every operation.
//
// Service ties them together. Business failures are reported inside the
// returned Envelope; only transport conditions (overload, deadline) come back
// as Go errors so the HTTP layer can map them to a status code.
package operator
