// Package zkerr defines the closed error taxonomy shared by every layer of the
// operator.
//
// Each Kind carries a stable numeric code that is reported to clients inside
// the response envelope:
//
//	ConfigMissing      1001  configuration file path does not resolve
//	SerializationError 1002  configuration content fails to parse
//	IoError            1003  underlying filesystem or transport failure
//	OtherError         1004  invocation, fetch and validation failures
//
// Internal failures are translated into an *Error at the point of detection.
// Handlers only ever surface Code() and Message() to callers, so the wrapped
// cause stays available to logs without leaking across the API boundary.
package zkerr
