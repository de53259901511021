package failure

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Class is the category a remote-call failure falls into.
type Class string

const (
	ClassTransientNetwork Class = "transient_network"
	ClassTransientServer  Class = "transient_server"
	ClassAuth             Class = "auth_failure"
	ClassMalformed        Class = "malformed_response"
	ClassJobFailed        Class = "job_failed"
	ClassTimeout          Class = "timeout"
	ClassCancelled        Class = "cancelled"
	ClassUnknown          Class = "unknown"
)

// Retryable reports whether failures of this class may succeed on a later attempt.
func (c Class) Retryable() bool {
	switch c {
	case ClassTransientNetwork, ClassTransientServer, ClassTimeout:
		return true
	default:
		return false
	}
}

func (c Class) String() string {
	return string(c)
}

// ErrMissingCredential is returned when no API key is configured for the remote service.
var ErrMissingCredential = errors.New("missing api credential")

// StatusError is a non-2xx HTTP response from the remote service.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// MalformedError means a response arrived but did not have the expected shape.
type MalformedError struct {
	Detail string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Detail, e.Err)
	}
	return "malformed response: " + e.Detail
}

func (e *MalformedError) Unwrap() error { return e.Err }

// RemoteFailure means the remote service reported the job itself as failed.
type RemoteFailure struct {
	Status  string
	Message string
}

func (e *RemoteFailure) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "no reason given"
	}
	if e.Status == "" {
		return "remote job failed: " + msg
	}
	return fmt.Sprintf("remote job %s: %s", e.Status, msg)
}
