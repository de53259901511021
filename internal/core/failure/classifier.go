package failure

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

// Classification is the verdict for a single failed remote call.
type Classification struct {
	Class      Class
	Retryable  bool
	StatusCode int
	RetryAfter time.Duration
	Detail     string
}

func newClassification(c Class, detail string) Classification {
	return Classification{Class: c, Retryable: c.Retryable(), Detail: detail}
}

// Classify maps an error returned by a remote call onto the failure taxonomy.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	detail := err.Error()

	if errors.Is(err, context.Canceled) {
		return newClassification(ClassCancelled, detail)
	}
	if errors.Is(err, ErrMissingCredential) {
		return newClassification(ClassAuth, detail)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		c := ClassifyStatus(statusErr.StatusCode)
		c.RetryAfter = statusErr.RetryAfter
		c.Detail = detail
		return c
	}

	var remoteErr *RemoteFailure
	if errors.As(err, &remoteErr) {
		return newClassification(ClassJobFailed, detail)
	}

	var malformed *MalformedError
	if errors.As(err, &malformed) {
		return newClassification(ClassMalformed, detail)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return newClassification(ClassTimeout, detail)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newClassification(ClassTimeout, detail)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return newClassification(ClassTransientNetwork, detail)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return newClassification(ClassTransientNetwork, detail)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return newClassification(ClassTransientNetwork, detail)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return newClassification(ClassTransientNetwork, detail)
	}

	return newClassification(ClassUnknown, detail)
}

// ClassifyStatus maps a non-2xx HTTP status code onto the failure taxonomy.
func ClassifyStatus(code int) Classification {
	var c Class
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		c = ClassAuth
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		c = ClassTimeout
	case code == http.StatusTooManyRequests || code >= 500:
		c = ClassTransientServer
	default:
		c = ClassUnknown
	}
	cl := newClassification(c, http.StatusText(code))
	cl.StatusCode = code
	return cl
}
