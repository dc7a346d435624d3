package sync

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/avdotin/fitplan/internal/client/planapi"
)

// ErrorKind buckets a transport failure for handling policy.
type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindStaleData     ErrorKind = "stale_data"
	KindValidation    ErrorKind = "validation"
	KindAuthRequired  ErrorKind = "auth_required"
	KindServerError   ErrorKind = "server_error"
	KindRateLimited   ErrorKind = "rate_limited"
	KindNetworkError  ErrorKind = "network_error"
	KindDecodingError ErrorKind = "decoding_error"
	KindUnknown       ErrorKind = "unknown"
)

// Operation distinguishes call sites whose 404 means different things.
type Operation string

const (
	OpFetch       Operation = "fetch"
	OpAcknowledge Operation = "acknowledge"
	OpUpdate      Operation = "update"
)

// Classification is the handling decision for one failure. Not persisted.
type Classification struct {
	Kind              ErrorKind
	UserMessage       string
	Retryable         bool
	SecuritySensitive bool
}

// Classify maps a failure from the plan API to its handling policy.
// The mapping is state independent; the engine applies the consequences.
func Classify(op Operation, err error) Classification {
	var se *planapi.StatusError
	if errors.As(err, &se) {
		return classifyStatus(op, se)
	}

	var de *planapi.DecodeError
	if errors.As(err, &de) {
		return Classification{
			Kind:        KindDecodingError,
			UserMessage: "Unable to process the server response.",
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || isNetworkErr(err) {
		return Classification{
			Kind:        KindNetworkError,
			UserMessage: "No connection. Check your network and try again.",
			Retryable:   true,
		}
	}

	return Classification{
		Kind:        KindUnknown,
		UserMessage: err.Error(),
	}
}

func classifyStatus(op Operation, se *planapi.StatusError) Classification {
	switch {
	case se.Code == http.StatusNotFound && op == OpAcknowledge:
		return Classification{
			Kind:        KindStaleData,
			UserMessage: "The plan was updated. Refresh and try again.",
		}
	case se.Code == http.StatusNotFound:
		return Classification{
			Kind:        KindNotFound,
			UserMessage: "Your plan is being calculated. Check back shortly.",
		}
	case se.Code == http.StatusBadRequest:
		msg := se.Message
		if msg == "" {
			msg = "The request was rejected. Check your input."
		}
		return Classification{Kind: KindValidation, UserMessage: msg}
	case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
		return Classification{
			Kind:              KindAuthRequired,
			UserMessage:       "Authentication required. Please sign in again.",
			SecuritySensitive: true,
		}
	case se.Code == http.StatusTooManyRequests:
		return Classification{
			Kind:        KindRateLimited,
			UserMessage: "Too many requests. Please wait a moment.",
			Retryable:   true,
		}
	case se.Code >= 500:
		msg := se.Message
		if msg == "" {
			msg = "The server had a problem. Please try again."
		}
		return Classification{Kind: KindServerError, UserMessage: msg, Retryable: true}
	default:
		return Classification{Kind: KindUnknown, UserMessage: se.Error()}
	}
}

func isNetworkErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
