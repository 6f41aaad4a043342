// Package apperr defines the closed set of failure kinds the pipeline distinguishes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Kind tags an error with how the pipeline must react to it.
type Kind string

const (
	// KindStageFailed aborts the run (analyze, optimize, explain).
	KindStageFailed Kind = "stage_failed"
	// KindItemDropped is a single batch item that failed and was left out.
	KindItemDropped Kind = "item_dropped"
	// KindStageFallback is a stage that failed and was replaced by a computed result.
	KindStageFallback Kind = "stage_fallback"
	// KindDataIntegrity is a missing or empty vector for one cell.
	KindDataIntegrity Kind = "data_integrity"
	// KindTruncated is structured output that could not be repaired.
	KindTruncated Kind = "response_truncated"
	// KindMalformed is structured output that parsed but failed validation.
	KindMalformed Kind = "response_malformed"

	KindRateLimited    Kind = "rate_limited"
	KindQuotaExhausted Kind = "quota_exhausted"
	KindUpstream       Kind = "upstream"
	KindTimeout        Kind = "timeout"
	KindCanceled       Kind = "canceled"
	KindInvalidInput   Kind = "invalid_input"
)

// TruncatedMessage is shown to the user when a response could not be recovered.
const TruncatedMessage = "The AI response was cut off. Try again with less content."

// Error is a tagged failure with the operation that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the outermost tagged error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// Retryable reports whether the call may be repeated. Only rate limiting qualifies;
// an exhausted quota will not recover by waiting.
func Retryable(err error) bool {
	return Is(err, KindRateLimited)
}

// FromStatus maps an HTTP status from a provider to a kind.
func FromStatus(op string, status int, err error) error {
	var kind Kind
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusPaymentRequired:
		kind = KindQuotaExhausted
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge:
		kind = KindInvalidInput
	default:
		kind = KindUpstream
	}
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify tags a provider or context error. Already-tagged errors pass through.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Op: op, Message: "the request took too long and was stopped", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Op: op, Message: "the run was canceled", Err: err}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return FromStatus(op, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return FromStatus(op, reqErr.HTTPStatusCode, err)
	}
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

// UserMessage returns the text shown in the pipeline state for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case Is(err, KindTruncated):
		return TruncatedMessage
	case Is(err, KindRateLimited):
		return "The AI service is rate limiting requests. Wait a moment and try again."
	case Is(err, KindQuotaExhausted):
		return "The AI service quota is exhausted. Add credits before trying again."
	}
	return err.Error()
}
