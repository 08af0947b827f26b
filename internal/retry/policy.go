// Package retry decides whether and when a failed step attempt runs again.
package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go-lookflow/internal/domain"
)

const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultAttemptTimeout = 2 * time.Minute
)

// Classifier maps a handler error to a failure kind.
type Classifier func(err error) domain.ErrorKind

// Policy is the retry configuration of one registered step.
type Policy struct {
	MaxAttempts    int
	Backoff        Backoff
	Classifier     Classifier
	AttemptTimeout time.Duration
}

// DefaultPolicy returns 3 attempts, 1s..30s exponential backoff with jitter,
// and the default classifier.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		Backoff:        NewExponentialJitter(DefaultBaseDelay, DefaultMaxDelay),
		Classifier:     DefaultClassifier,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = d.Backoff
	}
	if p.Classifier == nil {
		p.Classifier = d.Classifier
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

// Outcome converts an attempt error into the step status to record.
// A retryable error on the last allowed attempt becomes failed_terminal.
func (p Policy) Outcome(attempt int, err error) (domain.StepStatus, domain.ErrorKind) {
	if err == nil {
		return domain.StepSucceeded, domain.KindNone
	}
	kind := p.Classifier(err)
	switch kind {
	case domain.KindRetryable, domain.KindStoreConsistency:
		if attempt >= p.MaxAttempts {
			return domain.StepFailedTerminal, domain.KindRetriesExhausted
		}
		return domain.StepFailedRetryable, domain.KindRetryable
	default:
		return domain.StepFailedTerminal, kind
	}
}

type statusCoder interface {
	StatusCode() int
}

// DefaultClassifier treats 4xx (except 429) and explicit rejections as
// terminal; timeouts, 429, 5xx and unrecognised errors are retryable.
func DefaultClassifier(err error) domain.ErrorKind {
	var (
		fatal     *domain.FatalInputError
		terminal  *domain.TerminalError
		retryable *domain.RetryableError
		conflict  *domain.StoreConsistencyError
		coded     statusCoder
	)
	switch {
	case errors.As(err, &fatal):
		return domain.KindFatalInput
	case errors.As(err, &conflict):
		return domain.KindStoreConsistency
	case errors.As(err, &terminal):
		return domain.KindTerminal
	case errors.As(err, &retryable):
		return domain.KindRetryable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrLimiterTimeout):
		return domain.KindRetryable
	case errors.As(err, &coded):
		return classifyStatus(coded.StatusCode())
	default:
		return domain.KindRetryable
	}
}

func classifyStatus(code int) domain.ErrorKind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return domain.KindRetryable
	case code >= 500:
		return domain.KindRetryable
	case code >= 400:
		return domain.KindTerminal
	default:
		return domain.KindRetryable
	}
}
