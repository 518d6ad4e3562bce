package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired     = sterrors.New("fluxbridge: configuration is required")
	ErrLoggerRequired     = sterrors.New("fluxbridge: logger is required")
	ErrSinkRequired       = sterrors.New("fluxbridge: sink is required")
	ErrRuleSetRequired    = sterrors.New("fluxbridge: rule set is required")
	ErrTopicRequired      = sterrors.New("fluxbridge: topic is required")
	ErrPublisherRequired  = sterrors.New("fluxbridge: publisher is required")
	ErrSubscriberRequired = sterrors.New("fluxbridge: subscriber is required")
	ErrPipelineHalted     = sterrors.New("fluxbridge: pipeline halted by termination policy")
	ErrServiceClosed      = sterrors.New("fluxbridge: service is closed")
)

// Kind classifies failures so the termination policy can decide per kind.
type Kind string

const (
	KindConfig     Kind = "config"
	KindParse      Kind = "parse"
	KindNotFound   Kind = "not_found"
	KindEvaluation Kind = "evaluation"
	KindWrite      Kind = "write"
	KindTransport  Kind = "transport"
)

// Kinds lists the failure kinds the termination policy can be configured for.
func Kinds() []Kind {
	return []Kind{KindParse, KindEvaluation, KindWrite, KindTransport}
}

// ParseKind converts a configuration string into a Kind.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(raw); k {
	case KindConfig, KindParse, KindNotFound, KindEvaluation, KindWrite, KindTransport:
		return k, nil
	}
	return "", fmt.Errorf("unknown error kind %q", raw)
}

// ConfigValidationError marks load-time configuration problems. They are
// always fatal.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "fluxbridge: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// EvaluationError reports a transform expression that could not produce a
// finite number for a rule.
type EvaluationError struct {
	Rule       string
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule %q: evaluating %q: %v", e.Rule, e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Failure is a payload level (or transport level) failure tagged with its kind.
type Failure struct {
	Kind Kind
	Rule string
	Err  error
}

func (f *Failure) Error() string {
	if f.Rule != "" {
		return fmt.Sprintf("%s failure in rule %q: %v", f.Kind, f.Rule, f.Err)
	}
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure wraps err as a Failure of the given kind.
func NewFailure(kind Kind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// KindOf returns the Kind carried by err, or "" when err is not classified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var failure *Failure
	if sterrors.As(err, &failure) {
		return failure.Kind
	}
	var evalErr *EvaluationError
	if sterrors.As(err, &evalErr) {
		return KindEvaluation
	}
	var cfgErr ConfigValidationError
	if sterrors.As(err, &cfgErr) {
		return KindConfig
	}
	return ""
}
