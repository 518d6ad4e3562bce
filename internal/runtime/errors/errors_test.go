package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrConfigRequired", ErrConfigRequired, "fluxbridge: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "fluxbridge: logger is required"},
		{"ErrSinkRequired", ErrSinkRequired, "fluxbridge: sink is required"},
		{"ErrRuleSetRequired", ErrRuleSetRequired, "fluxbridge: rule set is required"},
		{"ErrTopicRequired", ErrTopicRequired, "fluxbridge: topic is required"},
		{"ErrPublisherRequired", ErrPublisherRequired, "fluxbridge: publisher is required"},
		{"ErrSubscriberRequired", ErrSubscriberRequired, "fluxbridge: subscriber is required"},
		{"ErrPipelineHalted", ErrPipelineHalted, "fluxbridge: pipeline halted by termination policy"},
		{"ErrServiceClosed", ErrServiceClosed, "fluxbridge: service is closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "fluxbridge: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		inner := errors.New("specific error")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}

func TestEvaluationError(t *testing.T) {
	inner := errors.New("division by zero")
	err := &EvaluationError{Rule: "temp_f", Expression: "value / 0", Err: inner}

	want := `rule "temp_f": evaluating "value / 0": division by zero`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should match wrapped error")
	}
}

func TestFailure(t *testing.T) {
	inner := errors.New("connection refused")

	plain := NewFailure(KindWrite, inner)
	if got, want := plain.Error(), "write failure: connection refused"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	withRule := &Failure{Kind: KindEvaluation, Rule: "humidity", Err: inner}
	if got, want := withRule.Error(), `evaluation failure in rule "humidity": connection refused`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(withRule, inner) {
		t.Error("errors.Is should match wrapped error")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("x"), ""},
		{"failure", NewFailure(KindParse, errors.New("bad json")), KindParse},
		{"wrapped failure", fmt.Errorf("outer: %w", NewFailure(KindTransport, errors.New("lost"))), KindTransport},
		{"evaluation", &EvaluationError{Rule: "r", Expression: "e", Err: errors.New("x")}, KindEvaluation},
		{"config", NewConfigValidationError(errors.New("x")), KindConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("disk"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
