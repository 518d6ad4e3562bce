package pipeline

import (
	"errors"
	"fmt"
	"strings"

	errspkg "github.com/drblury/fluxbridge/internal/runtime/errors"
)

// Decision is what the bridge does after a failure of a given kind.
type Decision int

const (
	// Recover logs the failure and moves on to the next payload.
	Recover Decision = iota
	// Terminate halts processing and shuts the bridge down.
	Terminate
)

func (d Decision) String() string {
	if d == Terminate {
		return "terminate"
	}
	return "recover"
}

// ParseDecision converts "recover" or "terminate".
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "recover":
		return Recover, nil
	case "terminate":
		return Terminate, nil
	}
	return Recover, fmt.Errorf("unknown policy action %q", raw)
}

// Policy maps failure kinds to decisions.
type Policy struct {
	decisions map[errspkg.Kind]Decision
}

// NewPolicy builds a policy whose default for every kind follows
// terminateOnError. overrides maps kind names to "recover" or "terminate".
func NewPolicy(terminateOnError bool, overrides map[string]string) (*Policy, error) {
	def := Recover
	if terminateOnError {
		def = Terminate
	}
	p := &Policy{decisions: make(map[errspkg.Kind]Decision, len(errspkg.Kinds()))}
	for _, k := range errspkg.Kinds() {
		p.decisions[k] = def
	}

	var errs []error
	for raw, action := range overrides {
		kind, err := errspkg.ParseKind(strings.ToLower(strings.TrimSpace(raw)))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, configurable := p.decisions[kind]; !configurable {
			errs = append(errs, fmt.Errorf("error kind %q has no policy", kind))
			continue
		}
		d, err := ParseDecision(action)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.decisions[kind] = d
	}
	if len(errs) > 0 {
		return nil, errspkg.NewConfigValidationError(errors.Join(errs...))
	}
	return p, nil
}

// Decide returns the decision for kind. Kinds without a policy, such as
// not_found, always recover.
func (p *Policy) Decide(kind errspkg.Kind) Decision {
	if p == nil {
		return Recover
	}
	return p.decisions[kind]
}

// Snapshot returns the effective decision per kind.
func (p *Policy) Snapshot() map[string]string {
	out := make(map[string]string, len(p.decisions))
	for k, d := range p.decisions {
		out[string(k)] = d.String()
	}
	return out
}
