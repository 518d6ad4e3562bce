package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/drblury/fluxbridge/internal/runtime/config"
	errspkg "github.com/drblury/fluxbridge/internal/runtime/errors"
)

// Rule is one compiled measurement rule.
type Rule struct {
	Name       string
	Path       *Path
	Expression string
	Tags       map[string]string
}

// RuleSet is the immutable, ordered list of rules applied to every payload.
type RuleSet struct {
	rules []*Rule
	index map[string]int
}

// CompileRules validates every measurement and compiles its path and
// expression. All problems are reported together as a configuration error.
func CompileRules(measurements []config.Measurement, transformer *Transformer) (*RuleSet, error) {
	if transformer == nil {
		transformer = NewTransformer()
	}

	var errs []error
	set := &RuleSet{
		rules: make([]*Rule, 0, len(measurements)),
		index: make(map[string]int, len(measurements)),
	}
	for i, m := range measurements {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("measurements[%d]: name is required", i))
			continue
		}
		if _, dup := set.index[name]; dup {
			errs = append(errs, fmt.Errorf("measurement %q: duplicate name", name))
			continue
		}

		path, err := CompilePath(m.Path)
		if err != nil {
			errs = append(errs, fmt.Errorf("measurement %q: %w", name, err))
			continue
		}
		if strings.TrimSpace(m.Expression) != "" {
			if _, err := transformer.Compile(m.Expression); err != nil {
				errs = append(errs, fmt.Errorf("measurement %q: expression %q: %w", name, m.Expression, err))
				continue
			}
		}

		set.index[name] = len(set.rules)
		set.rules = append(set.rules, &Rule{
			Name:       name,
			Path:       path,
			Expression: m.Expression,
			Tags:       maps.Clone(m.Tags),
		})
	}
	if len(errs) > 0 {
		return nil, errspkg.NewConfigValidationError(errors.Join(errs...))
	}
	return set, nil
}

// Rules returns the rules in configuration order.
func (s *RuleSet) Rules() []*Rule {
	return s.rules
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	return len(s.rules)
}

// Names returns the rule names in configuration order.
func (s *RuleSet) Names() []string {
	names := make([]string, len(s.rules))
	for i, r := range s.rules {
		names[i] = r.Name
	}
	return names
}

// Get looks a rule up by name.
func (s *RuleSet) Get(name string) (*Rule, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.rules[i], true
}
