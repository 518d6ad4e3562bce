package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/patrickmn/go-cache"

	errspkg "github.com/drblury/fluxbridge/internal/runtime/errors"
)

// ValueIdentifier is the only name bound inside a transform expression.
const ValueIdentifier = "value"

// ErrNonFiniteResult is wrapped by evaluation errors whose result is NaN or
// infinite, which includes division by zero.
var ErrNonFiniteResult = errors.New("expression result is not a finite number")

// Transformer evaluates arithmetic expressions over an extracted value.
// Compiled programs are cached by expression source.
type Transformer struct {
	programs *cache.Cache
}

// NewTransformer returns a Transformer with an empty program cache.
func NewTransformer() *Transformer {
	return &Transformer{programs: cache.New(cache.NoExpiration, 0)}
}

func compileEnv() map[string]any {
	return map[string]any{ValueIdentifier: 0.0}
}

// Compile checks expression and caches the compiled program. Unknown
// identifiers, syntax errors and non-numeric results are rejected.
func (t *Transformer) Compile(expression string) (*vm.Program, error) {
	src := strings.TrimSpace(expression)
	if cached, ok := t.programs.Get(src); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(src, expr.Env(compileEnv()), expr.AsFloat64())
	if err != nil {
		return nil, err
	}
	t.programs.Set(src, program, cache.NoExpiration)
	return program, nil
}

// Transform applies expression to value on behalf of rule. An empty
// expression returns value unchanged.
func (t *Transformer) Transform(rule string, value float64, expression string) (float64, error) {
	if strings.TrimSpace(expression) == "" {
		return value, nil
	}
	evalErr := func(err error) error {
		return &errspkg.EvaluationError{Rule: rule, Expression: expression, Err: err}
	}

	program, err := t.Compile(expression)
	if err != nil {
		return 0, evalErr(err)
	}
	out, err := expr.Run(program, map[string]any{ValueIdentifier: value})
	if err != nil {
		return 0, evalErr(err)
	}
	result, ok := out.(float64)
	if !ok {
		return 0, evalErr(fmt.Errorf("expression returned %T, want number", out))
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, evalErr(ErrNonFiniteResult)
	}
	return result, nil
}

// Cached returns the number of compiled programs held in the cache.
func (t *Transformer) Cached() int {
	return t.programs.ItemCount()
}
