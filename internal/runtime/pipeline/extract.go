package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/oliveagle/jsonpath"
	"github.com/spf13/cast"
)

// special matches the bracket steps evaluated outside jsonpath: quoted keys,
// which may contain dots, and [from:to] slices with exclusive end bounds.
var special = regexp.MustCompile(`\[\s*(?:'([^']*)'|"([^"]*)"|(-?\d*)\s*:\s*(-?\d*))\s*\]`)

// Path is a compiled JSONPath expression.
type Path struct {
	raw   string
	steps []step
	multi bool
}

// step maps one node to the nodes it selects, in document order.
type step interface {
	eval(node any) []any
}

// lookupStep runs a sub-path through jsonpath.
type lookupStep struct {
	compiled *jsonpath.Compiled
	multi    bool
}

func (s lookupStep) eval(node any) []any {
	out, err := s.compiled.Lookup(node)
	if err != nil {
		return nil
	}
	if s.multi {
		matches, _ := out.([]any)
		return matches
	}
	return []any{out}
}

type keyStep string

func (s keyStep) eval(node any) []any {
	obj, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	v, ok := obj[string(s)]
	if !ok {
		return nil
	}
	return []any{v}
}

// sliceStep selects items [from, to) of an array. Negative bounds count from
// the end and out-of-range bounds are clamped.
type sliceStep struct {
	from, to *int
}

func (s sliceStep) eval(node any) []any {
	items, ok := node.([]any)
	if !ok {
		return nil
	}
	n := len(items)
	bound := func(b *int, def int) int {
		if b == nil {
			return def
		}
		v := *b
		if v < 0 {
			v += n
		}
		return min(max(v, 0), n)
	}
	lo, hi := bound(s.from, 0), bound(s.to, n)
	if lo >= hi {
		return nil
	}
	return items[lo:hi]
}

// CompilePath validates and compiles a JSONPath expression rooted at "$".
func CompilePath(raw string) (*Path, error) {
	expr := strings.TrimSpace(raw)
	if !strings.HasPrefix(expr, "$") {
		return nil, fmt.Errorf("path %q must start with '$'", raw)
	}

	p := &Path{raw: raw}
	addLookup := func(sub string) error {
		if sub == "" {
			return nil
		}
		compiled, err := jsonpath.Compile("$" + sub)
		if err != nil {
			return fmt.Errorf("path %q: %w", raw, err)
		}
		multi := isMultiMatch(sub)
		p.steps = append(p.steps, lookupStep{compiled: compiled, multi: multi})
		p.multi = p.multi || multi
		return nil
	}

	rest := expr[1:]
	for {
		loc := special.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		if err := addLookup(rest[:loc[0]]); err != nil {
			return nil, err
		}
		group := func(i int) (string, bool) {
			if loc[2*i] < 0 {
				return "", false
			}
			return rest[loc[2*i]:loc[2*i+1]], true
		}
		if key, ok := group(1); ok {
			p.steps = append(p.steps, keyStep(key))
		} else if key, ok := group(2); ok {
			p.steps = append(p.steps, keyStep(key))
		} else {
			from, _ := group(3)
			to, _ := group(4)
			st, err := newSliceStep(from, to)
			if err != nil {
				return nil, fmt.Errorf("path %q: %w", raw, err)
			}
			p.steps = append(p.steps, st)
			p.multi = true
		}
		rest = rest[loc[1]:]
	}
	if err := addLookup(rest); err != nil {
		return nil, err
	}
	return p, nil
}

func newSliceStep(from, to string) (sliceStep, error) {
	var st sliceStep
	for _, b := range []struct {
		raw string
		dst **int
	}{{from, &st.from}, {to, &st.to}} {
		if b.raw == "" {
			continue
		}
		v, err := strconv.Atoi(b.raw)
		if err != nil {
			return sliceStep{}, fmt.Errorf("invalid slice bound %q", b.raw)
		}
		*b.dst = &v
	}
	return st, nil
}

// MustCompilePath is CompilePath that panics on error.
func MustCompilePath(raw string) *Path {
	p, err := CompilePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Path) String() string { return p.raw }

// MultiMatch reports whether the path can select more than one node.
func (p *Path) MultiMatch() bool { return p.multi }

func isMultiMatch(expr string) bool {
	return strings.Contains(expr, "*") ||
		strings.Contains(expr, "?(") ||
		strings.ContainsAny(bracketContents(expr), ":,")
}

func bracketContents(expr string) string {
	var b strings.Builder
	depth := 0
	for _, r := range expr {
		switch {
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case depth > 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Extract evaluates path against a decoded JSON document and returns the
// numeric value of the selected node. The second result is false when the
// path matches nothing or the node is not numeric. When the path can match
// several nodes the first match in document order is used.
func Extract(document any, path *Path) (float64, bool) {
	if path == nil {
		return 0, false
	}
	nodes := []any{document}
	for _, st := range path.steps {
		var next []any
		for _, n := range nodes {
			next = append(next, st.eval(n)...)
		}
		if len(next) == 0 {
			return 0, false
		}
		nodes = next
	}
	return numeric(nodes[0])
}

// numeric accepts JSON numbers and strings holding a number. Booleans, null,
// objects and arrays are never coerced.
func numeric(node any) (float64, bool) {
	var (
		v   float64
		err error
	)
	switch n := node.(type) {
	case float64:
		v = n
	case float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		v, err = cast.ToFloat64E(n)
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		v, err = cast.ToFloat64E(s)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
