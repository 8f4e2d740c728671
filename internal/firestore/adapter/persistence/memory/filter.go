package memory

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"rxfirestore/internal/firestore/domain/model"

	"github.com/google/cel-go/cel"
)

// filterCompiler turns query filters into CEL programs evaluated against a
// document's fields. The filter value is bound to the variable "v" so that
// one program serves every value for the same field and operator.
type filterCompiler struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newFilterCompiler() (*filterCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("v", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &filterCompiler{env: env, programs: make(map[string]cel.Program)}, nil
}

// fieldExpr renders a dotted field path as nested CEL index expressions.
func fieldExpr(field string) (string, error) {
	fp, err := model.NewFieldPath(field)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("doc")
	for _, segment := range fp.Segments() {
		b.WriteString("[")
		b.WriteString(strconv.Quote(segment))
		b.WriteString("]")
	}
	return b.String(), nil
}

func filterExpr(f model.Filter) (string, error) {
	field, err := fieldExpr(f.Field)
	if err != nil {
		return "", err
	}
	switch f.Operator {
	case model.OperatorEqual, model.OperatorNotEqual,
		model.OperatorLessThan, model.OperatorLessThanOrEqual,
		model.OperatorGreaterThan, model.OperatorGreaterThanOrEqual:
		return field + " " + f.Operator + " v", nil
	case model.OperatorArrayContains:
		return "v in " + field, nil
	case model.OperatorArrayContainsAny:
		return field + ".exists(x, x in v)", nil
	case model.OperatorIn:
		return field + " in v", nil
	case model.OperatorNotIn:
		return "!(" + field + " in v)", nil
	default:
		return "", fmt.Errorf("unsupported operator %q", f.Operator)
	}
}

func (c *filterCompiler) program(f model.Filter) (cel.Program, error) {
	expr, err := filterExpr(f)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	prg, ok := c.programs[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	prg, err = c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	c.mu.Lock()
	c.programs[expr] = prg
	c.mu.Unlock()
	return prg, nil
}

// matcher evaluates all filters of a query against document data.
type matcher struct {
	programs []cel.Program
	values   []any
}

func (c *filterCompiler) compile(filters []model.Filter) (*matcher, error) {
	m := &matcher{}
	for _, f := range filters {
		prg, err := c.program(f)
		if err != nil {
			return nil, err
		}
		m.programs = append(m.programs, prg)
		m.values = append(m.values, f.Value)
	}
	return m, nil
}

// matches reports whether data satisfies every filter. A missing field or
// a comparison between incompatible types does not match.
func (m *matcher) matches(data map[string]any) bool {
	for i, prg := range m.programs {
		out, _, err := prg.Eval(map[string]any{"doc": data, "v": m.values[i]})
		if err != nil {
			return false
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			return false
		}
	}
	return true
}
