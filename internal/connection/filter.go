package connection

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/flojobs/internal/store"
)

// JobFilter wraps a compiled CEL program evaluated against job summaries.
// The expression sees:
//
//	id, state, queue, job_type, method  string
//	created_ms, fetched_ms, now_ms      int (fetched_ms is 0 when not in flight)
//	in_flight                           bool
//	params                              map(string, string)
//
// job_type is the invocation Type; a plain "type" would shadow the CEL
// builtin.
//
// An empty expression matches everything.
type JobFilter struct {
	prog    cel.Program
	enabled bool
}

// NewJobFilter compiles expr. Compile errors wrap store.ErrInvalidArgument.
func NewJobFilter(expr string) (JobFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return JobFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("queue", cel.StringType),
		cel.Variable("job_type", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("created_ms", cel.IntType),
		cel.Variable("fetched_ms", cel.IntType),
		cel.Variable("in_flight", cel.BoolType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return JobFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return JobFilter{}, store.InvalidArgument("filter", iss.Err().Error())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return JobFilter{}, store.InvalidArgument("filter", "expression must evaluate to a bool")
	}
	prog, err := env.Program(ast)
	if err != nil {
		return JobFilter{}, store.InvalidArgument("filter", err.Error())
	}
	return JobFilter{prog: prog, enabled: true}, nil
}

// Match evaluates the filter. Evaluation errors, such as a missing map
// key, count as no match.
func (f JobFilter) Match(j JobSummary, now time.Time) bool {
	if !f.enabled {
		return true
	}
	params := j.Parameters
	if params == nil {
		params = map[string]string{}
	}
	var fetched int64
	if !j.FetchedAt.IsZero() {
		fetched = j.FetchedAt.UnixMilli()
	}
	var created int64
	if !j.CreatedAt.IsZero() {
		created = j.CreatedAt.UnixMilli()
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":         j.ID,
		"state":      j.State,
		"queue":      j.Queue,
		"job_type":   j.Type,
		"method":     j.Method,
		"created_ms": created,
		"fetched_ms": fetched,
		"in_flight":  j.InFlight,
		"params":     params,
		"now_ms":     now.UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
