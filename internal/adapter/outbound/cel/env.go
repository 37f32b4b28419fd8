package cel

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/toolward/toolward/internal/domain/policy"
)

// NewPolicyEnvironment creates a CEL environment for rule conditions.
// Available variables:
//   - tool (string): the tool name
//   - args (map<string, dyn>): the validated argument mapping
//   - risk (string): the tool's risk level (LOW, MEDIUM, HIGH, CRITICAL)
//   - mutates (bool): the catalog's mutates flag
//   - request_time (timestamp): when the call was proposed
//
// Custom functions:
//   - glob(pattern, name): filepath-style glob match
//   - path_within(path, root): true when path is root or inside it
func NewPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("tool", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("risk", cel.StringType),
		cel.Variable("mutates", cel.BoolType),
		cel.Variable("request_time", cel.TimestampType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, _ := pattern.Value().(string)
					n, _ := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// path_within: prefix containment on cleaned paths, with a path
		// separator boundary so "/tmpfoo" is not within "/tmp".
		cel.Function("path_within",
			cel.Overload("path_within_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pathVal, rootVal ref.Val) ref.Val {
					p, _ := pathVal.Value().(string)
					root, _ := rootVal.Value().(string)
					return types.Bool(PathWithin(p, root))
				}),
			),
		),
	)
}

// requestTimeIdent matches the request_time identifier on word boundaries.
// A condition can only observe the clock by naming the variable, so a
// literal scan is a sound dependency check; a hit inside a string literal
// only costs cache effectiveness, never correctness.
var requestTimeIdent = regexp.MustCompile(`\brequest_time\b`)

// ReferencesRequestTime reports whether a condition reads the request_time
// variable. Such conditions produce clock-dependent decisions that must not
// be served from a cache.
func ReferencesRequestTime(expr string) bool {
	return requestTimeIdent.MatchString(expr)
}

// PathWithin reports whether path equals root or lives under it.
func PathWithin(path, root string) bool {
	if path == "" || root == "" {
		return false
	}
	p := filepath.Clean(path)
	r := filepath.Clean(root)
	if p == r {
		return true
	}
	return strings.HasPrefix(p, r+string(filepath.Separator))
}

// BuildActivation maps a policy input to the CEL variable bindings.
func BuildActivation(in policy.Input) map[string]any {
	args := in.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"tool":         in.Tool,
		"args":         args,
		"risk":         in.Risk,
		"mutates":      in.Mutates,
		"request_time": in.RequestTime,
	}
}
