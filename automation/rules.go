package automation

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anchorid/anchorid-go/internal/logging"
)

// Sentinels used to carry boolean outcomes through errgroup so combinators
// can stop early.
var (
	errSubRuleFalse = errors.New("sub-rule false")
	errSubRuleTrue  = errors.New("sub-rule true")
)

// Data carries the sources a rule tree evaluates against.
type Data struct {
	UserData map[string]any
	Metadata map[string]any
	Scope    *ScopeContext
}

// Evaluator walks rule trees. Malformed rules degrade to false with a log
// line; evaluation never fails.
type Evaluator struct {
	log *logging.Logger
}

// NewEvaluator creates a rule evaluator.
func NewEvaluator(log *logging.Logger) *Evaluator {
	if log == nil {
		log = logging.NewNop()
	}
	return &Evaluator{log: log}
}

// Evaluate returns the boolean result of the rule tree against the data.
// AND sub-rules run concurrently and stop on the first false; OR returns as
// soon as the first true result is observed.
func (e *Evaluator) Evaluate(ctx context.Context, rule Rule, d Data) bool {
	if rule.IsLeaf() {
		return e.evalLeaf(ctx, rule, d)
	}

	switch rule.Operator {
	case OpAnd:
		g, gctx := errgroup.WithContext(ctx)
		for _, sub := range rule.Rules {
			sub := sub
			g.Go(func() error {
				if !e.Evaluate(gctx, sub, d) {
					return errSubRuleFalse
				}
				return nil
			})
		}
		return g.Wait() == nil
	case OpOr:
		g, gctx := errgroup.WithContext(ctx)
		for _, sub := range rule.Rules {
			sub := sub
			g.Go(func() error {
				if e.Evaluate(gctx, sub, d) {
					return errSubRuleTrue
				}
				return nil
			})
		}
		return errors.Is(g.Wait(), errSubRuleTrue)
	default:
		e.log.Warn("unrecognized rule operator", zap.String("operator", string(rule.Operator)))
		return false
	}
}

func (e *Evaluator) evalLeaf(ctx context.Context, rule Rule, d Data) bool {
	switch rule.EntityType {
	case EntityMetadata:
		return e.evalAttribute(rule, d.Metadata)
	case EntityUserData:
		return e.evalAttribute(rule, d.UserData)
	case EntityScope:
		if d.Scope == nil {
			e.log.Debug("scope rule without UI snapshot", zap.String("attribute", rule.Attribute))
			return false
		}
		return d.Scope.Evaluate(ctx, rule, e.log)
	default:
		e.log.Warn("unrecognized entity type", zap.String("entity_type", string(rule.EntityType)))
		return false
	}
}

// evalAttribute applies the leaf condition against a key-value source.
// Absent attributes make everything false except NotExists.
func (e *Evaluator) evalAttribute(rule Rule, source map[string]any) bool {
	raw, present := source[rule.Attribute]

	switch rule.Condition {
	case CondExists:
		return present
	case CondNotExists:
		return !present
	}
	if !present {
		return false
	}

	have := Stringify(raw)
	want := Stringify(rule.Value)

	switch rule.Condition {
	case CondEquals:
		return have == want
	case CondNotEquals:
		return have != want
	case CondContains:
		return strings.Contains(have, want)
	case CondNotContains:
		return !strings.Contains(have, want)
	case CondIn:
		// Observed upstream behavior: the rule value is the haystack and
		// the data value the needle, reversed from set-membership
		// semantics. Preserved as-is; see DESIGN.md.
		return strings.Contains(want, have)
	case CondNotIn:
		return !strings.Contains(want, have)
	case CondGreaterThan:
		return compareInts(have, want, func(a, b int) bool { return a > b })
	case CondGreaterThanEqual:
		return compareInts(have, want, func(a, b int) bool { return a >= b })
	case CondLessThan:
		return compareInts(have, want, func(a, b int) bool { return a < b })
	case CondLessThanEqual:
		return compareInts(have, want, func(a, b int) bool { return a <= b })
	default:
		e.log.Warn("unrecognized condition", zap.String("condition", string(rule.Condition)))
		return false
	}
}

// compareInts evaluates an ordered comparison on integer-parseable values;
// anything non-parseable makes the condition false.
func compareInts(have, want string, cmp func(a, b int) bool) bool {
	a, err := strconv.Atoi(strings.TrimSpace(have))
	if err != nil {
		return false
	}
	b, err := strconv.Atoi(strings.TrimSpace(want))
	if err != nil {
		return false
	}
	return cmp(a, b)
}

// Stringify renders a semi-structured value in the string form rules compare
// against.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		data, err := sonic.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
