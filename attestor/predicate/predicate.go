// Package predicate decides whether an observed fact satisfies an action's condition.
package predicate

import (
	"fmt"

	errorsmod "cosmossdk.io/errors"

	"github.com/gurufinglobal/attestor/attestor/types"
)

type Comparison string

const (
	GreaterThan        Comparison = "gt"
	GreaterThanOrEqual Comparison = "gte"
	LessThan           Comparison = "lt"
	LessThanOrEqual    Comparison = "lte"
)

func ParseComparison(s string) (Comparison, error) {
	switch c := Comparison(s); c {
	case GreaterThan, GreaterThanOrEqual, LessThan, LessThanOrEqual:
		return c, nil
	default:
		return "", errorsmod.Wrapf(types.ErrConfiguration, "unknown comparison %q", s)
	}
}

// Rule is the single threshold comparison owned by one ActionType.
type Rule struct {
	Threshold  float64
	Comparison Comparison
	Unit       string
}

func (r Rule) holds(value float64) bool {
	switch r.Comparison {
	case GreaterThan:
		return value > r.Threshold
	case GreaterThanOrEqual:
		return value >= r.Threshold
	case LessThan:
		return value < r.Threshold
	case LessThanOrEqual:
		return value <= r.Threshold
	default:
		return false
	}
}

func (r Rule) String() string {
	return fmt.Sprintf("value %s %g %s", r.Comparison, r.Threshold, r.Unit)
}

// Evaluator is immutable after construction and safe for concurrent use.
type Evaluator struct {
	rules map[types.ActionType]Rule
}

func NewEvaluator(rules map[types.ActionType]Rule) (*Evaluator, error) {
	copied := make(map[types.ActionType]Rule, len(rules))
	for action, rule := range rules {
		if _, err := ParseComparison(string(rule.Comparison)); err != nil {
			return nil, errorsmod.Wrapf(err, "action %s", action.Hex())
		}
		copied[action] = rule
	}
	return &Evaluator{rules: copied}, nil
}

// Evaluate applies the action's rule. An unknown action is a configuration error, never false.
func (e *Evaluator) Evaluate(action types.ActionType, value float64) (bool, error) {
	rule, ok := e.rules[action]
	if !ok {
		return false, errorsmod.Wrapf(types.ErrConfiguration, "no predicate rule for action %s", action.Hex())
	}
	return rule.holds(value), nil
}
