package aggregation

import (
	"github.com/shopspring/decimal"
)

// Stats is the running state behind every operator for one metric.
// The zero value is an empty window.
type Stats struct {
	Count int64
	Sum   decimal.Decimal
	Min   decimal.Decimal
	Max   decimal.Decimal
}

// Observe folds one sample into s.
func (s *Stats) Observe(v decimal.Decimal) {
	if s.Count == 0 {
		s.Count = 1
		s.Sum, s.Min, s.Max = v, v, v
		return
	}
	s.Count++
	s.Sum = s.Sum.Add(v)
	if v.LessThan(s.Min) {
		s.Min = v
	}
	if v.GreaterThan(s.Max) {
		s.Max = v
	}
}

// Operator reads one statistic out of Stats.
// To add a new operator: implement this interface and register it in Operators.
type Operator interface {
	Value(s Stats) decimal.Decimal
}

// Operators is the registry of all supported statistics.
// Result building is a single map lookup per operator, no switch.
var Operators = map[string]Operator{
	OpAvg:   avgOp{},
	OpMin:   minOp{},
	OpMax:   maxOp{},
	OpSum:   sumOp{},
	OpCount: countOp{},
}

// ValidOperator reports whether op is a registered statistic.
func ValidOperator(op string) bool {
	_, ok := Operators[op]
	return ok
}

// avgDivisionPrecision bounds the digits kept by Sum/Count before rounding.
const avgDivisionPrecision = 16

type avgOp struct{}

func (avgOp) Value(s Stats) decimal.Decimal {
	if s.Count == 0 {
		return decimal.Zero
	}
	return s.Sum.DivRound(decimal.NewFromInt(s.Count), avgDivisionPrecision)
}

type minOp struct{}

func (minOp) Value(s Stats) decimal.Decimal { return s.Min }

type maxOp struct{}

func (maxOp) Value(s Stats) decimal.Decimal { return s.Max }

type sumOp struct{}

func (sumOp) Value(s Stats) decimal.Decimal { return s.Sum }

type countOp struct{}

func (countOp) Value(s Stats) decimal.Decimal { return decimal.NewFromInt(s.Count) }
