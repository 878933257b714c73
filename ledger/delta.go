/*
delta.go - Product breakdown diff for edits of an applied transfer

PURPOSE:
  When the products of a validated transfer change, the ledger is moved by
  the difference only. Diff turns (old, new) breakdowns into two lists of
  non-negative magnitudes: what to add and what to subtract.

MATCHING:
  Lines are matched by quality.
    only in new   -> full quantity to ToAdd
    only in old   -> full quantity to ToSubtract
    in both       -> per-calculator rule below
  Output order is new-list order for additions, then old-list order for
  removals.

COUPLED vs INDEPENDENT:
  CoupledDeltas lets one measure's sign pick the bucket for both:
    w 100->120, bags 10->8  =>  ToAdd {20kg, 2 bags}
  IndependentDeltas signs each measure on its own:
    w 100->120, bags 10->8  =>  ToAdd {20kg, 0}, ToSubtract {0, 2 bags}
  Coupled is the default; see DeltaCalculatorFor.
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Delta struct {
	ToAdd      []ProductLine
	ToSubtract []ProductLine
}

func (d Delta) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToSubtract) == 0
}

// DeltaCalculator compares two product breakdowns of the same transfer.
type DeltaCalculator interface {
	Diff(old, new []ProductLine) Delta
}

const (
	DeltaModeCoupled     = "coupled"
	DeltaModeIndependent = "independent"
)

// DeltaCalculatorFor resolves a configured mode name. Empty means coupled.
func DeltaCalculatorFor(mode string) (DeltaCalculator, error) {
	switch mode {
	case "", DeltaModeCoupled:
		return CoupledDeltas{}, nil
	case DeltaModeIndependent:
		return IndependentDeltas{}, nil
	}
	return nil, fmt.Errorf("unknown delta mode %q", mode)
}

// =============================================================================
// COUPLED
// =============================================================================

type CoupledDeltas struct{}

func (CoupledDeltas) Diff(old, new []ProductLine) Delta {
	return diff(old, new, func(q Quality, dw decimal.Decimal, db int64) (add, sub *ProductLine) {
		line := &ProductLine{Quality: q, Weight: dw.Abs(), NumberOfBags: abs(db)}
		switch {
		case dw.IsPositive() || db > 0:
			return line, nil
		case dw.IsNegative() || db < 0:
			return nil, line
		}
		return nil, nil
	})
}

// =============================================================================
// INDEPENDENT
// =============================================================================

type IndependentDeltas struct{}

func (IndependentDeltas) Diff(old, new []ProductLine) Delta {
	return diff(old, new, func(q Quality, dw decimal.Decimal, db int64) (add, sub *ProductLine) {
		up := ProductLine{Quality: q, Weight: decimal.Max(dw, decimal.Zero), NumberOfBags: max(db, 0)}
		down := ProductLine{Quality: q, Weight: decimal.Max(dw.Neg(), decimal.Zero), NumberOfBags: max(-db, 0)}
		if !up.Quantity().IsZero() {
			add = &up
		}
		if !down.Quantity().IsZero() {
			sub = &down
		}
		return add, sub
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// splitFunc decides where the change of one shared quality goes.
type splitFunc func(q Quality, dw decimal.Decimal, db int64) (add, sub *ProductLine)

func diff(old, new []ProductLine, split splitFunc) Delta {
	before := make(map[Quality]ProductLine, len(old))
	for _, line := range old {
		before[line.Quality] = line
	}
	// nil value: quality kept but nothing to subtract.
	shrunk := make(map[Quality]*ProductLine, len(new))

	var d Delta
	for _, n := range new {
		o, ok := before[n.Quality]
		if !ok {
			d.ToAdd = append(d.ToAdd, n)
			continue
		}
		add, sub := split(n.Quality, n.Weight.Sub(o.Weight), n.NumberOfBags-o.NumberOfBags)
		if add != nil {
			d.ToAdd = append(d.ToAdd, *add)
		}
		shrunk[n.Quality] = sub
	}

	for _, o := range old {
		sub, kept := shrunk[o.Quality]
		switch {
		case !kept:
			d.ToSubtract = append(d.ToSubtract, o)
		case sub != nil:
			d.ToSubtract = append(d.ToSubtract, *sub)
		}
	}
	return d
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
