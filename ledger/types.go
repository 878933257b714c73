/*
Package ledger provides the quantity ledger reconciliation engine.

PURPOSE:
  Keeps running inventory aggregates (weight + bag count per quality)
  consistent while transfers are created, validated, cancelled and edited.
  The package knows nothing about HTTP, SQL or who the actors are; it owns
  the key spaces, the arithmetic and the rules.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity: weight (kg, decimal) + number of bags
  - ProductLine: one quality line of a transfer
  - GroupageKey / StoreKey: the two independent ledger key spaces
  - Change: a signed delta plus what to do when the row is missing

TWO TOPOLOGIES:
  GROUPAGE  single-sided intake credited to an OPA; no debit side
            key: (actor, campaign, opa, quality[, parcel])
  STANDARD  double-entry move between two tracked stores
            key: (store, actor, campaign, quality)

ROW LIFECYCLE:
  Rows are created lazily on the first credit and are never deleted.
  A zero row is a legitimate terminal state, distinct from "never existed".

SEE ALSO:
  - delta.go:   old/new product breakdown -> signed deltas
  - applier.go: applies deltas to rows through Store
  - status.go:  status transition policy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ActorID string
type StoreID string
type CampaignID string

// Quality is a commodity grade key (e.g. "grade_1"), the finest ledger dimension.
type Quality string

// =============================================================================
// QUANTITY - weight + bags, tracked independently
// =============================================================================

// gramScale is the number of decimal places a weight may carry (whole grams).
// ValidateLines rejects anything finer, so persisting as grams is exact.
const gramScale = 3

type Quantity struct {
	Weight decimal.Decimal // kilograms
	Bags   int64
}

func NewQuantity(weightKg float64, bags int64) Quantity {
	return Quantity{Weight: decimal.NewFromFloat(weightKg), Bags: bags}
}

// QuantityFromGrams rebuilds a quantity from its persisted integer form.
func QuantityFromGrams(grams, bags int64) Quantity {
	return Quantity{Weight: decimal.New(grams, -gramScale), Bags: bags}
}

// Grams returns the weight as integer grams. Weights that passed
// ValidateLines convert exactly; finer ones round half away from zero.
func (q Quantity) Grams() int64 {
	return q.Weight.Shift(gramScale).Round(0).IntPart()
}

func (q Quantity) Add(o Quantity) Quantity {
	return Quantity{Weight: q.Weight.Add(o.Weight), Bags: q.Bags + o.Bags}
}

// SubClamped subtracts o from q, flooring each field at zero independently.
func (q Quantity) SubClamped(o Quantity) Quantity {
	w := q.Weight.Sub(o.Weight)
	if w.IsNegative() {
		w = decimal.Zero
	}
	b := q.Bags - o.Bags
	if b < 0 {
		b = 0
	}
	return Quantity{Weight: w, Bags: b}
}

func (q Quantity) IsZero() bool     { return q.Weight.IsZero() && q.Bags == 0 }
func (q Quantity) IsNegative() bool { return q.Weight.IsNegative() || q.Bags < 0 }

func (q Quantity) Equal(o Quantity) bool {
	return q.Weight.Equal(o.Weight) && q.Bags == o.Bags
}

// =============================================================================
// PRODUCT LINE - one quality of a transfer's composition
// =============================================================================

type ProductLine struct {
	Quality      Quality         `json:"quality"`
	Weight       decimal.Decimal `json:"weight"`
	NumberOfBags int64           `json:"numberOfBags"`
}

func (p ProductLine) Quantity() Quantity {
	return Quantity{Weight: p.Weight, Bags: p.NumberOfBags}
}

// ValidateLines checks a product breakdown: non-empty, one line per quality,
// non-negative measures, weights in whole grams and no line that is zero on
// both measures.
func ValidateLines(lines []ProductLine) error {
	if len(lines) == 0 {
		return NewError(ErrValidationFailed, CodeNoProducts, "at least one product line is required")
	}
	seen := make(map[Quality]bool, len(lines))
	for _, line := range lines {
		if line.Quality == "" {
			return NewError(ErrValidationFailed, CodeInvalidQuantity, "product quality is required")
		}
		if seen[line.Quality] {
			return NewError(ErrValidationFailed, CodeDuplicateQuality, "quality %q appears more than once", line.Quality)
		}
		seen[line.Quality] = true

		q := line.Quantity()
		if q.IsNegative() {
			return NewError(ErrValidationFailed, CodeInvalidQuantity, "quality %q has a negative weight or bag count", line.Quality)
		}
		if !line.Weight.Equal(line.Weight.Truncate(gramScale)) {
			return NewError(ErrValidationFailed, CodeInvalidQuantity, "quality %q weight %s is finer than a gram", line.Quality, line.Weight)
		}
		if q.IsZero() {
			return NewError(ErrValidationFailed, CodeInvalidQuantity, "quality %q has neither weight nor bags", line.Quality)
		}
	}
	return nil
}

// =============================================================================
// KEY SPACES
// =============================================================================

// GroupageKey identifies intake credited to an OPA from a sending actor.
// ParcelID is optional; the empty string is a valid key component.
type GroupageKey struct {
	ActorID    ActorID
	CampaignID CampaignID
	OpaID      ActorID
	Quality    Quality
	ParcelID   string
}

// StoreKey identifies the stock of one actor in one store.
type StoreKey struct {
	StoreID    StoreID
	ActorID    ActorID
	CampaignID CampaignID
	Quality    Quality
}

type GroupageEntry struct {
	Key       GroupageKey
	Total     Quantity
	CreatedAt time.Time
	UpdatedAt time.Time
}

type StoreEntry struct {
	Key       StoreKey
	Total     Quantity
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// CHANGE - a signed delta against one row
// =============================================================================

type Direction string

const (
	DirectionAdd      Direction = "add"
	DirectionSubtract Direction = "subtract"
)

// MissingRowPolicy decides what a subtract does when the row does not exist.
// Adds always create the row.
type MissingRowPolicy int

const (
	SkipMissing   MissingRowPolicy = iota // no-op, nothing is written
	CreateMissing                         // materialise the row at zero
)

type Change struct {
	Quantity  Quantity // non-negative magnitude
	Direction Direction
	Missing   MissingRowPolicy
	// At stamps the row's updated_at (and created_at on insert).
	At time.Time
}

// When returns c.At, or now() when the caller left it unset.
func (c Change) When(now func() time.Time) time.Time {
	if c.At.IsZero() {
		return now()
	}
	return c.At
}

// Resolve computes the row total after applying c to current (nil when the
// row is absent). write is false when nothing must be persisted.
// Store implementations that cannot push this into a single statement use it
// directly so every backend agrees on the arithmetic.
func Resolve(current *Quantity, c Change) (next Quantity, write bool) {
	if current == nil {
		switch {
		case c.Direction == DirectionAdd:
			return c.Quantity, true
		case c.Missing == CreateMissing:
			return Quantity{Weight: decimal.Zero}, true
		default:
			return Quantity{}, false
		}
	}
	if c.Direction == DirectionAdd {
		return current.Add(c.Quantity), true
	}
	return current.SubClamped(c.Quantity), true
}
