package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/commodity-ledger/ledger"
)

func TestQuantity_SubClamped_FieldsIndependently(t *testing.T) {
	// GIVEN: 100kg / 2 bags on the row
	// WHEN: Subtracting 50kg / 5 bags
	// THEN: Weight drops to 50, bags floor at 0

	got := ledger.NewQuantity(100, 2).SubClamped(ledger.NewQuantity(50, 5))

	assert.True(t, got.Weight.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, int64(0), got.Bags)
}

func TestQuantity_Grams_RoundTrip(t *testing.T) {
	q := ledger.NewQuantity(12.3456, 3)

	assert.Equal(t, int64(12346), q.Grams())
	back := ledger.QuantityFromGrams(q.Grams(), q.Bags)
	assert.True(t, back.Weight.Equal(decimal.RequireFromString("12.346")))
}

func TestResolve(t *testing.T) {
	row := ledger.NewQuantity(10, 1)
	delta := ledger.NewQuantity(4, 3)

	next, write := ledger.Resolve(nil, ledger.Change{Quantity: delta, Direction: ledger.DirectionAdd})
	assert.True(t, write)
	assert.True(t, next.Equal(delta))

	_, write = ledger.Resolve(nil, ledger.Change{Quantity: delta, Direction: ledger.DirectionSubtract, Missing: ledger.SkipMissing})
	assert.False(t, write, "subtract on a missing row is skipped")

	next, write = ledger.Resolve(nil, ledger.Change{Quantity: delta, Direction: ledger.DirectionSubtract, Missing: ledger.CreateMissing})
	assert.True(t, write)
	assert.True(t, next.IsZero())

	next, _ = ledger.Resolve(&row, ledger.Change{Quantity: delta, Direction: ledger.DirectionSubtract})
	assert.True(t, next.Equal(ledger.NewQuantity(6, 0)))
}

func TestValidateLines(t *testing.T) {
	tests := []struct {
		name  string
		lines []ledger.ProductLine
		code  string
	}{
		{"empty", nil, ledger.CodeNoProducts},
		{"duplicate", []ledger.ProductLine{line("a", 1, 1), line("a", 2, 2)}, ledger.CodeDuplicateQuality},
		{"negative weight", []ledger.ProductLine{line("a", -1, 1)}, ledger.CodeInvalidQuantity},
		{"negative bags", []ledger.ProductLine{line("a", 1, -1)}, ledger.CodeInvalidQuantity},
		{"both zero", []ledger.ProductLine{line("a", 0, 0)}, ledger.CodeInvalidQuantity},
		{"no quality", []ledger.ProductLine{line("", 1, 1)}, ledger.CodeInvalidQuantity},
		{"sub-gram weight", []ledger.ProductLine{line("a", 500.0005, 1)}, ledger.CodeInvalidQuantity},
		{"sub-gram only", []ledger.ProductLine{line("a", 0.0004, 0)}, ledger.CodeInvalidQuantity},
		{"ok", []ledger.ProductLine{line("a", 0, 3), line("b", 2.5, 0)}, ""},
		{"whole grams", []ledger.ProductLine{line("a", 500.001, 0)}, ""},
		{"trailing zeros", []ledger.ProductLine{{Quality: "a", Weight: decimal.RequireFromString("1.2500"), NumberOfBags: 1}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ledger.ValidateLines(tt.lines)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ledger.ErrValidationFailed)
			assert.Equal(t, tt.code, ledger.CodeOf(err))
		})
	}
}
