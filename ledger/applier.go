/*
applier.go - Applies product lines to ledger rows

PURPOSE:
  Bridges a transfer's products and the Store. One product line becomes one
  Change per affected row; the Store does the arithmetic atomically.

GROUPAGE:
  Single-sided. Add credits the OPA row, subtract debits it. A subtract on a
  row that was never created is skipped: there is nothing to reverse.

STANDARD:
  Every line moves between two store rows.

    direction=add       sender  -q   receiver +q
    direction=subtract  receiver -q  sender   +q

  The debit side is clamped at zero, so conservation holds only while the
  debited row covers the quantity.

SEE ALSO:
  - store.go: Store contract
  - status.go: which direction a transition applies
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// ApplyGroupage applies every line to the groupage row at base, with the
// line's quality substituted into the key. Touched rows are stamped with at.
func ApplyGroupage(ctx context.Context, st Store, base GroupageKey, lines []ProductLine, dir Direction, at time.Time) error {
	for _, line := range lines {
		q := line.Quantity()
		if q.IsZero() {
			continue
		}
		key := base
		key.Quality = line.Quality
		change := Change{Quantity: q, Direction: dir, Missing: SkipMissing, At: at}
		if _, err := st.UpsertGroupage(ctx, key, change); err != nil {
			return fmt.Errorf("apply groupage %s %s: %w", dir, line.Quality, err)
		}
	}
	return nil
}

// Movement names the two store rows of a STANDARD transfer. Quality is
// taken from each product line.
type Movement struct {
	Sender   StoreKey
	Receiver StoreKey
}

// ApplyMovement moves every line between the sender and receiver rows.
// missing governs debits of rows that do not exist yet.
func ApplyMovement(ctx context.Context, st Store, mv Movement, lines []ProductLine, dir Direction, missing MissingRowPolicy, at time.Time) error {
	from, to := mv.Sender, mv.Receiver
	if dir == DirectionSubtract {
		from, to = to, from
	}

	for _, line := range lines {
		q := line.Quantity()
		if q.IsZero() {
			continue
		}
		debit, credit := from, to
		debit.Quality = line.Quality
		credit.Quality = line.Quality

		if _, err := st.UpsertStock(ctx, debit, Change{Quantity: q, Direction: DirectionSubtract, Missing: missing, At: at}); err != nil {
			return fmt.Errorf("debit store %s %s: %w", debit.StoreID, line.Quality, err)
		}
		if _, err := st.UpsertStock(ctx, credit, Change{Quantity: q, Direction: DirectionAdd, Missing: missing, At: at}); err != nil {
			return fmt.Errorf("credit store %s %s: %w", credit.StoreID, line.Quality, err)
		}
	}
	return nil
}
