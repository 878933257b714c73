package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/commodity-ledger/logger"
)

// DefaultCodeAttempts bounds code generation when no limit is configured.
const DefaultCodeAttempts = 5

var ErrCodeExhausted = errors.New("no free transfer code")

// FormatCode renders codes such as GRP-2025-00001.
func FormatCode(t Type, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%05d", t.CodePrefix(), year, seq)
}

// CodeGenerator hands out human-readable codes unique per type and year.
// Each attempt draws a fresh counter value; a value that collides with an
// existing code (imported data, manual edits) is skipped.
type CodeGenerator struct {
	MaxAttempts int
}

func (g CodeGenerator) Generate(ctx context.Context, seq SequenceStore, t Type, year int) (string, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultCodeAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		n, err := seq.NextSequence(ctx, t, year)
		if err != nil {
			return "", fmt.Errorf("next %s sequence: %w", t, err)
		}
		code := FormatCode(t, year, n)

		taken, err := seq.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code %s: %w", code, err)
		}
		if !taken {
			return code, nil
		}
		logger.FromContext(ctx).Warn("transfer code collision", "code", code, "attempt", attempt)
	}
	return "", fmt.Errorf("%w for %s %d after %d attempts", ErrCodeExhausted, t, year, attempts)
}
