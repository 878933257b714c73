package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/commodity-ledger/ledger"
)

// =============================================================================
// LEDGER ROWS (ledger.Store interface)
// =============================================================================

// ledgerTable describes one of the two aggregate tables by its key columns.
type ledgerTable struct {
	name string
	keys []string
}

var (
	groupageTable = ledgerTable{
		name: "groupage_ledger",
		keys: []string{"actor_id", "campaign_id", "opa_id", "quality", "parcel_id"},
	}
	stockTable = ledgerTable{
		name: "store_ledger",
		keys: []string{"store_id", "actor_id", "campaign_id", "quality"},
	}
)

func groupageArgs(k ledger.GroupageKey) []any {
	return []any{string(k.ActorID), string(k.CampaignID), string(k.OpaID), string(k.Quality), k.ParcelID}
}

func stockArgs(k ledger.StoreKey) []any {
	return []any{string(k.StoreID), string(k.ActorID), string(k.CampaignID), string(k.Quality)}
}

type ledgerRow struct {
	total     ledger.Quantity
	createdAt time.Time
	updatedAt time.Time
}

func (r *repo) UpsertGroupage(ctx context.Context, key ledger.GroupageKey, c ledger.Change) (*ledger.GroupageEntry, error) {
	row, err := r.apply(ctx, groupageTable, groupageArgs(key), c)
	if err != nil || row == nil {
		return nil, err
	}
	return &ledger.GroupageEntry{Key: key, Total: row.total, CreatedAt: row.createdAt, UpdatedAt: row.updatedAt}, nil
}

func (r *repo) UpsertStock(ctx context.Context, key ledger.StoreKey, c ledger.Change) (*ledger.StoreEntry, error) {
	row, err := r.apply(ctx, stockTable, stockArgs(key), c)
	if err != nil || row == nil {
		return nil, err
	}
	return &ledger.StoreEntry{Key: key, Total: row.total, CreatedAt: row.createdAt, UpdatedAt: row.updatedAt}, nil
}

// apply performs c against one row in a single statement:
//
//	add                     INSERT ... ON CONFLICT: total + delta
//	subtract, CreateMissing INSERT zero row ... ON CONFLICT: MAX(0, total - delta)
//	subtract, SkipMissing   UPDATE ... MAX(0, total - delta); no row -> nil
func (r *repo) apply(ctx context.Context, t ledgerTable, keyArgs []any, c ledger.Change) (*ledgerRow, error) {
	grams, bags := c.Quantity.Grams(), c.Quantity.Bags
	now := formatTime(c.When(time.Now))
	returning := " RETURNING total_weight_g, total_bags, created_at, updated_at"

	var query string
	var args []any
	switch {
	case c.Direction == ledger.DirectionAdd:
		query = insertSQL(t) + `
			ON CONFLICT (` + strings.Join(t.keys, ", ") + `) DO UPDATE SET
				total_weight_g = total_weight_g + excluded.total_weight_g,
				total_bags = total_bags + excluded.total_bags,
				updated_at = excluded.updated_at` + returning
		args = append(append(args, keyArgs...), grams, bags, now, now)

	case c.Missing == ledger.CreateMissing:
		query = insertSQL(t) + `
			ON CONFLICT (` + strings.Join(t.keys, ", ") + `) DO UPDATE SET
				total_weight_g = MAX(0, total_weight_g - ?),
				total_bags = MAX(0, total_bags - ?),
				updated_at = excluded.updated_at` + returning
		args = append(append(args, keyArgs...), 0, 0, now, now, grams, bags)

	default:
		query = `UPDATE ` + t.name + ` SET
				total_weight_g = MAX(0, total_weight_g - ?),
				total_bags = MAX(0, total_bags - ?),
				updated_at = ?
			WHERE ` + keyMatch(t) + returning
		args = append([]any{grams, bags, now}, keyArgs...)
	}

	var row ledgerRow
	var weight, totalBags int64
	var createdAt, updatedAt string
	err := r.q.QueryRowContext(ctx, query, args...).Scan(&weight, &totalBags, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s row: %w", c.Direction, t.name, err)
	}
	row.total = ledger.QuantityFromGrams(weight, totalBags)
	row.createdAt = parseTime(createdAt)
	row.updatedAt = parseTime(updatedAt)
	return &row, nil
}

func insertSQL(t ledgerTable) string {
	cols := append(append([]string{}, t.keys...), "total_weight_g", "total_bags", "created_at", "updated_at")
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return `INSERT INTO ` + t.name + ` (` + strings.Join(cols, ", ") + `) VALUES (` + marks + `)`
}

func keyMatch(t ledgerTable) string {
	conds := make([]string, len(t.keys))
	for i, k := range t.keys {
		conds[i] = k + " = ?"
	}
	return strings.Join(conds, " AND ")
}

func (r *repo) GetGroupage(ctx context.Context, key ledger.GroupageKey) (*ledger.GroupageEntry, error) {
	entries, err := r.queryGroupage(ctx, `WHERE `+keyMatch(groupageTable), groupageArgs(key)...)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (r *repo) GetStock(ctx context.Context, key ledger.StoreKey) (*ledger.StoreEntry, error) {
	entries, err := r.queryStock(ctx, `WHERE `+keyMatch(stockTable), stockArgs(key)...)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (r *repo) ListGroupage(ctx context.Context, f ledger.GroupageFilter) ([]ledger.GroupageEntry, error) {
	var w where
	w.eq("actor_id", string(f.ActorID))
	w.eq("opa_id", string(f.OpaID))
	w.eq("campaign_id", string(f.CampaignID))
	w.eq("quality", string(f.Quality))
	return r.queryGroupage(ctx, w.String()+` ORDER BY opa_id, actor_id, quality, parcel_id`, w.args...)
}

func (r *repo) ListStock(ctx context.Context, f ledger.StockFilter) ([]ledger.StoreEntry, error) {
	var w where
	w.eq("store_id", string(f.StoreID))
	w.eq("actor_id", string(f.ActorID))
	w.eq("campaign_id", string(f.CampaignID))
	w.eq("quality", string(f.Quality))
	return r.queryStock(ctx, w.String()+` ORDER BY store_id, actor_id, quality`, w.args...)
}

func (r *repo) queryGroupage(ctx context.Context, tail string, args ...any) ([]ledger.GroupageEntry, error) {
	query := `
		SELECT actor_id, campaign_id, opa_id, quality, parcel_id,
			total_weight_g, total_bags, created_at, updated_at
		FROM groupage_ledger ` + tail

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query groupage ledger: %w", err)
	}
	defer rows.Close()

	var out []ledger.GroupageEntry
	for rows.Next() {
		var e ledger.GroupageEntry
		var grams int64
		var createdAt, updatedAt string
		if err := rows.Scan(&e.Key.ActorID, &e.Key.CampaignID, &e.Key.OpaID, &e.Key.Quality, &e.Key.ParcelID,
			&grams, &e.Total.Bags, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.Total = ledger.QuantityFromGrams(grams, e.Total.Bags)
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repo) queryStock(ctx context.Context, tail string, args ...any) ([]ledger.StoreEntry, error) {
	query := `
		SELECT store_id, actor_id, campaign_id, quality,
			total_weight_g, total_bags, created_at, updated_at
		FROM store_ledger ` + tail

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query store ledger: %w", err)
	}
	defer rows.Close()

	var out []ledger.StoreEntry
	for rows.Next() {
		var e ledger.StoreEntry
		var grams int64
		var createdAt, updatedAt string
		if err := rows.Scan(&e.Key.StoreID, &e.Key.ActorID, &e.Key.CampaignID, &e.Key.Quality,
			&grams, &e.Total.Bags, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.Total = ledger.QuantityFromGrams(grams, e.Total.Bags)
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
