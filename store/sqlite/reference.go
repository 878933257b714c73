package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/commodity-ledger/ledger"
	"github.com/warp/commodity-ledger/transfer"
)

// =============================================================================
// ACTORS
// =============================================================================

func (s *Store) SaveActor(ctx context.Context, a transfer.Actor) error {
	query := `
		INSERT INTO actors (id, name, actor_type, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			actor_type = excluded.actor_type,
			status = excluded.status,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, string(a.ID), a.Name, string(a.Type), string(a.Status), formatTime(time.Now()))
	return err
}

func (s *Store) FindActor(ctx context.Context, id ledger.ActorID) (*transfer.Actor, error) {
	var a transfer.Actor
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, actor_type, status FROM actors WHERE id = ?`, string(id),
	).Scan(&a.ID, &a.Name, &a.Type, &a.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// STORES
// =============================================================================

// SaveStore upserts the store and replaces its campaign associations.
func (s *Store) SaveStore(ctx context.Context, st transfer.Store) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO stores (id, name, actor_id, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			actor_id = excluded.actor_id,
			updated_at = excluded.updated_at
	`, string(st.ID), st.Name, nullString(string(st.ActorID)), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save store: %w", err)
	}

	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM store_campaigns WHERE store_id = ?`, string(st.ID)); err != nil {
		return err
	}
	for _, c := range st.CampaignIDs {
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT OR IGNORE INTO store_campaigns (store_id, campaign_id) VALUES (?, ?)`,
			string(st.ID), string(c),
		); err != nil {
			return fmt.Errorf("failed to link store to campaign %s: %w", c, err)
		}
	}
	return sqlTx.Commit()
}

func (s *Store) FindStore(ctx context.Context, id ledger.StoreID) (*transfer.Store, error) {
	var st transfer.Store
	var actorID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, actor_id FROM stores WHERE id = ?`, string(id),
	).Scan(&st.ID, &st.Name, &actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.ActorID = ledger.ActorID(actorID.String)

	rows, err := s.db.QueryContext(ctx,
		`SELECT campaign_id FROM store_campaigns WHERE store_id = ? ORDER BY campaign_id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c ledger.CampaignID
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		st.CampaignIDs = append(st.CampaignIDs, c)
	}
	return &st, rows.Err()
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

// SaveCampaign upserts c. Activating a campaign deactivates all others.
func (s *Store) SaveCampaign(ctx context.Context, c transfer.Campaign) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	if c.Active {
		if _, err := sqlTx.ExecContext(ctx, `UPDATE campaigns SET is_active = 0 WHERE id != ?`, string(c.ID)); err != nil {
			return err
		}
	}
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, start_date, end_date, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, string(c.ID), c.Name, nullDate(c.StartDate), nullDate(c.EndDate), c.Active, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save campaign: %w", err)
	}
	return sqlTx.Commit()
}

func (s *Store) ActiveCampaign(ctx context.Context) (*transfer.Campaign, error) {
	return s.queryCampaign(ctx, `WHERE is_active = 1 ORDER BY start_date DESC LIMIT 1`)
}

func (s *Store) FindCampaign(ctx context.Context, id ledger.CampaignID) (*transfer.Campaign, error) {
	return s.queryCampaign(ctx, `WHERE id = ?`, string(id))
}

func (s *Store) queryCampaign(ctx context.Context, tail string, args ...any) (*transfer.Campaign, error) {
	var c transfer.Campaign
	var start, end sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, start_date, end_date, is_active FROM campaigns `+tail, args...,
	).Scan(&c.ID, &c.Name, &start, &end, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if start.Valid {
		c.StartDate, _ = time.Parse(time.DateOnly, start.String)
	}
	if end.Valid {
		c.EndDate, _ = time.Parse(time.DateOnly, end.String)
	}
	return &c, nil
}

func nullDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.DateOnly), Valid: true}
}

// =============================================================================
// AUDIT (transfer.AuditRecorder interface)
// =============================================================================

func (s *Store) LogAction(ctx context.Context, e transfer.AuditEntry) error {
	oldJSON, err := marshalValues(e.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalValues(e.NewValues)
	if err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, auditable_type, auditable_id, action, user_id, user_role,
			old_values_json, new_values_json, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.AuditableType, e.AuditableID, e.Action, nullString(e.UserID), nullString(e.UserRole),
		oldJSON, newJSON, nullString(e.IPAddress), nullString(e.UserAgent), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// AuditTrail returns the entries of one record, oldest first.
func (s *Store) AuditTrail(ctx context.Context, auditableType, auditableID string) ([]transfer.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, auditable_type, auditable_id, action, user_id, user_role,
			old_values_json, new_values_json, ip_address, user_agent, created_at
		FROM audit_logs WHERE auditable_type = ? AND auditable_id = ?
		ORDER BY created_at, rowid
	`, auditableType, auditableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transfer.AuditEntry
	for rows.Next() {
		var e transfer.AuditEntry
		var userID, userRole, oldJSON, newJSON, ip, ua sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.AuditableType, &e.AuditableID, &e.Action, &userID, &userRole,
			&oldJSON, &newJSON, &ip, &ua, &createdAt); err != nil {
			return nil, err
		}
		e.UserID, e.UserRole, e.IPAddress, e.UserAgent = userID.String, userRole.String, ip.String, ua.String
		if oldJSON.Valid {
			_ = json.Unmarshal([]byte(oldJSON.String), &e.OldValues)
		}
		if newJSON.Valid {
			_ = json.Unmarshal([]byte(newJSON.String), &e.NewValues)
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalValues(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode audit values: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
