package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/commodity-ledger/ledger"
	"github.com/warp/commodity-ledger/transfer"
)

// =============================================================================
// TRANSFERS (transfer.TransferStore interface)
// =============================================================================

const transferColumns = `
	id, code, transfer_type, sender_actor_id, receiver_actor_id,
	sender_store_id, receiver_store_id, parcel_id, campaign_id, transfer_date,
	products_json, status, driver_name, driver_phone, driver_license_plate,
	driver_vehicle_type, created_at, updated_at, deleted_at`

// SaveTransfer inserts the transfer or replaces every mutable column.
func (r *repo) SaveTransfer(ctx context.Context, t *transfer.Transfer) error {
	productsJSON, err := json.Marshal(t.Products)
	if err != nil {
		return fmt.Errorf("failed to encode products: %w", err)
	}
	p := t.Route.Parties()
	var driver transfer.DriverInfo
	if t.Driver != nil {
		driver = *t.Driver
	}

	query := `
		INSERT INTO transfers (` + transferColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sender_actor_id = excluded.sender_actor_id,
			receiver_actor_id = excluded.receiver_actor_id,
			sender_store_id = excluded.sender_store_id,
			receiver_store_id = excluded.receiver_store_id,
			parcel_id = excluded.parcel_id,
			campaign_id = excluded.campaign_id,
			transfer_date = excluded.transfer_date,
			products_json = excluded.products_json,
			status = excluded.status,
			driver_name = excluded.driver_name,
			driver_phone = excluded.driver_phone,
			driver_license_plate = excluded.driver_license_plate,
			driver_vehicle_type = excluded.driver_vehicle_type,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`

	_, err = r.q.ExecContext(ctx, query,
		string(t.ID), t.Code, string(t.Type()),
		string(p.SenderActorID), string(p.ReceiverActorID),
		nullString(string(p.SenderStoreID)), string(p.ReceiverStoreID), nullString(p.ParcelID),
		string(t.CampaignID), formatTime(t.TransferDate),
		string(productsJSON), string(t.Status),
		nullString(driver.Name), nullString(driver.Phone),
		nullString(driver.LicensePlate), nullString(driver.VehicleType),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), nullTime(t.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save transfer %s: %w", t.ID, err)
	}
	return nil
}

// GetTransfer returns nil, nil for unknown and soft-deleted transfers.
func (r *repo) GetTransfer(ctx context.Context, id transfer.ID) (*transfer.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = ? AND deleted_at IS NULL`

	t, err := scanTransfer(r.q.QueryRowContext(ctx, query, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *repo) ListTransfers(ctx context.Context, f transfer.ListFilter) ([]transfer.Transfer, int, error) {
	w := where{conds: []string{"deleted_at IS NULL"}}
	w.eq("transfer_type", string(f.Type))
	w.eq("status", string(f.Status))
	w.eq("sender_actor_id", string(f.SenderActorID))
	w.eq("receiver_actor_id", string(f.ReceiverActorID))
	w.eq("campaign_id", string(f.CampaignID))
	from, until := f.DateRange()
	if from != nil {
		w.add("transfer_date >= ?", formatTime(*from))
	}
	if until != nil {
		w.add("transfer_date < ?", formatTime(*until))
	}
	if f.Search != "" {
		pattern := "%" + strings.ToLower(f.Search) + "%"
		w.add("(LOWER(code) LIKE ? OR LOWER(COALESCE(driver_name, '')) LIKE ?)", pattern, pattern)
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM transfers`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transfers: %w", err)
	}

	query := `SELECT ` + transferColumns + ` FROM transfers` + w.String() +
		` ORDER BY created_at DESC, code DESC LIMIT ? OFFSET ?`
	rows, err := r.q.QueryContext(ctx, query, append(w.args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var items []transfer.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *t)
	}
	return items, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row scanner) (*transfer.Transfer, error) {
	var t transfer.Transfer
	var typ, status, productsJSON, transferDate, createdAt, updatedAt string
	var p transfer.Parties
	var senderStore, parcel, deletedAt sql.NullString
	var dName, dPhone, dPlate, dVehicle sql.NullString

	err := row.Scan(
		&t.ID, &t.Code, &typ, &p.SenderActorID, &p.ReceiverActorID,
		&senderStore, &p.ReceiverStoreID, &parcel, &t.CampaignID, &transferDate,
		&productsJSON, &status, &dName, &dPhone, &dPlate,
		&dVehicle, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	p.SenderStoreID = ledger.StoreID(senderStore.String)
	p.ParcelID = parcel.String
	route, err := transfer.NewRoute(transfer.Type(typ), p)
	if err != nil {
		return nil, fmt.Errorf("transfer %s has an invalid route: %w", t.ID, err)
	}
	t.Route = route

	if err := json.Unmarshal([]byte(productsJSON), &t.Products); err != nil {
		return nil, fmt.Errorf("transfer %s has invalid products: %w", t.ID, err)
	}
	t.Status = ledger.Status(status)
	t.TransferDate = parseTime(transferDate)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if deletedAt.Valid {
		at := parseTime(deletedAt.String)
		t.DeletedAt = &at
	}
	if dName.Valid || dPhone.Valid || dPlate.Valid || dVehicle.Valid {
		t.Driver = &transfer.DriverInfo{
			Name:         dName.String,
			Phone:        dPhone.String,
			LicensePlate: dPlate.String,
			VehicleType:  dVehicle.String,
		}
	}
	return &t, nil
}

// =============================================================================
// CODE SEQUENCES (transfer.SequenceStore interface)
// =============================================================================

func (r *repo) NextSequence(ctx context.Context, t transfer.Type, year int) (int64, error) {
	query := `
		INSERT INTO code_sequences (transfer_type, year, last_value) VALUES (?, ?, 1)
		ON CONFLICT (transfer_type, year) DO UPDATE SET last_value = last_value + 1
		RETURNING last_value
	`
	var n int64
	if err := r.q.QueryRowContext(ctx, query, string(t), year).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to advance %s sequence: %w", t, err)
	}
	return n, nil
}

// CodeExists includes soft-deleted transfers: codes are never reused.
func (r *repo) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM transfers WHERE code = ?)`, code).Scan(&exists)
	return exists, err
}

// SetSequence moves the counter for (t, year), e.g. after importing codes
// from another system.
func (s *Store) SetSequence(ctx context.Context, t transfer.Type, year int, value int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO code_sequences (transfer_type, year, last_value) VALUES (?, ?, ?)
		ON CONFLICT (transfer_type, year) DO UPDATE SET last_value = excluded.last_value
	`, string(t), year, value)
	return err
}
