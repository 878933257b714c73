package transfer

import (
	"context"
	"slices"
	"time"

	"github.com/warp/commodity-ledger/ledger"
)

// =============================================================================
// REFERENCE DATA - owned elsewhere, read through lookups
// =============================================================================

type ActorType string

const (
	ActorTypeProducer    ActorType = "producer"
	ActorTypeOPA         ActorType = "opa"
	ActorTypeBuyer       ActorType = "buyer"
	ActorTypeExporter    ActorType = "exporter"
	ActorTypeTransformer ActorType = "transformer"
)

type ActorStatus string

const (
	ActorActive   ActorStatus = "active"
	ActorInactive ActorStatus = "inactive"
)

type Actor struct {
	ID     ledger.ActorID
	Name   string
	Type   ActorType
	Status ActorStatus
}

func (a Actor) IsActive() bool { return a.Status == ActorActive }

type Store struct {
	ID          ledger.StoreID
	Name        string
	ActorID     ledger.ActorID
	CampaignIDs []ledger.CampaignID
}

func (s Store) InCampaign(id ledger.CampaignID) bool {
	return slices.Contains(s.CampaignIDs, id)
}

type Campaign struct {
	ID        ledger.CampaignID
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Active    bool
}

// Lookups return nil, nil when the record does not exist.

type ActorLookup interface {
	FindActor(ctx context.Context, id ledger.ActorID) (*Actor, error)
}

type StoreLookup interface {
	FindStore(ctx context.Context, id ledger.StoreID) (*Store, error)
}

type CampaignLookup interface {
	ActiveCampaign(ctx context.Context) (*Campaign, error)
	FindCampaign(ctx context.Context, id ledger.CampaignID) (*Campaign, error)
}

// =============================================================================
// AUDIT
// =============================================================================

const AuditableTransfer = "product_transfer"

const (
	ActionCreate       = "create"
	ActionUpdate       = "update"
	ActionStatusChange = "status_change"
	ActionDelete       = "delete"
)

type AuditEntry struct {
	ID            string
	AuditableType string
	AuditableID   string
	Action        string
	UserID        string
	UserRole      string
	OldValues     map[string]any
	NewValues     map[string]any
	IPAddress     string
	UserAgent     string
	CreatedAt     time.Time
}

// AuditRecorder persists audit entries. Its errors never fail an operation.
type AuditRecorder interface {
	LogAction(ctx context.Context, entry AuditEntry) error
}

// AuditReader reads back what an AuditRecorder wrote, oldest first.
type AuditReader interface {
	AuditTrail(ctx context.Context, auditableType, auditableID string) ([]AuditEntry, error)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// TransferStore persists transfer records.
type TransferStore interface {
	// SaveTransfer inserts or replaces the record with t.ID.
	SaveTransfer(ctx context.Context, t *Transfer) error
	// GetTransfer returns nil, nil for unknown or soft-deleted transfers.
	GetTransfer(ctx context.Context, id ID) (*Transfer, error)
	// ListTransfers returns one page of non-deleted transfers and the
	// total matching count. f is already normalized.
	ListTransfers(ctx context.Context, f ListFilter) ([]Transfer, int, error)
}

// SequenceStore backs code generation.
type SequenceStore interface {
	// NextSequence atomically increments and returns the counter for
	// (t, year). The first call returns 1.
	NextSequence(ctx context.Context, t Type, year int) (int64, error)
	CodeExists(ctx context.Context, code string) (bool, error)
}

// Repository is everything one unit of work may touch.
type Repository interface {
	ledger.Store
	TransferStore
	SequenceStore
}

// TxRepository runs fn inside a single transaction. The Repository given
// to fn is bound to that transaction; any error rolls everything back.
type TxRepository interface {
	Repository
	WithTx(ctx context.Context, fn func(Repository) error) error
}
