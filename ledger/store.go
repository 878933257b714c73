package ledger

import "context"

// Store persists ledger rows. Implementations must apply a Change as one
// atomic step: the increment, the zero clamp and lazy row creation happen
// together or not at all, never as a read followed by a write.
type Store interface {
	// UpsertGroupage applies c to the row at key. It returns the row after
	// the change, or nil when a subtract hit a missing row under SkipMissing.
	UpsertGroupage(ctx context.Context, key GroupageKey, c Change) (*GroupageEntry, error)

	// UpsertStock is the store-ledger counterpart of UpsertGroupage.
	UpsertStock(ctx context.Context, key StoreKey, c Change) (*StoreEntry, error)

	// GetGroupage returns nil, nil when the row was never created.
	GetGroupage(ctx context.Context, key GroupageKey) (*GroupageEntry, error)
	GetStock(ctx context.Context, key StoreKey) (*StoreEntry, error)

	ListGroupage(ctx context.Context, f GroupageFilter) ([]GroupageEntry, error)
	ListStock(ctx context.Context, f StockFilter) ([]StoreEntry, error)
}

// GroupageFilter narrows ListGroupage. Zero fields match everything.
type GroupageFilter struct {
	ActorID    ActorID
	OpaID      ActorID
	CampaignID CampaignID
	Quality    Quality
}

// StockFilter narrows ListStock. Zero fields match everything.
type StockFilter struct {
	StoreID    StoreID
	ActorID    ActorID
	CampaignID CampaignID
	Quality    Quality
}
