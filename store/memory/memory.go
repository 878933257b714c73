// Package memory provides an in-memory transfer repository for tests and
// local runs. All state sits behind one mutex; WithTx is simulated with a
// snapshot that is restored when the callback fails.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/commodity-ledger/ledger"
	"github.com/warp/commodity-ledger/transfer"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.Mutex
	st *state
}

type seqKey struct {
	Type transfer.Type
	Year int
}

type state struct {
	groupage  map[ledger.GroupageKey]ledger.GroupageEntry
	stock     map[ledger.StoreKey]ledger.StoreEntry
	transfers map[transfer.ID]*transfer.Transfer
	sequences map[seqKey]int64

	actors    map[ledger.ActorID]transfer.Actor
	stores    map[ledger.StoreID]transfer.Store
	campaigns map[ledger.CampaignID]transfer.Campaign
	audit     []transfer.AuditEntry
}

func newState() *state {
	return &state{
		groupage:  make(map[ledger.GroupageKey]ledger.GroupageEntry),
		stock:     make(map[ledger.StoreKey]ledger.StoreEntry),
		transfers: make(map[transfer.ID]*transfer.Transfer),
		sequences: make(map[seqKey]int64),
		actors:    make(map[ledger.ActorID]transfer.Actor),
		stores:    make(map[ledger.StoreID]transfer.Store),
		campaigns: make(map[ledger.CampaignID]transfer.Campaign),
	}
}

func New() *Memory {
	return &Memory{st: newState()}
}

var (
	_ transfer.TxRepository   = (*Memory)(nil)
	_ transfer.ActorLookup    = (*Memory)(nil)
	_ transfer.StoreLookup    = (*Memory)(nil)
	_ transfer.CampaignLookup = (*Memory)(nil)
	_ transfer.AuditRecorder  = (*Memory)(nil)
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn with exclusive access to the store. Writes go straight to
// the live maps; on error the pre-call snapshot is put back.
func (m *Memory) WithTx(ctx context.Context, fn func(transfer.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.groupage {
		c.groupage[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.transfers {
		c.transfers[k] = v.Clone()
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	for k, v := range s.actors {
		c.actors[k] = v
	}
	for k, v := range s.stores {
		c.stores[k] = v
	}
	for k, v := range s.campaigns {
		c.campaigns[k] = v
	}
	c.audit = append(c.audit, s.audit...)
	return c
}

// txView is the Repository handed to WithTx callbacks. The caller already
// holds the lock, so it never locks.
type txView struct {
	st *state
}

func (v *txView) UpsertGroupage(_ context.Context, key ledger.GroupageKey, c ledger.Change) (*ledger.GroupageEntry, error) {
	return v.st.upsertGroupage(key, c), nil
}

func (v *txView) UpsertStock(_ context.Context, key ledger.StoreKey, c ledger.Change) (*ledger.StoreEntry, error) {
	return v.st.upsertStock(key, c), nil
}

func (v *txView) GetGroupage(_ context.Context, key ledger.GroupageKey) (*ledger.GroupageEntry, error) {
	return v.st.getGroupage(key), nil
}

func (v *txView) GetStock(_ context.Context, key ledger.StoreKey) (*ledger.StoreEntry, error) {
	return v.st.getStock(key), nil
}

func (v *txView) ListGroupage(_ context.Context, f ledger.GroupageFilter) ([]ledger.GroupageEntry, error) {
	return v.st.listGroupage(f), nil
}

func (v *txView) ListStock(_ context.Context, f ledger.StockFilter) ([]ledger.StoreEntry, error) {
	return v.st.listStock(f), nil
}

func (v *txView) SaveTransfer(_ context.Context, t *transfer.Transfer) error {
	v.st.transfers[t.ID] = t.Clone()
	return nil
}

func (v *txView) GetTransfer(_ context.Context, id transfer.ID) (*transfer.Transfer, error) {
	return v.st.getTransfer(id), nil
}

func (v *txView) ListTransfers(_ context.Context, f transfer.ListFilter) ([]transfer.Transfer, int, error) {
	items, total := v.st.listTransfers(f)
	return items, total, nil
}

func (v *txView) NextSequence(_ context.Context, t transfer.Type, year int) (int64, error) {
	k := seqKey{Type: t, Year: year}
	v.st.sequences[k]++
	return v.st.sequences[k], nil
}

func (v *txView) CodeExists(_ context.Context, code string) (bool, error) {
	return v.st.codeExists(code), nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) UpsertGroupage(ctx context.Context, key ledger.GroupageKey, c ledger.Change) (*ledger.GroupageEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.upsertGroupage(key, c), nil
}

func (m *Memory) UpsertStock(ctx context.Context, key ledger.StoreKey, c ledger.Change) (*ledger.StoreEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.upsertStock(key, c), nil
}

func (m *Memory) GetGroupage(_ context.Context, key ledger.GroupageKey) (*ledger.GroupageEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getGroupage(key), nil
}

func (m *Memory) GetStock(_ context.Context, key ledger.StoreKey) (*ledger.StoreEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getStock(key), nil
}

func (m *Memory) ListGroupage(_ context.Context, f ledger.GroupageFilter) ([]ledger.GroupageEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listGroupage(f), nil
}

func (m *Memory) ListStock(_ context.Context, f ledger.StockFilter) ([]ledger.StoreEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listStock(f), nil
}

func (s *state) upsertGroupage(key ledger.GroupageKey, c ledger.Change) *ledger.GroupageEntry {
	row, exists := s.groupage[key]
	var current *ledger.Quantity
	if exists {
		current = &row.Total
	}
	next, write := ledger.Resolve(current, c)
	if !write {
		return nil
	}
	now := c.When(timeNow)
	if !exists {
		row = ledger.GroupageEntry{Key: key, CreatedAt: now}
	}
	row.Total = next
	row.UpdatedAt = now
	s.groupage[key] = row
	return &row
}

func (s *state) upsertStock(key ledger.StoreKey, c ledger.Change) *ledger.StoreEntry {
	row, exists := s.stock[key]
	var current *ledger.Quantity
	if exists {
		current = &row.Total
	}
	next, write := ledger.Resolve(current, c)
	if !write {
		return nil
	}
	now := c.When(timeNow)
	if !exists {
		row = ledger.StoreEntry{Key: key, CreatedAt: now}
	}
	row.Total = next
	row.UpdatedAt = now
	s.stock[key] = row
	return &row
}

func (s *state) getGroupage(key ledger.GroupageKey) *ledger.GroupageEntry {
	row, ok := s.groupage[key]
	if !ok {
		return nil
	}
	return &row
}

func (s *state) getStock(key ledger.StoreKey) *ledger.StoreEntry {
	row, ok := s.stock[key]
	if !ok {
		return nil
	}
	return &row
}

func (s *state) listGroupage(f ledger.GroupageFilter) []ledger.GroupageEntry {
	var out []ledger.GroupageEntry
	for _, row := range s.groupage {
		k := row.Key
		if (f.ActorID == "" || f.ActorID == k.ActorID) &&
			(f.OpaID == "" || f.OpaID == k.OpaID) &&
			(f.CampaignID == "" || f.CampaignID == k.CampaignID) &&
			(f.Quality == "" || f.Quality == k.Quality) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.OpaID != b.OpaID {
			return a.OpaID < b.OpaID
		}
		if a.ActorID != b.ActorID {
			return a.ActorID < b.ActorID
		}
		if a.Quality != b.Quality {
			return a.Quality < b.Quality
		}
		return a.ParcelID < b.ParcelID
	})
	return out
}

func (s *state) listStock(f ledger.StockFilter) []ledger.StoreEntry {
	var out []ledger.StoreEntry
	for _, row := range s.stock {
		k := row.Key
		if (f.StoreID == "" || f.StoreID == k.StoreID) &&
			(f.ActorID == "" || f.ActorID == k.ActorID) &&
			(f.CampaignID == "" || f.CampaignID == k.CampaignID) &&
			(f.Quality == "" || f.Quality == k.Quality) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.StoreID != b.StoreID {
			return a.StoreID < b.StoreID
		}
		if a.ActorID != b.ActorID {
			return a.ActorID < b.ActorID
		}
		return a.Quality < b.Quality
	})
	return out
}

// =============================================================================
// TRANSFERS
// =============================================================================

func (m *Memory) SaveTransfer(_ context.Context, t *transfer.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.transfers[t.ID] = t.Clone()
	return nil
}

func (m *Memory) GetTransfer(_ context.Context, id transfer.ID) (*transfer.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getTransfer(id), nil
}

func (m *Memory) ListTransfers(_ context.Context, f transfer.ListFilter) ([]transfer.Transfer, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, total := m.st.listTransfers(f)
	return items, total, nil
}

func (m *Memory) NextSequence(ctx context.Context, t transfer.Type, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{st: m.st}).NextSequence(ctx, t, year)
}

func (m *Memory) CodeExists(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.codeExists(code), nil
}

func (s *state) getTransfer(id transfer.ID) *transfer.Transfer {
	t, ok := s.transfers[id]
	if !ok || t.DeletedAt != nil {
		return nil
	}
	return t.Clone()
}

func (s *state) codeExists(code string) bool {
	for _, t := range s.transfers {
		if t.Code == code {
			return true
		}
	}
	return false
}

func (s *state) listTransfers(f transfer.ListFilter) ([]transfer.Transfer, int) {
	var matched []*transfer.Transfer
	for _, t := range s.transfers {
		if matches(t, f) {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Code > matched[j].Code
	})

	total := len(matched)
	start := min(f.Offset(), total)
	end := min(start+f.Limit, total)
	items := make([]transfer.Transfer, 0, end-start)
	for _, t := range matched[start:end] {
		items = append(items, *t.Clone())
	}
	return items, total
}

func matches(t *transfer.Transfer, f transfer.ListFilter) bool {
	if t.DeletedAt != nil {
		return false
	}
	p := t.Route.Parties()
	from, until := f.DateRange()
	switch {
	case f.Type != "" && t.Type() != f.Type:
		return false
	case f.Status != "" && t.Status != f.Status:
		return false
	case f.SenderActorID != "" && p.SenderActorID != f.SenderActorID:
		return false
	case f.ReceiverActorID != "" && p.ReceiverActorID != f.ReceiverActorID:
		return false
	case f.CampaignID != "" && t.CampaignID != f.CampaignID:
		return false
	case from != nil && t.TransferDate.Before(*from):
		return false
	case until != nil && !t.TransferDate.Before(*until):
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		driver := ""
		if t.Driver != nil {
			driver = t.Driver.Name
		}
		if !strings.Contains(strings.ToLower(t.Code), q) && !strings.Contains(strings.ToLower(driver), q) {
			return false
		}
	}
	return true
}
