package memory

import (
	"context"
	"time"

	"github.com/warp/commodity-ledger/ledger"
	"github.com/warp/commodity-ledger/transfer"
)

var timeNow = func() time.Time { return time.Now().UTC() }

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (m *Memory) SaveActor(_ context.Context, a transfer.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.actors[a.ID] = a
	return nil
}

func (m *Memory) SaveStore(_ context.Context, s transfer.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.CampaignIDs = append([]ledger.CampaignID(nil), s.CampaignIDs...)
	m.st.stores[s.ID] = s
	return nil
}

// SaveCampaign upserts c. Activating a campaign deactivates all others.
func (m *Memory) SaveCampaign(_ context.Context, c transfer.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Active {
		for id, other := range m.st.campaigns {
			other.Active = false
			m.st.campaigns[id] = other
		}
	}
	m.st.campaigns[c.ID] = c
	return nil
}

func (m *Memory) FindActor(_ context.Context, id ledger.ActorID) (*transfer.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.st.actors[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) FindStore(_ context.Context, id ledger.StoreID) (*transfer.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.stores[id]
	if !ok {
		return nil, nil
	}
	s.CampaignIDs = append([]ledger.CampaignID(nil), s.CampaignIDs...)
	return &s, nil
}

func (m *Memory) ActiveCampaign(_ context.Context) (*transfer.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.st.campaigns {
		if c.Active {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) FindCampaign(_ context.Context, id ledger.CampaignID) (*transfer.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.st.campaigns[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (m *Memory) LogAction(_ context.Context, e transfer.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.audit = append(m.st.audit, e)
	return nil
}

// AuditTrail returns the entries of one record, oldest first.
func (m *Memory) AuditTrail(_ context.Context, auditableType, auditableID string) ([]transfer.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []transfer.AuditEntry
	for _, e := range m.st.audit {
		if e.AuditableType == auditableType && e.AuditableID == auditableID {
			out = append(out, e)
		}
	}
	return out, nil
}
