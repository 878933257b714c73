/*
service.go - Transfer lifecycle orchestration

PURPOSE:
  Every mutating operation is one unit of work: lookups and validation
  first, then a single WithTx that re-reads the transfer, writes the record
  and applies the ledger effect. Audit entries are written after commit and
  their failures are only logged.

OPERATION FLOW:

  lookups + validation ──▶ WithTx { reload, status check,
                                     ledger effect, save } ──▶ audit

LEDGER EFFECTS:
  Create(validated)         add path
  UpdateStatus              per ledger.Transition
  Update(validated, prods)  delta path: only the difference is applied
  Update(pending)           none
  Delete                    none (validated transfers cannot be deleted)

MISSING ROWS:
  The status path materialises missing STANDARD store rows at zero when it
  debits them; the delta path and every GROUPAGE subtract skip them.

SEE ALSO:
  - edit.go: editability rules
  - ledger/applier.go: how lines become row changes
*/
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/commodity-ledger/ledger"
	"github.com/warp/commodity-ledger/logger"
)

// =============================================================================
// SERVICE
// =============================================================================

// Deps are the collaborators a Service cannot work without.
type Deps struct {
	Repo      TxRepository
	Actors    ActorLookup
	Stores    StoreLookup
	Campaigns CampaignLookup
	Audit     AuditRecorder
	// Trail is optional; without it History reports no entries.
	Trail AuditReader
}

type Service struct {
	repo      TxRepository
	actors    ActorLookup
	stores    StoreLookup
	campaigns CampaignLookup
	audit     AuditRecorder
	trail     AuditReader

	deltas ledger.DeltaCalculator
	codes  CodeGenerator
	now    func() time.Time
	newID  func() string
}

type Option func(*Service)

func WithDeltaCalculator(c ledger.DeltaCalculator) Option {
	return func(s *Service) { s.deltas = c }
}

func WithCodeAttempts(n int) Option {
	return func(s *Service) { s.codes.MaxAttempts = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(d Deps, opts ...Option) *Service {
	s := &Service{
		repo:      d.Repo,
		actors:    d.Actors,
		stores:    d.Stores,
		campaigns: d.Campaigns,
		audit:     d.Audit,
		trail:     d.Trail,
		deltas:    ledger.CoupledDeltas{},
		codes:     CodeGenerator{MaxAttempts: DefaultCodeAttempts},
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// CREATE
// =============================================================================

func (s *Service) Create(ctx context.Context, in CreateInput, ac AuditContext) (*Transfer, error) {
	t, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(r Repository) error {
		code, err := s.codes.Generate(ctx, r, t.Type(), t.CreatedAt.Year())
		if err != nil {
			return err
		}
		t.Code = code

		if err := r.SaveTransfer(ctx, t); err != nil {
			return fmt.Errorf("save transfer: %w", err)
		}
		if t.Status == ledger.StatusValidated {
			return applyStatusEffect(ctx, r, t, ledger.DirectionAdd, t.CreatedAt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("transfer created",
		"transferId", t.ID, "code", t.Code, "type", t.Type(), "status", t.Status)
	s.record(ctx, ac, t, ActionCreate, nil, snapshot(t))
	return t, nil
}

// prepare validates in and builds the transfer to persist. It runs before
// the unit of work so lookups never hold the write transaction.
func (s *Service) prepare(ctx context.Context, in CreateInput) (*Transfer, error) {
	typ, err := ParseType(string(in.Type))
	if err != nil {
		return nil, err
	}
	route, err := NewRoute(typ, in.Parties)
	if err != nil {
		return nil, err
	}
	if err := ledger.ValidateLines(in.Products); err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = ledger.StatusValidated
	}
	if status != ledger.StatusPending && status != ledger.StatusValidated {
		return nil, ledger.NewError(ledger.ErrValidationFailed, ledger.CodeInvalidStatus,
			"a transfer must be created pending or validated, got %q", status)
	}

	campaignID, err := s.resolveCampaign(ctx, in.CampaignID)
	if err != nil {
		return nil, err
	}
	if err := s.validateRoute(ctx, route, campaignID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	date := in.TransferDate
	if date.IsZero() {
		date = now
	}
	var driver *DriverInfo
	if in.Driver != nil {
		d := *in.Driver
		driver = &d
	}

	return &Transfer{
		ID:           ID(s.newID()),
		Route:        route,
		CampaignID:   campaignID,
		TransferDate: date,
		Products:     append([]ledger.ProductLine(nil), in.Products...),
		Status:       status,
		Driver:       driver,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// =============================================================================
// UPDATE
// =============================================================================

func (s *Service) Update(ctx context.Context, id ID, in UpdateInput, ac AuditContext) (*Transfer, error) {
	current, err := s.load(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if err := CheckEditable(current, in); err != nil {
		return nil, err
	}
	if in.Products != nil {
		if err := ledger.ValidateLines(in.Products); err != nil {
			return nil, err
		}
	}

	if in.CampaignID != nil && *in.CampaignID != current.CampaignID {
		if _, err := s.resolveCampaign(ctx, *in.CampaignID); err != nil {
			return nil, err
		}
	}

	next := current.Clone()
	if err := applyFields(next, in); err != nil {
		return nil, err
	}
	if len(changedFields(current, in)) > 0 {
		if err := s.validateRoute(ctx, next.Route, next.CampaignID); err != nil {
			return nil, err
		}
	}
	if in.Products != nil {
		next.Products = append([]ledger.ProductLine(nil), in.Products...)
	}
	next.UpdatedAt = s.now().UTC()

	err = s.repo.WithTx(ctx, func(r Repository) error {
		stored, err := s.reload(ctx, r, current)
		if err != nil {
			return err
		}
		if stored.Status == ledger.StatusValidated && in.Products != nil {
			delta := s.deltas.Diff(stored.Products, next.Products)
			if err := applyDelta(ctx, r, stored, delta, next.UpdatedAt); err != nil {
				return err
			}
		}
		if err := r.SaveTransfer(ctx, next); err != nil {
			return fmt.Errorf("save transfer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, ac, next, ActionUpdate, snapshot(current), snapshot(next))
	return next, nil
}

// =============================================================================
// STATUS
// =============================================================================

func (s *Service) UpdateStatus(ctx context.Context, id ID, in StatusInput, ac AuditContext) (*Transfer, error) {
	current, err := s.load(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	effect, err := ledger.Transition(current.Status, in.Status)
	if err != nil {
		return nil, err
	}
	if current.Status == in.Status {
		return current, nil
	}

	next := current.Clone()
	next.Status = in.Status
	next.UpdatedAt = s.now().UTC()

	err = s.repo.WithTx(ctx, func(r Repository) error {
		stored, err := s.reload(ctx, r, current)
		if err != nil {
			return err
		}
		if dir, ok := effect.Direction(); ok {
			if err := applyStatusEffect(ctx, r, stored, dir, next.UpdatedAt); err != nil {
				return err
			}
		}
		if err := r.SaveTransfer(ctx, next); err != nil {
			return fmt.Errorf("save transfer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("transfer status changed",
		"transferId", id, "from", current.Status, "to", next.Status, "effect", effect.String())
	s.record(ctx, ac, next, ActionStatusChange,
		map[string]any{"status": string(current.Status)},
		map[string]any{"status": string(next.Status)})
	return next, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete soft-deletes a pending or cancelled transfer. It never touches the
// ledger: the only status holding a contribution cannot be deleted.
func (s *Service) Delete(ctx context.Context, id ID, ac AuditContext) error {
	current, err := s.load(ctx, s.repo, id)
	if err != nil {
		return err
	}
	if current.Status == ledger.StatusValidated {
		return ledger.NewError(ledger.ErrNotDeletable, ledger.CodeNotDeletable,
			"transfer %s is validated: cancel it before deleting", current.Code)
	}

	next := current.Clone()
	now := s.now().UTC()
	next.DeletedAt = &now
	next.UpdatedAt = now

	err = s.repo.WithTx(ctx, func(r Repository) error {
		if _, err := s.reload(ctx, r, current); err != nil {
			return err
		}
		if err := r.SaveTransfer(ctx, next); err != nil {
			return fmt.Errorf("delete transfer: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.record(ctx, ac, current, ActionDelete, snapshot(current), nil)
	return nil
}

// =============================================================================
// READ PATHS
// =============================================================================

func (s *Service) FindByID(ctx context.Context, id ID) (*Transfer, error) {
	return s.load(ctx, s.repo, id)
}

// List returns one page of transfers. Without an explicit campaign the
// active one is used; with no active campaign every campaign is listed.
func (s *Service) List(ctx context.Context, f ListFilter) (*Page, error) {
	f.Normalize()
	if f.CampaignID == "" {
		id, err := s.activeCampaignID(ctx)
		if err != nil {
			return nil, err
		}
		f.CampaignID = id
	}

	items, total, err := s.repo.ListTransfers(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	return &Page{
		Items:      items,
		Total:      total,
		Page:       f.Page,
		Limit:      f.Limit,
		TotalPages: (total + f.Limit - 1) / f.Limit,
	}, nil
}

// History returns the audit trail of a live transfer.
func (s *Service) History(ctx context.Context, id ID) ([]AuditEntry, error) {
	if _, err := s.load(ctx, s.repo, id); err != nil {
		return nil, err
	}
	if s.trail == nil {
		return nil, nil
	}
	entries, err := s.trail.AuditTrail(ctx, AuditableTransfer, string(id))
	if err != nil {
		return nil, fmt.Errorf("audit trail %s: %w", id, err)
	}
	return entries, nil
}

func (s *Service) GroupageBalances(ctx context.Context, f ledger.GroupageFilter) ([]ledger.GroupageEntry, error) {
	if f.CampaignID == "" {
		id, err := s.activeCampaignID(ctx)
		if err != nil {
			return nil, err
		}
		f.CampaignID = id
	}
	entries, err := s.repo.ListGroupage(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list groupage ledger: %w", err)
	}
	return entries, nil
}

func (s *Service) StockBalances(ctx context.Context, f ledger.StockFilter) ([]ledger.StoreEntry, error) {
	if f.CampaignID == "" {
		id, err := s.activeCampaignID(ctx)
		if err != nil {
			return nil, err
		}
		f.CampaignID = id
	}
	entries, err := s.repo.ListStock(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list store ledger: %w", err)
	}
	return entries, nil
}

// =============================================================================
// LEDGER EFFECTS
// =============================================================================

func groupageKey(t *Transfer, r GroupageRoute) ledger.GroupageKey {
	return ledger.GroupageKey{
		ActorID:    r.SenderActorID,
		CampaignID: t.CampaignID,
		OpaID:      r.ReceiverActorID,
		ParcelID:   r.ParcelID,
	}
}

func movement(t *Transfer, r StandardRoute) ledger.Movement {
	return ledger.Movement{
		Sender: ledger.StoreKey{
			StoreID:    r.SenderStoreID,
			ActorID:    r.SenderActorID,
			CampaignID: t.CampaignID,
		},
		Receiver: ledger.StoreKey{
			StoreID:    r.ReceiverStoreID,
			ActorID:    r.ReceiverActorID,
			CampaignID: t.CampaignID,
		},
	}
}

// applyStatusEffect applies or reverses t's whole contribution, stamping the
// touched rows with at.
func applyStatusEffect(ctx context.Context, st ledger.Store, t *Transfer, dir ledger.Direction, at time.Time) error {
	switch route := t.Route.(type) {
	case GroupageRoute:
		return ledger.ApplyGroupage(ctx, st, groupageKey(t, route), t.Products, dir, at)
	case StandardRoute:
		return ledger.ApplyMovement(ctx, st, movement(t, route), t.Products, dir, ledger.CreateMissing, at)
	}
	return fmt.Errorf("transfer %s: unsupported route %T", t.ID, t.Route)
}

// applyDelta moves the ledger by the difference between two product lists
// of the same validated transfer.
func applyDelta(ctx context.Context, st ledger.Store, t *Transfer, d ledger.Delta, at time.Time) error {
	switch route := t.Route.(type) {
	case GroupageRoute:
		key := groupageKey(t, route)
		if err := ledger.ApplyGroupage(ctx, st, key, d.ToAdd, ledger.DirectionAdd, at); err != nil {
			return err
		}
		return ledger.ApplyGroupage(ctx, st, key, d.ToSubtract, ledger.DirectionSubtract, at)
	case StandardRoute:
		mv := movement(t, route)
		if err := ledger.ApplyMovement(ctx, st, mv, d.ToAdd, ledger.DirectionAdd, ledger.SkipMissing, at); err != nil {
			return err
		}
		return ledger.ApplyMovement(ctx, st, mv, d.ToSubtract, ledger.DirectionSubtract, ledger.SkipMissing, at)
	}
	return fmt.Errorf("transfer %s: unsupported route %T", t.ID, t.Route)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) load(ctx context.Context, r TransferStore, id ID) (*Transfer, error) {
	t, err := r.GetTransfer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transfer %s: %w", id, err)
	}
	if t == nil {
		return nil, ledger.NewError(ledger.ErrNotFound, ledger.CodeTransferNotFound,
			"transfer %s not found", id)
	}
	return t, nil
}

// reload re-reads the transfer inside a unit of work and rejects the
// operation if it changed since the decision was taken.
func (s *Service) reload(ctx context.Context, r TransferStore, seen *Transfer) (*Transfer, error) {
	stored, err := s.load(ctx, r, seen.ID)
	if err != nil {
		return nil, err
	}
	if stored.Status != seen.Status || !stored.UpdatedAt.Equal(seen.UpdatedAt) {
		return nil, ledger.NewError(ledger.ErrConcurrentModification, ledger.CodeConcurrentModification,
			"transfer %s was modified concurrently", seen.ID)
	}
	return stored, nil
}

func (s *Service) resolveCampaign(ctx context.Context, id ledger.CampaignID) (ledger.CampaignID, error) {
	if id == "" {
		camp, err := s.campaigns.ActiveCampaign(ctx)
		if err != nil {
			return "", fmt.Errorf("active campaign: %w", err)
		}
		if camp == nil {
			return "", ledger.NewError(ledger.ErrValidationFailed, ledger.CodeNoActiveCampaign,
				"no active campaign")
		}
		return camp.ID, nil
	}

	camp, err := s.campaigns.FindCampaign(ctx, id)
	if err != nil {
		return "", fmt.Errorf("find campaign %s: %w", id, err)
	}
	if camp == nil {
		return "", ledger.NewError(ledger.ErrNotFound, ledger.CodeCampaignNotFound,
			"campaign %s not found", id)
	}
	return camp.ID, nil
}

// activeCampaignID is resolveCampaign for read paths: no active campaign
// means no campaign filter.
func (s *Service) activeCampaignID(ctx context.Context) (ledger.CampaignID, error) {
	camp, err := s.campaigns.ActiveCampaign(ctx)
	if err != nil {
		return "", fmt.Errorf("active campaign: %w", err)
	}
	if camp == nil {
		return "", nil
	}
	return camp.ID, nil
}

func (s *Service) validateRoute(ctx context.Context, route Route, campaignID ledger.CampaignID) error {
	p := route.Parties()

	if _, err := s.activeActor(ctx, p.SenderActorID, "sender"); err != nil {
		return err
	}
	receiver, err := s.activeActor(ctx, p.ReceiverActorID, "receiver")
	if err != nil {
		return err
	}
	if route.Type() == TypeGroupage && receiver.Type != ActorTypeOPA {
		return ledger.NewError(ledger.ErrValidationFailed, ledger.CodeReceiverNotOPA,
			"groupage receiver %s is a %s, not an OPA", receiver.ID, receiver.Type)
	}

	if p.SenderStoreID != "" {
		if err := s.storeInCampaign(ctx, p.SenderStoreID, campaignID); err != nil {
			return err
		}
	}
	return s.storeInCampaign(ctx, p.ReceiverStoreID, campaignID)
}

func (s *Service) activeActor(ctx context.Context, id ledger.ActorID, role string) (*Actor, error) {
	actor, err := s.actors.FindActor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find %s actor %s: %w", role, id, err)
	}
	if actor == nil {
		return nil, ledger.NewError(ledger.ErrNotFound, ledger.CodeActorNotFound,
			"%s actor %q not found", role, id)
	}
	if !actor.IsActive() {
		return nil, ledger.NewError(ledger.ErrValidationFailed, ledger.CodeActorInactive,
			"%s actor %s is not active", role, id)
	}
	return actor, nil
}

func (s *Service) storeInCampaign(ctx context.Context, id ledger.StoreID, campaignID ledger.CampaignID) error {
	store, err := s.stores.FindStore(ctx, id)
	if err != nil {
		return fmt.Errorf("find store %s: %w", id, err)
	}
	if store == nil {
		return ledger.NewError(ledger.ErrNotFound, ledger.CodeStoreNotFound, "store %q not found", id)
	}
	if !store.InCampaign(campaignID) {
		return ledger.NewError(ledger.ErrValidationFailed, ledger.CodeStoreNotInCampaign,
			"store %s is not part of campaign %s", id, campaignID)
	}
	return nil
}

// record writes an audit entry. Failures are logged and swallowed: the
// ledger is already committed.
func (s *Service) record(ctx context.Context, ac AuditContext, t *Transfer, action string, oldValues, newValues map[string]any) {
	if s.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:            s.newID(),
		AuditableType: AuditableTransfer,
		AuditableID:   string(t.ID),
		Action:        action,
		UserID:        ac.UserID,
		UserRole:      ac.UserRole,
		OldValues:     oldValues,
		NewValues:     newValues,
		IPAddress:     ac.IPAddress,
		UserAgent:     ac.UserAgent,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.audit.LogAction(ctx, entry); err != nil {
		logger.FromContext(ctx).Error("audit log failed",
			"transferId", t.ID, "action", action, "error", err)
	}
}

// snapshot is the audit representation of a transfer.
func snapshot(t *Transfer) map[string]any {
	p := t.Route.Parties()
	products := make([]map[string]any, 0, len(t.Products))
	for _, line := range t.Products {
		products = append(products, map[string]any{
			"quality":      string(line.Quality),
			"weight":       line.Weight.String(),
			"numberOfBags": line.NumberOfBags,
		})
	}
	m := map[string]any{
		"id":              string(t.ID),
		"code":            t.Code,
		"transferType":    string(t.Type()),
		"status":          string(t.Status),
		"campaignId":      string(t.CampaignID),
		"transferDate":    t.TransferDate.Format(time.DateOnly),
		"senderActorId":   string(p.SenderActorID),
		"receiverActorId": string(p.ReceiverActorID),
		"senderStoreId":   string(p.SenderStoreID),
		"receiverStoreId": string(p.ReceiverStoreID),
		"products":        products,
	}
	if p.ParcelID != "" {
		m["parcelId"] = p.ParcelID
	}
	return m
}
