package transfer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/warp/commodity-ledger/ledger"
	"github.com/warp/commodity-ledger/store/memory"
	"github.com/warp/commodity-ledger/store/sqlite"
	"github.com/warp/commodity-ledger/transfer"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// backendStore is what both store implementations offer.
type backendStore interface {
	transfer.TxRepository
	transfer.ActorLookup
	transfer.StoreLookup
	transfer.CampaignLookup
	transfer.AuditRecorder
	transfer.AuditReader
	SaveActor(ctx context.Context, a transfer.Actor) error
	SaveStore(ctx context.Context, s transfer.Store) error
	SaveCampaign(ctx context.Context, c transfer.Campaign) error
}

type fixture struct {
	ctx   context.Context
	store backendStore
	svc   *transfer.Service
}

var clock = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

var auditCtx = transfer.AuditContext{UserID: "u-42", UserRole: "agent", IPAddress: "10.0.0.1", UserAgent: "test"}

func backends() map[string]func(t *testing.T) backendStore {
	return map[string]func(t *testing.T) backendStore{
		"memory": func(t *testing.T) backendStore { return memory.New() },
		"sqlite": func(t *testing.T) backendStore {
			s, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

// forEachBackend runs fn once per store implementation, each on freshly
// seeded reference data.
func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			f := &fixture{ctx: context.Background(), store: st}
			seed(t, f)
			f.svc = newService(st, st)
			fn(t, f)
		})
	}
}

func newService(st backendStore, audit transfer.AuditRecorder, opts ...transfer.Option) *transfer.Service {
	opts = append([]transfer.Option{transfer.WithClock(func() time.Time { return clock })}, opts...)
	return transfer.NewService(transfer.Deps{
		Repo:      st,
		Actors:    st,
		Stores:    st,
		Campaigns: st,
		Audit:     audit,
		Trail:     st,
	}, opts...)
}

func seed(t *testing.T, f *fixture) {
	t.Helper()
	ctx := f.ctx
	require.NoError(t, f.store.SaveCampaign(ctx, transfer.Campaign{ID: "C2024", Name: "2024/25"}))
	require.NoError(t, f.store.SaveCampaign(ctx, transfer.Campaign{ID: "C2025", Name: "2025/26", Active: true}))

	actors := []transfer.Actor{
		{ID: "P1", Name: "Producer 1", Type: transfer.ActorTypeProducer, Status: transfer.ActorActive},
		{ID: "OPA1", Name: "OPA 1", Type: transfer.ActorTypeOPA, Status: transfer.ActorActive},
		{ID: "A1", Name: "Buyer 1", Type: transfer.ActorTypeBuyer, Status: transfer.ActorActive},
		{ID: "A2", Name: "Exporter 2", Type: transfer.ActorTypeExporter, Status: transfer.ActorActive},
		{ID: "X", Name: "Retired", Type: transfer.ActorTypeProducer, Status: transfer.ActorInactive},
	}
	for _, a := range actors {
		require.NoError(t, f.store.SaveActor(ctx, a))
	}

	stores := []transfer.Store{
		{ID: "SO", Name: "OPA store", ActorID: "OPA1", CampaignIDs: []ledger.CampaignID{"C2025"}},
		{ID: "S1", Name: "Store 1", ActorID: "A1", CampaignIDs: []ledger.CampaignID{"C2025"}},
		{ID: "S2", Name: "Store 2", ActorID: "A2", CampaignIDs: []ledger.CampaignID{"C2025", "C2024"}},
		{ID: "OLD", Name: "Closed store", CampaignIDs: []ledger.CampaignID{"C2024"}},
	}
	for _, s := range stores {
		require.NoError(t, f.store.SaveStore(ctx, s))
	}
}

func kg(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func products(q string, w float64, bags int64) []ledger.ProductLine {
	return []ledger.ProductLine{{Quality: ledger.Quality(q), Weight: kg(w), NumberOfBags: bags}}
}

func groupageInput(status ledger.Status) transfer.CreateInput {
	return transfer.CreateInput{
		Type: transfer.TypeGroupage,
		Parties: transfer.Parties{
			SenderActorID: "P1", ReceiverActorID: "OPA1", ReceiverStoreID: "SO",
		},
		Products: products("grade_1", 500, 25),
		Status:   status,
	}
}

func standardInput(status ledger.Status, w float64, bags int64) transfer.CreateInput {
	return transfer.CreateInput{
		Type: transfer.TypeStandard,
		Parties: transfer.Parties{
			SenderActorID: "A1", SenderStoreID: "S1",
			ReceiverActorID: "A2", ReceiverStoreID: "S2",
		},
		Products: products("grade_1", w, bags),
		Status:   status,
	}
}

var groupageRow = ledger.GroupageKey{ActorID: "P1", CampaignID: "C2025", OpaID: "OPA1", Quality: "grade_1"}
var senderRow = ledger.StoreKey{StoreID: "S1", ActorID: "A1", CampaignID: "C2025", Quality: "grade_1"}
var receiverRow = ledger.StoreKey{StoreID: "S2", ActorID: "A2", CampaignID: "C2025", Quality: "grade_1"}

func (f *fixture) groupage(t *testing.T, k ledger.GroupageKey) *ledger.GroupageEntry {
	t.Helper()
	row, err := f.store.GetGroupage(f.ctx, k)
	require.NoError(t, err)
	return row
}

func (f *fixture) stock(t *testing.T, k ledger.StoreKey) *ledger.StoreEntry {
	t.Helper()
	row, err := f.store.GetStock(f.ctx, k)
	require.NoError(t, err)
	return row
}

// ledgerState captures every row of both ledgers.
func (f *fixture) ledgerState(t *testing.T) ([]ledger.GroupageEntry, []ledger.StoreEntry) {
	t.Helper()
	g, err := f.store.ListGroupage(f.ctx, ledger.GroupageFilter{})
	require.NoError(t, err)
	s, err := f.store.ListStock(f.ctx, ledger.StockFilter{})
	require.NoError(t, err)
	return g, s
}

func assertQuantity(t *testing.T, kgWant float64, bagsWant int64, got ledger.Quantity) {
	t.Helper()
	assert.True(t, got.Weight.Equal(kg(kgWant)), "weight: want %v got %s", kgWant, got.Weight)
	assert.Equal(t, bagsWant, got.Bags, "bags")
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, ledger.CodeOf(err), "error: %v", err)
}

// =============================================================================
// LEDGER PROPERTIES
// =============================================================================

func TestGroupage_Reversibility(t *testing.T) {
	// GIVEN: A validated GROUPAGE transfer P1 -> OPA1, grade_1 500kg / 25 bags
	// WHEN: Cancelling it, then validating it again
	// THEN: The row goes {500,25} -> {0,0} -> {500,25}

	forEachBackend(t, func(t *testing.T, f *fixture) {
		tr, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusValidated), auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 500, 25, f.groupage(t, groupageRow).Total)

		_, err = f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusCancelled}, auditCtx)
		require.NoError(t, err)
		row := f.groupage(t, groupageRow)
		require.NotNil(t, row, "row is kept at zero")
		assertQuantity(t, 0, 0, row.Total)

		_, err = f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusValidated}, auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 500, 25, f.groupage(t, groupageRow).Total)
	})
}

func TestGroupage_DeltaEditOnValidated(t *testing.T) {
	// GIVEN: The row at {500, 25} from a validated transfer
	// WHEN: Editing the transfer's products to 300kg / 15 bags
	// THEN: The row becomes {300, 15}

	forEachBackend(t, func(t *testing.T, f *fixture) {
		tr, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusValidated), auditCtx)
		require.NoError(t, err)

		updated, err := f.svc.Update(f.ctx, tr.ID, transfer.UpdateInput{Products: products("grade_1", 300, 15)}, auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 300, 15, updated.Products[0].Quantity())
		assertQuantity(t, 300, 15, f.groupage(t, groupageRow).Total)

		// Cancelling afterwards reverses the edited contribution exactly.
		_, err = f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusCancelled}, auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 0, 0, f.groupage(t, groupageRow).Total)
	})
}

func TestGroupage_DeltaEdit_QualitySwap(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tr, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusValidated), auditCtx)
		require.NoError(t, err)

		_, err = f.svc.Update(f.ctx, tr.ID, transfer.UpdateInput{Products: products("grade_2", 200, 10)}, auditCtx)
		require.NoError(t, err)

		assertQuantity(t, 0, 0, f.groupage(t, groupageRow).Total)
		grade2 := groupageRow
		grade2.Quality = "grade_2"
		assertQuantity(t, 200, 10, f.groupage(t, grade2).Total)
	})
}

func TestGroupage_FractionalWeights_ExactOnEveryBackend(t *testing.T) {
	// GIVEN: A validated transfer of 500.125kg
	// WHEN: Its products are edited to 500.001kg, then 499.999kg / 24 bags
	// THEN: Every backend holds exactly the current weight, and cancelling
	//       brings the row back to zero

	forEachBackend(t, func(t *testing.T, f *fixture) {
		in := groupageInput(ledger.StatusValidated)
		in.Products = products("grade_1", 500.125, 25)
		tr, err := f.svc.Create(f.ctx, in, auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 500.125, 25, f.groupage(t, groupageRow).Total)

		_, err = f.svc.Update(f.ctx, tr.ID, transfer.UpdateInput{Products: products("grade_1", 500.001, 25)}, auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 500.001, 25, f.groupage(t, groupageRow).Total)

		_, err = f.svc.Update(f.ctx, tr.ID, transfer.UpdateInput{Products: products("grade_1", 499.999, 24)}, auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 499.999, 24, f.groupage(t, groupageRow).Total)

		// A second transfer on the same row sums exactly.
		small := groupageInput(ledger.StatusValidated)
		small.Products = products("grade_1", 0.002, 0)
		_, err = f.svc.Create(f.ctx, small, auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 500.001, 24, f.groupage(t, groupageRow).Total)

		_, err = f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusCancelled}, auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 0.002, 0, f.groupage(t, groupageRow).Total)
	})
}

func TestSubGramWeights_Rejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		in := groupageInput(ledger.StatusValidated)
		in.Products = products("grade_1", 500.0005, 25)
		_, err := f.svc.Create(f.ctx, in, auditCtx)
		assertCode(t, err, ledger.CodeInvalidQuantity)

		in.Products = products("grade_1", 0.0004, 0)
		_, err = f.svc.Create(f.ctx, in, auditCtx)
		assertCode(t, err, ledger.CodeInvalidQuantity)
		assert.Nil(t, f.groupage(t, groupageRow), "rejected creates leave no row")

		tr, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusValidated), auditCtx)
		require.NoError(t, err)
		_, err = f.svc.Update(f.ctx, tr.ID, transfer.UpdateInput{Products: products("grade_1", 500.0005, 25)}, auditCtx)
		assertCode(t, err, ledger.CodeInvalidQuantity)
		assertQuantity(t, 500, 25, f.groupage(t, groupageRow).Total)
	})
}

func TestLedgerRows_StampedWithServiceClock(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		_, err := f.store.UpsertStock(f.ctx, senderRow, ledger.Change{Quantity: ledger.NewQuantity(1000, 50), Direction: ledger.DirectionAdd})
		require.NoError(t, err)

		_, err = f.svc.Create(f.ctx, groupageInput(ledger.StatusValidated), auditCtx)
		require.NoError(t, err)
		_, err = f.svc.Create(f.ctx, standardInput(ledger.StatusValidated, 300, 15), auditCtx)
		require.NoError(t, err)

		g := f.groupage(t, groupageRow)
		assert.True(t, g.CreatedAt.Equal(clock), "groupage created_at %s", g.CreatedAt)
		assert.True(t, g.UpdatedAt.Equal(clock), "groupage updated_at %s", g.UpdatedAt)
		assert.True(t, f.stock(t, senderRow).UpdatedAt.Equal(clock))
		assert.True(t, f.stock(t, receiverRow).UpdatedAt.Equal(clock))
	})
}

func TestStandard_Conservation(t *testing.T) {
	// GIVEN: S1 holds 1000kg / 50 bags of grade_1
	// WHEN: A validated STANDARD transfer moves 300kg / 15 bags S1 -> S2
	// THEN: S1 drops by exactly what S2 gains; cancelling restores both

	forEachBackend(t, func(t *testing.T, f *fixture) {
		_, err := f.store.UpsertStock(f.ctx, senderRow, ledger.Change{Quantity: ledger.NewQuantity(1000, 50), Direction: ledger.DirectionAdd})
		require.NoError(t, err)

		tr, err := f.svc.Create(f.ctx, standardInput(ledger.StatusValidated, 300, 15), auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 700, 35, f.stock(t, senderRow).Total)
		assertQuantity(t, 300, 15, f.stock(t, receiverRow).Total)

		_, err = f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusCancelled}, auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 1000, 50, f.stock(t, senderRow).Total)
		assertQuantity(t, 0, 0, f.stock(t, receiverRow).Total)
	})
}

func TestStandard_NonNegative_SenderClampedAtZero(t *testing.T) {
	// GIVEN: S1 has no stock of grade_1
	// WHEN: Validating a STANDARD transfer of 300kg out of S1, then editing it up
	// THEN: S1 never goes below zero; S2 receives the full quantity

	forEachBackend(t, func(t *testing.T, f *fixture) {
		tr, err := f.svc.Create(f.ctx, standardInput(ledger.StatusPending, 300, 15), auditCtx)
		require.NoError(t, err)
		assert.Nil(t, f.stock(t, senderRow), "pending transfers do not touch the ledger")

		_, err = f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusValidated}, auditCtx)
		require.NoError(t, err)

		sender := f.stock(t, senderRow)
		require.NotNil(t, sender, "status path materialises the debited row")
		assertQuantity(t, 0, 0, sender.Total)
		assertQuantity(t, 300, 15, f.stock(t, receiverRow).Total)

		_, err = f.svc.Update(f.ctx, tr.ID, transfer.UpdateInput{Products: products("grade_1", 450, 20)}, auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 0, 0, f.stock(t, senderRow).Total)
		assertQuantity(t, 450, 20, f.stock(t, receiverRow).Total)

		groupage, stock := f.ledgerState(t)
		assert.Empty(t, groupage)
		for _, row := range stock {
			assert.False(t, row.Total.IsNegative(), "row %+v", row.Key)
		}
	})
}

func TestUpdateStatus_SameStatus_NoOp(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tr, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusValidated), auditCtx)
		require.NoError(t, err)
		_, err = f.svc.Create(f.ctx, standardInput(ledger.StatusValidated, 10, 1), auditCtx)
		require.NoError(t, err)

		beforeG, beforeS := f.ledgerState(t)
		stored, err := f.svc.FindByID(f.ctx, tr.ID)
		require.NoError(t, err)

		got, err := f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusValidated}, auditCtx)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusValidated, got.Status)

		afterG, afterS := f.ledgerState(t)
		assert.Equal(t, beforeG, afterG)
		assert.Equal(t, beforeS, afterS)

		again, err := f.svc.FindByID(f.ctx, tr.ID)
		require.NoError(t, err)
		assert.True(t, stored.UpdatedAt.Equal(again.UpdatedAt), "transfer not rewritten")
	})
}

func TestUpdateStatus_PendingToCancelled_NoLedgerMutation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tr, err := f.svc.Create(f.ctx, standardInput(ledger.StatusPending, 300, 15), auditCtx)
		require.NoError(t, err)

		got, err := f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusCancelled}, auditCtx)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCancelled, got.Status)

		g, s := f.ledgerState(t)
		assert.Empty(t, g)
		assert.Empty(t, s)
	})
}

func TestUpdateStatus_ValidatedToPending_Rejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tr, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusValidated), auditCtx)
		require.NoError(t, err)
		beforeG, beforeS := f.ledgerState(t)

		_, err = f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusPending}, auditCtx)
		assert.ErrorIs(t, err, ledger.ErrInvalidStatusTransition)

		afterG, afterS := f.ledgerState(t)
		assert.Equal(t, beforeG, afterG)
		assert.Equal(t, beforeS, afterS)

		stored, err := f.svc.FindByID(f.ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusValidated, stored.Status)
	})
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tr, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusPending), auditCtx)
		require.NoError(t, err)

		_, err = f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: "archived"}, auditCtx)
		assertCode(t, err, ledger.CodeInvalidStatus)
	})
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_DefaultsAndCodes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		in := groupageInput("")
		first, err := f.svc.Create(f.ctx, in, auditCtx)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusValidated, first.Status, "default status")
		assert.Equal(t, ledger.CampaignID("C2025"), first.CampaignID, "active campaign")
		assert.Equal(t, "GRP-2025-00001", first.Code)
		assert.True(t, first.TransferDate.Equal(clock))

		second, err := f.svc.Create(f.ctx, in, auditCtx)
		require.NoError(t, err)
		assert.Equal(t, "GRP-2025-00002", second.Code)

		std, err := f.svc.Create(f.ctx, standardInput(ledger.StatusPending, 1, 1), auditCtx)
		require.NoError(t, err)
		assert.Equal(t, "STD-2025-00001", std.Code)
		_, ok := std.Route.(transfer.StandardRoute)
		assert.True(t, ok)
	})
}

func TestCreate_GroupageSenderStoreOptional(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		in := groupageInput(ledger.StatusValidated)
		in.Parties.SenderStoreID = "S1"
		in.Parties.ParcelID = "parcel-9"

		tr, err := f.svc.Create(f.ctx, in, auditCtx)
		require.NoError(t, err)
		route := tr.Route.(transfer.GroupageRoute)
		assert.Equal(t, ledger.StoreID("S1"), route.SenderStoreID)

		// Sender store is informational; the parcel is part of the key.
		assert.Nil(t, f.stock(t, senderRow))
		withParcel := groupageRow
		withParcel.ParcelID = "parcel-9"
		assertQuantity(t, 500, 25, f.groupage(t, withParcel).Total)
	})
}

func TestCreate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *transfer.CreateInput)
		code   string
	}{
		{"unknown type", func(in *transfer.CreateInput) { in.Type = "BARTER" }, ledger.CodeInvalidTransferType},
		{"standard without sender store", func(in *transfer.CreateInput) {
			*in = standardInput(ledger.StatusValidated, 1, 1)
			in.Parties.SenderStoreID = ""
		}, ledger.CodeSenderStoreRequired},
		{"missing receiver store", func(in *transfer.CreateInput) { in.Parties.ReceiverStoreID = "" }, ledger.CodeReceiverStoreRequired},
		{"no products", func(in *transfer.CreateInput) { in.Products = nil }, ledger.CodeNoProducts},
		{"duplicate quality", func(in *transfer.CreateInput) {
			in.Products = append(in.Products, in.Products[0])
		}, ledger.CodeDuplicateQuality},
		{"created cancelled", func(in *transfer.CreateInput) { in.Status = ledger.StatusCancelled }, ledger.CodeInvalidStatus},
		{"unknown campaign", func(in *transfer.CreateInput) { in.CampaignID = "C1999" }, ledger.CodeCampaignNotFound},
		{"unknown sender", func(in *transfer.CreateInput) { in.Parties.SenderActorID = "ghost" }, ledger.CodeActorNotFound},
		{"inactive sender", func(in *transfer.CreateInput) { in.Parties.SenderActorID = "X" }, ledger.CodeActorInactive},
		{"receiver not OPA", func(in *transfer.CreateInput) { in.Parties.ReceiverActorID = "A1" }, ledger.CodeReceiverNotOPA},
		{"unknown store", func(in *transfer.CreateInput) { in.Parties.ReceiverStoreID = "nowhere" }, ledger.CodeStoreNotFound},
		{"store outside campaign", func(in *transfer.CreateInput) { in.Parties.ReceiverStoreID = "OLD" }, ledger.CodeStoreNotInCampaign},
	}

	forEachBackend(t, func(t *testing.T, f *fixture) {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				in := groupageInput(ledger.StatusValidated)
				tt.mutate(&in)
				_, err := f.svc.Create(f.ctx, in, auditCtx)
				assertCode(t, err, tt.code)
			})
		}

		g, s := f.ledgerState(t)
		assert.Empty(t, g)
		assert.Empty(t, s)
	})
}

func TestCreate_NoActiveCampaign(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.SaveCampaign(ctx, transfer.Campaign{ID: "C2024"}))
	svc := newService(st, st)

	_, err := svc.Create(ctx, groupageInput(ledger.StatusValidated), auditCtx)
	assertCode(t, err, ledger.CodeNoActiveCampaign)
	assert.True(t, ledger.IsClientError(err))
}

// =============================================================================
// UPDATE + DELETE
// =============================================================================

func TestUpdate_EditabilityRules(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		validated, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusValidated), auditCtx)
		require.NoError(t, err)

		// Non-product field on a validated transfer.
		parcel := "parcel-1"
		_, err = f.svc.Update(f.ctx, validated.ID, transfer.UpdateInput{ParcelID: &parcel}, auditCtx)
		assert.ErrorIs(t, err, ledger.ErrLimitedEdit)

		// Sending the stored value back is not a change.
		campaign := validated.CampaignID
		_, err = f.svc.Update(f.ctx, validated.ID, transfer.UpdateInput{
			CampaignID: &campaign,
			Products:   products("grade_1", 450, 20),
		}, auditCtx)
		require.NoError(t, err)
		assertQuantity(t, 450, 20, f.groupage(t, groupageRow).Total)

		cancelled, err := f.svc.UpdateStatus(f.ctx, validated.ID, transfer.StatusInput{Status: ledger.StatusCancelled}, auditCtx)
		require.NoError(t, err)
		_, err = f.svc.Update(f.ctx, cancelled.ID, transfer.UpdateInput{Products: products("grade_1", 1, 1)}, auditCtx)
		assertCode(t, err, ledger.CodeNotEditable)
	})
}

func TestUpdate_Pending_FieldsAndProductsWithoutLedgerEffect(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tr, err := f.svc.Create(f.ctx, standardInput(ledger.StatusPending, 100, 5), auditCtx)
		require.NoError(t, err)

		receiverStore := ledger.StoreID("S1")
		senderStore := ledger.StoreID("S2")
		driver := &transfer.DriverInfo{Name: "Moussa", Phone: "+225 01"}
		updated, err := f.svc.Update(f.ctx, tr.ID, transfer.UpdateInput{
			SenderStoreID:   &senderStore,
			ReceiverStoreID: &receiverStore,
			Products:        products("grade_3", 80, 4),
			Driver:          driver,
		}, auditCtx)
		require.NoError(t, err)

		route := updated.Route.(transfer.StandardRoute)
		assert.Equal(t, ledger.StoreID("S2"), route.SenderStoreID)
		assert.Equal(t, "Moussa", updated.Driver.Name)

		g, s := f.ledgerState(t)
		assert.Empty(t, g)
		assert.Empty(t, s)

		// Validating applies the edited products along the edited route.
		_, err = f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusValidated}, auditCtx)
		require.NoError(t, err)
		row := f.stock(t, ledger.StoreKey{StoreID: "S1", ActorID: "A2", CampaignID: "C2025", Quality: "grade_3"})
		require.NotNil(t, row)
		assertQuantity(t, 80, 4, row.Total)
	})
}

func TestUpdate_PendingRevalidatesReferences(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tr, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusPending), auditCtx)
		require.NoError(t, err)

		store := ledger.StoreID("OLD")
		_, err = f.svc.Update(f.ctx, tr.ID, transfer.UpdateInput{ReceiverStoreID: &store}, auditCtx)
		assertCode(t, err, ledger.CodeStoreNotInCampaign)
	})
}

func TestDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tr, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusValidated), auditCtx)
		require.NoError(t, err)

		err = f.svc.Delete(f.ctx, tr.ID, auditCtx)
		assertCode(t, err, ledger.CodeNotDeletable)

		_, err = f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusCancelled}, auditCtx)
		require.NoError(t, err)
		require.NoError(t, f.svc.Delete(f.ctx, tr.ID, auditCtx))

		_, err = f.svc.FindByID(f.ctx, tr.ID)
		assertCode(t, err, ledger.CodeTransferNotFound)
		assert.True(t, ledger.IsNotFound(err))

		// Deleting does not touch the ledger.
		assertQuantity(t, 0, 0, f.groupage(t, groupageRow).Total)

		err = f.svc.Delete(f.ctx, tr.ID, auditCtx)
		assert.True(t, ledger.IsNotFound(err))
	})
}

// =============================================================================
// READ PATHS
// =============================================================================

func TestList_DefaultsToActiveCampaign(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		for i := 0; i < 3; i++ {
			_, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusPending), auditCtx)
			require.NoError(t, err)
		}
		old := standardInput(ledger.StatusPending, 5, 1)
		old.CampaignID = "C2024"
		old.Parties.SenderStoreID = "S2"
		old.Parties.ReceiverStoreID = "OLD"
		_, err := f.svc.Create(f.ctx, old, auditCtx)
		require.NoError(t, err)

		page, err := f.svc.List(f.ctx, transfer.ListFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, 2, page.TotalPages)
		assert.Len(t, page.Items, 2)
		assert.Equal(t, 1, page.Page)

		page, err = f.svc.List(f.ctx, transfer.ListFilter{CampaignID: "C2024"})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
		assert.Equal(t, transfer.DefaultPageLimit, page.Limit)

		page, err = f.svc.List(f.ctx, transfer.ListFilter{Type: transfer.TypeStandard, Limit: 1000})
		require.NoError(t, err)
		assert.Equal(t, 0, page.Total)
		assert.Equal(t, transfer.MaxPageLimit, page.Limit)
	})
}

func TestList_DateRangeIncludesWholeEndDay(t *testing.T) {
	// GIVEN: Transfers on 06-14 23:30, 06-15 10:00 (defaulted to now) and
	//        06-15 23:59
	// WHEN: Listing with dateFrom = dateTo = 2025-06-15
	// THEN: Both transfers of the 15th are returned

	forEachBackend(t, func(t *testing.T, f *fixture) {
		for _, at := range []time.Time{
			time.Date(2025, 6, 14, 23, 30, 0, 0, time.UTC),
			{},
			time.Date(2025, 6, 15, 23, 59, 59, 0, time.UTC),
		} {
			in := groupageInput(ledger.StatusPending)
			in.TransferDate = at
			_, err := f.svc.Create(f.ctx, in, auditCtx)
			require.NoError(t, err)
		}

		day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
		page, err := f.svc.List(f.ctx, transfer.ListFilter{DateFrom: &day, DateTo: &day})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)

		before := day.AddDate(0, 0, -1)
		page, err = f.svc.List(f.ctx, transfer.ListFilter{DateTo: &before})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)

		page, err = f.svc.List(f.ctx, transfer.ListFilter{DateFrom: &before, DateTo: &day})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
	})
}

func TestListFilter_DateRange(t *testing.T) {
	from := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	lo, hi := transfer.ListFilter{DateFrom: &from, DateTo: &to}.DateRange()
	require.NotNil(t, lo)
	require.NotNil(t, hi)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), *lo)
	assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), *hi)

	lo, hi = transfer.ListFilter{}.DateRange()
	assert.Nil(t, lo)
	assert.Nil(t, hi)
}

func TestBalances_ScopedToActiveCampaign(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		_, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusValidated), auditCtx)
		require.NoError(t, err)
		_, err = f.svc.Create(f.ctx, standardInput(ledger.StatusValidated, 10, 1), auditCtx)
		require.NoError(t, err)

		g, err := f.svc.GroupageBalances(f.ctx, ledger.GroupageFilter{OpaID: "OPA1"})
		require.NoError(t, err)
		require.Len(t, g, 1)
		assertQuantity(t, 500, 25, g[0].Total)

		s, err := f.svc.StockBalances(f.ctx, ledger.StockFilter{StoreID: "S2"})
		require.NoError(t, err)
		require.Len(t, s, 1)
		assertQuantity(t, 10, 1, s[0].Total)

		none, err := f.svc.StockBalances(f.ctx, ledger.StockFilter{CampaignID: "C2024"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestHistory_RecordsEveryMutation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tr, err := f.svc.Create(f.ctx, groupageInput(ledger.StatusPending), auditCtx)
		require.NoError(t, err)
		_, err = f.svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusValidated}, auditCtx)
		require.NoError(t, err)
		_, err = f.svc.Update(f.ctx, tr.ID, transfer.UpdateInput{Products: products("grade_1", 400, 20)}, auditCtx)
		require.NoError(t, err)

		trail, err := f.svc.History(f.ctx, tr.ID)
		require.NoError(t, err)
		require.Len(t, trail, 3)
		assert.Equal(t, transfer.ActionCreate, trail[0].Action)
		assert.Equal(t, transfer.ActionStatusChange, trail[1].Action)
		assert.Equal(t, "validated", trail[1].NewValues["status"])
		assert.Equal(t, transfer.ActionUpdate, trail[2].Action)
		assert.Equal(t, "u-42", trail[2].UserID)
		assert.Equal(t, "10.0.0.1", trail[2].IPAddress)
	})
}

// =============================================================================
// AUDIT FAILURES + CONCURRENCY
// =============================================================================

type failingAudit struct {
	mock.Mock
}

func (m *failingAudit) LogAction(ctx context.Context, e transfer.AuditEntry) error {
	return m.Called(e.Action).Error(0)
}

func TestAuditFailure_DoesNotRollBackLedger(t *testing.T) {
	// GIVEN: An audit recorder that always fails
	// WHEN: Creating a validated transfer
	// THEN: The call succeeds and the ledger is updated

	st := memory.New()
	f := &fixture{ctx: context.Background(), store: st}
	seed(t, f)

	audit := &failingAudit{}
	audit.On("LogAction", transfer.ActionCreate).Return(errors.New("audit db down")).Once()
	svc := newService(st, audit)

	tr, err := svc.Create(f.ctx, groupageInput(ledger.StatusValidated), auditCtx)
	require.NoError(t, err)
	assert.NotEmpty(t, tr.Code)
	assertQuantity(t, 500, 25, f.groupage(t, groupageRow).Total)
	audit.AssertExpectations(t)
}

// racingRepo changes the transfer right before each unit of work starts,
// simulating a concurrent writer.
type racingRepo struct {
	*memory.Memory
	race func()
}

func (r *racingRepo) WithTx(ctx context.Context, fn func(transfer.Repository) error) error {
	if r.race != nil {
		r.race()
	}
	return r.Memory.WithTx(ctx, fn)
}

func TestUpdateStatus_ConcurrentModification(t *testing.T) {
	st := memory.New()
	f := &fixture{ctx: context.Background(), store: st}
	seed(t, f)

	tr, err := newService(st, st).Create(f.ctx, groupageInput(ledger.StatusPending), auditCtx)
	require.NoError(t, err)

	repo := &racingRepo{Memory: st}
	repo.race = func() {
		other := tr.Clone()
		other.Status = ledger.StatusCancelled
		require.NoError(t, st.SaveTransfer(f.ctx, other))
	}
	svc := transfer.NewService(transfer.Deps{Repo: repo, Actors: st, Stores: st, Campaigns: st, Audit: st})

	_, err = svc.UpdateStatus(f.ctx, tr.ID, transfer.StatusInput{Status: ledger.StatusValidated}, auditCtx)
	assertCode(t, err, ledger.CodeConcurrentModification)
	assert.True(t, ledger.IsConflict(err))
	assert.Nil(t, f.groupage(t, groupageRow), "no ledger effect")
}

func TestIndependentDeltaMode(t *testing.T) {
	st := memory.New()
	f := &fixture{ctx: context.Background(), store: st}
	seed(t, f)
	svc := newService(st, st, transfer.WithDeltaCalculator(ledger.IndependentDeltas{}))

	tr, err := svc.Create(f.ctx, groupageInput(ledger.StatusValidated), auditCtx)
	require.NoError(t, err)

	// Weight up, bags down.
	_, err = svc.Update(f.ctx, tr.ID, transfer.UpdateInput{Products: products("grade_1", 520, 20)}, auditCtx)
	require.NoError(t, err)
	assertQuantity(t, 520, 20, f.groupage(t, groupageRow).Total)
}
