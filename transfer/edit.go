package transfer

import (
	"time"

	"github.com/warp/commodity-ledger/ledger"
)

// CheckEditable enforces the editability rules of t's current status:
//
//	cancelled  nothing may change
//	validated  only the product list may change
//	pending    anything may change
//
// A field sent with its stored value does not count as a change.
func CheckEditable(t *Transfer, in UpdateInput) error {
	switch t.Status {
	case ledger.StatusCancelled:
		return ledger.NewError(ledger.ErrNotEditable, ledger.CodeNotEditable,
			"transfer %s is cancelled and cannot be edited", t.Code)
	case ledger.StatusValidated:
		if fields := changedFields(t, in); len(fields) > 0 {
			return ledger.NewError(ledger.ErrLimitedEdit, ledger.CodeLimitedEdit,
				"transfer %s is validated: only products can be edited", t.Code).
				WithDetail("fields", fields)
		}
	}
	return nil
}

// changedFields lists the non-product fields whose new value differs.
func changedFields(t *Transfer, in UpdateInput) []string {
	p := t.Route.Parties()
	var fields []string
	if in.SenderActorID != nil && *in.SenderActorID != p.SenderActorID {
		fields = append(fields, "senderActorId")
	}
	if in.ReceiverActorID != nil && *in.ReceiverActorID != p.ReceiverActorID {
		fields = append(fields, "receiverActorId")
	}
	if in.SenderStoreID != nil && *in.SenderStoreID != p.SenderStoreID {
		fields = append(fields, "senderStoreId")
	}
	if in.ReceiverStoreID != nil && *in.ReceiverStoreID != p.ReceiverStoreID {
		fields = append(fields, "receiverStoreId")
	}
	if in.ParcelID != nil && *in.ParcelID != p.ParcelID {
		fields = append(fields, "parcelId")
	}
	if in.CampaignID != nil && *in.CampaignID != t.CampaignID {
		fields = append(fields, "campaignId")
	}
	if in.TransferDate != nil && !sameDay(*in.TransferDate, t.TransferDate) {
		fields = append(fields, "transferDate")
	}
	if in.Driver != nil && (t.Driver == nil || *in.Driver != *t.Driver) {
		fields = append(fields, "driverInfo")
	}
	return fields
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// applyFields copies the non-product fields of in onto t, rebuilding the
// route so that topology requirements are checked again.
func applyFields(t *Transfer, in UpdateInput) error {
	p := t.Route.Parties()
	if in.SenderActorID != nil {
		p.SenderActorID = *in.SenderActorID
	}
	if in.ReceiverActorID != nil {
		p.ReceiverActorID = *in.ReceiverActorID
	}
	if in.SenderStoreID != nil {
		p.SenderStoreID = *in.SenderStoreID
	}
	if in.ReceiverStoreID != nil {
		p.ReceiverStoreID = *in.ReceiverStoreID
	}
	if in.ParcelID != nil {
		p.ParcelID = *in.ParcelID
	}
	route, err := NewRoute(t.Type(), p)
	if err != nil {
		return err
	}
	t.Route = route

	if in.CampaignID != nil {
		t.CampaignID = *in.CampaignID
	}
	if in.TransferDate != nil {
		t.TransferDate = *in.TransferDate
	}
	if in.Driver != nil {
		d := *in.Driver
		t.Driver = &d
	}
	return nil
}
