/*
Package transfer implements the commodity transfer lifecycle on top of the
quantity ledger.

PURPOSE:
  A transfer moves products (quality lines of weight + bags) either into an
  OPA's intake ledger (GROUPAGE) or from one tracked store to another
  (STANDARD). The service keeps the ledger equal to the sum of validated
  transfers through creation, status changes, product edits and deletion.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transfer: the record, with a topology-specific Route
  - GroupageRoute / StandardRoute: which parties and stores are mandatory
  - CreateInput / UpdateInput / StatusInput: service inputs
  - ListFilter / Page: read path

ROUTES:
  GROUPAGE  sender actor -> OPA. Receiver store required, sender store
            optional and informational, parcel optional (part of the key).
  STANDARD  sender store -> receiver store. All four ids required.

SEE ALSO:
  - service.go: orchestration and units of work
  - edit.go: which edits each status allows
  - ledger/: arithmetic and key spaces
*/
package transfer

import (
	"strings"
	"time"

	"github.com/warp/commodity-ledger/ledger"
)

// =============================================================================
// TRANSFER TYPE
// =============================================================================

type ID string

type Type string

const (
	TypeGroupage Type = "GROUPAGE"
	TypeStandard Type = "STANDARD"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(s)); t {
	case TypeGroupage, TypeStandard:
		return t, nil
	}
	return "", ledger.NewError(ledger.ErrValidationFailed, ledger.CodeInvalidTransferType,
		"unknown transfer type %q", s)
}

// CodePrefix is the leading segment of human-readable codes of this type.
func (t Type) CodePrefix() string {
	if t == TypeGroupage {
		return "GRP"
	}
	return "STD"
}

// =============================================================================
// ROUTES - tagged union, one variant per topology
// =============================================================================

// Route is implemented by GroupageRoute and StandardRoute only.
type Route interface {
	Type() Type
	Parties() Parties
	isRoute()
}

// Parties is the flat, topology-independent view of a route used for
// persistence and filtering. Empty ids mean "not set".
type Parties struct {
	SenderActorID   ledger.ActorID
	ReceiverActorID ledger.ActorID
	SenderStoreID   ledger.StoreID
	ReceiverStoreID ledger.StoreID
	ParcelID        string
}

type GroupageRoute struct {
	SenderActorID   ledger.ActorID
	ReceiverActorID ledger.ActorID // the OPA
	ReceiverStoreID ledger.StoreID
	SenderStoreID   ledger.StoreID // optional, never touches the ledger
	ParcelID        string         // optional
}

func (GroupageRoute) Type() Type { return TypeGroupage }
func (GroupageRoute) isRoute()   {}

func (r GroupageRoute) Parties() Parties {
	return Parties{
		SenderActorID:   r.SenderActorID,
		ReceiverActorID: r.ReceiverActorID,
		SenderStoreID:   r.SenderStoreID,
		ReceiverStoreID: r.ReceiverStoreID,
		ParcelID:        r.ParcelID,
	}
}

type StandardRoute struct {
	SenderActorID   ledger.ActorID
	SenderStoreID   ledger.StoreID
	ReceiverActorID ledger.ActorID
	ReceiverStoreID ledger.StoreID
}

func (StandardRoute) Type() Type { return TypeStandard }
func (StandardRoute) isRoute()   {}

func (r StandardRoute) Parties() Parties {
	return Parties{
		SenderActorID:   r.SenderActorID,
		ReceiverActorID: r.ReceiverActorID,
		SenderStoreID:   r.SenderStoreID,
		ReceiverStoreID: r.ReceiverStoreID,
	}
}

// NewRoute builds the route variant for t, enforcing which stores are
// mandatory for the topology.
func NewRoute(t Type, p Parties) (Route, error) {
	if p.ReceiverStoreID == "" {
		return nil, ledger.NewError(ledger.ErrValidationFailed, ledger.CodeReceiverStoreRequired,
			"receiver store is required")
	}
	switch t {
	case TypeGroupage:
		return GroupageRoute{
			SenderActorID:   p.SenderActorID,
			ReceiverActorID: p.ReceiverActorID,
			ReceiverStoreID: p.ReceiverStoreID,
			SenderStoreID:   p.SenderStoreID,
			ParcelID:        p.ParcelID,
		}, nil
	case TypeStandard:
		if p.SenderStoreID == "" {
			return nil, ledger.NewError(ledger.ErrValidationFailed, ledger.CodeSenderStoreRequired,
				"sender store is required for STANDARD transfers")
		}
		return StandardRoute{
			SenderActorID:   p.SenderActorID,
			SenderStoreID:   p.SenderStoreID,
			ReceiverActorID: p.ReceiverActorID,
			ReceiverStoreID: p.ReceiverStoreID,
		}, nil
	}
	return nil, ledger.NewError(ledger.ErrValidationFailed, ledger.CodeInvalidTransferType,
		"unknown transfer type %q", t)
}

// =============================================================================
// TRANSFER
// =============================================================================

// DriverInfo describes the vehicle. It never affects the ledger.
type DriverInfo struct {
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	LicensePlate string `json:"licensePlate,omitempty"`
	VehicleType  string `json:"vehicleType,omitempty"`
}

type Transfer struct {
	ID           ID
	Code         string
	Route        Route
	CampaignID   ledger.CampaignID
	TransferDate time.Time
	Products     []ledger.ProductLine
	Status       ledger.Status
	Driver       *DriverInfo

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (t *Transfer) Type() Type { return t.Route.Type() }

// Clone returns a deep copy, safe to mutate.
func (t *Transfer) Clone() *Transfer {
	c := *t
	c.Products = append([]ledger.ProductLine(nil), t.Products...)
	if t.Driver != nil {
		d := *t.Driver
		c.Driver = &d
	}
	if t.DeletedAt != nil {
		at := *t.DeletedAt
		c.DeletedAt = &at
	}
	return &c
}

// =============================================================================
// INPUTS
// =============================================================================

// AuditContext identifies who performed an operation and from where.
type AuditContext struct {
	UserID    string
	UserRole  string
	IPAddress string
	UserAgent string
}

type CreateInput struct {
	Type    Type
	Parties Parties

	// CampaignID defaults to the active campaign.
	CampaignID ledger.CampaignID
	// TransferDate defaults to now.
	TransferDate time.Time
	Products     []ledger.ProductLine
	// Status defaults to validated; only pending or validated are accepted.
	Status ledger.Status
	Driver *DriverInfo
}

// UpdateInput carries the fields to change. Nil means "leave as is".
type UpdateInput struct {
	SenderActorID   *ledger.ActorID
	ReceiverActorID *ledger.ActorID
	SenderStoreID   *ledger.StoreID
	ReceiverStoreID *ledger.StoreID
	ParcelID        *string
	CampaignID      *ledger.CampaignID
	TransferDate    *time.Time
	Products        []ledger.ProductLine
	Driver          *DriverInfo
}

type StatusInput struct {
	Status ledger.Status
}

// =============================================================================
// READ PATH
// =============================================================================

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

type ListFilter struct {
	Page            int
	Limit           int
	Type            Type
	Status          ledger.Status
	SenderActorID   ledger.ActorID
	ReceiverActorID ledger.ActorID
	CampaignID      ledger.CampaignID
	// DateFrom and DateTo are inclusive calendar days (UTC); any time of
	// day they carry is ignored. See DateRange.
	DateFrom *time.Time
	DateTo   *time.Time
	// Search matches a substring of the code or the driver name.
	Search string
}

// DateRange turns DateFrom/DateTo into the half-open window
// [from, until) of transfer dates: from is the start of DateFrom's day and
// until the start of the day after DateTo. Either bound is nil when unset.
func (f ListFilter) DateRange() (from, until *time.Time) {
	if f.DateFrom != nil {
		d := startOfDay(*f.DateFrom)
		from = &d
	}
	if f.DateTo != nil {
		d := startOfDay(*f.DateTo).AddDate(0, 0, 1)
		until = &d
	}
	return from, until
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Normalize clamps paging to sane values.
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type Page struct {
	Items      []Transfer
	Total      int
	Page       int
	Limit      int
	TotalPages int
}
