/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP surface. Domain types stay free of transport
  concerns; conversion lives here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES:
  transferDate, startDate and endDate are calendar dates (YYYY-MM-DD); an
  RFC 3339 timestamp is accepted on input. Timestamps are RFC 3339 UTC.

WEIGHTS:
  Kilograms as decimal strings ("500.5"). Plain JSON numbers are accepted on
  input.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/commodity-ledger/ledger"
	"github.com/warp/commodity-ledger/transfer"
)

// =============================================================================
// TRANSFERS
// =============================================================================

type ProductDTO struct {
	Quality      string          `json:"quality"`
	Weight       decimal.Decimal `json:"weight"`
	NumberOfBags int64           `json:"numberOfBags"`
}

type TransferDTO struct {
	ID              string               `json:"id"`
	Code            string               `json:"code"`
	TransferType    string               `json:"transferType"`
	SenderActorID   string               `json:"senderActorId"`
	ReceiverActorID string               `json:"receiverActorId"`
	SenderStoreID   string               `json:"senderStoreId,omitempty"`
	ReceiverStoreID string               `json:"receiverStoreId"`
	ParcelID        string               `json:"parcelId,omitempty"`
	CampaignID      string               `json:"campaignId"`
	TransferDate    string               `json:"transferDate"`
	Products        []ProductDTO         `json:"products"`
	Status          string               `json:"status"`
	DriverInfo      *transfer.DriverInfo `json:"driverInfo,omitempty"`
	CreatedAt       string               `json:"createdAt"`
	UpdatedAt       string               `json:"updatedAt"`
}

type PageDTO struct {
	Items      []TransferDTO `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
}

type CreateTransferRequest struct {
	TransferType    string               `json:"transferType"`
	SenderActorID   string               `json:"senderActorId"`
	ReceiverActorID string               `json:"receiverActorId"`
	SenderStoreID   string               `json:"senderStoreId"`
	ReceiverStoreID string               `json:"receiverStoreId"`
	ParcelID        string               `json:"parcelId"`
	CampaignID      string               `json:"campaignId"`
	TransferDate    string               `json:"transferDate"`
	Products        []ProductDTO         `json:"products"`
	Status          string               `json:"status"`
	DriverInfo      *transfer.DriverInfo `json:"driverInfo"`
}

// UpdateTransferRequest is a partial update: absent fields keep their value.
// An absent products list keeps the stored one.
type UpdateTransferRequest struct {
	SenderActorID   *string              `json:"senderActorId"`
	ReceiverActorID *string              `json:"receiverActorId"`
	SenderStoreID   *string              `json:"senderStoreId"`
	ReceiverStoreID *string              `json:"receiverStoreId"`
	ParcelID        *string              `json:"parcelId"`
	CampaignID      *string              `json:"campaignId"`
	TransferDate    *string              `json:"transferDate"`
	Products        []ProductDTO         `json:"products"`
	DriverInfo      *transfer.DriverInfo `json:"driverInfo"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// =============================================================================
// LEDGER
// =============================================================================

type GroupageBalanceDTO struct {
	ActorID     string          `json:"actorId"`
	CampaignID  string          `json:"campaignId"`
	OpaID       string          `json:"opaId"`
	Quality     string          `json:"quality"`
	ParcelID    string          `json:"parcelId,omitempty"`
	TotalWeight decimal.Decimal `json:"totalWeight"`
	TotalBags   int64           `json:"totalBags"`
	UpdatedAt   string          `json:"updatedAt"`
}

type StockBalanceDTO struct {
	StoreID     string          `json:"storeId"`
	ActorID     string          `json:"actorId"`
	CampaignID  string          `json:"campaignId"`
	Quality     string          `json:"quality"`
	TotalWeight decimal.Decimal `json:"totalWeight"`
	TotalBags   int64           `json:"totalBags"`
	UpdatedAt   string          `json:"updatedAt"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	UserID    string         `json:"userId,omitempty"`
	UserRole  string         `json:"userRole,omitempty"`
	OldValues map[string]any `json:"oldValues,omitempty"`
	NewValues map[string]any `json:"newValues,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

// =============================================================================
// REFERENCE DATA (admin)
// =============================================================================

type ActorRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

type StoreRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ActorID     string   `json:"actorId"`
	CampaignIDs []string `json:"campaignIds"`
}

type CampaignRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Active    bool   `json:"active"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toTransferDTO(t *transfer.Transfer) TransferDTO {
	p := t.Route.Parties()
	products := make([]ProductDTO, len(t.Products))
	for i, line := range t.Products {
		products[i] = ProductDTO{
			Quality:      string(line.Quality),
			Weight:       line.Weight,
			NumberOfBags: line.NumberOfBags,
		}
	}
	return TransferDTO{
		ID:              string(t.ID),
		Code:            t.Code,
		TransferType:    string(t.Type()),
		SenderActorID:   string(p.SenderActorID),
		ReceiverActorID: string(p.ReceiverActorID),
		SenderStoreID:   string(p.SenderStoreID),
		ReceiverStoreID: string(p.ReceiverStoreID),
		ParcelID:        p.ParcelID,
		CampaignID:      string(t.CampaignID),
		TransferDate:    t.TransferDate.Format(time.DateOnly),
		Products:        products,
		Status:          string(t.Status),
		DriverInfo:      t.Driver,
		CreatedAt:       t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toPageDTO(p *transfer.Page) PageDTO {
	items := make([]TransferDTO, len(p.Items))
	for i := range p.Items {
		items[i] = toTransferDTO(&p.Items[i])
	}
	return PageDTO{
		Items:      items,
		Total:      p.Total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: p.TotalPages,
	}
}

func toProductLines(in []ProductDTO) []ledger.ProductLine {
	if in == nil {
		return nil
	}
	lines := make([]ledger.ProductLine, len(in))
	for i, p := range in {
		lines[i] = ledger.ProductLine{
			Quality:      ledger.Quality(p.Quality),
			Weight:       p.Weight,
			NumberOfBags: p.NumberOfBags,
		}
	}
	return lines
}

func toGroupageDTOs(entries []ledger.GroupageEntry) []GroupageBalanceDTO {
	dtos := make([]GroupageBalanceDTO, len(entries))
	for i, e := range entries {
		dtos[i] = GroupageBalanceDTO{
			ActorID:     string(e.Key.ActorID),
			CampaignID:  string(e.Key.CampaignID),
			OpaID:       string(e.Key.OpaID),
			Quality:     string(e.Key.Quality),
			ParcelID:    e.Key.ParcelID,
			TotalWeight: e.Total.Weight,
			TotalBags:   e.Total.Bags,
			UpdatedAt:   e.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}
	return dtos
}

func toStockDTOs(entries []ledger.StoreEntry) []StockBalanceDTO {
	dtos := make([]StockBalanceDTO, len(entries))
	for i, e := range entries {
		dtos[i] = StockBalanceDTO{
			StoreID:     string(e.Key.StoreID),
			ActorID:     string(e.Key.ActorID),
			CampaignID:  string(e.Key.CampaignID),
			Quality:     string(e.Key.Quality),
			TotalWeight: e.Total.Weight,
			TotalBags:   e.Total.Bags,
			UpdatedAt:   e.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}
	return dtos
}

func toAuditDTOs(entries []transfer.AuditEntry) []AuditEntryDTO {
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:        e.ID,
			Action:    e.Action,
			UserID:    e.UserID,
			UserRole:  e.UserRole,
			OldValues: e.OldValues,
			NewValues: e.NewValues,
			IPAddress: e.IPAddress,
			UserAgent: e.UserAgent,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return dtos
}

// parseDate accepts YYYY-MM-DD or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return t.UTC(), nil
}
