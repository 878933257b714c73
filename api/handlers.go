/*
handlers.go - HTTP API handlers for the transfer ledger

PURPOSE:
  Exposes the transfer service over REST. Handles HTTP request/response and
  JSON serialization, and delegates every decision to transfer.Service.

ENDPOINTS:
  Transfers:
    POST   /api/transfers              Create transfer
    GET    /api/transfers              List transfers (paginated)
    GET    /api/transfers/{id}         Get transfer
    PUT    /api/transfers/{id}         Update transfer
    PUT    /api/transfers/{id}/status  Change status
    DELETE /api/transfers/{id}         Soft-delete transfer
    GET    /api/transfers/{id}/audit   Audit trail

  Ledger:
    GET    /api/ledger/groupage        Groupage balances
    GET    /api/ledger/stores          Store balances

  Admin:
    POST   /api/admin/actors           Upsert actor
    POST   /api/admin/stores           Upsert store
    POST   /api/admin/campaigns        Upsert campaign

AUDIT CONTEXT:
  X-User-ID and X-User-Role headers, the client IP (after RealIP) and the
  User-Agent are attached to every mutation.

ERROR HANDLING:
  Errors are returned as {error, code, details} with the status derived from
  the error kind:
  - 400: Validation errors, malformed input
  - 404: Transfer or reference record not found
  - 409: State forbids the operation (transition, edit, delete, concurrent)
  - 500: Internal errors (message hidden, logged with the request id)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/commodity-ledger/ledger"
	"github.com/warp/commodity-ledger/logger"
	"github.com/warp/commodity-ledger/transfer"
)

const codeInvalidRequest = "INVALID_REQUEST"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// ReferenceStore is where admin endpoints write actors, stores and campaigns.
type ReferenceStore interface {
	SaveActor(ctx context.Context, a transfer.Actor) error
	SaveStore(ctx context.Context, s transfer.Store) error
	SaveCampaign(ctx context.Context, c transfer.Campaign) error
}

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *transfer.Service
	Reference ReferenceStore
	// Campaigns is invalidated after campaign upserts; may be nil.
	Campaigns *transfer.CachedCampaigns
	// DB backs /healthz; may be nil.
	DB Pinger
}

func NewHandler(svc *transfer.Service, ref ReferenceStore, campaigns *transfer.CachedCampaigns, db Pinger) *Handler {
	return &Handler{Service: svc, Reference: ref, Campaigns: campaigns, DB: db}
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// CreateTransfer creates a transfer.
// POST /api/transfers
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if !decode(w, r, &req) {
		return
	}

	in := transfer.CreateInput{
		Type: transfer.Type(req.TransferType),
		Parties: transfer.Parties{
			SenderActorID:   ledger.ActorID(req.SenderActorID),
			ReceiverActorID: ledger.ActorID(req.ReceiverActorID),
			SenderStoreID:   ledger.StoreID(req.SenderStoreID),
			ReceiverStoreID: ledger.StoreID(req.ReceiverStoreID),
			ParcelID:        req.ParcelID,
		},
		CampaignID: ledger.CampaignID(req.CampaignID),
		Products:   toProductLines(req.Products),
		Status:     ledger.Status(req.Status),
		Driver:     req.DriverInfo,
	}
	if req.TransferDate != "" {
		date, err := parseDate(req.TransferDate)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		in.TransferDate = date
	}

	t, err := h.Service.Create(r.Context(), in, auditContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferDTO(t))
}

// ListTransfers returns one page of transfers.
// GET /api/transfers?page=&limit=&transferType=&status=&senderActorId=
//
//	&receiverActorId=&campaignId=&dateFrom=&dateTo=&search=
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := transfer.ListFilter{
		SenderActorID:   ledger.ActorID(q.Get("senderActorId")),
		ReceiverActorID: ledger.ActorID(q.Get("receiverActorId")),
		CampaignID:      ledger.CampaignID(q.Get("campaignId")),
		Search:          q.Get("search"),
	}

	var err error
	if f.Page, err = intParam(q.Get("page")); err != nil {
		writeBadRequest(w, fmt.Errorf("page: %w", err))
		return
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, fmt.Errorf("limit: %w", err))
		return
	}
	if v := q.Get("transferType"); v != "" {
		if f.Type, err = transfer.ParseType(v); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	if v := q.Get("status"); v != "" {
		if f.Status, err = ledger.ParseStatus(v); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	for param, dst := range map[string]**time.Time{"dateFrom": &f.DateFrom, "dateTo": &f.DateTo} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		d, err := parseDate(v)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("%s: %w", param, err))
			return
		}
		*dst = &d
	}

	page, err := h.Service.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageDTO(page))
}

// GetTransfer returns a single transfer.
// GET /api/transfers/{id}
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Service.FindByID(r.Context(), transferID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(t))
}

// UpdateTransfer applies a partial update.
// PUT /api/transfers/{id}
func (h *Handler) UpdateTransfer(w http.ResponseWriter, r *http.Request) {
	var req UpdateTransferRequest
	if !decode(w, r, &req) {
		return
	}

	in := transfer.UpdateInput{
		SenderActorID:   convertPtr[ledger.ActorID](req.SenderActorID),
		ReceiverActorID: convertPtr[ledger.ActorID](req.ReceiverActorID),
		SenderStoreID:   convertPtr[ledger.StoreID](req.SenderStoreID),
		ReceiverStoreID: convertPtr[ledger.StoreID](req.ReceiverStoreID),
		ParcelID:        req.ParcelID,
		CampaignID:      convertPtr[ledger.CampaignID](req.CampaignID),
		Products:        toProductLines(req.Products),
		Driver:          req.DriverInfo,
	}
	if req.TransferDate != nil {
		date, err := parseDate(*req.TransferDate)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		in.TransferDate = &date
	}

	t, err := h.Service.Update(r.Context(), transferID(r), in, auditContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(t))
}

// UpdateTransferStatus moves a transfer through its lifecycle.
// PUT /api/transfers/{id}/status
func (h *Handler) UpdateTransferStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := ledger.ParseStatus(req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	t, err := h.Service.UpdateStatus(r.Context(), transferID(r), transfer.StatusInput{Status: status}, auditContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(t))
}

// DeleteTransfer soft-deletes a pending or cancelled transfer.
// DELETE /api/transfers/{id}
func (h *Handler) DeleteTransfer(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), transferID(r), auditContext(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTransferAudit returns the audit trail of a transfer, oldest first.
// GET /api/transfers/{id}/audit
func (h *Handler) GetTransferAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.History(r.Context(), transferID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GroupageBalances lists groupage rows, defaulting to the active campaign.
// GET /api/ledger/groupage?actorId=&opaId=&campaignId=&quality=
func (h *Handler) GroupageBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.Service.GroupageBalances(r.Context(), ledger.GroupageFilter{
		ActorID:    ledger.ActorID(q.Get("actorId")),
		OpaID:      ledger.ActorID(q.Get("opaId")),
		CampaignID: ledger.CampaignID(q.Get("campaignId")),
		Quality:    ledger.Quality(q.Get("quality")),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupageDTOs(entries))
}

// StockBalances lists store rows, defaulting to the active campaign.
// GET /api/ledger/stores?storeId=&actorId=&campaignId=&quality=
func (h *Handler) StockBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.Service.StockBalances(r.Context(), ledger.StockFilter{
		StoreID:    ledger.StoreID(q.Get("storeId")),
		ActorID:    ledger.ActorID(q.Get("actorId")),
		CampaignID: ledger.CampaignID(q.Get("campaignId")),
		Quality:    ledger.Quality(q.Get("quality")),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTOs(entries))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// UpsertActor creates or replaces an actor.
// POST /api/admin/actors
func (h *Handler) UpsertActor(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeBadRequest(w, errors.New("id is required"))
		return
	}
	status := transfer.ActorStatus(req.Status)
	if status == "" {
		status = transfer.ActorActive
	}
	if status != transfer.ActorActive && status != transfer.ActorInactive {
		writeBadRequest(w, fmt.Errorf("unknown actor status %q", req.Status))
		return
	}

	a := transfer.Actor{
		ID:     ledger.ActorID(req.ID),
		Name:   req.Name,
		Type:   transfer.ActorType(req.Type),
		Status: status,
	}
	if err := h.Reference.SaveActor(r.Context(), a); err != nil {
		writeServiceError(w, r, fmt.Errorf("save actor: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// UpsertStore creates or replaces a store and its campaign membership.
// POST /api/admin/stores
func (h *Handler) UpsertStore(w http.ResponseWriter, r *http.Request) {
	var req StoreRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeBadRequest(w, errors.New("id is required"))
		return
	}

	s := transfer.Store{
		ID:      ledger.StoreID(req.ID),
		Name:    req.Name,
		ActorID: ledger.ActorID(req.ActorID),
	}
	for _, id := range req.CampaignIDs {
		s.CampaignIDs = append(s.CampaignIDs, ledger.CampaignID(id))
	}
	if err := h.Reference.SaveStore(r.Context(), s); err != nil {
		writeServiceError(w, r, fmt.Errorf("save store: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// UpsertCampaign creates or replaces a campaign. Activating one deactivates
// the others.
// POST /api/admin/campaigns
func (h *Handler) UpsertCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeBadRequest(w, errors.New("id is required"))
		return
	}

	c := transfer.Campaign{ID: ledger.CampaignID(req.ID), Name: req.Name, Active: req.Active}
	var err error
	if req.StartDate != "" {
		if c.StartDate, err = parseDate(req.StartDate); err != nil {
			writeBadRequest(w, fmt.Errorf("startDate: %w", err))
			return
		}
	}
	if req.EndDate != "" {
		if c.EndDate, err = parseDate(req.EndDate); err != nil {
			writeBadRequest(w, fmt.Errorf("endDate: %w", err))
			return
		}
	}

	if err := h.Reference.SaveCampaign(r.Context(), c); err != nil {
		writeServiceError(w, r, fmt.Errorf("save campaign: %w", err))
		return
	}
	if h.Campaigns != nil {
		h.Campaigns.Invalidate()
	}
	writeJSON(w, http.StatusOK, req)
}

// Health reports whether the database answers.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			logger.FromContext(r.Context()).Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeServiceError maps err to its HTTP status. Internal errors are logged
// and never echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, status, ErrorResponse{Error: "internal error", Code: ledger.CodeInternal})
		return
	}

	resp := ErrorResponse{Error: err.Error(), Code: ledger.CodeOf(err)}
	var e *ledger.Error
	if errors.As(err, &e) {
		resp.Error = e.Message
		resp.Details = e.Details
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	case ledger.IsConflict(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: codeInvalidRequest})
}

// decode reads a JSON body into dst, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func auditContext(r *http.Request) transfer.AuditContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return transfer.AuditContext{
		UserID:    r.Header.Get("X-User-ID"),
		UserRole:  r.Header.Get("X-User-Role"),
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}

func transferID(r *http.Request) transfer.ID {
	return transfer.ID(chi.URLParam(r, "id"))
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func convertPtr[T ~string](s *string) *T {
	if s == nil {
		return nil
	}
	v := T(*s)
	return &v
}
