/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the transfer
 * engine; every business decision lives in internal/app.
 *
 * Error responses carry a stable error kind plus a human-readable message and
 * never leak internal detail; storage failures are logged and surfaced as a
 * generic 500.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ferrobank/ledger-service/internal/app"
	"github.com/ferrobank/ledger-service/internal/domain"
	"github.com/ferrobank/ledger-service/internal/store"
)

// AdminRole guards the audit listing endpoint.
const AdminRole = "admin"

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// errorResponse is the uniform error body: a stable kind for programmatic
// handling and a message for humans.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, kind, message string) {
	h.writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

// writeServiceError maps sentinel errors from the app and store layers onto
// HTTP statuses and stable error kinds.
func (h *LedgerHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, app.ErrMissingField):
		h.writeError(w, http.StatusBadRequest, "validation", "All required fields must be provided")
	case errors.Is(err, app.ErrAmountNotPositive):
		h.writeError(w, http.StatusBadRequest, "validation", "Amount must be a positive number")
	case errors.Is(err, app.ErrCurrencyNotAllowed):
		h.writeError(w, http.StatusBadRequest, "validation", "Currency is not supported")
	case errors.Is(err, app.ErrCurrencyMismatch):
		h.writeError(w, http.StatusBadRequest, "validation", "Sender and receiver account currencies must match")
	case errors.Is(err, app.ErrSameAccount):
		h.writeError(w, http.StatusBadRequest, "validation", "Source and destination accounts must differ")
	case errors.Is(err, app.ErrDestinationNotExternal):
		h.writeError(w, http.StatusBadRequest, "validation", "Destination account belongs to this bank; use an internal transfer")
	case errors.Is(err, app.ErrNotAccountOwner):
		h.writeError(w, http.StatusForbidden, "authorization", "You do not have access to this account")
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "One or both accounts not found")
	case errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Transfer not found")
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusBadRequest, "insufficient_funds", "Insufficient funds in sender account")
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many transfer requests; try again shortly")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"request failed\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "storage", "Server error")
	}
}

func (h *LedgerHandlers) principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "storage", "Could not get principal from context")
		return domain.Principal{}, false
	}
	return principal, true
}

// OpenAccountHandler handles account-opening requests.
func (h *LedgerHandlers) OpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req domain.OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}

	account, err := h.service.OpenAccount(r.Context(), principal, req.Currency)
	if err != nil {
		h.writeServiceError(w, "open_account", err)
		return
	}

	log.Printf("level=info component=api endpoint=open_account outcome=created owner_id=%d account_number=%s currency=%s", principal.UserID, account.AccountNumber, account.Currency)
	h.writeJSON(w, http.StatusCreated, account)
}

// ListAccountsHandler returns the requester's accounts.
func (h *LedgerHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), principal)
	if err != nil {
		h.writeServiceError(w, "list_accounts", err)
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	h.writeJSON(w, http.StatusOK, accounts)
}

// DepositHandler credits one of the requester's accounts.
func (h *LedgerHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req domain.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}

	account, err := h.service.Deposit(r.Context(), principal, req.AccountNumber, req.Amount)
	if err != nil {
		h.writeServiceError(w, "deposit", err)
		return
	}

	log.Printf("level=info component=api endpoint=deposit outcome=ok owner_id=%d account_number=%s amount=%s", principal.UserID, account.AccountNumber, req.Amount)
	h.writeJSON(w, http.StatusOK, account)
}

// InternalTransferHandler handles transfers between accounts of this bank.
func (h *LedgerHandlers) InternalTransferHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req domain.InternalTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	entry, err := h.service.TransferInternal(r.Context(), principal, req)
	if err != nil {
		h.writeServiceError(w, "internal_transfer", err)
		return
	}

	log.Printf("level=info component=api endpoint=internal_transfer outcome=completed owner_id=%d tx_id=%d amount=%s %s", principal.UserID, entry.ID, entry.Amount, entry.Currency)
	h.writeJSON(w, http.StatusOK, entry)
}

// ExternalTransferHandler handles cross-bank transfers.
func (h *LedgerHandlers) ExternalTransferHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req domain.ExternalTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	entry, err := h.service.TransferExternal(r.Context(), principal, req)
	if err != nil {
		h.writeServiceError(w, "external_transfer", err)
		return
	}

	log.Printf("level=info component=api endpoint=external_transfer outcome=%s owner_id=%d tx_id=%d amount=%s %s", entry.Status, principal.UserID, entry.ID, entry.Amount, entry.Currency)
	h.writeJSON(w, http.StatusAccepted, entry)
}

// TransferStatusHandler returns one external transfer by its settlement
// correlation id, for clients polling an in-flight transfer.
func (h *LedgerHandlers) TransferStatusHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	entry, err := h.service.FindTransfer(r.Context(), principal, chi.URLParam(r, "externalID"))
	if err != nil {
		h.writeServiceError(w, "transfer_status", err)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

// ListTransactionsHandler returns the requester's ledger history.
func (h *LedgerHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	transactions, err := h.service.ListTransactions(r.Context(), principal)
	if err != nil {
		h.writeServiceError(w, "list_transactions", err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// ListAuditLogsHandler returns recent audit records. Admin only.
func (h *LedgerHandlers) ListAuditLogsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	isAdmin, err := h.service.HasRole(r.Context(), principal.UserID, AdminRole)
	if err != nil {
		h.writeServiceError(w, "list_audit_logs", err)
		return
	}
	if !isAdmin {
		h.writeError(w, http.StatusForbidden, "authorization", "Administrator role required")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "validation", "Invalid limit")
			return
		}
		limit = parsed
	}

	logs, err := h.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "list_audit_logs", err)
		return
	}
	if logs == nil {
		logs = []domain.AuditLog{}
	}
	h.writeJSON(w, http.StatusOK, logs)
}
