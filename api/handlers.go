/*
handlers.go - HTTP API handlers

PURPOSE:
  Exposes liquidity, quests, reports and ledger history over REST.
  Handlers parse the request, call one domain operation and map its
  error kind to a status code.

ENDPOINTS:
  Market:
    POST /api/v0/market/{contractId}/add-liquidity  Subsidize a market

  Quests:
    POST /api/v0/quests/shares            Recount today's shares
    POST /api/v0/quests/referrals         Recount this week's referrals
    POST /api/v0/quests/markets-created   Recount this week's markets

  Reports:
    GET  /api/v0/reports                  Newest reports with content

  Ledger:
    GET  /api/v0/txns                     Ledger history

  Ops:
    GET  /api/v0/format?amount=           Display forms of an amount
    GET  /health                          Store connectivity

AUTHENTICATION:
  An upstream gateway authenticates callers and sets X-User-Id. Calls
  without it are rejected with 401.

ERROR HANDLING:
  401 Unauthorized           account missing or no caller
  403 Forbidden, Closed,     contract owned by someone else, trading
      Insufficient           closed, balance too low
  400 InvalidAmount          bad amount or query
  404 NotFound               contract missing
  409 Conflict               retries exhausted on lock contention
  500 Internal, Unsupported  reward failure, wrong mechanism

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/market-engine/format"
	"github.com/warp/market-engine/generic"
	"github.com/warp/market-engine/market"
	"github.com/warp/market-engine/quests"
	"github.com/warp/market-engine/reports"
)

// UserHeader carries the authenticated caller id.
const UserHeader = "X-User-Id"

const (
	defaultTxnLimit = 100
	maxTxnLimit     = 1000
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

type LiquidityAdder interface {
	AddLiquidity(ctx context.Context, contractID string, amount float64, userID generic.AccountID) (market.LiquidityProvision, error)
}

type QuestCompleter interface {
	CompleteSharingQuest(ctx context.Context, userID generic.AccountID) (quests.Result, error)
	CompleteReferralsQuest(ctx context.Context, userID generic.AccountID) (quests.Result, error)
	CompleteCalculatedQuestFromTrigger(ctx context.Context, userID generic.AccountID, questType quests.QuestType, idempotencyKey, contractID string) (quests.Result, error)
}

type ReportLister interface {
	List(ctx context.Context) ([]reports.LiteReport, error)
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Market  LiquidityAdder
	Quests  QuestCompleter
	Reports ReportLister
	Ledger  generic.EntryReader
	Checks  map[string]Pinger

	Logger *zap.Logger
	Now    func() time.Time
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// =============================================================================
// MARKET
// =============================================================================

// AddLiquidity moves mana from the caller into a market's subsidy pool.
// POST /api/v0/market/{contractId}/add-liquidity
func (h *Handler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req AddLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	prov, err := h.Market.AddLiquidity(r.Context(), chi.URLParam(r, "contractId"), req.Amount, userID)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProvisionDTO(prov))
}

// =============================================================================
// QUESTS
// =============================================================================

// CompleteSharesQuest POST /api/v0/quests/shares
func (h *Handler) CompleteSharesQuest(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	h.writeQuestResult(w, r)(h.Quests.CompleteSharingQuest(r.Context(), userID))
}

// CompleteReferralsQuest POST /api/v0/quests/referrals
func (h *Handler) CompleteReferralsQuest(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	h.writeQuestResult(w, r)(h.Quests.CompleteReferralsQuest(r.Context(), userID))
}

// CompleteMarketsCreatedQuest POST /api/v0/quests/markets-created
// A named contractId must be the caller's own market (404/403 otherwise).
func (h *Handler) CompleteMarketsCreatedQuest(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req QuestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	h.writeQuestResult(w, r)(h.Quests.CompleteCalculatedQuestFromTrigger(
		r.Context(), userID, quests.QuestMarketsCreated, req.IdempotencyKey, req.ContractID))
}

func (h *Handler) writeQuestResult(w http.ResponseWriter, r *http.Request) func(quests.Result, error) {
	return func(res quests.Result, err error) {
		if err != nil {
			h.writeOpError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toQuestResultDTO(res))
	}
}

// =============================================================================
// REPORTS AND LEDGER
// =============================================================================

// ListReports GET /api/v0/reports
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Reports.List(r.Context())
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	if rows == nil {
		rows = []reports.LiteReport{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// ListTxns returns ledger entries, newest first.
// GET /api/v0/txns?fromId=&toId=&category=&limit=
func (h *Handler) ListTxns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultTxnLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxTxnLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000", err)
			return
		}
		limit = n
	}

	entries, err := h.Ledger.Entries(r.Context(), generic.EntryFilter{
		FromID:   generic.AccountID(q.Get("fromId")),
		ToID:     generic.AccountID(q.Get("toId")),
		Category: generic.Category(q.Get("category")),
		Limit:    limit,
	})
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// OPS
// =============================================================================

// Format GET /api/v0/format?amount=1234.5
func (h *Handler) Format(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		writeError(w, http.StatusBadRequest, "amount must be a finite number", err)
		return
	}
	writeJSON(w, http.StatusOK, FormatDTO{
		Amount:            amount,
		Money:             format.Money(amount),
		MoneyWithDecimals: format.MoneyWithDecimals(amount),
		WithCommas:        format.WithCommas(amount),
		ManaToUSD:         format.ManaToUSD(amount),
		Percent:           format.Percent(amount),
		LargeNumber:       format.LargeNumber(amount),
	})
}

// Health GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.Checks))
	for name, p := range h.Checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	dto := newHealthDTO(checks, h.now())
	status := http.StatusOK
	if dto.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func callerID(w http.ResponseWriter, r *http.Request) (generic.AccountID, bool) {
	id := r.Header.Get(UserHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "Not authorized", nil)
		return "", false
	}
	return generic.AccountID(id), true
}

// statusOf maps an error kind to an HTTP status. An OperationError is
// classified by its Kind alone so that its cause cannot change the status.
func statusOf(err error) int {
	var opErr *generic.OperationError
	if errors.As(err, &opErr) {
		err = opErr.Kind
	}
	switch {
	case errors.Is(err, generic.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrForbidden), errors.Is(err, generic.ErrClosed), errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeOpError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger().Error("request failed", fields...)
	} else {
		h.logger().Debug("request rejected", fields...)
	}

	var opErr *generic.OperationError
	if errors.As(err, &opErr) {
		details := ""
		if opErr.Err != nil && status < http.StatusInternalServerError {
			details = opErr.Err.Error()
		}
		writeJSON(w, status, ErrorResponse{Error: opErr.Message, Details: details})
		return
	}
	if status >= http.StatusInternalServerError {
		writeError(w, status, "Internal error", nil)
		return
	}
	writeError(w, status, generic.MessageOf(err), nil)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
