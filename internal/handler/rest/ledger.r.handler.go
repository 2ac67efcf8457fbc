package hrest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"ledger-core/internal/domain"
	"ledger-core/internal/usecase"
	"ledger-core/pkg/response"
	"ledger-core/pkg/xerrors"
)

type LedgerRestHandler struct {
	accountUC  *usecase.AccountUsecase
	transferUC *usecase.TransferUsecase
	ledgerUC   *usecase.LedgerUsecase
	limitUC    *usecase.LimitUsecase
	reversalUC *usecase.ReversalUsecase
}

func NewLedgerRestHandler(
	accountUC *usecase.AccountUsecase,
	transferUC *usecase.TransferUsecase,
	ledgerUC *usecase.LedgerUsecase,
	limitUC *usecase.LimitUsecase,
	reversalUC *usecase.ReversalUsecase,
) *LedgerRestHandler {
	return &LedgerRestHandler{
		accountUC:  accountUC,
		transferUC: transferUC,
		ledgerUC:   ledgerUC,
		limitUC:    limitUC,
		reversalUC: reversalUC,
	}
}

type TransferJSON struct {
	SourceAccount string          `json:"source_account"`
	DestAccount   string          `json:"dest_account"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Channel       string          `json:"channel,omitempty"`
	Category      string          `json:"category,omitempty"`
	Description   string          `json:"description,omitempty"`
}

func (h *LedgerRestHandler) ExecuteTransfer(w http.ResponseWriter, r *http.Request) {
	var in TransferJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	initiator := r.Header.Get("X-User-Id")
	if initiator == "" {
		response.Error(w, http.StatusUnauthorized, "missing X-User-Id header")
		return
	}

	req := &domain.TransferRequest{
		SourceAccountNumber: in.SourceAccount,
		DestAccountNumber:   in.DestAccount,
		Amount:              in.Amount,
		Currency:            in.Currency,
		Channel:             domain.Channel(in.Channel),
		Category:            domain.LimitCategory(in.Category),
		Description:         in.Description,
		IdempotencyKey:      r.Header.Get("X-Idempotency-Key"),
		InitiatorID:         initiator,
	}

	pair, err := h.transferUC.Execute(r.Context(), req)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"source": in.SourceAccount,
			"dest":   in.DestAccount,
		}).Warn("transfer rejected")
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if pair.Duplicate {
		status = http.StatusOK
	}
	response.JSON(w, status, pair)
}

func (h *LedgerRestHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	pair, err := h.transferUC.GetTransferByRef(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, pair)
}

func (h *LedgerRestHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.transferUC.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, txn)
}

func (h *LedgerRestHandler) GetJournalEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledgerUC.ListEntries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, entries)
}

// ValidateJournalBalance is the audit hook: recompute the DR/CR sums for one
// transaction and report whether they match.
func (h *LedgerRestHandler) ValidateJournalBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ledgerUC.ValidateBalance(r.Context(), id); err != nil {
		if errors.Is(err, xerrors.ErrLedgerInconsistency) {
			log.WithField("transaction_id", id).Error("journal balance check failed")
			response.JSON(w, http.StatusOK, map[string]any{"transaction_id": id, "balanced": false})
			return
		}
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{"transaction_id": id, "balanced": true})
}

func (h *LedgerRestHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var in usecase.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.accountUC.Create(r.Context(), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, account)
}

func (h *LedgerRestHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountUC.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, account)
}

type AccountStatusJSON struct {
	Status string `json:"status"`
}

func (h *LedgerRestHandler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	var in AccountStatusJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.accountUC.SetStatus(r.Context(), chi.URLParam(r, "number"), domain.AccountStatus(in.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, account)
}

func (h *LedgerRestHandler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	txns, err := h.transferUC.ListAccountTransactions(r.Context(), chi.URLParam(r, "number"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, txns)
}

func (h *LedgerRestHandler) GetLimitUsage(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountUC.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, err)
		return
	}
	limits, err := h.limitUC.GetUsage(r.Context(), account.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, limits)
}

type LimitJSON struct {
	AccountNumber string          `json:"account_number"`
	LimitType     string          `json:"limit_type"`
	Category      string          `json:"category"`
	LimitAmount   decimal.Decimal `json:"limit_amount"`
}

func (h *LedgerRestHandler) CreateLimit(w http.ResponseWriter, r *http.Request) {
	var in LimitJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.accountUC.GetByNumber(r.Context(), in.AccountNumber)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := &domain.TransferLimit{
		AccountID:   account.ID,
		LimitType:   domain.LimitType(in.LimitType),
		Category:    domain.LimitCategory(in.Category),
		LimitAmount: in.LimitAmount,
		IsActive:    true,
	}
	if err := h.limitUC.CreateLimit(r.Context(), limit); err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, limit)
}

type ReversalJSON struct {
	OriginalTransferRef string `json:"original_transfer_ref"`
	ReasonCode          string `json:"reason_code"`
}

func (h *LedgerRestHandler) RequestReversal(w http.ResponseWriter, r *http.Request) {
	var in ReversalJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	initiator := r.Header.Get("X-User-Id")
	if initiator == "" {
		response.Error(w, http.StatusUnauthorized, "missing X-User-Id header")
		return
	}

	rec, err := h.reversalUC.Request(r.Context(), &domain.ReversalRequest{
		OriginalTransferRef: in.OriginalTransferRef,
		InitiatorID:         initiator,
		ReasonCode:          in.ReasonCode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, rec)
}

func (h *LedgerRestHandler) ApproveReversal(w http.ResponseWriter, r *http.Request) {
	approver := r.Header.Get("X-User-Id")
	if approver == "" {
		response.Error(w, http.StatusUnauthorized, "missing X-User-Id header")
		return
	}

	rec, err := h.reversalUC.Approve(r.Context(), chi.URLParam(r, "id"), approver)
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

func (h *LedgerRestHandler) CancelReversal(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reversalUC.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

func (h *LedgerRestHandler) GetReversal(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reversalUC.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

func (h *LedgerRestHandler) registerRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Post("/transfers", h.ExecuteTransfer)
		r.Get("/transfers/{ref}", h.GetTransfer)

		r.Get("/transactions/{id}", h.GetTransaction)
		r.Get("/transactions/{id}/entries", h.GetJournalEntries)
		r.Get("/transactions/{id}/balance", h.ValidateJournalBalance)

		r.Post("/accounts", h.CreateAccount)
		r.Get("/accounts/{number}", h.GetAccount)
		r.Put("/accounts/{number}/status", h.SetAccountStatus)
		r.Get("/accounts/{number}/transactions", h.ListAccountTransactions)
		r.Get("/accounts/{number}/limits", h.GetLimitUsage)

		r.Post("/limits", h.CreateLimit)

		r.Post("/reversals", h.RequestReversal)
		r.Get("/reversals/{id}", h.GetReversal)
		r.Post("/reversals/{id}/approve", h.ApproveReversal)
		r.Post("/reversals/{id}/cancel", h.CancelReversal)
	})
}

func (h *LedgerRestHandler) Start(addr string) {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	h.registerRoutes(r)

	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	log.Infof("🚀 Ledger REST service running on %s", addr)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("failed to start server: %v", err)
	}
}

// writeError maps the core's error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, xerrors.ErrInvalidInput),
		errors.Is(err, xerrors.ErrInvalidAmount),
		errors.Is(err, xerrors.ErrSelfTransfer),
		errors.Is(err, xerrors.ErrCurrencyMismatch):
		response.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, xerrors.ErrNotFound),
		errors.Is(err, xerrors.ErrAccountNotFound):
		response.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, xerrors.ErrInsufficientBalance),
		errors.Is(err, xerrors.ErrLimitExceeded),
		errors.Is(err, xerrors.ErrAccountFrozen),
		errors.Is(err, xerrors.ErrAccountInactive),
		errors.Is(err, xerrors.ErrReversalIneligible),
		errors.Is(err, xerrors.ErrReversalWindowExpired),
		errors.Is(err, xerrors.ErrAlreadyReversed),
		errors.Is(err, xerrors.ErrInvalidReversalState):
		response.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, xerrors.ErrDuplicateRequest):
		response.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, xerrors.ErrConcurrentModification),
		errors.Is(err, xerrors.ErrIdempotencyUnavailable):
		response.Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.WithError(err).Error("unhandled error")
		response.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
