package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Xausdorf/ledger-core/internal/domain/repository"
)

// Handler is the read-only query surface: transaction status is
// pollable while the retry scheduler resolves non-final states.
type Handler struct {
	uow    repository.UnitOfWork
	logger *slog.Logger
}

func NewHandler(uow repository.UnitOfWork, logger *slog.Logger) *Handler {
	return &Handler{uow: uow, logger: logger}
}

type transactionResponse struct {
	TxnID       string          `json:"txn_id"`
	PaymentID   string          `json:"payment_id"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Final       bool            `json:"final"`
	RetryCount  int             `json:"retry_count"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (h *Handler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	txn, err := h.uow.Transactions().FindByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("transaction lookup failed", "txn_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, transactionResponse{
		TxnID:       txn.ID(),
		PaymentID:   txn.PaymentID(),
		FromAccount: txn.FromAccount(),
		ToAccount:   txn.ToAccount(),
		Amount:      txn.Amount(),
		Status:      txn.Status().String(),
		Final:       txn.Status().IsTerminal(),
		RetryCount:  txn.RetryCount(),
		CreatedAt:   txn.CreatedAt(),
		UpdatedAt:   txn.UpdatedAt(),
	})
}

type balanceResponse struct {
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
}

func (h *Handler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	account, err := h.uow.Accounts().FindByNumber(r.Context(), number)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("balance lookup failed", "account", number, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, balanceResponse{
		AccountNumber: account.Number(),
		Balance:       account.Balance(),
	})
}

type entryResponse struct {
	EntryID       string          `json:"entry_id"`
	TxnID         string          `json:"txn_id"`
	PaymentID     string          `json:"payment_id"`
	AccountNumber string          `json:"account_number"`
	EntryType     string          `json:"entry_type"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (h *Handler) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	entries, err := h.uow.Ledger().ListByAccount(r.Context(), number)
	if err != nil {
		h.logger.Error("ledger listing failed", "account", number, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			EntryID:       e.EntryID,
			TxnID:         e.TxnID,
			PaymentID:     e.PaymentID,
			AccountNumber: e.AccountNumber,
			EntryType:     string(e.EntryType),
			Amount:        e.Amount,
			Description:   e.Description,
			CreatedAt:     e.CreatedAt,
		})
	}
	h.writeJSON(w, out)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encoding failed", "error", err)
	}
}

