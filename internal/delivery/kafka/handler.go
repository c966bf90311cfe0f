// Package kafka decodes broker messages into use case calls. Malformed
// payloads are acknowledged and dropped; redelivering them can never
// succeed.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
	"github.com/Xausdorf/ledger-core/internal/domain/event"
	"github.com/Xausdorf/ledger-core/internal/usecase/ledgerwriter"
	"github.com/Xausdorf/ledger-core/internal/usecase/payment"
)

// PaymentHandler feeds payment initiations into the state machine.
type PaymentHandler struct {
	svc    *payment.Service
	logger *slog.Logger
}

func NewPaymentHandler(svc *payment.Service, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, logger: logger}
}

func (h *PaymentHandler) Handle(ctx context.Context, value []byte) error {
	var evt event.PaymentRequested
	if err := json.Unmarshal(value, &evt); err != nil {
		h.logger.Error("dropping malformed payment initiation", "error", err)
		return nil
	}
	if evt.PaymentID == "" || evt.FromAccount == "" || evt.ToAccount == "" {
		h.logger.Error("dropping incomplete payment initiation", "payment_id", evt.PaymentID)
		return nil
	}

	txn, err := h.svc.Accept(ctx, payment.Request{
		PaymentID:   evt.PaymentID,
		UserID:      evt.UserID,
		FromAccount: evt.FromAccount,
		ToAccount:   evt.ToAccount,
		Amount:      evt.Amount,
		Description: evt.Description,
		BankCode:    entity.BankCode(evt.BankCode),
	})
	if err != nil {
		if errors.Is(err, entity.ErrNonPositiveAmount) || errors.Is(err, payment.ErrSameAccount) {
			h.logger.Error("dropping rejected payment initiation",
				"payment_id", evt.PaymentID, "error", err)
			return nil
		}
		return err
	}

	h.logger.Info("payment accepted",
		"payment_id", evt.PaymentID, "txn_id", txn.ID(), "status", txn.Status().String())
	return nil
}

// LedgerHandler feeds completion events into the ledger writer.
type LedgerHandler struct {
	writer *ledgerwriter.Writer
	logger *slog.Logger
}

func NewLedgerHandler(writer *ledgerwriter.Writer, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{writer: writer, logger: logger}
}

func (h *LedgerHandler) Handle(ctx context.Context, value []byte) error {
	var evt event.TransactionCompleted
	if err := json.Unmarshal(value, &evt); err != nil {
		h.logger.Error("dropping malformed completion event", "error", err)
		return nil
	}
	if evt.TxnID == "" {
		h.logger.Error("dropping completion event without txn id")
		return nil
	}
	return h.writer.HandleCompleted(ctx, evt)
}
