package payment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
	"github.com/Xausdorf/ledger-core/internal/domain/event"
	"github.com/Xausdorf/ledger-core/internal/domain/repository"
	"github.com/Xausdorf/ledger-core/internal/idgen"
	"github.com/Xausdorf/ledger-core/internal/infrastructure/memory"
	"github.com/Xausdorf/ledger-core/internal/usecase/payment"
	"github.com/Xausdorf/ledger-core/internal/usecase/payment/mocks"
	"github.com/Xausdorf/ledger-core/internal/usecase/transfer"
)

type fixture struct {
	uow       *memory.UnitOfWork
	publisher *mocks.MockEventPublisher
	svc       *payment.Service
}

func newFixture(t *testing.T, ctrl *gomock.Controller, engines map[entity.BankCode]transfer.Engine) *fixture {
	t.Helper()

	store := memory.NewStore()
	uow := memory.NewUnitOfWork(store)
	for number, balance := range map[string]int64{"ACC-001": 500, "ACC-002": 50} {
		err := uow.Accounts().Create(context.Background(), entity.NewAccount(number, decimal.NewFromInt(balance)))
		require.NoError(t, err)
	}

	if engines == nil {
		engines = map[entity.BankCode]transfer.Engine{
			entity.BankSelf: transfer.NewInternalEngine(uow),
		}
	}

	ids, err := idgen.New(1)
	require.NoError(t, err)

	publisher := mocks.NewMockEventPublisher(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &fixture{
		uow:       uow,
		publisher: publisher,
		svc:       payment.NewService(uow, transfer.NewRegistry(engines), publisher, ids, logger, 3),
	}
}

func internalRequest(paymentID string, amount int64) payment.Request {
	return payment.Request{
		PaymentID:   paymentID,
		UserID:      "user-1",
		FromAccount: "ACC-001",
		ToAccount:   "ACC-002",
		Amount:      decimal.NewFromInt(amount),
		Description: "groceries",
		BankCode:    entity.BankSelf,
	}
}

func TestAcceptCompletesInternalTransfer(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)

	var published event.TransactionCompleted
	f.publisher.EXPECT().
		PublishTransactionCompleted(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, evt event.TransactionCompleted) error {
			published = evt
			return nil
		}).
		Times(1)

	txn, err := f.svc.Accept(context.Background(), internalRequest("pay-1", 100))
	require.NoError(t, err)

	assert.Equal(t, entity.StatusCompleted, txn.Status())
	assert.Equal(t, txn.ID(), published.TxnID)
	assert.Equal(t, "pay-1", published.PaymentID)
	assert.True(t, published.Amount.Equal(decimal.NewFromInt(100)))

	payer, err := f.uow.Accounts().FindByNumber(context.Background(), "ACC-001")
	require.NoError(t, err)
	assert.True(t, payer.Balance().Equal(decimal.NewFromInt(400)))
}

func TestAcceptFailsOnInsufficientFunds(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)
	// No publish expected for a failed payment.

	txn, err := f.svc.Accept(context.Background(), internalRequest("pay-1", 9999))
	require.NoError(t, err)

	assert.Equal(t, entity.StatusFailed, txn.Status())

	payer, err := f.uow.Accounts().FindByNumber(context.Background(), "ACC-001")
	require.NoError(t, err)
	assert.True(t, payer.Balance().Equal(decimal.NewFromInt(500)))
}

func TestAcceptDeduplicatesByPaymentID(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)

	f.publisher.EXPECT().
		PublishTransactionCompleted(gomock.Any(), gomock.Any()).
		Return(nil).
		Times(1)

	first, err := f.svc.Accept(context.Background(), internalRequest("pay-1", 100))
	require.NoError(t, err)

	second, err := f.svc.Accept(context.Background(), internalRequest("pay-1", 100))
	require.NoError(t, err)

	assert.Equal(t, first.ID(), second.ID())

	// The redelivery did not move funds again.
	payer, err := f.uow.Accounts().FindByNumber(context.Background(), "ACC-001")
	require.NoError(t, err)
	assert.True(t, payer.Balance().Equal(decimal.NewFromInt(400)))
}

func TestAcceptRejectsInvalidRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)

	req := internalRequest("pay-1", 0)
	_, err := f.svc.Accept(context.Background(), req)
	assert.ErrorIs(t, err, entity.ErrNonPositiveAmount)

	req = internalRequest("pay-2", 100)
	req.ToAccount = req.FromAccount
	_, err = f.svc.Accept(context.Background(), req)
	assert.ErrorIs(t, err, payment.ErrSameAccount)
}

func TestAcceptTransientFailureLeavesTransactionInFlight(t *testing.T) {
	ctrl := gomock.NewController(t)

	engine := mocks.NewMockEngine(ctrl)
	engine.EXPECT().
		Process(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("rail unreachable"))

	f := newFixture(t, ctrl, map[entity.BankCode]transfer.Engine{
		entity.BankApex: engine,
	})

	req := internalRequest("pay-1", 100)
	req.BankCode = entity.BankApex

	txn, err := f.svc.Accept(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, entity.StatusProcessing, txn.Status())

	attempt, err := f.uow.Retries().FindByOriginalID(context.Background(), txn.ID(), entity.RetryTransaction)
	require.NoError(t, err)
	assert.Equal(t, entity.RetryPending, attempt.Status)
	assert.Equal(t, 3, attempt.MaxRetries)
}

func TestAcceptFailsUnroutableBankCode(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)

	req := internalRequest("pay-1", 100)
	req.BankCode = entity.BankCode("NOWHERE")

	txn, err := f.svc.Accept(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, txn.Status())
}

func TestAcceptAuthorizedOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)

	engine := mocks.NewMockEngine(ctrl)
	engine.EXPECT().
		Process(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, txn *entity.Transaction) (*entity.TransferResult, error) {
			return &entity.TransferResult{
				Success:     true,
				ReasonCode:  entity.ReasonAuthorized,
				ReferenceID: txn.ID(),
			}, nil
		})

	f := newFixture(t, ctrl, map[entity.BankCode]transfer.Engine{
		entity.BankApex: engine,
	})

	req := internalRequest("pay-1", 100)
	req.BankCode = entity.BankApex

	txn, err := f.svc.Accept(context.Background(), req)
	require.NoError(t, err)

	// Authorized transfers await verification; no completion event yet.
	assert.Equal(t, entity.StatusAuthorized, txn.Status())
}

func TestPublishFailureSchedulesRepublish(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)

	f.publisher.EXPECT().
		PublishTransactionCompleted(gomock.Any(), gomock.Any()).
		Return(errors.New("broker down"))

	txn, err := f.svc.Accept(context.Background(), internalRequest("pay-1", 100))
	require.NoError(t, err)

	// The payment itself still completed; only the event is owed.
	assert.Equal(t, entity.StatusCompleted, txn.Status())

	attempt, err := f.uow.Retries().FindByOriginalID(context.Background(), txn.ID(), entity.RetryEvent)
	require.NoError(t, err)
	assert.Equal(t, entity.RetryPending, attempt.Status)
}

func TestRepublishCompleted(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)

	gomock.InOrder(
		f.publisher.EXPECT().
			PublishTransactionCompleted(gomock.Any(), gomock.Any()).
			Return(errors.New("broker down")),
		f.publisher.EXPECT().
			PublishTransactionCompleted(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, evt event.TransactionCompleted) error {
				assert.Equal(t, "pay-1", evt.PaymentID)
				return nil
			}),
	)

	txn, err := f.svc.Accept(context.Background(), internalRequest("pay-1", 100))
	require.NoError(t, err)
	require.Equal(t, entity.StatusCompleted, txn.Status())

	require.NoError(t, f.svc.RepublishCompleted(context.Background(), txn.ID()))
}

func TestRepublishSkipsNonCompleted(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)
	// Publisher must stay silent for a failed payment.

	txn, err := f.svc.Accept(context.Background(), internalRequest("pay-1", 9999))
	require.NoError(t, err)
	require.Equal(t, entity.StatusFailed, txn.Status())

	require.NoError(t, f.svc.RepublishCompleted(context.Background(), txn.ID()))
}

func TestReprocessRecoversStuckTransaction(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)

	f.publisher.EXPECT().
		PublishTransactionCompleted(gomock.Any(), gomock.Any()).
		Return(errors.New("broker down"))

	txn, err := f.svc.Accept(context.Background(), internalRequest("pay-1", 100))
	require.NoError(t, err)
	require.Equal(t, entity.StatusCompleted, txn.Status())

	// Terminal transactions are left alone.
	require.NoError(t, f.svc.Reprocess(context.Background(), txn.ID()))

	reloaded, err := f.uow.Transactions().FindByID(context.Background(), txn.ID())
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, reloaded.Status())
}

func TestReprocessDrivesStuckToCompletion(t *testing.T) {
	ctrl := gomock.NewController(t)

	engine := mocks.NewMockEngine(ctrl)
	gomock.InOrder(
		engine.EXPECT().
			Process(gomock.Any(), gomock.Any()).
			Return(nil, errors.New("rail unreachable")),
		engine.EXPECT().
			Process(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, txn *entity.Transaction) (*entity.TransferResult, error) {
				return &entity.TransferResult{
					Success:     true,
					ReasonCode:  entity.ReasonApproved,
					ReferenceID: txn.ID(),
				}, nil
			}),
	)

	f := newFixture(t, ctrl, map[entity.BankCode]transfer.Engine{
		entity.BankApex: engine,
	})

	f.publisher.EXPECT().
		PublishTransactionCompleted(gomock.Any(), gomock.Any()).
		Return(nil)

	req := internalRequest("pay-1", 100)
	req.BankCode = entity.BankApex

	txn, err := f.svc.Accept(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, entity.StatusProcessing, txn.Status())

	// The stuck scan claims the transaction before handing it back.
	err = f.uow.Transactions().UpdateStatus(context.Background(), txn.ID(), entity.StatusProcessing, entity.StatusStuck)
	require.NoError(t, err)

	require.NoError(t, f.svc.Reprocess(context.Background(), txn.ID()))

	reloaded, err := f.uow.Transactions().FindByID(context.Background(), txn.ID())
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, reloaded.Status())
}

func TestReprocessUnknownTransaction(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)

	err := f.svc.Reprocess(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
