package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"budget/internal/core"
	applog "budget/internal/log"
)

// Service orchestrates create, edit and delete requests: input validation,
// ownership checks, sign normalization and the atomic ledger write, in that
// order. No store is touched before validation passes.
type Service struct {
	book      *Book
	validator *Validator
	lister    TransactionLister
	accounts  AccountDirectory
	cats      CategoryDirectory
	publisher EventPublisher
	now       func() time.Time
}

type options struct {
	publisher    EventPublisher
	legacyDelete bool
	now          func() time.Time
}

// Option configures a Service.
type Option func(*options)

// WithPublisher announces committed mutations through p.
func WithPublisher(p EventPublisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithLegacyDelete makes deletes leave account balances untouched.
func WithLegacyDelete() Option {
	return func(o *options) { o.legacyDelete = true }
}

// WithClock overrides the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func NewService(backend Backend, opts ...Option) *Service {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		book:      NewBook(backend, o.legacyDelete),
		validator: NewValidator(backend, backend),
		lister:    backend,
		accounts:  backend,
		cats:      backend,
		publisher: o.publisher,
		now:       o.now,
	}
}

// CreateTransaction records a new income or expense for userID.
func (s *Service) CreateTransaction(ctx context.Context, userID int64, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	_, category, err := s.validator.ValidateReferences(ctx, in, userID)
	if err != nil {
		return core.Transaction{}, err
	}
	signed, err := core.Normalize(in.Amount, category.Type)
	if err != nil {
		return core.Transaction{}, err
	}

	t := core.Transaction{
		UserID:     userID,
		AccountID:  in.AccountID,
		CategoryID: in.CategoryID,
		Type:       category.Type,
		Amount:     signed,
		Date:       in.Date,
		Note:       in.Note,
	}
	id, err := s.book.Create(ctx, t)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create transaction",
			applog.FieldComponent, applog.ComponentLedger,
			applog.FieldOperation, applog.OpCreate,
			applog.FieldUserID, userID,
			applog.FieldAccountID, t.AccountID,
			applog.FieldError, err)
		return core.Transaction{}, err
	}
	t.ID = id

	slog.InfoContext(ctx, "Transaction created",
		applog.NewFields().
			WithTransaction(userID, t.ID, t.AccountID, core.FormatAmount(t.Amount)).
			WithOperation(applog.OpCreate).
			WithComponent(applog.ComponentLedger).
			ToSlice()...)

	s.publish(ctx, core.EventCreated, t, t.AccountID)
	return t, nil
}

// EditTransaction rewrites transaction id of userID with in, moving its
// balance contribution to the (possibly different) new account.
func (s *Service) EditTransaction(ctx context.Context, userID, id int64, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	existing, err := s.book.Fetch(ctx, id, userID)
	if err != nil {
		return core.Transaction{}, err
	}
	prev := PreviousOf(existing)

	_, category, err := s.validator.ValidateReferences(ctx, in, userID)
	if err != nil {
		return core.Transaction{}, err
	}
	signed, err := core.Normalize(in.Amount, category.Type)
	if err != nil {
		return core.Transaction{}, err
	}

	t := core.Transaction{
		ID:         id,
		UserID:     userID,
		AccountID:  in.AccountID,
		CategoryID: in.CategoryID,
		Type:       category.Type,
		Amount:     signed,
		Date:       in.Date,
		Note:       in.Note,
	}
	if err := s.book.Update(ctx, t, prev); err != nil {
		slog.ErrorContext(ctx, "Failed to update transaction",
			applog.FieldComponent, applog.ComponentLedger,
			applog.FieldOperation, applog.OpUpdate,
			applog.FieldUserID, userID,
			applog.FieldTransactionID, id,
			applog.FieldError, err)
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction updated",
		applog.NewFields().
			WithTransaction(userID, t.ID, t.AccountID, core.FormatAmount(t.Amount)).
			WithOperation(applog.OpUpdate).
			WithComponent(applog.ComponentLedger).
			ToSlice()...)

	if prev.AccountID == t.AccountID {
		s.publish(ctx, core.EventUpdated, t, t.AccountID)
	} else {
		s.publish(ctx, core.EventUpdated, t, prev.AccountID, t.AccountID)
	}
	return t, nil
}

// DeleteTransaction removes transaction id of userID.
func (s *Service) DeleteTransaction(ctx context.Context, userID, id int64) error {
	existing, err := s.book.Fetch(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.book.Delete(ctx, existing); err != nil {
		slog.ErrorContext(ctx, "Failed to delete transaction",
			applog.FieldComponent, applog.ComponentLedger,
			applog.FieldOperation, applog.OpDelete,
			applog.FieldUserID, userID,
			applog.FieldTransactionID, id,
			applog.FieldError, err)
		return err
	}

	slog.InfoContext(ctx, "Transaction deleted",
		applog.NewFields().
			WithTransaction(userID, existing.ID, existing.AccountID, core.FormatAmount(existing.Amount)).
			WithOperation(applog.OpDelete).
			WithComponent(applog.ComponentLedger).
			ToSlice()...)

	s.publish(ctx, core.EventDeleted, existing, existing.AccountID)
	return nil
}

// GetTransaction returns transaction id if it belongs to userID.
func (s *Service) GetTransaction(ctx context.Context, userID, id int64) (core.Transaction, error) {
	return s.book.Fetch(ctx, id, userID)
}

// ListByAccount returns the transactions of one of userID's accounts.
func (s *Service) ListByAccount(ctx context.Context, userID, accountID int64, r core.DateRange) ([]core.Transaction, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.validator.ValidateAccount(ctx, accountID, userID); err != nil {
		return nil, err
	}
	txs, err := s.lister.ListByAccount(ctx, userID, accountID, r)
	if err != nil {
		return nil, storeError("list account transactions", err)
	}
	return txs, nil
}

// ListByUser returns all of userID's transactions in r.
func (s *Service) ListByUser(ctx context.Context, userID int64, r core.DateRange) ([]core.Transaction, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	txs, err := s.lister.ListByUser(ctx, userID, r)
	if err != nil {
		return nil, storeError("list transactions", err)
	}
	return txs, nil
}

// ListAccounts returns userID's accounts for option lists.
func (s *Service) ListAccounts(ctx context.Context, userID int64) ([]core.Account, error) {
	accounts, err := s.accounts.ListAccounts(ctx, userID)
	if err != nil {
		return nil, storeError("list accounts", err)
	}
	return accounts, nil
}

// ListCategories returns userID's categories of movement type t.
func (s *Service) ListCategories(ctx context.Context, userID int64, t core.MovementType) ([]core.Category, error) {
	if !t.IsValid() {
		return nil, core.ErrInvalidMovementType
	}
	cats, err := s.cats.ListCategories(ctx, userID, t)
	if err != nil {
		return nil, storeError("list categories", err)
	}
	return cats, nil
}

// publish announces a committed mutation. Failures are logged and never
// undo or fail the request.
func (s *Service) publish(ctx context.Context, kind core.EventKind, t core.Transaction, accountIDs ...int64) {
	if s.publisher == nil {
		return
	}
	e := core.LedgerEvent{
		ID:            uuid.NewString(),
		Kind:          kind,
		UserID:        t.UserID,
		TransactionID: t.ID,
		AccountIDs:    accountIDs,
		OccurredAt:    s.now().UTC(),
	}
	if err := s.publisher.PublishLedgerEvent(ctx, e); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			applog.FieldComponent, applog.ComponentLedger,
			applog.FieldOperation, applog.OpPublish,
			applog.FieldEventKind, string(kind),
			applog.FieldTransactionID, t.ID,
			applog.FieldError, err)
	}
}
