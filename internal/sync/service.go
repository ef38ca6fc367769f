// Package sync drives the core ingestion sequence shared by the webhook and
// cron controllers: fetch provider transactions, deduplicate against manual
// expenses, categorize in batch and materialize expenses.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"gitlab.com/yelinaung/finsync/internal/category"
	"gitlab.com/yelinaung/finsync/internal/dedup"
	"gitlab.com/yelinaung/finsync/internal/logger"
	"gitlab.com/yelinaung/finsync/internal/models"
	"gitlab.com/yelinaung/finsync/internal/provider"
)

// ConnectionStore is the connection persistence the service needs.
type ConnectionStore interface {
	Upsert(ctx context.Context, conn *models.Connection) error
	GetByExternalID(ctx context.Context, p models.Provider, externalID string) (*models.Connection, error)
	ListActive(ctx context.Context) ([]models.Connection, error)
	UpdateStatus(ctx context.Context, id int, status models.ConnectionStatus, lastError string) error
	MarkSynced(ctx context.Context, id int, at time.Time) error
	Delete(ctx context.Context, id int) error
}

// AccountStore is the account persistence the service needs.
type AccountStore interface {
	Upsert(ctx context.Context, acc *models.Account) error
	GetByExternalID(ctx context.Context, p models.Provider, externalID string) (*models.Account, error)
	ListByConnection(ctx context.Context, connectionID int) ([]models.Account, error)
	UpdateBalance(ctx context.Context, id int, balance decimal.Decimal, creditAvailable *decimal.Decimal, syncedAt time.Time) error
}

// TransactionStore is the raw transaction persistence the service needs.
type TransactionStore interface {
	Insert(ctx context.Context, tx *models.RawTransaction) (bool, error)
	MarkSynced(ctx context.Context, id int) error
	LinkExpense(ctx context.Context, id, expenseID int) error
}

// ExpenseStore is the expense persistence the service needs.
type ExpenseStore interface {
	Create(ctx context.Context, expense *models.Expense) error
	GetByTransactionID(ctx context.Context, transactionID int) (*models.Expense, error)
	ListManualByDateRange(ctx context.Context, userID int64, from, to time.Time) ([]models.Expense, error)
}

// Categorizer resolves categories for a batch of transactions. It is total:
// every input gets a result.
type Categorizer interface {
	CategorizeBatch(ctx context.Context, ins []category.Input) []models.CategorizationResult
}

// Options tunes the sync service.
type Options struct {
	LookbackDays int
	PollAttempts int
	PollInterval time.Duration
	Dedup        dedup.Options
}

// Result accumulates per-invocation counts. Per-transaction failures are
// counted here instead of aborting the batch.
type Result struct {
	Saved       int
	Duplicates  int
	Categorized int
	Failed      int
}

func (r *Result) add(other Result) {
	r.Saved += other.Saved
	r.Duplicates += other.Duplicates
	r.Categorized += other.Categorized
	r.Failed += other.Failed
}

// Service runs the sync-and-categorize-and-materialize sequence.
type Service struct {
	facade       *provider.Facade
	connections  ConnectionStore
	accounts     AccountStore
	transactions TransactionStore
	expenses     ExpenseStore
	engine       Categorizer
	opts         Options
	now          func() time.Time

	tracer        trace.Tracer
	savedCounter  metric.Int64Counter
	dupCounter    metric.Int64Counter
	catCounter    metric.Int64Counter
	failedCounter metric.Int64Counter
}

// NewService wires the sync service.
func NewService(
	facade *provider.Facade,
	connections ConnectionStore,
	accounts AccountStore,
	transactions TransactionStore,
	expenses ExpenseStore,
	engine Categorizer,
	opts Options,
) *Service {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 30
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 10
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Dedup == (dedup.Options{}) {
		opts.Dedup = dedup.DefaultOptions()
	}

	meter := otel.Meter("finsync/sync")
	saved, _ := meter.Int64Counter("finsync.transactions.saved")
	dups, _ := meter.Int64Counter("finsync.transactions.duplicates")
	cats, _ := meter.Int64Counter("finsync.transactions.categorized")
	failed, _ := meter.Int64Counter("finsync.transactions.failed")

	return &Service{
		facade:        facade,
		connections:   connections,
		accounts:      accounts,
		transactions:  transactions,
		expenses:      expenses,
		engine:        engine,
		opts:          opts,
		now:           time.Now,
		tracer:        otel.Tracer("finsync/sync"),
		savedCounter:  saved,
		dupCounter:    dups,
		catCounter:    cats,
		failedCounter: failed,
	}
}

// SyncConnection re-syncs accounts under one connection and then the
// transactions of every account within [from, to]. Accounts are processed
// in parallel; stages within an account stay sequential.
func (s *Service) SyncConnection(ctx context.Context, conn *models.Connection, from, to time.Time) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "sync.connection")
	defer span.End()

	runID := uuid.NewString()
	log := logger.Log.With().
		Str("run_id", runID).
		Str("provider", string(conn.Provider)).
		Str("connection_hash", logger.HashExternalID(conn.ExternalID)).
		Logger()

	accounts, err := s.facade.ListAccounts(ctx, conn.Provider, conn.ExternalID)
	if err != nil {
		if errors.Is(err, provider.ErrAuthFailed) {
			_ = s.connections.UpdateStatus(ctx, conn.ID, models.ConnectionStatusLoginError, err.Error())
		}
		return Result{}, fmt.Errorf("listing accounts: %w", err)
	}

	stored := make([]models.Account, 0, len(accounts))
	for _, acc := range accounts {
		acc.ConnectionID = conn.ID
		if err := s.accounts.Upsert(ctx, &acc); err != nil {
			log.Error().Err(err).Msg("failed to upsert account")
			continue
		}
		stored = append(stored, acc)
	}

	var (
		mu      sync.Mutex
		total   Result
		authErr error
		wg      sync.WaitGroup
	)
	for i := range stored {
		wg.Add(1)
		go func(acc *models.Account) {
			defer wg.Done()
			res, err := s.syncAccount(ctx, conn, acc, from, to)
			mu.Lock()
			defer mu.Unlock()
			total.add(res)
			if err != nil {
				if errors.Is(err, provider.ErrAuthFailed) && authErr == nil {
					authErr = err
				}
				log.Warn().Err(err).
					Str("account_hash", logger.HashExternalID(acc.ExternalID)).
					Msg("account sync failed, continuing with remaining accounts")
			}
		}(&stored[i])
	}
	wg.Wait()

	if authErr != nil {
		_ = s.connections.UpdateStatus(ctx, conn.ID, models.ConnectionStatusLoginError, authErr.Error())
		return total, authErr
	}

	if err := s.connections.MarkSynced(ctx, conn.ID, s.now()); err != nil {
		log.Error().Err(err).Msg("failed to record sync timestamp")
	}

	log.Info().
		Int("saved", total.Saved).
		Int("duplicates", total.Duplicates).
		Int("categorized", total.Categorized).
		Int("failed", total.Failed).
		Msg("connection sync finished")
	return total, nil
}

// syncAccount fetches one account's transactions and runs the processing
// stages, then refreshes the balance.
func (s *Service) syncAccount(ctx context.Context, conn *models.Connection, acc *models.Account, from, to time.Time) (Result, error) {
	txs, err := s.facade.ListTransactions(ctx, conn.Provider, acc.ExternalID, provider.TransactionFilter{
		From: from,
		To:   to,
	})
	if err != nil {
		if errors.Is(err, provider.ErrRateLimited) {
			// Non-fatal: keep whatever data already exists.
			logger.Log.Warn().
				Str("account_hash", logger.HashExternalID(acc.ExternalID)).
				Msg("provider rate limited, continuing with existing data")
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("listing transactions: %w", err)
	}

	res, err := s.ProcessTransactions(ctx, conn, acc, txs)
	if err != nil {
		return res, err
	}

	s.RefreshBalance(ctx, conn, acc)
	return res, nil
}

// ProcessTransactions runs dedup, batch categorization and materialization
// over already-fetched transactions. Safe to call repeatedly with the same
// transactions: inserts are keyed by the provider's external id and
// materialization is guarded by the expense link.
func (s *Service) ProcessTransactions(ctx context.Context, conn *models.Connection, acc *models.Account, txs []models.RawTransaction) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "sync.process_transactions")
	defer span.End()

	var res Result
	if len(txs) == 0 {
		return res, nil
	}

	// Store first; re-delivered external ids come back as no-ops. Only
	// unsynced rows continue through the later stages.
	var pending []*models.RawTransaction
	for i := range txs {
		tx := &txs[i]
		tx.AccountID = acc.ID
		inserted, err := s.transactions.Insert(ctx, tx)
		if err != nil {
			logger.Log.Error().Err(err).
				Str("tx_hash", logger.HashExternalID(tx.ExternalID)).
				Msg("failed to store transaction")
			res.Failed++
			continue
		}
		if inserted {
			res.Saved++
		}
		if !tx.Synced {
			pending = append(pending, tx)
		}
	}
	if len(pending) == 0 {
		s.record(ctx, res)
		return res, nil
	}

	matcher, err := s.buildMatcher(ctx, conn.UserID, pending)
	if err != nil {
		return res, err
	}

	// Duplicates of manual entries are flagged synced and excluded from
	// categorization and materialization.
	var fresh []*models.RawTransaction
	for _, tx := range pending {
		if _, ok := matcher.Find(tx.Amount, tx.Date, true); ok {
			if err := s.transactions.MarkSynced(ctx, tx.ID); err != nil {
				logger.Log.Error().Err(err).Msg("failed to flag duplicate transaction")
				res.Failed++
				continue
			}
			res.Duplicates++
			continue
		}
		fresh = append(fresh, tx)
	}

	// Only debits become expenses; credit transactions are stored and
	// flagged without materialization.
	var debits []*models.RawTransaction
	for _, tx := range fresh {
		if tx.Direction != models.DirectionDebit {
			if err := s.transactions.MarkSynced(ctx, tx.ID); err != nil {
				logger.Log.Error().Err(err).Msg("failed to flag credit transaction")
				res.Failed++
			}
			continue
		}
		debits = append(debits, tx)
	}
	if len(debits) == 0 {
		s.record(ctx, res)
		return res, nil
	}

	inputs := make([]category.Input, len(debits))
	for i, tx := range debits {
		inputs[i] = category.Input{
			UserID:           conn.UserID,
			Description:      tx.Description,
			Amount:           tx.Amount,
			ProviderCategory: tx.ProviderCategory,
			PaymentMethod:    tx.PaymentMethod,
			CounterpartyName: tx.CounterpartyName,
		}
	}
	results := s.engine.CategorizeBatch(ctx, inputs)
	res.Categorized += len(results)

	for i, tx := range debits {
		if err := s.materialize(ctx, conn, tx, results[i]); err != nil {
			logger.Log.Error().Err(err).
				Str("tx_hash", logger.HashExternalID(tx.ExternalID)).
				Msg("failed to materialize expense")
			res.Failed++
		}
	}

	s.record(ctx, res)
	return res, nil
}

// buildMatcher indexes the user's manual expenses around the pending
// transactions' date window, padded for the date tolerance band.
func (s *Service) buildMatcher(ctx context.Context, userID int64, pending []*models.RawTransaction) (*dedup.Matcher, error) {
	minDate, maxDate := pending[0].Date, pending[0].Date
	for _, tx := range pending[1:] {
		if tx.Date.Before(minDate) {
			minDate = tx.Date
		}
		if tx.Date.After(maxDate) {
			maxDate = tx.Date
		}
	}
	pad := s.opts.Dedup.DateToleranceDays
	manual, err := s.expenses.ListManualByDateRange(ctx, userID,
		minDate.AddDate(0, 0, -pad), maxDate.AddDate(0, 0, pad))
	if err != nil {
		return nil, fmt.Errorf("listing manual expenses for dedup: %w", err)
	}
	return dedup.NewMatcher(manual, s.opts.Dedup), nil
}

// materialize creates exactly one expense per transaction and links the two
// permanently. The expense-link pre-check makes repeated sync passes no-ops;
// a benign race between two invocations is absorbed by the second link
// overwrite being identical.
func (s *Service) materialize(ctx context.Context, conn *models.Connection, tx *models.RawTransaction, result models.CategorizationResult) error {
	if tx.ExpenseID != nil {
		return nil
	}
	if existing, err := s.expenses.GetByTransactionID(ctx, tx.ID); err != nil {
		return err
	} else if existing != nil {
		return s.transactions.LinkExpense(ctx, tx.ID, existing.ID)
	}

	name := tx.CounterpartyName
	if name == "" {
		name = tx.Description
	}

	expense := &models.Expense{
		UserID:            conn.UserID,
		EstablishmentName: name,
		Amount:            tx.Amount.Abs(),
		Date:              tx.Date,
		Category:          result.Category,
		Subcategory:       result.Subcategory,
		IsFixedCost:       result.IsFixedCost,
		Source:            models.ExpenseSourceOpenFinance,
		TransactionID:     &tx.ID,
	}
	if err := s.expenses.Create(ctx, expense); err != nil {
		return err
	}
	return s.transactions.LinkExpense(ctx, tx.ID, expense.ID)
}

// RefreshBalance re-fetches one account's balance. Failures are logged and
// swallowed: a stale balance never fails a sync.
func (s *Service) RefreshBalance(ctx context.Context, conn *models.Connection, acc *models.Account) {
	fresh, err := s.facade.GetAccount(ctx, conn.Provider, acc.ExternalID)
	if err != nil {
		logger.Log.Warn().Err(err).
			Str("account_hash", logger.HashExternalID(acc.ExternalID)).
			Msg("failed to refresh account balance")
		return
	}
	if err := s.accounts.UpdateBalance(ctx, acc.ID, fresh.Balance, fresh.CreditAvailable, s.now()); err != nil {
		logger.Log.Error().Err(err).Msg("failed to store refreshed balance")
	}
}

// Disconnect removes a connection at the provider and locally; accounts and
// transactions cascade.
func (s *Service) Disconnect(ctx context.Context, conn *models.Connection) error {
	if err := s.facade.Disconnect(ctx, conn.Provider, conn.ExternalID); err != nil && !errors.Is(err, provider.ErrNotFound) {
		return fmt.Errorf("disconnecting at provider: %w", err)
	}
	if err := s.connections.Delete(ctx, conn.ID); err != nil {
		return err
	}
	return nil
}

func (s *Service) record(ctx context.Context, res Result) {
	s.savedCounter.Add(ctx, int64(res.Saved))
	s.dupCounter.Add(ctx, int64(res.Duplicates))
	s.catCounter.Add(ctx, int64(res.Categorized))
	s.failedCounter.Add(ctx, int64(res.Failed))
}
