// Package webhook receives provider push events and exposes the read
// surface consumed by the UI and agent layers.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gitlab.com/yelinaung/finsync/internal/logger"
	"gitlab.com/yelinaung/finsync/internal/models"
	"gitlab.com/yelinaung/finsync/internal/provider"
	"gitlab.com/yelinaung/finsync/internal/sync"
)

// maxBodySize bounds webhook payloads.
const maxBodySize = 1 << 20

// incrementalWindowDays is the fallback fetch window for a
// transactions-created event when the provider sends no incremental link
// and the account has never synced.
const incrementalWindowDays = 7

// Event is the provider push payload. Unknown events are logged and
// acknowledged, never errors.
type Event struct {
	Event                   string `json:"event"`
	ConnectionExternalID    string `json:"connectionExternalId"`
	AccountExternalID       string `json:"accountExternalId"`
	CreatedTransactionsLink string `json:"createdTransactionsLink"`
}

// LinkFetcher is implemented by adapters that can follow a provider-supplied
// incremental transactions link.
type LinkFetcher interface {
	FetchTransactionsLink(ctx context.Context, link string) ([]models.RawTransaction, error)
}

// ExpenseReader is the slice of expense persistence the read surface needs.
type ExpenseReader interface {
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Expense, error)
}

// Server handles provider webhooks and the downstream read endpoints.
type Server struct {
	svc          *sync.Service
	facade       *provider.Facade
	connections  sync.ConnectionStore
	accounts     sync.AccountStore
	expenses     ExpenseReader
	secret       string
	lookbackDays int
	now          func() time.Time
}

// NewServer wires the webhook server.
func NewServer(
	svc *sync.Service,
	facade *provider.Facade,
	connections sync.ConnectionStore,
	accounts sync.AccountStore,
	expenses ExpenseReader,
	secret string,
	lookbackDays int,
) *Server {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	return &Server{
		svc:          svc,
		facade:       facade,
		connections:  connections,
		accounts:     accounts,
		expenses:     expenses,
		secret:       secret,
		lookbackDays: lookbackDays,
		now:          time.Now,
	}
}

// Handler returns the HTTP handler with tracing middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/{provider}", s.handleProviderEvent)
	mux.HandleFunc("GET /v1/expenses", s.handleListExpenses)
	mux.HandleFunc("GET /v1/connections", s.handleListConnections)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return otelhttp.NewHandler(mux, "finsync")
}

func (s *Server) handleProviderEvent(w http.ResponseWriter, r *http.Request) {
	providerTag := models.Provider(r.PathValue("provider"))
	if _, err := s.facade.Adapter(providerTag); err != nil {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	if s.secret != "" && r.Header.Get("X-Webhook-Secret") != s.secret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var event Event
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := decoder.Decode(&event); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	log := logger.Log.With().
		Str("provider", string(providerTag)).
		Str("event", event.Event).
		Logger()
	log.Info().Msg("webhook received")

	res, err := s.dispatch(r.Context(), providerTag, event)
	if err != nil {
		log.Error().Err(err).Msg("webhook processing failed")
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"saved":       res.Saved,
		"duplicates":  res.Duplicates,
		"categorized": res.Categorized,
		"failed":      res.Failed,
	})
}

// dispatch routes one event. A nil error with zero counts means the event
// was acknowledged without work (unknown event, missing local reference).
func (s *Server) dispatch(ctx context.Context, p models.Provider, event Event) (sync.Result, error) {
	switch normalizeEventName(event.Event) {
	case "connection/created", "connection/updated":
		return s.connectionUpdated(ctx, p, event.ConnectionExternalID)
	case "connection/deleted":
		return sync.Result{}, s.connectionDeleted(ctx, p, event.ConnectionExternalID)
	case "connection/error":
		return sync.Result{}, s.setStatus(ctx, p, event.ConnectionExternalID, models.ConnectionStatusLoginError)
	case "connection/waiting_input":
		return sync.Result{}, s.setStatus(ctx, p, event.ConnectionExternalID, models.ConnectionStatusWaitingInput)
	case "transactions/created":
		return s.transactionsCreated(ctx, p, event)
	case "transactions/deleted":
		// Stored transactions are immutable; deletions only happen through
		// connection removal cascades.
		logger.Log.Info().Str("event", event.Event).Msg("ignoring transactions deleted event")
		return sync.Result{}, nil
	default:
		logger.Log.Warn().Str("event", event.Event).Msg("unknown webhook event, ignoring")
		return sync.Result{}, nil
	}
}

// normalizeEventName accepts both "connection.updated" and
// "connection/updated" spellings across providers.
func normalizeEventName(event string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(event)), ".", "/")
}

// connectionUpdated re-syncs accounts and then transactions for every
// account under the connection.
func (s *Server) connectionUpdated(ctx context.Context, p models.Provider, externalID string) (sync.Result, error) {
	conn, err := s.lookupOrImportConnection(ctx, p, externalID)
	if err != nil {
		return sync.Result{}, err
	}
	if conn == nil {
		return sync.Result{}, nil
	}

	to := s.now()
	from := to.AddDate(0, 0, -s.lookbackDays)
	return s.svc.SyncConnection(ctx, conn, from, to)
}

func (s *Server) connectionDeleted(ctx context.Context, p models.Provider, externalID string) error {
	conn, err := s.connections.GetByExternalID(ctx, p, externalID)
	if err != nil {
		return err
	}
	if conn == nil {
		logger.Log.Warn().
			Str("connection_hash", logger.HashExternalID(externalID)).
			Msg("deleted event for unknown connection, dropping")
		return nil
	}
	// The provider already removed its side; only the local cascade is left.
	return s.connections.Delete(ctx, conn.ID)
}

func (s *Server) setStatus(ctx context.Context, p models.Provider, externalID string, status models.ConnectionStatus) error {
	conn, err := s.connections.GetByExternalID(ctx, p, externalID)
	if err != nil {
		return err
	}
	if conn == nil {
		logger.Log.Warn().
			Str("connection_hash", logger.HashExternalID(externalID)).
			Msg("status event for unknown connection, dropping")
		return nil
	}
	return s.connections.UpdateStatus(ctx, conn.ID, status, "")
}

// transactionsCreated fetches only the newly created transactions, following
// the provider's incremental link when one is supplied, instead of a full
// resync.
func (s *Server) transactionsCreated(ctx context.Context, p models.Provider, event Event) (sync.Result, error) {
	conn, err := s.lookupOrImportConnection(ctx, p, event.ConnectionExternalID)
	if err != nil {
		return sync.Result{}, err
	}
	if conn == nil {
		return sync.Result{}, nil
	}

	acc, err := s.accounts.GetByExternalID(ctx, p, event.AccountExternalID)
	if err != nil {
		return sync.Result{}, err
	}
	if acc == nil {
		// The account row appears on the next full sync; the transactions
		// will be fetched then.
		logger.Log.Warn().
			Str("account_hash", logger.HashExternalID(event.AccountExternalID)).
			Msg("transactions event for unknown account, dropping")
		return sync.Result{}, nil
	}

	txs, err := s.fetchCreated(ctx, p, acc, event.CreatedTransactionsLink)
	if err != nil {
		if errors.Is(err, provider.ErrRateLimited) {
			logger.Log.Warn().Msg("provider rate limited, skipping incremental fetch")
			return sync.Result{}, nil
		}
		return sync.Result{}, fmt.Errorf("fetching created transactions: %w", err)
	}

	res, err := s.svc.ProcessTransactions(ctx, conn, acc, txs)
	if err != nil {
		return res, err
	}
	s.svc.RefreshBalance(ctx, conn, acc)
	return res, nil
}

func (s *Server) fetchCreated(ctx context.Context, p models.Provider, acc *models.Account, link string) ([]models.RawTransaction, error) {
	adapter, err := s.facade.Adapter(p)
	if err != nil {
		return nil, err
	}

	if link != "" {
		if fetcher, ok := adapter.(LinkFetcher); ok {
			return fetcher.FetchTransactionsLink(ctx, link)
		}
	}

	from := s.now().AddDate(0, 0, -incrementalWindowDays)
	if acc.LastSyncAt != nil && acc.LastSyncAt.After(from) {
		from = *acc.LastSyncAt
	}
	return adapter.ListTransactions(ctx, acc.ExternalID, provider.TransactionFilter{
		From: from,
		To:   s.now(),
	})
}

// lookupOrImportConnection resolves a local connection, importing it from
// the provider listing when the consent flow completed elsewhere and no
// local row exists yet. Returns nil when the provider doesn't know the id
// either; the event is dropped.
func (s *Server) lookupOrImportConnection(ctx context.Context, p models.Provider, externalID string) (*models.Connection, error) {
	if externalID == "" {
		logger.Log.Warn().Msg("webhook event missing connection id, dropping")
		return nil, nil
	}

	conn, err := s.connections.GetByExternalID(ctx, p, externalID)
	if err != nil {
		return nil, err
	}
	if conn != nil {
		return conn, nil
	}

	adapter, err := s.facade.Adapter(p)
	if err != nil {
		return nil, err
	}
	remote, err := adapter.ListConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("importing connection: %w", err)
	}
	for i := range remote {
		if remote[i].ExternalID != externalID {
			continue
		}
		if err := s.connections.Upsert(ctx, &remote[i]); err != nil {
			return nil, err
		}
		return &remote[i], nil
	}

	logger.Log.Warn().
		Str("connection_hash", logger.HashExternalID(externalID)).
		Msg("event references connection unknown to provider, dropping")
	return nil, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.Error().Err(err).Msg("failed to encode response")
	}
}
