// Package provider defines the adapter contract every open finance data
// source implements, and a facade that merges all configured adapters into
// one provider-agnostic view.
//
// Provider-native payload shapes never escape an adapter: each one maps its
// API's accounts/transactions into the internal models at the boundary.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gitlab.com/yelinaung/finsync/internal/models"
)

// Failure classes shared by all adapters. Callers distinguish them with
// errors.Is: auth failures are fatal to the invocation, rate limiting and
// transient network errors are not.
var (
	ErrAuthFailed  = errors.New("provider authentication failed")
	ErrRateLimited = errors.New("provider rate limited")
	ErrNotFound    = errors.New("resource not found at provider")
)

// TransactionFilter bounds a transaction listing.
type TransactionFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

// Adapter is the per-provider contract. All identifiers are the provider's
// external ids; returned models carry ExternalID and Provider, with internal
// ids left zero for the repositories to fill.
type Adapter interface {
	Name() models.Provider
	ListConnections(ctx context.Context) ([]models.Connection, error)
	ListAccounts(ctx context.Context, connectionExternalID string) ([]models.Account, error)
	ListTransactions(ctx context.Context, accountExternalID string, filter TransactionFilter) ([]models.RawTransaction, error)
	GetAccount(ctx context.Context, accountExternalID string) (*models.Account, error)
	// TriggerRefresh asks the provider to re-fetch institution data. It is
	// asynchronous; completion is observed through PollStatus.
	TriggerRefresh(ctx context.Context, connectionExternalID string) error
	PollStatus(ctx context.Context, connectionExternalID string) (models.ConnectionStatus, error)
	Disconnect(ctx context.Context, connectionExternalID string) error
}

// StatusError maps an HTTP response code to the shared failure classes.
func StatusError(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("provider returned status %d", code)
	}
}
