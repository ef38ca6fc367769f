package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/finsync/internal/models"
)

type stubAdapter struct {
	name        models.Provider
	connections []models.Connection
	listErr     error
	refreshed   []string
}

func (a *stubAdapter) Name() models.Provider { return a.name }

func (a *stubAdapter) ListConnections(context.Context) ([]models.Connection, error) {
	return a.connections, a.listErr
}

func (a *stubAdapter) ListAccounts(context.Context, string) ([]models.Account, error) {
	return nil, nil
}

func (a *stubAdapter) ListTransactions(context.Context, string, TransactionFilter) ([]models.RawTransaction, error) {
	return nil, nil
}

func (a *stubAdapter) GetAccount(context.Context, string) (*models.Account, error) {
	return nil, nil
}

func (a *stubAdapter) TriggerRefresh(_ context.Context, id string) error {
	a.refreshed = append(a.refreshed, id)
	return nil
}

func (a *stubAdapter) PollStatus(context.Context, string) (models.ConnectionStatus, error) {
	return models.ConnectionStatusUpdated, nil
}

func (a *stubAdapter) Disconnect(context.Context, string) error { return nil }

func TestFacade(t *testing.T) {
	t.Parallel()

	t.Run("dispatches writes to the owning adapter", func(t *testing.T) {
		t.Parallel()
		pluggy := &stubAdapter{name: models.ProviderPluggy}
		belvo := &stubAdapter{name: models.ProviderBelvo}
		f := NewFacade(pluggy, belvo)

		require.NoError(t, f.TriggerRefresh(context.Background(), models.ProviderBelvo, "link-1"))
		require.Empty(t, pluggy.refreshed)
		require.Equal(t, []string{"link-1"}, belvo.refreshed)
	})

	t.Run("unknown provider tag is an error", func(t *testing.T) {
		t.Parallel()
		f := NewFacade(&stubAdapter{name: models.ProviderPluggy})

		_, err := f.Adapter("plaid")
		require.Error(t, err)
		require.Contains(t, err.Error(), "plaid")

		err = f.TriggerRefresh(context.Background(), "plaid", "x")
		require.Error(t, err)
	})

	t.Run("merges connection listings across adapters", func(t *testing.T) {
		t.Parallel()
		f := NewFacade(
			&stubAdapter{name: models.ProviderPluggy, connections: []models.Connection{{ExternalID: "item-1", Provider: models.ProviderPluggy}}},
			&stubAdapter{name: models.ProviderBelvo, connections: []models.Connection{{ExternalID: "link-1", Provider: models.ProviderBelvo}}},
		)

		conns, err := f.ListConnections(context.Background())
		require.NoError(t, err)
		require.Len(t, conns, 2)
	})

	t.Run("one failing adapter fails the merged listing", func(t *testing.T) {
		t.Parallel()
		f := NewFacade(
			&stubAdapter{name: models.ProviderPluggy},
			&stubAdapter{name: models.ProviderBelvo, listErr: errors.New("belvo down")},
		)

		_, err := f.ListConnections(context.Background())
		require.Error(t, err)
	})

	t.Run("providers lists configured tags", func(t *testing.T) {
		t.Parallel()
		f := NewFacade(&stubAdapter{name: models.ProviderPluggy})
		require.Equal(t, []models.Provider{models.ProviderPluggy}, f.Providers())
	})
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, StatusError(http.StatusUnauthorized), ErrAuthFailed)
	require.ErrorIs(t, StatusError(http.StatusForbidden), ErrAuthFailed)
	require.ErrorIs(t, StatusError(http.StatusTooManyRequests), ErrRateLimited)
	require.ErrorIs(t, StatusError(http.StatusNotFound), ErrNotFound)

	err := StatusError(http.StatusBadGateway)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAuthFailed)
	require.Contains(t, err.Error(), "502")
}
