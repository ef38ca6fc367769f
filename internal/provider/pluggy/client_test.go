package pluggy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/finsync/internal/models"
	"gitlab.com/yelinaung/finsync/internal/provider"
)

// newTestServer answers /auth and delegates everything else, verifying the
// API key header on every authenticated call.
func newTestServer(t *testing.T, authCalls *atomic.Int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" {
			authCalls.Add(1)
			assert.Equal(t, http.MethodPost, r.Method)
			_, _ = w.Write([]byte(`{"apiKey": "test-key"}`))
			return
		}
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		handler(w, r)
	}))
}

func TestClient_ListTransactions(t *testing.T) {
	t.Parallel()

	t.Run("normalizes DEBIT to a negative signed amount", func(t *testing.T) {
		t.Parallel()
		var authCalls atomic.Int32
		server := newTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/transactions", r.URL.Path)
			assert.Equal(t, "acc-1", r.URL.Query().Get("accountId"))
			assert.Equal(t, "2026-08-01", r.URL.Query().Get("from"))
			_, _ = w.Write([]byte(`{"results": [
				{"id": "tx-1", "accountId": "acc-1", "description": "IFOOD *Ifood.com", "amount": 45.9, "date": "2026-08-10", "type": "DEBIT",
				 "paymentData": {"paymentMethod": "PIX", "receiver": {"name": "Ifood Com Agencia"}}},
				{"id": "tx-2", "accountId": "acc-1", "description": "Salario", "amount": 5000, "date": "2026-08-05T12:00:00Z", "type": "CREDIT",
				 "paymentData": {"payer": {"name": "Empresa XYZ"}}}
			]}`))
		})
		defer server.Close()

		client := New("id", "secret", server.URL, time.Second)
		txs, err := client.ListTransactions(context.Background(), "acc-1", provider.TransactionFilter{
			From: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		require.Len(t, txs, 2)

		require.Equal(t, "tx-1", txs[0].ExternalID)
		require.Equal(t, models.ProviderPluggy, txs[0].Provider)
		require.Equal(t, models.DirectionDebit, txs[0].Direction)
		require.True(t, txs[0].Amount.Equal(decimal.RequireFromString("-45.9")))
		require.Equal(t, "pix", txs[0].PaymentMethod)
		require.Equal(t, "Ifood Com Agencia", txs[0].CounterpartyName)

		require.Equal(t, models.DirectionCredit, txs[1].Direction)
		require.True(t, txs[1].Amount.Equal(decimal.NewFromInt(5000)))
		require.Equal(t, "Empresa XYZ", txs[1].CounterpartyName)
		require.Equal(t, 12, txs[1].Date.Hour())
	})

	t.Run("reuses the cached API key across calls", func(t *testing.T) {
		t.Parallel()
		var authCalls atomic.Int32
		server := newTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"results": []}`))
		})
		defer server.Close()

		client := New("id", "secret", server.URL, time.Second)
		for range 3 {
			_, err := client.ListTransactions(context.Background(), "acc-1", provider.TransactionFilter{})
			require.NoError(t, err)
		}
		require.Equal(t, int32(1), authCalls.Load())
	})

	t.Run("401 invalidates the cached key", func(t *testing.T) {
		t.Parallel()
		var authCalls atomic.Int32
		var dataCalls atomic.Int32
		server := newTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
			if dataCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"results": []}`))
		})
		defer server.Close()

		client := New("id", "secret", server.URL, time.Second)
		_, err := client.ListTransactions(context.Background(), "acc-1", provider.TransactionFilter{})
		require.ErrorIs(t, err, provider.ErrAuthFailed)

		_, err = client.ListTransactions(context.Background(), "acc-1", provider.TransactionFilter{})
		require.NoError(t, err)
		require.Equal(t, int32(2), authCalls.Load())
	})

	t.Run("429 maps to the rate limit class", func(t *testing.T) {
		t.Parallel()
		var authCalls atomic.Int32
		server := newTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		defer server.Close()

		client := New("id", "secret", server.URL, time.Second)
		_, err := client.ListTransactions(context.Background(), "acc-1", provider.TransactionFilter{})
		require.ErrorIs(t, err, provider.ErrRateLimited)
	})
}

func TestClient_ListAccounts(t *testing.T) {
	t.Parallel()

	var authCalls atomic.Int32
	server := newTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts", r.URL.Path)
		assert.Equal(t, "item-1", r.URL.Query().Get("itemId"))
		_, _ = w.Write([]byte(`{"results": [
			{"id": "acc-1", "itemId": "item-1", "type": "BANK", "subtype": "CHECKING_ACCOUNT", "name": "Conta Corrente", "balance": 1523.77, "currencyCode": "BRL"},
			{"id": "acc-2", "itemId": "item-1", "type": "CREDIT", "name": "Cartão Visa", "balance": -810.4, "currencyCode": "BRL",
			 "creditData": {"creditLimit": 5000, "availableCreditLimit": 4189.6}}
		]}`))
	})
	defer server.Close()

	client := New("id", "secret", server.URL, time.Second)
	accounts, err := client.ListAccounts(context.Background(), "item-1")
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	require.Equal(t, models.AccountKindBank, accounts[0].Kind)
	require.Equal(t, models.AccountCategoryChecking, accounts[0].Category)
	require.True(t, accounts[0].Balance.Equal(decimal.RequireFromString("1523.77")))

	require.Equal(t, models.AccountKindCredit, accounts[1].Kind)
	require.Equal(t, models.AccountCategoryCreditCard, accounts[1].Category)
	require.NotNil(t, accounts[1].CreditLimit)
	require.True(t, accounts[1].CreditLimit.Equal(decimal.NewFromInt(5000)))
	require.NotNil(t, accounts[1].CreditAvailable)
}

func TestClient_PollStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pluggyStatus string
		want         models.ConnectionStatus
	}{
		{"UPDATED", models.ConnectionStatusUpdated},
		{"UPDATING", models.ConnectionStatusUpdating},
		{"MERGING", models.ConnectionStatusUpdating},
		{"LOGIN_ERROR", models.ConnectionStatusLoginError},
		{"OUTDATED", models.ConnectionStatusLoginError},
		{"WAITING_USER_INPUT", models.ConnectionStatusWaitingInput},
		{"CREATED", models.ConnectionStatusCreated},
		{"SOMETHING_NEW", models.ConnectionStatusUpdating},
	}

	for _, tt := range tests {
		t.Run(tt.pluggyStatus, func(t *testing.T) {
			t.Parallel()
			var authCalls atomic.Int32
			server := newTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/items/item-1", r.URL.Path)
				_, _ = w.Write([]byte(`{"id": "item-1", "status": "` + tt.pluggyStatus + `"}`))
			})
			defer server.Close()

			client := New("id", "secret", server.URL, time.Second)
			status, err := client.PollStatus(context.Background(), "item-1")
			require.NoError(t, err)
			require.Equal(t, tt.want, status)
		})
	}
}

func TestClient_ListConnections(t *testing.T) {
	t.Parallel()

	var authCalls atomic.Int32
	server := newTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items", r.URL.Path)
		_, _ = w.Write([]byte(`{"results": [
			{"id": "item-1", "status": "UPDATED", "clientUserId": "42", "connector": {"name": "Nubank"}},
			{"id": "item-2", "status": "LOGIN_ERROR", "clientUserId": "42", "connector": {"name": "Itau"}, "error": {"message": "credentials expired"}}
		]}`))
	})
	defer server.Close()

	client := New("id", "secret", server.URL, time.Second)
	conns, err := client.ListConnections(context.Background())
	require.NoError(t, err)
	require.Len(t, conns, 2)

	require.Equal(t, "item-1", conns[0].ExternalID)
	require.Equal(t, "Nubank", conns[0].InstitutionName)
	require.Equal(t, int64(42), conns[0].UserID)
	require.Equal(t, models.ConnectionStatusUpdated, conns[0].Status)

	require.Equal(t, models.ConnectionStatusLoginError, conns[1].Status)
	require.Equal(t, "credentials expired", conns[1].LastError)
}

func TestClient_FetchTransactionsLink(t *testing.T) {
	t.Parallel()

	t.Run("follows a link on the provider base URL", func(t *testing.T) {
		t.Parallel()
		var authCalls atomic.Int32
		server := newTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/transactions", r.URL.Path)
			assert.Equal(t, "tx-9", r.URL.Query().Get("createdAfter"))
			_, _ = w.Write([]byte(`{"results": [
				{"id": "tx-10", "description": "Uber Trip", "amount": 23.5, "date": "2026-08-11", "type": "DEBIT"}
			]}`))
		})
		defer server.Close()

		client := New("id", "secret", server.URL, time.Second)
		txs, err := client.FetchTransactionsLink(context.Background(), server.URL+"/transactions?createdAfter=tx-9")
		require.NoError(t, err)
		require.Len(t, txs, 1)
		require.Equal(t, "tx-10", txs[0].ExternalID)
	})

	t.Run("rejects links pointing elsewhere", func(t *testing.T) {
		t.Parallel()
		client := New("id", "secret", "https://api.pluggy.ai", time.Second)
		_, err := client.FetchTransactionsLink(context.Background(), "https://evil.example.com/transactions")
		require.Error(t, err)
	})
}

func TestAPIKeyCache(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	cache := newAPIKeyCache(time.Hour)
	cache.now = func() time.Time { return now }

	_, ok := cache.get()
	require.False(t, ok)

	cache.set("key-1")
	key, ok := cache.get()
	require.True(t, ok)
	require.Equal(t, "key-1", key)

	// Just before expiry the key is still valid; at expiry it is not.
	now = now.Add(time.Hour - time.Second)
	_, ok = cache.get()
	require.True(t, ok)

	now = now.Add(time.Second)
	_, ok = cache.get()
	require.False(t, ok)

	cache.set("key-2")
	cache.invalidate()
	_, ok = cache.get()
	require.False(t, ok)
}
