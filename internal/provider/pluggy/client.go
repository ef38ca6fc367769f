// Package pluggy implements the provider adapter for the Pluggy open
// finance API. Authentication exchanges a client id/secret pair for a
// short-lived API key sent as the X-API-KEY header.
package pluggy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/finsync/internal/models"
	"gitlab.com/yelinaung/finsync/internal/provider"
)

const defaultBaseURL = "https://api.pluggy.ai"

// Pluggy API keys are valid for two hours; refresh a little early.
const apiKeyTTL = 90 * time.Minute

// Client is the Pluggy API client implementing provider.Adapter.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	apiKey       *apiKeyCache
}

// New creates a Pluggy adapter.
func New(clientID, clientSecret, baseURL string, timeout time.Duration) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:      trimmed,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
		apiKey:       newAPIKeyCache(apiKeyTTL),
	}
}

// Name returns the provider tag.
func (c *Client) Name() models.Provider {
	return models.ProviderPluggy
}

type authResponse struct {
	APIKey string `json:"apiKey"`
}

// authenticate returns a cached API key or performs the auth exchange.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	if key, ok := c.apiKey.get(); ok {
		return key, nil
	}

	body, err := json.Marshal(map[string]string{
		"clientId":     c.clientID,
		"clientSecret": c.clientSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pluggy auth: %w", provider.StatusError(resp.StatusCode))
	}

	var payload authResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	if payload.APIKey == "" {
		return "", fmt.Errorf("pluggy auth: %w", provider.ErrAuthFailed)
	}

	c.apiKey.set(payload.APIKey)
	return payload.APIKey, nil
}

// do performs an authenticated request and decodes the JSON response into
// out (unless out is nil). A 401 invalidates the cached key so the next call
// re-authenticates.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	key, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-KEY", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pluggy request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		c.apiKey.invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("pluggy %s %s: %w", method, path, provider.StatusError(resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("failed to decode pluggy response: %w", err)
	}
	return nil
}

type pluggyItem struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientUserID string `json:"clientUserId"`
	Connector    struct {
		Name string `json:"name"`
	} `json:"connector"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type pluggyAccount struct {
	ID           string      `json:"id"`
	ItemID       string      `json:"itemId"`
	Type         string      `json:"type"`
	Subtype      string      `json:"subtype"`
	Name         string      `json:"name"`
	Balance      json.Number `json:"balance"`
	CurrencyCode string      `json:"currencyCode"`
	CreditData   *struct {
		CreditLimit          json.Number `json:"creditLimit"`
		AvailableCreditLimit json.Number `json:"availableCreditLimit"`
	} `json:"creditData"`
}

type pluggyTransaction struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"accountId"`
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	Date        string      `json:"date"`
	Category    string      `json:"category"`
	Type        string      `json:"type"`
	PaymentData *struct {
		PaymentMethod string `json:"paymentMethod"`
		Payer         *struct {
			Name string `json:"name"`
		} `json:"payer"`
		Receiver *struct {
			Name string `json:"name"`
		} `json:"receiver"`
	} `json:"paymentData"`
}

type resultsPage[T any] struct {
	Results []T `json:"results"`
}

// ListConnections lists all items visible to the client credentials.
func (c *Client) ListConnections(ctx context.Context) ([]models.Connection, error) {
	var page resultsPage[pluggyItem]
	if err := c.do(ctx, http.MethodGet, "/items", nil, &page); err != nil {
		return nil, err
	}

	conns := make([]models.Connection, 0, len(page.Results))
	for _, item := range page.Results {
		conns = append(conns, normalizeItem(item))
	}
	return conns, nil
}

// ListAccounts lists accounts under one item.
func (c *Client) ListAccounts(ctx context.Context, connectionExternalID string) ([]models.Account, error) {
	query := url.Values{"itemId": {connectionExternalID}}
	var page resultsPage[pluggyAccount]
	if err := c.do(ctx, http.MethodGet, "/accounts", query, &page); err != nil {
		return nil, err
	}

	accounts := make([]models.Account, 0, len(page.Results))
	for _, acc := range page.Results {
		normalized, err := normalizeAccount(acc)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, normalized)
	}
	return accounts, nil
}

// ListTransactions lists transactions for one account within the filter
// window.
func (c *Client) ListTransactions(ctx context.Context, accountExternalID string, filter provider.TransactionFilter) ([]models.RawTransaction, error) {
	query := url.Values{"accountId": {accountExternalID}}
	if !filter.From.IsZero() {
		query.Set("from", filter.From.Format("2006-01-02"))
	}
	if !filter.To.IsZero() {
		query.Set("to", filter.To.Format("2006-01-02"))
	}
	if filter.Limit > 0 {
		query.Set("pageSize", strconv.Itoa(filter.Limit))
	}

	var page resultsPage[pluggyTransaction]
	if err := c.do(ctx, http.MethodGet, "/transactions", query, &page); err != nil {
		return nil, err
	}

	txs := make([]models.RawTransaction, 0, len(page.Results))
	for _, tx := range page.Results {
		normalized, err := normalizeTransaction(tx)
		if err != nil {
			return nil, err
		}
		txs = append(txs, normalized)
	}
	return txs, nil
}

// GetAccount fetches a single account, used for balance refresh.
func (c *Client) GetAccount(ctx context.Context, accountExternalID string) (*models.Account, error) {
	var acc pluggyAccount
	if err := c.do(ctx, http.MethodGet, "/accounts/"+accountExternalID, nil, &acc); err != nil {
		return nil, err
	}
	normalized, err := normalizeAccount(acc)
	if err != nil {
		return nil, err
	}
	return &normalized, nil
}

// TriggerRefresh asks Pluggy to update the item. Completion is asynchronous.
func (c *Client) TriggerRefresh(ctx context.Context, connectionExternalID string) error {
	return c.do(ctx, http.MethodPatch, "/items/"+connectionExternalID, nil, nil)
}

// PollStatus fetches the current item status.
func (c *Client) PollStatus(ctx context.Context, connectionExternalID string) (models.ConnectionStatus, error) {
	var item pluggyItem
	if err := c.do(ctx, http.MethodGet, "/items/"+connectionExternalID, nil, &item); err != nil {
		return "", err
	}
	return normalizeStatus(item.Status), nil
}

// Disconnect deletes the item at Pluggy.
func (c *Client) Disconnect(ctx context.Context, connectionExternalID string) error {
	return c.do(ctx, http.MethodDelete, "/items/"+connectionExternalID, nil, nil)
}

func normalizeItem(item pluggyItem) models.Connection {
	conn := models.Connection{
		ExternalID:      item.ID,
		Provider:        models.ProviderPluggy,
		InstitutionName: item.Connector.Name,
		Status:          normalizeStatus(item.Status),
	}
	if userID, err := strconv.ParseInt(item.ClientUserID, 10, 64); err == nil {
		conn.UserID = userID
	}
	if item.Error != nil {
		conn.LastError = item.Error.Message
	}
	return conn
}

func normalizeStatus(status string) models.ConnectionStatus {
	switch strings.ToUpper(status) {
	case "CREATED":
		return models.ConnectionStatusCreated
	case "UPDATING", "MERGING":
		return models.ConnectionStatusUpdating
	case "UPDATED":
		return models.ConnectionStatusUpdated
	case "WAITING_USER_INPUT":
		return models.ConnectionStatusWaitingInput
	case "LOGIN_ERROR", "OUTDATED":
		return models.ConnectionStatusLoginError
	default:
		return models.ConnectionStatusUpdating
	}
}

func normalizeAccount(acc pluggyAccount) (models.Account, error) {
	balance, err := decimal.NewFromString(acc.Balance.String())
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to parse balance for account %s: %w", acc.ID, err)
	}

	normalized := models.Account{
		ExternalID: acc.ID,
		Provider:   models.ProviderPluggy,
		Name:       acc.Name,
		Balance:    balance,
		Currency:   acc.CurrencyCode,
	}

	switch strings.ToUpper(acc.Type) {
	case "CREDIT":
		normalized.Kind = models.AccountKindCredit
		normalized.Category = models.AccountCategoryCreditCard
	default:
		normalized.Kind = models.AccountKindBank
		if strings.EqualFold(acc.Subtype, "SAVINGS_ACCOUNT") {
			normalized.Category = models.AccountCategorySavings
		} else {
			normalized.Category = models.AccountCategoryChecking
		}
	}

	if acc.CreditData != nil {
		if limit, err := decimal.NewFromString(acc.CreditData.CreditLimit.String()); err == nil {
			normalized.CreditLimit = &limit
		}
		if avail, err := decimal.NewFromString(acc.CreditData.AvailableCreditLimit.String()); err == nil {
			normalized.CreditAvailable = &avail
		}
	}

	return normalized, nil
}

// normalizeTransaction maps Pluggy's DEBIT/CREDIT typing to the internal
// signed-amount convention: debits are negative.
func normalizeTransaction(tx pluggyTransaction) (models.RawTransaction, error) {
	amount, err := decimal.NewFromString(tx.Amount.String())
	if err != nil {
		return models.RawTransaction{}, fmt.Errorf("failed to parse amount for transaction %s: %w", tx.ID, err)
	}

	date, err := parseDate(tx.Date)
	if err != nil {
		return models.RawTransaction{}, fmt.Errorf("failed to parse date for transaction %s: %w", tx.ID, err)
	}

	direction := models.DirectionCredit
	if strings.EqualFold(tx.Type, "DEBIT") {
		direction = models.DirectionDebit
	}
	signed := amount.Abs()
	if direction == models.DirectionDebit {
		signed = signed.Neg()
	}

	normalized := models.RawTransaction{
		ExternalID:       tx.ID,
		Provider:         models.ProviderPluggy,
		Description:      tx.Description,
		Amount:           signed,
		Date:             date,
		ProviderCategory: tx.Category,
		Direction:        direction,
	}

	if tx.PaymentData != nil {
		normalized.PaymentMethod = strings.ToLower(tx.PaymentData.PaymentMethod)
		if direction == models.DirectionDebit && tx.PaymentData.Receiver != nil {
			normalized.CounterpartyName = tx.PaymentData.Receiver.Name
		} else if tx.PaymentData.Payer != nil {
			normalized.CounterpartyName = tx.PaymentData.Payer.Name
		}
	}

	return normalized, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
