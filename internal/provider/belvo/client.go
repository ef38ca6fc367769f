// Package belvo implements the provider adapter for the Belvo open finance
// API. Authentication is HTTP Basic with a secret id/password pair;
// transaction direction comes as INFLOW/OUTFLOW value types.
package belvo

import (
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

const defaultBaseURL = "https://api.belvo.com"

// Client is the Belvo API client implementing provider.Adapter.
type Client struct {
	baseURL        string
	secretID       string
	secretPassword string
	httpClient     *http.Client
}

// New creates a Belvo adapter.
func New(secretID, secretPassword, baseURL string, timeout time.Duration) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:        trimmed,
		secretID:       secretID,
		secretPassword: secretPassword,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

// Name returns the provider tag.
func (c *Client) Name() models.Provider {
	return models.ProviderBelvo
}

// do performs a Basic-Auth request and decodes the JSON response into out
// (unless out is nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.secretID, c.secretPassword)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("belvo request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("belvo %s %s: %w", method, path, provider.StatusError(resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("failed to decode belvo response: %w", err)
	}
	return nil
}

type belvoLink struct {
	ID          string `json:"id"`
	Institution string `json:"institution"`
	Status      string `json:"status"`
	ExternalID  string `json:"external_id"`
	LastError   string `json:"last_error"`
}

type belvoAccount struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Currency string `json:"currency"`
	Balance  struct {
		Current   json.Number `json:"current"`
		Available json.Number `json:"available"`
	} `json:"balance"`
	CreditData *struct {
		CreditLimit     json.Number `json:"credit_limit"`
		AvailableCredit json.Number `json:"available_credit"`
	} `json:"credit_data"`
}

type belvoTransaction struct {
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	ValueDate   string      `json:"value_date"`
	Category    string      `json:"category"`
	Type        string      `json:"type"`
	PaymentType string      `json:"payment_type"`
	Merchant    *struct {
		Name string `json:"name"`
	} `json:"merchant"`
}

type listPage[T any] struct {
	Results []T `json:"results"`
}

// ListConnections lists all links under the credentials.
func (c *Client) ListConnections(ctx context.Context) ([]models.Connection, error) {
	var page listPage[belvoLink]
	if err := c.do(ctx, http.MethodGet, "/api/links/", nil, &page); err != nil {
		return nil, err
	}

	conns := make([]models.Connection, 0, len(page.Results))
	for _, link := range page.Results {
		conns = append(conns, normalizeLink(link))
	}
	return conns, nil
}

// ListAccounts lists accounts under one link.
func (c *Client) ListAccounts(ctx context.Context, connectionExternalID string) ([]models.Account, error) {
	query := url.Values{"link": {connectionExternalID}}
	var page listPage[belvoAccount]
	if err := c.do(ctx, http.MethodGet, "/api/accounts/", query, &page); err != nil {
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
	query := url.Values{"account": {accountExternalID}}
	if !filter.From.IsZero() {
		query.Set("value_date__gte", filter.From.Format("2006-01-02"))
	}
	if !filter.To.IsZero() {
		query.Set("value_date__lte", filter.To.Format("2006-01-02"))
	}
	if filter.Limit > 0 {
		query.Set("page_size", strconv.Itoa(filter.Limit))
	}

	var page listPage[belvoTransaction]
	if err := c.do(ctx, http.MethodGet, "/api/transactions/", query, &page); err != nil {
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
	var acc belvoAccount
	if err := c.do(ctx, http.MethodGet, "/api/accounts/"+accountExternalID+"/", nil, &acc); err != nil {
		return nil, err
	}
	normalized, err := normalizeAccount(acc)
	if err != nil {
		return nil, err
	}
	return &normalized, nil
}

// TriggerRefresh asks Belvo to re-fetch institution data for the link.
func (c *Client) TriggerRefresh(ctx context.Context, connectionExternalID string) error {
	return c.do(ctx, http.MethodPatch, "/api/links/"+connectionExternalID+"/", nil, nil)
}

// PollStatus fetches the current link status.
func (c *Client) PollStatus(ctx context.Context, connectionExternalID string) (models.ConnectionStatus, error) {
	var link belvoLink
	if err := c.do(ctx, http.MethodGet, "/api/links/"+connectionExternalID+"/", nil, &link); err != nil {
		return "", err
	}
	return normalizeStatus(link.Status), nil
}

// Disconnect deletes the link at Belvo.
func (c *Client) Disconnect(ctx context.Context, connectionExternalID string) error {
	return c.do(ctx, http.MethodDelete, "/api/links/"+connectionExternalID+"/", nil, nil)
}

func normalizeLink(link belvoLink) models.Connection {
	conn := models.Connection{
		ExternalID:      link.ID,
		Provider:        models.ProviderBelvo,
		InstitutionName: link.Institution,
		Status:          normalizeStatus(link.Status),
		LastError:       link.LastError,
	}
	if userID, err := strconv.ParseInt(link.ExternalID, 10, 64); err == nil {
		conn.UserID = userID
	}
	return conn
}

func normalizeStatus(status string) models.ConnectionStatus {
	switch strings.ToLower(status) {
	case "unconfirmed":
		return models.ConnectionStatusCreated
	case "valid":
		return models.ConnectionStatusUpdated
	case "invalid":
		return models.ConnectionStatusLoginError
	case "token_required":
		return models.ConnectionStatusWaitingInput
	default:
		return models.ConnectionStatusUpdating
	}
}

func normalizeAccount(acc belvoAccount) (models.Account, error) {
	balance, err := decimal.NewFromString(acc.Balance.Current.String())
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to parse balance for account %s: %w", acc.ID, err)
	}

	normalized := models.Account{
		ExternalID: acc.ID,
		Provider:   models.ProviderBelvo,
		Name:       acc.Name,
		Balance:    balance,
		Currency:   acc.Currency,
	}

	switch strings.ToUpper(acc.Category) {
	case "CREDIT_CARD":
		normalized.Kind = models.AccountKindCredit
		normalized.Category = models.AccountCategoryCreditCard
	case "SAVINGS_ACCOUNT":
		normalized.Kind = models.AccountKindBank
		normalized.Category = models.AccountCategorySavings
	default:
		normalized.Kind = models.AccountKindBank
		normalized.Category = models.AccountCategoryChecking
	}

	if acc.CreditData != nil {
		if limit, err := decimal.NewFromString(acc.CreditData.CreditLimit.String()); err == nil {
			normalized.CreditLimit = &limit
		}
		if avail, err := decimal.NewFromString(acc.CreditData.AvailableCredit.String()); err == nil {
			normalized.CreditAvailable = &avail
		}
	}

	return normalized, nil
}

// normalizeTransaction maps Belvo's INFLOW/OUTFLOW typing to the internal
// signed-amount convention: debits (outflows) are negative.
func normalizeTransaction(tx belvoTransaction) (models.RawTransaction, error) {
	amount, err := decimal.NewFromString(tx.Amount.String())
	if err != nil {
		return models.RawTransaction{}, fmt.Errorf("failed to parse amount for transaction %s: %w", tx.ID, err)
	}

	date, err := time.Parse("2006-01-02", tx.ValueDate)
	if err != nil {
		return models.RawTransaction{}, fmt.Errorf("failed to parse value date for transaction %s: %w", tx.ID, err)
	}

	direction := models.DirectionCredit
	if strings.EqualFold(tx.Type, "OUTFLOW") {
		direction = models.DirectionDebit
	}
	signed := amount.Abs()
	if direction == models.DirectionDebit {
		signed = signed.Neg()
	}

	normalized := models.RawTransaction{
		ExternalID:       tx.ID,
		Provider:         models.ProviderBelvo,
		Description:      tx.Description,
		Amount:           signed,
		Date:             date,
		ProviderCategory: tx.Category,
		Direction:        direction,
		PaymentMethod:    strings.ToLower(tx.PaymentType),
	}
	if tx.Merchant != nil {
		normalized.CounterpartyName = tx.Merchant.Name
	}

	return normalized, nil
}
