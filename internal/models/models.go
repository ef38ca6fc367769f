// Package models defines the domain entities for the open finance sync service.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies which open finance aggregator a record came from.
type Provider string

// Supported providers.
const (
	ProviderPluggy Provider = "pluggy"
	ProviderBelvo  Provider = "belvo"
)

// ConnectionStatus is the lifecycle state of an institution link.
type ConnectionStatus string

// Connection statuses, following the provider consent lifecycle.
const (
	ConnectionStatusCreated      ConnectionStatus = "created"
	ConnectionStatusUpdating     ConnectionStatus = "updating"
	ConnectionStatusUpdated      ConnectionStatus = "updated"
	ConnectionStatusWaitingInput ConnectionStatus = "waiting_input"
	ConnectionStatusLoginError   ConnectionStatus = "login_error"
	ConnectionStatusDeleted      ConnectionStatus = "deleted"
)

// IsTerminal reports whether a status ends a refresh cycle. Polling stops on
// terminal statuses.
func (s ConnectionStatus) IsTerminal() bool {
	switch s {
	case ConnectionStatusUpdated, ConnectionStatusLoginError, ConnectionStatusDeleted:
		return true
	}
	return false
}

// Connection is a consented link to one institution under one provider.
type Connection struct {
	ID              int
	ExternalID      string
	Provider        Provider
	InstitutionName string
	UserID          int64
	Status          ConnectionStatus
	LastSyncAt      *time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Account kinds.
const (
	AccountKindBank   = "bank"
	AccountKindCredit = "credit"
)

// Account categories.
const (
	AccountCategoryChecking   = "checking"
	AccountCategorySavings    = "savings"
	AccountCategoryCreditCard = "credit_card"
)

// Account is one financial account under a Connection.
type Account struct {
	ID              int
	ExternalID      string
	ConnectionID    int
	Provider        Provider
	Name            string
	Kind            string
	Category        string
	Balance         decimal.Decimal
	Currency        string
	CreditLimit     *decimal.Decimal
	CreditAvailable *decimal.Decimal
	LastSyncAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Transaction directions.
const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// RawTransaction is an as-ingested provider transaction. Immutable once
// stored except for the synced flag and expense link; the (provider,
// external id) pair is the idempotency key under webhook re-delivery.
type RawTransaction struct {
	ID               int
	ExternalID       string
	Provider         Provider
	AccountID        int
	Description      string
	Amount           decimal.Decimal
	Date             time.Time
	ProviderCategory string
	Direction        string
	PaymentMethod    string
	CounterpartyName string
	Synced           bool
	ExpenseID        *int
	CreatedAt        time.Time
}

// Expense sources.
const (
	ExpenseSourceManual      = "manual"
	ExpenseSourceOpenFinance = "open_finance"
)

// Expense is a user-facing spending record, entered manually or materialized
// from a RawTransaction.
type Expense struct {
	ID                int
	UserID            int64
	EstablishmentName string
	Amount            decimal.Decimal
	Date              time.Time
	Category          string
	Subcategory       string
	IsFixedCost       bool
	Source            string
	TransactionID     *int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AliasReadThreshold is the minimum confidence at which a stored alias is
// trusted ahead of the rule and LLM tiers.
const AliasReadThreshold = 0.8

// MerchantAlias is learned categorization memory, scoped per user and keyed
// by the normalized merchant name.
type MerchantAlias struct {
	ID          int
	UserID      int64
	MerchantKey string
	Category    string
	Subcategory string
	Confidence  float64
	LastUsedAt  time.Time
	CreatedAt   time.Time
}

// Confidence tiers for categorization results.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// CategorizationResult is the transient outcome of classifying one
// transaction. It is folded into Expense/RawTransaction fields, never stored
// on its own.
type CategorizationResult struct {
	Category    string
	Subcategory string
	IsFixedCost bool
	Confidence  string
	Reasoning   string
}
